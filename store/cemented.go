package store

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/ethereum-mive/coreshell/coretypes"
)

// CementedRange describes one sealed cycle file: the immutable, contiguous
// run of blocks [StartLevel, EndLevel] it holds.
type CementedRange struct {
	StartLevel int32
	EndLevel   int32
	File       string // basename, "<start>_<end>"
}

func (r CementedRange) contains(level int32) bool {
	return level >= r.StartLevel && level <= r.EndLevel
}

func (r CementedRange) count() int { return int(r.EndLevel-r.StartLevel) + 1 }

// CementedStore is the immutable, range-indexed archive of sealed cycles.
// It is single-writer: only the background merge thread
// (store.BlockStore.MergeStores) ever calls CementBlocks or the Trigger*GC
// methods; concurrent reads are always safe.
type CementedStore struct {
	dir string

	mu     sync.RWMutex // protects ranges; writers only ever append/replace the slice wholesale
	ranges []CementedRange

	hashIdx  *hashLevelIndex
	levelIdx *levelHashIndex

	lastInterval int32 // most recently observed cycle length, for the find_block_file pivot heuristic

	cemetedCycles  metrics.Gauge
	cementedBlocks metrics.Gauge
	log            log.Logger
}

// OpenCementedStore opens (creating if absent) the cemented archive rooted
// at dir, scanning existing cycle files to rebuild the in-memory range list.
func OpenCementedStore(dir string) (*CementedStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(dir, "metadata"), 0o755); err != nil {
		return nil, err
	}
	hashIdx, err := openHashLevelIndex(filepath.Join(dir, "hash_index"))
	if err != nil {
		return nil, err
	}
	levelIdx, err := openLevelHashIndex(filepath.Join(dir, "level_index"))
	if err != nil {
		hashIdx.Close()
		return nil, err
	}
	cs := &CementedStore{
		dir:            dir,
		hashIdx:        hashIdx,
		levelIdx:       levelIdx,
		cemetedCycles:  metrics.NewRegisteredGauge("store/cemented/cycles", nil),
		cementedBlocks: metrics.NewRegisteredGauge("store/cemented/blocks", nil),
		log:            log.New("module", "cemented-store"),
	}
	if err := cs.scanRanges(); err != nil {
		return nil, err
	}
	return cs, nil
}

func (cs *CementedStore) scanRanges() error {
	entries, err := os.ReadDir(cs.dir)
	if err != nil {
		return err
	}
	var ranges []CementedRange
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		start, end, ok := parseCycleName(e.Name())
		if !ok {
			continue
		}
		ranges = append(ranges, CementedRange{StartLevel: start, EndLevel: end, File: e.Name()})
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].StartLevel < ranges[j].StartLevel })
	cs.mu.Lock()
	cs.ranges = ranges
	if n := len(ranges); n > 0 {
		cs.lastInterval = ranges[n-1].count()
	}
	cs.mu.Unlock()
	cs.cemetedCycles.Update(int64(len(ranges)))
	return nil
}

func parseCycleName(name string) (start, end int32, ok bool) {
	parts := strings.SplitN(name, "_", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	s, err1 := strconv.ParseInt(parts[0], 10, 32)
	e, err2 := strconv.ParseInt(parts[1], 10, 32)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return int32(s), int32(e), true
}

func cycleName(start, end int32) string {
	return fmt.Sprintf("%d_%d", start, end)
}

// HighestCemented returns the highest cemented level, or (0, false) if the
// archive is empty.
func (cs *CementedStore) HighestCemented() (int32, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if len(cs.ranges) == 0 {
		return 0, false
	}
	return cs.ranges[len(cs.ranges)-1].EndLevel, true
}

// LowestCemented returns the lowest cemented level, or (0, false) if the
// archive is empty (this is the caboose once rolling GC has run).
func (cs *CementedStore) LowestCemented() (int32, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if len(cs.ranges) == 0 {
		return 0, false
	}
	return cs.ranges[0].StartLevel, true
}

// CementBlocks seals blocks (which must be contiguous and in ascending
// level order) into a new cycle file. When checkConsistency is true,
// blocks[0].Level must equal HighestCemented()+1.
func (cs *CementedStore) CementBlocks(blocks []*coretypes.BlockRepr, writeMetadata, checkConsistency bool) error {
	if len(blocks) == 0 {
		return &ErrCannotCement{Reason: CannotCementEmpty}
	}
	start := blocks[0].Header.Level
	end := blocks[len(blocks)-1].Header.Level
	if checkConsistency {
		if highest, ok := cs.HighestCemented(); ok && start != highest+1 {
			return &ErrCannotCement{Reason: CannotCementHigherCemented}
		}
	}
	name := cycleName(start, end)
	tmpPath := filepath.Join(cs.dir, name+".tmp")
	if _, err := os.Stat(tmpPath); err == nil {
		return &ErrCannotCement{Reason: CannotCementTmpExists}
	}

	if err := cs.writeCycleFile(tmpPath, blocks); err != nil {
		os.Remove(tmpPath)
		return err
	}
	finalPath := filepath.Join(cs.dir, name)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return err
	}

	if writeMetadata {
		if err := cs.writeMetadataArchive(name, blocks); err != nil {
			return err
		}
	}

	for _, b := range blocks {
		h := b.Descriptor().Hash
		level := b.Header.Level
		if err := cs.hashIdx.Put([32]byte(h), level); err != nil {
			return err
		}
		if err := cs.levelIdx.Put(level, [32]byte(h)); err != nil {
			return err
		}
	}

	cs.mu.Lock()
	cs.ranges = append(cs.ranges, CementedRange{StartLevel: start, EndLevel: end, File: name})
	cs.lastInterval = end - start + 1
	cs.mu.Unlock()
	cs.cemetedCycles.Inc(1)
	cs.cementedBlocks.Inc(int64(len(blocks)))
	cs.log.Info("Cemented cycle", "file", name, "blocks", len(blocks))
	return nil
}

// writeCycleFile encodes the `| N*4B offsets | N*(4B length|bytes) |` layout.
// Metadata is never part of the cycle file.
func (cs *CementedStore) writeCycleFile(path string, blocks []*coretypes.BlockRepr) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_CLOEXEC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	n := len(blocks)
	offsetTableSize := int64(n * 4)
	offsets := make([]uint32, n)
	encoded := make([][]byte, n)
	cursor := offsetTableSize
	for i, b := range blocks {
		raw, err := encodeBlockRepr(b)
		if err != nil {
			return err
		}
		encoded[i] = raw
		offsets[i] = uint32(cursor)
		cursor += 4 + int64(len(raw))
	}

	var hdr bytes.Buffer
	for _, off := range offsets {
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], off)
		hdr.Write(buf[:])
	}
	if _, err := f.Write(hdr.Bytes()); err != nil {
		return err
	}
	for _, raw := range encoded {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(raw)))
		if _, err := f.Write(lenBuf[:]); err != nil {
			return err
		}
		if _, err := f.Write(raw); err != nil {
			return err
		}
	}
	return f.Sync()
}

func (cs *CementedStore) writeMetadataArchive(name string, blocks []*coretypes.BlockRepr) error {
	path := filepath.Join(cs.dir, "metadata", name+".zip")
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(f)
	for _, b := range blocks {
		if b.Metadata == nil {
			continue
		}
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:   strconv.Itoa(int(b.Header.Level)),
			Method: zip.Deflate,
		})
		if err != nil {
			zw.Close()
			f.Close()
			os.Remove(tmp)
			return err
		}
		enc, err := json.Marshal(b.Metadata)
		if err != nil {
			zw.Close()
			f.Close()
			os.Remove(tmp)
			return err
		}
		if _, err := w.Write(enc); err != nil {
			zw.Close()
			f.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// FindBlockFile performs a dichotomic range search: it starts from a pivot
// that exploits regular cycle lengths and falls back to full binary search.
// The pivot guess is just a shortcut -- it degrades gracefully to the
// binary search below rather than misbehaving when cycle length changes
// mid-chain.
func (cs *CementedStore) FindBlockFile(level int32) (CementedRange, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	n := len(cs.ranges)
	if n == 0 {
		return CementedRange{}, false
	}
	if level < cs.ranges[0].StartLevel || level > cs.ranges[n-1].EndLevel {
		return CementedRange{}, false
	}

	if cs.lastInterval > 0 && level >= 2 {
		pivot := int(1 + (level-2)/cs.lastInterval)
		if pivot >= 0 && pivot < n && cs.ranges[pivot].contains(level) {
			return cs.ranges[pivot], true
		}
	}

	lo, hi := 0, n-1
	for lo <= hi {
		mid := (lo + hi) / 2
		r := cs.ranges[mid]
		switch {
		case level < r.StartLevel:
			hi = mid - 1
		case level > r.EndLevel:
			lo = mid + 1
		default:
			return r, true
		}
	}
	return CementedRange{}, false
}

// GetCementedBlockByLevel reads the block at level, optionally attaching its
// metadata from the per-cycle zip archive.
func (cs *CementedStore) GetCementedBlockByLevel(level int32, readMetadata bool) (*coretypes.BlockRepr, error) {
	r, ok := cs.FindBlockFile(level)
	if !ok {
		return nil, &ErrBlockNotFound{Distance: int(level)}
	}
	block, err := cs.readBlockFromCycle(r, level)
	if err != nil {
		return nil, err
	}
	if readMetadata {
		md, err := cs.readMetadataFromZip(r.File, level)
		if err != nil {
			return nil, err
		}
		block.Metadata = md
	}
	return block, nil
}

// GetCementedBlockByHash resolves hash -> level via the index, then reads by
// level.
func (cs *CementedStore) GetCementedBlockByHash(hash coretypes.BlockHash, readMetadata bool) (*coretypes.BlockRepr, error) {
	level, ok := cs.hashIdx.Get([32]byte(hash))
	if !ok {
		return nil, &ErrBlockNotFound{Hash: hash}
	}
	return cs.GetCementedBlockByLevel(level, readMetadata)
}

// HashAtLevel resolves a cemented level to its block hash via the
// level->hash index without touching the cycle file.
func (cs *CementedStore) HashAtLevel(level int32) (coretypes.BlockHash, bool) {
	h, ok := cs.levelIdx.Get(level)
	if !ok {
		return coretypes.BlockHash{}, false
	}
	return coretypes.BlockHash(h), true
}

// LevelOfHash resolves a cemented hash to its level via the hash->level
// index.
func (cs *CementedStore) LevelOfHash(hash coretypes.BlockHash) (int32, bool) {
	return cs.hashIdx.Get([32]byte(hash))
}

func (cs *CementedStore) readBlockFromCycle(r CementedRange, level int32) (*coretypes.BlockRepr, error) {
	f, err := os.Open(filepath.Join(cs.dir, r.File))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	slot := int64(level-r.StartLevel) * 4
	offBuf := make([]byte, 4)
	if _, err := f.ReadAt(offBuf, slot); err != nil {
		return nil, &ErrInconsistentCementedStore{Kind: BadOffset, Detail: err.Error()}
	}
	offset := int64(binary.BigEndian.Uint32(offBuf))

	lenBuf := make([]byte, 4)
	if _, err := f.ReadAt(lenBuf, offset); err != nil {
		return nil, &ErrInconsistentCementedStore{Kind: BadOffset, Detail: err.Error()}
	}
	length := binary.BigEndian.Uint32(lenBuf)

	raw := make([]byte, length)
	if _, err := f.ReadAt(raw, offset+4); err != nil {
		return nil, &ErrInconsistentCementedStore{Kind: BadOffset, Detail: err.Error()}
	}
	block, err := decodeBlockRepr(raw)
	if err != nil {
		return nil, err
	}
	if block.Header.Level != level {
		return nil, &ErrInconsistentCementedStore{Kind: UnexpectedLevel}
	}
	return block, nil
}

func (cs *CementedStore) readMetadataFromZip(cycleFile string, level int32) (*coretypes.BlockMetadata, error) {
	path := filepath.Join(cs.dir, "metadata", cycleFile+".zip")
	zr, err := zip.OpenReader(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ErrBlockMetadataNotFound{}
		}
		return nil, err
	}
	defer zr.Close()
	name := strconv.Itoa(int(level))
	for _, zf := range zr.File {
		if zf.Name != name {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, err
		}
		var md coretypes.BlockMetadata
		if err := json.Unmarshal(data, &md); err != nil {
			return nil, err
		}
		return &md, nil
	}
	return nil, &ErrBlockMetadataNotFound{}
}

// TriggerArchiveGC is a no-op: Archive mode never prunes.
func (cs *CementedStore) TriggerArchiveGC() error { return nil }

// TriggerFullGC deletes metadata zips for every cycle but the most recent
// keepCycles, keeping block data intact.
func (cs *CementedStore) TriggerFullGC(keepCycles int) error {
	cs.mu.RLock()
	ranges := append([]CementedRange(nil), cs.ranges...)
	cs.mu.RUnlock()
	if len(ranges) <= keepCycles {
		return nil
	}
	for _, r := range ranges[:len(ranges)-keepCycles] {
		path := filepath.Join(cs.dir, "metadata", r.File+".zip")
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		cs.log.Info("Pruned cemented metadata", "file", r.File)
	}
	return nil
}

// TriggerRollingGC performs TriggerFullGC's metadata prune and additionally
// unlinks block data for cycles fully below lastLevelToPurge, filtering the
// hash/level indexes to drop their entries too.
func (cs *CementedStore) TriggerRollingGC(keepCycles int, lastLevelToPurge int32) error {
	if err := cs.TriggerFullGC(keepCycles); err != nil {
		return err
	}
	cs.mu.Lock()
	var kept []CementedRange
	var purged []CementedRange
	for _, r := range cs.ranges {
		if r.EndLevel <= lastLevelToPurge {
			purged = append(purged, r)
		} else {
			kept = append(kept, r)
		}
	}
	cs.ranges = kept
	cs.mu.Unlock()

	for _, r := range purged {
		if err := os.Remove(filepath.Join(cs.dir, r.File)); err != nil && !os.IsNotExist(err) {
			return err
		}
		cs.log.Info("Purged cemented cycle", "file", r.File)
	}
	if err := cs.hashIdx.DeleteBelowOrEqual(lastLevelToPurge); err != nil {
		return err
	}
	if len(purged) > 0 {
		if err := cs.levelIdx.DeleteRange(purged[0].StartLevel, lastLevelToPurge); err != nil {
			return err
		}
	}
	cs.cemetedCycles.Update(int64(len(cs.ranges)))
	return nil
}

// CheckIndexesConsistency verifies that ranges are sorted and contiguous,
// and that for every range the offset table and both indexes agree.
func (cs *CementedStore) CheckIndexesConsistency() error {
	cs.mu.RLock()
	ranges := append([]CementedRange(nil), cs.ranges...)
	cs.mu.RUnlock()

	for i := 1; i < len(ranges); i++ {
		if ranges[i].StartLevel != ranges[i-1].EndLevel+1 {
			return &ErrInconsistentCementedStore{
				Kind:   MissingCycle,
				Detail: fmt.Sprintf("gap between %s and %s", ranges[i-1].File, ranges[i].File),
			}
		}
	}
	for _, r := range ranges {
		for level := r.StartLevel; level <= r.EndLevel; level++ {
			block, err := cs.readBlockFromCycle(r, level)
			if err != nil {
				return err
			}
			h := block.Descriptor().Hash
			if gotLevel, ok := cs.hashIdx.Get([32]byte(h)); !ok || gotLevel != level {
				return &ErrInconsistentCementedStore{Kind: CorruptedIndex, Detail: "hash->level mismatch at " + h.String()}
			}
			if gotHash, ok := cs.levelIdx.Get(level); !ok || coretypes.BlockHash(gotHash) != h {
				return &ErrInconsistentCementedStore{Kind: CorruptedIndex, Detail: fmt.Sprintf("level->hash mismatch at %d", level)}
			}
		}
	}
	return nil
}

// Close releases the underlying index handles.
func (cs *CementedStore) Close() error {
	err1 := cs.hashIdx.Close()
	err2 := cs.levelIdx.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
