package store

import (
	"bufio"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/ethereum-mive/coreshell/coretypes"
)

// floatingRecord is what actually gets length-prefixed and appended: the
// block plus the variable-length predecessor chain used for fast locator
// walks.
type floatingRecord struct {
	Block        cycleBlock
	Predecessors []coretypes.BlockHash
}

type floatingEntry struct {
	offset       int64
	predecessors []coretypes.BlockHash
	block        *coretypes.BlockRepr
}

// FloatingStore is the append-only log of recently added, not-yet-cemented
// blocks. A BlockStore keeps two live instances, RO and RW, plus transient
// RO_TMP/RW_TMP used during merge swaps.
type FloatingStore struct {
	path string

	mu    sync.RWMutex
	index map[coretypes.BlockHash]*floatingEntry
	order []coretypes.BlockHash // insertion order, for iter_with_pred_s

	f   *os.File
	log log.Logger
}

// OpenFloatingStore opens (creating if absent) the append-only data file at
// path and rebuilds the in-memory hash index by scanning it sequentially.
func OpenFloatingStore(path string) (*FloatingStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_CLOEXEC, 0o644)
	if err != nil {
		return nil, err
	}
	fs := &FloatingStore{
		path:  path,
		index: make(map[coretypes.BlockHash]*floatingEntry),
		f:     f,
		log:   log.New("module", "floating-store", "path", filepath.Base(path)),
	}
	if err := fs.rebuildIndex(); err != nil {
		f.Close()
		return nil, err
	}
	return fs, nil
}

func (fs *FloatingStore) rebuildIndex() error {
	if _, err := fs.f.Seek(0, 0); err != nil {
		return err
	}
	r := bufio.NewReader(fs.f)
	var offset int64
	for {
		var lenBuf [4]byte
		n, err := readFull(r, lenBuf[:])
		if n == 0 && err != nil {
			break // clean EOF
		}
		if err != nil {
			return &ErrCorruptedStore{Reason: "truncated record length in floating store"}
		}
		length := binary.BigEndian.Uint32(lenBuf[:])
		raw := make([]byte, length)
		if _, err := readFull(r, raw); err != nil {
			return &ErrCorruptedStore{Reason: "truncated record body in floating store"}
		}
		var rec floatingRecord
		if err := rlp.DecodeBytes(raw, &rec); err != nil {
			return err
		}
		block, err := blockFromCycleBlock(&rec.Block)
		if err != nil {
			return err
		}
		h := block.Descriptor().Hash
		fs.index[h] = &floatingEntry{offset: offset, predecessors: rec.Predecessors, block: block}
		fs.order = append(fs.order, h)
		offset += 4 + int64(length)
	}
	return nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func blockFromCycleBlock(cb *cycleBlock) (*coretypes.BlockRepr, error) {
	enc, err := rlp.EncodeToBytes(cb)
	if err != nil {
		return nil, err
	}
	return decodeBlockRepr(enc)
}

// AppendBlock appends b with its predecessor chain (used for reverse
// traversal without consulting the cemented store) to the log.
func (fs *FloatingStore) AppendBlock(b *coretypes.BlockRepr, predecessors []coretypes.BlockHash) error {
	cb, err := toCycleBlock(b)
	if err != nil {
		return err
	}
	raw, err := rlp.EncodeToBytes(&floatingRecord{Block: *cb, Predecessors: predecessors})
	if err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	offset, err := fs.f.Seek(0, os.SEEK_END)
	if err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(raw)))
	if _, err := fs.f.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := fs.f.Write(raw); err != nil {
		return err
	}
	if err := fs.f.Sync(); err != nil {
		return err
	}

	h := b.Descriptor().Hash
	fs.index[h] = &floatingEntry{offset: offset, predecessors: predecessors, block: b}
	fs.order = append(fs.order, h)
	return nil
}

func toCycleBlock(b *coretypes.BlockRepr) (*cycleBlock, error) {
	raw, err := encodeBlockRepr(b)
	if err != nil {
		return nil, err
	}
	var cb cycleBlock
	if err := rlp.DecodeBytes(raw, &cb); err != nil {
		return nil, err
	}
	return &cb, nil
}

// ReadBlockOpt returns the block for hash, or nil if this instance doesn't
// hold it.
func (fs *FloatingStore) ReadBlockOpt(hash coretypes.BlockHash) *coretypes.BlockRepr {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	e, ok := fs.index[hash]
	if !ok {
		return nil
	}
	return e.block
}

// Predecessors returns the stored predecessor chain for hash, or nil.
func (fs *FloatingStore) Predecessors(hash coretypes.BlockHash) []coretypes.BlockHash {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	e, ok := fs.index[hash]
	if !ok {
		return nil
	}
	return e.predecessors
}

// Mem reports whether hash is held by this instance.
func (fs *FloatingStore) Mem(hash coretypes.BlockHash) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	_, ok := fs.index[hash]
	return ok
}

// Len reports how many blocks this instance currently holds.
func (fs *FloatingStore) Len() int {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return len(fs.order)
}

// IterWithPredS walks every held block in insertion order, calling f with
// the block and its stored predecessor chain. Iteration stops early if f
// returns false.
func (fs *FloatingStore) IterWithPredS(f func(*coretypes.BlockRepr, []coretypes.BlockHash) bool) {
	fs.mu.RLock()
	order := append([]coretypes.BlockHash(nil), fs.order...)
	fs.mu.RUnlock()
	for _, h := range order {
		fs.mu.RLock()
		e, ok := fs.index[h]
		fs.mu.RUnlock()
		if !ok {
			continue
		}
		if !f(e.block, e.predecessors) {
			return
		}
	}
}

// Close closes the underlying data file.
func (fs *FloatingStore) Close() error { return fs.f.Close() }

// Path reports the backing file path (used when rotating RO/RW instances
// during a merge).
func (fs *FloatingStore) Path() string { return fs.path }
