package store

import (
	"encoding/binary"
	"errors"

	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/log"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// defaultIndexCacheEntries bounds the read-through LRU sitting in front of
// the on-disk index: goleveldb is itself a log-structured store (an LSM
// tree), so the durable side is already append-friendly; this cache just
// keeps the hot entries off the disk path.
const defaultIndexCacheEntries = 10_000

// hashLevelIndex is a durable hash->level key-value index, read-cached by a
// bounded LRU. Concurrent reads are safe; writes are serialised by the
// caller (only the merge thread ever writes).
type hashLevelIndex struct {
	db    *leveldb.DB
	cache *lru.Cache[[32]byte, int32]
	log   log.Logger
}

func openHashLevelIndex(dir string) (*hashLevelIndex, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, err
	}
	return &hashLevelIndex{
		db:    db,
		cache: lru.NewCache[[32]byte, int32](defaultIndexCacheEntries),
		log:   log.New("module", "cemented-index", "kind", "hash->level"),
	}, nil
}

func (idx *hashLevelIndex) Put(hash [32]byte, level int32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(level))
	if err := idx.db.Put(hash[:], buf[:], nil); err != nil {
		return err
	}
	idx.cache.Add(hash, level)
	return nil
}

func (idx *hashLevelIndex) Get(hash [32]byte) (int32, bool) {
	if level, ok := idx.cache.Get(hash); ok {
		return level, true
	}
	v, err := idx.db.Get(hash[:], nil)
	if err != nil {
		return 0, false
	}
	level := int32(binary.BigEndian.Uint32(v))
	idx.cache.Add(hash, level)
	return level, true
}

func (idx *hashLevelIndex) Delete(hash [32]byte) error {
	idx.cache.Remove(hash)
	return idx.db.Delete(hash[:], nil)
}

// DeleteBelowOrEqual drops every entry whose level is <= level, used by
// rolling-mode GC.
func (idx *hashLevelIndex) DeleteBelowOrEqual(level int32) error {
	iter := idx.db.NewIterator(nil, nil)
	defer iter.Release()
	batch := new(leveldb.Batch)
	for iter.Next() {
		v := iter.Value()
		if len(v) != 4 {
			continue
		}
		if int32(binary.BigEndian.Uint32(v)) <= level {
			key := append([]byte(nil), iter.Key()...)
			batch.Delete(key)
			var h [32]byte
			copy(h[:], key)
			idx.cache.Remove(h)
		}
	}
	if err := iter.Error(); err != nil {
		return err
	}
	return idx.db.Write(batch, nil)
}

func (idx *hashLevelIndex) Len() int {
	n := 0
	iter := idx.db.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		n++
	}
	return n
}

func (idx *hashLevelIndex) Close() error { return idx.db.Close() }

// levelHashIndex is the inverse index, keyed by the 4-byte big-endian level.
type levelHashIndex struct {
	db    *leveldb.DB
	cache *lru.Cache[int32, [32]byte]
	log   log.Logger
}

func openLevelHashIndex(dir string) (*levelHashIndex, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, err
	}
	return &levelHashIndex{
		db:    db,
		cache: lru.NewCache[int32, [32]byte](defaultIndexCacheEntries),
		log:   log.New("module", "cemented-index", "kind", "level->hash"),
	}, nil
}

func levelKey(level int32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(level))
	return buf[:]
}

func (idx *levelHashIndex) Put(level int32, hash [32]byte) error {
	if err := idx.db.Put(levelKey(level), hash[:], nil); err != nil {
		return err
	}
	idx.cache.Add(level, hash)
	return nil
}

func (idx *levelHashIndex) Get(level int32) ([32]byte, bool) {
	if hash, ok := idx.cache.Get(level); ok {
		return hash, true
	}
	v, err := idx.db.Get(levelKey(level), nil)
	if err != nil {
		return [32]byte{}, false
	}
	var hash [32]byte
	copy(hash[:], v)
	idx.cache.Add(level, hash)
	return hash, true
}

func (idx *levelHashIndex) Delete(level int32) error {
	idx.cache.Remove(level)
	return idx.db.Delete(levelKey(level), nil)
}

func (idx *levelHashIndex) DeleteRange(fromLevel, toLevel int32) error {
	iter := idx.db.NewIterator(&util.Range{Start: levelKey(fromLevel), Limit: levelKey(toLevel + 1)}, nil)
	defer iter.Release()
	batch := new(leveldb.Batch)
	for iter.Next() {
		key := append([]byte(nil), iter.Key()...)
		batch.Delete(key)
		idx.cache.Remove(int32(binary.BigEndian.Uint32(key)))
	}
	if err := iter.Error(); err != nil {
		return err
	}
	return idx.db.Write(batch, nil)
}

func (idx *levelHashIndex) Close() error { return idx.db.Close() }

var errIndexClosed = errors.New("index closed")
