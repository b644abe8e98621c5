package storetest

// badgerstore.go adapts BadgerDB as a persistent codecache.Store, grounded
// on the teacher's examples/disk_eject/main.go, which already wires
// badger/v4 as a second-level store behind the cache. Here Badger is not a
// second level behind an L1 — it is the store itself: module bytes,
// relocation records, and defining-module records are all Badger keys under
// distinct prefixes.

import (
	"context"
	"encoding/binary"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/movevm/codecache/codecache"
	"github.com/movevm/codecache/internal/pool"
)

const (
	prefixBlob   = 'b'
	prefixReloc  = 'r'
	prefixDefine = 'd'
)

// BadgerStore is a codecache.Store backed by an embedded BadgerDB instance.
// Its link context token is minted once per store by NewBadgerStore with
// uuid.NewString,
// mirroring how a real data layer ties a LinkContext to a specific node's
// upgrade view rather than to the module content itself.
type BadgerStore struct {
	db      *badger.DB
	link    codecache.LinkContext
	keyPool *pool.Pool[[]byte]
}

// NewBadgerStore opens no database itself — callers own badger.Open/Close,
// matching the teacher's example, which defers bdb.Close() in main rather
// than handing ownership to the cache.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{
		db:      db,
		link:    codecache.NewLinkContext(uuid.NewString()),
		keyPool: pool.ByteSlicePool(64),
	}
}

// encodeModuleId appends id's encoded form to buf, reusing the caller's
// backing array instead of allocating one per key built (every Badger read
// below builds its key on a pooled scratch buffer).
func encodeModuleId(buf []byte, id codecache.ModuleId) []byte {
	name := id.Name.Bytes()
	buf = append(buf, id.Address[:]...)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(name)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, name...)
	return buf
}

func decodeModuleId(b []byte) (codecache.ModuleId, error) {
	if len(b) < 36 {
		return codecache.ModuleId{}, fmt.Errorf("storetest: truncated module id (%d bytes)", len(b))
	}
	var id codecache.ModuleId
	copy(id.Address[:], b[:32])
	n := binary.BigEndian.Uint32(b[32:36])
	if uint32(len(b[36:])) != n {
		return codecache.ModuleId{}, fmt.Errorf("storetest: module id name length mismatch")
	}
	id.Name = codecache.NameFromBytes(b[36:])
	return id, nil
}

// blobKey/relocKey/defineKey append to dst rather than allocate outright, so
// the three read paths below can hand them a pooled scratch buffer; the
// write paths pass nil and get a fresh allocation, since a Set's key/value
// must outlive the whole transaction callback and cannot be recycled mid-way.
func blobKey(dst []byte, storageID codecache.ModuleId) []byte {
	dst = append(dst, prefixBlob)
	return encodeModuleId(dst, storageID)
}

func relocKey(dst []byte, runtimeID codecache.ModuleId) []byte {
	dst = append(dst, prefixReloc)
	return encodeModuleId(dst, runtimeID)
}

func defineKey(dst []byte, runtimeID codecache.ModuleId, structName codecache.Name) []byte {
	dst = append(dst, prefixDefine)
	dst = encodeModuleId(dst, runtimeID)
	return append(dst, structName.Bytes()...)
}

// AddModule persists blob under storageID and records the runtimeID ->
// storageID relocation, in a single Badger transaction.
func (s *BadgerStore) AddModule(storageID, runtimeID codecache.ModuleId, blob []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(blobKey(nil, storageID), blob); err != nil {
			return err
		}
		return txn.Set(relocKey(nil, runtimeID), encodeModuleId(nil, storageID))
	})
}

// SetDefiningModule persists the defining-module record consulted by
// DefiningModule.
func (s *BadgerStore) SetDefiningModule(runtimeID codecache.ModuleId, structName codecache.Name, definingID codecache.ModuleId) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(defineKey(nil, runtimeID, structName), encodeModuleId(nil, definingID))
	})
}

func (s *BadgerStore) LoadModule(_ context.Context, storageID codecache.ModuleId) ([]byte, error) {
	var blob []byte
	err := s.db.View(func(txn *badger.Txn) error {
		key := blobKey(pool.GetReset(s.keyPool), storageID)
		defer s.keyPool.Put(key[:0])
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			blob = append([]byte(nil), v...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("storetest: load module %s: %w", storageID, err)
	}
	return blob, nil
}

func (s *BadgerStore) Relocate(_ context.Context, runtimeID codecache.ModuleId) (codecache.ModuleId, error) {
	var storageID codecache.ModuleId
	err := s.db.View(func(txn *badger.Txn) error {
		key := relocKey(pool.GetReset(s.keyPool), runtimeID)
		defer s.keyPool.Put(key[:0])
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			decoded, err := decodeModuleId(v)
			if err != nil {
				return err
			}
			storageID = decoded
			return nil
		})
	})
	if err != nil {
		return codecache.ModuleId{}, fmt.Errorf("storetest: relocate %s: %w", runtimeID, err)
	}
	return storageID, nil
}

func (s *BadgerStore) DefiningModule(_ context.Context, runtimeID codecache.ModuleId, structName codecache.Name) (codecache.ModuleId, error) {
	var definingID codecache.ModuleId
	err := s.db.View(func(txn *badger.Txn) error {
		key := defineKey(pool.GetReset(s.keyPool), runtimeID, structName)
		defer s.keyPool.Put(key[:0])
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			decoded, err := decodeModuleId(v)
			if err != nil {
				return err
			}
			definingID = decoded
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return runtimeID, nil
	}
	if err != nil {
		return codecache.ModuleId{}, fmt.Errorf("storetest: defining module for %s::%s: %w", runtimeID, structName, err)
	}
	return definingID, nil
}

func (s *BadgerStore) LinkContext(_ context.Context) (codecache.LinkContext, error) {
	return s.link, nil
}
