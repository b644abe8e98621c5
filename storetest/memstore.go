// Package storetest provides Store implementations for code outside the
// codecache package (the bench benchmarks use MemStore): an in-memory store
// and a BadgerDB-backed store for anything that wants module bytes to survive a
// restart. Neither is part of the public codecache API.
package storetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/movevm/codecache/codecache"
)

// MemStore is a fully in-memory codecache.Store. Module bytes, the
// runtime-id to storage-id relocation table, and per-struct defining-module
// records are all populated by the test setting it up — it performs no
// inference of its own, by design: production upgrade semantics belong to
// the real data layer, not to a test double.
type MemStore struct {
	mu sync.RWMutex

	blobs     map[codecache.ModuleId][]byte
	relocate  map[codecache.ModuleId]codecache.ModuleId
	defining  map[definingKey]codecache.ModuleId
	link      codecache.LinkContext
}

type definingKey struct {
	runtimeID  codecache.ModuleId
	structName codecache.Name
}

// NewMemStore returns an empty store pinned to the given link context token.
// Most tests only need a single link context; pass a fixed token such as
// "test" unless upgrade-path behavior is under test.
func NewMemStore(linkToken string) *MemStore {
	return &MemStore{
		blobs:    make(map[codecache.ModuleId][]byte),
		relocate: make(map[codecache.ModuleId]codecache.ModuleId),
		defining: make(map[definingKey]codecache.ModuleId),
		link:     codecache.NewLinkContext(linkToken),
	}
}

// AddModule registers blob as the storage-level bytes for storageID, and
// makes runtimeID relocate to storageID under this store's link context.
// When runtimeID and storageID are the same (the common, non-upgraded case)
// callers may pass the same value twice.
func (s *MemStore) AddModule(storageID, runtimeID codecache.ModuleId, blob []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[storageID] = blob
	s.relocate[runtimeID] = storageID
}

// SetDefiningModule records that the struct named structName, as seen from
// runtimeID, is defined in definingID. Structs not registered here default
// to being defined in their own declaring module (runtimeID itself).
func (s *MemStore) SetDefiningModule(runtimeID codecache.ModuleId, structName codecache.Name, definingID codecache.ModuleId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defining[definingKey{runtimeID, structName}] = definingID
}

func (s *MemStore) LoadModule(_ context.Context, storageID codecache.ModuleId) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.blobs[storageID]
	if !ok {
		return nil, fmt.Errorf("storetest: no module bytes registered for %s", storageID)
	}
	return blob, nil
}

func (s *MemStore) Relocate(_ context.Context, runtimeID codecache.ModuleId) (codecache.ModuleId, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	storageID, ok := s.relocate[runtimeID]
	if !ok {
		return codecache.ModuleId{}, fmt.Errorf("storetest: no relocation registered for %s", runtimeID)
	}
	return storageID, nil
}

func (s *MemStore) DefiningModule(_ context.Context, runtimeID codecache.ModuleId, structName codecache.Name) (codecache.ModuleId, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if definingID, ok := s.defining[definingKey{runtimeID, structName}]; ok {
		return definingID, nil
	}
	return runtimeID, nil
}

func (s *MemStore) LinkContext(_ context.Context) (codecache.LinkContext, error) {
	return s.link, nil
}
