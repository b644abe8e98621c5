package codecache

// binarycache.go implements BinaryCache[K,V] — the keyed intern pool with
// stable integer indices described in spec.md §4.1 (C1). It is the leaf
// building block every other cache in this package is made of.
//
// Grounded on the teacher's pkg/cache.go shard.index map[uint64]*entry, and
// on other_examples' esbuild SourceIndexCache (map[key]uint32 + counter). No
// internal locking: callers place a BinaryCache behind a sync.RWMutex, as
// spec.md §4.1 requires ("No internal locking: callers place the
// BinaryCache inside a reader-writer lock").
//
// © codecache authors.

// BinaryCache is a keyed intern pool: insert appends to an index->value
// slice and records the new index in a key->index map (last writer wins on
// a duplicate key, per spec.md §4.1). Values are stored as shared handles
// (*V) so that a caller already holding one keeps a valid reference even
// after further inserts.
type BinaryCache[K comparable, V any] struct {
	byKey  map[K]int
	values []*V
}

// NewBinaryCache returns an empty pool.
func NewBinaryCache[K comparable, V any]() *BinaryCache[K, V] {
	return &BinaryCache[K, V]{byKey: make(map[K]int)}
}

// Insert appends value and records idx under key, returning the new stable
// index. If key was already present, the map entry is overwritten (last
// writer wins) but the earlier value's slot and shared handle remain valid
// — exactly the duplicate-insert tolerance spec.md §9(a) calls out.
func (c *BinaryCache[K, V]) Insert(key K, value V) int {
	idx := len(c.values)
	c.values = append(c.values, &value)
	c.byKey[key] = idx
	return idx
}

// Get returns the shared handle for key, or (nil, false) if absent.
func (c *BinaryCache[K, V]) Get(key K) (*V, bool) {
	idx, ok := c.byKey[key]
	if !ok {
		return nil, false
	}
	return c.values[idx], true
}

// GetWithIdx is Get plus the stable index, used by callers that need to
// store the index itself (e.g. Type.StructIdx).
func (c *BinaryCache[K, V]) GetWithIdx(key K) (*V, int, bool) {
	idx, ok := c.byKey[key]
	if !ok {
		return nil, 0, false
	}
	return c.values[idx], idx, true
}

// At returns the shared handle at a previously returned stable index.
func (c *BinaryCache[K, V]) At(idx int) *V {
	return c.values[idx]
}

// Set overwrites the value at an already-allocated index in place. Used by
// ModuleCache's two-phase struct interning (spec.md §4.2 step 1/3): a
// placeholder is inserted first, then its fields are attached by replacing
// the slot, as long as no external reference to the placeholder has
// already escaped (see ModuleCache.attachFields).
func (c *BinaryCache[K, V]) Set(idx int, value V) {
	c.values[idx] = &value
}

// Len returns the current number of interned values, used to capture
// rollback watermarks (spec.md §4.2 "Cursor / rollback").
func (c *BinaryCache[K, V]) Len() int { return len(c.values) }

// Truncate drops every value at or beyond n, the second half of the
// transactional reset protocol (spec.md §4.2). It does not touch byKey:
// callers remove the key mappings pointing at index >= n first, with
// RemoveKeysAt; Truncate alone only shrinks the values slice.
func (c *BinaryCache[K, V]) Truncate(n int) {
	if n < len(c.values) {
		c.values = c.values[:n]
	}
}

// RemoveKeysAt deletes every key in byKey whose recorded index is >= n. It
// asserts (via the returned bool) that every index in [n, len(values)) was
// actually found and removed, letting the caller detect concurrent
// corruption exactly as spec.md §4.2 describes for ModuleCache.reset: "the
// index it finds matches the removal position".
func (c *BinaryCache[K, V]) RemoveKeysAt(n int) bool {
	found := make([]bool, len(c.values)-n)
	for k, idx := range c.byKey {
		if idx >= n {
			delete(c.byKey, k)
			found[idx-n] = true
		}
	}
	for _, f := range found {
		if !f {
			return false
		}
	}
	return true
}
