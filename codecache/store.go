package codecache

// store.go declares the data-store interface the loader consumes. The
// on-disk/persistent-store data layer itself is out of scope for this
// module (spec.md §1, §6); concrete implementations live in storetest/.

import "context"

// Store is the external collaborator that fetches raw module bytes and
// resolves naming. See spec.md §6 "Data store (consumed)".
type Store interface {
	// LoadModule fetches the raw, still-serialized bytes of the module
	// addressed by storageID.
	LoadModule(ctx context.Context, storageID ModuleId) ([]byte, error)

	// Relocate translates a runtime name into a storage name under the
	// current link context.
	Relocate(ctx context.Context, runtimeID ModuleId) (ModuleId, error)

	// DefiningModule returns the module id where a struct was originally
	// defined (may differ from runtimeID when the struct is re-exported via
	// upgrade).
	DefiningModule(ctx context.Context, runtimeID ModuleId, structName Name) (ModuleId, error)

	// LinkContext returns the current link context for keying the
	// loaded-module cache.
	LinkContext(ctx context.Context) (LinkContext, error)
}
