package codecache

import (
	"context"
	"fmt"
	"testing"
)

/* -------------------------------------------------------------------------
   Test doubles — kept local to this file (package codecache) so unexported
   pool internals can be inspected directly; storetest.MemStore cannot be
   reused here without an import cycle.
   ------------------------------------------------------------------------- */

type fakeStore struct {
	blobs map[ModuleId][]byte
	reloc map[ModuleId]ModuleId
	link  LinkContext
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		blobs: make(map[ModuleId][]byte),
		reloc: make(map[ModuleId]ModuleId),
		link:  NewLinkContext("loader-test"),
	}
}

func (s *fakeStore) register(id ModuleId, blob []byte) {
	s.blobs[id] = blob
	s.reloc[id] = id
}

func (s *fakeStore) LoadModule(_ context.Context, storageID ModuleId) ([]byte, error) {
	b, ok := s.blobs[storageID]
	if !ok {
		return nil, fmt.Errorf("no blob for %s", storageID)
	}
	return b, nil
}

func (s *fakeStore) Relocate(_ context.Context, runtimeID ModuleId) (ModuleId, error) {
	storageID, ok := s.reloc[runtimeID]
	if !ok {
		return ModuleId{}, fmt.Errorf("no relocation for %s", runtimeID)
	}
	return storageID, nil
}

func (s *fakeStore) DefiningModule(_ context.Context, runtimeID ModuleId, _ Name) (ModuleId, error) {
	return runtimeID, nil
}

func (s *fakeStore) LinkContext(_ context.Context) (LinkContext, error) {
	return s.link, nil
}

// fakeDeserializer stands in for the binary-format reader: blobs are opaque
// keys into pre-registered CompiledModule/CompiledScript values rather than
// real bytecode, which is enough to exercise every stage of the loader
// without a real Move parser.
type fakeDeserializer struct {
	modules     map[string]*CompiledModule
	scripts     map[string]*CompiledScript
	scriptCalls int
}

func newFakeDeserializer() *fakeDeserializer {
	return &fakeDeserializer{modules: make(map[string]*CompiledModule), scripts: make(map[string]*CompiledScript)}
}

func (d *fakeDeserializer) DeserializeModule(b []byte, _ uint32) (*CompiledModule, error) {
	cm, ok := d.modules[string(b)]
	if !ok {
		return nil, fmt.Errorf("no registered module for blob %q", b)
	}
	return cm, nil
}

func (d *fakeDeserializer) DeserializeScript(b []byte, _ uint32) (*CompiledScript, error) {
	cs, ok := d.scripts[string(b)]
	if !ok {
		return nil, fmt.Errorf("no registered script for blob %q", b)
	}
	d.scriptCalls++
	return cs, nil
}

type fakeNatives struct{}

func (fakeNatives) Resolve([32]byte, Name, Name) (NativeFn, bool) { return nil, false }

// permissiveLinkageVerifier skips BasicLinkageVerifier's struct/function
// existence checks entirely, used only by the rollback scenario below so a
// missing-struct failure is forced to surface inside addModule itself
// instead of being pre-empted by linkage verification.
type permissiveLinkageVerifier struct{}

func (permissiveLinkageVerifier) VerifyModule(*CompiledModule, map[ModuleId]*CompiledModule) error {
	return nil
}
func (permissiveLinkageVerifier) VerifyScript(*CompiledScript, map[ModuleId]*CompiledModule) error {
	return nil
}

func newTestLoader(t *testing.T, linkage LinkageVerifier) (*Loader, *fakeStore, *fakeDeserializer) {
	t.Helper()
	store := newFakeStore()
	deser := newFakeDeserializer()
	l, err := NewLoader(deser, BasicStructuralVerifier{}, linkage, DepgraphCycleVerifier{}, fakeNatives{})
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	return l, store, deser
}

// errorCodes walks a LoaderError's Cause chain, collecting every Code seen,
// since wrapping (e.g. a dependency failure reported as MissingDependency)
// can bury the root cause's Code.
func errorCodes(err error) []Code {
	var codes []Code
	for err != nil {
		lerr, ok := err.(*LoaderError)
		if !ok {
			break
		}
		codes = append(codes, lerr.Code)
		err = lerr.Cause
	}
	return codes
}

func hasCode(err error, want Code) bool {
	for _, c := range errorCodes(err) {
		if c == want {
			return true
		}
	}
	return false
}

/* -------------------------------------------------------------------------
   Scenario 1: fresh load
   ------------------------------------------------------------------------- */

func TestLoaderFreshLoad(t *testing.T) {
	l, store, deser := newTestLoader(t, BasicLinkageVerifier{})
	cm := simpleModule()
	id := cm.SelfId()
	deser.modules["blob-a"] = cm
	store.register(id, []byte("blob-a"))

	ctx := context.Background()
	_, lm1, fn1, _, err := l.LoadFunction(ctx, store, id, "f", nil)
	if err != nil {
		t.Fatalf("LoadFunction (first): %v", err)
	}
	if l.moduleCache.loadedModules.Len() != 1 {
		t.Fatalf("loadedModules.Len() = %d, want 1", l.moduleCache.loadedModules.Len())
	}
	if l.moduleCache.functions.Len() != 1 {
		t.Fatalf("functions.Len() = %d, want 1", l.moduleCache.functions.Len())
	}
	if l.moduleCache.structs.Len() != 1 {
		t.Fatalf("structs.Len() = %d, want 1", l.moduleCache.structs.Len())
	}

	_, lm2, fn2, _, err := l.LoadFunction(ctx, store, id, "f", nil)
	if err != nil {
		t.Fatalf("LoadFunction (second): %v", err)
	}
	if fn1 != fn2 {
		t.Error("repeated LoadFunction should return the same *Function handle")
	}
	if lm1 != lm2 {
		t.Error("repeated LoadFunction should return the same *LoadedModule handle")
	}
	if l.moduleCache.functions.Len() != 1 || l.moduleCache.structs.Len() != 1 {
		t.Error("a cache-hit LoadFunction must not grow any pool")
	}
}

/* -------------------------------------------------------------------------
   Scenario 2/3: generic instantiation within/over the node budget, reached
   through the public Loader -> Resolver surface.
   ------------------------------------------------------------------------- */

func genericStructModule() *CompiledModule {
	return &CompiledModule{
		Version:          1,
		SelfModuleHandle: 0,
		ModuleHandles:    []ModuleHandle{{Address: addr(0x02), Name: "B"}},
		StructHandles:    []StructHandle{{Module: 0, Name: "G"}},
		FunctionHandles:  []FunctionHandle{{Module: 0, Name: "f", Parameters: 0, Return: 0}},
		StructDefs: []StructDefinition{
			{
				Handle:     0,
				Abilities:  AbilitySet(AbilityStore),
				TypeParams: []TypeParamDecl{{Constraints: 0}},
				Fields: []FieldDefinition{
					{Name: "v", Signature: SignatureToken{Kind: TypeVector, Elem: &SignatureToken{Kind: TypeParam, ParamIndex: 0}}},
				},
			},
		},
		StructDefInstantiations: []StructDefInstantiation{{Def: 0, TypeParams: 1}},
		Signatures: []Signature{
			{},
			{{Kind: TypeParam, ParamIndex: 0}},
		},
		FunctionDefs: []FunctionDefinition{
			{Handle: 0, Visibility: VisibilityPublic, IsEntry: true, Code: &CodeUnit{Bytecode: []byte{}}},
		},
	}
}

func TestLoaderGenericInstantiationWithinBudget(t *testing.T) {
	l, store, deser := newTestLoader(t, BasicLinkageVerifier{})
	cm := genericStructModule()
	id := cm.SelfId()
	deser.modules["blob-b"] = cm
	store.register(id, []byte("blob-b"))

	ctx := context.Background()
	loadedCM, lm, _, _, err := l.LoadFunction(ctx, store, id, "f", nil)
	if err != nil {
		t.Fatalf("LoadFunction: %v", err)
	}

	resolver := l.NewResolverForModule(loadedCM, lm)
	types, err := resolver.InstantiateGenericType(0, []Type{{Kind: TypeU64}})
	if err != nil {
		t.Fatalf("InstantiateGenericType within budget: %v", err)
	}
	if len(types) != 1 || types[0].Kind != TypeU64 {
		t.Fatalf("types = %+v, want [u64]", types)
	}

	layout, _, err := resolver.TypeToTypeLayout(Type{Kind: TypeStructInstantiation, StructIdx: lm.StructRefs[0], TypeArgs: types})
	if err != nil {
		t.Fatalf("TypeToTypeLayout: %v", err)
	}
	if layout.Kind != LayoutStruct {
		t.Fatalf("layout.Kind = %v, want LayoutStruct", layout.Kind)
	}
	if l.typeCache.layouts == nil || len(l.typeCache.layouts) != 1 {
		t.Fatalf("expected the layout to be memoized exactly once, got %d entries", len(l.typeCache.layouts))
	}
}

func TestLoaderGenericInstantiationOverBudget(t *testing.T) {
	l, store, deser := newTestLoader(t, BasicLinkageVerifier{})
	cm := genericStructModule()
	id := cm.SelfId()
	deser.modules["blob-b2"] = cm
	store.register(id, []byte("blob-b2"))

	ctx := context.Background()
	loadedCM, lm, _, _, err := l.LoadFunction(ctx, store, id, "f", nil)
	if err != nil {
		t.Fatalf("LoadFunction: %v", err)
	}

	inner := &Type{Kind: TypeU64}
	for i := 0; i < MaxTypeInstantiationNodes+1; i++ {
		inner = &Type{Kind: TypeVector, Elem: inner}
	}

	resolver := l.NewResolverForModule(loadedCM, lm)
	_, err = resolver.InstantiateGenericType(0, []Type{*inner})
	if err == nil {
		t.Fatal("expected InstantiateGenericType to reject an over-budget type argument")
	}
	if !hasCode(err, CodeTooManyTypeNodes) {
		t.Fatalf("error codes = %v, want CodeTooManyTypeNodes somewhere in the chain", errorCodes(err))
	}
	if len(l.typeCache.layouts) != 0 {
		t.Error("a rejected instantiation must not leave a type-cache entry")
	}
}

/* -------------------------------------------------------------------------
   Scenario 4: cyclic module dependency
   ------------------------------------------------------------------------- */

func cyclicModules() (p, q *CompiledModule) {
	pAddr, qAddr := addr(0x03), addr(0x04)
	p = &CompiledModule{
		Version:          1,
		SelfModuleHandle: 0,
		ModuleHandles: []ModuleHandle{
			{Address: pAddr, Name: "P"},
			{Address: qAddr, Name: "Q"},
		},
	}
	q = &CompiledModule{
		Version:          1,
		SelfModuleHandle: 0,
		ModuleHandles: []ModuleHandle{
			{Address: qAddr, Name: "Q"},
			{Address: pAddr, Name: "P"},
		},
	}
	return p, q
}

func TestLoaderCyclicModuleDependency(t *testing.T) {
	l, store, deser := newTestLoader(t, BasicLinkageVerifier{})
	p, q := cyclicModules()
	pID, qID := p.SelfId(), q.SelfId()
	deser.modules["blob-p"] = p
	deser.modules["blob-q"] = q
	store.register(pID, []byte("blob-p"))
	store.register(qID, []byte("blob-q"))

	ctx := context.Background()
	_, _, _, _, err := l.LoadFunction(ctx, store, pID, "anything", nil)
	if err == nil {
		t.Fatal("expected a cyclic-dependency failure")
	}
	if !hasCode(err, CodeCyclicModuleDependency) {
		t.Fatalf("error codes = %v, want CodeCyclicModuleDependency somewhere in the chain", errorCodes(err))
	}
	if l.moduleCache.loadedModules.Len() != 0 {
		t.Errorf("loadedModules.Len() = %d, want 0 after a rejected cycle", l.moduleCache.loadedModules.Len())
	}
	if l.moduleCache.structs.Len() != 0 || l.moduleCache.functions.Len() != 0 {
		t.Error("a rejected cycle must not contribute any struct or function")
	}
}

/* -------------------------------------------------------------------------
   Scenario 5: failed ingestion rolls back the struct/function pools
   ------------------------------------------------------------------------- */

func brokenModule() *CompiledModule {
	return &CompiledModule{
		Version:          1,
		SelfModuleHandle: 0,
		ModuleHandles:    []ModuleHandle{{Address: addr(0x05), Name: "R"}},
		StructHandles:    []StructHandle{{Module: 0, Name: "Missing"}},
		FunctionHandles: []FunctionHandle{
			{Module: 0, Name: "first", Parameters: 0, Return: 0},
			{Module: 0, Name: "second", Parameters: 0, Return: 1},
			{Module: 0, Name: "third", Parameters: 0, Return: 2},
		},
		Signatures: []Signature{
			{},
			{{Kind: TypeU64}},
			{{Kind: TypeStruct, StructIdx: 0}}, // refers to the never-defined "Missing"
		},
		FunctionDefs: []FunctionDefinition{
			{Handle: 0, Visibility: VisibilityPublic, IsEntry: true, Code: &CodeUnit{Bytecode: []byte{}}},
			{Handle: 1, Visibility: VisibilityPublic, Code: &CodeUnit{Bytecode: []byte{}}},
			{Handle: 2, Visibility: VisibilityPublic, Code: &CodeUnit{Bytecode: []byte{}}},
		},
	}
}

func TestLoaderFailedIngestionRollsBack(t *testing.T) {
	l, store, deser := newTestLoader(t, permissiveLinkageVerifier{})
	cm := brokenModule()
	id := cm.SelfId()
	deser.modules["blob-r"] = cm
	store.register(id, []byte("blob-r"))

	ctx := context.Background()
	_, _, _, _, err := l.LoadFunction(ctx, store, id, "first", nil)
	if err == nil {
		t.Fatal("expected addModule to fail on the undefined struct Missing")
	}
	if !hasCode(err, CodeTypeResolutionFailure) {
		t.Fatalf("error codes = %v, want CodeTypeResolutionFailure", errorCodes(err))
	}
	if l.moduleCache.loadedModules.Len() != 0 {
		t.Errorf("loadedModules.Len() = %d, want 0 after rollback", l.moduleCache.loadedModules.Len())
	}
	if l.moduleCache.structs.Len() != 0 {
		t.Errorf("structs.Len() = %d, want 0 after rollback", l.moduleCache.structs.Len())
	}
	if l.moduleCache.functions.Len() != 0 {
		t.Errorf("functions.Len() = %d, want 0 after rollback (first and second must also be rolled back)", l.moduleCache.functions.Len())
	}
}

/* -------------------------------------------------------------------------
   Scenario 6: script rerun hits ScriptCache, abilities re-checked every call
   ------------------------------------------------------------------------- */

func TestLoaderScriptRerunHitsCache(t *testing.T) {
	l, store, deser := newTestLoader(t, BasicLinkageVerifier{})
	cs := &CompiledScript{
		Version:    1,
		Signatures: []Signature{{}},
		Parameters: 0,
		TypeParams: []AbilitySet{0},
		Code:       &CodeUnit{Locals: 0, Bytecode: []byte{}},
	}
	deser.scripts["script-1"] = cs
	blob := []byte("script-1")

	ctx := context.Background()
	ls1, err := l.LoadScript(ctx, store, blob, []Type{{Kind: TypeU64}})
	if err != nil {
		t.Fatalf("LoadScript (first, u64): %v", err)
	}
	if deser.scriptCalls != 1 {
		t.Fatalf("scriptCalls after first load = %d, want 1", deser.scriptCalls)
	}

	ls2, err := l.LoadScript(ctx, store, blob, []Type{{Kind: TypeU8}})
	if err != nil {
		t.Fatalf("LoadScript (second, u8): %v", err)
	}
	if deser.scriptCalls != 1 {
		t.Fatalf("scriptCalls after second load = %d, want still 1 (cache hit)", deser.scriptCalls)
	}
	if ls1 != ls2 {
		t.Error("both calls should resolve to the same cached *LoadedScript")
	}
}
