package codecache

import "testing"

func addr(b byte) [32]byte {
	var a [32]byte
	a[0] = b
	return a
}

// simpleModule builds a module 0xAA::M declaring struct S{x:u64} and a
// public function f() -> u64, with no dependencies — the minimal shape
// exercised by addModule's full five-step pipeline.
func simpleModule() *CompiledModule {
	return &CompiledModule{
		Version:          1,
		SelfModuleHandle: 0,
		ModuleHandles:    []ModuleHandle{{Address: addr(0xAA), Name: "M"}},
		StructHandles:    []StructHandle{{Module: 0, Name: "S"}},
		FunctionHandles:  []FunctionHandle{{Module: 0, Name: "f", Parameters: 0, Return: 1}},
		StructDefs: []StructDefinition{
			{
				Handle:    0,
				Abilities: AllAbilities,
				Fields:    []FieldDefinition{{Name: "x", Signature: SignatureToken{Kind: TypeU64}}},
			},
		},
		Signatures: []Signature{
			{},
			{{Kind: TypeU64}},
		},
		FunctionDefs: []FunctionDefinition{
			{Handle: 0, Visibility: VisibilityPublic, IsEntry: true, Code: &CodeUnit{Bytecode: []byte{}}},
		},
	}
}

func TestModuleCacheSnapshotReset(t *testing.T) {
	mc := newModuleCache(nil)
	cursor := mc.snapshot()
	if cursor.lastStruct != 0 || cursor.lastFunction != 0 {
		t.Fatalf("snapshot on empty cache = %+v, want zero cursor", cursor)
	}

	cm := simpleModule()
	loaded, err := mc.addModule(cm, cm.SelfId(), cm.SelfId(), nil)
	if err != nil {
		t.Fatalf("addModule: %v", err)
	}
	if loaded == nil {
		t.Fatal("addModule returned nil LoadedModule")
	}
	if mc.structs.Len() != 1 || mc.functions.Len() != 1 {
		t.Fatalf("pool lengths after addModule = (%d, %d), want (1, 1)", mc.structs.Len(), mc.functions.Len())
	}

	mc.reset(cursor)
	if mc.structs.Len() != 0 || mc.functions.Len() != 0 {
		t.Fatalf("pool lengths after reset = (%d, %d), want (0, 0)", mc.structs.Len(), mc.functions.Len())
	}
	if _, _, ok := mc.resolveStructByName(cm.SelfId(), "S"); ok {
		t.Error("struct S should be unresolvable after rollback")
	}
}

func TestModuleCacheAddModuleFieldAttachment(t *testing.T) {
	mc := newModuleCache(nil)
	cm := simpleModule()
	_, err := mc.addModule(cm, cm.SelfId(), cm.SelfId(), nil)
	if err != nil {
		t.Fatalf("addModule: %v", err)
	}

	st, idx, ok := mc.resolveStructByName(cm.SelfId(), "S")
	if !ok {
		t.Fatal("struct S not found after addModule")
	}
	if idx != 0 {
		t.Fatalf("struct S global index = %d, want 0", idx)
	}
	if len(st.FieldNames) != 1 || st.FieldNames[0] != "x" {
		t.Fatalf("FieldNames = %v, want [x]", st.FieldNames)
	}
	if len(st.FieldTypes) != 1 || st.FieldTypes[0].Kind != TypeU64 {
		t.Fatalf("FieldTypes = %v, want [u64]", st.FieldTypes)
	}
}

func TestModuleCacheResolveFunctionByName(t *testing.T) {
	mc := newModuleCache(nil)
	cm := simpleModule()
	loaded, err := mc.addModule(cm, cm.SelfId(), cm.SelfId(), nil)
	if err != nil {
		t.Fatalf("addModule: %v", err)
	}
	link := NewLinkContext("test")
	mc.loadedModules.Insert(loadedModuleKey{Link: link, RuntimeID: loaded.RuntimeID}, *loaded)

	gidx, ok := mc.resolveFunctionByName(link, loaded.RuntimeID, "f")
	if !ok {
		t.Fatal("function f not resolvable via link context")
	}
	if gidx != 0 {
		t.Fatalf("function f global index = %d, want 0", gidx)
	}

	if _, ok := mc.resolveFunctionByName(link, loaded.RuntimeID, "missing"); ok {
		t.Error("resolveFunctionByName should fail for an undeclared name")
	}

	other := NewLinkContext("other")
	if _, ok := mc.resolveFunctionByName(other, loaded.RuntimeID, "f"); ok {
		t.Error("resolveFunctionByName should not find a LoadedModule under a different LinkContext")
	}
}

// TestModuleCacheSelfReferencingStruct exercises the two-phase struct
// interning's placeholder step directly: a struct containing a vector of
// itself must resolve its own StructHandleIndex against the placeholder
// inserted in step 1, before fields are attached in step 3.
func TestModuleCacheSelfReferencingStruct(t *testing.T) {
	cm := &CompiledModule{
		Version:          1,
		SelfModuleHandle: 0,
		ModuleHandles:    []ModuleHandle{{Address: addr(0xBB), Name: "N"}},
		StructHandles:    []StructHandle{{Module: 0, Name: "Node"}},
		FunctionHandles:  []FunctionHandle{},
		StructDefs: []StructDefinition{
			{
				Handle:    0,
				Abilities: AllAbilities,
				Fields: []FieldDefinition{
					{Name: "children", Signature: SignatureToken{
						Kind: TypeVector,
						Elem: &SignatureToken{Kind: TypeStruct, StructIdx: 0},
					}},
				},
			},
		},
		Signatures: []Signature{{}},
	}

	mc := newModuleCache(nil)
	loaded, err := mc.addModule(cm, cm.SelfId(), cm.SelfId(), nil)
	if err != nil {
		t.Fatalf("addModule with self-referencing struct: %v", err)
	}
	st := mc.structs.At(loaded.StructRefs[0])
	if st.FieldTypes[0].Kind != TypeVector || st.FieldTypes[0].Elem.Kind != TypeStruct {
		t.Fatalf("FieldTypes[0] = %+v, want vector<Node>", st.FieldTypes[0])
	}
	if st.FieldTypes[0].Elem.StructIdx != loaded.StructRefs[0] {
		t.Fatalf("self-reference StructIdx = %d, want %d", st.FieldTypes[0].Elem.StructIdx, loaded.StructRefs[0])
	}
}

func TestModuleCacheAddModuleMissingStructDependency(t *testing.T) {
	cm := &CompiledModule{
		Version:          1,
		SelfModuleHandle: 0,
		ModuleHandles: []ModuleHandle{
			{Address: addr(0xCC), Name: "Own"},
			{Address: addr(0xDD), Name: "Other"},
		},
		StructHandles:   []StructHandle{{Module: 1, Name: "Missing"}},
		FunctionHandles: []FunctionHandle{{Module: 0, Name: "first", Parameters: 0, Return: 1}},
		StructDefs:      nil,
		Signatures: []Signature{
			{},
			{{Kind: TypeStruct, StructIdx: 0}},
		},
		FunctionDefs: []FunctionDefinition{
			{Handle: 0, Visibility: VisibilityPublic, IsEntry: true, Code: &CodeUnit{Bytecode: []byte{}}},
		},
	}

	mc := newModuleCache(nil)
	cursor := mc.snapshot()
	_, err := mc.addModule(cm, cm.SelfId(), cm.SelfId(), nil)
	if err == nil {
		t.Fatal("expected addModule to fail resolving an undefined struct dependency")
	}
	var lerr *LoaderError
	if le, ok := err.(*LoaderError); ok {
		lerr = le
	}
	if lerr == nil || lerr.Code != CodeTypeResolutionFailure {
		t.Fatalf("error = %v, want CodeTypeResolutionFailure", err)
	}

	mc.reset(cursor)
	if mc.structs.Len() != 0 || mc.functions.Len() != 0 {
		t.Fatalf("pool lengths after failed addModule+reset = (%d, %d), want (0, 0)", mc.structs.Len(), mc.functions.Len())
	}
}
