package codecache

import "testing"

func TestHashScriptDeterministicAndSensitiveToInput(t *testing.T) {
	a := HashScript([]byte("move script one"))
	b := HashScript([]byte("move script one"))
	if a != b {
		t.Fatal("HashScript should be deterministic for identical bytes")
	}
	c := HashScript([]byte("move script two"))
	if a == c {
		t.Fatal("HashScript should differ for different input bytes")
	}
}

func TestScriptCacheGetInsert(t *testing.T) {
	sc := newScriptCache()
	hash := HashScript([]byte("blob"))
	if _, ok := sc.get(hash); ok {
		t.Fatal("get on empty cache should miss")
	}
	handle := sc.insert(hash, LoadedScript{Hash: hash})
	if handle == nil {
		t.Fatal("insert returned nil handle")
	}
	got, ok := sc.get(hash)
	if !ok || got.Hash != hash {
		t.Fatalf("get after insert = (%+v, %v), want hash %v", got, ok, hash)
	}
}

// scriptFixtureModule builds a dependency module 0xEE::Dep declaring struct
// T{v:u8} and function g() -> u8, used as buildLoadedScript's resolution
// target.
func scriptFixtureModule() *CompiledModule {
	return &CompiledModule{
		Version:          1,
		SelfModuleHandle: 0,
		ModuleHandles:    []ModuleHandle{{Address: addr(0xEE), Name: "Dep"}},
		StructHandles:    []StructHandle{{Module: 0, Name: "T"}},
		FunctionHandles:  []FunctionHandle{{Module: 0, Name: "g", Parameters: 0, Return: 1}},
		StructDefs: []StructDefinition{
			{Handle: 0, Abilities: AllAbilities, Fields: []FieldDefinition{{Name: "v", Signature: SignatureToken{Kind: TypeU8}}}},
		},
		Signatures: []Signature{{}, {{Kind: TypeU8}}},
		FunctionDefs: []FunctionDefinition{
			{Handle: 0, Visibility: VisibilityPublic, IsEntry: true, Code: &CodeUnit{Bytecode: []byte{}}},
		},
	}
}

func TestBuildLoadedScriptResolvesAgainstModuleCache(t *testing.T) {
	mc := newModuleCache(nil)
	dep := scriptFixtureModule()
	if _, err := mc.addModule(dep, dep.SelfId(), dep.SelfId(), nil); err != nil {
		t.Fatalf("addModule(dep): %v", err)
	}

	cs := &CompiledScript{
		Version:         1,
		ModuleHandles:   []ModuleHandle{{Address: addr(0xEE), Name: "Dep"}},
		StructHandles:   []StructHandle{{Module: 0, Name: "T"}},
		FunctionHandles: []FunctionHandle{{Module: 0, Name: "g", Parameters: 0, Return: 1}},
		Signatures:      []Signature{{}},
		Parameters:      0,
	}
	hash := HashScript([]byte("script-fixture"))
	ls, err := mc.buildLoadedScript(hash, cs)
	if err != nil {
		t.Fatalf("buildLoadedScript: %v", err)
	}
	if ls.Hash != hash {
		t.Errorf("Hash = %v, want %v", ls.Hash, hash)
	}
	if len(ls.StructRefs) != 1 {
		t.Fatalf("StructRefs = %v, want one entry", ls.StructRefs)
	}
	if len(ls.FunctionRefs) != 1 {
		t.Fatalf("FunctionRefs = %v, want one entry", ls.FunctionRefs)
	}
	if ls.Main == nil || ls.Main.Name != "main" {
		t.Fatalf("Main = %+v, want a function named main", ls.Main)
	}
	if ls.Main.Scope.Kind != ScopeScript || ls.Main.Scope.ScriptHash != hash {
		t.Fatalf("Main.Scope = %+v, want ScopeScript with hash %v", ls.Main.Scope, hash)
	}
}

func TestBuildLoadedScriptMissingDependencyFunction(t *testing.T) {
	mc := newModuleCache(nil)
	cs := &CompiledScript{
		Version:         1,
		ModuleHandles:   []ModuleHandle{{Address: addr(0xFF), Name: "Nope"}},
		FunctionHandles: []FunctionHandle{{Module: 0, Name: "missing", Parameters: 0, Return: 0}},
		Signatures:      []Signature{{}},
		Parameters:      0,
	}
	hash := HashScript([]byte("broken-script"))
	_, err := mc.buildLoadedScript(hash, cs)
	if err == nil {
		t.Fatal("expected buildLoadedScript to fail against an unloaded dependency")
	}
	lerr, ok := err.(*LoaderError)
	if !ok || lerr.Code != CodeFunctionResolutionFailure {
		t.Fatalf("error = %v, want CodeFunctionResolutionFailure", err)
	}
}
