package codecache

import "testing"

func newTestStructs() *BinaryCache[structKey, StructType] {
	return NewBinaryCache[structKey, StructType]()
}

func insertStruct(structs *BinaryCache[structKey, StructType], name Name, fieldNames []Name, fieldTypes []Type) int {
	st := StructType{
		Abilities:  AllAbilities,
		Name:       name,
		RuntimeID:  ModuleId{Address: addr(0x01), Name: "M"},
		DefiningID: ModuleId{Address: addr(0x01), Name: "M"},
		FieldNames: fieldNames,
		FieldTypes: fieldTypes,
	}
	return structs.Insert(structKey{Module: st.DefiningID, Name: name}, st)
}

func TestStructTagAtMemoizes(t *testing.T) {
	structs := newTestStructs()
	idx := insertStruct(structs, "Point", []Name{"x", "y"}, []Type{{Kind: TypeU64}, {Kind: TypeU64}})
	tc := newTypeCache(structs)

	tag1, err := tc.StructTagAt(idx, nil)
	if err != nil {
		t.Fatalf("StructTagAt: %v", err)
	}
	if tag1.Name != "Point" {
		t.Fatalf("tag.Name = %q, want Point", tag1.Name)
	}
	if len(tc.tags) != 1 {
		t.Fatalf("tags map len = %d, want 1 after first call", len(tc.tags))
	}

	tag2, err := tc.StructTagAt(idx, nil)
	if err != nil {
		t.Fatalf("StructTagAt (memoized): %v", err)
	}
	if tag1.String() != tag2.String() {
		t.Fatalf("memoized tag differs: %v vs %v", tag1, tag2)
	}
	if len(tc.tags) != 1 {
		t.Fatalf("tags map len after repeat call = %d, want still 1", len(tc.tags))
	}
}

func TestStructLayoutAtMemoizesAndCountsNodes(t *testing.T) {
	structs := newTestStructs()
	idx := insertStruct(structs, "Pair", []Name{"a", "b"}, []Type{{Kind: TypeU64}, {Kind: TypeBool}})
	tc := newTypeCache(structs)

	layout, nodes, err := tc.StructLayoutAt(idx, nil, 0)
	if err != nil {
		t.Fatalf("StructLayoutAt: %v", err)
	}
	if layout.Kind != LayoutStruct || len(layout.Fields) != 2 {
		t.Fatalf("layout = %+v, want a 2-field struct layout", layout)
	}
	wantNodes := 3 // 1 for the struct + 1 per primitive field
	if nodes != wantNodes {
		t.Fatalf("nodes = %d, want %d", nodes, wantNodes)
	}
	if len(tc.layouts) != 1 || len(tc.nodeCounts) != 1 {
		t.Fatalf("layouts/nodeCounts not memoized: %d/%d", len(tc.layouts), len(tc.nodeCounts))
	}

	_, nodes2, err := tc.StructLayoutAt(idx, nil, 0)
	if err != nil {
		t.Fatalf("StructLayoutAt (memoized): %v", err)
	}
	if nodes2 != wantNodes {
		t.Fatalf("memoized nodes = %d, want %d", nodes2, wantNodes)
	}
}

func TestStructLayoutAtRejectsExcessiveDepth(t *testing.T) {
	structs := newTestStructs()
	idx := insertStruct(structs, "Leaf", []Name{"v"}, []Type{{Kind: TypeU64}})
	tc := newTypeCache(structs)

	_, _, err := tc.StructLayoutAt(idx, nil, ValueDepthMax+1)
	if err == nil {
		t.Fatal("expected an error when depth exceeds ValueDepthMax")
	}
	lerr, ok := err.(*LoaderError)
	if !ok || lerr.Code != CodeVMMaxValueDepthReached {
		t.Fatalf("error = %v, want CodeVMMaxValueDepthReached", err)
	}
}

func TestStructLayoutAtRejectsNodeBudgetOverflow(t *testing.T) {
	structs := newTestStructs()
	// A struct with more primitive fields than MaxTypeToLayoutNodes allows
	// (each field contributes one node, plus one for the struct itself).
	names := make([]Name, MaxTypeToLayoutNodes+1)
	types := make([]Type, MaxTypeToLayoutNodes+1)
	for i := range names {
		names[i] = Name("f")
		types[i] = Type{Kind: TypeU8}
	}
	idx := insertStruct(structs, "Wide", names, types)
	tc := newTypeCache(structs)

	_, _, err := tc.StructLayoutAt(idx, nil, 0)
	if err == nil {
		t.Fatal("expected a node-budget error for an oversized struct layout")
	}
	lerr, ok := err.(*LoaderError)
	if !ok || lerr.Code != CodeTooManyTypeNodes {
		t.Fatalf("error = %v, want CodeTooManyTypeNodes", err)
	}
	if len(tc.layouts) != 0 {
		t.Error("a rejected layout must not be memoized")
	}
}

func TestAnnotatedStructLayoutAtUsesLRU(t *testing.T) {
	structs := newTestStructs()
	idx := insertStruct(structs, "Tagged", []Name{"x"}, []Type{{Kind: TypeU64}})
	tc := newTypeCache(structs)

	l1, nodes1, err := tc.AnnotatedStructLayoutAt(idx, nil, 0)
	if err != nil {
		t.Fatalf("AnnotatedStructLayoutAt: %v", err)
	}
	if l1.Tag == nil || l1.Tag.Name != "Tagged" {
		t.Fatalf("annotated layout tag = %+v, want name Tagged", l1.Tag)
	}
	if l1.Fields[0].Name != "x" {
		t.Fatalf("annotated field name = %q, want x", l1.Fields[0].Name)
	}
	if tc.annotatedLayouts.Len() != 1 {
		t.Fatalf("LRU len = %d, want 1", tc.annotatedLayouts.Len())
	}

	_, nodes2, err := tc.AnnotatedStructLayoutAt(idx, nil, 0)
	if err != nil {
		t.Fatalf("AnnotatedStructLayoutAt (memoized): %v", err)
	}
	if nodes1 != nodes2 {
		t.Fatalf("node counts differ across calls: %d vs %d", nodes1, nodes2)
	}
}

func TestSubstSubstitutesTypeParams(t *testing.T) {
	param := Type{Kind: TypeParam, ParamIndex: 0}
	vecOfParam := Type{Kind: TypeVector, Elem: &param}
	result := subst(vecOfParam, []Type{{Kind: TypeU64}})
	if result.Kind != TypeVector || result.Elem.Kind != TypeU64 {
		t.Fatalf("subst(vector<T0>, [u64]) = %+v, want vector<u64>", result)
	}
}

func TestSubstLeavesNonParamUnchanged(t *testing.T) {
	ty := Type{Kind: TypeBool}
	result := subst(ty, []Type{{Kind: TypeU64}})
	if result.Kind != TypeBool {
		t.Fatalf("subst(bool, ...) = %+v, want unchanged bool", result)
	}
}
