package codecache

// typecache.go implements TypeCache (C4, spec.md §4.4): per-instantiation
// memoization of struct tags, layouts, and the node-count deltas each one
// contributes to a caller's running budget.
//
// Grounded on the teacher's per-key memoize shape (pkg/cache.go), with an
// LRU front (hashicorp/golang-lru/v2, as open-policy-agent-opa's go.mod
// pulls in) specifically for the annotated layouts (AnnotatedLayout values):
// those are purely derived from already-interned struct/type data, so losing one
// to eviction only costs a recomputation, unlike the struct/function pools
// which are append-only for process lifetime (spec.md §3).

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// MaxTypeToLayoutNodes bounds the total node count produced while
	// lowering a Type to a value layout (spec.md §4.3).
	MaxTypeToLayoutNodes = 256
	// ValueDepthMax bounds recursion depth during layout construction
	// (spec.md §4.3).
	ValueDepthMax = 128

	annotatedLayoutCacheSize = 4096
)

// StructTag is the fully qualified name plus tagged type arguments of a
// struct instantiation (spec.md §4.4 "struct_tag").
type StructTag struct {
	Address    [32]byte
	Module     Name
	Name       Name
	TypeArgs   []TypeTag
}

func (t StructTag) String() string {
	var b strings.Builder
	b.WriteString(ModuleId{Address: t.Address, Name: t.Module}.String())
	b.WriteString("::")
	b.WriteString(string(t.Name))
	if len(t.TypeArgs) > 0 {
		b.WriteByte('<')
		for i, a := range t.TypeArgs {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(a.String())
		}
		b.WriteByte('>')
	}
	return b.String()
}

// TypeTag is the tagged, fully-qualified counterpart of a Type used inside
// a StructTag — it carries a StructTag by value instead of a gidx, since
// tags must remain meaningful outside the process that produced them.
type TypeTag struct {
	Kind   TypeKind
	Elem   *TypeTag
	Struct *StructTag
}

func (t TypeTag) String() string {
	switch t.Kind {
	case TypeVector:
		return "vector<" + t.Elem.String() + ">"
	case TypeStruct, TypeStructInstantiation:
		return t.Struct.String()
	default:
		return primitiveTagName(t.Kind)
	}
}

func primitiveTagName(k TypeKind) string {
	switch k {
	case TypeBool:
		return "bool"
	case TypeU8:
		return "u8"
	case TypeU16:
		return "u16"
	case TypeU32:
		return "u32"
	case TypeU64:
		return "u64"
	case TypeU128:
		return "u128"
	case TypeU256:
		return "u256"
	case TypeAddress:
		return "address"
	case TypeSigner:
		return "signer"
	default:
		return "?"
	}
}

// FieldLayout is one field of an unannotated StructLayout.
type FieldLayout struct {
	Layout Layout
}

// AnnotatedFieldLayout is one field of an AnnotatedStructLayout: same as
// FieldLayout but carrying the declared field name.
type AnnotatedFieldLayout struct {
	Name   Name
	Layout AnnotatedLayout
}

// LayoutKind tags the variant carried by a Layout/AnnotatedLayout value. It
// mirrors TypeKind minus references and type parameters, which have no
// layout (spec.md §4.4 "References and type parameters are rejected").
type LayoutKind uint8

const (
	LayoutBool LayoutKind = iota
	LayoutU8
	LayoutU16
	LayoutU32
	LayoutU64
	LayoutU128
	LayoutU256
	LayoutAddress
	LayoutSigner
	LayoutVector
	LayoutStruct
)

// Layout is the unannotated value layout used for serialization (spec.md
// §4.4 "struct_layout").
type Layout struct {
	Kind   LayoutKind
	Elem   *Layout
	Fields []FieldLayout
}

// AnnotatedLayout additionally carries field names and the struct's tag
// (spec.md §4.4 "annotated_struct_layout").
type AnnotatedLayout struct {
	Kind   LayoutKind
	Elem   *AnnotatedLayout
	Tag    *StructTag
	Fields []AnnotatedFieldLayout
}

// typeCacheKey identifies one memoized product: a struct instantiation
// (gidx plus type arguments), stringified because Type contains slices and
// is not itself comparable.
type typeCacheKey struct {
	structIdx int
	argsKey   string
}

func instantiationKey(structIdx int, typeArgs []Type) typeCacheKey {
	var b strings.Builder
	for _, a := range typeArgs {
		writeTypeKey(&b, a)
		b.WriteByte(';')
	}
	return typeCacheKey{structIdx: structIdx, argsKey: b.String()}
}

func writeTypeKey(b *strings.Builder, t Type) {
	b.WriteByte(byte(t.Kind))
	switch t.Kind {
	case TypeVector, TypeReference, TypeMutableReference:
		writeTypeKey(b, *t.Elem)
	case TypeParam:
		b.WriteByte(byte(t.ParamIndex))
		b.WriteByte(byte(t.ParamIndex >> 8))
	case TypeStruct, TypeStructInstantiation:
		for i := 0; i < 8; i++ {
			b.WriteByte(byte(t.StructIdx >> (8 * i)))
		}
		for _, a := range t.TypeArgs {
			writeTypeKey(b, a)
		}
	}
}

// nodeCountEntry caches the two node-count deltas for one instantiation.
type nodeCountEntry struct {
	nodeCount          int
	annotatedNodeCount int
}

// TypeCache memoizes derived products per struct instantiation (spec.md
// §4.4). It holds no lock of its own; every entry point here is reached
// through a Resolver, which holds the Loader's typeCacheMu for the
// duration of the call (resolver.go's TypeToTypeLayout/
// TypeToFullyAnnotatedLayout). The methods below are safe to call directly
// only while that lock is held, which is why StructTagAt/typeToLayout/
// typeToAnnotatedLayout recurse into each other freely without trying to
// acquire anything themselves — a second acquisition on the same goroutine
// would deadlock.
type TypeCache struct {
	tags             map[typeCacheKey]StructTag
	layouts          map[typeCacheKey]Layout
	nodeCounts       map[typeCacheKey]nodeCountEntry
	annotatedLayouts *lru.Cache[typeCacheKey, AnnotatedLayout]

	structs *BinaryCache[structKey, StructType]
}

func newTypeCache(structs *BinaryCache[structKey, StructType]) *TypeCache {
	annotated, err := lru.New[typeCacheKey, AnnotatedLayout](annotatedLayoutCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// annotatedLayoutCacheSize never is.
		panic(err)
	}
	return &TypeCache{
		tags:             make(map[typeCacheKey]StructTag),
		layouts:          make(map[typeCacheKey]Layout),
		nodeCounts:       make(map[typeCacheKey]nodeCountEntry),
		annotatedLayouts: annotated,
		structs:          structs,
	}
}

// StructTagAt returns the memoized struct tag for (structIdx, typeArgs),
// computing and storing it on first request.
func (tc *TypeCache) StructTagAt(structIdx int, typeArgs []Type) (StructTag, error) {
	key := instantiationKey(structIdx, typeArgs)
	if tag, ok := tc.tags[key]; ok {
		return tag, nil
	}
	st := tc.structs.At(structIdx)
	args := make([]TypeTag, len(typeArgs))
	for i, a := range typeArgs {
		tag, err := tc.typeToTag(a)
		if err != nil {
			return StructTag{}, err
		}
		args[i] = tag
	}
	tag := StructTag{Address: st.DefiningID.Address, Module: st.DefiningID.Name, Name: st.Name, TypeArgs: args}
	tc.tags[key] = tag
	return tag, nil
}

func (tc *TypeCache) typeToTag(t Type) (TypeTag, error) {
	switch t.Kind {
	case TypeVector:
		elem, err := tc.typeToTag(*t.Elem)
		if err != nil {
			return TypeTag{}, err
		}
		return TypeTag{Kind: TypeVector, Elem: &elem}, nil
	case TypeStruct, TypeStructInstantiation:
		tag, err := tc.StructTagAt(t.StructIdx, t.TypeArgs)
		if err != nil {
			return TypeTag{}, err
		}
		return TypeTag{Kind: t.Kind, Struct: &tag}, nil
	case TypeReference, TypeMutableReference, TypeParam:
		return TypeTag{}, newErr(CodeUnknownInvariantViolation, undefinedLoc(),
			"references and type parameters have no type tag", nil)
	default:
		return TypeTag{Kind: t.Kind}, nil
	}
}

// StructLayoutAt returns the memoized unannotated layout for
// (structIdx, typeArgs) plus the node-count delta it contributes, so a
// caller can add it to their own running budget whether the result was
// cached or freshly computed (spec.md §4.4).
func (tc *TypeCache) StructLayoutAt(structIdx int, typeArgs []Type, depth int) (Layout, int, error) {
	if depth > ValueDepthMax {
		return Layout{}, 0, newErr(CodeVMMaxValueDepthReached, undefinedLoc(), "layout recursion too deep", nil)
	}
	key := instantiationKey(structIdx, typeArgs)
	if l, ok := tc.layouts[key]; ok {
		return l, tc.nodeCounts[key].nodeCount, nil
	}
	st := tc.structs.At(structIdx)
	fields := make([]FieldLayout, len(st.FieldTypes))
	nodes := 1
	for i, ft := range st.FieldTypes {
		substituted := subst(ft, typeArgs)
		fl, n, err := tc.typeToLayout(substituted, depth+1)
		if err != nil {
			return Layout{}, 0, err
		}
		fields[i] = FieldLayout{Layout: fl}
		nodes += n
	}
	if nodes > MaxTypeToLayoutNodes {
		return Layout{}, 0, newErr(CodeTooManyTypeNodes, undefinedLoc(), "struct layout exceeds node budget", nil)
	}
	l := Layout{Kind: LayoutStruct, Fields: fields}
	tc.layouts[key] = l
	entry := tc.nodeCounts[key]
	entry.nodeCount = nodes
	tc.nodeCounts[key] = entry
	return l, nodes, nil
}

// AnnotatedStructLayoutAt is StructLayoutAt with field names and the
// struct's tag attached, backed by the LRU front cache.
func (tc *TypeCache) AnnotatedStructLayoutAt(structIdx int, typeArgs []Type, depth int) (AnnotatedLayout, int, error) {
	if depth > ValueDepthMax {
		return AnnotatedLayout{}, 0, newErr(CodeVMMaxValueDepthReached, undefinedLoc(), "layout recursion too deep", nil)
	}
	key := instantiationKey(structIdx, typeArgs)
	if l, ok := tc.annotatedLayouts.Get(key); ok {
		return l, tc.nodeCounts[key].annotatedNodeCount, nil
	}
	st := tc.structs.At(structIdx)
	tag, err := tc.StructTagAt(structIdx, typeArgs)
	if err != nil {
		return AnnotatedLayout{}, 0, err
	}
	fields := make([]AnnotatedFieldLayout, len(st.FieldTypes))
	nodes := 1
	for i, ft := range st.FieldTypes {
		substituted := subst(ft, typeArgs)
		fl, n, err := tc.typeToAnnotatedLayout(substituted, depth+1)
		if err != nil {
			return AnnotatedLayout{}, 0, err
		}
		fields[i] = AnnotatedFieldLayout{Name: st.FieldNames[i], Layout: fl}
		nodes += n
	}
	if nodes > MaxTypeToLayoutNodes {
		return AnnotatedLayout{}, 0, newErr(CodeTooManyTypeNodes, undefinedLoc(), "annotated struct layout exceeds node budget", nil)
	}
	l := AnnotatedLayout{Kind: LayoutStruct, Tag: &tag, Fields: fields}
	tc.annotatedLayouts.Add(key, l)
	entry := tc.nodeCounts[key]
	entry.annotatedNodeCount = nodes
	tc.nodeCounts[key] = entry
	return l, nodes, nil
}

func (tc *TypeCache) typeToLayout(t Type, depth int) (Layout, int, error) {
	if depth > ValueDepthMax {
		return Layout{}, 0, newErr(CodeVMMaxValueDepthReached, undefinedLoc(), "layout recursion too deep", nil)
	}
	switch t.Kind {
	case TypeVector:
		elem, n, err := tc.typeToLayout(*t.Elem, depth+1)
		if err != nil {
			return Layout{}, 0, err
		}
		return Layout{Kind: LayoutVector, Elem: &elem}, 1 + n, nil
	case TypeStruct, TypeStructInstantiation:
		l, n, err := tc.StructLayoutAt(t.StructIdx, t.TypeArgs, depth+1)
		return l, n, err
	case TypeReference, TypeMutableReference, TypeParam:
		return Layout{}, 0, newErr(CodeUnknownInvariantViolation, undefinedLoc(),
			"references and type parameters have no layout", nil)
	default:
		return Layout{Kind: LayoutKind(t.Kind)}, 1, nil
	}
}

func (tc *TypeCache) typeToAnnotatedLayout(t Type, depth int) (AnnotatedLayout, int, error) {
	if depth > ValueDepthMax {
		return AnnotatedLayout{}, 0, newErr(CodeVMMaxValueDepthReached, undefinedLoc(), "layout recursion too deep", nil)
	}
	switch t.Kind {
	case TypeVector:
		elem, n, err := tc.typeToAnnotatedLayout(*t.Elem, depth+1)
		if err != nil {
			return AnnotatedLayout{}, 0, err
		}
		return AnnotatedLayout{Kind: LayoutVector, Elem: &elem}, 1 + n, nil
	case TypeStruct, TypeStructInstantiation:
		return tc.AnnotatedStructLayoutAt(t.StructIdx, t.TypeArgs, depth+1)
	case TypeReference, TypeMutableReference, TypeParam:
		return AnnotatedLayout{}, 0, newErr(CodeUnknownInvariantViolation, undefinedLoc(),
			"references and type parameters have no layout", nil)
	default:
		return AnnotatedLayout{Kind: LayoutKind(t.Kind)}, 1, nil
	}
}

// subst substitutes ty_args into ty wherever a TypeParam appears, the
// operation spec.md §4.3 names directly ("subst(ty, ty_args)"). Callers
// must not rely on partial results after an error from a node-counting
// caller; subst itself never fails, counting happens in the caller.
func subst(ty Type, typeArgs []Type) Type {
	switch ty.Kind {
	case TypeParam:
		if int(ty.ParamIndex) < len(typeArgs) {
			return typeArgs[ty.ParamIndex]
		}
		return ty
	case TypeVector, TypeReference, TypeMutableReference:
		elem := subst(*ty.Elem, typeArgs)
		return Type{Kind: ty.Kind, Elem: &elem}
	case TypeStructInstantiation:
		args := make([]Type, len(ty.TypeArgs))
		for i, a := range ty.TypeArgs {
			args[i] = subst(a, typeArgs)
		}
		return Type{Kind: TypeStructInstantiation, StructIdx: ty.StructIdx, TypeArgs: args}
	default:
		return ty
	}
}
