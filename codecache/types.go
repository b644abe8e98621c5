package codecache

// types.go defines the data model shared by every component of the loader:
// module identifiers, the Type sum type, struct and function records, and
// the index tables a LoadedModule uses to translate compile-time handles
// into global pool indices.
//
// Types, owners of functions, and bytecode views are small closed sum
// types by design — the set of cases is fixed by the Move binary format, so
// we use tagged variants (an enum-like Kind plus payload fields) rather than
// interfaces with dynamic dispatch. See spec.md §9 "Polymorphism and
// dispatch".
//
// © codecache authors.

import (
	"fmt"

	"github.com/movevm/codecache/internal/unsafehelpers"
)

// Name is an interned-looking identifier newtype. The original Rust loader
// represents names as Identifier (a boxed, interned str); Go strings are
// already immutable and cheap to compare, so a bare newtype is used instead
// of reinventing interning (see DESIGN.md).
type Name string

// NameFromBytes builds a Name from a raw byte slice without copying. The
// caller must guarantee b is never mutated afterward — used when a
// Deserializer implementation decodes an identifier table straight out of
// a memory-mapped module blob and wants to avoid allocating one string per
// name.
func NameFromBytes(b []byte) Name {
	return Name(unsafehelpers.BytesToString(b))
}

// Bytes returns a zero-copy view of n's bytes. The returned slice must not
// be mutated.
func (n Name) Bytes() []byte {
	return unsafehelpers.StringToBytes(string(n))
}

// ModuleId pairs the address a module is declared under with its name.
type ModuleId struct {
	Address [32]byte
	Name    Name
}

func (m ModuleId) String() string {
	return fmt.Sprintf("%x::%s", m.Address, m.Name)
}

// Identifiers groups the storage/runtime distinction described in spec.md
// §3: storage_id is where the module is physically fetched, runtime_id is
// the self-identifier declared inside the module. They coincide in simple
// deployments but diverge across upgrades.
type Identifiers struct {
	StorageID ModuleId
	RuntimeID ModuleId
}

// LinkContext disambiguates different views of the same runtime_id for the
// loaded-module cache only; no other pool's key includes it. Compiled
// modules are keyed on storage id. The global struct pool is keyed on each
// struct's defining module id and the function pool on the declaring
// module's self id, not on storage id.
type LinkContext struct {
	token string
}

// NewLinkContext wraps an opaque caller-supplied token (typically minted by
// the Store implementation, see store.go).
func NewLinkContext(token string) LinkContext { return LinkContext{token: token} }

func (c LinkContext) String() string { return c.token }

// ScriptHash is the 32-byte content address of a script's bytes (C3).
type ScriptHash [32]byte

func (h ScriptHash) String() string { return fmt.Sprintf("%x", h[:]) }

/* -------------------------------------------------------------------------
   Abilities
   ------------------------------------------------------------------------- */

// Ability is a capability bit gating what operations are legal on values of
// a type (spec.md GLOSSARY).
type Ability uint8

const (
	AbilityCopy Ability = 1 << iota
	AbilityDrop
	AbilityStore
	AbilityKey
)

// AbilitySet is a bitset of Ability flags.
type AbilitySet uint8

func (s AbilitySet) Has(a Ability) bool { return s&AbilitySet(a) != 0 }

// IsSubsetOf reports whether every ability in s is also present in other —
// used to check declared type-parameter constraints against a supplied
// type's computed ability set (spec.md §4.3 "Ability checking").
func (s AbilitySet) IsSubsetOf(other AbilitySet) bool { return s&^other == 0 }

func (s AbilitySet) Union(other AbilitySet) AbilitySet { return s | other }

// AllAbilities is the full ability set: the fixed ability set of bool, the
// integer types and address (references and signer have narrower fixed
// sets, see primitiveAbilities).
const AllAbilities AbilitySet = AbilitySet(AbilityCopy | AbilityDrop | AbilityStore | AbilityKey)

/* -------------------------------------------------------------------------
   Type
   ------------------------------------------------------------------------- */

// TypeKind tags the variant carried by a Type value.
type TypeKind uint8

const (
	TypeBool TypeKind = iota
	TypeU8
	TypeU16
	TypeU32
	TypeU64
	TypeU128
	TypeU256
	TypeAddress
	TypeSigner
	TypeVector
	TypeReference
	TypeMutableReference
	TypeParam
	TypeStruct
	TypeStructInstantiation
)

// Type is the sum type described in spec.md §3. It is represented as a
// tagged struct rather than an interface: the set of variants is closed by
// the Move bytecode format, and a closed tagged union lets Types be compared
// for structural equality with reflect.DeepEqual instead of a
// type-switch-based equality method scattered across implementations. Type
// holds a slice (TypeArgs), so it is not comparable with plain ==.
type Type struct {
	Kind TypeKind

	// Vector, Reference, MutableReference carry exactly one child type.
	Elem *Type

	// TyParam carries an index into the enclosing function/struct's
	// declared type parameters.
	ParamIndex uint16

	// Struct and StructInstantiation carry a stable global index into the
	// struct pool (see ModuleCache). gidx makes types comparable by integer
	// equality of their heads (spec.md §3).
	StructIdx int

	// StructInstantiation additionally carries the chosen type arguments.
	TypeArgs []Type
}

// IsStructLike reports whether t names a struct or a struct instantiation.
func (t Type) IsStructLike() bool {
	return t.Kind == TypeStruct || t.Kind == TypeStructInstantiation
}

// NodeCount returns the number of nodes in t's tree, used by the
// generic-instantiation and layout budgets (spec.md §4.3, MAX_TYPE_*).
func (t Type) NodeCount() int {
	switch t.Kind {
	case TypeVector, TypeReference, TypeMutableReference:
		return 1 + t.Elem.NodeCount()
	case TypeStructInstantiation:
		n := 1
		for _, a := range t.TypeArgs {
			n += a.NodeCount()
		}
		return n
	default:
		return 1
	}
}

// primitiveAbilities returns the fixed ability set for primitive kinds and
// references; it is the base case of the recursive ability computation
// described in spec.md §4.3.
func primitiveAbilities(k TypeKind) (AbilitySet, bool) {
	switch k {
	case TypeBool, TypeU8, TypeU16, TypeU32, TypeU64, TypeU128, TypeU256, TypeAddress:
		return AllAbilities, true
	case TypeSigner:
		return AbilitySet(AbilityDrop), true
	case TypeReference, TypeMutableReference:
		return AbilitySet(AbilityCopy | AbilityDrop), true
	default:
		return 0, false
	}
}

/* -------------------------------------------------------------------------
   StructType
   ------------------------------------------------------------------------- */

// TypeParamDecl records one declared generic parameter of a struct or
// function: its ability constraints and whether it is phantom.
type TypeParamDecl struct {
	Constraints AbilitySet
	IsPhantom   bool
}

// StructDefinitionIndex is the compile-time index of a struct definition
// within its declaring module's bytecode (opaque beyond identity here — the
// binary-format reader owns its meaning).
type StructDefinitionIndex uint16

// StructType is the interned, fully-resolved representation of a struct
// definition (spec.md §3 "StructType"). Fields are populated in two phases
// by ModuleCache.addModule: a placeholder with empty Fields is inserted
// first so that same-module struct handles can resolve against it, then
// Fields is attached once every struct in the module has a stable index.
type StructType struct {
	Abilities   AbilitySet
	TypeParams  []TypeParamDecl
	FieldNames  []Name
	FieldTypes  []Type
	RuntimeID   ModuleId
	DefiningID  ModuleId
	DefIndex    StructDefinitionIndex
	Name        Name
}

// AbilitySetForInstantiation computes the ability set of this struct when
// instantiated with typeArgs, combining the struct's declared abilities
// with the per-parameter phantom/non-phantom rule from spec.md §4.3: a
// phantom parameter's argument abilities do not propagate, a non-phantom
// parameter's do (via intersection with the struct's own set).
func (s *StructType) AbilitySetForInstantiation(typeArgs []AbilitySet) AbilitySet {
	result := s.Abilities
	for i, param := range s.TypeParams {
		if param.IsPhantom {
			continue
		}
		if i < len(typeArgs) {
			result &= typeArgs[i]
		}
	}
	return result
}

/* -------------------------------------------------------------------------
   Function
   ------------------------------------------------------------------------- */

// FunctionScope tags whether a Function belongs to a module or to a
// single-entry-point script (spec.md §3 "Function", Scope field).
type FunctionScopeKind uint8

const (
	ScopeModule FunctionScopeKind = iota
	ScopeScript
)

type FunctionScope struct {
	Kind       FunctionScopeKind
	ModuleID   ModuleId   // valid when Kind == ScopeModule
	ScriptHash ScriptHash // valid when Kind == ScopeScript
}

// NativeFn is the calling convention the interpreter uses to invoke a
// resolved native function. Its shape is defined by the VM and is out of
// scope here (spec.md §6); codecache only stores and resolves the pointer.
type NativeFn func(args []any) ([]any, error)

// Function is the interned, fully-resolved representation of a function
// definition or script entry point (spec.md §3 "Function").
type Function struct {
	FileFormatVersion uint32
	Bytecode          []byte // opaque to the loader
	ParamTypes        []Type
	LocalTypes        []Type
	ReturnTypes       []Type
	TypeParams        []AbilitySet
	Scope             FunctionScope
	Name              Name

	Native NativeFn // nil unless this is a native function with a resolved pointer

	DefIsNative           bool
	DefIsFriendOrPrivate  bool
}

/* -------------------------------------------------------------------------
   Index-table payload types used by LoadedModule / LoadedScript
   ------------------------------------------------------------------------- */

// StructInstantiationRecord is one entry of LoadedModule.StructInstantiations
// (spec.md §3): the generic struct's global index, the chosen type
// arguments, and a cached field count so Resolver.FieldCount doesn't need to
// re-walk the struct on every call.
type StructInstantiationRecord struct {
	StructIdx     int
	TypeArgs      []Type
	CachedNFields int
}

// FunctionInstantiationRecord is one entry of
// LoadedModule.FunctionInstantiations.
type FunctionInstantiationRecord struct {
	FunctionIdx int
	TypeArgs    []Type
}

// FieldHandleRecord is one entry of LoadedModule.FieldHandles: the owning
// struct's global index and the field's offset within it.
type FieldHandleRecord struct {
	OwnerStructIdx int
	Offset         int
}

// FieldInstantiationRecord is one entry of LoadedModule.FieldInstantiations.
type FieldInstantiationRecord struct {
	OwnerStructIdx int
	Offset         int
	TypeArgs       []Type
}

// LoadedModule is not a copy of the compiled module but the set of parallel
// index tables that project each compile-time handle into a global index
// (spec.md §3 "LoadedModule").
type LoadedModule struct {
	StorageID ModuleId
	RuntimeID ModuleId

	StructRefs   []int // handle index -> global struct index
	FunctionRefs []int // handle index -> global function index

	StructInstantiations   []StructInstantiationRecord
	FunctionInstantiations []FunctionInstantiationRecord
	FieldHandles           []FieldHandleRecord
	FieldInstantiations    []FieldInstantiationRecord

	FunctionsByName map[Name]int // name -> global function index

	// SingleSignatureTypes maps a SignatureIndex used by vector opcodes to
	// its single resolved Type (spec.md §3, §4.6 SingleTypeAt).
	SingleSignatureTypes map[SignatureIndex]Type
}

// SignatureIndex indexes a raw Signature within a module's bytecode.
type SignatureIndex uint16
