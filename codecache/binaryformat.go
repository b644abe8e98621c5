package codecache

// binaryformat.go defines the consumed binary-format surface (spec.md §6
// "Binary format (consumed)"): the shapes a deserialized compiled module or
// script exposes so the loader can walk handle tables, struct/function
// definitions, and the instruction stream. The deserializer itself — the
// thing that turns bytes into these structures — is an external
// collaborator (Deserializer below); codecache only defines what comes out
// of it.

// ModuleHandleIndex, StructHandleIndex, FunctionHandleIndex, and
// FieldHandleIndex index into a CompiledModule's own handle tables — they
// are compile-time handles, not global pool indices (spec.md GLOSSARY
// "Handle vs. definition").
type (
	ModuleHandleIndex   uint16
	StructHandleIndex   uint16
	FunctionHandleIndex uint16
	FieldHandleIndex    uint16
)

// ModuleHandle names a module (possibly this one, possibly a dependency) by
// address and name, as declared inside the bytecode.
type ModuleHandle struct {
	Address [32]byte
	Name    Name
}

// StructHandle references a struct declared in some module (by
// ModuleHandleIndex) by name. codecache resolves it against the global
// struct pool (ModuleCache.makeType).
type StructHandle struct {
	Module ModuleHandleIndex
	Name   Name
}

// FunctionHandle references a function declared in some module by name,
// together with its parameter/return signatures and declared type
// parameters.
type FunctionHandle struct {
	Module     ModuleHandleIndex
	Name       Name
	Parameters SignatureIndex
	Return     SignatureIndex
	TypeParams []AbilitySet
}

// SignatureToken is the symbolic, handle-based counterpart of Type: it
// refers to struct handles by StructHandleIndex rather than by global
// struct index. ModuleCache.makeType lowers a SignatureToken tree into a
// Type tree by resolving every StructHandleIndex (spec.md §4.2
// "Handle-to-Type translation").
type SignatureToken struct {
	Kind       TypeKind
	Elem       *SignatureToken
	ParamIndex uint16
	StructIdx  StructHandleIndex
	TypeArgs   []SignatureToken
}

// Signature is a list of SignatureTokens, referenced by SignatureIndex from
// function handles, field definitions, struct definitions, and
// instantiations.
type Signature []SignatureToken

// FieldDefinition is one field of a StructDefinition: its declared name and
// raw signature token (resolved into a Type by addModule, see spec.md §4.2
// steps 1-3).
type FieldDefinition struct {
	Name      Name
	Signature SignatureToken
}

// StructDefinition is the compile-time struct declaration as it appears in
// a module's bytecode.
type StructDefinition struct {
	Handle     StructHandleIndex
	Abilities  AbilitySet
	TypeParams []TypeParamDecl
	Fields     []FieldDefinition // empty/nil for a native struct
	IsNative   bool
}

// StructDefInstantiation names a generic struct definition together with
// the SignatureIndex of its instantiation's type arguments.
type StructDefInstantiation struct {
	Def        StructDefinitionIndex
	TypeParams SignatureIndex
}

// FunctionInstantiation names a function handle together with the
// SignatureIndex of its instantiation's type arguments.
type FunctionInstantiation struct {
	Handle     FunctionHandleIndex
	TypeParams SignatureIndex
}

// FieldHandle names a field by owning struct definition and offset.
type FieldHandle struct {
	Owner StructDefinitionIndex
	Field uint16
}

// FieldInstantiation names a field handle together with the SignatureIndex
// of its owning struct's instantiation.
type FieldInstantiation struct {
	Handle     FieldHandleIndex
	TypeParams SignatureIndex
}

// Visibility summarizes a function definition's declared visibility, used
// by def_is_friend_or_private (spec.md §3 "Function").
type Visibility uint8

const (
	VisibilityPrivate Visibility = iota
	VisibilityFriend
	VisibilityPublic
)

// CodeUnit is the opaque bytecode body of a function definition, plus the
// subset of structure the loader needs without interpreting the bytecode:
// the list of SignatureIndex values referenced by vector opcodes, used
// solely to populate LoadedModule.SingleSignatureTypes (spec.md §4.2 step
// 5).
type CodeUnit struct {
	Locals         SignatureIndex
	Bytecode       []byte
	VecOpSignatures []SignatureIndex
}

// FunctionDefinition is the compile-time function declaration.
type FunctionDefinition struct {
	Handle     FunctionHandleIndex
	Visibility Visibility
	IsEntry    bool
	IsNative   bool
	Code       *CodeUnit // nil when IsNative
}

// Metadata is a single opaque key/value annotation attached to a compiled
// module (spec.md §6 "Metadata").
type Metadata struct {
	Key   []byte
	Value []byte
}

// CompiledModule is the deserialized, not-yet-verified representation of a
// module's bytecode (spec.md §6).
type CompiledModule struct {
	Version uint32

	SelfModuleHandle ModuleHandleIndex
	ModuleHandles    []ModuleHandle
	StructHandles    []StructHandle
	FunctionHandles  []FunctionHandle
	FieldHandles     []FieldHandle

	StructDefs              []StructDefinition
	StructDefInstantiations []StructDefInstantiation
	FunctionDefs            []FunctionDefinition
	FunctionInstantiations  []FunctionInstantiation
	FieldInstantiations     []FieldInstantiation

	Signatures []Signature
	Metadata   []Metadata
}

// SelfId returns the ModuleId this module declares for itself (spec.md §3:
// "runtime_id is the self-identifier declared inside the module").
func (m *CompiledModule) SelfId() ModuleId {
	h := m.ModuleHandles[m.SelfModuleHandle]
	return ModuleId{Address: h.Address, Name: h.Name}
}

// ImmediateDependencies returns every module this one references via its
// handle table, excluding itself.
func (m *CompiledModule) ImmediateDependencies() []ModuleId {
	self := m.SelfModuleHandle
	var deps []ModuleId
	for i, h := range m.ModuleHandles {
		if ModuleHandleIndex(i) == self {
			continue
		}
		deps = append(deps, ModuleId{Address: h.Address, Name: h.Name})
	}
	return deps
}

// GetMetadata returns a copy of the first metadata entry whose key matches,
// or (nil, false) if absent (spec.md §6).
func (m *CompiledModule) GetMetadata(key []byte) ([]byte, bool) {
	for _, md := range m.Metadata {
		if string(md.Key) == string(key) {
			v := make([]byte, len(md.Value))
			copy(v, md.Value)
			return v, true
		}
	}
	return nil, false
}

// CompiledScript is the deserialized representation of a one-shot
// executable script (spec.md §4.5 "LoadedScript").
type CompiledScript struct {
	Version uint32

	ModuleHandles   []ModuleHandle
	StructHandles   []StructHandle
	FunctionHandles []FunctionHandle
	FieldHandles    []FieldHandle

	FunctionInstantiations []FunctionInstantiation
	FieldInstantiations    []FieldInstantiation

	Signatures []Signature

	Parameters  SignatureIndex
	TypeParams  []AbilitySet
	Locals      SignatureIndex
	Code        *CodeUnit
}

// Deserializer is the external collaborator that parses raw bytes into a
// CompiledModule or CompiledScript (spec.md §6 "Binary format (consumed)").
type Deserializer interface {
	DeserializeModule(bytes []byte, maxVersion uint32) (*CompiledModule, error)
	DeserializeScript(bytes []byte, maxVersion uint32) (*CompiledScript, error)
}
