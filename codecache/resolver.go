package codecache

// resolver.go implements Resolver (C6, spec.md §4.6): a thin per-frame view
// the interpreter uses to turn compile-time handles in a specific module or
// script into global types, field offsets, and function handles.
//
// Grounded on the teacher's "thin wrapper, no internal locking, caller
// synchronizes" pattern (pkg/shard.go's getOrLoad delegates straight
// through to its backing map without its own lock — the shard's owning
// Cache already holds one). Most of a Resolver's surface follows that
// pattern: mc.structs/mc.functions are append-only BinaryCache pools, safe
// to read without any lock once published. The TypeCache the two layout
// methods below reach into is not append-only in the same sense — it
// mutates its maps lazily on every cache miss — so those two call sites
// borrow the Loader's typeCacheMu instead of assuming immutability.

import (
	"fmt"
	"sync"
)

// MaxTypeInstantiationNodes bounds the sum of node counts of new type
// arguments plus a head's existing instantiation (spec.md §4.3).
const MaxTypeInstantiationNodes = 128

// resolverScope tags whether a Resolver is backed by a module or a script.
type resolverScope uint8

const (
	resolverModule resolverScope = iota
	resolverScript
)

// Resolver is built fresh for each interpreter frame; it is cheap to
// construct because it only borrows already-interned data.
type Resolver struct {
	scope resolverScope

	cm *CompiledModule
	lm *LoadedModule

	script *LoadedScript

	mc   *ModuleCache
	tc   *TypeCache
	tcMu sync.Locker
}

// NewModuleResolver builds a Resolver backed by a loaded module. tcMu is the
// Loader's typeCacheMu, shared by every Resolver the Loader hands out so
// concurrent frames never race on tc's lazily-populated maps. It is typed
// as sync.Locker rather than a concrete mutex type so the Loader can swap
// in an instrumented wrapper (metrics.go's timedMutex) without Resolver
// needing to know about it.
func NewModuleResolver(cm *CompiledModule, lm *LoadedModule, mc *ModuleCache, tc *TypeCache, tcMu sync.Locker) *Resolver {
	return &Resolver{scope: resolverModule, cm: cm, lm: lm, mc: mc, tc: tc, tcMu: tcMu}
}

// NewScriptResolver builds a Resolver backed by a loaded script.
func NewScriptResolver(ls *LoadedScript, mc *ModuleCache, tc *TypeCache, tcMu sync.Locker) *Resolver {
	return &Resolver{scope: resolverScript, script: ls, mc: mc, tc: tc, tcMu: tcMu}
}

func errUnreachableForScripts(op string) error {
	return newErr(CodeUnknownInvariantViolation, scriptLoc(), fmt.Sprintf("%s is unreachable for scripts", op), nil)
}

// ConstantAt returns borrowed constant bytes. The Move constant pool is
// part of the binary format (out of scope here, spec.md §6); codecache
// exposes the handle table only, so callers read constants off the
// CompiledModule directly — ConstantAt exists to give interpreters a single
// call surface regardless of module-vs-script scope.
func (r *Resolver) ConstantAt(idx int) ([]byte, error) {
	if r.scope == resolverScript {
		return nil, errUnreachableForScripts("constant_at")
	}
	if idx < 0 || idx >= len(r.cm.Metadata) {
		return nil, newErr(CodeUnknownInvariantViolation, moduleLoc(r.cm.SelfId()), "constant index out of range", nil)
	}
	return r.cm.Metadata[idx].Value, nil
}

// FunctionFromHandle resolves a compile-time function-handle index to its
// interned Function.
func (r *Resolver) FunctionFromHandle(idx int) (*Function, error) {
	var gidx int
	switch r.scope {
	case resolverModule:
		if idx < 0 || idx >= len(r.lm.FunctionRefs) {
			return nil, newErr(CodeFunctionResolutionFailure, moduleLoc(r.lm.RuntimeID), "function handle out of range", nil)
		}
		gidx = r.lm.FunctionRefs[idx]
	case resolverScript:
		if idx < 0 || idx >= len(r.script.FunctionRefs) {
			return nil, newErr(CodeFunctionResolutionFailure, scriptLoc(), "function handle out of range", nil)
		}
		gidx = r.script.FunctionRefs[idx]
	}
	return r.mc.functions.At(gidx), nil
}

// FunctionFromInstantiation resolves a function-instantiation index to its
// base Function (the interpreter substitutes the carried type arguments
// itself).
func (r *Resolver) FunctionFromInstantiation(idx int) (*Function, error) {
	var insts []FunctionInstantiationRecord
	var loc Location
	switch r.scope {
	case resolverModule:
		insts, loc = r.lm.FunctionInstantiations, moduleLoc(r.lm.RuntimeID)
	case resolverScript:
		insts, loc = r.script.FunctionInstantiations, scriptLoc()
	}
	if idx < 0 || idx >= len(insts) {
		return nil, newErr(CodeFunctionResolutionFailure, loc, "function instantiation out of range", nil)
	}
	return r.mc.functions.At(insts[idx].FunctionIdx), nil
}

// InstantiateGenericFunction substitutes tyArgs into a function
// instantiation's declared type arguments, enforcing the node budget
// (spec.md §4.3, §4.6).
func (r *Resolver) InstantiateGenericFunction(idx int, tyArgs []Type) ([]Type, error) {
	var insts []FunctionInstantiationRecord
	switch r.scope {
	case resolverModule:
		insts = r.lm.FunctionInstantiations
	case resolverScript:
		insts = r.script.FunctionInstantiations
	}
	if idx < 0 || idx >= len(insts) {
		return nil, newErr(CodeFunctionResolutionFailure, undefinedLoc(), "function instantiation out of range", nil)
	}
	return substWithBudget(insts[idx].TypeArgs, tyArgs)
}

// GetStructType returns the interned StructType for a struct-handle index
// (module scope only).
func (r *Resolver) GetStructType(defIdx int) (*StructType, error) {
	if r.scope == resolverScript {
		return nil, errUnreachableForScripts("get_struct_type")
	}
	if defIdx < 0 || defIdx >= len(r.lm.StructRefs) {
		return nil, newErr(CodeTypeResolutionFailure, moduleLoc(r.lm.RuntimeID), "struct handle out of range", nil)
	}
	return r.mc.structs.At(r.lm.StructRefs[defIdx]), nil
}

// InstantiateGenericType substitutes tyArgs into a struct instantiation,
// enforcing the node budget.
func (r *Resolver) InstantiateGenericType(instIdx int, tyArgs []Type) ([]Type, error) {
	var insts []StructInstantiationRecord
	var loc Location
	switch r.scope {
	case resolverModule:
		insts, loc = r.lm.StructInstantiations, moduleLoc(r.lm.RuntimeID)
	case resolverScript:
		return nil, errUnreachableForScripts("instantiate_generic_type")
	}
	if instIdx < 0 || instIdx >= len(insts) {
		return nil, newErr(CodeTypeResolutionFailure, loc, "struct instantiation out of range", nil)
	}
	return substWithBudget(insts[instIdx].TypeArgs, tyArgs)
}

// GetFieldType returns the declared type of a field named by a field
// handle, before substitution.
func (r *Resolver) GetFieldType(handleIdx int) (Type, error) {
	if r.scope == resolverScript {
		return Type{}, errUnreachableForScripts("get_field_type")
	}
	fh, err := r.fieldHandleAt(handleIdx)
	if err != nil {
		return Type{}, err
	}
	st := r.mc.structs.At(fh.OwnerStructIdx)
	if fh.Offset < 0 || fh.Offset >= len(st.FieldTypes) {
		return Type{}, newErr(CodeUnknownInvariantViolation, moduleLoc(r.lm.RuntimeID), "field offset out of range", nil)
	}
	return st.FieldTypes[fh.Offset], nil
}

// InstantiateGenericField substitutes tyArgs into a field instantiation's
// owning struct's type arguments and returns the resulting field type.
func (r *Resolver) InstantiateGenericField(instIdx int, tyArgs []Type) (Type, error) {
	if r.scope == resolverScript {
		return Type{}, errUnreachableForScripts("instantiate_generic_field")
	}
	if instIdx < 0 || instIdx >= len(r.lm.FieldInstantiations) {
		return Type{}, newErr(CodeTypeResolutionFailure, moduleLoc(r.lm.RuntimeID), "field instantiation out of range", nil)
	}
	fi := r.lm.FieldInstantiations[instIdx]
	args, err := substWithBudget(fi.TypeArgs, tyArgs)
	if err != nil {
		return Type{}, err
	}
	st := r.mc.structs.At(fi.OwnerStructIdx)
	if fi.Offset < 0 || fi.Offset >= len(st.FieldTypes) {
		return Type{}, newErr(CodeUnknownInvariantViolation, moduleLoc(r.lm.RuntimeID), "field offset out of range", nil)
	}
	return subst(st.FieldTypes[fi.Offset], args), nil
}

// GetStructFields returns the declared field types of a struct handle,
// before substitution.
func (r *Resolver) GetStructFields(defIdx int) ([]Type, error) {
	st, err := r.GetStructType(defIdx)
	if err != nil {
		return nil, err
	}
	return st.FieldTypes, nil
}

// InstantiateGenericStructFields substitutes tyArgs into every field of a
// struct instantiation.
func (r *Resolver) InstantiateGenericStructFields(instIdx int, tyArgs []Type) ([]Type, error) {
	if r.scope == resolverScript {
		return nil, errUnreachableForScripts("instantiate_generic_struct_fields")
	}
	if instIdx < 0 || instIdx >= len(r.lm.StructInstantiations) {
		return nil, newErr(CodeTypeResolutionFailure, moduleLoc(r.lm.RuntimeID), "struct instantiation out of range", nil)
	}
	inst := r.lm.StructInstantiations[instIdx]
	args, err := substWithBudget(inst.TypeArgs, tyArgs)
	if err != nil {
		return nil, err
	}
	st := r.mc.structs.At(inst.StructIdx)
	out := make([]Type, len(st.FieldTypes))
	for i, ft := range st.FieldTypes {
		out[i] = subst(ft, args)
	}
	return out, nil
}

func (r *Resolver) fieldHandleAt(idx int) (FieldHandleRecord, error) {
	if idx < 0 || idx >= len(r.lm.FieldHandles) {
		return FieldHandleRecord{}, newErr(CodeTypeResolutionFailure, moduleLoc(r.lm.RuntimeID), "field handle out of range", nil)
	}
	return r.lm.FieldHandles[idx], nil
}

// FieldOffset returns the offset of a field named by a field handle.
func (r *Resolver) FieldOffset(handleIdx int) (int, error) {
	fh, err := r.fieldHandleAt(handleIdx)
	if err != nil {
		return 0, err
	}
	return fh.Offset, nil
}

// FieldInstantiationOffset returns the offset of a field named by a field
// instantiation.
func (r *Resolver) FieldInstantiationOffset(instIdx int) (int, error) {
	if instIdx < 0 || instIdx >= len(r.lm.FieldInstantiations) {
		return 0, newErr(CodeTypeResolutionFailure, moduleLoc(r.lm.RuntimeID), "field instantiation out of range", nil)
	}
	return r.lm.FieldInstantiations[instIdx].Offset, nil
}

// FieldCount returns the declared field count of a struct instantiation's
// owning struct (module scope only).
func (r *Resolver) FieldCount(instIdx int) (int, error) {
	if instIdx < 0 || instIdx >= len(r.lm.StructInstantiations) {
		return 0, newErr(CodeTypeResolutionFailure, moduleLoc(r.lm.RuntimeID), "struct instantiation out of range", nil)
	}
	return r.lm.StructInstantiations[instIdx].CachedNFields, nil
}

// FieldInstantiationCount returns the field count of a field instantiation's
// owning struct.
func (r *Resolver) FieldInstantiationCount(instIdx int) (int, error) {
	if instIdx < 0 || instIdx >= len(r.lm.FieldInstantiations) {
		return 0, newErr(CodeTypeResolutionFailure, moduleLoc(r.lm.RuntimeID), "field instantiation out of range", nil)
	}
	st := r.mc.structs.At(r.lm.FieldInstantiations[instIdx].OwnerStructIdx)
	return len(st.FieldTypes), nil
}

// FieldHandleToStruct returns the global struct index a field handle belongs
// to.
func (r *Resolver) FieldHandleToStruct(handleIdx int) (int, error) {
	fh, err := r.fieldHandleAt(handleIdx)
	if err != nil {
		return 0, err
	}
	return fh.OwnerStructIdx, nil
}

// FieldInstantiationToStruct returns the global struct index a field
// instantiation belongs to.
func (r *Resolver) FieldInstantiationToStruct(instIdx int) (int, error) {
	if instIdx < 0 || instIdx >= len(r.lm.FieldInstantiations) {
		return 0, newErr(CodeTypeResolutionFailure, moduleLoc(r.lm.RuntimeID), "field instantiation out of range", nil)
	}
	return r.lm.FieldInstantiations[instIdx].OwnerStructIdx, nil
}

// SingleTypeAt returns the pre-resolved Type for a vector-opcode signature
// index. Always a prelookup, never recomputed (spec.md §4.6).
func (r *Resolver) SingleTypeAt(sigIdx SignatureIndex) (Type, error) {
	var table map[SignatureIndex]Type
	var loc Location
	switch r.scope {
	case resolverModule:
		table, loc = r.lm.SingleSignatureTypes, moduleLoc(r.lm.RuntimeID)
	case resolverScript:
		table, loc = r.script.SingleSignatureTypes, scriptLoc()
	}
	t, ok := table[sigIdx]
	if !ok {
		return Type{}, newErr(CodeTypeResolutionFailure, loc, "single-signature type not resolved", nil)
	}
	return t, nil
}

// InstantiateSingleType substitutes tyArgs into a single-signature type,
// skipping substitution entirely when tyArgs is empty (spec.md §4.6).
func (r *Resolver) InstantiateSingleType(sigIdx SignatureIndex, tyArgs []Type) (Type, error) {
	t, err := r.SingleTypeAt(sigIdx)
	if err != nil {
		return Type{}, err
	}
	if len(tyArgs) == 0 {
		return t, nil
	}
	return subst(t, tyArgs), nil
}

// TypeToTypeLayout delegates to the loader's TypeCache. The whole call,
// including the TypeVector recursion below, runs under a single write lock
// on tcMu: tc's own cache-miss paths mutate plain maps with no locking of
// their own (typecache.go), so the lock has to span every reentrant call
// into tc that one top-level TypeToTypeLayout can make, not just the final
// one. Taking and releasing it per-Type would race the recursive descent.
func (r *Resolver) TypeToTypeLayout(t Type) (Layout, int, error) {
	r.tcMu.Lock()
	defer r.tcMu.Unlock()
	return r.typeToTypeLayoutLocked(t)
}

func (r *Resolver) typeToTypeLayoutLocked(t Type) (Layout, int, error) {
	switch t.Kind {
	case TypeStruct, TypeStructInstantiation:
		return r.tc.StructLayoutAt(t.StructIdx, t.TypeArgs, 1)
	case TypeVector:
		elem, n, err := r.typeToTypeLayoutLocked(*t.Elem)
		if err != nil {
			return Layout{}, 0, err
		}
		return Layout{Kind: LayoutVector, Elem: &elem}, 1 + n, nil
	case TypeReference, TypeMutableReference, TypeParam:
		return Layout{}, 0, newErr(CodeUnknownInvariantViolation, undefinedLoc(), "references and type parameters have no layout", nil)
	default:
		return Layout{Kind: LayoutKind(t.Kind)}, 1, nil
	}
}

// TypeToFullyAnnotatedLayout delegates to the loader's TypeCache, under the
// same locking discipline as TypeToTypeLayout above.
func (r *Resolver) TypeToFullyAnnotatedLayout(t Type) (AnnotatedLayout, int, error) {
	r.tcMu.Lock()
	defer r.tcMu.Unlock()
	return r.typeToFullyAnnotatedLayoutLocked(t)
}

func (r *Resolver) typeToFullyAnnotatedLayoutLocked(t Type) (AnnotatedLayout, int, error) {
	switch t.Kind {
	case TypeStruct, TypeStructInstantiation:
		return r.tc.AnnotatedStructLayoutAt(t.StructIdx, t.TypeArgs, 1)
	case TypeVector:
		elem, n, err := r.typeToFullyAnnotatedLayoutLocked(*t.Elem)
		if err != nil {
			return AnnotatedLayout{}, 0, err
		}
		return AnnotatedLayout{Kind: LayoutVector, Elem: &elem}, 1 + n, nil
	case TypeReference, TypeMutableReference, TypeParam:
		return AnnotatedLayout{}, 0, newErr(CodeUnknownInvariantViolation, undefinedLoc(), "references and type parameters have no layout", nil)
	default:
		return AnnotatedLayout{Kind: LayoutKind(t.Kind)}, 1, nil
	}
}

// substWithBudget substitutes tyArgs into head's own type arguments,
// first counting nodes and rejecting the call before mutating anything if
// the budget is exceeded (spec.md §4.3 "subst(ty, ty_args) first counts
// nodes ... then performs the substitution").
func substWithBudget(head []Type, tyArgs []Type) ([]Type, error) {
	total := 0
	for _, t := range head {
		total += t.NodeCount()
	}
	for _, t := range tyArgs {
		total += t.NodeCount()
	}
	if total > MaxTypeInstantiationNodes {
		return nil, newErr(CodeTooManyTypeNodes, undefinedLoc(), "type instantiation exceeds node budget", nil)
	}
	out := make([]Type, len(head))
	for i, t := range head {
		out[i] = subst(t, tyArgs)
	}
	return out, nil
}
