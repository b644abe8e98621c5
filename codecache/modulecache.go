package codecache

// modulecache.go implements ModuleCache (C2, spec.md §4.2): the global
// interned pools of compiled modules, loaded modules, structs, and
// functions, plus the two-phase struct interning and the cursor/rollback
// transactional boundary.
//
// © codecache authors.

import (
	"fmt"

	"go.uber.org/zap"
)

// structKey and functionKey identify entries in the global struct/function
// pools by defining module + name — a struct or function is interned once
// per (defining module, name), matching spec.md §3's "resolved by
// (runtime_id_from_handle, struct_name) -> gidx".
type structKey struct {
	Module ModuleId
	Name   Name
}

type loadedModuleKey struct {
	Link      LinkContext
	RuntimeID ModuleId
}

// Cursor snapshots the struct/function pool watermarks before an ingestion
// attempt so a failure can roll back cleanly (spec.md §4.2 "Cursor /
// rollback").
type Cursor struct {
	lastStruct   int
	lastFunction int
}

// ModuleCache holds the four binary caches and the additive
// verified-dependencies set (spec.md §4.2).
type ModuleCache struct {
	compiledModules *BinaryCache[ModuleId, CompiledModule]
	loadedModules   *BinaryCache[loadedModuleKey, LoadedModule]
	structs         *BinaryCache[structKey, StructType]
	functions       *BinaryCache[structKey, Function]

	verifiedDependencies map[loadedModuleKey]bool

	logger *zap.Logger
}

func newModuleCache(logger *zap.Logger) *ModuleCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModuleCache{
		compiledModules:       NewBinaryCache[ModuleId, CompiledModule](),
		loadedModules:         NewBinaryCache[loadedModuleKey, LoadedModule](),
		structs:               NewBinaryCache[structKey, StructType](),
		functions:             NewBinaryCache[structKey, Function](),
		verifiedDependencies:  make(map[loadedModuleKey]bool),
		logger:                logger,
	}
}

// snapshot captures the current Cursor.
func (mc *ModuleCache) snapshot() Cursor {
	return Cursor{lastStruct: mc.structs.Len(), lastFunction: mc.functions.Len()}
}

// reset rolls the struct and function pools back to cursor, the
// transactional boundary described in spec.md §4.2: "a module is either
// fully interned with every struct and function present, or it contributes
// nothing".
func (mc *ModuleCache) reset(cursor Cursor) {
	if !mc.structs.RemoveKeysAt(cursor.lastStruct) {
		mc.logger.Warn("modulecache: struct pool key map inconsistent during rollback; possible concurrent corruption")
	}
	if !mc.functions.RemoveKeysAt(cursor.lastFunction) {
		mc.logger.Warn("modulecache: function pool key map inconsistent during rollback; possible concurrent corruption")
	}
	mc.structs.Truncate(cursor.lastStruct)
	mc.functions.Truncate(cursor.lastFunction)
}

// resolveStructByName hits the global pool directly (spec.md §4.2
// "Resolution by name").
func (mc *ModuleCache) resolveStructByName(definingID ModuleId, name Name) (*StructType, int, bool) {
	return mc.structs.GetWithIdx(structKey{Module: definingID, Name: name})
}

// resolveFunctionByName requires the LoadedModule under link and reads its
// name->index map (spec.md §4.2).
func (mc *ModuleCache) resolveFunctionByName(link LinkContext, runtimeID ModuleId, name Name) (int, bool) {
	lm, ok := mc.loadedModules.Get(loadedModuleKey{Link: link, RuntimeID: runtimeID})
	if !ok {
		return 0, false
	}
	idx, ok := lm.FunctionsByName[name]
	return idx, ok
}

/* -------------------------------------------------------------------------
   makeType — handle-to-Type translation (spec.md §4.2)
   ------------------------------------------------------------------------- */

// moduleResolver is the minimal view of a CompiledModule's handle tables
// makeType needs: the module being ingested (so same-module struct handles
// resolve against placeholders just inserted) plus the global struct pool.
type moduleResolver struct {
	cm             *CompiledModule
	mc             *ModuleCache
	placeholderIdx map[StructHandleIndex]int // struct handles defined in cm, already placed
}

// makeType recursively lowers a SignatureToken into a Type, resolving every
// struct handle against the global pool — or, for a handle naming a struct
// declared in the module being ingested, against the placeholder inserted
// in step 1 of addModule (spec.md §4.2 "make_type").
func (r *moduleResolver) makeType(tok SignatureToken) (Type, error) {
	switch tok.Kind {
	case TypeVector, TypeReference, TypeMutableReference:
		elem, err := r.makeType(*tok.Elem)
		if err != nil {
			return Type{}, err
		}
		return Type{Kind: tok.Kind, Elem: &elem}, nil
	case TypeParam:
		return Type{Kind: TypeParam, ParamIndex: tok.ParamIndex}, nil
	case TypeStruct, TypeStructInstantiation:
		gidx, err := r.resolveStructHandle(tok.StructIdx)
		if err != nil {
			return Type{}, err
		}
		if tok.Kind == TypeStruct {
			return Type{Kind: TypeStruct, StructIdx: gidx}, nil
		}
		args := make([]Type, len(tok.TypeArgs))
		for i, a := range tok.TypeArgs {
			at, err := r.makeType(a)
			if err != nil {
				return Type{}, err
			}
			args[i] = at
		}
		return Type{Kind: TypeStructInstantiation, StructIdx: gidx, TypeArgs: args}, nil
	default:
		return Type{Kind: tok.Kind}, nil
	}
}

func (r *moduleResolver) resolveStructHandle(h StructHandleIndex) (int, error) {
	if gidx, ok := r.placeholderIdx[h]; ok {
		return gidx, nil
	}
	sh := r.cm.StructHandles[h]
	mh := r.cm.ModuleHandles[sh.Module]
	definingID := ModuleId{Address: mh.Address, Name: mh.Name}
	_, gidx, ok := r.mc.resolveStructByName(definingID, sh.Name)
	if !ok {
		return 0, newErr(CodeTypeResolutionFailure, moduleLoc(r.cm.SelfId()),
			fmt.Sprintf("struct %q not found in %s", sh.Name, definingID), nil)
	}
	return gidx, nil
}

/* -------------------------------------------------------------------------
   addModule — ingestion pipeline (spec.md §4.2)
   ------------------------------------------------------------------------- */

// addModule ingests a structurally- and linkage-verified module into the
// four pools, following the mandatory struct-then-function order (spec.md
// §4.2, §5 "Ordering guarantees"). On any failure the caller must invoke
// reset(cursor) — addModule itself does not roll back, so that multiple
// modules of a bundle can be ingested under a single cursor when desired.
func (mc *ModuleCache) addModule(cm *CompiledModule, storageID, requestedRuntimeID ModuleId, definingIDs map[StructHandleIndex]ModuleId) (*LoadedModule, error) {
	selfID := cm.SelfId()
	res := &moduleResolver{cm: cm, mc: mc, placeholderIdx: make(map[StructHandleIndex]int)}

	// Step 1: insert placeholders for every struct defined in this module,
	// in declaration order, with empty Fields.
	for i, sd := range cm.StructDefs {
		handle := cm.StructHandles[sd.Handle]
		definingID := selfID
		if definingIDs != nil {
			if d, ok := definingIDs[sd.Handle]; ok {
				definingID = d
			}
		}
		placeholder := StructType{
			Abilities:  sd.Abilities,
			TypeParams: sd.TypeParams,
			Name:       handle.Name,
			RuntimeID:  selfID,
			DefiningID: definingID,
			DefIndex:   StructDefinitionIndex(i),
		}
		idx := mc.structs.Insert(structKey{Module: definingID, Name: handle.Name}, placeholder)
		res.placeholderIdx[sd.Handle] = idx
	}

	// Step 2: translate every struct's field signatures into Types, now
	// that every same-module struct handle resolves to a placeholder.
	fieldTypesByDef := make([][]Type, len(cm.StructDefs))
	fieldNamesByDef := make([][]Name, len(cm.StructDefs))
	for i, sd := range cm.StructDefs {
		names := make([]Name, len(sd.Fields))
		types := make([]Type, len(sd.Fields))
		for j, f := range sd.Fields {
			names[j] = f.Name
			t, err := res.makeType(f.Signature)
			if err != nil {
				return nil, err
			}
			types[j] = t
		}
		fieldNamesByDef[i] = names
		fieldTypesByDef[i] = types
	}

	// Step 3: walk the new structs in reverse, attaching translated field
	// types to the interned placeholders (spec.md §4.2 step 3).
	for i := len(cm.StructDefs) - 1; i >= 0; i-- {
		sd := cm.StructDefs[i]
		idx := res.placeholderIdx[sd.Handle]
		placeholder := *mc.structs.At(idx)
		placeholder.FieldNames = fieldNamesByDef[i]
		placeholder.FieldTypes = fieldTypesByDef[i]
		mc.attachFields(idx, placeholder)
	}

	// Step 4: translate function signatures and append to the global
	// function pool.
	functionGidx := make([]int, len(cm.FunctionDefs))
	functionsByName := make(map[Name]int, len(cm.FunctionDefs))
	for i, fd := range cm.FunctionDefs {
		handle := cm.FunctionHandles[fd.Handle]
		params, err := res.signatureToTypes(cm.Signatures[handle.Parameters])
		if err != nil {
			return nil, err
		}
		rets, err := res.signatureToTypes(cm.Signatures[handle.Return])
		if err != nil {
			return nil, err
		}
		var locals []Type
		var bytecode []byte
		if fd.Code != nil {
			bytecode = fd.Code.Bytecode
			locals, err = res.signatureToTypes(cm.Signatures[fd.Code.Locals])
			if err != nil {
				return nil, err
			}
		}
		fn := Function{
			FileFormatVersion:   cm.Version,
			Bytecode:            bytecode,
			ParamTypes:          params,
			LocalTypes:          locals,
			ReturnTypes:         rets,
			TypeParams:          handle.TypeParams,
			Scope:               FunctionScope{Kind: ScopeModule, ModuleID: selfID},
			Name:                handle.Name,
			DefIsNative:         fd.IsNative,
			DefIsFriendOrPrivate: fd.Visibility != VisibilityPublic,
		}
		gidx := mc.functions.Insert(structKey{Module: selfID, Name: handle.Name}, fn)
		functionGidx[i] = gidx
		functionsByName[handle.Name] = gidx
	}

	// Step 5: build the LoadedModule projection tables.
	loaded, err := mc.buildLoadedModule(cm, res, functionGidx, functionsByName)
	if err != nil {
		return nil, err
	}
	loaded.StorageID = storageID
	loaded.RuntimeID = requestedRuntimeID
	return loaded, nil
}

// attachFields writes the completed struct value back into the pool by
// replacing the slot with BinaryCache.Set. This module cannot observe
// reference counts the way the original Rust Arc<StructType> can, so it
// does not detect whether the placeholder's handle has already escaped to
// a caller; every attach is logged at Debug. A caller still holding the
// old *StructType keeps seeing the placeholder without fields.
func (mc *ModuleCache) attachFields(idx int, completed StructType) {
	mc.logger.Debug("modulecache: attaching completed struct fields", zap.Int("struct_idx", idx))
	mc.structs.Set(idx, completed)
}

// signatureToTypes lowers every token in a Signature to a Type.
func (r *moduleResolver) signatureToTypes(sig Signature) ([]Type, error) {
	out := make([]Type, len(sig))
	for i, tok := range sig {
		t, err := r.makeType(tok)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

// buildLoadedModule re-scans handles, instantiations, field handles, and
// the instruction stream to build the LoadedModule projection tables
// (spec.md §4.2 step 5).
func (mc *ModuleCache) buildLoadedModule(cm *CompiledModule, res *moduleResolver, functionGidx []int, functionsByName map[Name]int) (*LoadedModule, error) {
	structRefs := make([]int, len(cm.StructHandles))
	for i, sh := range cm.StructHandles {
		if gidx, ok := res.placeholderIdx[StructHandleIndex(i)]; ok {
			structRefs[i] = gidx
			continue
		}
		gidx, err := res.resolveStructHandle(StructHandleIndex(i))
		if err != nil {
			return nil, err
		}
		_ = sh
		structRefs[i] = gidx
	}

	functionRefs := make([]int, len(cm.FunctionHandles))
	selfID := cm.SelfId()
	for i, fh := range cm.FunctionHandles {
		mh := cm.ModuleHandles[fh.Module]
		definingID := ModuleId{Address: mh.Address, Name: mh.Name}
		if definingID == selfID {
			gidx, ok := functionsByName[fh.Name]
			if !ok {
				return nil, newErr(CodeFunctionResolutionFailure, moduleLoc(selfID),
					fmt.Sprintf("function %q not found in own module", fh.Name), nil)
			}
			functionRefs[i] = gidx
			continue
		}
		_, gidx, ok := mc.functions.GetWithIdx(structKey{Module: definingID, Name: fh.Name})
		if !ok {
			return nil, newErr(CodeFunctionResolutionFailure, moduleLoc(selfID),
				fmt.Sprintf("function %q not found in %s", fh.Name, definingID), nil)
		}
		functionRefs[i] = gidx
	}

	structInsts := make([]StructInstantiationRecord, len(cm.StructDefInstantiations))
	for i, sdi := range cm.StructDefInstantiations {
		sd := cm.StructDefs[sdi.Def]
		gidx := structRefs[sd.Handle]
		args, err := res.signatureToTypes(cm.Signatures[sdi.TypeParams])
		if err != nil {
			return nil, err
		}
		st := mc.structs.At(gidx)
		structInsts[i] = StructInstantiationRecord{StructIdx: gidx, TypeArgs: args, CachedNFields: len(st.FieldTypes)}
	}

	funcInsts := make([]FunctionInstantiationRecord, len(cm.FunctionInstantiations))
	for i, fi := range cm.FunctionInstantiations {
		args, err := res.signatureToTypes(cm.Signatures[fi.TypeParams])
		if err != nil {
			return nil, err
		}
		funcInsts[i] = FunctionInstantiationRecord{FunctionIdx: functionRefs[fi.Handle], TypeArgs: args}
	}

	fieldHandles := make([]FieldHandleRecord, len(cm.FieldHandles))
	for i, fh := range cm.FieldHandles {
		sd := cm.StructDefs[fh.Owner]
		fieldHandles[i] = FieldHandleRecord{OwnerStructIdx: structRefs[sd.Handle], Offset: int(fh.Field)}
	}

	fieldInsts := make([]FieldInstantiationRecord, len(cm.FieldInstantiations))
	for i, fi := range cm.FieldInstantiations {
		base := fieldHandles[fi.Handle]
		args, err := res.signatureToTypes(cm.Signatures[fi.TypeParams])
		if err != nil {
			return nil, err
		}
		fieldInsts[i] = FieldInstantiationRecord{OwnerStructIdx: base.OwnerStructIdx, Offset: base.Offset, TypeArgs: args}
	}

	singleSig := make(map[SignatureIndex]Type)
	for _, fd := range cm.FunctionDefs {
		if fd.Code == nil {
			continue
		}
		for _, sigIdx := range fd.Code.VecOpSignatures {
			if _, ok := singleSig[sigIdx]; ok {
				continue
			}
			tokens := cm.Signatures[sigIdx]
			if len(tokens) != 1 {
				continue
			}
			t, err := res.makeType(tokens[0])
			if err != nil {
				return nil, err
			}
			singleSig[sigIdx] = t
		}
	}

	// StorageID/RuntimeID are filled in by addModule, which knows the
	// requested identity; selfID is only a placeholder here.
	return &LoadedModule{
		StorageID:               selfID,
		RuntimeID:               selfID,
		StructRefs:              structRefs,
		FunctionRefs:            functionRefs,
		StructInstantiations:    structInsts,
		FunctionInstantiations:  funcInsts,
		FieldHandles:            fieldHandles,
		FieldInstantiations:     fieldInsts,
		FunctionsByName:         functionsByName,
		SingleSignatureTypes:    singleSig,
	}, nil
}
