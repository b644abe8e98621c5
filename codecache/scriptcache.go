package codecache

// scriptcache.go implements ScriptCache (C3, spec.md §4.5) and LoadedScript.
// Grounded on the teacher's shard.hash key-hashing idea, generalized from a
// fast structural maphash to a collision-resistant content hash because
// scripts are arbitrary user-supplied bytes (spec.md §4.3 "load_script").

import "crypto/sha256"

// HashScript computes the 32-byte content address of a script's bytes,
// spec.md §4.3: "Computes a 32-byte hash of the blob".
func HashScript(blob []byte) ScriptHash {
	return sha256.Sum256(blob)
}

// LoadedScript mirrors LoadedModule but for a single top-level entry point
// (spec.md §4.5).
type LoadedScript struct {
	Hash ScriptHash

	StructRefs   []int
	FunctionRefs []int

	FunctionInstantiations []FunctionInstantiationRecord

	Main *Function // Scope carries the script hash

	ParamTypes  []Type
	ReturnTypes []Type

	SingleSignatureTypes map[SignatureIndex]Type
}

// ScriptCache is a content-addressed cache of one-shot executable scripts
// (spec.md §4.5). Scripts live as long as their entry; the cache never ages
// them out (spec.md §3 "Lifecycles").
type ScriptCache struct {
	byHash *BinaryCache[ScriptHash, LoadedScript]
}

func newScriptCache() *ScriptCache {
	return &ScriptCache{byHash: NewBinaryCache[ScriptHash, LoadedScript]()}
}

func (sc *ScriptCache) get(hash ScriptHash) (*LoadedScript, bool) {
	return sc.byHash.Get(hash)
}

func (sc *ScriptCache) insert(hash ScriptHash, ls LoadedScript) *LoadedScript {
	idx := sc.byHash.Insert(hash, ls)
	return sc.byHash.At(idx)
}

// buildLoadedScript translates a CompiledScript's handle tables into a
// LoadedScript, resolving struct/function handles against the ModuleCache's
// global pools (every dependency is assumed already loaded by the caller —
// spec.md §4.3 "load_script" runs this only after its dependencies loaded).
func (mc *ModuleCache) buildLoadedScript(hash ScriptHash, cs *CompiledScript) (*LoadedScript, error) {
	structRefs := make([]int, len(cs.StructHandles))
	for i, sh := range cs.StructHandles {
		mh := cs.ModuleHandles[sh.Module]
		definingID := ModuleId{Address: mh.Address, Name: mh.Name}
		_, gidx, ok := mc.resolveStructByName(definingID, sh.Name)
		if !ok {
			return nil, newErr(CodeTypeResolutionFailure, scriptLoc(),
				"struct "+string(sh.Name)+" not found in "+definingID.String(), nil)
		}
		structRefs[i] = gidx
	}

	functionRefs := make([]int, len(cs.FunctionHandles))
	for i, fh := range cs.FunctionHandles {
		mh := cs.ModuleHandles[fh.Module]
		definingID := ModuleId{Address: mh.Address, Name: mh.Name}
		_, gidx, ok := mc.functions.GetWithIdx(structKey{Module: definingID, Name: fh.Name})
		if !ok {
			return nil, newErr(CodeFunctionResolutionFailure, scriptLoc(),
				"function "+string(fh.Name)+" not found in "+definingID.String(), nil)
		}
		functionRefs[i] = gidx
	}

	res := &scriptResolver{cs: cs, structRefs: structRefs}

	funcInsts := make([]FunctionInstantiationRecord, len(cs.FunctionInstantiations))
	for i, fi := range cs.FunctionInstantiations {
		args, err := res.signatureToTypes(cs.Signatures[fi.TypeParams])
		if err != nil {
			return nil, err
		}
		funcInsts[i] = FunctionInstantiationRecord{FunctionIdx: functionRefs[fi.Handle], TypeArgs: args}
	}

	params, err := res.signatureToTypes(cs.Signatures[cs.Parameters])
	if err != nil {
		return nil, err
	}

	// Script locals are the concatenation of parameters with declared
	// locals, matching the interpreter's frame layout (spec.md §4.5).
	var locals []Type
	if cs.Code != nil {
		localSig, err := res.signatureToTypes(cs.Signatures[cs.Code.Locals])
		if err != nil {
			return nil, err
		}
		locals = append(append([]Type{}, params...), localSig...)
	}

	singleSig := make(map[SignatureIndex]Type)
	if cs.Code != nil {
		for _, sigIdx := range cs.Code.VecOpSignatures {
			if _, ok := singleSig[sigIdx]; ok {
				continue
			}
			tokens := cs.Signatures[sigIdx]
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

	main := &Function{
		FileFormatVersion: cs.Version,
		ParamTypes:        params,
		LocalTypes:        locals,
		TypeParams:        cs.TypeParams,
		Scope:             FunctionScope{Kind: ScopeScript, ScriptHash: hash},
		Name:              "main",
	}
	if cs.Code != nil {
		main.Bytecode = cs.Code.Bytecode
	}

	return &LoadedScript{
		Hash:                   hash,
		StructRefs:             structRefs,
		FunctionRefs:           functionRefs,
		FunctionInstantiations: funcInsts,
		Main:                   main,
		ParamTypes:             params,
		SingleSignatureTypes:   singleSig,
	}, nil
}

// scriptResolver mirrors moduleResolver but for a CompiledScript, which has
// no self-module and so resolves every struct handle against the global
// pool directly (no placeholders).
type scriptResolver struct {
	cs         *CompiledScript
	structRefs []int
}

func (r *scriptResolver) makeType(tok SignatureToken) (Type, error) {
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
		gidx := r.structRefs[tok.StructIdx]
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

func (r *scriptResolver) signatureToTypes(sig Signature) ([]Type, error) {
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
