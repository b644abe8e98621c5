package codecache

// loader.go implements Loader (C5, spec.md §4.3): the orchestrator that
// turns a (runtime_id, link_context) request into deserialized, verified,
// interned modules and functions ready for a Resolver.
//
// The single-flight de-duplication is grounded directly on the teacher's
// pkg/loader.go loaderGroup[K,V], reused nearly verbatim for module and
// script loads — spec.md §5 describes exactly the thundering-herd problem
// that component exists to solve. The fan-out over a module's immediate
// dependencies is grounded on golang.org/x/sync/errgroup, already present
// in the teacher's go.mod alongside singleflight.
//
// © codecache authors.

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Loader orchestrates deserialization, verification, dependency traversal,
// and intern-pool insertion (spec.md §4.3). Each of its three caches is
// guarded by an independent RWMutex (spec.md §5).
type Loader struct {
	moduleCacheMu timedMutex
	moduleCache   *ModuleCache

	scriptCacheMu timedMutex
	scriptCache   *ScriptCache

	typeCacheMu timedMutex
	typeCache   *TypeCache

	natives      NativeRegistry
	deserializer Deserializer

	structuralVerifier StructuralVerifier
	linkageVerifier    LinkageVerifier
	cycleVerifier      CycleVerifier

	cfg     *Config
	metrics metricsSink
	logger  *zap.Logger

	moduleLoads singleflight.Group
	scriptLoads singleflight.Group
}

// NewLoader constructs a Loader. deserializer and the three verifiers are
// the external collaborators spec.md §6 names; natives resolves native
// function pointers.
func NewLoader(deserializer Deserializer, structural StructuralVerifier, linkage LinkageVerifier, cycles CycleVerifier, natives NativeRegistry, opts ...Option) (*Loader, error) {
	cfg := defaultConfig()
	if err := applyOptions(cfg, opts); err != nil {
		return nil, err
	}
	mc := newModuleCache(cfg.logger)
	metrics := newMetricsSink(cfg.registry)
	return &Loader{
		moduleCacheMu:      newTimedMutex(metrics, "module_cache"),
		moduleCache:        mc,
		scriptCacheMu:      newTimedMutex(metrics, "script_cache"),
		scriptCache:        newScriptCache(),
		typeCacheMu:        newTimedMutex(metrics, "type_cache"),
		typeCache:          newTypeCache(mc.structs),
		natives:            natives,
		deserializer:       deserializer,
		structuralVerifier: structural,
		linkageVerifier:    linkage,
		cycleVerifier:      cycles,
		cfg:                cfg,
		metrics:            metrics,
		logger:             cfg.logger,
	}, nil
}

/* -------------------------------------------------------------------------
   load_function / load_script — public entry points (spec.md §4.3)
   ------------------------------------------------------------------------- */

// LoadFunction ensures runtimeID is loaded, resolves name within it under
// the store's current link context, pre-translates the function's
// parameter/return signatures, and checks tyArgs against its declared
// ability constraints.
func (l *Loader) LoadFunction(ctx context.Context, store Store, runtimeID ModuleId, name Name, tyArgs []Type) (*CompiledModule, *LoadedModule, *Function, []Type, error) {
	ctx, span := l.startSpan(ctx, "codecache.LoadFunction", attrRuntimeID.String(runtimeID.String()))
	var err error
	defer func() { endSpan(span, err) }()

	link, err := store.LinkContext(ctx)
	if err != nil {
		return nil, nil, nil, nil, newErr(CodeMissingDependency, moduleLoc(runtimeID), "failed to read link context", err)
	}

	cm, lm, err := l.loadModuleInternal(ctx, store, link, runtimeID, true, newVisitingSet())
	if err != nil {
		return nil, nil, nil, nil, err
	}

	l.moduleCacheMu.RLock()
	gidx, ok := lm.FunctionsByName[name]
	l.moduleCacheMu.RUnlock()
	if !ok {
		err = newErr(CodeFunctionResolutionFailure, moduleLoc(runtimeID), fmt.Sprintf("function %q not found", name), nil)
		return nil, nil, nil, nil, err
	}

	l.moduleCacheMu.RLock()
	fn := l.moduleCache.functions.At(gidx)
	l.moduleCacheMu.RUnlock()

	if err = l.checkAbilities(fn.TypeParams, tyArgs); err != nil {
		return nil, nil, nil, nil, err
	}

	return cm, lm, fn, tyArgs, nil
}

// LoadScript computes the 32-byte hash of blob; on cache hit returns the
// stored entry point plus parameter/return types without re-deserializing.
// On miss it deserializes, structurally verifies, loads every immediate
// dependency, linkage-verifies, builds a LoadedScript, and inserts it.
// ty_args are checked against the entry point's declared abilities on
// every call, hit or miss (spec.md §4.3, seed scenario 6).
func (l *Loader) LoadScript(ctx context.Context, store Store, blob []byte, tyArgs []Type) (*LoadedScript, error) {
	hash := HashScript(blob)
	ctx, span := l.startSpan(ctx, "codecache.LoadScript", attrScriptHash.String(hash.String()))
	var err error
	defer func() { endSpan(span, err) }()

	l.scriptCacheMu.RLock()
	ls, hit := l.scriptCache.get(hash)
	l.scriptCacheMu.RUnlock()

	if !hit {
		v, loadErr, _ := l.scriptLoads.Do(hash.String(), func() (any, error) {
			return l.ingestScript(ctx, store, hash, blob)
		})
		if loadErr != nil {
			err = loadErr
			return nil, err
		}
		ls = v.(*LoadedScript)
		l.metrics.incMiss()
	} else {
		l.metrics.incHit()
	}

	if err = l.checkAbilities(ls.Main.TypeParams, tyArgs); err != nil {
		return nil, err
	}
	return ls, nil
}

func (l *Loader) ingestScript(ctx context.Context, store Store, hash ScriptHash, blob []byte) (*LoadedScript, error) {
	l.scriptCacheMu.RLock()
	if ls, ok := l.scriptCache.get(hash); ok {
		l.scriptCacheMu.RUnlock()
		return ls, nil
	}
	l.scriptCacheMu.RUnlock()

	cs, err := l.deserializer.DeserializeScript(blob, l.cfg.MaxBinaryFormatVersion)
	if err != nil {
		return nil, newErr(CodeCodeDeserializationError, scriptLoc(), "failed to deserialize script", err)
	}
	if err := l.structuralVerifier.VerifyScript(cs, VerifierConfig{MaxBinaryFormatVersion: l.cfg.MaxBinaryFormatVersion, ParanoidTypeChecks: l.cfg.ParanoidTypeChecks}); err != nil {
		return nil, newErr(CodeVerificationError, scriptLoc(), "script structural verification failed", err)
	}

	link, err := store.LinkContext(ctx)
	if err != nil {
		return nil, newErr(CodeMissingDependency, scriptLoc(), "failed to read link context", err)
	}

	deps := make(map[ModuleId]*CompiledModule)
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	visiting := newVisitingSet()
	for _, mh := range cs.ModuleHandles {
		depID := ModuleId{Address: mh.Address, Name: mh.Name}
		g.Go(func() error {
			depCM, _, err := l.loadModuleInternal(gctx, store, link, depID, false, visiting)
			if err != nil {
				return err
			}
			mu.Lock()
			deps[depID] = depCM
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := l.linkageVerifier.VerifyScript(cs, deps); err != nil {
		return nil, err
	}

	l.moduleCacheMu.Lock()
	ls, err := l.moduleCache.buildLoadedScript(hash, cs)
	l.moduleCacheMu.Unlock()
	if err != nil {
		return nil, err
	}

	l.scriptCacheMu.Lock()
	stored := l.scriptCache.insert(hash, *ls)
	l.scriptCacheMu.Unlock()
	return stored, nil
}

/* -------------------------------------------------------------------------
   load_module_internal — the module load pipeline (spec.md §4.3)
   ------------------------------------------------------------------------- */

// visitingSet tracks in-flight runtime ids within a single top-level call,
// for the downward-walk cycle check spec.md §4.3/§4.4 describes alongside
// the full-closure check.
type visitingSet struct {
	mu sync.Mutex
	m  map[ModuleId]bool
}

func newVisitingSet() *visitingSet { return &visitingSet{m: make(map[ModuleId]bool)} }

func (v *visitingSet) enter(id ModuleId) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.m[id] {
		return false
	}
	v.m[id] = true
	return true
}

func (v *visitingSet) leave(id ModuleId) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.m, id)
}

// loadModuleInternal implements spec.md §4.3's numbered pipeline.
// allowLoadingFailure is true only for the root request of a call chain;
// transitive dependency failures are never recovered from (spec.md §4.3
// step 2c).
func (l *Loader) loadModuleInternal(ctx context.Context, store Store, link LinkContext, runtimeID ModuleId, allowLoadingFailure bool, visiting *visitingSet) (*CompiledModule, *LoadedModule, error) {
	lmKey := loadedModuleKey{Link: link, RuntimeID: runtimeID}

	// Step 1: fast path under the read lock.
	l.moduleCacheMu.RLock()
	if lm, ok := l.moduleCache.loadedModules.Get(lmKey); ok {
		cm, _ := l.moduleCache.compiledModules.Get(lm.StorageID)
		l.moduleCacheMu.RUnlock()
		l.metrics.incHit()
		return cm, lm, nil
	}
	l.moduleCacheMu.RUnlock()
	l.metrics.incMiss()

	if l.cfg.MaxDependencyDepth > 0 && depth(ctx) > l.cfg.MaxDependencyDepth {
		return nil, nil, newErr(CodeMaxDependencyDepthReached, moduleLoc(runtimeID), "dependency depth exceeded", nil)
	}

	if !visiting.enter(runtimeID) {
		// Already being loaded by an ancestor frame in this call: a cycle.
		return nil, nil, newErr(CodeCyclicModuleDependency, moduleLoc(runtimeID), "cyclic dependency detected during traversal", nil)
	}
	defer visiting.leave(runtimeID)

	v, err, _ := l.moduleLoads.Do(link.String()+"|"+runtimeID.String(), func() (any, error) {
		return l.verifyAndIngest(context.WithValue(ctx, depthKey{}, depth(ctx)+1), store, link, runtimeID, visiting)
	})
	if err != nil {
		if !allowLoadingFailure {
			return nil, nil, newErr(CodeMissingDependency, moduleLoc(runtimeID), "dependency failed to load", err)
		}
		return nil, nil, err
	}
	pair := v.(loadedPair)

	// Re-check after the write-path has run: another goroutine may have
	// inserted first (spec.md §5 "pipeline re-checks the cache after
	// taking the write lock").
	l.moduleCacheMu.RLock()
	if lm, ok := l.moduleCache.loadedModules.Get(lmKey); ok {
		cm, _ := l.moduleCache.compiledModules.Get(lm.StorageID)
		l.moduleCacheMu.RUnlock()
		return cm, lm, nil
	}
	l.moduleCacheMu.RUnlock()

	return pair.cm, pair.lm, nil
}

type depthKey struct{}

func depth(ctx context.Context) int {
	if v, ok := ctx.Value(depthKey{}).(int); ok {
		return v
	}
	return 0
}

type loadedPair struct {
	cm *CompiledModule
	lm *LoadedModule
}

// verifyAndIngest performs steps 2-4 of spec.md §4.3's pipeline: relocate,
// deserialize + structurally verify (heavy work done without holding the
// module-cache lock), recurse into dependencies, linkage-verify, cycle
// check, then take the write lock only for the final insertion.
func (l *Loader) verifyAndIngest(ctx context.Context, store Store, link LinkContext, runtimeID ModuleId, visiting *visitingSet) (loadedPair, error) {
	lmKey := loadedModuleKey{Link: link, RuntimeID: runtimeID}

	l.moduleCacheMu.RLock()
	if lm, ok := l.moduleCache.loadedModules.Get(lmKey); ok {
		cm, _ := l.moduleCache.compiledModules.Get(lm.StorageID)
		l.moduleCacheMu.RUnlock()
		return loadedPair{cm: cm, lm: lm}, nil
	}
	l.moduleCacheMu.RUnlock()

	storageID, err := store.Relocate(ctx, runtimeID)
	if err != nil {
		return loadedPair{}, newErr(CodeMissingDependency, moduleLoc(runtimeID), "failed to relocate module", err)
	}

	l.moduleCacheMu.RLock()
	cm, cmCached := l.moduleCache.compiledModules.Get(storageID)
	l.moduleCacheMu.RUnlock()

	if !cmCached {
		bytes, err := store.LoadModule(ctx, storageID)
		if err != nil {
			return loadedPair{}, newErr(CodeMissingDependency, moduleLoc(runtimeID), "failed to fetch module bytes", err)
		}
		cm, err = l.deserializer.DeserializeModule(bytes, l.cfg.MaxBinaryFormatVersion)
		if err != nil {
			return loadedPair{}, newErr(CodeCodeDeserializationError, moduleLoc(runtimeID), "failed to deserialize module", err)
		}
		if l.cfg.ParanoidTypeChecks && cm.SelfId() != runtimeID {
			return loadedPair{}, newErr(CodeUnknownInvariantViolation, moduleLoc(runtimeID),
				fmt.Sprintf("module self id %s does not match requested runtime id", cm.SelfId()), nil)
		}
		verCfg := VerifierConfig{MaxBinaryFormatVersion: l.cfg.MaxBinaryFormatVersion, ParanoidTypeChecks: l.cfg.ParanoidTypeChecks}
		if err := l.structuralVerifier.VerifyModule(cm, verCfg); err != nil {
			l.logger.Warn("loader: structural verification failed", zap.String("runtime_id", runtimeID.String()), zap.Error(err))
			return loadedPair{}, newErr(CodeVerificationError, moduleLoc(runtimeID), "structural verification failed", err)
		}
		// Mirrors original_source/loader.rs's read_module_from_store: natives
		// are checked before the module is ever cached, so an unresolved
		// native fails fast instead of leaving a half-trusted module in
		// compiled_modules.
		if err := nativesResolvable(l.natives, cm, l.cfg.LazyNatives); err != nil {
			return loadedPair{}, err
		}
		l.moduleCacheMu.Lock()
		l.moduleCache.compiledModules.Insert(storageID, *cm)
		l.moduleCacheMu.Unlock()
	}

	// Each struct this module defines may have originally been defined in a
	// different runtime id — the store, not the module itself, is the
	// authority on defining identity (spec.md §6 "Data store (consumed)").
	definingIDs := make(map[StructHandleIndex]ModuleId, len(cm.StructDefs))
	for _, sd := range cm.StructDefs {
		handle := cm.StructHandles[sd.Handle]
		definingID, err := store.DefiningModule(ctx, runtimeID, handle.Name)
		if err != nil {
			return loadedPair{}, newErr(CodeMissingDependency, moduleLoc(runtimeID), "failed to resolve defining module", err)
		}
		definingIDs[sd.Handle] = definingID
	}

	l.moduleCacheMu.RLock()
	alreadyVerified := l.moduleCache.verifiedDependencies[lmKey]
	l.moduleCacheMu.RUnlock()

	depMap := make(map[ModuleId]*CompiledModule)
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	for _, depID := range cm.ImmediateDependencies() {
		depID := depID
		g.Go(func() error {
			depCM, _, err := l.loadModuleInternal(gctx, store, link, depID, false, visiting)
			if err != nil {
				return err
			}
			mu.Lock()
			depMap[depID] = depCM
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return loadedPair{}, err
	}

	if !alreadyVerified {
		if err := l.linkageVerifier.VerifyModule(cm, depMap); err != nil {
			l.logger.Warn("loader: linkage verification failed", zap.String("runtime_id", runtimeID.String()), zap.Error(err))
			return loadedPair{}, err
		}
		l.moduleCacheMu.Lock()
		l.moduleCache.verifiedDependencies[lmKey] = true
		l.moduleCacheMu.Unlock()
	}

	if err := l.checkClosureAcyclic(runtimeID, cm); err != nil {
		l.metrics.incCycleRejection()
		return loadedPair{}, err
	}

	l.moduleCacheMu.Lock()
	if existing, ok := l.moduleCache.loadedModules.Get(lmKey); ok {
		// Another goroutine interned this module first; discard this result.
		existingCM, _ := l.moduleCache.compiledModules.Get(existing.StorageID)
		l.moduleCacheMu.Unlock()
		return loadedPair{cm: existingCM, lm: existing}, nil
	}
	cursor := l.moduleCache.snapshot()
	lm, err := l.moduleCache.addModule(cm, storageID, runtimeID, definingIDs)
	if err != nil {
		l.moduleCache.reset(cursor)
		l.moduleCacheMu.Unlock()
		l.metrics.incRollback()
		l.logger.Warn("loader: rolling back module ingestion", zap.String("runtime_id", runtimeID.String()), zap.Error(err))
		return loadedPair{}, err
	}
	if err := l.resolveModuleNatives(cm, lm); err != nil {
		l.moduleCache.reset(cursor)
		l.moduleCacheMu.Unlock()
		l.metrics.incRollback()
		l.logger.Warn("loader: rolling back module after native resolution failure", zap.String("runtime_id", runtimeID.String()), zap.Error(err))
		return loadedPair{}, err
	}
	l.moduleCache.loadedModules.Insert(lmKey, *lm)
	l.metrics.setStructPoolSize(l.moduleCache.structs.Len())
	l.metrics.setFunctionPoolSize(l.moduleCache.functions.Len())
	l.moduleCacheMu.Unlock()

	return loadedPair{cm: cm, lm: lm}, nil
}

// resolveModuleNatives attaches a native pointer to every native function
// definition's interned Function, mirroring original_source/loader.rs's
// check_natives. Must be called with moduleCacheMu held for writing — it
// mutates the function pool in place.
func (l *Loader) resolveModuleNatives(cm *CompiledModule, lm *LoadedModule) error {
	selfID := cm.SelfId()
	for _, fd := range cm.FunctionDefs {
		if !fd.IsNative {
			continue
		}
		gidx := lm.FunctionRefs[fd.Handle]
		fn := *l.moduleCache.functions.At(gidx)
		if err := checkNatives(l.natives, selfID.Address, selfID.Name, &fn, l.cfg.LazyNatives); err != nil {
			return err
		}
		l.moduleCache.functions.Set(gidx, fn)
	}
	return nil
}

// checkClosureAcyclic runs the full-closure cycle check (spec.md §4.3 step
// 3, §4.4) in addition to the downward-walk visiting-set check already
// performed by loadModuleInternal.
func (l *Loader) checkClosureAcyclic(root ModuleId, cm *CompiledModule) error {
	closure := make(map[ModuleId][]ModuleId)
	seen := make(map[ModuleId]bool)
	var walk func(id ModuleId, m *CompiledModule)
	walk = func(id ModuleId, m *CompiledModule) {
		if seen[id] {
			return
		}
		seen[id] = true
		deps := m.ImmediateDependencies()
		closure[id] = deps
		for _, d := range deps {
			l.moduleCacheMu.RLock()
			depCM, ok := l.moduleCache.compiledModules.Get(d)
			l.moduleCacheMu.RUnlock()
			if ok {
				walk(d, depCM)
			}
		}
	}
	walk(root, cm)
	return l.cycleVerifier.VerifyAcyclic(closure, root)
}

/* -------------------------------------------------------------------------
   Bundle publication (spec.md §4.3 "verify_module_bundle_for_publication")
   ------------------------------------------------------------------------- */

// VerifyModuleBundleForPublication verifies a set of modules intended to be
// published together. Unresolved references may be satisfied either by an
// earlier module in the bundle or by an already-cached compiled module.
// Bundle verification never mutates any cache.
func (l *Loader) VerifyModuleBundleForPublication(ctx context.Context, bundle []*CompiledModule) error {
	ctx, span := l.startSpan(ctx, "codecache.VerifyModuleBundleForPublication")
	var err error
	defer func() { endSpan(span, err) }()

	bundleMap := make(map[ModuleId]*CompiledModule, len(bundle))
	verCfg := VerifierConfig{MaxBinaryFormatVersion: l.cfg.MaxBinaryFormatVersion, ParanoidTypeChecks: l.cfg.ParanoidTypeChecks}

	for _, cm := range bundle {
		if err = l.structuralVerifier.VerifyModule(cm, verCfg); err != nil {
			return newErr(CodeVerificationError, moduleLoc(cm.SelfId()), "bundle member failed structural verification", err)
		}
		if err = nativesResolvable(l.natives, cm, l.cfg.LazyNatives); err != nil {
			return err
		}
	}

	closure := make(map[ModuleId][]ModuleId)
	depMap := make(map[ModuleId]*CompiledModule)

	// Dependencies outside the bundle must already be loaded; this function
	// takes no Store, so it looks them up by the id named in the bundle
	// member's own handle table rather than relocating through the store.
	for _, cm := range bundle {
		deps := cm.ImmediateDependencies()
		closure[cm.SelfId()] = deps
		for _, depID := range deps {
			if dep, ok := bundleMap[depID]; ok {
				depMap[depID] = dep
				continue
			}
			l.moduleCacheMu.RLock()
			dep, ok := l.moduleCache.compiledModules.Get(depID)
			l.moduleCacheMu.RUnlock()
			if !ok {
				err = newErr(CodeMissingDependency, moduleLoc(cm.SelfId()), fmt.Sprintf("dependency %s not in bundle or cache", depID), nil)
				return err
			}
			depMap[depID] = dep
		}
		if err = l.linkageVerifier.VerifyModule(cm, depMap); err != nil {
			return err
		}
		bundleMap[cm.SelfId()] = cm
	}

	for id, deps := range closure {
		for _, d := range deps {
			if _, ok := closure[d]; !ok {
				l.moduleCacheMu.RLock()
				dep, ok := l.moduleCache.compiledModules.Get(d)
				l.moduleCacheMu.RUnlock()
				if ok {
					closure[d] = dep.ImmediateDependencies()
				}
			}
		}
		if err = l.cycleVerifier.VerifyAcyclic(closure, id); err != nil {
			return err
		}
	}
	return nil
}

/* -------------------------------------------------------------------------
   Ability checking (spec.md §4.3 "Ability checking")
   ------------------------------------------------------------------------- */

// checkAbilities verifies that each supplied type argument's computed
// ability set is a superset of the corresponding declared constraint.
func (l *Loader) checkAbilities(declared []AbilitySet, tyArgs []Type) error {
	if len(declared) != len(tyArgs) {
		return newErr(CodeNumberOfTypeArgumentsMismatch, undefinedLoc(),
			fmt.Sprintf("expected %d type arguments, got %d", len(declared), len(tyArgs)), nil)
	}
	for i, constraint := range declared {
		abilities, err := l.abilitiesOf(tyArgs[i])
		if err != nil {
			return err
		}
		if !constraint.IsSubsetOf(abilities) {
			return newErr(CodeConstraintNotSatisfied, undefinedLoc(),
				fmt.Sprintf("type argument %d does not satisfy declared ability constraints", i), nil)
		}
	}
	return nil
}

// abilitiesOf computes a Type's ability set recursively (spec.md §4.3):
// primitives and references have fixed sets; Vector uses the polymorphic
// rule with one non-phantom parameter (its element); structs combine their
// declared abilities with the phantom/non-phantom propagation rule.
func (l *Loader) abilitiesOf(t Type) (AbilitySet, error) {
	if a, ok := primitiveAbilities(t.Kind); ok {
		return a, nil
	}
	switch t.Kind {
	case TypeVector:
		elemAbilities, err := l.abilitiesOf(*t.Elem)
		if err != nil {
			return 0, err
		}
		return AbilitySet(AbilityCopy|AbilityDrop|AbilityStore) & elemAbilities, nil
	case TypeStruct, TypeStructInstantiation:
		l.moduleCacheMu.RLock()
		st := l.moduleCache.structs.At(t.StructIdx)
		l.moduleCacheMu.RUnlock()
		argAbilities := make([]AbilitySet, len(t.TypeArgs))
		for i, a := range t.TypeArgs {
			ab, err := l.abilitiesOf(a)
			if err != nil {
				return 0, err
			}
			argAbilities[i] = ab
		}
		return st.AbilitySetForInstantiation(argAbilities), nil
	case TypeParam:
		return 0, newErr(CodeUnknownInvariantViolation, undefinedLoc(), "unbound type parameter has no ability set", nil)
	default:
		return 0, newErr(CodeUnknownInvariantViolation, undefinedLoc(), "unrecognized type kind", nil)
	}
}

/* -------------------------------------------------------------------------
   Metadata (spec.md §6 "Metadata")
   ------------------------------------------------------------------------- */

// GetMetadata returns a copy of any metadata entry whose key matches, from
// an already-cached compiled module. Missing module or missing key yields
// (nil, false), never a default value.
func (l *Loader) GetMetadata(storageID ModuleId, key []byte) ([]byte, bool) {
	l.moduleCacheMu.RLock()
	cm, ok := l.moduleCache.compiledModules.Get(storageID)
	l.moduleCacheMu.RUnlock()
	if !ok {
		return nil, false
	}
	return cm.GetMetadata(key)
}

// NewResolverForModule builds a Resolver for an already-loaded module.
func (l *Loader) NewResolverForModule(cm *CompiledModule, lm *LoadedModule) *Resolver {
	return NewModuleResolver(cm, lm, l.moduleCache, l.typeCache, &l.typeCacheMu)
}

// NewResolverForScript builds a Resolver for an already-loaded script.
func (l *Loader) NewResolverForScript(ls *LoadedScript) *Resolver {
	return NewScriptResolver(ls, l.moduleCache, l.typeCache, &l.typeCacheMu)
}
