package codecache

// verifier.go declares the structural, linkage, and cycle verifiers the
// loader consumes (spec.md §6 "Verifier (consumed)"). The individual
// verification passes themselves are explicitly out of scope for this
// module (spec.md §1); what lives here is the narrow interface the Loader
// calls, plus a minimal reference implementation sufficient to exercise the
// pipeline end to end and satisfy the seed scenarios in spec.md §8. Callers
// embedding a real Move bytecode verifier supply their own implementation.

import (
	"fmt"

	"github.com/movevm/codecache/internal/depgraph"
)

// VerifierConfig carries the subset of Loader configuration a verifier pass
// needs (spec.md §4.3 "Configuration").
type VerifierConfig struct {
	MaxBinaryFormatVersion uint32
	ParanoidTypeChecks     bool
}

// StructuralVerifier runs the individual, self-contained checks against one
// module or script (spec.md §6 "verify_module_with_config" /
// "verify_script_with_config").
type StructuralVerifier interface {
	VerifyModule(cm *CompiledModule, cfg VerifierConfig) error
	VerifyScript(cs *CompiledScript, cfg VerifierConfig) error
}

// LinkageVerifier checks a module or script against the set of its already
// structurally-verified dependencies (spec.md §6
// "dependencies::verify_{module,script}").
type LinkageVerifier interface {
	VerifyModule(cm *CompiledModule, deps map[ModuleId]*CompiledModule) error
	VerifyScript(cs *CompiledScript, deps map[ModuleId]*CompiledModule) error
}

// CycleVerifier checks a dependency closure for cycles (spec.md §6
// "cyclic_dependencies::verify_module").
type CycleVerifier interface {
	VerifyAcyclic(closure map[ModuleId][]ModuleId, root ModuleId) error
}

/* -------------------------------------------------------------------------
   Reference implementations
   ------------------------------------------------------------------------- */

// BasicStructuralVerifier performs the bounds and well-formedness checks
// that do not require a full Move type-checker: handle-table indices are in
// range. It does not compare a module's self-declared id with the requested
// id; the loader does that itself when ParanoidTypeChecks is set.
type BasicStructuralVerifier struct{}

func (BasicStructuralVerifier) VerifyModule(cm *CompiledModule, cfg VerifierConfig) error {
	if int(cm.SelfModuleHandle) >= len(cm.ModuleHandles) {
		return newErr(CodeVerificationError, undefinedLoc(), "self module handle out of range", nil)
	}
	for _, sh := range cm.StructHandles {
		if int(sh.Module) >= len(cm.ModuleHandles) {
			return newErr(CodeVerificationError, undefinedLoc(), "struct handle references unknown module", nil)
		}
	}
	for _, fh := range cm.FunctionHandles {
		if int(fh.Module) >= len(cm.ModuleHandles) {
			return newErr(CodeVerificationError, undefinedLoc(), "function handle references unknown module", nil)
		}
		if int(fh.Parameters) >= len(cm.Signatures) || int(fh.Return) >= len(cm.Signatures) {
			return newErr(CodeVerificationError, undefinedLoc(), "function handle references unknown signature", nil)
		}
	}
	for _, sd := range cm.StructDefs {
		if int(sd.Handle) >= len(cm.StructHandles) {
			return newErr(CodeVerificationError, undefinedLoc(), "struct definition references unknown handle", nil)
		}
	}
	for _, fd := range cm.FunctionDefs {
		if int(fd.Handle) >= len(cm.FunctionHandles) {
			return newErr(CodeVerificationError, undefinedLoc(), "function definition references unknown handle", nil)
		}
	}
	return nil
}

func (BasicStructuralVerifier) VerifyScript(cs *CompiledScript, cfg VerifierConfig) error {
	if int(cs.Parameters) >= len(cs.Signatures) {
		return newErr(CodeVerificationError, scriptLoc(), "script references unknown parameter signature", nil)
	}
	for _, fh := range cs.FunctionHandles {
		if int(fh.Module) >= len(cs.ModuleHandles) {
			return newErr(CodeVerificationError, scriptLoc(), "function handle references unknown module", nil)
		}
	}
	return nil
}

// BasicLinkageVerifier checks that every struct and function handle that
// points outside the module/script being verified resolves to something
// actually defined in the corresponding dependency. This is the check that
// rejects spec.md §8 seed scenario 5 (a signature referencing a struct named
// "Missing" that no dependency defines).
type BasicLinkageVerifier struct{}

func moduleDefinesStruct(cm *CompiledModule, name Name) bool {
	for _, sd := range cm.StructDefs {
		if cm.StructHandles[sd.Handle].Name == name {
			return true
		}
	}
	return false
}

func moduleDefinesFunction(cm *CompiledModule, name Name) bool {
	for _, fd := range cm.FunctionDefs {
		if cm.FunctionHandles[fd.Handle].Name == name {
			return true
		}
	}
	return false
}

func (BasicLinkageVerifier) VerifyModule(cm *CompiledModule, deps map[ModuleId]*CompiledModule) error {
	self := cm.SelfModuleHandle
	for _, sh := range cm.StructHandles {
		if sh.Module == self {
			if !moduleDefinesStruct(cm, sh.Name) {
				return newErr(CodeTypeResolutionFailure, moduleLoc(cm.SelfId()),
					fmt.Sprintf("struct %q not defined in its own module", sh.Name), nil)
			}
			continue
		}
		h := cm.ModuleHandles[sh.Module]
		depID := ModuleId{Address: h.Address, Name: h.Name}
		dep, ok := deps[depID]
		if !ok {
			return newErr(CodeMissingDependency, moduleLoc(cm.SelfId()),
				fmt.Sprintf("dependency %s not loaded", depID), nil)
		}
		if !moduleDefinesStruct(dep, sh.Name) {
			return newErr(CodeTypeResolutionFailure, moduleLoc(cm.SelfId()),
				fmt.Sprintf("struct %q not defined in %s", sh.Name, depID), nil)
		}
	}
	for _, fh := range cm.FunctionHandles {
		if fh.Module == self {
			if !moduleDefinesFunction(cm, fh.Name) {
				return newErr(CodeFunctionResolutionFailure, moduleLoc(cm.SelfId()),
					fmt.Sprintf("function %q not defined in its own module", fh.Name), nil)
			}
			continue
		}
		h := cm.ModuleHandles[fh.Module]
		depID := ModuleId{Address: h.Address, Name: h.Name}
		dep, ok := deps[depID]
		if !ok {
			return newErr(CodeMissingDependency, moduleLoc(cm.SelfId()),
				fmt.Sprintf("dependency %s not loaded", depID), nil)
		}
		if !moduleDefinesFunction(dep, fh.Name) {
			return newErr(CodeFunctionResolutionFailure, moduleLoc(cm.SelfId()),
				fmt.Sprintf("function %q not defined in %s", fh.Name, depID), nil)
		}
	}
	return nil
}

func (BasicLinkageVerifier) VerifyScript(cs *CompiledScript, deps map[ModuleId]*CompiledModule) error {
	for _, sh := range cs.StructHandles {
		h := cs.ModuleHandles[sh.Module]
		depID := ModuleId{Address: h.Address, Name: h.Name}
		dep, ok := deps[depID]
		if !ok {
			return newErr(CodeMissingDependency, scriptLoc(), fmt.Sprintf("dependency %s not loaded", depID), nil)
		}
		if !moduleDefinesStruct(dep, sh.Name) {
			return newErr(CodeTypeResolutionFailure, scriptLoc(), fmt.Sprintf("struct %q not defined in %s", sh.Name, depID), nil)
		}
	}
	for _, fh := range cs.FunctionHandles {
		h := cs.ModuleHandles[fh.Module]
		depID := ModuleId{Address: h.Address, Name: h.Name}
		dep, ok := deps[depID]
		if !ok {
			return newErr(CodeMissingDependency, scriptLoc(), fmt.Sprintf("dependency %s not loaded", depID), nil)
		}
		if !moduleDefinesFunction(dep, fh.Name) {
			return newErr(CodeFunctionResolutionFailure, scriptLoc(), fmt.Sprintf("function %q not defined in %s", fh.Name, depID), nil)
		}
	}
	return nil
}

// DepgraphCycleVerifier implements CycleVerifier on top of
// internal/depgraph, giving spec.md's "cyclic_dependencies::verify_module"
// collaborator a concrete, reusable implementation rather than leaving it
// wholly external (see DESIGN.md).
type DepgraphCycleVerifier struct{}

func (DepgraphCycleVerifier) VerifyAcyclic(closure map[ModuleId][]ModuleId, root ModuleId) error {
	g := depgraph.New[ModuleId]()
	for from, tos := range closure {
		g.AddNode(from)
		for _, to := range tos {
			g.AddEdge(from, to)
		}
	}
	if err := g.VerifyAcyclic(); err != nil {
		return newErr(CodeCyclicModuleDependency, moduleLoc(root), err.Error(), err)
	}
	return nil
}
