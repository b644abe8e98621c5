package codecache

// natives.go declares the pluggable native-function registry the loader
// consumes (spec.md §6 "Native-function registry (consumed)") and
// implements the lazy_natives feature flag described in spec.md §4.3 and
// supplemented from original_source/loader.rs's check_natives.

// NativeRegistry resolves a native function pointer for a given
// (address, module, function) triple. The interpreter invokes the resolved
// pointer with a calling convention defined by the VM, out of scope here.
type NativeRegistry interface {
	Resolve(address [32]byte, moduleName Name, functionName Name) (NativeFn, bool)
}

// checkNatives mirrors the original's check_natives for one function: if fn
// is marked native, it resolves a pointer from the registry and attaches it
// to fn. When lazyNatives is false, a missing native is a
// verification-time error; when true, the error is deferred until the
// native is actually invoked (fn.Native stays nil and the interpreter, an
// external collaborator, is responsible for producing that error at call
// time).
func checkNatives(reg NativeRegistry, moduleAddr [32]byte, moduleName Name, fn *Function, lazyNatives bool) error {
	if !fn.DefIsNative {
		return nil
	}
	native, ok := reg.Resolve(moduleAddr, moduleName, fn.Name)
	if ok {
		fn.Native = native
		return nil
	}
	if lazyNatives {
		return nil
	}
	return newErr(CodeVerificationError, moduleLoc(ModuleId{Address: moduleAddr, Name: moduleName}),
		"unresolved native function "+string(fn.Name), nil)
}

// nativesResolvable is checkNatives' read-only counterpart, used by bundle
// publication checks that must not attach a resolved pointer to any cached
// Function (spec.md §4.3 "verify_module_bundle_for_publication" never
// mutates a cache).
func nativesResolvable(reg NativeRegistry, cm *CompiledModule, lazyNatives bool) error {
	if lazyNatives {
		return nil
	}
	selfID := cm.SelfId()
	for _, fd := range cm.FunctionDefs {
		if !fd.IsNative {
			continue
		}
		handle := cm.FunctionHandles[fd.Handle]
		if _, ok := reg.Resolve(selfID.Address, selfID.Name, handle.Name); !ok {
			return newErr(CodeVerificationError, moduleLoc(selfID), "unresolved native function "+string(handle.Name), nil)
		}
	}
	return nil
}
