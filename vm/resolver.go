package vm

import "github.com/wasmforge/wavm/wasm"

// HostFunction is a Go function bound to a module's import; args and the
// returned results are raw 64-bit cells, reinterpreted per the import's
// declared signature.
type HostFunction func(args []uint64) ([]uint64, error)

// Resolver binds a module's imports to host-provided implementations. It is
// consulted once, at Instantiate, and the result is frozen into a flat
// dispatch table: nothing about a module's execution depends on the
// resolver afterward.
type Resolver interface {
	// ResolveFunction looks up a host function for a module.field import
	// of the given signature. ok is false when the embedder has no such
	// binding; calling that import later traps with
	// ErrImportTypeMismatch rather than failing instantiation, so a
	// module can be instantiated and inspected even with imports it
	// happens never to call.
	ResolveFunction(module, field string, sig wasm.FuncType) (fn HostFunction, ok bool)

	// ResolveGlobal looks up a host global's current value.
	ResolveGlobal(module, field string, gt wasm.GlobalType) (value uint64, ok bool)
}

// NoImports is a Resolver that satisfies no imports at all; every import
// call traps with ErrImportTypeMismatch.
type NoImports struct{}

func (NoImports) ResolveFunction(string, string, wasm.FuncType) (HostFunction, bool) {
	return nil, false
}
func (NoImports) ResolveGlobal(string, string, wasm.GlobalType) (uint64, bool) { return 0, false }
