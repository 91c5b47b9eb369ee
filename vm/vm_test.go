package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wasmforge/wavm/wasm"
)

// addTwoModule exports add(i32, i32) -> i32.
var addTwoModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x07, 0x01, 0x03, 0x61, 0x64, 0x64, 0x00, 0x00,
	0x0A, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6A, 0x0B,
}

// storeAtModule exports run(addr: i32) which stores a constant i32 at addr.
var storeAtModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x05, 0x01, 0x60, 0x01, 0x7f, 0x00,
	0x03, 0x02, 0x01, 0x00,
	0x05, 0x03, 0x01, 0x00, 0x01,
	0x07, 0x07, 0x01, 0x03, 0x72, 0x75, 0x6e, 0x00, 0x00,
	0x0A, 0x0B, 0x01, 0x09, 0x00, 0x20, 0x00, 0x41, 0x00, 0x36, 0x02, 0x00, 0x0B,
}

func TestAddTwoScenario(t *testing.T) {
	m, err := wasm.Decode(addTwoModule)
	require.NoError(t, err)
	inst, err := Instantiate(m, NoImports{})
	require.NoError(t, err)
	idx, ok := inst.ExportedFunction("add")
	require.True(t, ok)
	results, err := inst.Call(idx, []uint64{uint64(uint32(2)), uint64(uint32(4294967295))}) // 2 + (-1)
	require.NoError(t, err)
	require.Equal(t, int32(1), int32(uint32(results[0])))
}

func TestMemoryStoreOutOfBoundsTraps(t *testing.T) {
	m, err := wasm.Decode(storeAtModule)
	require.NoError(t, err)
	inst, err := Instantiate(m, NoImports{})
	require.NoError(t, err)
	idx, ok := inst.ExportedFunction("run")
	require.True(t, ok)

	_, err = inst.Call(idx, []uint64{uint64(uint32(65536 - 3))})
	require.ErrorIs(t, err, ErrOutOfBoundsMemoryAccess)

	_, err = inst.Call(idx, []uint64{uint64(uint32(65532))})
	require.NoError(t, err)
}

// absModule exports abs(i32) -> i32 using if/else.
var absModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x06, 0x01, 0x60, 0x01, 0x7f, 0x01, 0x7f,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x07, 0x01, 0x03, 0x61, 0x62, 0x73, 0x00, 0x00,
	0x0A, 0x14, 0x01, 0x12, 0x00,
	0x20, 0x00, 0x41, 0x00, 0x48, 0x04, 0x7f, 0x41, 0x00, 0x20, 0x00, 0x6b, 0x05, 0x20, 0x00, 0x0b, 0x0b,
}

// sumModule exports sum(n: i32) -> i32, the triangular sum 1..n via a
// counted loop (br_if exits through an enclosing block, br loops back).
var sumModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x06, 0x01, 0x60, 0x01, 0x7f, 0x01, 0x7f,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x07, 0x01, 0x03, 0x73, 0x75, 0x6d, 0x00, 0x00,
	0x0A, 0x27, 0x01, 0x25, 0x01, 0x01, 0x7f,
	0x41, 0x00, 0x21, 0x01,
	0x02, 0x40,
	0x03, 0x40,
	0x20, 0x00, 0x45, 0x0d, 0x01,
	0x20, 0x01, 0x20, 0x00, 0x6a, 0x21, 0x01,
	0x20, 0x00, 0x41, 0x01, 0x6b, 0x21, 0x00,
	0x0c, 0x00,
	0x0b,
	0x0b,
	0x20, 0x01,
	0x0b,
}

// factModule exports fact(n: i32) -> i32, recursive via self-call.
var factModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x06, 0x01, 0x60, 0x01, 0x7f, 0x01, 0x7f,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x08, 0x01, 0x04, 0x66, 0x61, 0x63, 0x74, 0x00, 0x00,
	0x0A, 0x17, 0x01, 0x15, 0x00,
	0x20, 0x00, 0x45, 0x04, 0x7f, 0x41, 0x01, 0x05,
	0x20, 0x00, 0x20, 0x00, 0x41, 0x01, 0x6b, 0x10, 0x00, 0x6c,
	0x0b, 0x0b,
}

func TestAbsIfElseScenario(t *testing.T) {
	m, err := wasm.Decode(absModule)
	require.NoError(t, err)
	inst, err := Instantiate(m, NoImports{})
	require.NoError(t, err)
	idx, ok := inst.ExportedFunction("abs")
	require.True(t, ok)

	results, err := inst.Call(idx, []uint64{uint64(uint32(int32(-5)))})
	require.NoError(t, err)
	require.Equal(t, int32(5), int32(uint32(results[0])))

	results, err = inst.Call(idx, []uint64{uint64(uint32(7))})
	require.NoError(t, err)
	require.Equal(t, int32(7), int32(uint32(results[0])))
}

func TestSumLoopScenario(t *testing.T) {
	m, err := wasm.Decode(sumModule)
	require.NoError(t, err)
	inst, err := Instantiate(m, NoImports{})
	require.NoError(t, err)
	idx, ok := inst.ExportedFunction("sum")
	require.True(t, ok)

	results, err := inst.Call(idx, []uint64{uint64(uint32(5))})
	require.NoError(t, err)
	require.Equal(t, int32(15), int32(uint32(results[0])))

	results, err = inst.Call(idx, []uint64{uint64(uint32(0))})
	require.NoError(t, err)
	require.Equal(t, int32(0), int32(uint32(results[0])))
}

func TestFactorialRecursiveCallScenario(t *testing.T) {
	m, err := wasm.Decode(factModule)
	require.NoError(t, err)
	inst, err := Instantiate(m, NoImports{})
	require.NoError(t, err)
	idx, ok := inst.ExportedFunction("fact")
	require.True(t, ok)

	results, err := inst.Call(idx, []uint64{uint64(uint32(5))})
	require.NoError(t, err)
	require.Equal(t, int32(120), int32(uint32(results[0])))

	results, err = inst.Call(idx, []uint64{uint64(uint32(0))})
	require.NoError(t, err)
	require.Equal(t, int32(1), int32(uint32(results[0])))
}

func TestMissingHostImportTrapsOnCall(t *testing.T) {
	// Type section declares () -> (), an import of it named env.missing,
	// and a function that calls import 0 then returns.
	buf := []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
		0x01, 0x04, 0x01, 0x60, 0x00, 0x00, // type () -> ()
		0x02, 0x0f, 0x01, // import section, 1 import
		0x03, 0x65, 0x6e, 0x76, // "env"
		0x07, 0x6d, 0x69, 0x73, 0x73, 0x69, 0x6e, 0x67, // "missing"
		0x00, 0x00, // kind func, typeidx 0
		0x03, 0x02, 0x01, 0x00, // function section: 1 func, type 0
		0x07, 0x07, 0x01, 0x03, 0x72, 0x75, 0x6e, 0x00, 0x01, // export "run" -> func index 1 (after the import)
		0x0A, 0x06, 0x01, 0x04, 0x00, 0x10, 0x00, 0x0B, // code: call 0; end
	}
	m, err := wasm.Decode(buf)
	require.NoError(t, err)
	inst, err := Instantiate(m, NoImports{})
	require.NoError(t, err)
	idx, ok := inst.ExportedFunction("run")
	require.True(t, ok)
	_, err = inst.Call(idx, nil)
	require.ErrorIs(t, err, ErrImportTypeMismatch)
}
