package wasm

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wasmforge/wavm/opcode"
)

// addTwoModule is a hand-assembled module exporting a function
// add(i32, i32) -> i32 that returns the sum of its two parameters.
var addTwoModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, // header
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f, // type section
	0x03, 0x02, 0x01, 0x00, // function section
	0x07, 0x07, 0x01, 0x03, 0x61, 0x64, 0x64, 0x00, 0x00, // export section
	0x0A, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6A, 0x0B, // code section
}

func TestDecodeAddTwo(t *testing.T) {
	m, err := Decode(addTwoModule)
	require.NoError(t, err)
	require.Len(t, m.Types, 1)
	require.Equal(t, []opcode.ValueType{opcode.I32, opcode.I32}, m.Types[0].Params)
	require.Equal(t, []opcode.ValueType{opcode.I32}, m.Types[0].Results)

	require.Len(t, m.Functions, 1)
	require.Equal(t, FunctionInternal, m.Functions[0].Origin)
	require.NotNil(t, m.Functions[0].Code)
	require.Len(t, m.Functions[0].Code.Instructions, 4)
	require.Equal(t, opcode.I32Add, m.Functions[0].Code.Instructions[2].Code)

	require.Len(t, m.Exports, 1)
	require.Equal(t, "add", m.Exports[0].Name)
	require.Equal(t, ExternalFunction, m.Exports[0].Kind)
	require.Equal(t, uint32(0), m.Exports[0].Index)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	buf := append([]byte{}, addTwoModule...)
	buf[0] = 0xff
	_, err := Decode(buf)
	require.Error(t, err)
}

func TestDecodeRejectsSectionOutOfOrder(t *testing.T) {
	// Export section (7) before function section (3) is out of order.
	buf := []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
		0x07, 0x01, 0x00, // empty-ish export section, count 0... but wrong order regardless
		0x03, 0x01, 0x00, // function section count 0
	}
	_, err := Decode(buf)
	require.Error(t, err)
}

func TestDecodeFuncCodeLengthMismatch(t *testing.T) {
	buf := []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
		0x01, 0x04, 0x01, 0x60, 0x00, 0x00, // type: () -> ()
		0x03, 0x02, 0x01, 0x00, // function section: one function
		// no code section at all
	}
	_, err := Decode(buf)
	require.ErrorIs(t, err, ErrFuncCodeLengthMismatch)
}
