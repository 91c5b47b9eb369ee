package opcode

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wasmforge/wavm/reader"
)

func TestReadBlockTypeVariants(t *testing.T) {
	r := reader.New([]byte{0x40})
	bt, err := ReadBlockType(r)
	require.NoError(t, err)
	require.Equal(t, BlockEmpty, bt.Kind)

	r = reader.New([]byte{0x7f})
	bt, err = ReadBlockType(r)
	require.NoError(t, err)
	require.Equal(t, BlockValue, bt.Kind)
	require.Equal(t, I32, bt.Value)

	r = reader.New([]byte{0x05})
	bt, err = ReadBlockType(r)
	require.NoError(t, err)
	require.Equal(t, BlockTypeIndex, bt.Kind)
	require.Equal(t, uint32(5), bt.TypeIndex)
}

func TestReadLocalGetAndConst(t *testing.T) {
	r := reader.New([]byte{0x20, 0x02, 0x41, 0x7f})
	ins, err := Read(r)
	require.NoError(t, err)
	require.Equal(t, LocalGet, ins.Code)
	require.Equal(t, uint32(2), ins.Index)

	ins, err = Read(r)
	require.NoError(t, err)
	require.Equal(t, I32Const, ins.Code)
	require.Equal(t, int32(-1), ins.I32)
}

func TestReadMemoryGrowRejectsNonZeroReservedByte(t *testing.T) {
	r := reader.New([]byte{0x40, 0x01})
	_, err := Read(r)
	require.ErrorIs(t, err, ErrMalformedMemoryIndex)
}

func TestReadBrTable(t *testing.T) {
	r := reader.New([]byte{0x0E, 0x02, 0x00, 0x01, 0x02})
	ins, err := Read(r)
	require.NoError(t, err)
	require.Equal(t, BrTableOp, ins.Code)
	require.Equal(t, []uint32{0, 1}, ins.Table.Targets)
	require.Equal(t, uint32(2), ins.Table.Default)
}

func TestReadMemoryInitAndCopy(t *testing.T) {
	r := reader.New([]byte{0xFC, 0x08, 0x03, 0x00})
	ins, err := Read(r)
	require.NoError(t, err)
	require.Equal(t, MemoryInit, ins.Code)
	require.Equal(t, uint32(3), ins.Index)

	r = reader.New([]byte{0xFC, 0x0A, 0x00, 0x00})
	ins, err = Read(r)
	require.NoError(t, err)
	require.Equal(t, MemoryCopy, ins.Code)
}

func TestReadUnimplementedOpcode(t *testing.T) {
	r := reader.New([]byte{0x5B})
	_, err := Read(r)
	var unimpl *UnimplementedOpcodeError
	require.ErrorAs(t, err, &unimpl)
}
