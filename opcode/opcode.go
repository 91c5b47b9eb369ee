// Package opcode turns a single WebAssembly instruction byte (or an
// 0xFC-prefixed pair) into a tagged Instruction carrying its immediates
// already parsed, so the validator and interpreter never re-read raw bytes.
package opcode

import "github.com/wasmforge/wavm/reader"

// ValueType is one of the four numeric value types this engine tracks.
// Reference types are reserved (spec.md Non-goals) but the constant space is
// left open for them.
type ValueType int8

// Value types, matching their WebAssembly binary encoding so a ValueType can
// be read directly off the wire.
const (
	I32 ValueType = -0x01 // 0x7f as a signed LEB byte
	I64 ValueType = -0x02 // 0x7e
	F32 ValueType = -0x03 // 0x7d
	F64 ValueType = -0x04 // 0x7c
)

// BitWidth reports the value type's width in bits.
func (t ValueType) BitWidth() int {
	switch t {
	case I32, F32:
		return 32
	case I64, F64:
		return 64
	default:
		return 0
	}
}

func (t ValueType) String() string {
	switch t {
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	default:
		return "invalid"
	}
}

// ValueTypeFromByte decodes a value-type byte as it appears in the type,
// global and local sections (0x7f/0x7e/0x7d/0x7c).
func ValueTypeFromByte(b byte) (ValueType, bool) {
	switch b {
	case 0x7f:
		return I32, true
	case 0x7e:
		return I64, true
	case 0x7d:
		return F32, true
	case 0x7c:
		return F64, true
	default:
		return 0, false
	}
}

// BlockKind distinguishes the three encodings of a structured block's type.
type BlockKind uint8

const (
	BlockEmpty BlockKind = iota
	BlockValue
	BlockTypeIndex
)

// BlockType is the decoded immediate of block/loop/if, per the s33-encoded
// signed LEB: 0x40 is empty, a negative value-type byte denotes a single
// result type, and a non-negative value denotes a type-section index.
type BlockType struct {
	Kind      BlockKind
	Value     ValueType
	TypeIndex uint32
}

// ReadBlockType decodes a blocktype immediate.
func ReadBlockType(r *reader.Reader) (BlockType, error) {
	s, err := r.ReadVarS33()
	if err != nil {
		return BlockType{}, err
	}
	if s == -0x40 {
		return BlockType{Kind: BlockEmpty}, nil
	}
	if s < 0 {
		vt, ok := ValueTypeFromByte(byte(s & 0x7f))
		if !ok {
			return BlockType{}, ErrInvalidBlockType
		}
		return BlockType{Kind: BlockValue, Value: vt}, nil
	}
	return BlockType{Kind: BlockTypeIndex, TypeIndex: uint32(s)}, nil
}

// MemArg is the (align, offset) pair carried by every load/store.
type MemArg struct {
	Align  uint32
	Offset uint32
}

func readMemArg(r *reader.Reader) (MemArg, error) {
	align, err := r.ReadVarU32()
	if err != nil {
		return MemArg{}, err
	}
	offset, err := r.ReadVarU32()
	if err != nil {
		return MemArg{}, err
	}
	return MemArg{Align: align, Offset: offset}, nil
}

// BrTable is the immediate of br_table: a vector of label depths plus a
// default label depth.
type BrTable struct {
	Targets []uint32
	Default uint32
}

// Code identifies an instruction. Unprefixed opcodes are their wire byte;
// 0xFC-prefixed opcodes are offset by fcBase so the two spaces never
// collide.
type Code uint16

const fcBase Code = 0x100

const (
	Unreachable Code = 0x00
	Nop         Code = 0x01
	Block       Code = 0x02
	Loop        Code = 0x03
	If          Code = 0x04
	Else        Code = 0x05
	End         Code = 0x0B
	Br          Code = 0x0C
	BrIf        Code = 0x0D
	BrTableOp   Code = 0x0E
	Return      Code = 0x0F
	Call        Code = 0x10
	CallIndirect Code = 0x11

	Drop     Code = 0x1A
	Select   Code = 0x1B
	SelectT  Code = 0x1C

	LocalGet  Code = 0x20
	LocalSet  Code = 0x21
	LocalTee  Code = 0x22
	GlobalGet Code = 0x23
	GlobalSet Code = 0x24

	I32Load    Code = 0x28
	I64Load    Code = 0x29
	F32Load    Code = 0x2A
	F64Load    Code = 0x2B
	I32Load8S  Code = 0x2C
	I32Load8U  Code = 0x2D
	I32Load16S Code = 0x2E
	I32Load16U Code = 0x2F
	I64Load8S  Code = 0x30
	I64Load8U  Code = 0x31
	I64Load16S Code = 0x32
	I64Load16U Code = 0x33
	I64Load32S Code = 0x34
	I64Load32U Code = 0x35
	I32Store   Code = 0x36
	I64Store   Code = 0x37
	F32Store   Code = 0x38
	F64Store   Code = 0x39
	I32Store8  Code = 0x3A
	I32Store16 Code = 0x3B
	I64Store8  Code = 0x3C
	I64Store16 Code = 0x3D
	I64Store32 Code = 0x3E
	MemorySize Code = 0x3F
	MemoryGrow Code = 0x40

	I32Const Code = 0x41
	I64Const Code = 0x42
	F32Const Code = 0x43
	F64Const Code = 0x44

	I32Eqz Code = 0x45
	I32Eq  Code = 0x46
	I32Ne  Code = 0x47
	I32LtS Code = 0x48
	I32LtU Code = 0x49
	I32GtS Code = 0x4A
	I32GtU Code = 0x4B
	I32LeS Code = 0x4C
	I32LeU Code = 0x4D
	I32GeS Code = 0x4E
	I32GeU Code = 0x4F

	I64Eqz Code = 0x50
	I64Eq  Code = 0x51
	I64Ne  Code = 0x52
	I64LtS Code = 0x53
	I64LtU Code = 0x54
	I64GtS Code = 0x55
	I64GtU Code = 0x56
	I64LeS Code = 0x57
	I64LeU Code = 0x58
	I64GeS Code = 0x59
	I64GeU Code = 0x5A

	I32Clz    Code = 0x67
	I32Ctz    Code = 0x68
	I32Popcnt Code = 0x69

	I32Add  Code = 0x6A
	I32Sub  Code = 0x6B
	I32Mul  Code = 0x6C
	I32DivS Code = 0x6D
	I32DivU Code = 0x6E
	I32RemS Code = 0x6F
	I32RemU Code = 0x70
	I32And  Code = 0x71
	I32Or   Code = 0x72
	I32Xor  Code = 0x73
	I32Shl  Code = 0x74
	I32ShrS Code = 0x75
	I32ShrU Code = 0x76
	I32Rotl Code = 0x77
	I32Rotr Code = 0x78

	I64Clz    Code = 0x79
	I64Ctz    Code = 0x7A
	I64Popcnt Code = 0x7B

	I64Add  Code = 0x7C
	I64Sub  Code = 0x7D
	I64Mul  Code = 0x7E
	I64DivS Code = 0x7F
	I64DivU Code = 0x80
	I64RemS Code = 0x81
	I64RemU Code = 0x82
	I64And  Code = 0x83
	I64Or   Code = 0x84
	I64Xor  Code = 0x85
	I64Shl  Code = 0x86
	I64ShrS Code = 0x87
	I64ShrU Code = 0x88
	I64Rotl Code = 0x89
	I64Rotr Code = 0x8A

	// 0xFC-prefixed bulk-memory subgroup; this core implements only the
	// three operations spec.md names.
	MemoryInit Code = fcBase + 8
	MemoryCopy Code = fcBase + 10
	MemoryFill Code = fcBase + 11
)

// IsBranch reports whether op can transfer control via a jump-table entry.
func (c Code) IsBranch() bool {
	switch c {
	case Br, BrIf, BrTableOp, If, Else:
		return true
	default:
		return false
	}
}

// Instruction is a fully-decoded opcode with its immediates, annotated with
// the byte span it occupied in the function's code.
type Instruction struct {
	Code Code
	Pos  reader.Span

	Block  BlockType
	Index  uint32 // local/global/function/table/data index, as appropriate
	Index2 uint32 // call_indirect's type index alongside Index's table index
	Label  uint32 // br/br_if label depth
	Table  BrTable
	Mem    MemArg
	Select ValueType // select t's explicit result type, when present
	HasSel bool

	I32 int32
	I64 int64
	F32 uint32 // bit pattern
	F64 uint64 // bit pattern
}

// Read decodes the next instruction from r.
func Read(r *reader.Reader) (Instruction, error) {
	ins, span, err := reader.ReadWithPosition(r, readOne)
	ins.Pos = span
	return ins, err
}

func readOne(r *reader.Reader) (Instruction, error) {
	b, err := r.ReadByte()
	if err != nil {
		return Instruction{}, err
	}
	switch b {
	case 0x00:
		return Instruction{Code: Unreachable}, nil
	case 0x01:
		return Instruction{Code: Nop}, nil
	case 0x02, 0x03:
		bt, err := ReadBlockType(r)
		if err != nil {
			return Instruction{}, err
		}
		code := Block
		if b == 0x03 {
			code = Loop
		}
		return Instruction{Code: code, Block: bt}, nil
	case 0x04:
		bt, err := ReadBlockType(r)
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Code: If, Block: bt}, nil
	case 0x05:
		return Instruction{Code: Else}, nil
	case 0x0B:
		return Instruction{Code: End}, nil
	case 0x0C, 0x0D:
		label, err := r.ReadVarU32()
		if err != nil {
			return Instruction{}, err
		}
		code := Br
		if b == 0x0D {
			code = BrIf
		}
		return Instruction{Code: code, Label: label}, nil
	case 0x0E:
		count, err := r.ReadVarU32()
		if err != nil {
			return Instruction{}, err
		}
		targets := make([]uint32, count)
		for i := range targets {
			targets[i], err = r.ReadVarU32()
			if err != nil {
				return Instruction{}, err
			}
		}
		def, err := r.ReadVarU32()
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Code: BrTableOp, Table: BrTable{Targets: targets, Default: def}}, nil
	case 0x0F:
		return Instruction{Code: Return}, nil
	case 0x10:
		idx, err := r.ReadVarU32()
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Code: Call, Index: idx}, nil
	case 0x11:
		typeIdx, err := r.ReadVarU32()
		if err != nil {
			return Instruction{}, err
		}
		tableIdx, err := r.ReadVarU32()
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Code: CallIndirect, Index: tableIdx, Index2: typeIdx}, nil
	case 0x1A:
		return Instruction{Code: Drop}, nil
	case 0x1B:
		return Instruction{Code: Select}, nil
	case 0x1C:
		vb, err := r.ReadByte()
		if err != nil {
			return Instruction{}, err
		}
		vt, ok := ValueTypeFromByte(vb)
		if !ok {
			return Instruction{}, ErrInvalidValueType
		}
		return Instruction{Code: SelectT, Select: vt, HasSel: true}, nil
	case 0x20, 0x21, 0x22, 0x23, 0x24:
		idx, err := r.ReadVarU32()
		if err != nil {
			return Instruction{}, err
		}
		codes := map[byte]Code{0x20: LocalGet, 0x21: LocalSet, 0x22: LocalTee, 0x23: GlobalGet, 0x24: GlobalSet}
		return Instruction{Code: codes[b], Index: idx}, nil
	case 0x28, 0x29, 0x2A, 0x2B, 0x2C, 0x2D, 0x2E, 0x2F,
		0x30, 0x31, 0x32, 0x33, 0x34, 0x35,
		0x36, 0x37, 0x38, 0x39, 0x3A, 0x3B, 0x3C, 0x3D, 0x3E:
		m, err := readMemArg(r)
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Code: Code(b), Mem: m}, nil
	case 0x3F, 0x40:
		reserved, err := r.ReadByte()
		if err != nil {
			return Instruction{}, err
		}
		if reserved != 0x00 {
			return Instruction{}, ErrMalformedMemoryIndex
		}
		code := MemorySize
		if b == 0x40 {
			code = MemoryGrow
		}
		return Instruction{Code: code}, nil
	case 0x41:
		v, err := r.ReadVarI32()
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Code: I32Const, I32: v}, nil
	case 0x42:
		v, err := r.ReadVarI64()
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Code: I64Const, I64: v}, nil
	case 0x43:
		v, err := r.ReadU32LE()
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Code: F32Const, F32: v}, nil
	case 0x44:
		lo, err := r.ReadU32LE()
		if err != nil {
			return Instruction{}, err
		}
		hi, err := r.ReadU32LE()
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Code: F64Const, F64: uint64(lo) | uint64(hi)<<32}, nil
	case 0x45, 0x46, 0x47, 0x48, 0x49, 0x4A, 0x4B, 0x4C, 0x4D, 0x4E, 0x4F,
		0x50, 0x51, 0x52, 0x53, 0x54, 0x55, 0x56, 0x57, 0x58, 0x59, 0x5A,
		0x67, 0x68, 0x69,
		0x6A, 0x6B, 0x6C, 0x6D, 0x6E, 0x6F, 0x70, 0x71, 0x72, 0x73, 0x74, 0x75, 0x76, 0x77, 0x78,
		0x79, 0x7A, 0x7B,
		0x7C, 0x7D, 0x7E, 0x7F, 0x80, 0x81, 0x82, 0x83, 0x84, 0x85, 0x86, 0x87, 0x88, 0x89, 0x8A:
		return Instruction{Code: Code(b)}, nil
	case 0xFC:
		sub, err := r.ReadVarU32()
		if err != nil {
			return Instruction{}, err
		}
		switch sub {
		case 8:
			dataIdx, err := r.ReadVarU32()
			if err != nil {
				return Instruction{}, err
			}
			memIdx, err := r.ReadByte()
			if err != nil {
				return Instruction{}, err
			}
			if memIdx != 0x00 {
				return Instruction{}, ErrMalformedMemoryIndex
			}
			return Instruction{Code: MemoryInit, Index: dataIdx}, nil
		case 10:
			dst, err := r.ReadByte()
			if err != nil {
				return Instruction{}, err
			}
			src, err := r.ReadByte()
			if err != nil {
				return Instruction{}, err
			}
			if dst != 0x00 || src != 0x00 {
				return Instruction{}, ErrMalformedMemoryIndex
			}
			return Instruction{Code: MemoryCopy}, nil
		case 11:
			memIdx, err := r.ReadByte()
			if err != nil {
				return Instruction{}, err
			}
			if memIdx != 0x00 {
				return Instruction{}, ErrMalformedMemoryIndex
			}
			return Instruction{Code: MemoryFill}, nil
		default:
			return Instruction{}, &UnimplementedOpcodeError{Byte: b, Sub: sub}
		}
	default:
		return Instruction{}, &UnimplementedOpcodeError{Byte: b}
	}
}
