package wasm

import (
	"github.com/wasmforge/wavm/opcode"
	"github.com/wasmforge/wavm/reader"
)

var headerMagic = [4]byte{0x00, 0x61, 0x73, 0x6d}

const headerVersion = 1

type sectionID byte

const (
	secCustom    sectionID = 0
	secType      sectionID = 1
	secImport    sectionID = 2
	secFunction  sectionID = 3
	secTable     sectionID = 4
	secMemory    sectionID = 5
	secGlobal    sectionID = 6
	secExport    sectionID = 7
	secStart     sectionID = 8
	secElement   sectionID = 9
	secCode      sectionID = 10
	secData      sectionID = 11
	secDataCount sectionID = 12
)

// sectionOrder gives each non-custom section's canonical rank; datacount
// sits between element and code.
var sectionOrder = map[sectionID]int{
	secType:      1,
	secImport:    2,
	secFunction:  3,
	secTable:     4,
	secMemory:    5,
	secGlobal:    6,
	secExport:    7,
	secStart:     8,
	secElement:   9,
	secDataCount: 10,
	secCode:      11,
	secData:      12,
}

// Decode parses a complete WebAssembly binary module and builds its
// catalogue. It is the single entry point components above this package
// should use.
func Decode(buf []byte) (*Module, error) {
	r := reader.New(buf)
	if err := decodeHeader(r); err != nil {
		return nil, err
	}

	m := &Module{}
	var funcSecTypeIndices []uint32
	seen := map[sectionID]bool{}
	lastOrder := 0

	for !r.AtEnd() {
		idByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		id := sectionID(idByte)
		size, err := r.ReadVarU32()
		if err != nil {
			return nil, err
		}
		sub, err := r.ScopedSubReader(int(size))
		if err != nil {
			return nil, err
		}

		if id != secCustom {
			order, ok := sectionOrder[id]
			if !ok {
				return nil, ErrUnknownSectionID
			}
			if seen[id] {
				return nil, ErrDuplicateSection
			}
			if order <= lastOrder {
				return nil, ErrSectionOutOfOrder
			}
			lastOrder = order
			seen[id] = true
		}

		switch id {
		case secCustom:
			name, err := sub.ReadName()
			if err != nil {
				return nil, err
			}
			payload, err := sub.ReadBytes(sub.Len())
			if err != nil {
				return nil, err
			}
			m.Customs = append(m.Customs, CustomSection{Name: name, Payload: payload})
		case secType:
			if err := decodeTypeSection(sub, m); err != nil {
				return nil, err
			}
		case secImport:
			if err := decodeImportSection(sub, m); err != nil {
				return nil, err
			}
		case secFunction:
			funcSecTypeIndices, err = decodeFunctionSection(sub)
			if err != nil {
				return nil, err
			}
		case secTable:
			if err := decodeTableSection(sub, m); err != nil {
				return nil, err
			}
		case secMemory:
			if err := decodeMemorySection(sub, m); err != nil {
				return nil, err
			}
		case secGlobal:
			if err := decodeGlobalSection(sub, m); err != nil {
				return nil, err
			}
		case secExport:
			if err := decodeExportSection(sub, m); err != nil {
				return nil, err
			}
		case secStart:
			idx, err := sub.ReadVarU32()
			if err != nil {
				return nil, err
			}
			m.HasStart = true
			m.StartFunc = idx
		case secElement:
			if err := decodeElementSection(sub, m); err != nil {
				return nil, err
			}
		case secDataCount:
			n, err := sub.ReadVarU32()
			if err != nil {
				return nil, err
			}
			m.HasDataCount = true
			m.DataCount = n
		case secCode:
			if err := decodeCodeSection(sub, m, funcSecTypeIndices); err != nil {
				return nil, err
			}
		case secData:
			if err := decodeDataSection(sub, m); err != nil {
				return nil, err
			}
		}

		if !sub.AtEnd() {
			return nil, ErrSectionSizeMismatch
		}
	}

	if seen[secFunction] && !seen[secCode] && len(funcSecTypeIndices) > 0 {
		return nil, ErrFuncCodeLengthMismatch
	}

	return buildCatalogue(m, funcSecTypeIndices)
}

func decodeHeader(r *reader.Reader) error {
	magic, err := r.ReadBytes(4)
	if err != nil {
		return err
	}
	for i, b := range magic {
		if b != headerMagic[i] {
			return reader.ErrInvalidHeaderMagic
		}
	}
	version, err := r.ReadU32LE()
	if err != nil {
		return err
	}
	if version != headerVersion {
		return reader.ErrInvalidWasmVersion
	}
	return nil
}

func decodeValueType(r *reader.Reader) (opcode.ValueType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	vt, ok := opcode.ValueTypeFromByte(b)
	if !ok {
		return 0, ErrInvalidElementType
	}
	return vt, nil
}

func decodeTypeSection(r *reader.Reader, m *Module) error {
	count, err := r.ReadVarU32()
	if err != nil {
		return err
	}
	m.Types = make([]FuncType, count)
	for i := range m.Types {
		tag, err := r.ReadByte()
		if err != nil {
			return err
		}
		if tag != 0x60 {
			return ErrInvalidElementType
		}
		params, err := decodeValueTypeVec(r)
		if err != nil {
			return err
		}
		results, err := decodeValueTypeVec(r)
		if err != nil {
			return err
		}
		m.Types[i] = FuncType{Params: params, Results: results}
	}
	return nil
}

func decodeValueTypeVec(r *reader.Reader) ([]opcode.ValueType, error) {
	n, err := r.ReadVarU32()
	if err != nil {
		return nil, err
	}
	out := make([]opcode.ValueType, n)
	for i := range out {
		out[i], err = decodeValueType(r)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func decodeLimits(r *reader.Reader) (Limits, error) {
	flag, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	min, err := r.ReadVarU32()
	if err != nil {
		return Limits{}, err
	}
	switch flag {
	case 0x00:
		return Limits{Min: min}, nil
	case 0x01:
		max, err := r.ReadVarU32()
		if err != nil {
			return Limits{}, err
		}
		return Limits{Min: min, Max: max, HasMax: true}, nil
	default:
		return Limits{}, ErrInvalidLimitsFlag
	}
}

func decodeTableType(r *reader.Reader) (TableType, error) {
	elem, err := r.ReadByte()
	if err != nil {
		return TableType{}, err
	}
	if elem != 0x70 {
		return TableType{}, ErrInvalidElementType
	}
	lim, err := decodeLimits(r)
	if err != nil {
		return TableType{}, err
	}
	return TableType{ElemType: elem, Limits: lim}, nil
}

func decodeGlobalType(r *reader.Reader) (GlobalType, error) {
	vt, err := decodeValueType(r)
	if err != nil {
		return GlobalType{}, err
	}
	m, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	if m != 0x00 && m != 0x01 {
		return GlobalType{}, ErrInvalidLimitsFlag
	}
	return GlobalType{Type: vt, Mutable: m == 0x01}, nil
}

func decodeImportSection(r *reader.Reader, m *Module) error {
	n, err := r.ReadVarU32()
	if err != nil {
		return err
	}
	m.Imports = make([]Import, n)
	for i := range m.Imports {
		mod, err := r.ReadName()
		if err != nil {
			return err
		}
		field, err := r.ReadName()
		if err != nil {
			return err
		}
		kindByte, err := r.ReadByte()
		if err != nil {
			return err
		}
		imp := Import{Module: mod, Field: field, Kind: ExternalKind(kindByte)}
		switch imp.Kind {
		case ExternalFunction:
			imp.TypeIndex, err = r.ReadVarU32()
		case ExternalTable:
			imp.Table, err = decodeTableType(r)
		case ExternalMemory:
			imp.Memory.Limits, err = decodeLimits(r)
		case ExternalGlobal:
			imp.Global, err = decodeGlobalType(r)
		default:
			return ErrInvalidExternalKind
		}
		if err != nil {
			return err
		}
		m.Imports[i] = imp
	}
	return nil
}

func decodeFunctionSection(r *reader.Reader) ([]uint32, error) {
	n, err := r.ReadVarU32()
	if err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	for i := range out {
		out[i], err = r.ReadVarU32()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func decodeTableSection(r *reader.Reader, m *Module) error {
	n, err := r.ReadVarU32()
	if err != nil {
		return err
	}
	m.Tables = make([]TableType, n)
	for i := range m.Tables {
		m.Tables[i], err = decodeTableType(r)
		if err != nil {
			return err
		}
	}
	return nil
}

func decodeMemorySection(r *reader.Reader, m *Module) error {
	n, err := r.ReadVarU32()
	if err != nil {
		return err
	}
	m.Memories = make([]MemType, n)
	for i := range m.Memories {
		lim, err := decodeLimits(r)
		if err != nil {
			return err
		}
		m.Memories[i] = MemType{Limits: lim}
	}
	return nil
}

func decodeGlobalSection(r *reader.Reader, m *Module) error {
	n, err := r.ReadVarU32()
	if err != nil {
		return err
	}
	globals := make([]Global, n)
	for i := range globals {
		gt, err := decodeGlobalType(r)
		if err != nil {
			return err
		}
		init, err := decodeConstExpr(r, m)
		if err != nil {
			return err
		}
		globals[i] = Global{Type: gt, Init: init}
	}
	m.internalGlobals = append(m.internalGlobals, globals...)
	return nil
}

func decodeExportSection(r *reader.Reader, m *Module) error {
	n, err := r.ReadVarU32()
	if err != nil {
		return err
	}
	names := make(map[string]bool, n)
	m.Exports = make([]Export, n)
	for i := range m.Exports {
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		if names[name] {
			return ErrDuplicateExportName
		}
		names[name] = true
		kindByte, err := r.ReadByte()
		if err != nil {
			return err
		}
		idx, err := r.ReadVarU32()
		if err != nil {
			return err
		}
		kind := ExternalKind(kindByte)
		if kind > ExternalGlobal {
			return ErrInvalidExternalKind
		}
		m.Exports[i] = Export{Name: name, Kind: kind, Index: idx}
	}
	return nil
}

// decodeConstExpr reads a restricted constant expression: one producing
// instruction followed by end. m carries the imports already decoded so a
// global.get operand can be checked against them as it's read.
func decodeConstExpr(r *reader.Reader, m *Module) (ConstExpr, error) {
	ins, err := opcode.Read(r)
	if err != nil {
		return ConstExpr{}, err
	}
	var ce ConstExpr
	ce.Pos = ins.Pos
	switch ins.Code {
	case opcode.I32Const:
		ce.Op, ce.I32 = ins.Code, ins.I32
	case opcode.I64Const:
		ce.Op, ce.I64 = ins.Code, ins.I64
	case opcode.F32Const:
		ce.Op, ce.F32 = ins.Code, ins.F32
	case opcode.F64Const:
		ce.Op, ce.F64 = ins.Code, ins.F64
	case opcode.GlobalGet:
		if int(ins.Index) >= len(m.Imports) {
			return ConstExpr{}, ErrGlobalIndexOutOfRange
		}
		// global.get in a constant expression may only reference an
		// already-imported, immutable global (imports precede any
		// module-internal global in the unified index space).
		imported := importedGlobalAt(m, ins.Index)
		if imported == nil {
			return ConstExpr{}, ErrExpectedConstExpr
		}
		if imported.Global.Mutable {
			return ConstExpr{}, ErrGlobalGetOfMutable
		}
		ce.Op, ce.GlobalIndex = ins.Code, ins.Index
	default:
		return ConstExpr{}, ErrExpectedConstExpr
	}
	end, err := opcode.Read(r)
	if err != nil {
		return ConstExpr{}, err
	}
	if end.Code != opcode.End {
		return ConstExpr{}, ErrConstExprMissingEnd
	}
	return ce, nil
}

func importedGlobalAt(m *Module, index uint32) *Import {
	count := uint32(0)
	for i := range m.Imports {
		if m.Imports[i].Kind == ExternalGlobal {
			if count == index {
				return &m.Imports[i]
			}
			count++
		}
	}
	return nil
}

func decodeElementSection(r *reader.Reader, m *Module) error {
	n, err := r.ReadVarU32()
	if err != nil {
		return err
	}
	m.Elements = make([]Element, n)
	for i := range m.Elements {
		flag, err := r.ReadVarU32()
		if err != nil {
			return err
		}
		// Only the MVP encoding (flag 0: active segment against table 0,
		// funcref indices) is supported; the rest of the reference-types
		// proposal's element encodings are out of scope.
		if flag != 0 {
			return ErrUnsupportedElementKind
		}
		offset, err := decodeConstExpr(r, m)
		if err != nil {
			return err
		}
		count, err := r.ReadVarU32()
		if err != nil {
			return err
		}
		idxs := make([]uint32, count)
		for j := range idxs {
			idxs[j], err = r.ReadVarU32()
			if err != nil {
				return err
			}
		}
		m.Elements[i] = Element{Mode: ElementActive, TableIndex: 0, Offset: offset, FuncIndices: idxs}
	}
	return nil
}

func decodeCodeSection(r *reader.Reader, m *Module, funcTypeIndices []uint32) error {
	n, err := r.ReadVarU32()
	if err != nil {
		return err
	}
	if int(n) != len(funcTypeIndices) {
		return ErrFuncCodeLengthMismatch
	}
	for i := uint32(0); i < n; i++ {
		size, err := r.ReadVarU32()
		if err != nil {
			return err
		}
		body, err := r.ScopedSubReader(int(size))
		if err != nil {
			return err
		}
		code, err := decodeFunctionBody(body, m.Types[funcTypeIndices[i]])
		if err != nil {
			return err
		}
		if !body.AtEnd() {
			return ErrSectionSizeMismatch
		}
		code.Pos = reader.Span{Offset: r.Pos() - int(size), Length: int(size)}
		m.codeBodies = append(m.codeBodies, code)
	}
	return nil
}

func decodeFunctionBody(r *reader.Reader, sig FuncType) (*Code, error) {
	localGroups, err := r.ReadVarU32()
	if err != nil {
		return nil, err
	}
	locals := append([]opcode.ValueType(nil), sig.Params...)
	var numLocals uint32
	for i := uint32(0); i < localGroups; i++ {
		count, err := r.ReadVarU32()
		if err != nil {
			return nil, err
		}
		vt, err := decodeValueType(r)
		if err != nil {
			return nil, err
		}
		for j := uint32(0); j < count; j++ {
			locals = append(locals, vt)
		}
		numLocals += count
	}

	var instructions []opcode.Instruction
	for {
		ins, err := opcode.Read(r)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, ins)
		if ins.Code == opcode.End && r.AtEnd() {
			break
		}
	}
	return &Code{NumLocals: numLocals, LocalTypes: locals, Instructions: instructions}, nil
}

func decodeDataSection(r *reader.Reader, m *Module) error {
	n, err := r.ReadVarU32()
	if err != nil {
		return err
	}
	m.Data = make([]Data, n)
	for i := range m.Data {
		flag, err := r.ReadVarU32()
		if err != nil {
			return err
		}
		d := Data{}
		switch flag {
		case 0:
			d.Mode = DataActive
			d.Offset, err = decodeConstExpr(r, m)
		case 1:
			d.Mode = DataPassive
		case 2:
			d.Mode = DataActive
			d.MemIndex, err = r.ReadVarU32()
			if err == nil {
				d.Offset, err = decodeConstExpr(r, m)
			}
		default:
			return ErrUnsupportedElementKind
		}
		if err != nil {
			return err
		}
		n, err := r.ReadVarU32()
		if err != nil {
			return err
		}
		d.Bytes, err = r.ReadBytes(int(n))
		if err != nil {
			return err
		}
		m.Data[i] = d
	}
	return nil
}
