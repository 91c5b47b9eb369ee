package wasm

import "github.com/wasmforge/wavm/opcode"

// buildCatalogue merges imports with module-internal definitions into the
// unified function and global index spaces, and checks the structural
// invariants that span multiple sections: type indices in range, the
// function/code section parity, at most one table and one memory, the
// start function's signature, and the datacount/data section agreement.
func buildCatalogue(m *Module, funcSecTypeIndices []uint32) (*Module, error) {
	if len(funcSecTypeIndices) != len(m.codeBodies) {
		return nil, ErrFuncCodeLengthMismatch
	}

	tableCount := len(m.Tables)
	memCount := len(m.Memories)
	for _, imp := range m.Imports {
		switch imp.Kind {
		case ExternalFunction:
			if int(imp.TypeIndex) >= len(m.Types) {
				return nil, ErrTypeIndexOutOfRange
			}
			m.Functions = append(m.Functions, FunctionInfo{
				Origin:    FunctionImported,
				TypeIndex: imp.TypeIndex,
				Import:    importCopy(imp),
			})
		case ExternalTable:
			tableCount++
		case ExternalMemory:
			memCount++
		case ExternalGlobal:
			m.Globals = append(m.Globals, GlobalInfo{
				Origin: FunctionImported,
				Type:   imp.Global,
				Import: importCopy(imp),
			})
		}
	}
	if tableCount > 1 {
		return nil, ErrMultipleTables
	}
	if memCount > 1 {
		return nil, ErrMultipleMemories
	}

	for i, ti := range funcSecTypeIndices {
		if int(ti) >= len(m.Types) {
			return nil, ErrTypeIndexOutOfRange
		}
		m.Functions = append(m.Functions, FunctionInfo{
			Origin:    FunctionInternal,
			TypeIndex: ti,
			Code:      m.codeBodies[i],
		})
	}

	for _, g := range m.internalGlobals {
		m.Globals = append(m.Globals, GlobalInfo{Origin: FunctionInternal, Type: g.Type, Init: g.Init})
	}

	for _, e := range m.Exports {
		switch e.Kind {
		case ExternalFunction:
			if int(e.Index) >= len(m.Functions) {
				return nil, ErrFunctionIndexOutOfRange
			}
		case ExternalGlobal:
			if int(e.Index) >= len(m.Globals) {
				return nil, ErrGlobalIndexOutOfRange
			}
		case ExternalTable:
			if int(e.Index) >= tableCount {
				return nil, ErrTableIndexOutOfRange
			}
		case ExternalMemory:
			if int(e.Index) >= memCount {
				return nil, ErrMemoryIndexOutOfRange
			}
		}
	}

	if m.HasStart {
		ft, ok := m.FuncTypeOf(m.StartFunc)
		if !ok {
			return nil, ErrFunctionIndexOutOfRange
		}
		if len(ft.Params) != 0 || len(ft.Results) != 0 {
			return nil, ErrInvalidStartFunction
		}
	}

	for _, el := range m.Elements {
		if int(el.TableIndex) >= tableCount {
			return nil, ErrTableIndexOutOfRange
		}
		for _, fi := range el.FuncIndices {
			if int(fi) >= len(m.Functions) {
				return nil, ErrFunctionIndexOutOfRange
			}
		}
	}

	if m.HasDataCount && int(m.DataCount) != len(m.Data) {
		return nil, ErrDataCountMismatch
	}
	for _, d := range m.Data {
		if d.Mode == DataActive && int(d.MemIndex) >= memCount {
			return nil, ErrMemoryIndexOutOfRange
		}
	}
	if !m.HasDataCount {
		for _, code := range m.codeBodies {
			for _, ins := range code.Instructions {
				if ins.Code == opcode.MemoryInit && int(ins.Index) >= len(m.Data) {
					return nil, ErrDataIndexOutOfRange
				}
			}
		}
	}

	m.internalGlobals = nil
	m.codeBodies = nil
	return m, nil
}

func importCopy(imp Import) *Import {
	c := imp
	return &c
}
