// Package wasm decodes a WebAssembly binary module into an in-memory
// representation and builds the catalogue of indexable definitions
// (functions, globals, memories, tables) a module exposes once imports and
// module-internal definitions are merged into unified index spaces.
package wasm

import (
	"github.com/wasmforge/wavm/opcode"
	"github.com/wasmforge/wavm/reader"
)

// FuncType is a function signature: a vector of parameter types followed by
// a vector of result types.
type FuncType struct {
	Params  []opcode.ValueType
	Results []opcode.ValueType
}

// Limits bounds a table or memory's size, in the unit that section defines
// (pages for memories, elements for tables).
type Limits struct {
	Min uint32
	Max uint32
	HasMax bool
}

// TableType describes a table's element type (always funcref in this
// profile; reference-types proposal element kinds are out of scope) and its
// size limits.
type TableType struct {
	ElemType byte
	Limits   Limits
}

// MemType describes a linear memory's size limits, in 64KiB pages.
type MemType struct {
	Limits Limits
}

// GlobalType describes a global's value type and mutability.
type GlobalType struct {
	Type    opcode.ValueType
	Mutable bool
}

// ExternalKind tags which index space an import or export refers to.
type ExternalKind byte

const (
	ExternalFunction ExternalKind = 0x00
	ExternalTable    ExternalKind = 0x01
	ExternalMemory   ExternalKind = 0x02
	ExternalGlobal   ExternalKind = 0x03
)

// Import is one entry of the import section: a module/field pair and the
// kind-specific descriptor of what's being imported.
type Import struct {
	Module string
	Field  string
	Kind   ExternalKind

	TypeIndex uint32 // ExternalFunction
	Table     TableType
	Memory    MemType
	Global    GlobalType
}

// Export is one entry of the export section.
type Export struct {
	Name  string
	Kind  ExternalKind
	Index uint32
}

// ConstExpr is a decoded constant initializer: global values and active
// segment offsets are restricted to a short, fixed vocabulary of opcodes, so
// this holds the single producing instruction plus, for global.get, the
// index of the immutable imported global it reads.
type ConstExpr struct {
	Op  opcode.Code
	I32 int32
	I64 int64
	F32 uint32
	F64 uint64
	GlobalIndex uint32
	Pos reader.Span
}

// Global is a module-internal global definition.
type Global struct {
	Type GlobalType
	Init ConstExpr
}

// Code is a function body: its locals (expanded into one entry per local
// slot, in declaration order) and its fully-decoded instruction stream.
type Code struct {
	NumLocals    uint32
	LocalTypes   []opcode.ValueType // indexed by local slot: the parameter types first, then the declared locals
	Instructions []opcode.Instruction
	Pos          reader.Span
}

// ElementMode distinguishes how an element segment is applied.
type ElementMode byte

const (
	ElementActive ElementMode = iota
	ElementPassive
)

// Element is one entry of the element section. This engine implements only
// the MVP encoding: active segments against table 0 with a funcref vector.
type Element struct {
	Mode       ElementMode
	TableIndex uint32
	Offset     ConstExpr
	FuncIndices []uint32
}

// DataMode distinguishes how a data segment is applied.
type DataMode byte

const (
	DataActive DataMode = iota
	DataPassive
)

// Data is one entry of the data section.
type Data struct {
	Mode       DataMode
	MemIndex   uint32
	Offset     ConstExpr
	Bytes      []byte
}

// CustomSection is an uninterpreted name/payload pair, preserved verbatim
// for tools that want to inspect it.
type CustomSection struct {
	Name    string
	Payload []byte
}

// FunctionOrigin distinguishes an imported function from one defined by the
// module's own code section, inside the unified function index space.
type FunctionOrigin byte

const (
	FunctionImported FunctionOrigin = iota
	FunctionInternal
)

// FunctionInfo is one entry of the unified function index space: every
// import of kind function, in import order, followed by every function
// section entry, in declaration order.
type FunctionInfo struct {
	Origin    FunctionOrigin
	TypeIndex uint32
	Code      *Code  // nil when Origin is FunctionImported
	Import    *Import // nil when Origin is FunctionInternal
}

// GlobalInfo is one entry of the unified global index space.
type GlobalInfo struct {
	Origin FunctionOrigin
	Type   GlobalType
	Init   ConstExpr // zero value when Origin is FunctionImported
	Import *Import
}

// Module is the fully decoded and catalogued representation of a WebAssembly
// binary module.
type Module struct {
	Types   []FuncType
	Imports []Import
	Tables  []TableType
	Memories []MemType
	Exports []Export
	Elements []Element
	Data    []Data
	Customs []CustomSection

	// HasStart and StartFunc report the optional start section.
	HasStart  bool
	StartFunc uint32

	// HasDataCount and DataCount report the optional datacount section.
	// memory.init does not require it: when it is absent, the catalogue
	// checks each memory.init's data index against the data section's
	// length instead.
	HasDataCount bool
	DataCount    uint32

	// Functions and Globals are the unified index spaces: imports first,
	// in import order, then module-internal definitions in declaration
	// order.
	Functions []FunctionInfo
	Globals   []GlobalInfo

	// internalGlobals and codeBodies hold raw per-section data until
	// buildCatalogue merges them with imports into the unified index
	// spaces above.
	internalGlobals []Global
	codeBodies      []*Code
}

// FuncTypeOf returns the signature of the function at the given index in
// the unified function index space.
func (m *Module) FuncTypeOf(index uint32) (FuncType, bool) {
	if int(index) >= len(m.Functions) {
		return FuncType{}, false
	}
	ti := m.Functions[index].TypeIndex
	if int(ti) >= len(m.Types) {
		return FuncType{}, false
	}
	return m.Types[ti], true
}

// NumImportedFunctions reports how many entries at the front of Functions
// are imports, i.e. the index at which module-internal functions begin.
func (m *Module) NumImportedFunctions() int {
	n := 0
	for _, f := range m.Functions {
		if f.Origin != FunctionImported {
			break
		}
		n++
	}
	return n
}
