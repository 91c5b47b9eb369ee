package wasm

import "errors"

// Decode-tier errors: the byte stream parses but does not form a
// well-formed module.
var (
	ErrUnknownSectionID       = errors.New("wasm: unknown section id")
	ErrSectionOutOfOrder      = errors.New("wasm: section out of canonical order")
	ErrDuplicateSection       = errors.New("wasm: duplicate section id")
	ErrSectionSizeMismatch    = errors.New("wasm: section size does not match consumed bytes")
	ErrInvalidExternalKind    = errors.New("wasm: invalid import/export kind byte")
	ErrInvalidElementType     = errors.New("wasm: invalid table element type")
	ErrInvalidLimitsFlag      = errors.New("wasm: invalid limits flag byte")
	ErrExpectedConstExpr      = errors.New("wasm: init expression is not a valid constant expression")
	ErrConstExprMissingEnd    = errors.New("wasm: init expression missing end opcode")
	ErrUnsupportedElementKind = errors.New("wasm: unsupported element segment encoding")
)

// Catalogue-tier errors: the module's sections are individually well-formed
// but don't cohere into a consistent index space.
var (
	ErrTypeIndexOutOfRange     = errors.New("wasm: type index out of range")
	ErrFunctionIndexOutOfRange = errors.New("wasm: function index out of range")
	ErrGlobalIndexOutOfRange   = errors.New("wasm: global index out of range")
	ErrTableIndexOutOfRange    = errors.New("wasm: table index out of range")
	ErrMemoryIndexOutOfRange   = errors.New("wasm: memory index out of range")
	ErrDataIndexOutOfRange     = errors.New("wasm: data index out of range")
	ErrFuncCodeLengthMismatch  = errors.New("wasm: function and code section lengths differ")
	ErrMultipleMemories        = errors.New("wasm: more than one memory defined")
	ErrMultipleTables          = errors.New("wasm: more than one table defined")
	ErrInvalidStartFunction    = errors.New("wasm: start function has a non-empty signature")
	ErrDataCountMismatch       = errors.New("wasm: datacount section disagrees with data section length")
	ErrGlobalGetOfMutable      = errors.New("wasm: constant expression reads a mutable global")
	ErrDuplicateExportName     = errors.New("wasm: duplicate export name")
)
