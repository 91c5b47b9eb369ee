package reader

import "errors"

// Reader errors: malformed input at the lowest, byte-cursor level.
var (
	ErrEndOfBuffer        = errors.New("reader: end of buffer")
	ErrInvalidLeb         = errors.New("reader: invalid leb128 encoding")
	ErrInvalidUTF8        = errors.New("reader: invalid utf-8 string")
	ErrInvalidHeaderMagic = errors.New("reader: invalid wasm header magic")
	ErrInvalidWasmVersion = errors.New("reader: invalid wasm version")
)
