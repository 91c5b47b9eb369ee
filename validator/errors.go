package validator

import (
	"errors"
	"fmt"

	"github.com/wasmforge/wavm/opcode"
)

// Validation-tier errors: the module decodes cleanly but its code does not
// type-check.
var (
	ErrTypeMismatch          = errors.New("validator: operand type mismatch")
	ErrStackUnderflow        = errors.New("validator: value stack underflow")
	ErrControlStackUnderflow = errors.New("validator: control stack underflow (end/else with no matching block)")
	ErrUnknownLocal          = errors.New("validator: local index out of range")
	ErrUnknownGlobal         = errors.New("validator: global index out of range")
	ErrUnknownFunction       = errors.New("validator: function index out of range")
	ErrUnknownTable          = errors.New("validator: table index out of range")
	ErrUnknownMemory         = errors.New("validator: memory index out of range, no memory section")
	ErrUnknownType           = errors.New("validator: type index out of range")
	ErrUnknownLabel          = errors.New("validator: branch depth exceeds control stack")
	ErrUnknownData           = errors.New("validator: data segment index out of range")
	ErrGlobalNotMutable      = errors.New("validator: global.set on an immutable global")
	ErrAlignmentTooLarge     = errors.New("validator: memarg alignment exceeds the natural alignment of the access")
	ErrElseWithoutIf         = errors.New("validator: else with no matching if")
	ErrIfWithoutElse         = errors.New("validator: if produces values but has no else")
	ErrEndMismatch           = errors.New("validator: block/loop/if/function end does not balance")
	ErrMissingEnd            = errors.New("validator: function body missing trailing end")
	ErrTrailingInstructions  = errors.New("validator: instructions remain after function's end")
)

// UnsupportedOpcodeError reports an instruction this validator has no
// typing rule for, typically a floating-point arithmetic opcode or a
// reference-type instruction out of scope.
type UnsupportedOpcodeError struct {
	Code opcode.Code
}

func (e *UnsupportedOpcodeError) Error() string {
	return fmt.Sprintf("validator: unsupported opcode %v", e.Code)
}
