package validator

// ctrlKind distinguishes the structured-instruction frames (block, loop,
// if, and the else half of an if); the implicit outer frame wrapping a
// whole function body is a block.
type ctrlKind byte

const (
	ctrlBlock ctrlKind = iota
	ctrlLoop
	ctrlIf
	ctrlElse
)

// ctrlFrame tracks one nested block/loop/if/function-body during
// validation: the types flowing in and out, the operand-stack height at
// entry (so its contents can be discarded on a forward branch or an end),
// and the jump-table entries still waiting for this frame's target
// instruction to become known.
type ctrlFrame struct {
	kind       ctrlKind
	paramTypes []OperandType
	resultTypes []OperandType

	// startIP is the instruction index of the Block/Loop/If/Else opcode
	// that opened this frame.
	startIP int

	// height is the operand stack height when this frame was entered.
	height int

	// unreachable marks that an unconditional transfer (unreachable,
	// br, br_table, return) has made the rest of this frame's code
	// unreachable; pops at or below height then yield Unknown instead
	// of underflowing, and the stack is truncated to height right away.
	unreachable bool

	// pendingPatches holds jump-table entry indices whose TargetIP
	// should be set to "one past this frame's End" once End is reached.
	// Loop frames never populate this: a branch to a loop already knows
	// its target (the loop's own start), so it's patched immediately.
	pendingPatches []int

	// ifFalseJump is the jump-table entry index of an If instruction's
	// own conditional branch (taken when the condition is false), or -1
	// when this frame isn't an unresolved If.
	ifFalseJump int
}

// labelTypes returns the types a branch to this frame must match: a loop's
// label is its parameters (re-entering the loop), everything else's label
// is its results.
func (f *ctrlFrame) labelTypes() []OperandType {
	if f.kind == ctrlLoop {
		return f.paramTypes
	}
	return f.resultTypes
}

// JumpEntry is one resolved branch site: the instruction index of the
// branch, the instruction index execution continues at, the operand-stack
// height to restore before continuing there, and how many result values
// are carried across the branch.
type JumpEntry struct {
	BranchIP    int
	TargetIP    int
	StackHeight int
	Arity       int
}

// DeltaIP is TargetIP - BranchIP: negative for a loop's backward edge,
// positive for a forward branch to a block or if's end.
func (e JumpEntry) DeltaIP() int { return e.TargetIP - e.BranchIP }
