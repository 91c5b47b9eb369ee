// Package validator type-checks a decoded module's function bodies and, in
// the same pass, builds each function's jump table: one entry per branch
// site giving the instruction it resumes at, the operand-stack height to
// restore, and how many values the branch carries. Nothing here executes
// code; the vm package walks the jump table it produces.
package validator

import (
	"github.com/wasmforge/wavm/opcode"
	"github.com/wasmforge/wavm/wasm"
)

// Function is the validated artifact the interpreter runs: the original
// code plus the jump table resolving every branch site.
type Function struct {
	Code      *wasm.Code
	TypeIndex uint32

	JumpTable []JumpEntry
	// Branches maps an instruction index to the jump-table entries it can
	// take: length 1 for br/br_if/if's implicit false-branch, length
	// len(targets)+1 for br_table (targets in order, default last).
	Branches map[int][]int
}

// moduleInfo gathers the cross-function facts a single function's
// validation pass needs: its own function's signature is looked up per
// call, but memory/table presence and global mutability span the module.
type moduleInfo struct {
	m         *wasm.Module
	memCount  int
	tableCount int
}

// ValidateModule type-checks every module-internal function and returns its
// jump table, keyed by the function's index in the unified function index
// space.
func ValidateModule(m *wasm.Module) (map[int]*Function, error) {
	info := &moduleInfo{m: m}
	for _, imp := range m.Imports {
		switch imp.Kind {
		case wasm.ExternalMemory:
			info.memCount++
		case wasm.ExternalTable:
			info.tableCount++
		}
	}
	info.memCount += len(m.Memories)
	info.tableCount += len(m.Tables)

	out := make(map[int]*Function)
	for idx, fn := range m.Functions {
		if fn.Origin != wasm.FunctionInternal {
			continue
		}
		sig := m.Types[fn.TypeIndex]
		vfn, err := validateFunction(info, fn.Code, sig)
		if err != nil {
			return nil, err
		}
		vfn.TypeIndex = fn.TypeIndex
		out[idx] = vfn
	}
	return out, nil
}

func toOperandTypes(vts []opcode.ValueType) []OperandType {
	out := make([]OperandType, len(vts))
	for i, vt := range vts {
		out[i] = fromValueType(vt)
	}
	return out
}

func validateFunction(info *moduleInfo, code *wasm.Code, sig wasm.FuncType) (*Function, error) {
	locals := toOperandTypes(code.LocalTypes)
	results := toOperandTypes(sig.Results)

	stack := &valStack{}
	outer := &ctrlFrame{kind: ctrlBlock, resultTypes: results, startIP: -1, height: 0, ifFalseJump: -1}
	ctrl := []*ctrlFrame{outer}

	var jumpTable []JumpEntry
	branches := map[int][]int{}

	resolveBlockType := func(bt opcode.BlockType) ([]OperandType, []OperandType, error) {
		switch bt.Kind {
		case opcode.BlockEmpty:
			return nil, nil, nil
		case opcode.BlockValue:
			return nil, []OperandType{fromValueType(bt.Value)}, nil
		default:
			if int(bt.TypeIndex) >= len(info.m.Types) {
				return nil, nil, ErrUnknownType
			}
			ft := info.m.Types[bt.TypeIndex]
			return toOperandTypes(ft.Params), toOperandTypes(ft.Results), nil
		}
	}

	localType := func(idx uint32) (OperandType, error) {
		if int(idx) >= len(locals) {
			return 0, ErrUnknownLocal
		}
		return locals[idx], nil
	}

	top := func() *ctrlFrame { return ctrl[len(ctrl)-1] }

	pushVec := func(ts []OperandType) {
		for _, t := range ts {
			stack.push(t)
		}
	}
	popVec := func(ts []OperandType, frame *ctrlFrame) error {
		for i := len(ts) - 1; i >= 0; i-- {
			if err := stack.popExpect(ts[i], frame); err != nil {
				return err
			}
		}
		return nil
	}

	// newBranch records a jump-table entry for a branch out of the
	// current instruction to the frame label depths deep, returning the
	// entry's index so the caller can stash it in branches.
	newBranch := func(ip int, depth uint32) (int, error) {
		if int(depth) >= len(ctrl) {
			return 0, ErrUnknownLabel
		}
		target := ctrl[len(ctrl)-1-int(depth)]
		labelTypes := target.labelTypes()
		// Check (without popping) that the operand stack currently
		// has the label's types on top; br/br_if/br_table don't
		// consume them on the fallthrough path, only on the taken
		// path's accounting, so validate via a scratch copy height.
		have := stack.height()
		frame := top()
		if have-frame.height < len(labelTypes) && !frame.unreachable {
			return 0, ErrStackUnderflow
		}
		for i, want := range labelTypes {
			pos := have - len(labelTypes) + i
			if pos < frame.height {
				if !frame.unreachable {
					return 0, ErrStackUnderflow
				}
				continue
			}
			got := stack.types[pos]
			if got != Unknown && want != Unknown && got != want {
				return 0, ErrTypeMismatch
			}
		}

		entry := JumpEntry{BranchIP: ip, StackHeight: target.height, Arity: len(labelTypes)}
		idx := len(jumpTable)
		if target.kind == ctrlLoop {
			entry.TargetIP = target.startIP
			jumpTable = append(jumpTable, entry)
			return idx, nil
		}
		jumpTable = append(jumpTable, entry)
		target.pendingPatches = append(target.pendingPatches, idx)
		return idx, nil
	}

	markUnreachable := func() {
		frame := top()
		stack.truncate(frame.height)
		frame.unreachable = true
	}

	for i, ins := range code.Instructions {
		frame := top()
		switch ins.Code {
		case opcode.Unreachable:
			markUnreachable()

		case opcode.Nop:

		case opcode.Block, opcode.Loop:
			params, results, err := resolveBlockType(ins.Block)
			if err != nil {
				return nil, err
			}
			if err := popVec(params, frame); err != nil {
				return nil, err
			}
			kind := ctrlBlock
			if ins.Code == opcode.Loop {
				kind = ctrlLoop
			}
			nf := &ctrlFrame{kind: kind, paramTypes: params, resultTypes: results, startIP: i, height: stack.height(), ifFalseJump: -1}
			pushVec(params)
			nf.height = stack.height() - len(params)
			ctrl = append(ctrl, nf)

		case opcode.If:
			if err := stack.popExpect(I32, frame); err != nil {
				return nil, err
			}
			params, results, err := resolveBlockType(ins.Block)
			if err != nil {
				return nil, err
			}
			if err := popVec(params, frame); err != nil {
				return nil, err
			}
			nf := &ctrlFrame{kind: ctrlIf, paramTypes: params, resultTypes: results, startIP: i, ifFalseJump: -1}
			pushVec(params)
			nf.height = stack.height() - len(params)
			ctrl = append(ctrl, nf)
			entry := JumpEntry{BranchIP: i, StackHeight: nf.height, Arity: len(params)}
			nf.ifFalseJump = len(jumpTable)
			jumpTable = append(jumpTable, entry)
			branches[i] = []int{nf.ifFalseJump}

		case opcode.Else:
			if frame.kind != ctrlIf {
				return nil, ErrElseWithoutIf
			}
			if err := popVec(frame.resultTypes, frame); err != nil {
				return nil, err
			}
			if stack.height() != frame.height {
				return nil, ErrTypeMismatch
			}
			jumpTable[frame.ifFalseJump].TargetIP = i + 1
			frame.kind = ctrlElse
			frame.unreachable = false
			pushVec(frame.paramTypes)

			// A true if-branch falling through to Else must skip the
			// else-block entirely; this entry is patched to "one past
			// End" alongside the block's other pending patches.
			skip := JumpEntry{BranchIP: i, StackHeight: frame.height, Arity: len(frame.resultTypes)}
			skipIdx := len(jumpTable)
			jumpTable = append(jumpTable, skip)
			frame.pendingPatches = append(frame.pendingPatches, skipIdx)
			branches[i] = []int{skipIdx}

		case opcode.End:
			if len(ctrl) == 1 && i != len(code.Instructions)-1 {
				return nil, ErrTrailingInstructions
			}
			if err := popVec(frame.resultTypes, frame); err != nil {
				return nil, err
			}
			if stack.height() != frame.height {
				return nil, ErrTypeMismatch
			}
			if frame.kind == ctrlIf {
				if len(frame.paramTypes) != len(frame.resultTypes) {
					return nil, ErrIfWithoutElse
				}
				for k := range frame.paramTypes {
					if frame.paramTypes[k] != frame.resultTypes[k] {
						return nil, ErrIfWithoutElse
					}
				}
				jumpTable[frame.ifFalseJump].TargetIP = i + 1
			}
			for _, pidx := range frame.pendingPatches {
				jumpTable[pidx].TargetIP = i + 1
			}
			if len(ctrl) > 1 {
				ctrl = ctrl[:len(ctrl)-1]
			}
			pushVec(frame.resultTypes)

		case opcode.Br:
			idx, err := newBranch(i, ins.Label)
			if err != nil {
				return nil, err
			}
			branches[i] = []int{idx}
			markUnreachable()

		case opcode.BrIf:
			if err := stack.popExpect(I32, frame); err != nil {
				return nil, err
			}
			idx, err := newBranch(i, ins.Label)
			if err != nil {
				return nil, err
			}
			branches[i] = []int{idx}

		case opcode.BrTableOp:
			if err := stack.popExpect(I32, frame); err != nil {
				return nil, err
			}
			entries := make([]int, 0, len(ins.Table.Targets)+1)
			var firstArity = -1
			for _, depth := range ins.Table.Targets {
				idx, err := newBranch(i, depth)
				if err != nil {
					return nil, err
				}
				if firstArity == -1 {
					firstArity = jumpTable[idx].Arity
				} else if jumpTable[idx].Arity != firstArity {
					return nil, ErrTypeMismatch
				}
				entries = append(entries, idx)
			}
			idx, err := newBranch(i, ins.Table.Default)
			if err != nil {
				return nil, err
			}
			if firstArity != -1 && jumpTable[idx].Arity != firstArity {
				return nil, ErrTypeMismatch
			}
			entries = append(entries, idx)
			branches[i] = entries
			markUnreachable()

		case opcode.Return:
			if err := popVec(outer.resultTypes, frame); err != nil {
				return nil, err
			}
			markUnreachable()

		case opcode.Call:
			if int(ins.Index) >= len(info.m.Functions) {
				return nil, ErrUnknownFunction
			}
			ft, _ := info.m.FuncTypeOf(ins.Index)
			if err := popVec(toOperandTypes(ft.Params), frame); err != nil {
				return nil, err
			}
			pushVec(toOperandTypes(ft.Results))

		case opcode.CallIndirect:
			if info.tableCount == 0 {
				return nil, ErrUnknownTable
			}
			if int(ins.Index2) >= len(info.m.Types) {
				return nil, ErrUnknownType
			}
			if err := stack.popExpect(I32, frame); err != nil {
				return nil, err
			}
			ft := info.m.Types[ins.Index2]
			if err := popVec(toOperandTypes(ft.Params), frame); err != nil {
				return nil, err
			}
			pushVec(toOperandTypes(ft.Results))

		case opcode.Drop:
			if _, err := stack.pop(frame); err != nil {
				return nil, err
			}

		case opcode.Select:
			if err := stack.popExpect(I32, frame); err != nil {
				return nil, err
			}
			b, err := stack.pop(frame)
			if err != nil {
				return nil, err
			}
			if err := stack.popExpect(b, frame); err != nil {
				return nil, err
			}
			stack.push(b)

		case opcode.SelectT:
			if err := stack.popExpect(I32, frame); err != nil {
				return nil, err
			}
			want := fromValueType(ins.Select)
			if err := stack.popExpect(want, frame); err != nil {
				return nil, err
			}
			if err := stack.popExpect(want, frame); err != nil {
				return nil, err
			}
			stack.push(want)

		case opcode.LocalGet:
			t, err := localType(ins.Index)
			if err != nil {
				return nil, err
			}
			stack.push(t)

		case opcode.LocalSet:
			t, err := localType(ins.Index)
			if err != nil {
				return nil, err
			}
			if err := stack.popExpect(t, frame); err != nil {
				return nil, err
			}

		case opcode.LocalTee:
			t, err := localType(ins.Index)
			if err != nil {
				return nil, err
			}
			if err := stack.popExpect(t, frame); err != nil {
				return nil, err
			}
			stack.push(t)

		case opcode.GlobalGet:
			if int(ins.Index) >= len(info.m.Globals) {
				return nil, ErrUnknownGlobal
			}
			stack.push(fromValueType(info.m.Globals[ins.Index].Type.Type))

		case opcode.GlobalSet:
			if int(ins.Index) >= len(info.m.Globals) {
				return nil, ErrUnknownGlobal
			}
			g := info.m.Globals[ins.Index]
			if !g.Type.Mutable {
				return nil, ErrGlobalNotMutable
			}
			if err := stack.popExpect(fromValueType(g.Type.Type), frame); err != nil {
				return nil, err
			}

		case opcode.I32Load, opcode.I32Load8S, opcode.I32Load8U, opcode.I32Load16S, opcode.I32Load16U:
			if err := validateLoad(info, stack, frame, ins, I32); err != nil {
				return nil, err
			}
		case opcode.I64Load, opcode.I64Load8S, opcode.I64Load8U, opcode.I64Load16S, opcode.I64Load16U, opcode.I64Load32S, opcode.I64Load32U:
			if err := validateLoad(info, stack, frame, ins, I64); err != nil {
				return nil, err
			}
		case opcode.F32Load:
			if err := validateLoad(info, stack, frame, ins, F32); err != nil {
				return nil, err
			}
		case opcode.F64Load:
			if err := validateLoad(info, stack, frame, ins, F64); err != nil {
				return nil, err
			}

		case opcode.I32Store, opcode.I32Store8, opcode.I32Store16:
			if err := validateStore(info, stack, frame, ins, I32); err != nil {
				return nil, err
			}
		case opcode.I64Store, opcode.I64Store8, opcode.I64Store16, opcode.I64Store32:
			if err := validateStore(info, stack, frame, ins, I64); err != nil {
				return nil, err
			}
		case opcode.F32Store:
			if err := validateStore(info, stack, frame, ins, F32); err != nil {
				return nil, err
			}
		case opcode.F64Store:
			if err := validateStore(info, stack, frame, ins, F64); err != nil {
				return nil, err
			}

		case opcode.MemorySize:
			if info.memCount == 0 {
				return nil, ErrUnknownMemory
			}
			stack.push(I32)
		case opcode.MemoryGrow:
			if info.memCount == 0 {
				return nil, ErrUnknownMemory
			}
			if err := stack.popExpect(I32, frame); err != nil {
				return nil, err
			}
			stack.push(I32)

		case opcode.MemoryInit:
			if info.memCount == 0 {
				return nil, ErrUnknownMemory
			}
			if int(ins.Index) >= len(info.m.Data) {
				return nil, ErrUnknownData
			}
			if err := popVec([]OperandType{I32, I32, I32}, frame); err != nil {
				return nil, err
			}
		case opcode.MemoryCopy, opcode.MemoryFill:
			if info.memCount == 0 {
				return nil, ErrUnknownMemory
			}
			if err := popVec([]OperandType{I32, I32, I32}, frame); err != nil {
				return nil, err
			}

		case opcode.I32Const:
			stack.push(I32)
		case opcode.I64Const:
			stack.push(I64)
		case opcode.F32Const:
			stack.push(F32)
		case opcode.F64Const:
			stack.push(F64)

		case opcode.I32Eqz:
			if err := stack.popExpect(I32, frame); err != nil {
				return nil, err
			}
			stack.push(I32)
		case opcode.I64Eqz:
			if err := stack.popExpect(I64, frame); err != nil {
				return nil, err
			}
			stack.push(I32)

		case opcode.I32Eq, opcode.I32Ne, opcode.I32LtS, opcode.I32LtU, opcode.I32GtS, opcode.I32GtU,
			opcode.I32LeS, opcode.I32LeU, opcode.I32GeS, opcode.I32GeU:
			if err := popVec([]OperandType{I32, I32}, frame); err != nil {
				return nil, err
			}
			stack.push(I32)

		case opcode.I64Eq, opcode.I64Ne, opcode.I64LtS, opcode.I64LtU, opcode.I64GtS, opcode.I64GtU,
			opcode.I64LeS, opcode.I64LeU, opcode.I64GeS, opcode.I64GeU:
			if err := popVec([]OperandType{I64, I64}, frame); err != nil {
				return nil, err
			}
			stack.push(I32)

		case opcode.I32Clz, opcode.I32Ctz, opcode.I32Popcnt:
			if err := stack.popExpect(I32, frame); err != nil {
				return nil, err
			}
			stack.push(I32)
		case opcode.I64Clz, opcode.I64Ctz, opcode.I64Popcnt:
			if err := stack.popExpect(I64, frame); err != nil {
				return nil, err
			}
			stack.push(I64)

		case opcode.I32Add, opcode.I32Sub, opcode.I32Mul, opcode.I32DivS, opcode.I32DivU,
			opcode.I32RemS, opcode.I32RemU, opcode.I32And, opcode.I32Or, opcode.I32Xor,
			opcode.I32Shl, opcode.I32ShrS, opcode.I32ShrU, opcode.I32Rotl, opcode.I32Rotr:
			if err := popVec([]OperandType{I32, I32}, frame); err != nil {
				return nil, err
			}
			stack.push(I32)

		case opcode.I64Add, opcode.I64Sub, opcode.I64Mul, opcode.I64DivS, opcode.I64DivU,
			opcode.I64RemS, opcode.I64RemU, opcode.I64And, opcode.I64Or, opcode.I64Xor,
			opcode.I64Shl, opcode.I64ShrS, opcode.I64ShrU, opcode.I64Rotl, opcode.I64Rotr:
			if err := popVec([]OperandType{I64, I64}, frame); err != nil {
				return nil, err
			}
			stack.push(I64)

		default:
			return nil, &UnsupportedOpcodeError{Code: ins.Code}
		}
	}

	if len(ctrl) != 1 {
		return nil, ErrMissingEnd
	}

	return &Function{Code: code, JumpTable: jumpTable, Branches: branches}, nil
}

func naturalAlignBits(loadBytes int) uint32 {
	switch loadBytes {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	default:
		return 3
	}
}

func validateLoad(info *moduleInfo, stack *valStack, frame *ctrlFrame, ins opcode.Instruction, result OperandType) error {
	if info.memCount == 0 {
		return ErrUnknownMemory
	}
	loadBytes := accessWidth(ins.Code)
	if ins.Mem.Align > naturalAlignBits(loadBytes) {
		return ErrAlignmentTooLarge
	}
	if err := stack.popExpect(I32, frame); err != nil {
		return err
	}
	stack.push(result)
	return nil
}

func validateStore(info *moduleInfo, stack *valStack, frame *ctrlFrame, ins opcode.Instruction, value OperandType) error {
	if info.memCount == 0 {
		return ErrUnknownMemory
	}
	storeBytes := accessWidth(ins.Code)
	if ins.Mem.Align > naturalAlignBits(storeBytes) {
		return ErrAlignmentTooLarge
	}
	if err := stack.popExpect(value, frame); err != nil {
		return err
	}
	return stack.popExpect(I32, frame)
}

// accessWidth returns the number of bytes a load/store opcode reads or
// writes in linear memory, independent of the value type it produces or
// consumes (e.g. i64.load8_u reads 1 byte but produces an i64).
func accessWidth(c opcode.Code) int {
	switch c {
	case opcode.I32Load8S, opcode.I32Load8U, opcode.I64Load8S, opcode.I64Load8U,
		opcode.I32Store8, opcode.I64Store8:
		return 1
	case opcode.I32Load16S, opcode.I32Load16U, opcode.I64Load16S, opcode.I64Load16U,
		opcode.I32Store16, opcode.I64Store16:
		return 2
	case opcode.I32Load, opcode.F32Load, opcode.I32Store, opcode.F32Store,
		opcode.I64Load32S, opcode.I64Load32U, opcode.I64Store32:
		return 4
	default:
		return 8
	}
}
