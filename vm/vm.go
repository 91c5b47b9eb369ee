// Package vm is the concrete stack-based interpreter: it walks a validated
// function's instructions against an untyped 64-bit value stack, using the
// jump table the validator built instead of ever re-scanning for a branch's
// target.
package vm

import (
	"math/bits"

	"github.com/wasmforge/wavm/opcode"
	"github.com/wasmforge/wavm/validator"
	"github.com/wasmforge/wavm/wasm"
)

// hostSlot is one entry of the flat host-function dispatch table, resolved
// once at instantiation.
type hostSlot struct {
	module, field string
	fn            HostFunction
	ok            bool
}

// Instance is one instantiated module: its own linear memory, globals,
// table and host bindings. Instances share no mutable state; running two
// Instances from the same Module concurrently on separate goroutines is
// safe.
type Instance struct {
	module           *wasm.Module
	functions        map[int]*validator.Function
	numImportedFuncs int

	mem     *memory
	table   []uint32 // funcref indices into the unified function index space; unset slots hold missingElement
	globals []uint64
	hostFns []hostSlot
}

// Instantiate validates m and binds its imports via resolver, producing a
// ready-to-run Instance. Missing host function bindings do not fail
// instantiation; calling one traps with ErrImportTypeMismatch.
func Instantiate(m *wasm.Module, resolver Resolver) (*Instance, error) {
	functions, err := validator.ValidateModule(m)
	if err != nil {
		return nil, err
	}

	inst := &Instance{module: m, functions: functions, numImportedFuncs: m.NumImportedFunctions()}

	inst.hostFns = make([]hostSlot, inst.numImportedFuncs)
	fi := 0
	for _, imp := range m.Imports {
		if imp.Kind != wasm.ExternalFunction {
			continue
		}
		sig := m.Types[imp.TypeIndex]
		fn, ok := resolver.ResolveFunction(imp.Module, imp.Field, sig)
		inst.hostFns[fi] = hostSlot{module: imp.Module, field: imp.Field, fn: fn, ok: ok}
		fi++
	}

	inst.globals = make([]uint64, len(m.Globals))
	for i, g := range m.Globals {
		if g.Origin == wasm.FunctionImported {
			v, ok := resolver.ResolveGlobal(g.Import.Module, g.Import.Field, g.Type)
			if !ok {
				return nil, trap(ErrImportTypeMismatch)
			}
			inst.globals[i] = v
			continue
		}
		inst.globals[i] = inst.evalConst(g.Init)
	}

	if len(m.Memories) == 1 {
		inst.mem = newMemory(m.Memories[0].Limits.Min, m.Memories[0].Limits.Max, m.Memories[0].Limits.HasMax)
	} else {
		for _, imp := range m.Imports {
			if imp.Kind == wasm.ExternalMemory {
				inst.mem = newMemory(imp.Memory.Limits.Min, imp.Memory.Limits.Max, imp.Memory.Limits.HasMax)
			}
		}
	}

	tableMin, haveTable := uint32(0), false
	if len(m.Tables) == 1 {
		tableMin, haveTable = m.Tables[0].Limits.Min, true
	} else {
		for _, imp := range m.Imports {
			if imp.Kind == wasm.ExternalTable {
				tableMin, haveTable = imp.Table.Limits.Min, true
			}
		}
	}
	if haveTable {
		inst.table = make([]uint32, tableMin)
		for i := range inst.table {
			inst.table[i] = missingElement
		}
		for _, el := range m.Elements {
			off := uint32(inst.evalConst(el.Offset))
			for i, fidx := range el.FuncIndices {
				pos := off + uint32(i)
				if int(pos) < len(inst.table) {
					inst.table[pos] = fidx
				}
			}
		}
	}

	return inst, nil
}

// missingElement marks a table slot no element segment initialized.
const missingElement = ^uint32(0)

func (inst *Instance) evalConst(ce wasm.ConstExpr) uint64 {
	switch ce.Op {
	case opcode.I32Const:
		return uint64(uint32(ce.I32))
	case opcode.I64Const:
		return uint64(ce.I64)
	case opcode.F32Const:
		return uint64(ce.F32)
	case opcode.F64Const:
		return ce.F64
	case opcode.GlobalGet:
		return inst.globals[ce.GlobalIndex]
	default:
		return 0
	}
}

// ExportedFunction returns the unified function index of the export named
// name, if it is a function export.
func (inst *Instance) ExportedFunction(name string) (uint32, bool) {
	for _, e := range inst.module.Exports {
		if e.Name == name && e.Kind == wasm.ExternalFunction {
			return e.Index, true
		}
	}
	return 0, false
}

// Call invokes the function at the given unified index with args and
// returns its results, or a trap.
func (inst *Instance) Call(funcIndex uint32, args []uint64) ([]uint64, error) {
	return inst.invoke(funcIndex, args)
}

func (inst *Instance) invoke(funcIndex uint32, args []uint64) ([]uint64, error) {
	if int(funcIndex) < inst.numImportedFuncs {
		slot := inst.hostFns[funcIndex]
		if !slot.ok {
			return nil, trap(ErrImportTypeMismatch)
		}
		results, err := slot.fn(args)
		if err != nil {
			return nil, trap(&HostFunctionTrapError{Module: slot.module, Field: slot.field, Err: err})
		}
		return results, nil
	}

	vfn := inst.functions[int(funcIndex)]
	sig := inst.module.Types[inst.module.Functions[funcIndex].TypeIndex]

	locals := make([]uint64, len(vfn.Code.LocalTypes))
	copy(locals, args)

	fr := &callFrame{fn: vfn, locals: locals, resultArity: len(sig.Results)}
	return inst.run(fr)
}

// callFrame is one activation record: its function's locals (parameters
// occupy the first slots) and a fresh operand stack, since WebAssembly
// calls never need to see into a caller's operand stack.
type callFrame struct {
	fn          *validator.Function
	locals      []uint64
	resultArity int
}

func (inst *Instance) run(fr *callFrame) ([]uint64, error) {
	var stack []uint64
	ip := 0
	ins := fr.fn.Code.Instructions

	jump := func(je validator.JumpEntry) {
		carried := append([]uint64(nil), stack[len(stack)-je.Arity:]...)
		stack = append(stack[:je.StackHeight], carried...)
		ip = je.TargetIP
	}

	for ip < len(ins) {
		in := ins[ip]
		switch in.Code {
		case opcode.Unreachable:
			return nil, trap(ErrUnreachable)
		case opcode.Nop, opcode.Block, opcode.Loop, opcode.End:
			ip++
		case opcode.If:
			cond := pop32(&stack)
			entries := fr.fn.Branches[ip]
			ip++
			if cond == 0 {
				jump(fr.fn.JumpTable[entries[0]])
			}
		case opcode.Else:
			jump(fr.fn.JumpTable[fr.fn.Branches[ip][0]])
		case opcode.Br:
			jump(fr.fn.JumpTable[fr.fn.Branches[ip][0]])
		case opcode.BrIf:
			cond := pop32(&stack)
			if cond != 0 {
				jump(fr.fn.JumpTable[fr.fn.Branches[ip][0]])
			} else {
				ip++
			}
		case opcode.BrTableOp:
			idx := pop32(&stack)
			entries := fr.fn.Branches[ip]
			n := len(entries) - 1
			if int(idx) >= n {
				jump(fr.fn.JumpTable[entries[n]])
			} else {
				jump(fr.fn.JumpTable[entries[idx]])
			}
		case opcode.Return:
			return resultsFromStack(stack, fr.resultArity), nil

		case opcode.Call:
			sig := inst.module.Types[mustFuncType(inst.module, in.Index)]
			callArgs := popN(&stack, len(sig.Params))
			results, err := inst.invoke(in.Index, callArgs)
			if err != nil {
				return nil, err
			}
			stack = append(stack, results...)
			ip++

		case opcode.CallIndirect:
			tableIdx := pop32(&stack)
			if int(tableIdx) >= len(inst.table) {
				return nil, trap(ErrUninitializedElement)
			}
			fidx := inst.table[tableIdx]
			if fidx == missingElement {
				return nil, trap(ErrUninitializedElement)
			}
			wantType := inst.module.Types[in.Index2]
			gotType, ok := inst.module.FuncTypeOf(fidx)
			if !ok || !sameSig(wantType, gotType) {
				return nil, trap(ErrIndirectCallTypeMismatch)
			}
			callArgs := popN(&stack, len(gotType.Params))
			results, err := inst.invoke(fidx, callArgs)
			if err != nil {
				return nil, err
			}
			stack = append(stack, results...)
			ip++

		case opcode.Drop:
			stack = stack[:len(stack)-1]
			ip++
		case opcode.Select, opcode.SelectT:
			cond := pop32(&stack)
			b := stack[len(stack)-1]
			a := stack[len(stack)-2]
			stack = stack[:len(stack)-2]
			if cond != 0 {
				stack = append(stack, a)
			} else {
				stack = append(stack, b)
			}
			ip++

		case opcode.LocalGet:
			stack = append(stack, fr.locals[in.Index])
			ip++
		case opcode.LocalSet:
			fr.locals[in.Index] = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			ip++
		case opcode.LocalTee:
			fr.locals[in.Index] = stack[len(stack)-1]
			ip++

		case opcode.GlobalGet:
			stack = append(stack, inst.globals[in.Index])
			ip++
		case opcode.GlobalSet:
			inst.globals[in.Index] = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			ip++

		case opcode.I32Const:
			stack = append(stack, uint64(uint32(in.I32)))
			ip++
		case opcode.I64Const:
			stack = append(stack, uint64(in.I64))
			ip++
		case opcode.F32Const:
			stack = append(stack, uint64(in.F32))
			ip++
		case opcode.F64Const:
			stack = append(stack, in.F64)
			ip++

		case opcode.MemorySize:
			stack = append(stack, uint64(uint32(inst.mem.pages())))
			ip++
		case opcode.MemoryGrow:
			delta := pop32(&stack)
			stack = append(stack, uint64(uint32(inst.mem.grow(delta))))
			ip++

		case opcode.MemoryInit:
			n := pop32(&stack)
			src := pop32(&stack)
			dst := pop32(&stack)
			data := inst.module.Data[in.Index].Bytes
			if int(src)+int(n) > len(data) {
				return nil, trap(ErrOutOfBoundsMemoryAccess)
			}
			if err := inst.mem.store(0, dst, data[src:src+n]); err != nil {
				return nil, err
			}
			ip++
		case opcode.MemoryCopy:
			n := pop32(&stack)
			src := pop32(&stack)
			dst := pop32(&stack)
			b, err := inst.mem.load(0, src, n)
			if err != nil {
				return nil, err
			}
			if err := inst.mem.store(0, dst, append([]byte(nil), b...)); err != nil {
				return nil, err
			}
			ip++
		case opcode.MemoryFill:
			n := pop32(&stack)
			val := byte(pop32(&stack))
			dst := pop32(&stack)
			fill := make([]byte, n)
			for i := range fill {
				fill[i] = val
			}
			if err := inst.mem.store(0, dst, fill); err != nil {
				return nil, err
			}
			ip++

		default:
			if err := inst.execLoadStoreOrArith(in, &stack); err != nil {
				return nil, err
			}
			ip++
		}
	}
	return resultsFromStack(stack, fr.resultArity), nil
}

func resultsFromStack(stack []uint64, arity int) []uint64 {
	return append([]uint64(nil), stack[len(stack)-arity:]...)
}

func popN(stack *[]uint64, n int) []uint64 {
	s := *stack
	out := append([]uint64(nil), s[len(s)-n:]...)
	*stack = s[:len(s)-n]
	return out
}

func pop32(stack *[]uint64) uint32 {
	s := *stack
	v := uint32(s[len(s)-1])
	*stack = s[:len(s)-1]
	return v
}

func mustFuncType(m *wasm.Module, idx uint32) uint32 {
	return m.Functions[idx].TypeIndex
}

func sameSig(a, b wasm.FuncType) bool {
	if len(a.Params) != len(b.Params) || len(a.Results) != len(b.Results) {
		return false
	}
	for i := range a.Params {
		if a.Params[i] != b.Params[i] {
			return false
		}
	}
	for i := range a.Results {
		if a.Results[i] != b.Results[i] {
			return false
		}
	}
	return true
}

// execLoadStoreOrArith handles every memory access and numeric opcode the
// validator accepts; it's kept separate from run's main switch only to keep
// that switch's control-flow cases readable.
func (inst *Instance) execLoadStoreOrArith(in opcode.Instruction, stackp *[]uint64) error {
	switch in.Code {
	case opcode.I32Load:
		return load(inst, stackp, in.Mem, 4)
	case opcode.I32Load8S:
		return loadExt(inst, stackp, in.Mem, 1, true)
	case opcode.I32Load8U:
		return loadExt(inst, stackp, in.Mem, 1, false)
	case opcode.I32Load16S:
		return loadExt(inst, stackp, in.Mem, 2, true)
	case opcode.I32Load16U:
		return loadExt(inst, stackp, in.Mem, 2, false)
	case opcode.I64Load:
		return load(inst, stackp, in.Mem, 8)
	case opcode.I64Load8S:
		return loadExt(inst, stackp, in.Mem, 1, true)
	case opcode.I64Load8U:
		return loadExt(inst, stackp, in.Mem, 1, false)
	case opcode.I64Load16S:
		return loadExt(inst, stackp, in.Mem, 2, true)
	case opcode.I64Load16U:
		return loadExt(inst, stackp, in.Mem, 2, false)
	case opcode.I64Load32S:
		return loadExt(inst, stackp, in.Mem, 4, true)
	case opcode.I64Load32U:
		return loadExt(inst, stackp, in.Mem, 4, false)
	case opcode.F32Load:
		return load(inst, stackp, in.Mem, 4)
	case opcode.F64Load:
		return load(inst, stackp, in.Mem, 8)

	case opcode.I32Store, opcode.F32Store:
		return store(inst, stackp, in.Mem, 4)
	case opcode.I64Store, opcode.F64Store:
		return store(inst, stackp, in.Mem, 8)
	case opcode.I32Store8:
		return store(inst, stackp, in.Mem, 1)
	case opcode.I32Store16:
		return store(inst, stackp, in.Mem, 2)
	case opcode.I64Store8:
		return store(inst, stackp, in.Mem, 1)
	case opcode.I64Store16:
		return store(inst, stackp, in.Mem, 2)
	case opcode.I64Store32:
		return store(inst, stackp, in.Mem, 4)
	}

	s := *stackp
	switch in.Code {
	case opcode.I32Eqz:
		s[len(s)-1] = b2u(uint32(s[len(s)-1]) == 0)
	case opcode.I64Eqz:
		s[len(s)-1] = b2u(s[len(s)-1] == 0)

	case opcode.I32Clz:
		s[len(s)-1] = uint64(bits.LeadingZeros32(uint32(s[len(s)-1])))
	case opcode.I32Ctz:
		s[len(s)-1] = uint64(bits.TrailingZeros32(uint32(s[len(s)-1])))
	case opcode.I32Popcnt:
		s[len(s)-1] = uint64(bits.OnesCount32(uint32(s[len(s)-1])))
	case opcode.I64Clz:
		s[len(s)-1] = uint64(bits.LeadingZeros64(s[len(s)-1]))
	case opcode.I64Ctz:
		s[len(s)-1] = uint64(bits.TrailingZeros64(s[len(s)-1]))
	case opcode.I64Popcnt:
		s[len(s)-1] = uint64(bits.OnesCount64(s[len(s)-1]))

	default:
		b := uint32(s[len(s)-1])
		a := uint32(s[len(s)-2])
		isI64 := false
		var a64, b64 uint64
		switch in.Code {
		case opcode.I64Eq, opcode.I64Ne, opcode.I64LtS, opcode.I64LtU, opcode.I64GtS, opcode.I64GtU,
			opcode.I64LeS, opcode.I64LeU, opcode.I64GeS, opcode.I64GeU,
			opcode.I64Add, opcode.I64Sub, opcode.I64Mul, opcode.I64DivS, opcode.I64DivU,
			opcode.I64RemS, opcode.I64RemU, opcode.I64And, opcode.I64Or, opcode.I64Xor,
			opcode.I64Shl, opcode.I64ShrS, opcode.I64ShrU, opcode.I64Rotl, opcode.I64Rotr:
			isI64 = true
			b64, a64 = s[len(s)-1], s[len(s)-2]
		}

		var trapErr error
		var result uint64
		if isI64 {
			result, trapErr = evalI64(in.Code, a64, b64)
		} else {
			var r32 uint32
			r32, trapErr = evalI32(in.Code, a, b)
			result = uint64(r32)
		}
		if trapErr != nil {
			return trapErr
		}
		s = s[:len(s)-2]
		s = append(s, result)
	}
	*stackp = s
	return nil
}

func b2u(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

func load(inst *Instance, stackp *[]uint64, mem opcode.MemArg, width uint32) error {
	s := *stackp
	addr := uint32(s[len(s)-1])
	b, err := inst.mem.load(mem.Offset, addr, width)
	if err != nil {
		return err
	}
	var v uint64
	for i := int(width) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	s[len(s)-1] = v
	*stackp = s
	return nil
}

func loadExt(inst *Instance, stackp *[]uint64, mem opcode.MemArg, width uint32, signed bool) error {
	s := *stackp
	addr := uint32(s[len(s)-1])
	b, err := inst.mem.load(mem.Offset, addr, width)
	if err != nil {
		return err
	}
	var v uint64
	for i := int(width) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	if signed {
		shift := 64 - width*8
		v = uint64(int64(v<<shift) >> shift)
	}
	s[len(s)-1] = v
	*stackp = s
	return nil
}

func store(inst *Instance, stackp *[]uint64, mem opcode.MemArg, width uint32) error {
	s := *stackp
	val := s[len(s)-1]
	addr := uint32(s[len(s)-2])
	*stackp = s[:len(s)-2]
	b := make([]byte, width)
	for i := uint32(0); i < width; i++ {
		b[i] = byte(val >> (8 * i))
	}
	return inst.mem.store(mem.Offset, addr, b)
}

func evalI32(code opcode.Code, a, b uint32) (uint32, error) {
	switch code {
	case opcode.I32Eq:
		return uint32(b2u(a == b)), nil
	case opcode.I32Ne:
		return uint32(b2u(a != b)), nil
	case opcode.I32LtS:
		return uint32(b2u(int32(a) < int32(b))), nil
	case opcode.I32LtU:
		return uint32(b2u(a < b)), nil
	case opcode.I32GtS:
		return uint32(b2u(int32(a) > int32(b))), nil
	case opcode.I32GtU:
		return uint32(b2u(a > b)), nil
	case opcode.I32LeS:
		return uint32(b2u(int32(a) <= int32(b))), nil
	case opcode.I32LeU:
		return uint32(b2u(a <= b)), nil
	case opcode.I32GeS:
		return uint32(b2u(int32(a) >= int32(b))), nil
	case opcode.I32GeU:
		return uint32(b2u(a >= b)), nil
	case opcode.I32Add:
		return a + b, nil
	case opcode.I32Sub:
		return a - b, nil
	case opcode.I32Mul:
		return a * b, nil
	case opcode.I32DivS:
		if b == 0 {
			return 0, trap(ErrDivideByZero)
		}
		if int32(a) == -2147483648 && int32(b) == -1 {
			return 0, trap(ErrIntegerOverflow)
		}
		return uint32(int32(a) / int32(b)), nil
	case opcode.I32DivU:
		if b == 0 {
			return 0, trap(ErrDivideByZero)
		}
		return a / b, nil
	case opcode.I32RemS:
		if b == 0 {
			return 0, trap(ErrDivideByZero)
		}
		if int32(b) == -1 {
			return 0, nil
		}
		return uint32(int32(a) % int32(b)), nil
	case opcode.I32RemU:
		if b == 0 {
			return 0, trap(ErrDivideByZero)
		}
		return a % b, nil
	case opcode.I32And:
		return a & b, nil
	case opcode.I32Or:
		return a | b, nil
	case opcode.I32Xor:
		return a ^ b, nil
	case opcode.I32Shl:
		return a << (b % 32), nil
	case opcode.I32ShrS:
		return uint32(int32(a) >> (b % 32)), nil
	case opcode.I32ShrU:
		return a >> (b % 32), nil
	case opcode.I32Rotl:
		return bits.RotateLeft32(a, int(b%32)), nil
	case opcode.I32Rotr:
		return bits.RotateLeft32(a, -int(b%32)), nil
	}
	return 0, trap(ErrUnreachable)
}

func evalI64(code opcode.Code, a, b uint64) (uint64, error) {
	switch code {
	case opcode.I64Eq:
		return b2u(a == b), nil
	case opcode.I64Ne:
		return b2u(a != b), nil
	case opcode.I64LtS:
		return b2u(int64(a) < int64(b)), nil
	case opcode.I64LtU:
		return b2u(a < b), nil
	case opcode.I64GtS:
		return b2u(int64(a) > int64(b)), nil
	case opcode.I64GtU:
		return b2u(a > b), nil
	case opcode.I64LeS:
		return b2u(int64(a) <= int64(b)), nil
	case opcode.I64LeU:
		return b2u(a <= b), nil
	case opcode.I64GeS:
		return b2u(int64(a) >= int64(b)), nil
	case opcode.I64GeU:
		return b2u(a >= b), nil
	case opcode.I64Add:
		return a + b, nil
	case opcode.I64Sub:
		return a - b, nil
	case opcode.I64Mul:
		return a * b, nil
	case opcode.I64DivS:
		if b == 0 {
			return 0, trap(ErrDivideByZero)
		}
		if int64(a) == -9223372036854775808 && int64(b) == -1 {
			return 0, trap(ErrIntegerOverflow)
		}
		return uint64(int64(a) / int64(b)), nil
	case opcode.I64DivU:
		if b == 0 {
			return 0, trap(ErrDivideByZero)
		}
		return a / b, nil
	case opcode.I64RemS:
		if b == 0 {
			return 0, trap(ErrDivideByZero)
		}
		if int64(b) == -1 {
			return 0, nil
		}
		return uint64(int64(a) % int64(b)), nil
	case opcode.I64RemU:
		if b == 0 {
			return 0, trap(ErrDivideByZero)
		}
		return a % b, nil
	case opcode.I64And:
		return a & b, nil
	case opcode.I64Or:
		return a | b, nil
	case opcode.I64Xor:
		return a ^ b, nil
	case opcode.I64Shl:
		return a << (b % 64), nil
	case opcode.I64ShrS:
		return uint64(int64(a) >> (b % 64)), nil
	case opcode.I64ShrU:
		return a >> (b % 64), nil
	case opcode.I64Rotl:
		return bits.RotateLeft64(a, int(b%64)), nil
	case opcode.I64Rotr:
		return bits.RotateLeft64(a, -int(b%64)), nil
	}
	return 0, trap(ErrUnreachable)
}
