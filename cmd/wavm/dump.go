package main

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wasmforge/wavm/opcode"
	"github.com/wasmforge/wavm/validator"
	"github.com/wasmforge/wavm/wasm"
)

func newDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <module.wasm>",
		Short: "Print a module's catalogue: types, functions, exports and float constants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buf, err := readModuleFile(args[0])
			if err != nil {
				return err
			}
			m, err := wasm.Decode(buf)
			if err != nil {
				return fmt.Errorf("decode: %w", err)
			}

			out := cmd.OutOrStdout()
			bold := color.New(color.Bold)

			bold.Fprintln(out, "types:")
			for i, t := range m.Types {
				fmt.Fprintf(out, "  [%d] %v -> %v\n", i, t.Params, t.Results)
			}

			bold.Fprintln(out, "functions:")
			for i, f := range m.Functions {
				origin := "internal"
				if f.Origin == wasm.FunctionImported {
					origin = fmt.Sprintf("import %s.%s", f.Import.Module, f.Import.Field)
				}
				fmt.Fprintf(out, "  [%d] type=%d (%s)\n", i, f.TypeIndex, origin)
			}

			bold.Fprintln(out, "exports:")
			for _, e := range m.Exports {
				fmt.Fprintf(out, "  %q -> index %d\n", e.Name, e.Index)
			}

			dumpFloatConstants(out, m)

			fns, err := validator.ValidateModule(m)
			if err != nil {
				return fmt.Errorf("validate: %w", err)
			}
			dumpJumpTables(out, fns)
			return nil
		},
	}
}

// dumpJumpTables prints each validated function's resolved branch sites, so
// forward (block/if) and backward (loop) edges can be told apart at a glance.
func dumpJumpTables(out interface{ Write([]byte) (int, error) }, fns map[int]*validator.Function) {
	fmt.Fprintln(out, "jump tables:")
	for fi, fn := range fns {
		if len(fn.JumpTable) == 0 {
			continue
		}
		fmt.Fprintf(out, "  func %d:\n", fi)
		for ei, je := range fn.JumpTable {
			dir := "forward"
			if je.DeltaIP() < 0 {
				dir = "backward"
			}
			fmt.Fprintf(out, "    [%d] ip %d -> %d (%s, arity %d)\n", ei, je.BranchIP, je.TargetIP, dir, je.Arity)
		}
	}
}

// dumpFloatConstants prints every f32/f64 constant found in the module's
// function bodies: f32 values decoded from their bit pattern, f64 values as
// their raw bit pattern in hex.
func dumpFloatConstants(out interface{ Write([]byte) (int, error) }, m *wasm.Module) {
	fmt.Fprintln(out, "float constants:")
	for fi, f := range m.Functions {
		if f.Code == nil {
			continue
		}
		for _, ins := range f.Code.Instructions {
			switch ins.Code {
			case opcode.F32Const:
				fmt.Fprintf(out, "  func %d: f32 %g\n", fi, math32.Float32frombits(ins.F32))
			case opcode.F64Const:
				fmt.Fprintf(out, "  func %d: f64 0x%016x\n", fi, ins.F64)
			}
		}
	}
}
