package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wasmforge/wavm/opcode"
	"github.com/wasmforge/wavm/vm"
	"github.com/wasmforge/wavm/wasm"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <module.wasm> <export> [args...]",
		Short: "Instantiate a module and call one of its exported functions",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			buf, err := readModuleFile(args[0])
			if err != nil {
				return err
			}
			m, err := wasm.Decode(buf)
			if err != nil {
				return fmt.Errorf("decode: %w", err)
			}

			inst, err := vm.Instantiate(m, vm.NoImports{})
			if err != nil {
				return fmt.Errorf("instantiate: %w", err)
			}

			funcIdx, ok := inst.ExportedFunction(args[1])
			if !ok {
				return fmt.Errorf("no exported function named %q", args[1])
			}
			sig, ok := m.FuncTypeOf(funcIdx)
			if !ok {
				return fmt.Errorf("export %q is not callable", args[1])
			}
			if len(args)-2 != len(sig.Params) {
				return fmt.Errorf("%s expects %d argument(s), got %d", args[1], len(sig.Params), len(args)-2)
			}

			callArgs := make([]uint64, len(sig.Params))
			for i, pt := range sig.Params {
				v, err := parseArg(args[2+i], pt)
				if err != nil {
					return err
				}
				callArgs[i] = v
			}

			results, err := inst.Call(funcIdx, callArgs)
			if err != nil {
				return fmt.Errorf("trap: %w", err)
			}
			for i, rt := range sig.Results {
				fmt.Fprintln(cmd.OutOrStdout(), formatValue(results[i], rt))
			}
			return nil
		},
	}
}

func parseArg(s string, vt opcode.ValueType) (uint64, error) {
	switch vt {
	case opcode.I32:
		v, err := strconv.ParseInt(s, 10, 32)
		return uint64(uint32(v)), err
	case opcode.I64:
		v, err := strconv.ParseInt(s, 10, 64)
		return uint64(v), err
	default:
		return 0, fmt.Errorf("argument type %s is not supported by the run command", vt)
	}
}

func formatValue(v uint64, vt opcode.ValueType) string {
	switch vt {
	case opcode.I32:
		return strconv.FormatInt(int64(int32(v)), 10)
	case opcode.I64:
		return strconv.FormatInt(int64(v), 10)
	default:
		return fmt.Sprintf("0x%x", v)
	}
}
