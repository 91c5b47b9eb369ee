package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wasmforge/wavm/validator"
	"github.com/wasmforge/wavm/wasm"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <module.wasm>",
		Short: "Decode and type-check a module without running it",
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
			if _, err := validator.ValidateModule(m); err != nil {
				return fmt.Errorf("validate: %w", err)
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "ok: %d functions, %d exports\n", len(m.Functions), len(m.Exports))
			return nil
		},
	}
}
