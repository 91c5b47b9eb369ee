// Command wavm is a thin collaborator around the engine: it validates,
// runs, and dumps WebAssembly binary modules from the command line. None of
// the engine's correctness depends on this package; it exists so a human
// can drive the library without writing Go.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "wavm",
		Short: "A WebAssembly 1.0 validator and interpreter",
	}
	root.AddCommand(newValidateCmd(), newRunCmd(), newDumpCmd())
	return root
}

func readModuleFile(path string) ([]byte, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return buf, nil
}
