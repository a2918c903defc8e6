package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/tickvm"
)

var asmCmd = &cobra.Command{
	Use:   "asm <source.tkasm>",
	Short: "Assemble guest source into a loadable module",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		code, err := tickvm.Assemble(string(src))
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}

		out, _ := cmd.Flags().GetString("output")
		if out == "" {
			out = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".tkvm"
		}
		if err := os.WriteFile(out, code, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%d bytes)\n", out, len(code))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(asmCmd)
	asmCmd.Flags().StringP("output", "o", "", "Output module path (default: source with .tkvm extension)")
}
