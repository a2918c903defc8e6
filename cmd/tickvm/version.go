package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/tickvm"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of tickvm",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tickvm version %s\n", strings.TrimSpace(tickvm.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
