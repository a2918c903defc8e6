package main

import (
	"github.com/spf13/cobra"

	"github.com/aretw0/tickvm"
	"github.com/aretw0/tickvm/internal/cli"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server",
	Long:  `Exposes stored sessions as Model Context Protocol tools so agents can create, tick, inspect and fork them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		if kind, _ := cmd.Flags().GetString("store"); kind != "" {
			cfg.Store.Kind = kind
		}
		transport, _ := cmd.Flags().GetString("transport")
		addr, _ := cmd.Flags().GetString("addr")

		sigCtx := cli.NewSignalContext(cmd.Context())
		defer sigCtx.Cancel()

		return cli.ServeMCP(sigCtx, cli.MCPOptions{
			Config:    cfg,
			Logger:    logger,
			Version:   tickvm.Version,
			Transport: transport,
			Addr:      addr,
		})
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().String("transport", "stdio", "Transport type (stdio, sse)")
	mcpCmd.Flags().String("addr", ":8080", "Listen address for SSE transport")
	mcpCmd.Flags().String("store", "", "Store kind (memory, file, sqlite, redis); overrides store.kind")
}
