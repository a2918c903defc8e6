package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/tickvm"
	"github.com/aretw0/tickvm/internal/cli"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP session server",
	Long:  `Serves sessions over a JSON API with a websocket tick stream and Prometheus metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.HTTP.Addr = addr
		}
		if kind, _ := cmd.Flags().GetString("store"); kind != "" {
			cfg.Store.Kind = kind
		}

		sigCtx := cli.NewSignalContext(cmd.Context())
		defer sigCtx.Cancel()

		err = cli.Serve(sigCtx, cli.ServeOptions{
			Config:  cfg,
			Logger:  logger,
			Version: tickvm.Version,
			Ready: func(addr string) {
				fmt.Fprintf(cmd.ErrOrStderr(), "tickvm server listening on %s (store: %s)\n", addr, cfg.Store.Kind)
			},
		})
		if sig := sigCtx.Signal(); sig != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "stopped by %v\n", sig)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address; overrides http.addr")
	serveCmd.Flags().String("store", "", "Store kind (memory, file, sqlite, redis); overrides store.kind")
}
