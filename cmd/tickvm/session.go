package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/tickvm/internal/cli"
	"github.com/aretw0/tickvm/internal/presentation/tui"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage stored sessions",
	Long:  `List, inspect and remove session snapshots in the configured store.`,
}

// withStore opens the configured store for the duration of fn.
func withStore(cmd *cobra.Command, fn func(b *cli.Backend) error) error {
	cfg, _, err := setup(cmd)
	if err != nil {
		return err
	}
	b, err := cli.OpenStore(cfg.Store)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(b)
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all stored sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(b *cli.Backend) error {
			return cli.ListSessions(cmd.Context(), b.Store, cmd.OutOrStdout())
		})
	},
}

var sessionInspectCmd = &cobra.Command{
	Use:   "inspect <session-id>",
	Short: "Show the snapshot header of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := setup(cmd)
		if err != nil {
			return err
		}
		pretty, _ := cmd.Flags().GetBool("pretty")
		return withStore(cmd, func(b *cli.Backend) error {
			rep, err := cli.InspectSession(cmd.Context(), b.Store, args[0], cfg.TickRate)
			if err != nil {
				return err
			}
			if !pretty {
				fmt.Fprintln(cmd.OutOrStdout(), rep.JSON())
				return nil
			}
			out, err := tui.NewRenderer()(rep.Markdown())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		})
	},
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm <session-id>...",
	Short: "Remove one or more sessions",
	Args: func(cmd *cobra.Command, args []string) error {
		if all, _ := cmd.Flags().GetBool("all"); all {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.MinimumNArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		return withStore(cmd, func(b *cli.Backend) error {
			ids := args
			if all {
				var err error
				if ids, err = b.Store.List(cmd.Context()); err != nil {
					return err
				}
			}
			if !cli.RemoveSessions(cmd.Context(), b.Store, ids, cmd.OutOrStdout()) {
				return fmt.Errorf("some sessions could not be removed")
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionLsCmd)
	sessionCmd.AddCommand(sessionInspectCmd)
	sessionCmd.AddCommand(sessionRmCmd)

	sessionInspectCmd.Flags().Bool("pretty", false, "Render the report as formatted markdown")
	sessionRmCmd.Flags().Bool("all", false, "Remove every session")
}
