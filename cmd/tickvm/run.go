package main

import (
	"github.com/spf13/cobra"

	"github.com/aretw0/tickvm/internal/cli"
)

var runCmd = &cobra.Command{
	Use:   "run <module|snapshot>",
	Short: "Run a guest module or resume a snapshot",
	Long: `Loads a compiled module (or a snapshot written by --save) and ticks it,
printing the host calls of every tick. Stops on an exit call, after --ticks
ticks, or on Ctrl-C.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		ticks, _ := cmd.Flags().GetUint64("ticks")
		script, _ := cmd.Flags().GetString("input")
		realtime, _ := cmd.Flags().GetBool("realtime")
		jsonMode, _ := cmd.Flags().GetBool("json")
		saveTo, _ := cmd.Flags().GetString("save")
		verify, _ := cmd.Flags().GetBool("verify")
		quiet, _ := cmd.Flags().GetBool("quiet")

		sigCtx := cli.NewSignalContext(cmd.Context())
		defer sigCtx.Cancel()

		return cli.RunProgram(sigCtx, cli.RunOptions{
			Path:          args[0],
			ScriptPath:    script,
			Ticks:         ticks,
			Delta:         cfg.TickRate,
			Realtime:      realtime,
			JSON:          jsonMode,
			Fuel:          cfg.FuelPerTick,
			SaveTo:        saveTo,
			Verify:        verify,
			SnapshotEvery: cfg.SnapshotEvery,
			Banner:        !quiet && cli.IsTerminal(cmd.OutOrStdout()),
			Output:        cmd.OutOrStdout(),
			Status:        cmd.ErrOrStderr(),
			Logger:        logger,
		})
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Uint64P("ticks", "n", 0, "Stop after this many ticks (0: until exit)")
	runCmd.Flags().StringP("input", "i", "", "NDJSON input script ({\"tick\":N,\"kind\":...} per line)")
	runCmd.Flags().Bool("realtime", false, "Pace ticks at the configured tick_rate")
	runCmd.Flags().Bool("json", false, "Print one JSON object per tick")
	runCmd.Flags().String("save", "", "Write a snapshot of the final state to this path")
	runCmd.Flags().Bool("verify", false, "Replay the run through a rollback timeline and check determinism")
	runCmd.Flags().BoolP("quiet", "q", false, "Do not print the banner")
}
