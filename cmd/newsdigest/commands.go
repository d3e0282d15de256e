package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"NewsDigest/internal/app"
	"NewsDigest/internal/domain"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute one pipeline run now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runCtx, cancel := signalContext(cmd.Context())
			defer cancel()

			application, err := app.New(runCtx, cfg, ctx.logger)
			if err != nil {
				return err
			}
			defer application.Close()

			result, err := application.RunOnce(runCtx)
			if err != nil {
				if errors.Is(err, domain.ErrSingleFlightConflict) {
					return fmt.Errorf("another run is in progress: %w", err)
				}
				return err
			}

			if ctx.jsonOutput() {
				if err := writeJSON(cmd, result); err != nil {
					return err
				}
			} else {
				fmt.Fprint(cmd.OutOrStdout(), renderRun(result))
			}
			if result.OverallStatus == domain.StatusFailed {
				return fmt.Errorf("run %s failed", result.RunID)
			}
			return nil
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status [run-id]",
		Short: "Show a run, or the most recent runs without an id",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runs, closeDB, err := app.OpenHistory(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			if len(args) == 1 {
				result, err := runs.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, result)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderRun(result))
				return nil
			}

			history, err := runs.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, history)
			}
			if len(history) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded yet")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderHistory(history))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of runs to list")
	return cmd
}

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the pipeline every day at the configured time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runCtx, cancel := signalContext(cmd.Context())
			defer cancel()

			application, err := app.New(runCtx, cfg, ctx.logger)
			if err != nil {
				return err
			}
			defer application.Close()

			return application.Serve(runCtx)
		},
	}
}
