package cli

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vk/pipegrid/internal/app"
	"github.com/vk/pipegrid/internal/report"
)

func newRunCommand(v *viper.Viper, outW io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [PATH...]",
		Short: "Run the workflows selected by an event",
		Long: `Run loads the pipeline from the given files or directories, selects the
workflows whose triggers match the event, and runs their jobs. The exit code
is 1 when any job fails without allow_failure.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(v, args)
			if err != nil {
				return err
			}
			a := app.NewApp(outW, cfg)
			if _, err := a.Run(cmd.Context()); err != nil {
				if errors.Is(err, app.ErrRunFailed) {
					return failure(err)
				}
				return usageError(err)
			}
			return nil
		},
	}
	addEventFlags(cmd)
	f := cmd.Flags()
	f.String("backend", "auto", "Where jobs with an image run. Options: 'auto', 'local' or 'docker'.")
	f.Int("workers", runtime.NumCPU(), "Number of jobs run concurrently.")
	f.String("project-dir", ".", "Directory checkout steps copy into each job.")
	f.String("contexts", "", "YAML file mapping context names to secret values.")
	f.Bool("keep-sandboxes", false, "Keep host job directories after each job.")
	f.Bool("insecure-registries", false, "Talk plain HTTP to registries when resolving pushed digests.")
	f.Int("status-port", 0, "Port for the HTTP status server. 0 is disabled.")
	f.String("events-url", "", "socket.io endpoint receiving live job_status events.")
	return cmd
}

func newValidateCommand(v *viper.Viper, outW io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [PATH...]",
		Short: "Check a pipeline for errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(v, args)
			if err != nil {
				return err
			}
			a := app.NewApp(outW, cfg)
			if v.GetBool("watch") {
				if err := a.Watch(cmd.Context()); err != nil {
					return failure(err)
				}
				return nil
			}
			res, err := a.Validate(cmd.Context())
			a.WriteValidation(res, err)
			if err != nil {
				return &ExitError{Code: ExitUsage, Message: "pipeline is invalid"}
			}
			return nil
		},
	}
	cmd.Flags().Bool("watch", false, "Validate again whenever a pipeline file changes.")
	return cmd
}

func newPlanCommand(v *viper.Viper, outW io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan [PATH...]",
		Short: "Show the jobs an event would run, in execution order",
		RunE: func(cmd *cobra.Command, args []string) error {
			format := v.GetString("output")
			if format != "text" && format != "json" {
				return usageError(fmt.Errorf("invalid output %q: must be 'text' or 'json'", format))
			}
			cfg, err := buildConfig(v, args)
			if err != nil {
				return err
			}
			plan, err := app.NewApp(cmd.ErrOrStderr(), cfg).Plan(cmd.Context())
			if err != nil {
				return usageError(err)
			}
			if err := app.WritePlan(outW, plan, format); err != nil {
				return failure(err)
			}
			return nil
		},
	}
	addEventFlags(cmd)
	cmd.Flags().StringP("output", "o", "text", "Output format. Options: 'text' or 'json'.")
	return cmd
}

func newHistoryCommand(v *viper.Viper, outW io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "List recent runs, or show one run's jobs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(v, nil)
			if err != nil {
				return err
			}
			a := app.NewApp(cmd.ErrOrStderr(), cfg)
			if len(args) == 1 {
				rep, err := a.RunReport(cmd.Context(), args[0])
				if err != nil {
					return failure(err)
				}
				return report.Render(outW, rep)
			}
			runs, err := a.History(cmd.Context(), v.GetInt("limit"))
			if err != nil {
				return failure(err)
			}
			return report.RenderHistory(outW, runs)
		},
	}
	cmd.Flags().Int("limit", 20, "Number of runs to list.")
	return cmd
}

func newCacheCommand(v *viper.Viper, outW io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and prune the job cache",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List cache entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := buildConfig(v, nil)
			if err != nil {
				return err
			}
			entries, err := app.NewApp(cmd.ErrOrStderr(), cfg).CacheEntries(cmd.Context())
			if err != nil {
				return failure(err)
			}
			return report.RenderCache(outW, entries)
		},
	}

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete cache entries older than a duration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			olderThan := v.GetDuration("older-than")
			if olderThan < 0 {
				return usageError(fmt.Errorf("invalid older-than %s", olderThan))
			}
			cfg, err := buildConfig(v, nil)
			if err != nil {
				return err
			}
			n, err := app.NewApp(cmd.ErrOrStderr(), cfg).PruneCache(cmd.Context(), olderThan)
			if err != nil {
				return failure(err)
			}
			fmt.Fprintf(outW, "Removed %d cache entries.\n", n)
			return nil
		},
	}
	prune.Flags().Duration("older-than", 30*24*time.Hour, "Age beyond which entries are deleted.")

	cmd.AddCommand(list, prune)
	return cmd
}
