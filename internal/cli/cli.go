package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vk/pipegrid/internal/app"
	"github.com/vk/pipegrid/internal/config"
	"github.com/vk/pipegrid/internal/runenv"
)

// Exit codes.
const (
	ExitFailure = 1
	ExitUsage   = 2
)

// DefaultPipelinePath is read when no path argument is given.
const DefaultPipelinePath = "pipegrid.yml"

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(err error) error {
	return &ExitError{Code: ExitUsage, Message: err.Error()}
}

func failure(err error) error {
	return &ExitError{Code: ExitFailure, Message: err.Error()}
}

// Execute runs the command line in args. Every returned error is an
// *ExitError; errors raised by flag and argument parsing map to ExitUsage.
func Execute(ctx context.Context, outW io.Writer, args []string) error {
	root := NewRootCommand(outW)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	return usageError(err)
}

// NewRootCommand builds the command tree. All output goes to outW.
func NewRootCommand(outW io.Writer) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("PIPEGRID")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "pipegrid",
		Short: "Run CI pipeline definitions locally",
		Long: `pipegrid reads a declarative CI configuration (jobs, workflows, matrices,
templates, caches and image builds), expands it into concrete jobs and runs
them on the host or in Docker containers. Independent jobs run concurrently;
dependents wait for their upstream jobs to succeed.

Every flag can also be set through a PIPEGRID_<FLAG> environment variable
(dashes become underscores) or a YAML file passed with --config.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return usageError(err)
			}
			if path := v.GetString("config"); path != "" {
				v.SetConfigFile(path)
				if err := v.ReadInConfig(); err != nil {
					return usageError(fmt.Errorf("failed to read config file: %w", err))
				}
			}
			return nil
		},
	}
	root.SetOut(outW)
	root.SetErr(outW)

	pf := root.PersistentFlags()
	pf.String("config", "", "YAML file with flag values.")
	pf.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	pf.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	pf.String("state-dir", app.DefaultStateDir, "Directory holding the run history, cache and run outputs.")

	root.AddCommand(
		newRunCommand(v, outW),
		newValidateCommand(v, outW),
		newPlanCommand(v, outW),
		newHistoryCommand(v, outW),
		newCacheCommand(v, outW),
	)
	return root
}

// addEventFlags registers the flags that describe the triggering event.
func addEventFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("event", string(config.EventCommit), "Triggering event. Options: 'commit' or 'schedule'.")
	f.String("branch", "main", "Branch the event happened on.")
	f.String("revision", "", "Commit SHA exposed to jobs and cache keys.")
	f.String("time", "", "Event time for schedule triggers, RFC 3339. Defaults to now.")
	f.StringSlice("workflow", nil, "Run these workflows regardless of triggers. Repeatable.")
}

// buildConfig assembles and validates the application configuration from
// viper and the positional path arguments.
func buildConfig(v *viper.Viper, args []string) (*app.Config, error) {
	paths := args
	if len(paths) == 0 {
		paths = v.GetStringSlice("file")
	}
	if len(paths) == 0 {
		paths = []string{DefaultPipelinePath}
	}

	var eventTime time.Time
	if s := v.GetString("time"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, usageError(fmt.Errorf("invalid time %q: %w", s, err))
		}
		eventTime = t
	}

	cfg, err := app.NewConfig(app.Config{
		Paths:              paths,
		ProjectDir:         v.GetString("project-dir"),
		StateDir:           v.GetString("state-dir"),
		ContextsFile:       v.GetString("contexts"),
		Event:              config.TriggerEvent(strings.ToLower(v.GetString("event"))),
		Branch:             v.GetString("branch"),
		Revision:           v.GetString("revision"),
		EventTime:          eventTime,
		Workflows:          v.GetStringSlice("workflow"),
		Backend:            runenv.Backend(strings.ToLower(v.GetString("backend"))),
		WorkerCount:        v.GetInt("workers"),
		KeepSandboxes:      v.GetBool("keep-sandboxes"),
		InsecureRegistries: v.GetBool("insecure-registries"),
		StatusPort:         v.GetInt("status-port"),
		EventsURL:          v.GetString("events-url"),
		LogFormat:          v.GetString("log-format"),
		LogLevel:           v.GetString("log-level"),
	})
	if err != nil {
		return nil, usageError(err)
	}
	return cfg, nil
}
