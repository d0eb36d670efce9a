package app

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/vk/pipegrid/internal/config"
	"github.com/vk/pipegrid/internal/runenv"
)

// DefaultStateDir holds the database, cache archives and run directories.
const DefaultStateDir = ".pipegrid"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// Paths are pipeline files or directories.
	Paths []string
	// ProjectDir is the checkout source.
	ProjectDir   string
	StateDir     string
	ContextsFile string

	Event     config.TriggerEvent
	Branch    string
	Revision  string
	EventTime time.Time
	// Workflows, when set, replaces trigger-based workflow selection.
	Workflows []string

	Backend            runenv.Backend
	WorkerCount        int
	KeepSandboxes      bool
	InsecureRegistries bool

	StatusPort int
	EventsURL  string

	LogFormat string
	LogLevel  string
}

var (
	logFormats = []string{"text", "json"}
	logLevels  = []string{"debug", "info", "warn", "error"}
)

// NewConfig validates cfg and fills in defaults.
func NewConfig(cfg Config) (*Config, error) {
	if len(cfg.Paths) == 0 {
		return nil, errors.New("at least one pipeline path is required")
	}

	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if !slices.Contains(logFormats, cfg.LogFormat) {
		return nil, fmt.Errorf("invalid log-format %q: must be 'text' or 'json'", cfg.LogFormat)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if !slices.Contains(logLevels, cfg.LogLevel) {
		return nil, fmt.Errorf("invalid log-level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.LogLevel)
	}

	switch cfg.Event {
	case "":
		cfg.Event = config.EventCommit
	case config.EventCommit, config.EventSchedule:
	default:
		return nil, fmt.Errorf("invalid event %q: must be 'commit' or 'schedule'", cfg.Event)
	}

	backend, err := runenv.ParseBackend(string(cfg.Backend))
	if err != nil {
		return nil, err
	}
	cfg.Backend = backend

	if cfg.WorkerCount < 0 {
		return nil, fmt.Errorf("invalid workers %d: must not be negative", cfg.WorkerCount)
	}
	if cfg.StatusPort < 0 || cfg.StatusPort > 65535 {
		return nil, fmt.Errorf("invalid status-port %d", cfg.StatusPort)
	}
	if cfg.StateDir == "" {
		cfg.StateDir = DefaultStateDir
	}
	if cfg.ProjectDir == "" {
		cfg.ProjectDir = "."
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	return &cfg, nil
}
