// Package cli wires configuration, logging, metrics and the storage manager
// together for the nvme-models commands, and holds the command logic that is
// worth testing without cobra.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/config"
	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/logging"
	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/provider"
	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/storage"
	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/system"
	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/ui"
)

// Options are the global command-line flags plus test hooks.
type Options struct {
	ConfigPath     string
	NoVerifyMount  bool
	LogLevel       string
	NonInteractive bool
	NoColor        bool

	// Getenv defaults to os.Getenv.
	Getenv func(string) string
	// Console receives log lines. When nil, stderr gets them only at debug
	// level and below; the UI carries normal progress output.
	Console io.Writer
	// UI overrides the terminal UI.
	UI *ui.UI
	// Inspector and Runner replace the real system access in tests.
	Inspector system.Inspector
	Runner    system.CommandRunner
	LookPath  func(string) bool
}

// AppContext holds all dependencies needed by a command
type AppContext struct {
	Config  *config.Config
	UI      *ui.UI
	Log     zerolog.Logger
	Manager *storage.Manager
	Markers *config.Markers
	Metrics *storage.Metrics
	Runner  system.CommandRunner

	lookPath  func(string) bool
	logCloser io.Closer
}

// NewAppContext loads configuration and builds the storage manager. Flags
// are applied last so they win over file and environment.
func NewAppContext(opts Options) (*AppContext, error) {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg, err := config.Load(opts.ConfigPath, getenv)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.NoVerifyMount {
		cfg.RequireMount = false
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	uiInstance := opts.UI
	if uiInstance == nil {
		uiInstance = ui.New()
	}
	uiInstance.SetNonInteractive(opts.NonInteractive)
	if opts.NoColor {
		ui.DisableColor()
	}

	console := opts.Console
	if console == nil {
		if level, err := logging.ParseLevel(cfg.Log.Level); err == nil && level <= zerolog.DebugLevel {
			console = os.Stderr
		}
	}
	log, closer, err := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Console: console,
		NoColor: opts.NoColor,
	})
	if err != nil {
		return nil, err
	}

	metrics := storage.NewMetrics()
	mopts := []storage.Option{
		storage.WithLogger(log),
		storage.WithMetrics(metrics),
		storage.WithLister(config.ProviderOllama, provider.ListOllama),
	}
	if opts.Inspector != nil {
		mopts = append(mopts, storage.WithInspector(opts.Inspector))
	}
	mgr, err := storage.New(cfg, mopts...)
	if err != nil {
		closer.Close()
		return nil, err
	}

	runner := opts.Runner
	if runner == nil {
		runner = system.NewStreamingCommandRunner(os.Stderr)
	}

	log.Debug().Str("config", cfg.Source).Str("base", cfg.BasePath).Bool("require_mount", cfg.RequireMount).Msg("configuration loaded")

	return &AppContext{
		Config:    cfg,
		UI:        uiInstance,
		Log:       log,
		Manager:   mgr,
		Markers:   config.NewMarkers("", cfg.HomeDir),
		Metrics:   metrics,
		Runner:    runner,
		lookPath:  opts.LookPath,
		logCloser: closer,
	}, nil
}

// Adapter returns the provider adapter for name, wired to this context.
func (a *AppContext) Adapter(name, revision, token string) (provider.Adapter, error) {
	return provider.New(name, provider.Deps{
		Runner:   a.Runner,
		CacheDir: a.Config.CacheDir(),
		Revision: revision,
		Token:    token,
		Log:      a.Log,
		LookPath: a.lookPath,
	})
}

// Close exports metrics and closes the log file.
func (a *AppContext) Close() error {
	var firstErr error
	if err := a.Metrics.WriteTextfile(a.Config.Metrics.Textfile); err != nil {
		a.Log.Warn().Err(err).Msg("failed to write metrics")
		firstErr = err
	}
	if a.logCloser != nil {
		if err := a.logCloser.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
