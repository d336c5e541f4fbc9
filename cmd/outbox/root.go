package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/hyperengineering/outbox"
	"github.com/hyperengineering/outbox/internal/remote"
	"github.com/spf13/cobra"
)

var (
	cfgFile      string
	cfgProfile   string
	cfgDBPath    string
	cfgRemoteURL string
	cfgAPIKey    string
	cfgSourceID  string
	cfgLogLevel  string
	outputJSON   bool
)

var rootCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Outbox - offline write queue",
	Long: `Outbox queues writes while the network or session is unavailable and
replays them to the remote store, in order, once it comes back.

Writes are kept in a local SQLite snapshot so nothing is lost between runs.
Conflicting writes are parked for review instead of being retried.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (.toml, .yaml)")
	pf.StringVar(&cfgProfile, "profile", "", "Profile name (default: $OUTBOX_PROFILE or 'default')")
	pf.StringVar(&cfgDBPath, "db", "", "Path to the snapshot database (overrides profile)")
	pf.StringVar(&cfgRemoteURL, "remote-url", "", "Remote store URL (empty: offline only)")
	pf.StringVar(&cfgAPIKey, "api-key", "", "API key for the remote store")
	pf.StringVar(&cfgSourceID, "source-id", "", "Client identifier (default: hostname)")
	pf.StringVar(&cfgLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.BoolVar(&outputJSON, "json", false, "Output as JSON")
}

// loadConfig merges flags over environment over the config file over defaults.
func loadConfig() (outbox.Config, error) {
	cfg := outbox.Config{
		LocalPath: cfgDBPath,
		Profile:   cfgProfile,
		RemoteURL: cfgRemoteURL,
		APIKey:    cfgAPIKey,
		SourceID:  cfgSourceID,
		LogLevel:  cfgLogLevel,
	}
	cfg = cfg.Merge(outbox.ConfigFromEnv())

	if cfgFile != "" {
		fileCfg, err := outbox.LoadConfigFile(cfgFile)
		if err != nil {
			return outbox.Config{}, err
		}
		cfg = cfg.Merge(fileCfg)
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return outbox.Config{}, err
	}
	return cfg, nil
}

// app bundles an open engine with the collaborators built for it.
type app struct {
	cfg    outbox.Config
	engine *outbox.Engine
	client *remote.HTTPClient
	probe  *outbox.ProbeOracle
	logger *slog.Logger
	logs   io.Closer
}

// openApp loads configuration and opens the engine. Without a remote URL
// the engine runs offline only.
func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, logs, err := outbox.NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogPath)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, logs: logs}

	var rem outbox.Remote
	var oracle outbox.Oracle
	if !cfg.IsOffline() {
		a.client = remote.NewHTTPClient(cfg.RemoteURL, cfg.APIKey, cfg.SourceID).WithLogger(logger)
		probeOpts := []outbox.ProbeOption{
			outbox.WithProbeInterval(cfg.ProbeInterval),
			outbox.WithProbeLogger(logger),
		}
		if cfg.SessionToken != "" {
			token := func() string { return cfg.SessionToken }
			a.client.WithSessionToken(token)
			probeOpts = append(probeOpts, outbox.WithSessionToken(token))
		}
		a.probe = outbox.NewProbeOracle(a.client, probeOpts...)
		rem = a.client
		oracle = a.probe
	}

	a.engine, err = outbox.Open(cfg, rem, oracle, outbox.WithLogger(logger))
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("open %s: %w", cfg.LocalPath, err)
	}
	return a, nil
}

func (a *app) Close() error {
	err := a.engine.Close()
	_ = a.logs.Close()
	return err
}
