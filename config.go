package outbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hyperengineering/outbox/internal/store"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config configures an engine opened with Open.
type Config struct {
	// LocalPath is the snapshot database. Derived from Profile when empty.
	LocalPath string

	// Profile selects the database under ~/.outbox/profiles.
	// Resolved as explicit > OUTBOX_PROFILE env > "default".
	Profile string

	// RemoteURL is the base URL of the store of record.
	// If empty, the engine operates offline-only.
	RemoteURL string

	// APIKey authenticates with the remote.
	APIKey string

	// SessionToken is the user's session JWT. When set, syncing pauses once it expires.
	SessionToken string

	// SourceID identifies this client instance. Defaults to the hostname.
	SourceID string

	// SyncSchedule is the cron spec of the periodic run. Defaults to "@every 30s".
	SyncSchedule string

	// SnapshotSchedule is the cron spec of the periodic snapshot. Defaults to "@every 5s".
	SnapshotSchedule string

	MaxRetries     int
	InterItemDelay time.Duration
	CallTimeout    time.Duration
	RetryBackoff   time.Duration
	MaxBackoff     time.Duration

	// ProbeInterval is how often remote reachability is checked.
	ProbeInterval time.Duration

	LogLevel  string
	LogFormat string
	LogPath   string

	// MQTTBroker, when set, receives status events (tcp://host:1883).
	MQTTBroker   string
	MQTTUsername string
	MQTTPassword string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	hostname, _ := os.Hostname()
	return Config{
		Profile:          store.DefaultProfile,
		LocalPath:        store.ProfileDBPath(store.DefaultProfile),
		SourceID:         hostname,
		SyncSchedule:     DefaultSyncSchedule,
		SnapshotSchedule: DefaultSnapshotSchedule,
		MaxRetries:       DefaultMaxRetries,
		CallTimeout:      DefaultCallTimeout,
		ProbeInterval:    10 * time.Second,
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// ConfigFromEnv reads configuration from environment variables.
//
//	OUTBOX_DB_PATH          → LocalPath
//	OUTBOX_PROFILE          → Profile
//	OUTBOX_REMOTE_URL       → RemoteURL
//	OUTBOX_API_KEY          → APIKey
//	OUTBOX_SESSION_TOKEN    → SessionToken
//	OUTBOX_SOURCE_ID        → SourceID
//	OUTBOX_SYNC_SCHEDULE    → SyncSchedule
//	OUTBOX_MAX_RETRIES      → MaxRetries
//	OUTBOX_INTER_ITEM_DELAY → InterItemDelay
//	OUTBOX_LOG_LEVEL        → LogLevel
//	OUTBOX_LOG_FORMAT       → LogFormat
//	OUTBOX_LOG_FILE         → LogPath
//	OUTBOX_MQTT_BROKER      → MQTTBroker
func ConfigFromEnv() Config {
	cfg := Config{
		LocalPath:    os.Getenv("OUTBOX_DB_PATH"),
		Profile:      os.Getenv(store.EnvProfile),
		RemoteURL:    os.Getenv("OUTBOX_REMOTE_URL"),
		APIKey:       os.Getenv("OUTBOX_API_KEY"),
		SessionToken: os.Getenv("OUTBOX_SESSION_TOKEN"),
		SourceID:     os.Getenv("OUTBOX_SOURCE_ID"),
		SyncSchedule: os.Getenv("OUTBOX_SYNC_SCHEDULE"),
		LogLevel:     os.Getenv("OUTBOX_LOG_LEVEL"),
		LogFormat:    os.Getenv("OUTBOX_LOG_FORMAT"),
		LogPath:      os.Getenv("OUTBOX_LOG_FILE"),
		MQTTBroker:   os.Getenv("OUTBOX_MQTT_BROKER"),
	}
	if v, err := strconv.Atoi(os.Getenv("OUTBOX_MAX_RETRIES")); err == nil {
		cfg.MaxRetries = v
	}
	if v, err := time.ParseDuration(os.Getenv("OUTBOX_INTER_ITEM_DELAY")); err == nil {
		cfg.InterItemDelay = v
	}
	return cfg
}

// fileConfig is the on-disk form. Durations are strings such as "250ms".
type fileConfig struct {
	LocalPath        string `toml:"local_path" yaml:"local_path"`
	Profile          string `toml:"profile" yaml:"profile"`
	RemoteURL        string `toml:"remote_url" yaml:"remote_url"`
	APIKey           string `toml:"api_key" yaml:"api_key"`
	SessionToken     string `toml:"session_token" yaml:"session_token"`
	SourceID         string `toml:"source_id" yaml:"source_id"`
	SyncSchedule     string `toml:"sync_schedule" yaml:"sync_schedule"`
	SnapshotSchedule string `toml:"snapshot_schedule" yaml:"snapshot_schedule"`
	MaxRetries       int    `toml:"max_retries" yaml:"max_retries"`
	InterItemDelay   string `toml:"inter_item_delay" yaml:"inter_item_delay"`
	CallTimeout      string `toml:"call_timeout" yaml:"call_timeout"`
	RetryBackoff     string `toml:"retry_backoff" yaml:"retry_backoff"`
	MaxBackoff       string `toml:"max_backoff" yaml:"max_backoff"`
	ProbeInterval    string `toml:"probe_interval" yaml:"probe_interval"`

	Log struct {
		Level  string `toml:"level" yaml:"level"`
		Format string `toml:"format" yaml:"format"`
		Path   string `toml:"path" yaml:"path"`
	} `toml:"log" yaml:"log"`

	MQTT struct {
		Broker   string `toml:"broker" yaml:"broker"`
		Username string `toml:"username" yaml:"username"`
		Password string `toml:"password" yaml:"password"`
	} `toml:"mqtt" yaml:"mqtt"`
}

// LoadConfigFile reads a .toml, .yaml or .yml configuration file.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var fc fileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), &fc); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		return Config{}, fmt.Errorf("config %s: unsupported extension %q", path, ext)
	}

	cfg := Config{
		LocalPath:        fc.LocalPath,
		Profile:          fc.Profile,
		RemoteURL:        fc.RemoteURL,
		APIKey:           fc.APIKey,
		SessionToken:     fc.SessionToken,
		SourceID:         fc.SourceID,
		SyncSchedule:     fc.SyncSchedule,
		SnapshotSchedule: fc.SnapshotSchedule,
		MaxRetries:       fc.MaxRetries,
		LogLevel:         fc.Log.Level,
		LogFormat:        fc.Log.Format,
		LogPath:          fc.Log.Path,
		MQTTBroker:       fc.MQTT.Broker,
		MQTTUsername:     fc.MQTT.Username,
		MQTTPassword:     fc.MQTT.Password,
	}

	durations := []struct {
		field string
		raw   string
		dst   *time.Duration
	}{
		{"inter_item_delay", fc.InterItemDelay, &cfg.InterItemDelay},
		{"call_timeout", fc.CallTimeout, &cfg.CallTimeout},
		{"retry_backoff", fc.RetryBackoff, &cfg.RetryBackoff},
		{"max_backoff", fc.MaxBackoff, &cfg.MaxBackoff},
		{"probe_interval", fc.ProbeInterval, &cfg.ProbeInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return Config{}, &ValidationError{Field: d.field, Message: err.Error()}
		}
		*d.dst = v
	}
	return cfg, nil
}

// Merge returns c with every unset field taken from other.
func (c Config) Merge(other Config) Config {
	str := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	dur := func(dst *time.Duration, src time.Duration) {
		if *dst == 0 {
			*dst = src
		}
	}
	str(&c.LocalPath, other.LocalPath)
	str(&c.Profile, other.Profile)
	str(&c.RemoteURL, other.RemoteURL)
	str(&c.APIKey, other.APIKey)
	str(&c.SessionToken, other.SessionToken)
	str(&c.SourceID, other.SourceID)
	str(&c.SyncSchedule, other.SyncSchedule)
	str(&c.SnapshotSchedule, other.SnapshotSchedule)
	str(&c.LogLevel, other.LogLevel)
	str(&c.LogFormat, other.LogFormat)
	str(&c.LogPath, other.LogPath)
	str(&c.MQTTBroker, other.MQTTBroker)
	str(&c.MQTTUsername, other.MQTTUsername)
	str(&c.MQTTPassword, other.MQTTPassword)
	if c.MaxRetries == 0 {
		c.MaxRetries = other.MaxRetries
	}
	dur(&c.InterItemDelay, other.InterItemDelay)
	dur(&c.CallTimeout, other.CallTimeout)
	dur(&c.RetryBackoff, other.RetryBackoff)
	dur(&c.MaxBackoff, other.MaxBackoff)
	dur(&c.ProbeInterval, other.ProbeInterval)
	return c
}

// Validate checks the configuration for errors.
// Returns *ValidationError for invalid fields.
func (c *Config) Validate() error {
	if c.LocalPath == "" {
		return &ValidationError{Field: "LocalPath", Message: "required: path to SQLite database"}
	}
	if c.Profile != "" {
		if err := store.ValidateProfile(c.Profile); err != nil {
			return &ValidationError{Field: "Profile", Message: err.Error()}
		}
	}
	if c.RemoteURL != "" && c.APIKey == "" && c.SessionToken == "" {
		return &ValidationError{Field: "APIKey", Message: "required when RemoteURL is set (or set SessionToken)"}
	}
	if c.MaxRetries < 0 {
		return &ValidationError{Field: "MaxRetries", Message: "must be non-negative"}
	}
	for _, d := range []struct {
		field string
		v     time.Duration
	}{
		{"InterItemDelay", c.InterItemDelay},
		{"CallTimeout", c.CallTimeout},
		{"RetryBackoff", c.RetryBackoff},
		{"MaxBackoff", c.MaxBackoff},
		{"ProbeInterval", c.ProbeInterval},
	} {
		if d.v < 0 {
			return &ValidationError{Field: d.field, Message: "must be non-negative"}
		}
	}
	for field, spec := range map[string]string{"SyncSchedule": c.SyncSchedule, "SnapshotSchedule": c.SnapshotSchedule} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return &ValidationError{Field: field, Message: err.Error()}
		}
	}
	if c.LogLevel != "" {
		if _, err := parseLevel(c.LogLevel); err != nil {
			return &ValidationError{Field: "LogLevel", Message: err.Error()}
		}
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		return &ValidationError{Field: "LogFormat", Message: "must be text or json"}
	}
	return nil
}

// IsOffline returns true if the engine operates offline-only.
func (c *Config) IsOffline() bool {
	return c.RemoteURL == ""
}

// WithDefaults fills in default values for unset fields.
// LocalPath is derived from the resolved profile if not explicitly set.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()

	if c.Profile == "" {
		if resolved, err := store.ResolveProfile(""); err == nil {
			c.Profile = resolved
		} else {
			c.Profile = store.DefaultProfile
		}
	}
	if c.LocalPath == "" {
		c.LocalPath = store.ProfileDBPath(c.Profile)
	}

	defaults.Profile = c.Profile
	defaults.LocalPath = c.LocalPath
	return c.Merge(defaults)
}

// EngineOptions translates the tuning fields into engine options.
func (c Config) EngineOptions() []Option {
	return []Option{
		WithSyncSchedule(c.SyncSchedule),
		WithSnapshotSchedule(c.SnapshotSchedule),
		WithMaxRetries(c.MaxRetries),
		WithInterItemDelay(c.InterItemDelay),
		WithCallTimeout(c.CallTimeout),
		WithRetryBackoff(c.RetryBackoff, c.MaxBackoff),
	}
}

// Open validates cfg, opens the profile's snapshot database and builds an
// engine over it. Extra options are applied after the configured ones.
func Open(cfg Config, remote Remote, oracle Oracle, opts ...Option) (*Engine, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := NewStore(cfg.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	e, err := NewEngine(st, remote, oracle, append(cfg.EngineOptions(), opts...)...)
	if err != nil {
		st.Close()
		return nil, err
	}
	return e, nil
}
