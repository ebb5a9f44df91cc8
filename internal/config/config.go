// Package config loads the questd configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/gabrielmiguelok/questkit/pkg/logging"
	"github.com/gabrielmiguelok/questkit/pkg/quest"
	"github.com/gabrielmiguelok/questkit/pkg/transport"
	"github.com/gabrielmiguelok/questkit/pkg/wizard"
)

// Config is the full questd configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Quest  QuestConfig  `yaml:"quest"`
	Store  StoreConfig  `yaml:"store"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig configures the HTTP server and live sockets.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	InsecureDevMode bool          `yaml:"insecure_dev_mode"`
	MaxSessions     int           `yaml:"max_sessions"`
	SessionTTL      time.Duration `yaml:"session_ttl"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// Compress gzips plain HTTP responses.
	Compress bool `yaml:"compress"`

	Socket SocketConfig `yaml:"socket"`
}

// SocketConfig tunes the live page websockets.
type SocketConfig struct {
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
	MaxMessageSize int64         `yaml:"max_message_size"`
}

// QuestConfig configures wizard behavior.
type QuestConfig struct {
	MinWords          int            `yaml:"min_words"`
	ProductSlug       string         `yaml:"product_slug"`
	DashboardURL      string         `yaml:"dashboard_url"`
	AutoSelect        bool           `yaml:"auto_select"`
	IndicatorInterval time.Duration  `yaml:"indicator_interval"`
	RequestTimeout    time.Duration  `yaml:"request_timeout"`
	Autosave          AutosaveConfig `yaml:"autosave"`
}

// AutosaveConfig mirrors wizard.AutosavePolicy. A named Policy
// ("keystrokes", "journal") replaces the individual thresholds.
type AutosaveConfig struct {
	Policy     string        `yaml:"policy"`
	Keystrokes int           `yaml:"keystrokes"`
	Debounce   time.Duration `yaml:"debounce"`
	Chars      int           `yaml:"chars"`
	Idle       time.Duration `yaml:"idle"`
}

// StoreConfig selects the draft store.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	JSON        bool   `yaml:"json"`
	Development bool   `yaml:"development"`
}

// Default returns the built-in configuration.
func Default() Config {
	policy := wizard.DefaultAutosavePolicy()
	tc := transport.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Address:         ":3000",
			MaxSessions:     10000,
			SessionTTL:      30 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
			Socket: SocketConfig{
				WriteTimeout:   tc.WriteTimeout,
				PingInterval:   tc.PingInterval,
				PongTimeout:    tc.PongTimeout,
				MaxMessageSize: tc.MaxMessageSize,
			},
		},
		Quest: QuestConfig{
			MinWords:          quest.DefaultMinWords,
			ProductSlug:       "purpose-quest",
			DashboardURL:      "/dashboard",
			IndicatorInterval: wizard.IndicatorInterval,
			RequestTimeout:    15 * time.Second,
			Autosave: AutosaveConfig{
				Keystrokes: policy.Keystrokes,
				Debounce:   policy.Debounce,
				Chars:      policy.Chars,
				Idle:       policy.Idle,
			},
		},
		Store: StoreConfig{Driver: "memory"},
		Log:   LogConfig{Level: "info", JSON: true},
	}
}

// Load reads path over Default. An empty path returns Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := cfg.decode(data); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Server.Address == "" {
		return ErrAddressRequired
	}
	if c.Quest.MinWords < 1 {
		return ErrInvalidMinWords
	}
	sc := c.Server.Socket
	if sc.WriteTimeout <= 0 || sc.PingInterval <= 0 || sc.PongTimeout <= 0 || sc.MaxMessageSize <= 0 {
		return ErrInvalidSocket
	}
	a := c.Quest.Autosave
	if a.Keystrokes < 0 || a.Chars < 0 || a.Debounce < 0 || a.Idle < 0 {
		return ErrInvalidAutosave
	}
	if _, ok := wizard.AutosavePreset(a.Policy); a.Policy != "" && !ok {
		return ErrUnknownAutosavePolicy
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.DSN == "" {
			return ErrSQLiteDSNRequired
		}
	default:
		return ErrUnknownStoreDriver
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return ErrInvalidLogLevel
	}
	return nil
}

// Wizard returns the wizard settings.
func (c Config) Wizard() wizard.Config {
	w := wizard.DefaultConfig()
	w.MinWords = c.Quest.MinWords
	w.DashboardURL = c.Quest.DashboardURL
	w.AutoSelect = c.Quest.AutoSelect
	if preset, ok := wizard.AutosavePreset(c.Quest.Autosave.Policy); ok {
		w.Autosave = preset
	} else {
		w.Autosave = wizard.AutosavePolicy{
			Keystrokes: c.Quest.Autosave.Keystrokes,
			Debounce:   c.Quest.Autosave.Debounce,
			Chars:      c.Quest.Autosave.Chars,
			Idle:       c.Quest.Autosave.Idle,
		}
	}
	if c.Quest.IndicatorInterval > 0 {
		w.IndicatorInterval = c.Quest.IndicatorInterval
	}
	if c.Quest.RequestTimeout > 0 {
		w.RequestTimeout = c.Quest.RequestTimeout
	}
	return w
}

// Transport returns the websocket settings, keeping the transport
// defaults for the buffers.
func (c Config) Transport() *transport.Config {
	tc := transport.DefaultConfig()
	tc.WriteTimeout = c.Server.Socket.WriteTimeout
	tc.PingInterval = c.Server.Socket.PingInterval
	tc.PongTimeout = c.Server.Socket.PongTimeout
	tc.MaxMessageSize = c.Server.Socket.MaxMessageSize
	return tc
}

// Logger builds the zap backed logger.
func (c Config) Logger() (*logging.ZapLogger, error) {
	opts := []logging.LoggerOption{
		logging.WithLevelName(c.Log.Level),
		logging.WithJSON(c.Log.JSON),
	}
	if c.Log.Development {
		opts = append(opts, logging.WithDevelopment())
	}
	return logging.New(opts...)
}

// Configuration errors.
var (
	ErrAddressRequired       = configError("server.address is required")
	ErrInvalidSocket         = configError("server.socket timeouts and max_message_size must be positive")
	ErrInvalidMinWords       = configError("quest.min_words must be positive")
	ErrInvalidAutosave       = configError("quest.autosave values must not be negative")
	ErrUnknownAutosavePolicy = configError("quest.autosave.policy must be keystrokes or journal")
	ErrSQLiteDSNRequired     = configError("store.dsn is required for the sqlite driver")
	ErrUnknownStoreDriver    = configError("store.driver must be memory or sqlite")
	ErrInvalidLogLevel       = configError("log.level must be debug, info, warn or error")
)

type configError string

func (e configError) Error() string { return string(e) }
