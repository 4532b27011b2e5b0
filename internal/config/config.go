package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pi-connector/internal/bridge"
	"pi-connector/internal/collector"
	"pi-connector/internal/piwebapi"
)

// Config is the root of config.yaml.
type Config struct {
	PI      PIConfig                 `yaml:"pi"`
	Bridge  BridgeConfig             `yaml:"bridge"`
	Journal JournalConfig            `yaml:"journal"`
	Status  StatusConfig             `yaml:"status"`
	Log     LogConfig                `yaml:"log"`
	Sources []collector.ServerConfig `yaml:"sources"`
}

type PIConfig struct {
	Host string `yaml:"host"`
	// Credentials is base64("user:password"); Username/Password are encoded into it when set.
	Credentials        string        `yaml:"credentials"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	DBWebID            string        `yaml:"db_webid"`
	DeviceName         string        `yaml:"device_name"`
	Timeout            time.Duration `yaml:"timeout"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

type BridgeConfig struct {
	Mode            string        `yaml:"mode"`
	Interval        time.Duration `yaml:"interval"`
	BatchMaxEntries int           `yaml:"batch_max_entries"`
	BatchCapacity   int           `yaml:"batch_capacity"`
	PostOnChange    bool          `yaml:"post_on_change"`
	ChangeTTL       time.Duration `yaml:"change_ttl"`
}

type JournalConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	BatchSize int    `yaml:"batch_size"`
}

type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads path, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse decodes a YAML document, applies defaults and validates the result.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.PI.Credentials == "" && c.PI.Username != "" {
		c.PI.Credentials = piwebapi.BasicCredentials(c.PI.Username, c.PI.Password)
	}
	if c.PI.Timeout == 0 {
		c.PI.Timeout = 10 * time.Second
	}
	if c.Bridge.Mode == "" {
		c.Bridge.Mode = string(bridge.ModeBatch)
	}
	if c.Bridge.Interval == 0 {
		c.Bridge.Interval = 10 * time.Second
	}
	if c.Bridge.BatchCapacity == 0 {
		c.Bridge.BatchCapacity = piwebapi.DefaultBatchCapacity
	}
	if c.Bridge.ChangeTTL == 0 {
		c.Bridge.ChangeTTL = time.Hour
	}
	if c.Journal.Path == "" {
		c.Journal.Path = "data/journal.sqlite"
	}
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = 200
	}
	if c.Status.Addr == "" {
		c.Status.Addr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	if err := c.PIServer().Validate(); err != nil {
		return fmt.Errorf("pi config: %w", err)
	}
	if _, err := bridge.ParseMode(c.Bridge.Mode); err != nil {
		return fmt.Errorf("bridge config: %w", err)
	}
	if c.Bridge.Interval < 0 {
		return errors.New("bridge.interval must be positive")
	}
	if c.Bridge.BatchMaxEntries < 0 {
		return errors.New("bridge.batch_max_entries must not be negative")
	}
	if c.Bridge.BatchCapacity < 2 {
		return errors.New("bridge.batch_capacity is too small")
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log config: %w", err)
	}
	if err := collector.Validate(c.Sources); err != nil {
		return fmt.Errorf("sources: %w", err)
	}
	return nil
}

// PIServer returns the PI Web API connection settings.
func (c *Config) PIServer() piwebapi.ServerConfig {
	return piwebapi.ServerConfig{
		Host:        c.PI.Host,
		Credentials: c.PI.Credentials,
		DBWebID:     c.PI.DBWebID,
		DeviceName:  c.PI.DeviceName,
	}
}

// BridgeRunner returns the cycle runner settings.
func (c *Config) BridgeRunner() bridge.Config {
	mode, _ := bridge.ParseMode(c.Bridge.Mode)
	return bridge.Config{
		Mode:         mode,
		Interval:     c.Bridge.Interval,
		MaxEntries:   c.Bridge.BatchMaxEntries,
		PostOnChange: c.Bridge.PostOnChange,
		ChangeTTL:    c.Bridge.ChangeTTL,
	}
}

// Validate checks the level and format names.
func (l LogConfig) Validate() error {
	if _, err := parseLevel(l.Level); err != nil {
		return err
	}
	switch strings.ToLower(l.Format) {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("log.format %q must be text or json", l.Format)
	}
}

// NewLogger builds the slog logger described by the log section.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, err
	}
	return level, nil
}
