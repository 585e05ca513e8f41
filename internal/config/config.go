package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Version is stamped into the default host id.
var Version = "0.3.0"

// Config holds all runtime options of the hash host.
type Config struct {
	HostID  string `yaml:"host"`
	Decoder string `yaml:"decoder"`
	Encoder string `yaml:"encoder"`

	Watch       bool   `yaml:"watch"`
	MountPoint  string `yaml:"mount_point"`
	Schedule    string `yaml:"schedule"`
	MaxDetached int    `yaml:"max_detached"`

	StateDir  string `yaml:"state_dir"`
	Addr      string `yaml:"addr"`
	AuthToken string `yaml:"auth_token"`
	LogLevel  string `yaml:"log_level"`
	BarkURL   string `yaml:"bark_url"`

	ShutdownGrace time.Duration `yaml:"shutdown_grace"`

	// ConfigFile is the YAML file the values were read from, if any.
	ConfigFile string `yaml:"-"`
}

const (
	defaultLogLevel      = "info"
	defaultShutdownGrace = 5 * time.Second
)

// DefaultHostID is the host id used when none is configured.
func DefaultHostID() string {
	return "Hash host v" + Version
}

func defaults() *Config {
	return &Config{
		HostID:        DefaultHostID(),
		LogLevel:      defaultLogLevel,
		ShutdownGrace: defaultShutdownGrace,
	}
}

// BindFlags declares the configuration flags on flags.
func BindFlags(flags *pflag.FlagSet) {
	flags.StringP("id", "i", "", "host id exposed to scripts as HASH_HOST")
	flags.StringP("decoder", "d", "", "command (or builtin:<codec>) that decodes scripts before execution")
	flags.StringP("encoder", "e", "", "command (or builtin:<codec>) that encodes captured output")
	flags.BoolP("watch", "w", false, "re-sweep the directory whenever the mount point is mounted")
	flags.String("mount-point", "", "mount point to watch (defaults to the swept directory)")
	flags.String("schedule", "", "5-field cron expression that also triggers sweeps in watch mode")
	flags.Int("max-detached", 0, "cap on concurrently running detached scripts (0 = unlimited)")
	flags.String("state-dir", "", "directory holding the run ledger")
	flags.String("addr", "", "listen address of the status API in watch mode")
	flags.String("auth-token", "", "bearer token required by the status API")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("bark-url", "", "Bark push url for failure notifications")
	flags.Duration("shutdown-grace", 0, "grace period when shutting down")
	flags.StringP("config", "c", "", "YAML config file")
}

// Load resolves the configuration.
// Priority: CLI flags > environment variables > .env file > YAML file > defaults
func Load(flags *pflag.FlagSet) (*Config, error) {
	envFiles := []string{".env"}
	if configDir, err := os.UserConfigDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(configDir, "hash", ".env"))
	}
	for _, f := range envFiles {
		// godotenv never overrides variables that are already set.
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := defaults()

	path := getEnvString("HASH_CONFIG", "")
	if flags != nil && flags.Changed("config") {
		path, _ = flags.GetString("config")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if flags != nil {
		if err := cfg.applyFlags(flags); err != nil {
			return nil, err
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	c.ConfigFile = path
	return nil
}

func (c *Config) applyEnv() error {
	c.HostID = getEnvString("HASH_HOST", c.HostID)
	c.Decoder = getEnvString("HASH_DECODER", c.Decoder)
	c.Encoder = getEnvString("HASH_ENCODER", c.Encoder)
	c.MountPoint = getEnvString("HASH_MOUNT_POINT", c.MountPoint)
	c.Schedule = getEnvString("HASH_SCHEDULE", c.Schedule)
	c.StateDir = getEnvString("HASH_STATE_DIR", c.StateDir)
	c.Addr = getEnvString("HASH_ADDR", c.Addr)
	c.AuthToken = getEnvString("HASH_AUTH_TOKEN", c.AuthToken)
	c.LogLevel = getEnvString("HASH_LOG_LEVEL", c.LogLevel)
	c.BarkURL = getEnvString("HASH_BARK_URL", c.BarkURL)

	var err error
	if c.Watch, err = getEnvBool("HASH_WATCH", c.Watch); err != nil {
		return err
	}
	if c.MaxDetached, err = getEnvInt("HASH_MAX_DETACHED", c.MaxDetached); err != nil {
		return err
	}
	if c.ShutdownGrace, err = getEnvDuration("HASH_SHUTDOWN_GRACE", c.ShutdownGrace); err != nil {
		return err
	}
	return nil
}

// applyFlags copies explicitly set flags over the current values.
func (c *Config) applyFlags(flags *pflag.FlagSet) error {
	var err error
	flags.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "id":
			c.HostID = f.Value.String()
		case "decoder":
			c.Decoder = f.Value.String()
		case "encoder":
			c.Encoder = f.Value.String()
		case "watch":
			c.Watch, err = flags.GetBool("watch")
		case "mount-point":
			c.MountPoint = f.Value.String()
		case "schedule":
			c.Schedule = f.Value.String()
		case "max-detached":
			c.MaxDetached, err = flags.GetInt("max-detached")
		case "state-dir":
			c.StateDir = f.Value.String()
		case "addr":
			c.Addr = f.Value.String()
		case "auth-token":
			c.AuthToken = f.Value.String()
		case "log-level":
			c.LogLevel = f.Value.String()
		case "bark-url":
			c.BarkURL = f.Value.String()
		case "shutdown-grace":
			c.ShutdownGrace, err = flags.GetDuration("shutdown-grace")
		}
	})
	return err
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.HostID) == "" {
		c.HostID = DefaultHostID()
	}
	if c.MaxDetached < 0 {
		return fmt.Errorf("max detached must not be negative: %d", c.MaxDetached)
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = defaultShutdownGrace
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level: %q", c.LogLevel)
	}
	return nil
}

// getEnvString returns the environment variable value or default
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return i, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return defaultVal, nil
	}
	switch strings.ToLower(val) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("%s: invalid boolean %q", key, val)
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
