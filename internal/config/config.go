package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Output    Output    `yaml:"output"`
	Database  Database  `yaml:"database"`
	Server    Server    `yaml:"server"`
	Logging   Logging   `yaml:"logging"`
	Scheduler Scheduler `yaml:"scheduler"`
	Notify    Notify    `yaml:"notify"`
	Metrics   Metrics   `yaml:"metrics"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Database struct {
	// PageSize bounds how many question answers a full scan loads at once.
	PageSize int `yaml:"page_size"`
}

type Server struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type Logging struct {
	Level string `yaml:"level"`
	// Format is "text" or "json". Empty picks text for a local environment.
	Format      string `yaml:"format"`
	Environment string `yaml:"environment"`
}

type Scheduler struct {
	MaxRetries     uint64        `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Timeout        time.Duration `yaml:"timeout"`
	Interval       time.Duration `yaml:"interval"`
	Workers        int           `yaml:"workers"`
}

type Notify struct {
	AMQP AMQP `yaml:"amqp"`
}

type AMQP struct {
	Enabled    bool   `yaml:"enabled"`
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
}

type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ConfigDir returns the XDG config directory for interviewstats.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "interviewstats")
}

// DataDir returns the XDG data directory for interviewstats.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "interviewstats")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/interviewstats/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'interviewstats init' to create a default config",
		xdgConfig,
	)
}

// LoadDotEnv loads a .env file from the working directory if there is one.
// Variables already set in the environment win.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

// Load reads and parses a config YAML file, then applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Default returns the built-in configuration with environment overrides.
func Default() (*Config, error) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Database: Database{PageSize: 500},
		Server: Server{
			Port:         8000,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Logging: Logging{Level: "info", Environment: "local"},
		Scheduler: Scheduler{
			MaxRetries:     4,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
			Timeout:        10 * time.Second,
			Interval:       30 * time.Second,
			Workers:        4,
		},
		Notify: Notify{AMQP: AMQP{
			Exchange:   "interviewstats",
			RoutingKey: "analytics.global.updated",
		}},
		Metrics: Metrics{Enabled: true, Path: "/metrics"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides config values from environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("INTERVIEWSTATS_DATA_DIR"); v != "" {
		c.Output.DataDir = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := getenv("ENVIRONMENT"); v != "" {
		c.Logging.Environment = v
	}
	if v := getenv("AMQP_URL"); v != "" {
		c.Notify.AMQP.URL = v
		c.Notify.AMQP.Enabled = true
	}
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT %q is not a number", v)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate rejects values the rest of the program cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Scheduler.Timeout <= 0 {
		problems = append(problems, "scheduler.timeout must be positive")
	}
	if c.Scheduler.Interval <= 0 {
		problems = append(problems, "scheduler.interval must be positive")
	}
	if c.Scheduler.Workers < 1 {
		problems = append(problems, "scheduler.workers must be at least 1")
	}
	if c.Scheduler.InitialBackoff <= 0 || c.Scheduler.MaxBackoff < c.Scheduler.InitialBackoff {
		problems = append(problems, "scheduler backoff must satisfy 0 < initial_backoff <= max_backoff")
	}
	if c.Database.PageSize < 1 {
		problems = append(problems, "database.page_size must be at least 1")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q must be text or json", c.Logging.Format))
	}
	if c.Notify.AMQP.Enabled && c.Notify.AMQP.URL == "" {
		problems = append(problems, "notify.amqp.url is required when amqp is enabled")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// DBPath returns the SQLite database path inside the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.GetDataDir(), "interviewstats.db")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
