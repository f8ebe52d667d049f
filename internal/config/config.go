package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/urfave/cli/v2"
)

// Config represents the overall application configuration
type Config struct {
	Main     MainConfig     `toml:"main"`
	Scanner  ScannerConfig  `toml:"scanner"`
	Memory   MemoryConfig   `toml:"memory"`
	Progress ProgressConfig `toml:"progress"`
	Nats     NatsConfig     `toml:"nats"`
	API      APIConfig      `toml:"api"`
	Log      LogConfig      `toml:"log"`
	Path     string         `toml:"-"`
}

// MainConfig represents the main configuration section
type MainConfig struct {
	Root  string `toml:"root"`
	Debug bool   `toml:"debug"`
}

type ScannerConfig struct {
	MaxDepth     int      `toml:"max_depth"`
	Workers      int      `toml:"workers"`
	BatchSize    int      `toml:"batch_size"`
	Backlog      int      `toml:"backlog"`
	MaxFileSize  int64    `toml:"max_file_size"`
	ToleranceMs  int      `toml:"tolerance_ms"`
	IgnoreHidden bool     `toml:"ignore_hidden"`
	IgnoreList   []string `toml:"ignore_list"`
	CacheSizeMB  int      `toml:"cache_size_mb"`
}

type MemoryConfig struct {
	CheckIntervalMs int     `toml:"check_interval_ms"`
	LowThreshold    float64 `toml:"low_threshold"`
	TrimTo          int     `toml:"trim_to"`
	PauseEvery      int     `toml:"pause_every"`
	PauseMs         int     `toml:"pause_ms"`
}

type ProgressConfig struct {
	IntervalMs       int `toml:"interval_ms"`
	MinScannedDelta  int `toml:"min_scanned_delta"`
	MinFixedDelta    int `toml:"min_fixed_delta"`
	OutcomeBatchSize int `toml:"outcome_batch_size"`
}

type NatsConfig struct {
	Enabled    bool   `toml:"enabled"`
	URL        string `toml:"url"`
	Stream     string `toml:"stream"`
	Subject    string `toml:"subject"`
	ClientCert string `toml:"client_cert"`
	ClientKey  string `toml:"client_key"`
	CACert     string `toml:"ca_cert"`

	// EncryptionKey is an age identity or a passphrase. Events are sent in
	// the clear when empty.
	EncryptionKey string `toml:"encryption_key"`
}

type APIConfig struct {
	Listen string `toml:"listen"`
}

type LogConfig struct {
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxFiles   int    `toml:"max_files"`
	MaxAgeDays int    `toml:"max_age_days"`
}

func (c ScannerConfig) Tolerance() time.Duration {
	return time.Duration(c.ToleranceMs) * time.Millisecond
}

func (c MemoryConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalMs) * time.Millisecond
}

func (c MemoryConfig) Pause() time.Duration {
	return time.Duration(c.PauseMs) * time.Millisecond
}

func (c ProgressConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

func (c Config) NormalizePath(file string) string {
	if file == "" {
		return ""
	}

	if strings.HasPrefix(file, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			panic(err)
		}
		file = filepath.Join(homeDir, file[1:])
	}

	if filepath.IsAbs(file) {
		return file
	}

	return filepath.Join(filepath.Dir(c.Path), file)
}

// DefaultRoot is the external storage root when running on Android, the
// user's home directory otherwise.
func DefaultRoot() string {
	if root := os.Getenv("EXTERNAL_STORAGE"); root != "" {
		return root
	}
	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	return home
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cdir, err := DefaultConfigDir()
	if err != nil {
		panic(err)
	}

	return &Config{
		Path: filepath.Join(cdir, "config.toml"),
		Main: MainConfig{
			Root: DefaultRoot(),
		},
		Scanner: ScannerConfig{
			MaxDepth:    10,
			BatchSize:   5,
			Backlog:     100,
			MaxFileSize: 100 * 1024 * 1024,
			ToleranceMs: 1000,
			CacheSizeMB: 32,
		},
		Memory: MemoryConfig{
			CheckIntervalMs: 5000,
			LowThreshold:    0.15,
			TrimTo:          100,
			PauseEvery:      20,
			PauseMs:         100,
		},
		Progress: ProgressConfig{
			IntervalMs:       1000,
			MinScannedDelta:  10,
			MinFixedDelta:    5,
			OutcomeBatchSize: 10,
		},
		Nats: NatsConfig{
			URL:     "localhost:4222",
			Stream:  "TIMEFIX",
			Subject: "TIMEFIX",
		},
		API: APIConfig{
			Listen: "127.0.0.1:8734",
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxFiles:   3,
			MaxAgeDays: 28,
		},
	}
}

// LoadConfig loads the configuration from the specified file path
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	config.Path = path

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found")
	}

	_, err := toml.DecodeFile(path, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config file: %v", err)
	}

	config.Main.Root = config.NormalizePath(config.Main.Root)
	config.Nats.ClientKey = config.NormalizePath(config.Nats.ClientKey)
	config.Nats.ClientCert = config.NormalizePath(config.Nats.ClientCert)
	config.Nats.CACert = config.NormalizePath(config.Nats.CACert)
	config.Log.File = config.NormalizePath(config.Log.File)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects values the scan engine cannot work with.
func (c *Config) Validate() error {
	switch {
	case c.Scanner.MaxDepth < 0:
		return fmt.Errorf("scanner.max_depth must not be negative")
	case c.Scanner.BatchSize <= 0:
		return fmt.Errorf("scanner.batch_size must be positive")
	case c.Scanner.ToleranceMs < 0:
		return fmt.Errorf("scanner.tolerance_ms must not be negative")
	case c.Memory.LowThreshold < 0 || c.Memory.LowThreshold > 1:
		return fmt.Errorf("memory.low_threshold must be between 0 and 1")
	case c.Memory.CheckIntervalMs <= 0:
		return fmt.Errorf("memory.check_interval_ms must be positive")
	case c.Progress.IntervalMs <= 0:
		return fmt.Errorf("progress.interval_ms must be positive")
	}
	return nil
}

func LoadConfigFromCLI(ctx *cli.Context) (*Config, error) {
	var cfg *Config
	var err error
	if ctx.String("config") != "" {
		cfg, err = LoadConfig(ctx.String("config"))
	} else {
		cfg, err = LoadDefaultConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %v", err)
	}

	if ctx.Bool("debug") {
		cfg.Main.Debug = true
	}

	natsServer := ctx.String("nats-url")
	if natsServer != "" {
		cfg.Nats.URL = natsServer
		cfg.Nats.Enabled = true
	}

	streamName := ctx.String("stream")
	if streamName != "" {
		cfg.Nats.Stream = streamName
	}

	subject := ctx.String("subject")
	if subject != "" {
		cfg.Nats.Subject = subject
	}

	workers := ctx.Int("workers")
	if workers != 0 {
		cfg.Scanner.Workers = workers
	}

	maxDepth := ctx.Int("max-depth")
	if maxDepth != 0 {
		cfg.Scanner.MaxDepth = maxDepth
	}

	listen := ctx.String("listen")
	if listen != "" {
		cfg.API.Listen = listen
	}

	logFile := ctx.String("log-file")
	if logFile != "" {
		cfg.Log.File = logFile
	}

	clientCert := ctx.String("client-cert")
	if clientCert != "" {
		cfg.Nats.ClientCert = cfg.NormalizePath(clientCert)
	}

	clientKey := ctx.String("client-key")
	if clientKey != "" {
		cfg.Nats.ClientKey = cfg.NormalizePath(clientKey)
	}

	encryptionKey := ctx.String("encryption-key")
	if encryptionKey != "" {
		cfg.Nats.EncryptionKey = encryptionKey
	}

	caCert := ctx.String("ca-cert")
	if caCert != "" {
		cfg.Nats.CACert = cfg.NormalizePath(caCert)
	}

	return cfg, nil
}

// LoadDefaultConfig loads the configuration from the default path. A
// missing file yields the defaults.
func LoadDefaultConfig() (*Config, error) {
	configDir, err := DefaultConfigDir()
	if err != nil {
		return nil, err
	}

	configPath := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	return LoadConfig(configPath)
}

// SaveConfig saves the configuration to the specified file path
func SaveConfig(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %v", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %v", err)
	}
	defer file.Close()

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %v", err)
	}

	return nil
}

// DefaultConfigDir returns the configuration directory path
func DefaultConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %v", err)
	}

	return filepath.Join(homeDir, ".config", "timefix"), nil
}

// DefaultNATSDataDir returns the default NATS data directory path
func DefaultNATSDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	return filepath.Join(home, ".local", "share", "timefix", "nats")
}
