package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/rubiojr/timefix/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.Equal(t, 10, cfg.Scanner.MaxDepth)
	assert.Equal(t, 5, cfg.Scanner.BatchSize)
	assert.Equal(t, int64(100*1024*1024), cfg.Scanner.MaxFileSize)
	assert.Equal(t, 1000, cfg.Scanner.ToleranceMs)
	assert.Equal(t, 5000, cfg.Memory.CheckIntervalMs)
	assert.InDelta(t, 0.15, cfg.Memory.LowThreshold, 0.0001)
	assert.Equal(t, 100, cfg.Memory.TrimTo)
	assert.Equal(t, 20, cfg.Memory.PauseEvery)
	assert.Equal(t, 1000, cfg.Progress.IntervalMs)
	assert.Equal(t, 10, cfg.Progress.MinScannedDelta)
	assert.Equal(t, 5, cfg.Progress.MinFixedDelta)
	assert.Equal(t, 10, cfg.Progress.OutcomeBatchSize)
	assert.Equal(t, "TIMEFIX", cfg.Nats.Stream)
	assert.False(t, cfg.Nats.Enabled)
	assert.Equal(t, config.DefaultRoot(), cfg.Main.Root)
	require.NoError(t, cfg.Validate())
}

func TestDefaultRoot(t *testing.T) {
	t.Setenv("EXTERNAL_STORAGE", "/storage/emulated/0")
	assert.Equal(t, "/storage/emulated/0", config.DefaultRoot())

	t.Setenv("EXTERNAL_STORAGE", "")
	home, _ := os.UserHomeDir()
	assert.Equal(t, home, config.DefaultRoot())
}

func TestNormalizePath(t *testing.T) {
	homeDir, _ := os.UserHomeDir()
	cfg := config.Config{Path: "/some/config/path/config.toml"}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Empty path", "", ""},
		{"Relative path", "relative/path", "/some/config/path/relative/path"},
		{"Absolute path", "/absolute/path", "/absolute/path"},
		{"Home tilde path", "~/something", filepath.Join(homeDir, "something")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, cfg.NormalizePath(tt.input))
		})
	}
}

func TestLoadConfig(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "test_config.toml")

	err := os.WriteFile(configPath, []byte(`
[main]
root = "photos"

[scanner]
workers = 2
ignore_list = ["/Download/"]

[nats]
enabled = true
url = "nats://testserver:4222"

[log]
file = "timefix.log"
`), 0o644)
	require.NoError(t, err)

	cfg, err := config.LoadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tempDir, "photos"), cfg.Main.Root)
	assert.Equal(t, 2, cfg.Scanner.Workers)
	assert.Equal(t, []string{"/Download/"}, cfg.Scanner.IgnoreList)
	assert.Equal(t, 5, cfg.Scanner.BatchSize, "unset keys keep their defaults")
	assert.True(t, cfg.Nats.Enabled)
	assert.Equal(t, "nats://testserver:4222", cfg.Nats.URL)
	assert.Equal(t, filepath.Join(tempDir, "timefix.log"), cfg.Log.File)

	_, err = config.LoadConfig(filepath.Join(tempDir, "nonexistent.toml"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoadConfigInvalid(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("[memory]\nlow_threshold = 2.0\n"), 0o644))

	_, err := config.LoadConfig(configPath)
	assert.ErrorContains(t, err, "low_threshold")

	require.NoError(t, os.WriteFile(configPath, []byte("[scanner\n"), 0o644))
	_, err = config.LoadConfig(configPath)
	assert.ErrorContains(t, err, "failed to decode")
}

func TestSaveConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := config.DefaultConfig()
	cfg.Nats.URL = "nats://customserver:4222"
	cfg.Main.Root = "/sdcard"

	require.NoError(t, config.SaveConfig(cfg, configPath))

	loadedCfg, err := config.LoadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, "nats://customserver:4222", loadedCfg.Nats.URL)
	assert.Equal(t, "/sdcard", loadedCfg.Main.Root)
}

func TestLoadConfigFromCLI(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "cli_config.toml")
	require.NoError(t, config.SaveConfig(config.DefaultConfig(), configPath))

	var cfg *config.Config
	app := &cli.App{
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config"},
			&cli.BoolFlag{Name: "debug"},
			&cli.StringFlag{Name: "nats-url"},
			&cli.StringFlag{Name: "stream"},
			&cli.IntFlag{Name: "workers"},
			&cli.StringFlag{Name: "listen"},
			&cli.StringFlag{Name: "encryption-key"},
		},
		Action: func(c *cli.Context) error {
			var err error
			cfg, err = config.LoadConfigFromCLI(c)
			return err
		},
	}

	err := app.Run([]string{"timefix",
		"--config", configPath,
		"--debug",
		"--nats-url", "nats://custom:4222",
		"--stream", "PHOTOS",
		"--workers", "3",
		"--listen", ":9999",
		"--encryption-key", "testkey123",
	})
	require.NoError(t, err)

	assert.Equal(t, configPath, cfg.Path)
	assert.True(t, cfg.Main.Debug)
	assert.True(t, cfg.Nats.Enabled)
	assert.Equal(t, "nats://custom:4222", cfg.Nats.URL)
	assert.Equal(t, "PHOTOS", cfg.Nats.Stream)
	assert.Equal(t, 3, cfg.Scanner.Workers)
	assert.Equal(t, ":9999", cfg.API.Listen)
	assert.Equal(t, "testkey123", cfg.Nats.EncryptionKey)
}
