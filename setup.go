package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rubiojr/timefix/internal/config"
)

func setupConfig(force bool) error {
	configDir, err := config.DefaultConfigDir()
	if err != nil {
		return fmt.Errorf("failed to get config directory: %v", err)
	}
	return writeConfigs(configDir, config.DefaultNATSDataDir(), force)
}

func writeConfigs(configDir, dataDir string, force bool) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %v", err)
	}

	if err := writeEmbeddedFile("configs/nats.conf", filepath.Join(configDir, "nats.conf"), force); err != nil {
		return err
	}

	if err := writeEmbeddedFile("configs/config.toml", filepath.Join(configDir, "config.toml"), force); err != nil {
		return err
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create NATS data directory: %v", err)
	}

	fmt.Println("Configuration files written successfully:")
	fmt.Printf("  Config directory: %s\n", configDir)
	fmt.Printf("  NATS config: %s\n", filepath.Join(configDir, "nats.conf"))
	fmt.Printf("  timefix config: %s\n", filepath.Join(configDir, "config.toml"))
	fmt.Printf("  NATS data directory: %s\n", dataDir)

	return nil
}

// writeEmbeddedFile copies one of the embedded default configs to target,
// refusing to replace an existing file unless force is set.
func writeEmbeddedFile(name, target string, force bool) error {
	data, err := configFiles.ReadFile(name)
	if err != nil {
		return fmt.Errorf("missing embedded file %s: %v", name, err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(target, flags, 0644)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("file already exists: %s (use --force to overwrite)", target)
	}
	if err != nil {
		return fmt.Errorf("failed to create file %s: %v", target, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write file %s: %v", target, err)
	}
	return nil
}
