package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/urfave/cli/v2"

	"github.com/rubiojr/timefix/internal/config"
)

// natsServerOptions builds the embedded server options from an optional
// config file plus command line overrides. JetStream is always on.
func natsServerOptions(conf string, port, httpPort int, dataDir string) (*server.Options, error) {
	opts := &server.Options{}

	if conf == "" {
		dir, err := config.DefaultConfigDir()
		if err != nil {
			return nil, err
		}
		conf = filepath.Join(dir, "nats.conf")
	}
	if _, err := os.Stat(conf); err == nil {
		opts.ConfigFile = conf
		if err := opts.ProcessConfigFile(conf); err != nil {
			return nil, fmt.Errorf("failed to process config file: %v", err)
		}
	}

	if port != 0 {
		opts.Port = port
	}
	if httpPort != 0 {
		opts.HTTPPort = httpPort
	}
	if dataDir != "" {
		opts.StoreDir = dataDir
	}
	if opts.StoreDir == "" {
		opts.StoreDir = config.DefaultNATSDataDir()
	}

	opts.JetStream = true
	return opts, nil
}

func startEmbeddedNATSServer(c *cli.Context) error {
	opts, err := natsServerOptions(c.String("config"), c.Int("port"), c.Int("http-port"), c.String("data-dir"))
	if err != nil {
		return err
	}
	opts.Debug = c.Bool("debug")
	opts.Trace = c.Bool("trace")

	if err := os.MkdirAll(opts.StoreDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %v", err)
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return fmt.Errorf("failed to create NATS server: %v", err)
	}

	ns.ConfigureLogger()

	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		return fmt.Errorf("NATS server failed to start in time")
	}

	fmt.Printf("NATS server is running on port %d\n", opts.Port)
	if opts.HTTPPort > 0 {
		fmt.Printf("HTTP monitoring available on port %d\n", opts.HTTPPort)
	}
	fmt.Printf("JetStream is enabled with storage in: %s\n", opts.StoreDir)

	fmt.Println("Press Ctrl+C to stop the server")
	go func() {
		<-c.Context.Done()
		ns.Shutdown()
	}()
	ns.WaitForShutdown()

	fmt.Println("\nShutting down NATS server...")

	return nil
}
