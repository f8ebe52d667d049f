package main

import (
	"context"
	"embed"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

//go:embed configs
var configFiles embed.FS

func configFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the configuration file",
			EnvVars: []string{"TIMEFIX_CONFIG"},
		},
		&cli.BoolFlag{
			Name:    "debug",
			Usage:   "Debug logging",
			EnvVars: []string{"TIMEFIX_DEBUG"},
		},
	}
}

func natsFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "nats-url",
			Usage:   "Publish events to this NATS server",
			EnvVars: []string{"TIMEFIX_NATS_URL"},
		},
		&cli.StringFlag{
			Name:    "stream",
			Usage:   "JetStream stream name",
			EnvVars: []string{"TIMEFIX_NATS_STREAM"},
		},
		&cli.StringFlag{
			Name:    "subject",
			Usage:   "Subject prefix for events",
			EnvVars: []string{"TIMEFIX_NATS_SUBJECT"},
		},
		&cli.StringFlag{
			Name:    "encryption-key",
			Usage:   "age identity or passphrase used to encrypt events",
			EnvVars: []string{"TIMEFIX_ENCRYPTION_KEY"},
		},
		&cli.StringFlag{
			Name:  "client-cert",
			Usage: "Client certificate for mutual TLS",
		},
		&cli.StringFlag{
			Name:  "client-key",
			Usage: "Client key for mutual TLS",
		},
		&cli.StringFlag{
			Name:  "ca-cert",
			Usage: "CA certificate for mutual TLS",
		},
	}
}

func scanFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "workers",
			Usage: "Number of concurrent workers (default min(4, CPUs))",
		},
		&cli.IntFlag{
			Name:  "max-depth",
			Usage: "Deepest directory level to enter",
		},
		&cli.StringFlag{
			Name:  "ignore-file",
			Usage: "File with path patterns to ignore, one per line",
		},
		&cli.StringFlag{
			Name:  "log-file",
			Usage: "Also write logs to this file, rotated",
		},
		&cli.StringFlag{
			Name:  "every",
			Usage: "Repeat scans at this interval, e.g. 1h",
		},
	}
}

func flags(groups ...[]cli.Flag) []cli.Flag {
	var all []cli.Flag
	for _, g := range groups {
		all = append(all, g...)
	}
	return all
}

func main() {
	app := &cli.App{
		Name:  "timefix",
		Usage: "Restore photo modification times from EXIF data and file names",
		Commands: []*cli.Command{
			{
				Name:      "scan",
				Aliases:   []string{"s"},
				Usage:     "Scan a directory tree and fix modification times",
				ArgsUsage: "[root]",
				Flags: flags(configFlags(), natsFlags(), scanFlags(), []cli.Flag{
					&cli.BoolFlag{
						Name:    "verbose",
						Aliases: []string{"v"},
						Usage:   "Print every fixed file",
					},
				}),
				Action: runScanner,
			},
			{
				Name:  "serve",
				Usage: "Run the scan daemon with an HTTP control API",
				Flags: flags(configFlags(), natsFlags(), scanFlags(), []cli.Flag{
					&cli.StringFlag{
						Name:    "listen",
						Usage:   "Address of the control API",
						EnvVars: []string{"TIMEFIX_LISTEN"},
					},
					&cli.BoolFlag{
						Name:  "scan",
						Usage: "Start a scan of the default root right away",
					},
				}),
				Action: runServe,
			},
			{
				Name:      "start",
				Usage:     "Ask a running daemon to start a scan",
				ArgsUsage: "[root]",
				Flags:     flags(configFlags(), []cli.Flag{&cli.StringFlag{Name: "listen", Usage: "Address of the control API"}}),
				Action:    runStart,
			},
			{
				Name:   "stop",
				Usage:  "Ask a running daemon to stop its scan",
				Flags:  flags(configFlags(), []cli.Flag{&cli.StringFlag{Name: "listen", Usage: "Address of the control API"}}),
				Action: runStop,
			},
			{
				Name:   "status",
				Usage:  "Show the state of a running daemon",
				Flags:  flags(configFlags(), []cli.Flag{&cli.StringFlag{Name: "listen", Usage: "Address of the control API"}}),
				Action: runStatus,
			},
			{
				Name:      "resolve",
				Usage:     "Print the capture time found in file names, files or EXIF date strings",
				ArgsUsage: "<name|path|\"YYYY:MM:DD HH:MM:SS\">...",
				Action:    runResolve,
			},
			{
				Name:  "listen",
				Usage: "Print scan events published to NATS",
				Flags: flags(configFlags(), natsFlags(), []cli.Flag{
					&cli.StringFlag{
						Name:  "consumer",
						Usage: "Durable consumer name",
						Value: "timefix-listener",
					},
					&cli.BoolFlag{
						Name:  "all",
						Usage: "Replay the events already in the stream",
					},
				}),
				Action: runListen,
			},
			{
				Name:   "keygen",
				Usage:  "Generate an age key pair for event encryption",
				Action: runKeygen,
			},
			{
				Name:  "nats",
				Usage: "Start embedded NATS server",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "port",
						Usage: "Port to listen on",
					},
					&cli.IntFlag{
						Name:  "http-port",
						Usage: "HTTP monitoring port (0 to disable)",
					},
					&cli.StringFlag{
						Name:  "config",
						Usage: "Path to the NATS configuration file",
					},
					&cli.StringFlag{
						Name:  "data-dir",
						Usage: "Directory to store NATS data",
					},
					&cli.BoolFlag{
						Name:  "debug",
						Usage: "Enable debug logging",
					},
					&cli.BoolFlag{
						Name:  "trace",
						Usage: "Enable trace logging",
					},
				},
				Action: startEmbeddedNATSServer,
			},
			{
				Name:  "setup",
				Usage: "Setup initial configuration files",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Overwrite existing configuration files",
					},
				},
				Action: func(c *cli.Context) error {
					return setupConfig(c.Bool("force"))
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
