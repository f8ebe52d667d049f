package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/rubiojr/timefix/internal/cache"
	"github.com/rubiojr/timefix/internal/config"
	"github.com/rubiojr/timefix/internal/crypto"
	"github.com/rubiojr/timefix/internal/events"
	"github.com/rubiojr/timefix/internal/fixer"
	"github.com/rubiojr/timefix/internal/log"
	"github.com/rubiojr/timefix/internal/memory"
	"github.com/rubiojr/timefix/internal/progress"
	natspub "github.com/rubiojr/timefix/internal/publish/nats"
	"github.com/rubiojr/timefix/internal/scanner"
	"github.com/rubiojr/timefix/internal/session"
)

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfigFromCLI(c)
	if err != nil {
		return nil, err
	}

	if c.String("ignore-file") != "" {
		ignoreList, err := readIgnoreList(c.String("ignore-file"))
		if err != nil {
			return nil, fmt.Errorf("failed to read ignore list: %v", err)
		}
		cfg.Scanner.IgnoreList = append(cfg.Scanner.IgnoreList, ignoreList...)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *log.Logger {
	return log.New(os.Stderr,
		log.WithDebug(cfg.Main.Debug || os.Getenv("TIMEFIX_DEBUG") != ""),
		log.WithFile(log.FileConfig{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxFiles:   cfg.Log.MaxFiles,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		}),
	)
}

// newPublisher returns the event bus every session publishes to, forwarding
// to NATS when enabled. The returned function drains the bus and closes the
// connection.
func newPublisher(cfg *config.Config, logger *log.Logger) (*events.Bus, func(), error) {
	bus := events.NewBus(logger, 1024)

	var np *natspub.Publisher
	if cfg.Nats.Enabled {
		var opts []natspub.Option
		opts = append(opts, natspub.WithLogger(logger))
		if cfg.Nats.ClientKey != "" {
			opts = append(opts, natspub.WithMutualTLS(cfg.Nats.ClientCert, cfg.Nats.ClientKey, cfg.Nats.CACert))
		}
		if cfg.Nats.EncryptionKey != "" {
			m, err := crypto.New(cfg.Nats.EncryptionKey)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid encryption key: %v", err)
			}
			opts = append(opts, natspub.WithEncryption(m))
		}

		var err error
		np, err = natspub.NewPublisher(cfg.Nats.URL, cfg.Nats.Stream, cfg.Nats.Subject, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create NATS publisher: %v", err)
		}
		bus.SubscribeAll(np.Publish)
		logger.Debugf("publishing events to %s (stream %s)", cfg.Nats.URL, cfg.Nats.Stream)
	}

	done := make(chan struct{})
	go func() {
		bus.Start()
		close(done)
	}()

	cleanup := func() {
		bus.Stop()
		<-done
		if np != nil {
			if n := np.Failures(); n > 0 {
				logger.Warnf("%d events could not be published", n)
			}
			np.Close()
		}
	}
	return bus, cleanup, nil
}

func newOrchestrator(cfg *config.Config, logger *log.Logger, publisher events.Publisher) *session.Orchestrator {
	governor := memory.NewGovernor(
		memory.WithLogger(logger),
		memory.WithInterval(cfg.Memory.CheckInterval()),
		memory.WithThreshold(cfg.Memory.LowThreshold),
		memory.WithTrimTo(cfg.Memory.TrimTo),
		memory.WithPause(int64(cfg.Memory.PauseEvery), cfg.Memory.Pause()),
	)

	var c cache.Cache = cache.NewNoopCache()
	if cfg.Scanner.CacheSizeMB > 0 {
		c = cache.NewFileCache(cfg.Scanner.CacheSizeMB)
	}

	return session.New(
		session.WithPublisher(publisher),
		session.WithLogger(logger),
		session.WithGovernor(governor),
		session.WithCache(c),
		session.WithDefaultRoot(cfg.Main.Root),
		session.WithWorkers(cfg.Scanner.Workers),
		session.WithBacklog(cfg.Scanner.Backlog),
		session.WithBatchSize(cfg.Scanner.BatchSize),
		session.WithScannerOptions(
			scanner.WithMaxDepth(cfg.Scanner.MaxDepth),
			scanner.WithIgnoreList(cfg.Scanner.IgnoreList),
			scanner.WithIgnoreHidden(cfg.Scanner.IgnoreHidden),
		),
		session.WithFixerOptions(
			fixer.WithMaxFileSize(cfg.Scanner.MaxFileSize),
			fixer.WithTolerance(cfg.Scanner.Tolerance()),
		),
		session.WithProgressOptions(
			progress.WithInterval(cfg.Progress.Interval()),
			progress.WithDeltas(int64(cfg.Progress.MinScannedDelta), int64(cfg.Progress.MinFixedDelta)),
			progress.WithBatchSize(cfg.Progress.OutcomeBatchSize),
		),
	)
}

func runScanner(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	root := cfg.Main.Root
	if c.Args().Len() > 0 {
		root = c.Args().Get(0)
	}

	bus, cleanup, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	printer := newProgressPrinter(os.Stdout, term.IsTerminal(int(os.Stdout.Fd())), c.Bool("verbose"))
	bus.SubscribeAll(printer.handle)

	o := newOrchestrator(cfg, logger, bus)

	scanOnce := func() error {
		start := time.Now()
		fmt.Printf("Starting scan of %s...\n", root)
		o.Start(root)

		stopped := make(chan struct{})
		defer close(stopped)
		go func() {
			select {
			case <-c.Context.Done():
				o.StopScan()
			case <-stopped:
			}
		}()

		res, err := o.Wait(context.Background())
		if err != nil {
			return err
		}
		printer.wait(res.SessionID, res.Progress, 2*time.Second)
		fmt.Printf("%s: scanned %s of %s files, fixed %s in %s\n",
			res.State,
			humanize.Comma(res.Progress.Scanned),
			humanize.Comma(res.Progress.TotalDiscovered),
			humanize.Comma(res.Progress.Fixed),
			time.Since(start).Round(time.Millisecond))
		return res.Err()
	}

	if c.String("every") == "" {
		return scanOnce()
	}
	return runEvery(c, logger, scanOnce)
}

// runEvery runs f right away and then at every tick until the context is
// cancelled. Failed runs are logged and do not stop the loop.
func runEvery(c *cli.Context, logger *log.Logger, f func() error) error {
	d, err := time.ParseDuration(c.String("every"))
	if err != nil {
		return fmt.Errorf("failed to parse duration: %v", err)
	}

	if err := f(); err != nil {
		logger.Errorf("failed to run scanner: %v", err)
	}

	ticker := time.NewTicker(d)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := f(); err != nil {
				logger.Errorf("failed to run scanner: %v", err)
			}
		case <-c.Context.Done():
			return nil
		}
	}
}

func readIgnoreList(filename string) ([]string, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var ignoreList []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "~/") {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return nil, err
			}
			line = "^" + filepath.Join(homeDir, line[2:])
		}
		ignoreList = append(ignoreList, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return ignoreList, nil
}
