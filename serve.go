package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/rubiojr/timefix/internal/api"
	"github.com/rubiojr/timefix/internal/config"
	"github.com/rubiojr/timefix/internal/errmsg"
)

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	bus, cleanup, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	o := newOrchestrator(cfg, logger, bus)

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- api.Serve(ctx, cfg.API.Listen, o, logger)
	}()

	if c.Bool("scan") {
		o.StartScan()
	}

	var tick <-chan time.Time
	if every := c.String("every"); every != "" {
		d, err := time.ParseDuration(every)
		if err != nil {
			return fmt.Errorf("failed to parse duration: %v", err)
		}
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-tick:
			o.StartScan()
		case err := <-serveErr:
			o.StopScan()
			return err
		case <-ctx.Done():
			if o.StopScan() {
				logger.Printf("waiting for the running scan to stop")
				waitCtx, cancelWait := context.WithTimeout(context.Background(), 30*time.Second)
				o.Wait(waitCtx)
				cancelWait()
			}
			return <-serveErr
		}
	}
}

func apiClient(c *cli.Context) (*api.Client, error) {
	cfg, err := config.LoadConfigFromCLI(c)
	if err != nil {
		return nil, err
	}
	return api.NewClient("http://" + cfg.API.Listen), nil
}

func runStart(c *cli.Context) error {
	client, err := apiClient(c)
	if err != nil {
		return err
	}
	id, err := client.Start(c.Args().First())
	if errors.Is(err, errmsg.ErrAlreadyScanning) {
		fmt.Printf("scan %s already running\n", id)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("scan %s started\n", id)
	return nil
}

func runStop(c *cli.Context) error {
	client, err := apiClient(c)
	if err != nil {
		return err
	}
	stopped, err := client.Stop()
	if err != nil {
		return err
	}
	if stopped {
		fmt.Println("scan stopped")
	} else {
		fmt.Println("no scan running")
	}
	return nil
}

func runStatus(c *cli.Context) error {
	client, err := apiClient(c)
	if err != nil {
		return err
	}
	st, err := client.Status()
	if err != nil {
		return err
	}

	fmt.Printf("%-10s %s\n", "State", st.State)
	if st.SessionID != "" {
		fmt.Printf("%-10s %s\n", "Session", st.SessionID)
		fmt.Printf("%-10s %s\n", "Root", st.Root)
		fmt.Printf("%-10s %s\n", "Started", st.Started.Local().Format(time.DateTime))
		fmt.Printf("%-10s discovered=%d scanned=%d fixed=%d\n", "Progress",
			st.Progress.TotalDiscovered, st.Progress.Scanned, st.Progress.Fixed)
	}
	if st.Last != nil {
		fmt.Printf("%-10s %s %s in %s: scanned=%d fixed=%d",
			"Last", st.Last.SessionID, st.Last.State,
			st.Last.Finished.Sub(st.Last.Started).Round(time.Millisecond),
			st.Last.Progress.Scanned, st.Last.Progress.Fixed)
		if st.Last.Error != "" {
			fmt.Printf(" error=%q", st.Last.Error)
		}
		fmt.Println()
	}
	return nil
}
