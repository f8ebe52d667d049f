package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/rubiojr/timefix/internal/config"
	"github.com/rubiojr/timefix/internal/crypto"
	"github.com/rubiojr/timefix/internal/events"
	natspub "github.com/rubiojr/timefix/internal/publish/nats"
)

func runListen(c *cli.Context) error {
	cfg, err := config.LoadConfigFromCLI(c)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	opts := []natspub.ListenerOption{
		natspub.WithConsumerName(c.String("consumer")),
		natspub.WithListenerLogger(logger),
	}
	if c.Bool("all") {
		opts = append(opts, natspub.WithDeliverAll())
	}
	if cfg.Nats.ClientKey != "" {
		opts = append(opts, natspub.WithListenerTLS(cfg.Nats.ClientCert, cfg.Nats.ClientKey, cfg.Nats.CACert))
	}
	if cfg.Nats.EncryptionKey != "" {
		m, err := crypto.New(cfg.Nats.EncryptionKey)
		if err != nil {
			return fmt.Errorf("invalid encryption key: %v", err)
		}
		opts = append(opts, natspub.WithListenerEncryption(m))
	}

	l := natspub.NewListener(cfg.Nats.URL, cfg.Nats.Stream, cfg.Nats.Subject, opts...)
	fmt.Printf("Listening for events on %s (stream %s)\n", cfg.Nats.URL, cfg.Nats.Stream)
	return l.Listen(c.Context, func(e events.Event) {
		fmt.Println(formatEvent(e))
	})
}

func runKeygen(c *cli.Context) error {
	pub, priv, err := crypto.GenerateAgeKeyPair()
	if err != nil {
		return err
	}
	fmt.Printf("# public key: %s\n", pub)
	fmt.Println(priv)
	return nil
}
