// Package nats carries scan events over NATS JetStream, encoded with
// MessagePack. Each event type gets its own subject below a common prefix,
// e.g. TIMEFIX.scan.progress. Payloads are optionally encrypted, flagged
// with an Encrypted header.
package nats

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/rubiojr/timefix/internal/crypto"
	"github.com/rubiojr/timefix/internal/errmsg"
	"github.com/rubiojr/timefix/internal/events"
	"github.com/rubiojr/timefix/internal/log"
)

const (
	DefaultURL     = "localhost:4222"
	DefaultStream  = "TIMEFIX"
	DefaultSubject = "TIMEFIX"

	encryptedHeader = "Encrypted"
)

type tlsConfig struct {
	clientCert string
	clientKey  string
	caCert     string
}

func (c tlsConfig) options() []nats.Option {
	if c.clientCert == "" {
		return nil
	}
	return []nats.Option{
		nats.ClientCert(c.clientCert, c.clientKey),
		nats.RootCAs(c.caCert),
	}
}

// Subject returns the subject an event of type t is published to.
func Subject(prefix string, t events.Type) string {
	return prefix + "." + string(t)
}

// Encode serializes an event for the wire.
func Encode(e events.Event) ([]byte, error) {
	return msgpack.Marshal(e)
}

// Decode is the inverse of Encode.
func Decode(data []byte) (events.Event, error) {
	var e events.Event
	err := msgpack.Unmarshal(data, &e)
	return e, err
}

// Publisher implements events.Publisher on top of JetStream.
type Publisher struct {
	nc       *nats.Conn
	js       nats.JetStreamContext
	stream   string
	subject  string
	maxAge   time.Duration
	tls      tlsConfig
	machine  crypto.Machine
	logger   *log.Logger
	failures atomic.Int64
}

type Option func(*Publisher)

func WithLogger(l *log.Logger) Option {
	return func(p *Publisher) {
		p.logger = l
	}
}

// WithMaxAge bounds how long events are kept in the stream.
func WithMaxAge(d time.Duration) Option {
	return func(p *Publisher) {
		p.maxAge = d
	}
}

// WithMutualTLS authenticates with a client certificate.
func WithMutualTLS(cert, key, ca string) Option {
	return func(p *Publisher) {
		p.tls = tlsConfig{clientCert: cert, clientKey: key, caCert: ca}
	}
}

// WithEncryption seals every payload with m.
func WithEncryption(m crypto.Machine) Option {
	return func(p *Publisher) {
		p.machine = m
	}
}

// NewPublisher connects to url and creates the stream if it does not exist.
func NewPublisher(url, stream, subject string, opts ...Option) (*Publisher, error) {
	p := &Publisher{
		stream:  stream,
		subject: subject,
		maxAge:  24 * time.Hour,
		logger:  log.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}

	nc, err := nats.Connect(url, p.tls.options()...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	if _, err := js.StreamInfo(stream); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      stream,
			Subjects:  []string{subject + ".>"},
			Storage:   nats.FileStorage,
			Discard:   nats.DiscardOld,
			Retention: nats.LimitsPolicy,
			MaxMsgs:   -1,
			MaxBytes:  -1,
			MaxAge:    p.maxAge,
			Replicas:  1,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create stream: %w", err)
		}
	}

	p.nc = nc
	p.js = js
	return p, nil
}

// Publish sends e and waits for the stream to store it. Failures are logged
// and counted, never returned: events are advisory for the scan.
func (p *Publisher) Publish(e events.Event) {
	if err := p.publish(e); err != nil {
		p.failures.Add(1)
		p.logger.Warnf("%v", err)
	}
}

func (p *Publisher) publish(e events.Event) error {
	data, err := Encode(e)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %v", e.Type, err)
	}

	msg := &nats.Msg{Subject: Subject(p.subject, e.Type), Header: nats.Header{}}
	if p.machine != nil {
		data, err = p.machine.Encrypt(data)
		if err != nil {
			return fmt.Errorf("failed to encrypt %s event: %v", e.Type, err)
		}
		msg.Header.Set(encryptedHeader, "true")
	}
	msg.Data = data

	if _, err := p.js.PublishMsg(msg); err != nil {
		return fmt.Errorf("%w: %s event: %v", errmsg.ErrPublishFailed, e.Type, err)
	}
	return nil
}

// Failures is the number of events that could not be published.
func (p *Publisher) Failures() int64 {
	return p.failures.Load()
}

func (p *Publisher) Close() {
	if p.nc != nil && !p.nc.IsClosed() {
		p.nc.Close()
	}
}

// Listener pulls events from the stream with a durable consumer.
type Listener struct {
	url        string
	stream     string
	subject    string
	consumer   string
	deliverAll bool
	tls        tlsConfig
	machine    crypto.Machine
	logger     *log.Logger
}

type ListenerOption func(*Listener)

func WithConsumerName(name string) ListenerOption {
	return func(l *Listener) {
		l.consumer = name
	}
}

// WithDeliverAll replays the events already in the stream.
func WithDeliverAll() ListenerOption {
	return func(l *Listener) {
		l.deliverAll = true
	}
}

func WithListenerTLS(cert, key, ca string) ListenerOption {
	return func(l *Listener) {
		l.tls = tlsConfig{clientCert: cert, clientKey: key, caCert: ca}
	}
}

// WithListenerEncryption opens payloads flagged as encrypted.
func WithListenerEncryption(m crypto.Machine) ListenerOption {
	return func(l *Listener) {
		l.machine = m
	}
}

func WithListenerLogger(logger *log.Logger) ListenerOption {
	return func(l *Listener) {
		l.logger = logger
	}
}

func NewListener(url, stream, subject string, options ...ListenerOption) *Listener {
	l := &Listener{
		url:      url,
		stream:   stream,
		subject:  subject,
		consumer: "timefix-listener",
		logger:   log.Discard(),
	}
	for _, option := range options {
		option(l)
	}
	return l
}

// Listen calls handler for every event until ctx is done.
func (l *Listener) Listen(ctx context.Context, handler func(events.Event)) error {
	nc, err := nats.Connect(l.url, l.tls.options()...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}

	if _, err := js.StreamInfo(l.stream); err != nil {
		return fmt.Errorf("failed to find stream %s: %w", l.stream, err)
	}

	deliver := nats.DeliverNew()
	if l.deliverAll {
		deliver = nats.DeliverAll()
	}
	sub, err := js.PullSubscribe(
		l.subject+".>",
		l.consumer,
		nats.BindStream(l.stream),
		nats.AckExplicit(),
		deliver,
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		if ctx.Err() != nil {
			return nil
		}

		messages, err := sub.Fetch(10, nats.MaxWait(time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, nats.ErrConnectionClosed) {
				return err
			}
			l.logger.Errorf("error fetching events: %v", err)
			continue
		}

		for _, msg := range messages {
			e, err := l.decode(msg)
			if err != nil {
				l.logger.Errorf("failed to unmarshal event on %s: %v", msg.Subject, err)
				msg.Term()
				continue
			}
			handler(e)
			msg.Ack()
		}
	}
}

func (l *Listener) decode(msg *nats.Msg) (events.Event, error) {
	data := msg.Data
	if msg.Header.Get(encryptedHeader) == "true" {
		if l.machine == nil {
			return events.Event{}, errors.New("encrypted event and no encryption key")
		}
		var err error
		if data, err = l.machine.Decrypt(data); err != nil {
			return events.Event{}, fmt.Errorf("failed to decrypt: %w", err)
		}
	}
	return Decode(data)
}
