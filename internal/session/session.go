// Package session owns the lifecycle of a scan: it wires the walker, the
// worker pool, the memory governor and the progress aggregator together and
// exposes start, stop and status.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rubiojr/timefix/internal/cache"
	"github.com/rubiojr/timefix/internal/errmsg"
	"github.com/rubiojr/timefix/internal/events"
	"github.com/rubiojr/timefix/internal/fixer"
	"github.com/rubiojr/timefix/internal/log"
	"github.com/rubiojr/timefix/internal/memory"
	"github.com/rubiojr/timefix/internal/pool"
	"github.com/rubiojr/timefix/internal/progress"
	"github.com/rubiojr/timefix/internal/queue"
	"github.com/rubiojr/timefix/internal/scanner"
	"github.com/rubiojr/timefix/internal/types"
)

const DefaultBatchSize = 5

type State string

const (
	Idle       State = "idle"
	Scanning   State = "scanning"
	Completing State = "completing"
	Stopped    State = "stopped"
	Errored    State = "errored"
)

// Result describes how a session ended.
type Result struct {
	SessionID string         `json:"session_id"`
	Root      string         `json:"root"`
	State     State          `json:"state"`
	Progress  types.Progress `json:"progress"`
	Started   time.Time      `json:"started"`
	Finished  time.Time      `json:"finished"`
	Error     string         `json:"error,omitempty"`
	err       error
}

// Err is the session-level failure, if any.
func (r Result) Err() error {
	return r.err
}

// Status is a snapshot of the orchestrator.
type Status struct {
	State     State          `json:"state"`
	SessionID string         `json:"session_id,omitempty"`
	Root      string         `json:"root,omitempty"`
	Started   time.Time      `json:"started,omitempty"`
	Progress  types.Progress `json:"progress"`
	Last      *Result        `json:"last,omitempty"`
}

type statser interface {
	Stats() (hits, misses, additions int64)
}

type session struct {
	id       string
	root     string
	started  time.Time
	counters *types.Counters
	cancel   context.CancelFunc
	done     chan struct{}
	result   Result
}

type Orchestrator struct {
	publisher   events.Publisher
	logger      *log.Logger
	governor    *memory.Governor
	cache       cache.Cache
	defaultRoot string
	workers     int
	backlog     int
	batchSize   int
	scannerOpts []scanner.Option
	fixerOpts   []fixer.Option
	progOpts    []progress.Option

	mu      sync.Mutex
	state   State
	current *session
	last    *Result
}

type Option func(*Orchestrator)

func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) {
		o.publisher = p
	}
}

func WithLogger(l *log.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

func WithGovernor(g *memory.Governor) Option {
	return func(o *Orchestrator) {
		o.governor = g
	}
}

// WithCache shares a verified-file cache between sessions.
func WithCache(c cache.Cache) Option {
	return func(o *Orchestrator) {
		o.cache = c
	}
}

// WithDefaultRoot sets the root used when Start is given none.
func WithDefaultRoot(root string) Option {
	return func(o *Orchestrator) {
		o.defaultRoot = root
	}
}

func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		o.workers = n
	}
}

func WithBacklog(n int) Option {
	return func(o *Orchestrator) {
		o.backlog = n
	}
}

func WithBatchSize(n int) Option {
	return func(o *Orchestrator) {
		o.batchSize = n
	}
}

func WithScannerOptions(opts ...scanner.Option) Option {
	return func(o *Orchestrator) {
		o.scannerOpts = append(o.scannerOpts, opts...)
	}
}

func WithFixerOptions(opts ...fixer.Option) Option {
	return func(o *Orchestrator) {
		o.fixerOpts = append(o.fixerOpts, opts...)
	}
}

func WithProgressOptions(opts ...progress.Option) Option {
	return func(o *Orchestrator) {
		o.progOpts = append(o.progOpts, opts...)
	}
}

func New(options ...Option) *Orchestrator {
	o := &Orchestrator{
		publisher: events.Discard,
		logger:    log.Discard(),
		cache:     cache.NewNoopCache(),
		workers:   pool.DefaultWorkers(),
		backlog:   pool.DefaultBacklog,
		batchSize: DefaultBatchSize,
		state:     Idle,
	}
	for _, option := range options {
		option(o)
	}
	if o.governor == nil {
		o.governor = memory.NewGovernor(memory.WithLogger(o.logger))
	}
	if o.batchSize <= 0 {
		o.batchSize = DefaultBatchSize
	}
	return o
}

// StartScan starts a scan of the default root.
func (o *Orchestrator) StartScan() string {
	return o.Start(o.defaultRoot)
}

// Start launches a session scanning root and returns its id. While a scan
// is running it does nothing and returns the running session's id.
func (o *Orchestrator) Start(root string) string {
	id, _ := o.TryStart(root)
	return id
}

// TryStart is Start reporting errmsg.ErrAlreadyScanning, along with the
// running session's id, when it did nothing.
func (o *Orchestrator) TryStart(root string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == Scanning {
		o.logger.Debugf("scan %s already running", o.current.id)
		return o.current.id, errmsg.ErrAlreadyScanning
	}
	if root == "" {
		root = o.defaultRoot
	}

	prev := o.current
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:       uuid.NewString(),
		root:     root,
		started:  time.Now(),
		counters: &types.Counters{},
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	o.current = s
	o.setState(s, Scanning)

	go func() {
		// a stopped session may still be flushing
		if prev != nil {
			<-prev.done
		}
		o.run(ctx, s)
	}()
	return s.id, nil
}

// StopScan stops the running scan. In-flight files finish; nothing is rolled
// back. It reports whether a scan was running.
func (o *Orchestrator) StopScan() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != Scanning {
		return false
	}
	o.setState(o.current, Stopped)
	o.current.cancel()
	return true
}

// Wait blocks until the latest session ends, or ctx is done, and returns
// its result.
func (o *Orchestrator) Wait(ctx context.Context) (Result, error) {
	o.mu.Lock()
	s := o.current
	o.mu.Unlock()
	if s == nil {
		return Result{}, errors.New("no scan started")
	}

	select {
	case <-s.done:
		return s.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := Status{State: o.state, Last: o.last}
	if s := o.current; s != nil && o.state != Idle {
		st.SessionID = s.id
		st.Root = s.root
		st.Started = s.started
		st.Progress = s.counters.Snapshot()
	}
	return st
}

// setState must be called with o.mu held.
func (o *Orchestrator) setState(s *session, state State) {
	if o.state == state {
		return
	}
	o.logger.Debugf("scan %s: %s -> %s", s.id, o.state, state)
	o.state = state
}

func (o *Orchestrator) run(ctx context.Context, s *session) {
	defer close(s.done)
	defer s.cancel()

	logger := o.logger.With(func(level log.Level, msg string) {
		o.publisher.Publish(events.Event{
			Type:      events.Log,
			SessionID: s.id,
			Timestamp: time.Now().UTC(),
			Message:   msg,
			Level:     level.String(),
		})
	})

	agg := progress.New(o.publisher, s.counters,
		append([]progress.Option{progress.WithSessionID(s.id), progress.WithLogger(logger)}, o.progOpts...)...)

	q := queue.New()
	o.governor.Attach(q)
	defer o.governor.Attach(nil)

	govCtx, stopGovernor := context.WithCancel(ctx)
	defer stopGovernor()
	go o.governor.Run(govCtx)

	p := pool.NewPool(o.workers, o.backlog, logger)
	p.Start()

	fx := fixer.New(append([]fixer.Option{
		fixer.WithCounters(s.counters),
		fixer.WithSink(agg),
		fixer.WithThrottle(o.governor.Throttle),
		fixer.WithCache(o.cache),
		fixer.WithLogger(logger),
	}, o.fixerOpts...)...)

	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		o.dispatch(ctx, q, p, fx)
	}()

	logger.Printf("scanning %s", s.root)
	walker := scanner.NewDirectoryScanner(s.root, append([]scanner.Option{
		scanner.WithLogger(logger),
		scanner.WithQueue(q),
		scanner.WithCounters(s.counters),
		scanner.WithThrottle(o.governor.Throttle),
	}, o.scannerOpts...)...)

	discovered, walkErr := walker.ScanDirectory(ctx)
	q.Close()
	if walkErr != nil {
		s.cancel()
	} else {
		logger.Debugf("discovered %d files under %s", discovered, s.root)
	}

	<-dispatched
	p.Stop()
	final := agg.Finish()

	if st, ok := o.cache.(statser); ok {
		hits, misses, additions := st.Stats()
		logger.Debugf("cache: %d hits, %d misses, %d additions", hits, misses, additions)
	}

	s.result = Result{
		SessionID: s.id,
		Root:      s.root,
		Progress:  final,
		Started:   s.started,
		Finished:  time.Now(),
	}

	switch {
	case walkErr != nil:
		s.result.State = Errored
		s.result.Error = walkErr.Error()
		s.result.err = walkErr
		o.transition(s, Errored)
		logger.Errorf("scan failed: %v", walkErr)
		o.publisher.Publish(events.Event{
			Type:      events.Error,
			SessionID: s.id,
			Timestamp: time.Now().UTC(),
			Message:   walkErr.Error(),
		})
	case ctx.Err() != nil:
		s.result.State = Stopped
		logger.Printf("scan stopped: %d discovered, %d scanned, %d fixed",
			final.TotalDiscovered, final.Scanned, final.Fixed)
	default:
		s.result.State = Completing
		o.transition(s, Completing)
		logger.Printf("scan completed in %s: %d discovered, %d scanned, %d fixed",
			s.result.Finished.Sub(s.started).Round(time.Millisecond),
			final.TotalDiscovered, final.Scanned, final.Fixed)
		o.publisher.Publish(events.Event{
			Type:      events.Completed,
			SessionID: s.id,
			Timestamp: time.Now().UTC(),
			Progress:  final,
		})
	}

	o.mu.Lock()
	result := s.result
	o.last = &result
	if o.current == s {
		o.setState(s, Idle)
	}
	o.mu.Unlock()
}

// transition moves the current session to state unless it has been
// replaced or already stopped.
func (o *Orchestrator) transition(s *session, state State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == s && o.state == Scanning {
		o.setState(s, state)
	}
}

// dispatch feeds queued paths to the pool in batches until the queue is
// closed and drained, or ctx is done.
func (o *Orchestrator) dispatch(ctx context.Context, q *queue.Queue, p *pool.Pool, fx *fixer.Fixer) {
	for {
		if ctx.Err() != nil {
			return
		}

		batch, done := q.PopBatch(o.batchSize)
		if len(batch) > 0 {
			p.Submit(func() error {
				return fx.ProcessBatch(ctx, batch)
			})
			o.governor.Pause(ctx)
			continue
		}
		if done {
			return
		}

		select {
		case <-q.Ready():
		case <-q.Closed():
		case <-ctx.Done():
			return
		}
	}
}
