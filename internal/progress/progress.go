// Package progress coalesces scan counters and per-file outcomes into
// rate-limited events.
package progress

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/rubiojr/timefix/internal/events"
	"github.com/rubiojr/timefix/internal/log"
	"github.com/rubiojr/timefix/internal/types"
)

const (
	DefaultInterval         = time.Second
	DefaultMinScannedDelta  = 10
	DefaultMinFixedDelta    = 5
	DefaultOutcomeBatchSize = 10
)

// Aggregator publishes progress at most once per interval, and only after a
// meaningful change in the counters. Outcomes are buffered and published in
// batches, or after interval when the batch does not fill. Finish publishes
// whatever is left.
type Aggregator struct {
	publisher  events.Publisher
	counters   *types.Counters
	sessionID  string
	interval   time.Duration
	minScanned int64
	minFixed   int64
	batchSize  int
	logger     *log.Logger

	// held while publishing so events leave in order
	pubMu  sync.Mutex
	closed atomic.Bool

	progMu    sync.Mutex
	limiter   *rate.Limiter
	last      types.Progress
	progTimer *time.Timer

	outMu      sync.Mutex
	buffer     []types.FileOutcome
	flushTimer *time.Timer
}

type Option func(*Aggregator)

func WithInterval(d time.Duration) Option {
	return func(a *Aggregator) {
		a.interval = d
	}
}

// WithDeltas sets how much scanned or fixed must grow before progress is
// worth publishing.
func WithDeltas(scanned, fixed int64) Option {
	return func(a *Aggregator) {
		a.minScanned = scanned
		a.minFixed = fixed
	}
}

func WithBatchSize(n int) Option {
	return func(a *Aggregator) {
		a.batchSize = n
	}
}

func WithSessionID(id string) Option {
	return func(a *Aggregator) {
		a.sessionID = id
	}
}

func WithLogger(l *log.Logger) Option {
	return func(a *Aggregator) {
		a.logger = l
	}
}

func New(publisher events.Publisher, counters *types.Counters, options ...Option) *Aggregator {
	a := &Aggregator{
		publisher:  publisher,
		counters:   counters,
		interval:   DefaultInterval,
		minScanned: DefaultMinScannedDelta,
		minFixed:   DefaultMinFixedDelta,
		batchSize:  DefaultOutcomeBatchSize,
		logger:     log.Discard(),
	}
	for _, option := range options {
		option(a)
	}
	if a.batchSize <= 0 {
		a.batchSize = DefaultOutcomeBatchSize
	}
	a.limiter = rate.NewLimiter(rate.Every(a.interval), 1)
	return a
}

// UpdateProgress is called whenever the counters change. It publishes now,
// schedules a single delayed publish, or does nothing.
func (a *Aggregator) UpdateProgress() {
	if a.closed.Load() {
		return
	}

	a.progMu.Lock()
	if !a.meaningful(a.counters.Snapshot()) || a.progTimer != nil {
		a.progMu.Unlock()
		return
	}
	if wait := a.wait(time.Now()); wait > 0 {
		a.progTimer = time.AfterFunc(wait, a.publishDelayedProgress)
		a.progMu.Unlock()
		return
	}
	a.progMu.Unlock()

	a.publishProgress()
}

// meaningful must be called with progMu held.
func (a *Aggregator) meaningful(snap types.Progress) bool {
	return snap.Scanned-a.last.Scanned >= a.minScanned || snap.Fixed-a.last.Fixed >= a.minFixed
}

// wait is how long until the limiter allows another publish.
func (a *Aggregator) wait(now time.Time) time.Duration {
	missing := 1 - a.limiter.TokensAt(now)
	if missing <= 0 {
		return 0
	}
	return max(time.Duration(missing*float64(a.interval)), time.Millisecond)
}

func (a *Aggregator) publishDelayedProgress() {
	a.progMu.Lock()
	a.progTimer = nil
	a.progMu.Unlock()
	a.publishProgress()
}

// publishProgress charges the limiter at the instant of publishing, with
// pubMu held, and stamps the event with that instant. A caller that waited
// on pubMu past its slot re-arms the pending timer instead.
func (a *Aggregator) publishProgress() {
	a.pubMu.Lock()
	defer a.pubMu.Unlock()
	if a.closed.Load() {
		return
	}

	now := time.Now()
	// Read the counters only now, so a delayed publish reports the latest
	// values rather than those that triggered it.
	snap := a.counters.Snapshot()

	a.progMu.Lock()
	if !a.meaningful(snap) {
		a.progMu.Unlock()
		return
	}
	if !a.limiter.AllowN(now, 1) {
		if a.progTimer == nil {
			a.progTimer = time.AfterFunc(a.wait(now), a.publishDelayedProgress)
		}
		a.progMu.Unlock()
		return
	}
	a.last = snap
	a.progMu.Unlock()

	a.publishAt(events.Event{Type: events.Progress, Progress: snap}, now)
}

// Record buffers an outcome. Outcomes recorded after Finish are dropped.
func (a *Aggregator) Record(o types.FileOutcome) {
	if a.closed.Load() {
		a.logger.Debugf("dropping outcome for %s, session finished", o.Path)
		return
	}

	a.outMu.Lock()
	a.buffer = append(a.buffer, o)
	full := len(a.buffer) >= a.batchSize
	if !full && a.flushTimer == nil {
		a.flushTimer = time.AfterFunc(a.interval, a.scheduledFlush)
	}
	a.outMu.Unlock()

	if full {
		a.flushOutcomes(false)
	}
}

func (a *Aggregator) scheduledFlush() {
	a.outMu.Lock()
	a.flushTimer = nil
	a.outMu.Unlock()
	a.flushOutcomes(false)
}

func (a *Aggregator) flushOutcomes(final bool) {
	a.pubMu.Lock()
	defer a.pubMu.Unlock()
	if !final && a.closed.Load() {
		return
	}

	a.outMu.Lock()
	batch := a.buffer
	a.buffer = nil
	a.outMu.Unlock()

	if len(batch) == 0 {
		return
	}
	a.publish(events.Event{Type: events.Outcomes, Outcomes: batch})
}

// Finish stops every pending publish, flushes the buffered outcomes and
// publishes the final counters. It returns those counters. Calling it more
// than once publishes nothing new.
func (a *Aggregator) Finish() types.Progress {
	snap := a.counters.Snapshot()
	if a.closed.Swap(true) {
		return snap
	}

	a.progMu.Lock()
	if a.progTimer != nil {
		a.progTimer.Stop()
		a.progTimer = nil
	}
	a.progMu.Unlock()

	a.outMu.Lock()
	if a.flushTimer != nil {
		a.flushTimer.Stop()
		a.flushTimer = nil
	}
	a.outMu.Unlock()

	a.flushOutcomes(true)

	a.pubMu.Lock()
	defer a.pubMu.Unlock()
	snap = a.counters.Snapshot()
	a.publish(events.Event{Type: events.Progress, Progress: snap})
	return snap
}

func (a *Aggregator) publish(e events.Event) {
	a.publishAt(e, time.Now())
}

func (a *Aggregator) publishAt(e events.Event, ts time.Time) {
	e.SessionID = a.sessionID
	e.Timestamp = ts.UTC()
	a.publisher.Publish(e)
}
