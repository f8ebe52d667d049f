// Package memory watches host memory and throttles a scan when it runs low.
package memory

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/rubiojr/timefix/internal/log"
)

const (
	DefaultInterval   = 5 * time.Second
	DefaultThreshold  = 0.15
	DefaultTrimTo     = 100
	DefaultPauseEvery = 20
	DefaultPause      = 100 * time.Millisecond
)

// Sample is one reading of host memory.
type Sample struct {
	Available uint64
	Total     uint64
}

// Ratio is the available fraction of total memory, 1 when unknown.
func (s Sample) Ratio() float64 {
	if s.Total == 0 {
		return 1
	}
	return float64(s.Available) / float64(s.Total)
}

type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
}

// VirtualMemorySampler reads host memory through gopsutil.
type VirtualMemorySampler struct{}

func (VirtualMemorySampler) Sample(ctx context.Context) (Sample, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Sample{}, err
	}
	return Sample{Available: vm.Available, Total: vm.Total}, nil
}

// Trimmer is a queue that can shed pending work.
type Trimmer interface {
	Trim(max int) int
}

// Governor samples memory periodically. Below the threshold it enters
// constrained mode: it releases memory to the OS, trims the attached queue
// and makes Throttle pause. Transitions are logged once per edge.
type Governor struct {
	sampler    Sampler
	interval   time.Duration
	threshold  float64
	trimTo     int
	pauseEvery int64
	pause      time.Duration
	logger     *log.Logger
	freeMemory func()

	mu          sync.Mutex
	trimmer     Trimmer
	constrained atomic.Bool
}

type Option func(*Governor)

func WithSampler(s Sampler) Option {
	return func(g *Governor) {
		g.sampler = s
	}
}

func WithInterval(d time.Duration) Option {
	return func(g *Governor) {
		g.interval = d
	}
}

// WithThreshold sets the available-memory ratio under which the governor
// is constrained.
func WithThreshold(ratio float64) Option {
	return func(g *Governor) {
		g.threshold = ratio
	}
}

func WithTrimTo(n int) Option {
	return func(g *Governor) {
		g.trimTo = n
	}
}

// WithPause makes Throttle sleep for d every n items while constrained.
func WithPause(n int64, d time.Duration) Option {
	return func(g *Governor) {
		g.pauseEvery = n
		g.pause = d
	}
}

func WithLogger(l *log.Logger) Option {
	return func(g *Governor) {
		g.logger = l
	}
}

func NewGovernor(options ...Option) *Governor {
	g := &Governor{
		sampler:    VirtualMemorySampler{},
		interval:   DefaultInterval,
		threshold:  DefaultThreshold,
		trimTo:     DefaultTrimTo,
		pauseEvery: DefaultPauseEvery,
		pause:      DefaultPause,
		logger:     log.Discard(),
		freeMemory: debug.FreeOSMemory,
	}
	for _, option := range options {
		option(g)
	}
	return g
}

// Attach sets the queue trimmed on entering constrained mode. nil detaches.
func (g *Governor) Attach(t Trimmer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.trimmer = t
}

// Run samples immediately and then every interval until ctx is done.
func (g *Governor) Run(ctx context.Context) {
	g.Check(ctx)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Check(ctx)
		}
	}
}

// Check takes one sample, handles any transition and reports whether the
// governor is constrained. A failed sample leaves the state unchanged.
func (g *Governor) Check(ctx context.Context) bool {
	s, err := g.sampler.Sample(ctx)
	if err != nil {
		g.logger.Debugf("memory sample failed: %v", err)
		return g.constrained.Load()
	}

	low := s.Ratio() < g.threshold
	if low == g.constrained.Load() {
		return low
	}
	g.constrained.Store(low)

	if low {
		g.logger.Warnf("low memory: %s of %s available (%.1f%%), throttling",
			humanize.IBytes(s.Available), humanize.IBytes(s.Total), s.Ratio()*100)
		g.optimize()
	} else {
		g.logger.Printf("memory recovered: %s of %s available (%.1f%%)",
			humanize.IBytes(s.Available), humanize.IBytes(s.Total), s.Ratio()*100)
	}
	return low
}

func (g *Governor) optimize() {
	if g.freeMemory != nil {
		g.freeMemory()
	}

	g.mu.Lock()
	t := g.trimmer
	g.mu.Unlock()
	if t == nil {
		return
	}
	if dropped := t.Trim(g.trimTo); dropped > 0 {
		g.logger.Warnf("dropped %d pending files to free memory", dropped)
	}
}

func (g *Governor) Constrained() bool {
	return g.constrained.Load()
}

// Throttle pauses the caller every pauseEvery items while constrained. It
// returns early when ctx is done.
func (g *Governor) Throttle(ctx context.Context, n int64) {
	if g.pauseEvery <= 0 || n <= 0 || n%g.pauseEvery != 0 {
		return
	}
	g.Pause(ctx)
}

// Pause sleeps for the configured pause while constrained.
func (g *Governor) Pause(ctx context.Context) {
	if !g.constrained.Load() {
		return
	}
	t := time.NewTimer(g.pause)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
