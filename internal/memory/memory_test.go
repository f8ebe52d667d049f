package memory

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rubiojr/timefix/internal/log"
	"github.com/rubiojr/timefix/internal/queue"
)

type fakeSampler struct {
	mu      sync.Mutex
	samples []Sample
	err     error
}

func (f *fakeSampler) set(available, total uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = []Sample{{Available: available, Total: total}}
}

func (f *fakeSampler) Sample(context.Context) (Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Sample{}, f.err
	}
	return f.samples[0], nil
}

func TestCheckTransitionsAreEdgeTriggered(t *testing.T) {
	var buf bytes.Buffer
	sampler := &fakeSampler{}
	freed := 0
	g := NewGovernor(WithSampler(sampler), WithLogger(log.New(&buf)))
	g.freeMemory = func() { freed++ }

	q := queue.New()
	for i := 0; i < 250; i++ {
		q.Push("f")
	}
	g.Attach(q)

	ctx := context.Background()
	sampler.set(50, 100)
	assert.False(t, g.Check(ctx))

	sampler.set(10, 100)
	assert.True(t, g.Check(ctx))
	assert.True(t, g.Check(ctx))
	assert.True(t, g.Constrained())
	assert.Equal(t, 1, freed)
	assert.Equal(t, DefaultTrimTo, q.Len())
	assert.Equal(t, 1, strings.Count(buf.String(), "low memory"))
	assert.Contains(t, buf.String(), "dropped 150 pending files")

	sampler.set(90, 100)
	assert.False(t, g.Check(ctx))
	assert.False(t, g.Check(ctx))
	assert.Equal(t, 1, strings.Count(buf.String(), "memory recovered"))
	assert.Equal(t, 1, freed)
}

func TestCheckKeepsStateOnSampleError(t *testing.T) {
	sampler := &fakeSampler{}
	g := NewGovernor(WithSampler(sampler))
	g.freeMemory = nil

	sampler.set(1, 100)
	assert.True(t, g.Check(context.Background()))

	sampler.err = errors.New("no procfs")
	assert.True(t, g.Check(context.Background()))
}

func TestThrottle(t *testing.T) {
	sampler := &fakeSampler{}
	g := NewGovernor(WithSampler(sampler), WithPause(20, 50*time.Millisecond))
	g.freeMemory = nil
	ctx := context.Background()

	start := time.Now()
	g.Throttle(ctx, 20)
	assert.Less(t, time.Since(start), 40*time.Millisecond)

	sampler.set(1, 100)
	g.Check(ctx)

	start = time.Now()
	g.Throttle(ctx, 19)
	assert.Less(t, time.Since(start), 40*time.Millisecond)

	start = time.Now()
	g.Throttle(ctx, 40)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	start = time.Now()
	g.Throttle(cancelled, 60)
	assert.Less(t, time.Since(start), 40*time.Millisecond)
}

func TestRunSamplesImmediately(t *testing.T) {
	sampler := &fakeSampler{}
	sampler.set(1, 100)
	g := NewGovernor(WithSampler(sampler), WithInterval(time.Hour))
	g.freeMemory = nil

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, g.Constrained, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestSampleRatio(t *testing.T) {
	assert.Equal(t, 1.0, Sample{}.Ratio())
	assert.InDelta(t, 0.25, Sample{Available: 1, Total: 4}.Ratio(), 0.0001)
}
