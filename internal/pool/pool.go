package pool

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rubiojr/timefix/internal/log"
)

// DefaultBacklog is how many submitted tasks may wait for a free worker
// before Submit runs the task on the caller's goroutine.
const DefaultBacklog = 100

type Task struct {
	ID   int64
	Func func() error
}

type Pool struct {
	Tasks       chan Task
	NumWorkers  int
	WorkerGroup sync.WaitGroup
	logger      *log.Logger
	lastID      atomic.Int64
	inline      atomic.Int64
}

// DefaultWorkers is min(4, available CPUs).
func DefaultWorkers() int {
	return min(4, runtime.NumCPU())
}

func NewPool(numWorkers, backlog int, logger *log.Logger) *Pool {
	if numWorkers <= 0 {
		numWorkers = DefaultWorkers()
	}
	if backlog < 0 {
		backlog = DefaultBacklog
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Pool{
		Tasks:      make(chan Task, backlog),
		NumWorkers: numWorkers,
		logger:     logger,
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.NumWorkers; i++ {
		p.WorkerGroup.Add(1)
		go func(workerID int) {
			defer p.WorkerGroup.Done()
			for task := range p.Tasks {
				p.run(workerID, task)
			}
		}(i)
	}
}

// Stop waits for every submitted task to finish. Submit must not be called
// afterwards.
func (p *Pool) Stop() {
	close(p.Tasks)
	p.WorkerGroup.Wait()
}

// Submit queues f. When the backlog is full f runs on the caller's goroutine,
// so work is never dropped and memory stays bounded.
func (p *Pool) Submit(f func() error) {
	t := Task{
		Func: f,
		ID:   p.lastID.Add(1),
	}
	select {
	case p.Tasks <- t:
	default:
		p.inline.Add(1)
		p.run(-1, t)
	}
}

// InlineRuns reports how many tasks ran on the submitter's goroutine.
func (p *Pool) InlineRuns() int64 {
	return p.inline.Load()
}

func (p *Pool) run(workerID int, task Task) {
	if err := task.Func(); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		p.logger.Errorf("Worker %d failed to process task %d: %v", workerID, task.ID, err)
	}
}
