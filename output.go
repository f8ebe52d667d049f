package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rubiojr/timefix/internal/events"
	"github.com/rubiojr/timefix/internal/types"
)

// progressPrinter renders scan events on a terminal. On a TTY progress is
// redrawn on a single line; otherwise only outcomes and errors are printed.
type progressPrinter struct {
	out     io.Writer
	tty     bool
	verbose bool

	mu       sync.Mutex
	cond     *sync.Cond
	dirty    bool
	finished map[string]types.Progress
}

func newProgressPrinter(out io.Writer, tty, verbose bool) *progressPrinter {
	p := &progressPrinter{
		out:      out,
		tty:      tty,
		verbose:  verbose,
		finished: make(map[string]types.Progress),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *progressPrinter) handle(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.cond.Broadcast()

	switch e.Type {
	case events.Progress:
		p.finished[e.SessionID] = e.Progress
		if p.tty {
			fmt.Fprintf(p.out, "\rScanned %d/%d files, fixed %d", e.Progress.Scanned, e.Progress.TotalDiscovered, e.Progress.Fixed)
			p.dirty = true
		}
	case events.Outcomes:
		if !p.verbose {
			return
		}
		for _, o := range e.Outcomes {
			if !o.Fixed {
				continue
			}
			p.clearLine()
			fmt.Fprintln(p.out, formatOutcome(o))
		}
	case events.Error:
		p.clearLine()
		fmt.Fprintf(p.out, "scan failed: %s\n", e.Message)
	case events.Completed:
		p.clearLine()
	}
}

func (p *progressPrinter) clearLine() {
	if p.dirty {
		fmt.Fprintln(p.out)
		p.dirty = false
	}
}

// wait blocks until the final progress of session has been printed, or the
// timeout expires.
func (p *progressPrinter) wait(session string, final types.Progress, timeout time.Duration) {
	expired := false
	timer := time.AfterFunc(timeout, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		expired = true
		p.cond.Broadcast()
	})
	defer timer.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	for p.finished[session] != final && !expired {
		p.cond.Wait()
	}
	delete(p.finished, session)
	p.clearLine()
}

func formatOutcome(o types.FileOutcome) string {
	return fmt.Sprintf("fixed %s: %s -> %s (%s)", o.Path, o.OriginalTimeString(), o.FixedTimeString(), o.Message)
}

// formatEvent renders one event on a single line.
func formatEvent(e events.Event) string {
	ts := e.Timestamp.Local().Format(time.DateTime)
	switch e.Type {
	case events.Progress, events.Completed:
		return fmt.Sprintf("%s [%s] %s discovered=%d scanned=%d fixed=%d",
			ts, short(e.SessionID), e.Type, e.Progress.TotalDiscovered, e.Progress.Scanned, e.Progress.Fixed)
	case events.Outcomes:
		fixed := 0
		for _, o := range e.Outcomes {
			if o.Fixed {
				fixed++
			}
		}
		return fmt.Sprintf("%s [%s] %s files=%d fixed=%d", ts, short(e.SessionID), e.Type, len(e.Outcomes), fixed)
	case events.Log:
		return fmt.Sprintf("%s [%s] %s %s: %s", ts, short(e.SessionID), e.Type, e.Level, e.Message)
	default:
		return fmt.Sprintf("%s [%s] %s %s", ts, short(e.SessionID), e.Type, e.Message)
	}
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
