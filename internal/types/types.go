package types

import (
	"sync/atomic"
	"time"
)

// FileOutcome is the result of processing a single candidate file.
// Times are epoch milliseconds.
type FileOutcome struct {
	Path         string `msgpack:"path" json:"path"`
	OriginalTime int64  `msgpack:"original_time" json:"original_time"`
	FixedTime    int64  `msgpack:"fixed_time" json:"fixed_time"`
	Fixed        bool   `msgpack:"fixed" json:"fixed"`
	Message      string `msgpack:"message,omitempty" json:"message,omitempty"`
}

// OriginalTimeString formats the original modification time in local time.
func (o FileOutcome) OriginalTimeString() string {
	return time.UnixMilli(o.OriginalTime).Format(time.DateTime)
}

// FixedTimeString formats the fixed time, or "-" when the file was left alone.
func (o FileOutcome) FixedTimeString() string {
	if !o.Fixed {
		return "-"
	}
	return time.UnixMilli(o.FixedTime).Format(time.DateTime)
}

// Progress is a point-in-time copy of the scan counters.
type Progress struct {
	TotalDiscovered int64 `msgpack:"total_discovered" json:"total_discovered"`
	Scanned         int64 `msgpack:"scanned" json:"scanned"`
	Fixed           int64 `msgpack:"fixed" json:"fixed"`
}

// Counters are shared by the walker and every worker of a session.
type Counters struct {
	total   atomic.Int64
	scanned atomic.Int64
	fixed   atomic.Int64
}

func (c *Counters) IncTotal() int64   { return c.total.Add(1) }
func (c *Counters) IncScanned() int64 { return c.scanned.Add(1) }
func (c *Counters) IncFixed() int64   { return c.fixed.Add(1) }

func (c *Counters) Snapshot() Progress {
	return Progress{
		TotalDiscovered: c.total.Load(),
		Scanned:         c.scanned.Load(),
		Fixed:           c.fixed.Load(),
	}
}
