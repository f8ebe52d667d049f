// Package resolver extracts capture timestamps from image metadata text and
// from file names.
//
// Resolution is pure: a Resolver holds only immutable configuration and can
// be shared by any number of goroutines.
package resolver

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rubiojr/timefix/internal/errmsg"
)

// ExifLayout is the date format used by EXIF DateTime* tags.
const ExifLayout = "2006:01:02 15:04:05"

// Strategy names the rule that produced a timestamp.
type Strategy string

const (
	StrategyExif     Strategy = "exif"
	StrategyAMPM     Strategy = "ampm"
	StrategyDateTime Strategy = "datetime"
	StrategyEpoch    Strategy = "epoch"
	StrategyCompact  Strategy = "compact"
	StrategyLoose    Strategy = "loose"
	StrategyYear     Strategy = "year"
)

var (
	// MinTime and MaxTime bound every accepted timestamp.
	MinTime = time.UnixMilli(0)
	MaxTime = time.UnixMilli(4102444800000) // 2100-01-01T00:00:00Z
)

type Resolver struct {
	loc *time.Location
	min time.Time
	max time.Time
}

type Option func(*Resolver)

// WithLocation sets the zone used to interpret wall-clock dates. Defaults to
// time.Local, matching how cameras record EXIF dates.
func WithLocation(loc *time.Location) Option {
	return func(r *Resolver) {
		r.loc = loc
	}
}

// WithBounds overrides the admissible timestamp range.
func WithBounds(min, max time.Time) Option {
	return func(r *Resolver) {
		r.min = min
		r.max = max
	}
}

func New(options ...Option) *Resolver {
	r := &Resolver{
		loc: time.Local,
		min: MinTime,
		max: MaxTime,
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// Metadata holds the raw EXIF date strings of a file. Empty fields are
// missing tags.
type Metadata struct {
	Original  string
	Digitized string
	Modified  string
}

func (m Metadata) Empty() bool {
	return m.Original == "" && m.Digitized == "" && m.Modified == ""
}

// ParseExif parses a "YYYY:MM:DD HH:MM:SS" string.
func (r *Resolver) ParseExif(s string) (time.Time, error) {
	s = strings.TrimSpace(strings.TrimRight(s, "\x00"))
	t, err := time.ParseInLocation(ExifLayout, s, r.loc)
	if err != nil {
		return time.Time{}, err
	}
	if !r.InRange(t) {
		return time.Time{}, fmt.Errorf("%s outside [%s, %s]", t.Format(time.DateTime), r.min.Format(time.DateOnly), r.max.Format(time.DateOnly))
	}
	return t, nil
}

// FromMetadata returns the first parsable field, trying the original capture
// date, then the digitized date, then the modification date. The returned
// error wraps errmsg.ErrNoDate and, when a tag was present but malformed,
// the parse failures.
func (r *Resolver) FromMetadata(m Metadata) (time.Time, error) {
	fields := []struct {
		name  string
		value string
	}{
		{"DateTimeOriginal", m.Original},
		{"DateTimeDigitized", m.Digitized},
		{"DateTime", m.Modified},
	}

	var errs []error
	for _, f := range fields {
		if strings.TrimSpace(strings.TrimRight(f.value, "\x00")) == "" {
			continue
		}
		t, err := r.ParseExif(f.value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %q: %w", f.name, f.value, err))
			continue
		}
		return t, nil
	}

	if len(errs) == 0 {
		return time.Time{}, errmsg.ErrNoDate
	}
	return time.Time{}, fmt.Errorf("%w: %w", errmsg.ErrNoDate, errors.Join(errs...))
}

// FromFilename applies the filename strategies in priority order and returns
// the first in-range timestamp. The extension, if any, is ignored.
func (r *Resolver) FromFilename(name string) (time.Time, Strategy, bool) {
	if name == "" {
		return time.Time{}, "", false
	}
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		name = name[:i]
	}

	for _, s := range strategies {
		for _, t := range s.candidates(r, name) {
			if r.InRange(t) {
				return t, s.name, true
			}
		}
	}
	return time.Time{}, "", false
}

// InRange reports whether t falls inside the admissible range.
func (r *Resolver) InRange(t time.Time) bool {
	return !t.Before(r.min) && !t.After(r.max)
}

// date builds a wall-clock time, rejecting out-of-range fields instead of
// normalizing them the way time.Date does.
func (r *Resolver) date(year, month, day, hour, minute, second int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 {
		return time.Time{}, false
	}
	if day > time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day() {
		return time.Time{}, false
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 || second < 0 || second > 59 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, hour, minute, second, 0, r.loc), true
}
