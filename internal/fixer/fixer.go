// Package fixer corrects the modification time of a single image file.
package fixer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rubiojr/timefix/internal/cache"
	"github.com/rubiojr/timefix/internal/errmsg"
	"github.com/rubiojr/timefix/internal/log"
	"github.com/rubiojr/timefix/internal/metadata"
	"github.com/rubiojr/timefix/internal/resolver"
	"github.com/rubiojr/timefix/internal/types"
)

const (
	DefaultMaxFileSize = 100 * 1024 * 1024
	DefaultTolerance   = time.Second
)

// Sink receives each outcome and is told when the counters moved.
type Sink interface {
	Record(types.FileOutcome)
	UpdateProgress()
}

type ThrottleFunc func(ctx context.Context, processed int64)

type nopSink struct{}

func (nopSink) Record(types.FileOutcome) {}
func (nopSink) UpdateProgress()          {}

type Fixer struct {
	resolver    *resolver.Resolver
	reader      metadata.Reader
	counters    *types.Counters
	sink        Sink
	throttle    ThrottleFunc
	cache       cache.Cache
	maxFileSize int64
	tolerance   time.Duration
	logger      *log.Logger
}

type Option func(*Fixer)

func WithResolver(r *resolver.Resolver) Option {
	return func(f *Fixer) {
		f.resolver = r
	}
}

func WithMetadataReader(r metadata.Reader) Option {
	return func(f *Fixer) {
		f.reader = r
	}
}

func WithCounters(c *types.Counters) Option {
	return func(f *Fixer) {
		f.counters = c
	}
}

func WithSink(s Sink) Option {
	return func(f *Fixer) {
		f.sink = s
	}
}

func WithThrottle(t ThrottleFunc) Option {
	return func(f *Fixer) {
		f.throttle = t
	}
}

func WithCache(c cache.Cache) Option {
	return func(f *Fixer) {
		f.cache = c
	}
}

func WithMaxFileSize(size int64) Option {
	return func(f *Fixer) {
		f.maxFileSize = size
	}
}

func WithTolerance(d time.Duration) Option {
	return func(f *Fixer) {
		f.tolerance = d
	}
}

func WithLogger(l *log.Logger) Option {
	return func(f *Fixer) {
		f.logger = l
	}
}

func New(options ...Option) *Fixer {
	f := &Fixer{
		resolver:    resolver.New(),
		reader:      metadata.NewExifReader(),
		counters:    &types.Counters{},
		sink:        nopSink{},
		cache:       cache.NewNoopCache(),
		maxFileSize: DefaultMaxFileSize,
		tolerance:   DefaultTolerance,
		logger:      log.Discard(),
	}
	for _, option := range options {
		option(f)
	}
	return f
}

// ProcessBatch processes paths in order. It stops before the next file once
// ctx is done and returns ctx.Err(); per-file failures never stop the batch.
func (f *Fixer) ProcessBatch(ctx context.Context, paths []string) error {
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		f.ProcessFile(ctx, path)
	}
	return nil
}

// ProcessFile corrects a single file and returns its outcome. The scanned
// counter is incremented exactly once, the fixed counter only when the
// modification time was rewritten. Panics are recovered into an unfixed
// outcome.
func (f *Fixer) ProcessFile(ctx context.Context, path string) (outcome types.FileOutcome) {
	outcome.Path = path

	defer func() {
		if r := recover(); r != nil {
			f.logger.Errorf("failed processing %s: %v", path, r)
			outcome.Fixed = false
			outcome.FixedTime = 0
			outcome.Message = fmt.Sprintf("error: %v", r)
		}

		n := f.counters.IncScanned()
		if outcome.Fixed {
			f.counters.IncFixed()
		}
		f.sink.Record(outcome)
		f.sink.UpdateProgress()
		if f.throttle != nil {
			f.throttle(ctx, n)
		}
	}()

	if err := f.fix(path, &outcome); err != nil {
		f.logger.Warnf("failed processing %s: %v", path, err)
		outcome.Fixed = false
		outcome.FixedTime = 0
		outcome.Message = err.Error()
	}
	return outcome
}

func (f *Fixer) fix(path string, outcome *types.FileOutcome) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s", errmsg.ErrNotRegularFile, path)
	}
	current := info.ModTime()
	outcome.OriginalTime = current.UnixMilli()

	if info.Size() > f.maxFileSize {
		return fmt.Errorf("%w: %s exceeds %s", errmsg.ErrFileTooLarge,
			humanize.IBytes(uint64(info.Size())), humanize.IBytes(uint64(f.maxFileSize)))
	}

	if f.cache.IsVerified(path, info) {
		f.logger.Debugf("%s verified earlier, skipping", path)
		outcome.FixedTime = outcome.OriginalTime
		outcome.Message = "verified earlier"
		return nil
	}

	resolved, source, ok := f.resolve(path)
	if !ok {
		f.logger.Debugf("no date found for %s", path)
		outcome.Message = errmsg.ErrNoDate.Error()
		return nil
	}

	diff := resolved.Sub(current)
	if diff < 0 {
		diff = -diff
	}
	if diff <= f.tolerance {
		outcome.FixedTime = outcome.OriginalTime
		outcome.Message = fmt.Sprintf("already correct (%s)", source)
		f.cache.MarkVerified(path, info)
		return nil
	}

	// A zero access time leaves it unchanged.
	if err := os.Chtimes(path, time.Time{}, resolved); err != nil {
		return fmt.Errorf("setting modification time: %w", err)
	}

	outcome.Fixed = true
	outcome.FixedTime = resolved.UnixMilli()
	outcome.Message = fmt.Sprintf("%s %s", source, resolved.Format(time.DateTime))
	f.logger.Printf("fixed %s: %s -> %s (%s)", path,
		current.Format(time.DateTime), resolved.Format(time.DateTime), source)

	if fixed, err := os.Stat(path); err == nil {
		f.cache.MarkVerified(path, fixed)
	}
	return nil
}

// resolve prefers the EXIF dates and falls back to the file name. The source
// tag is "exif" or "filename:<strategy>".
func (f *Fixer) resolve(path string) (time.Time, string, bool) {
	md, err := f.reader.Read(path)
	if err != nil {
		f.logger.Debugf("reading metadata of %s: %v", path, err)
	} else if !md.Empty() {
		t, err := f.resolver.FromMetadata(md)
		if err == nil {
			return t, "exif", true
		}
		f.logger.Warnf("unusable metadata date in %s: %v", path, err)
	}

	t, strategy, ok := f.resolver.FromFilename(filepath.Base(path))
	if !ok {
		return time.Time{}, "", false
	}
	return t, "filename:" + string(strategy), true
}
