package fixer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rubiojr/timefix/internal/cache"
	"github.com/rubiojr/timefix/internal/resolver"
	"github.com/rubiojr/timefix/internal/types"
)

type recordingSink struct {
	mu       sync.Mutex
	outcomes []types.FileOutcome
	updates  int
}

func (s *recordingSink) Record(o types.FileOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
}

func (s *recordingSink) UpdateProgress() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
}

type fakeReader struct {
	md    resolver.Metadata
	panic bool
}

func (r fakeReader) Read(string) (resolver.Metadata, error) {
	if r.panic {
		panic("corrupt image")
	}
	return r.md, nil
}

func touch(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func mtime(t *testing.T, path string) time.Time {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	return info.ModTime()
}

func newFixer(counters *types.Counters, sink Sink, options ...Option) *Fixer {
	base := []Option{
		WithResolver(resolver.New(resolver.WithLocation(time.UTC))),
		WithCounters(counters),
		WithSink(sink),
	}
	return New(append(base, options...)...)
}

func TestProcessFileFromFilename(t *testing.T) {
	dir := t.TempDir()
	path := touch(t, dir, "IMG_20230101_123045.jpg", 4)

	counters := &types.Counters{}
	sink := &recordingSink{}
	o := newFixer(counters, sink).ProcessFile(context.Background(), path)

	want := time.Date(2023, 1, 1, 12, 30, 45, 0, time.UTC)
	assert.True(t, o.Fixed)
	assert.Equal(t, want.UnixMilli(), o.FixedTime)
	assert.Contains(t, o.Message, "filename:compact")
	assert.True(t, mtime(t, path).Equal(want))

	assert.Equal(t, types.Progress{Scanned: 1, Fixed: 1}, counters.Snapshot())
	assert.Len(t, sink.outcomes, 1)
	assert.Equal(t, 1, sink.updates)
}

func TestProcessFilePrefersExif(t *testing.T) {
	dir := t.TempDir()
	path := touch(t, dir, "IMG_20230101_123045.jpg", 4)

	reader := fakeReader{md: resolver.Metadata{Original: "2020:05:06 07:08:09"}}
	o := newFixer(&types.Counters{}, &recordingSink{}, WithMetadataReader(reader)).
		ProcessFile(context.Background(), path)

	assert.True(t, o.Fixed)
	assert.Equal(t, time.Date(2020, 5, 6, 7, 8, 9, 0, time.UTC).UnixMilli(), o.FixedTime)
	assert.Contains(t, o.Message, "exif")
}

func TestProcessFileMalformedExifFallsBack(t *testing.T) {
	dir := t.TempDir()
	path := touch(t, dir, "IMG_20230101_123045.jpg", 4)

	reader := fakeReader{md: resolver.Metadata{Original: "garbage"}}
	o := newFixer(&types.Counters{}, &recordingSink{}, WithMetadataReader(reader)).
		ProcessFile(context.Background(), path)

	assert.True(t, o.Fixed)
	assert.Contains(t, o.Message, "filename:")
}

func TestProcessFileNoDate(t *testing.T) {
	dir := t.TempDir()
	path := touch(t, dir, "random_file_name.jpg", 4)
	before := mtime(t, path)

	counters := &types.Counters{}
	o := newFixer(counters, &recordingSink{}).ProcessFile(context.Background(), path)

	assert.False(t, o.Fixed)
	assert.Equal(t, int64(0), o.FixedTime)
	assert.Equal(t, before.UnixMilli(), o.OriginalTime)
	assert.Equal(t, types.Progress{Scanned: 1}, counters.Snapshot())
}

func TestProcessFileTooLarge(t *testing.T) {
	dir := t.TempDir()
	path := touch(t, dir, "IMG_20230101_123045.jpg", 64)
	before := mtime(t, path)

	counters := &types.Counters{}
	o := newFixer(counters, &recordingSink{}, WithMaxFileSize(10)).
		ProcessFile(context.Background(), path)

	assert.False(t, o.Fixed)
	assert.Contains(t, o.Message, "file too large")
	assert.True(t, mtime(t, path).Equal(before))
	assert.Equal(t, types.Progress{Scanned: 1}, counters.Snapshot())
}

func TestProcessFileMissing(t *testing.T) {
	counters := &types.Counters{}
	o := newFixer(counters, &recordingSink{}).
		ProcessFile(context.Background(), filepath.Join(t.TempDir(), "IMG_20230101_123045.jpg"))

	assert.False(t, o.Fixed)
	assert.NotEmpty(t, o.Message)
	assert.Equal(t, types.Progress{Scanned: 1}, counters.Snapshot())
}

func TestProcessFilePanicIsCounted(t *testing.T) {
	dir := t.TempDir()
	path := touch(t, dir, "IMG_20230101_123045.jpg", 4)

	counters := &types.Counters{}
	sink := &recordingSink{}
	o := newFixer(counters, sink, WithMetadataReader(fakeReader{panic: true})).
		ProcessFile(context.Background(), path)

	assert.False(t, o.Fixed)
	assert.Contains(t, o.Message, "corrupt image")
	assert.Equal(t, types.Progress{Scanned: 1}, counters.Snapshot())
	assert.Len(t, sink.outcomes, 1)
}

func TestSecondPassFixesNothing(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		touch(t, dir, "IMG_20230101_123045.jpg", 4),
		touch(t, dir, "Screenshot_2021-07-04-10-11-12.png", 4),
		touch(t, dir, "1600000000123.jpg", 4),
		touch(t, dir, "random.jpg", 4),
	}

	first := &types.Counters{}
	require.NoError(t, newFixer(first, &recordingSink{}).ProcessBatch(context.Background(), paths))
	assert.Equal(t, int64(4), first.Snapshot().Scanned)
	assert.Equal(t, int64(3), first.Snapshot().Fixed)

	second := &types.Counters{}
	sink := &recordingSink{}
	require.NoError(t, newFixer(second, sink).ProcessBatch(context.Background(), paths))
	assert.Equal(t, int64(4), second.Snapshot().Scanned)
	assert.Equal(t, int64(0), second.Snapshot().Fixed)
	for _, o := range sink.outcomes {
		assert.False(t, o.Fixed, o.Path)
	}
}

func TestVerifiedCacheSkipsResolution(t *testing.T) {
	dir := t.TempDir()
	path := touch(t, dir, "IMG_20230101_123045.jpg", 4)
	fc := cache.NewFileCache(1)

	newFixer(&types.Counters{}, &recordingSink{}, WithCache(fc)).ProcessFile(context.Background(), path)

	o := newFixer(&types.Counters{}, &recordingSink{}, WithCache(fc), WithMetadataReader(fakeReader{panic: true})).
		ProcessFile(context.Background(), path)
	assert.False(t, o.Fixed)
	assert.Equal(t, "verified earlier", o.Message)
}

func TestProcessBatchStopsWhenCancelled(t *testing.T) {
	dir := t.TempDir()
	paths := []string{touch(t, dir, "a.jpg", 1), touch(t, dir, "b.jpg", 1)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	counters := &types.Counters{}
	err := newFixer(counters, &recordingSink{}).ProcessBatch(ctx, paths)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(0), counters.Snapshot().Scanned)
}

func TestThrottleCalledPerFile(t *testing.T) {
	dir := t.TempDir()
	paths := []string{touch(t, dir, "a.jpg", 1), touch(t, dir, "b.jpg", 1), touch(t, dir, "c.jpg", 1)}

	var seen []int64
	f := newFixer(&types.Counters{}, &recordingSink{}, WithThrottle(func(_ context.Context, n int64) {
		seen = append(seen, n)
	}))
	require.NoError(t, f.ProcessBatch(context.Background(), paths))
	assert.Equal(t, []int64{1, 2, 3}, seen)
}
