package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/rubiojr/timefix/internal/classify"
	"github.com/rubiojr/timefix/internal/errmsg"
	"github.com/rubiojr/timefix/internal/log"
	"github.com/rubiojr/timefix/internal/queue"
	"github.com/rubiojr/timefix/internal/types"
)

// ThrottleFunc is called after every discovered file with the running count.
type ThrottleFunc func(ctx context.Context, discovered int64)

type DirectoryScanner struct {
	rootDir      string
	maxDepth     int
	ignoreList   []*regexp.Regexp
	ignoreHidden bool
	queue        *queue.Queue
	counters     *types.Counters
	throttle     ThrottleFunc
	logger       *log.Logger
}

type Option func(*DirectoryScanner)

func WithMaxDepth(depth int) Option {
	return func(s *DirectoryScanner) {
		s.maxDepth = depth
	}
}

// WithIgnoreList skips every file or directory whose absolute path matches
// one of the patterns. Invalid patterns are logged and ignored.
func WithIgnoreList(patterns []string) Option {
	return func(s *DirectoryScanner) {
		for _, p := range patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				s.logger.Warnf("invalid ignore pattern %q: %v", p, err)
				continue
			}
			s.ignoreList = append(s.ignoreList, re)
		}
	}
}

// WithIgnoreHidden skips files whose name starts with a dot. Hidden
// directories are always skipped.
func WithIgnoreHidden(ignoreHidden bool) Option {
	return func(s *DirectoryScanner) {
		s.ignoreHidden = ignoreHidden
	}
}

func WithQueue(q *queue.Queue) Option {
	return func(s *DirectoryScanner) {
		s.queue = q
	}
}

func WithCounters(c *types.Counters) Option {
	return func(s *DirectoryScanner) {
		s.counters = c
	}
}

func WithThrottle(f ThrottleFunc) Option {
	return func(s *DirectoryScanner) {
		s.throttle = f
	}
}

// WithLogger must come before WithIgnoreList for pattern errors to reach it.
func WithLogger(l *log.Logger) Option {
	return func(s *DirectoryScanner) {
		s.logger = l
	}
}

func NewDirectoryScanner(rootDir string, options ...Option) *DirectoryScanner {
	scanner := &DirectoryScanner{
		rootDir:  rootDir,
		maxDepth: classify.DefaultMaxDepth,
		logger:   log.Discard(),
	}

	for _, option := range options {
		option(scanner)
	}

	if scanner.queue == nil {
		scanner.queue = queue.New()
	}
	if scanner.counters == nil {
		scanner.counters = &types.Counters{}
	}

	return scanner
}

func (s *DirectoryScanner) Queue() *queue.Queue {
	return s.queue
}

// ScanDirectory walks the tree depth first, pushing every correctable file
// to the queue. It returns the number of files discovered. A stopped context
// ends the walk early without an error; only an unusable root is an error.
func (s *DirectoryScanner) ScanDirectory(ctx context.Context) (int64, error) {
	root, err := filepath.Abs(s.rootDir)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", errmsg.ErrRootInaccessible, s.rootDir, err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errmsg.ErrRootInaccessible, err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("%w: %s is not a directory", errmsg.ErrRootInaccessible, root)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errmsg.ErrRootInaccessible, err)
	}

	var count int64
	s.walkEntries(ctx, root, entries, 0, &count)
	return count, nil
}

func (s *DirectoryScanner) walk(ctx context.Context, dir string, depth int, count *int64) {
	if ctx.Err() != nil {
		return
	}

	if !classify.IsTraversable(dir, depth, s.maxDepth) {
		if depth > s.maxDepth || classify.IsSkipped(dir) {
			s.logger.Debugf("ignoring directory %s", dir)
		} else {
			s.logger.Warnf("skipping inaccessible directory %s", dir)
		}
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			s.logger.Warnf("access denied to %s, skipping", dir)
		} else {
			s.logger.Warnf("failed listing %s: %v", dir, err)
		}
		// ReadDir returns what it read before failing.
		if len(entries) == 0 {
			return
		}
	}

	s.walkEntries(ctx, dir, entries, depth, count)
}

func (s *DirectoryScanner) walkEntries(ctx context.Context, dir string, entries []os.DirEntry, depth int, count *int64) {
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}

		path := filepath.Join(dir, entry.Name())
		if s.ignored(path) {
			s.logger.Debugf("ignoring path match %s", path)
			continue
		}

		if entry.IsDir() {
			s.walk(ctx, path, depth+1, count)
			continue
		}

		if s.ignoreHidden && entry.Name()[0] == '.' {
			s.logger.Debugf("ignoring hidden file: %s", path)
			continue
		}

		if !classify.IsCorrectableFile(path) {
			continue
		}

		*count++
		s.counters.IncTotal()
		s.queue.Push(path)

		if s.throttle != nil {
			s.throttle(ctx, *count)
		}
	}
}

func (s *DirectoryScanner) ignored(path string) bool {
	for _, re := range s.ignoreList {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}
