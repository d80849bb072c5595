// Package scan finds r values that occur more than once across a tree of
// signature dump files.
//
// A repeated r is the precondition for reused-nonce key recovery, so this
// is the cheap first pass over large dumps before any arithmetic is done.
package scan

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultPattern matches an "R:" marker followed by a 63 to 65 character
// token. The first submatch, when present, is the reported token.
const DefaultPattern = `R:\s?([a-zA-Z0-9]{63,65})`

// Duplicate is a token seen at least MinCount times.
type Duplicate struct {
	Token string
	Count int
	Files []string // Files containing the token, sorted
}

// Scanner counts pattern matches across files.
type Scanner struct {
	pattern  *regexp.Regexp
	minCount int
	workers  int
	exclude  map[string]bool
	log      *zap.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithMinCount sets the number of occurrences that makes a duplicate.
func WithMinCount(n int) Option {
	return func(s *Scanner) {
		if n > 1 {
			s.minCount = n
		}
	}
}

// WithWorkers sets the number of files read concurrently.
func WithWorkers(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithExclude skips the given paths, typically the report being written.
func WithExclude(paths ...string) Option {
	return func(s *Scanner) {
		for _, p := range paths {
			if abs, err := filepath.Abs(p); err == nil {
				s.exclude[abs] = true
			}
		}
	}
}

// WithLogger sets the logger used for per-file errors.
func WithLogger(log *zap.Logger) Option {
	return func(s *Scanner) { s.log = log }
}

// NewScanner compiles pattern; an empty pattern selects DefaultPattern.
func NewScanner(pattern string, opts ...Option) (*Scanner, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling pattern: %w", err)
	}
	s := &Scanner{
		pattern:  re,
		minCount: 2,
		workers:  4,
		exclude:  make(map[string]bool),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type tally struct {
	count int
	files map[string]struct{}
}

// Scan walks root and returns every token that occurs at least MinCount
// times, most frequent first. Unreadable files are logged and skipped; only
// a failure to walk root itself, or ctx cancellation, is returned.
func (s *Scanner) Scan(ctx context.Context, root string) ([]Duplicate, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			s.log.Warn("skipping unreadable path", zap.String("path", path), zap.Error(err))
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if abs, err := filepath.Abs(path); err == nil && s.exclude[abs] {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	var (
		mu     sync.Mutex
		counts = make(map[string]*tally)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, path := range files {
		path := path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			local, err := s.countFile(path)
			if err != nil {
				s.log.Warn("error processing file", zap.String("path", path), zap.Error(err))
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			for token, n := range local {
				t := counts[token]
				if t == nil {
					t = &tally{files: make(map[string]struct{})}
					counts[token] = t
				}
				t.count += n
				t.files[path] = struct{}{}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var dups []Duplicate
	for token, t := range counts {
		if t.count < s.minCount {
			continue
		}
		d := Duplicate{Token: token, Count: t.count}
		for f := range t.files {
			d.Files = append(d.Files, f)
		}
		sort.Strings(d.Files)
		dups = append(dups, d)
	}
	sort.Slice(dups, func(i, j int) bool {
		if dups[i].Count != dups[j].Count {
			return dups[i].Count > dups[j].Count
		}
		return dups[i].Token < dups[j].Token
	})

	s.log.Debug("scan finished", zap.Int("files", len(files)), zap.Int("tokens", len(counts)), zap.Int("duplicates", len(dups)))
	return dups, nil
}

func (s *Scanner) countFile(path string) (map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return s.Count(f)
}

// Count tallies matches line by line in r.
func (s *Scanner) Count(r io.Reader) (map[string]int, error) {
	counts := make(map[string]int)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		for _, m := range s.pattern.FindAllStringSubmatch(sc.Text(), -1) {
			token := m[0]
			if len(m) > 1 && m[1] != "" {
				token = m[1]
			}
			counts[token]++
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

// WriteReport writes duplicates as one "sequence: <token>, Occurrence: <n>"
// line each, after a header line.
func WriteReport(w io.Writer, dups []Duplicate) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "Repeated r values and their number of occurrences:")
	for _, d := range dups {
		fmt.Fprintf(bw, "sequence: %s, Occurrence: %d\n", d.Token, d.Count)
	}
	return bw.Flush()
}
