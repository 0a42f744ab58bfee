// Package local follows a log file on the local filesystem.
package local

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jmurray2011/skein/internal/backend"
	"github.com/jmurray2011/skein/internal/filter"
	"github.com/jmurray2011/skein/internal/logevent"
	"github.com/jmurray2011/skein/internal/logging"
	"github.com/jmurray2011/skein/internal/stats"
	"github.com/jmurray2011/skein/internal/stream"
)

const (
	// MaxLineSize is the longest line read from a log file (1MB).
	MaxLineSize = 1024 * 1024

	// LogRotationDelay is how long to wait for a rotated file to reappear.
	LogRotationDelay = 100 * time.Millisecond

	// pollFallback re-reads the file when no watcher event arrives, for
	// filesystems that do not report writes.
	pollFallback = 250 * time.Millisecond
)

var errSessionClosed = errors.New("tail session closed")

func init() {
	backend.Register("file", open)
}

// Options configures a Backend.
type Options struct {
	Format    Format
	FromStart bool // first session replays the whole file
	Logger    logging.Logger
}

// Backend tails one file.
type Backend struct {
	path       string
	format     Format
	fromStart  bool
	logger     logging.Logger
	normalizer *logevent.Normalizer

	// Read position shared across sessions so a reconnect resumes.
	mu      sync.Mutex
	started bool
	offset  int64
}

// New creates a backend for the file at path, which must exist.
func New(path string, opts Options) (*Backend, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open log file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory, not a log file", path)
	}

	format := opts.Format
	if format == FormatAuto {
		format = DetectFormat(path)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Backend{
		path:       path,
		format:     format,
		fromStart:  opts.FromStart,
		logger:     logger,
		normalizer: logevent.NewNormalizer(),
	}, nil
}

// open handles file:///path?format=auto|json|plain|syslog|java&from_start=true
func open(u *url.URL, opts backend.OpenOptions) (backend.Backend, error) {
	path := u.Host + u.Path
	if path == "" {
		return nil, fmt.Errorf("file:// URI requires a path")
	}
	if len(path) > 2 && path[:3] == "/~/" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[3:])
		}
	}

	q := u.Query()
	o := Options{Format: ParseFormat(q.Get("format")), Logger: opts.Log("file")}
	if raw := q.Get("from_start"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid from_start %q: use true or false", raw)
		}
		o.FromStart = v
	}
	return New(path, o)
}

// Kind returns "file".
func (b *Backend) Kind() string { return "file" }

func (b *Backend) String() string { return "file://" + b.path }

// Format returns the detected or configured format.
func (b *Backend) Format() Format { return b.format }

// Close is a no-op; sessions own their file handles.
func (b *Backend) Close() error { return nil }

// Dial opens the file and starts watching it. The first session starts at
// the end of the file unless FromStart is set; later sessions resume at the
// last offset read, or at the start when the file has shrunk.
func (b *Backend) Dial(ctx context.Context) (stream.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(b.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	b.mu.Lock()
	start := b.offset
	if !b.started {
		start = info.Size()
		if b.fromStart {
			start = 0
		}
		b.started = true
	}
	if start > info.Size() {
		start = 0
	}
	b.offset = start
	b.mu.Unlock()

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to seek: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(b.path); err != nil {
		_ = f.Close()
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch file: %w", err)
	}

	return &tailSession{
		b:        b,
		f:        f,
		reader:   bufio.NewReader(f),
		consumed: start,
		watcher:  watcher,
		asm:      newAssembler(b.format, filepath.Base(b.path)),
		done:     make(chan struct{}),
	}, nil
}

func (b *Backend) setOffset(off int64) {
	b.mu.Lock()
	b.offset = off
	b.mu.Unlock()
}

type tailSession struct {
	b       *Backend
	watcher *fsnotify.Watcher
	asm     *assembler
	ready   []logevent.Raw
	partial string
	discard bool  // dropping the rest of an over-long line
	heldAt  int64 // file offset of the event held by asm

	mu       sync.Mutex // guards f against Close
	f        *os.File
	reader   *bufio.Reader
	consumed int64

	done chan struct{}
	once sync.Once
}

func (s *tailSession) Recv(ctx context.Context) ([]byte, error) {
	for {
		if len(s.ready) > 0 {
			raw := s.ready[0]
			s.ready = s.ready[1:]
			return logevent.Encode(raw)
		}

		line, at, err := s.readLine()
		if err == nil {
			held := s.asm.pending
			if raw := s.asm.push(line); raw != nil {
				s.ready = append(s.ready, *raw)
			}
			if s.asm.pending != nil && s.asm.pending != held {
				s.heldAt = at
			}
			s.commit()
			continue
		}
		if !errors.Is(err, io.EOF) {
			return nil, err
		}
		if err := s.wait(ctx); err != nil {
			return nil, err
		}
	}
}

// commit records the resume offset. While a multiline event is held it is
// the start of that event, so a new session reads it again in full.
func (s *tailSession) commit() {
	off := s.consumed
	if s.asm.pending != nil {
		off = s.heldAt
	}
	s.b.setOffset(off)
}

// release queues the held multiline event, if any.
func (s *tailSession) release() {
	if raw := s.asm.flush(); raw != nil {
		s.ready = append(s.ready, *raw)
	}
}

// readLine returns the next complete line and the offset it starts at. A
// partial trailing line is held until its newline arrives. Lines longer than
// MaxLineSize are cut and the remainder up to the newline is dropped.
func (s *tailSession) readLine() (string, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return "", 0, errSessionClosed
	default:
	}

	for {
		chunk, err := s.reader.ReadString('\n')
		if s.discard {
			s.consumed += int64(len(chunk))
			if err != nil {
				return "", 0, err
			}
			s.discard = false
			continue
		}

		s.partial += chunk
		if err != nil && len(s.partial) <= MaxLineSize {
			return "", 0, err
		}

		line := s.partial
		at := s.consumed
		s.consumed += int64(len(line))
		s.partial = ""
		if len(line) > MaxLineSize {
			s.b.logger.Warn("Line exceeds %d bytes in %s, dropping the rest of it", MaxLineSize, s.b.path)
			line = line[:MaxLineSize]
			s.discard = err != nil
		}
		return trimEOL(line), at, nil
	}
}

func trimEOL(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// wait blocks until the file may have new data.
func (s *tailSession) wait(ctx context.Context) error {
	timer := time.NewTimer(pollFallback)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return errSessionClosed
	case ev, ok := <-s.watcher.Events:
		if !ok {
			return errSessionClosed
		}
		if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
			return s.reopen()
		}
	case err, ok := <-s.watcher.Errors:
		if !ok {
			return errSessionClosed
		}
		s.b.logger.Debug("Watcher error on %s: %v", s.b.path, err)
	case <-timer.C:
		// Nothing new arrived, so a held multiline event is complete.
		if err := s.checkTruncated(); err != nil {
			return err
		}
		s.release()
		s.commit()
		return nil
	}
	return s.checkTruncated()
}

// reopen follows a rotated file to its replacement.
func (s *tailSession) reopen() error {
	time.Sleep(LogRotationDelay)
	nf, err := os.Open(s.b.path)
	if err != nil {
		return fmt.Errorf("log file rotated away: %w", err)
	}

	s.release()

	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.f.Close()
	s.f = nf
	s.reader.Reset(nf)
	s.partial = ""
	s.discard = false
	s.consumed = 0
	s.b.setOffset(0)

	_ = s.watcher.Remove(s.b.path)
	if err := s.watcher.Add(s.b.path); err != nil {
		return fmt.Errorf("failed to watch rotated file: %w", err)
	}
	s.b.logger.Info("Reopened %s after rotation", s.b.path)
	return nil
}

// checkTruncated rewinds when the file was truncated in place.
func (s *tailSession) checkTruncated() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, err := s.f.Stat()
	if err != nil {
		return nil
	}
	if info.Size() < s.consumed+int64(len(s.partial)) {
		if _, err := s.f.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("failed to rewind truncated file: %w", err)
		}
		s.release()
		s.reader.Reset(s.f)
		s.partial = ""
		s.discard = false
		s.consumed = 0
		s.b.setOffset(0)
		s.b.logger.Info("%s was truncated, reading from the start", s.b.path)
	}
	return nil
}

func (s *tailSession) Close() error {
	s.once.Do(func() {
		close(s.done)
		_ = s.watcher.Close()
		s.mu.Lock()
		_ = s.f.Close()
		s.mu.Unlock()
	})
	return nil
}

// scan reads the whole file and returns every event in file order.
func (b *Backend) scan(ctx context.Context) ([]logevent.Event, error) {
	f, err := os.Open(b.path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	// Lines without their own timestamp take the file's modification time.
	received := time.Now()
	if info, err := f.Stat(); err == nil {
		received = info.ModTime()
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), MaxLineSize)
	asm := newAssembler(b.format, filepath.Base(b.path))

	var events []logevent.Event
	skipped := 0
	add := func(raw *logevent.Raw) {
		if raw == nil {
			return
		}
		e, err := b.normalizer.Normalize(*raw, received)
		if err != nil {
			skipped++
			return
		}
		events = append(events, e)
	}

	n := 0
	for scanner.Scan() {
		if n++; n%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		add(asm.push(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	add(asm.flush())

	if skipped > 0 {
		b.logger.Debug("Skipped %d unusable lines in %s", skipped, b.path)
	}
	return events, nil
}

// Query scans the file and pages the events that match the filter.
func (b *Backend) Query(ctx context.Context, q backend.Query) (backend.Page, error) {
	q = q.Normalize()
	events, err := b.scan(ctx)
	if err != nil {
		return backend.Page{}, fmt.Errorf("error reading %s: %w", b.path, err)
	}
	matched := filter.Events(filter.Apply(events, q.Filter))
	return backend.Paginate(matched, q), nil
}

// FetchSummary counts levels across the whole file.
func (b *Backend) FetchSummary(ctx context.Context) (stats.Summary, error) {
	events, err := b.scan(ctx)
	if err != nil {
		return stats.Summary{}, fmt.Errorf("error reading %s: %w", b.path, err)
	}
	summary := stats.Summary{ByLevel: make(map[string]int64)}
	for _, e := range events {
		summary.ByLevel[e.Level.String()]++
		summary.Total++
	}
	return summary, nil
}

var (
	_ backend.Backend = (*Backend)(nil)
	_ stats.Fetcher   = (*Backend)(nil)
)
