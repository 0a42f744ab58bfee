// Package pipeline wires a live connection, the event buffer, the filter and
// the statistics together behind one control surface.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmurray2011/skein/internal/buffer"
	"github.com/jmurray2011/skein/internal/export"
	"github.com/jmurray2011/skein/internal/filter"
	"github.com/jmurray2011/skein/internal/logevent"
	"github.com/jmurray2011/skein/internal/logging"
	"github.com/jmurray2011/skein/internal/output"
	"github.com/jmurray2011/skein/internal/stats"
	"github.com/jmurray2011/skein/internal/stream"
)

// Config sizes and times the pipeline's parts.
type Config struct {
	Capacity      int
	Stream        stream.Config
	StatsInterval time.Duration
	Export        export.JobConfig
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{
		Capacity:      buffer.DefaultCapacity,
		Stream:        stream.DefaultConfig(),
		StatsInterval: stats.DefaultInterval,
		Export: export.JobConfig{
			PollInterval: export.DefaultPollInterval,
			Timeout:      export.DefaultTimeout,
		},
	}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// View is the filtered, newest-first subset of the buffer.
type View struct {
	Matches  []filter.Match `json:"events"`
	Filter   filter.State   `json:"filter"`
	Buffered int            `json:"buffered"`
	Version  uint64         `json:"version"`
}

// Events returns the view's events without spans.
func (v View) Events() []logevent.Event {
	return filter.Events(v.Matches)
}

// Counters are the pipeline's diagnostic totals.
type Counters struct {
	Received   uint64 `json:"received"`
	Dropped    uint64 `json:"dropped"`
	Duplicates uint64 `json:"duplicates"`
	Malformed  uint64 `json:"malformed"`
	Inserted   uint64 `json:"inserted"`
	Evicted    uint64 `json:"evicted"`
	Recomputed uint64 `json:"recomputed"`
}

// Snapshot captures view, statistics and connection state at one instant.
type Snapshot struct {
	View       View           `json:"view"`
	Statistics stats.Snapshot `json:"statistics"`
	State      stream.State   `json:"state"`
	Counters   Counters       `json:"counters"`
}

// ExportResult holds a client artifact or a started backend job.
type ExportResult struct {
	Artifact *export.Artifact
	Job      *export.Job
}

// Pipeline is the single control surface over a live log feed. Inbound
// frames are applied by one goroutine; all buffer and counter mutation
// happens under mu.
type Pipeline struct {
	transport  stream.Transport
	cfg        Config
	logger     logging.Logger
	normalizer *logevent.Normalizer
	conn       *stream.Connection
	updates    chan struct{}

	mu         sync.Mutex
	buf        *buffer.Buffer
	agg        *stats.Aggregator
	filter     filter.State
	dirty      bool
	view       View
	version    uint64
	malformed  uint64
	evicted    uint64
	recomputed uint64

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a stopped pipeline reading from backend. Backends that also
// implement stats.Fetcher or export.Remote enable backend statistics and
// backend exports.
func New(backend stream.Transport, cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		transport:  backend,
		cfg:        cfg,
		logger:     logging.NopLogger{},
		normalizer: logevent.NewNormalizer(),
		updates:    make(chan struct{}, 1),
		buf:        buffer.New(cfg.Capacity),
		dirty:      true,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithField("component", "pipeline")

	interval := cfg.StatsInterval
	if interval <= 0 {
		interval = stats.DefaultInterval
	}
	p.agg = stats.NewAggregator(stats.WithStaleAfter(2 * interval))
	p.cfg.StatsInterval = interval

	p.conn = stream.NewConnection(backend, cfg.Stream, stream.WithLogger(p.logger))
	p.conn.OnStateChange(func(tr stream.Transition) {
		p.logger.Debug("Connection %s -> %s", tr.From, tr.To)
		p.notify()
	})
	return p
}

// Start stops any previous run, then starts the mutation loop, the
// statistics poller and the connection. The pipeline runs until Stop or
// until ctx is done.
func (p *Pipeline) Start(ctx context.Context) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	p.stopLocked()

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.loop(runCtx)
	}()

	if fetcher, ok := p.transport.(stats.Fetcher); ok {
		poller := stats.NewPoller(fetcher, p.agg, p.cfg.StatsInterval, p.logger)
		poller.OnFetch(func(error) { p.notify() })
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			poller.Run(runCtx)
		}()
	}

	p.conn.Connect(runCtx)
}

// Stop disconnects, cancels retries and stops background work. Buffered
// events are kept.
func (p *Pipeline) Stop() {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	p.stopLocked()
}

func (p *Pipeline) stopLocked() {
	p.conn.Disconnect()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.wg.Wait()
}

// loop applies inbound frames until ctx is done, then applies whatever is
// already queued.
func (p *Pipeline) loop(ctx context.Context) {
	msgs := p.conn.Messages()
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case msg := <-msgs:
					p.ingest(msg)
				default:
					return
				}
			}
		case msg := <-msgs:
			p.ingest(msg)
		}
	}
}

func (p *Pipeline) ingest(msg stream.Message) {
	raw, err := logevent.Decode(msg.Data)
	if err == nil {
		var e logevent.Event
		e, err = p.normalizer.Normalize(raw, msg.ReceivedAt)
		if err == nil {
			p.OnEvent(e)
			return
		}
	}
	p.reject(err)
}

// reject counts a malformed frame or event. The first and every hundredth
// are logged at warn level.
func (p *Pipeline) reject(err error) {
	p.mu.Lock()
	p.malformed++
	n := p.malformed
	p.mu.Unlock()
	if n == 1 || n%100 == 0 {
		p.logger.Warn("Rejected malformed event (%d so far): %v", n, err)
	} else {
		p.logger.Debug("Rejected malformed event: %v", err)
	}
}

// OnEvent inserts e. It reports false for a duplicate ID and for an event
// without an ID or a known level, which is counted as malformed.
func (p *Pipeline) OnEvent(e logevent.Event) bool {
	switch {
	case e.ID == "":
		p.reject(errors.New("event has no id"))
		return false
	case !e.Level.Valid():
		p.reject(fmt.Errorf("event %s has unknown level %d", e.ID, e.Level))
		return false
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now()
	}

	p.mu.Lock()
	evicted, ok := p.buf.Insert(e)
	if !ok {
		p.mu.Unlock()
		return false
	}
	if evicted != nil {
		p.agg.OnEvict(*evicted)
		p.evicted++
	}
	p.agg.OnInsert(e)
	p.invalidateLocked()
	p.mu.Unlock()

	p.notify()
	return true
}

// SetFilter replaces the filter.
func (p *Pipeline) SetFilter(st filter.State) {
	st = st.Normalize()
	p.mu.Lock()
	p.filter = st
	p.invalidateLocked()
	p.mu.Unlock()
	p.notify()
}

// Filter returns the current filter.
func (p *Pipeline) Filter() filter.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filter
}

// VisibleEvents returns the filtered view, recomputing it only if the
// buffer or the filter changed since the last call.
func (p *Pipeline) VisibleEvents() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewLocked()
}

func (p *Pipeline) viewLocked() View {
	if p.dirty {
		p.view = View{
			Matches:  filter.Apply(p.buf.SnapshotNewestFirst(), p.filter),
			Filter:   p.filter,
			Buffered: p.buf.Size(),
			Version:  p.version,
		}
		p.dirty = false
		p.recomputed++
	}
	v := p.view
	v.Matches = append([]filter.Match(nil), p.view.Matches...)
	return v
}

// Statistics returns the current statistics.
func (p *Pipeline) Statistics() stats.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.agg.Snapshot()
}

// Snapshot returns view, statistics and counters taken under one lock.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		View:       p.viewLocked(),
		Statistics: p.agg.Snapshot(),
		State:      p.conn.State(),
		Counters:   p.countersLocked(),
	}
}

// ConnectionState returns the connection's state.
func (p *Pipeline) ConnectionState() stream.State {
	return p.conn.State()
}

// LastError returns the connection's most recent error.
func (p *Pipeline) LastError() error {
	return p.conn.LastError()
}

// OnStateChange registers fn for connection transitions. fn must not call
// Start or Stop.
func (p *Pipeline) OnStateChange(fn func(stream.Transition)) {
	p.conn.OnStateChange(fn)
}

// Dropped returns the number of frames lost to a full queue.
func (p *Pipeline) Dropped() uint64 {
	return p.conn.Dropped()
}

// Counters returns the diagnostic totals.
func (p *Pipeline) Counters() Counters {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.countersLocked()
}

func (p *Pipeline) countersLocked() Counters {
	return Counters{
		Received:   p.conn.Received(),
		Dropped:    p.conn.Dropped(),
		Duplicates: p.buf.Duplicates(),
		Malformed:  p.malformed,
		Inserted:   p.buf.TotalInserted(),
		Evicted:    p.evicted,
		Recomputed: p.recomputed,
	}
}

// Capacity returns the buffer capacity.
func (p *Pipeline) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Capacity()
}

// Clear empties the buffer and resets buffered statistics. The connection
// is not touched.
func (p *Pipeline) Clear() {
	p.mu.Lock()
	n := p.buf.Clear()
	p.agg.Reset()
	p.invalidateLocked()
	p.mu.Unlock()

	p.logger.Debug("Cleared %d buffered events", n)
	p.notify()
}

// Updates delivers a coalesced signal whenever the view, statistics or
// connection state may have changed.
func (p *Pipeline) Updates() <-chan struct{} {
	return p.updates
}

// Export produces the current filtered view as an artifact (client mode) or
// starts a backend export of the same filter (backend mode). A backend
// export failure is never replaced by a client export.
func (p *Pipeline) Export(ctx context.Context, format output.Format, mode export.Mode, opts export.Options) (ExportResult, error) {
	switch mode {
	case export.ModeClient, "":
		view := p.VisibleEvents()
		a, err := export.Prepare(view.Events(), format, opts)
		if err != nil {
			return ExportResult{}, err
		}
		return ExportResult{Artifact: &a}, nil

	case export.ModeBackend:
		if _, err := export.ParseFormat(string(format)); err != nil {
			return ExportResult{}, err
		}
		remote, ok := p.transport.(export.Remote)
		if !ok {
			return ExportResult{}, export.ErrUnsupported
		}
		cfg := p.cfg.Export
		if cfg.Logger == nil {
			cfg.Logger = p.logger
		}
		job := export.Start(ctx, remote, export.Request{Format: format, Filter: p.Filter()}, cfg)
		return ExportResult{Job: job}, nil
	}
	return ExportResult{}, fmt.Errorf("unknown export mode %q", mode)
}

// Backend returns the transport the pipeline reads from.
func (p *Pipeline) Backend() stream.Transport {
	return p.transport
}

// Running reports whether Start has been called without a matching Stop.
func (p *Pipeline) Running() bool {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	return p.cancel != nil
}

func (p *Pipeline) invalidateLocked() {
	p.dirty = true
	p.version++
}

func (p *Pipeline) notify() {
	select {
	case p.updates <- struct{}{}:
	default:
	}
}
