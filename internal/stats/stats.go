// Package stats keeps per-level counts over the buffered events and overlays
// the backend's all-time summary.
package stats

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/jmurray2011/skein/internal/logevent"
)

// rateSeconds is the arrival window, in whole seconds, used for the
// events-per-second rate.
const rateSeconds = 5

// Counts holds one counter per level, indexed by logevent.Level.
type Counts [logevent.NumLevels]int

// Get returns the count for l, or 0 for an invalid level.
func (c Counts) Get(l logevent.Level) int {
	if !l.Valid() {
		return 0
	}
	return c[l]
}

// Total sums all levels.
func (c Counts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// MarshalJSON renders counts as {"debug":n,"info":n,...}.
func (c Counts) MarshalJSON() ([]byte, error) {
	m := make(map[string]int, len(c))
	for _, l := range logevent.Levels() {
		m[l.String()] = c[l]
	}
	return json.Marshal(m)
}

// Summary is the backend-authoritative all-time count.
type Summary struct {
	Total   int64            `json:"total"`
	ByLevel map[string]int64 `json:"by_level"`
}

// BackendStatus is the last known Summary and how fresh it is.
type BackendStatus struct {
	Summary
	FetchedAt time.Time     `json:"fetched_at"`
	Age       time.Duration `json:"age"`
	Stale     bool          `json:"stale"`
	LastError string        `json:"last_error,omitempty"`
}

// Snapshot is a point-in-time copy of the statistics. Local counts cover only
// the buffered events; Backend is nil until a summary source has reported.
type Snapshot struct {
	Local      Counts         `json:"local"`
	LocalTotal int            `json:"local_total"`
	LastSeen   time.Time      `json:"last_seen"`
	Rate       float64        `json:"rate"`
	Backend    *BackendStatus `json:"backend,omitempty"`
}

// Aggregator maintains incremental level counters. It is safe for concurrent
// use; the pipeline additionally serializes OnInsert/OnEvict with buffer
// mutation so counts match the buffer at every instant.
type Aggregator struct {
	mu       sync.RWMutex
	counts   Counts
	lastSeen time.Time
	arrivals [rateSeconds]bucket // per-second arrival counts, keyed by Unix second mod rateSeconds

	summary    *Summary
	fetchedAt  time.Time
	fetchErr   error
	staleAfter time.Duration

	now func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithStaleAfter sets how old a backend summary may get before it is
// reported stale. Zero disables age-based staleness.
func WithStaleAfter(d time.Duration) Option {
	return func(a *Aggregator) { a.staleAfter = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator returns an empty aggregator.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		staleAfter: 2 * DefaultInterval,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// OnInsert counts a newly buffered event.
func (a *Aggregator) OnInsert(e logevent.Event) {
	if !e.Level.Valid() {
		return
	}
	arrived := e.ReceivedAt
	if arrived.IsZero() {
		arrived = a.now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.counts[e.Level]++
	if arrived.After(a.lastSeen) {
		a.lastSeen = arrived
	}
	a.countArrivalLocked(arrived)
}

// OnEvict uncounts an event that left the buffer.
func (a *Aggregator) OnEvict(e logevent.Event) {
	if !e.Level.Valid() {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.counts[e.Level] > 0 {
		a.counts[e.Level]--
	}
}

// Reset zeroes the local counters, last-seen time and rate. The backend
// summary is kept.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counts = Counts{}
	a.lastSeen = time.Time{}
	a.arrivals = [rateSeconds]bucket{}
}

// MergeBackendSummary records a successful summary fetch.
func (a *Aggregator) MergeBackendSummary(s Summary) {
	byLevel := make(map[string]int64, len(s.ByLevel))
	for k, v := range s.ByLevel {
		byLevel[k] = v
	}
	s.ByLevel = byLevel

	a.mu.Lock()
	defer a.mu.Unlock()
	a.summary = &s
	a.fetchedAt = a.now()
	a.fetchErr = nil
}

// MarkFetchFailed keeps the last summary and flags it stale.
func (a *Aggregator) MarkFetchFailed(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fetchErr = err
}

// Snapshot returns a copy of the current statistics.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	now := a.now()
	snap := Snapshot{
		Local:      a.counts,
		LocalTotal: a.counts.Total(),
		LastSeen:   a.lastSeen,
	}

	recent := 0
	for _, b := range a.arrivals {
		if now.Unix()-b.sec < rateSeconds {
			recent += b.n
		}
	}
	snap.Rate = float64(recent) / rateSeconds

	if a.summary == nil && a.fetchErr == nil {
		return snap
	}

	status := &BackendStatus{}
	if a.summary != nil {
		status.Summary = Summary{Total: a.summary.Total, ByLevel: make(map[string]int64, len(a.summary.ByLevel))}
		for k, v := range a.summary.ByLevel {
			status.ByLevel[k] = v
		}
		status.FetchedAt = a.fetchedAt
		status.Age = now.Sub(a.fetchedAt)
	}
	if a.fetchErr != nil {
		status.Stale = true
		status.LastError = a.fetchErr.Error()
	}
	if a.summary != nil && a.staleAfter > 0 && status.Age > a.staleAfter {
		status.Stale = true
	}
	snap.Backend = status
	return snap
}

type bucket struct {
	sec int64
	n   int
}

// countArrivalLocked adds one arrival to its second's bucket. A bucket still
// holding an older second is reused; arrivals older than the bucket's second
// fell out of the window already and are not counted.
func (a *Aggregator) countArrivalLocked(t time.Time) {
	sec := t.Unix()
	b := &a.arrivals[((sec%rateSeconds)+rateSeconds)%rateSeconds]
	switch {
	case b.sec == sec:
		b.n++
	case sec > b.sec:
		*b = bucket{sec: sec, n: 1}
	}
}
