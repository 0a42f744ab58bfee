package stats

import (
	"context"
	"time"

	"github.com/jmurray2011/skein/internal/logging"
)

// DefaultInterval is the backend summary polling period.
const DefaultInterval = 30 * time.Second

// Fetcher is implemented by backends that report all-time statistics.
type Fetcher interface {
	FetchSummary(ctx context.Context) (Summary, error)
}

// Poller periodically pulls a Summary into an Aggregator.
type Poller struct {
	fetcher  Fetcher
	agg      *Aggregator
	interval time.Duration
	logger   logging.Logger
	onFetch  func(error)
}

// NewPoller creates a poller. A non-positive interval uses DefaultInterval.
func NewPoller(f Fetcher, agg *Aggregator, interval time.Duration, logger logging.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Poller{
		fetcher:  f,
		agg:      agg,
		interval: interval,
		logger:   logger.WithField("component", "stats"),
	}
}

// OnFetch registers a hook called after every fetch attempt with its error.
func (p *Poller) OnFetch(fn func(error)) {
	p.onFetch = fn
}

// Run fetches once immediately and then on every tick until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.fetch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.fetch(ctx)
		}
	}
}

func (p *Poller) fetch(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	summary, err := p.fetcher.FetchSummary(fetchCtx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		p.logger.Warn("Statistics fetch failed: %v", err)
		p.agg.MarkFetchFailed(err)
	} else {
		p.logger.Debug("Fetched backend summary: %d events", summary.Total)
		p.agg.MergeBackendSummary(summary)
	}
	if p.onFetch != nil {
		p.onFetch(err)
	}
}
