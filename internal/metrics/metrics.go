// Package metrics exposes pipeline counters, statistics and connection state
// as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jmurray2011/skein/internal/logevent"
	"github.com/jmurray2011/skein/internal/pipeline"
	"github.com/jmurray2011/skein/internal/stats"
	"github.com/jmurray2011/skein/internal/stream"
)

const namespace = "skein"

// Source is the part of the pipeline the collector reads.
type Source interface {
	Counters() pipeline.Counters
	Statistics() stats.Snapshot
	ConnectionState() stream.State
	Capacity() int
	OnStateChange(fn func(stream.Transition))
}

var connectionStates = []stream.State{
	stream.Disconnected,
	stream.Connecting,
	stream.Connected,
	stream.Reconnecting,
	stream.Failed,
}

// Collector reads a pipeline at scrape time.
type Collector struct {
	src Source

	events      *prometheus.Desc
	recomputed  *prometheus.Desc
	buffered    *prometheus.Desc
	capacity    *prometheus.Desc
	localLevel  *prometheus.Desc
	rate        *prometheus.Desc
	backendTot  *prometheus.Desc
	backendLvl  *prometheus.Desc
	backendOld  *prometheus.Desc
	state       *prometheus.Desc
	Transitions *prometheus.CounterVec
}

// Register creates a Collector for src, registers it with reg and starts
// counting connection transitions.
func Register(reg prometheus.Registerer, src Source) (*Collector, error) {
	c := &Collector{
		src: src,
		events: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pipeline", "events_total"),
			"Frames seen by the pipeline by outcome.",
			[]string{"outcome"}, nil, // received, dropped, duplicate, malformed, inserted, evicted
		),
		recomputed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pipeline", "view_recomputations_total"),
			"Times the visible view was recomputed.",
			nil, nil,
		),
		buffered: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "buffer", "events"),
			"Events currently buffered.",
			nil, nil,
		),
		capacity: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "buffer", "capacity"),
			"Maximum events the buffer holds.",
			nil, nil,
		),
		localLevel: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "buffer", "events_by_level"),
			"Buffered events by level.",
			[]string{"level"}, nil,
		),
		rate: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pipeline", "ingest_rate"),
			"Recent inserts per second.",
			nil, nil,
		),
		backendTot: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "backend", "events"),
			"Backend-wide event total from the last statistics fetch.",
			nil, nil,
		),
		backendLvl: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "backend", "events_by_level"),
			"Backend-wide events by level from the last statistics fetch.",
			[]string{"level"}, nil,
		),
		backendOld: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "backend", "stats_stale"),
			"1 when the backend statistics are stale.",
			nil, nil,
		),
		state: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "connection", "state"),
			"1 for the current connection state.",
			[]string{"state"}, nil,
		),
	}

	if err := reg.Register(c); err != nil {
		return nil, err
	}
	c.Transitions = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "connection",
		Name:      "transitions_total",
		Help:      "Connection state transitions.",
	}, []string{"from", "to"})

	src.OnStateChange(func(t stream.Transition) {
		c.Transitions.WithLabelValues(t.From.String(), t.To.String()).Inc()
	})
	return c, nil
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.events, c.recomputed, c.buffered, c.capacity, c.localLevel,
		c.rate, c.backendTot, c.backendLvl, c.backendOld, c.state,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counters := c.src.Counters()
	for outcome, v := range map[string]uint64{
		"received":  counters.Received,
		"dropped":   counters.Dropped,
		"duplicate": counters.Duplicates,
		"malformed": counters.Malformed,
		"inserted":  counters.Inserted,
		"evicted":   counters.Evicted,
	} {
		ch <- prometheus.MustNewConstMetric(c.events, prometheus.CounterValue, float64(v), outcome)
	}
	ch <- prometheus.MustNewConstMetric(c.recomputed, prometheus.CounterValue, float64(counters.Recomputed))

	snap := c.src.Statistics()
	ch <- prometheus.MustNewConstMetric(c.buffered, prometheus.GaugeValue, float64(snap.LocalTotal))
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(c.src.Capacity()))
	ch <- prometheus.MustNewConstMetric(c.rate, prometheus.GaugeValue, snap.Rate)
	for _, lvl := range logevent.Levels() {
		ch <- prometheus.MustNewConstMetric(c.localLevel, prometheus.GaugeValue, float64(snap.Local.Get(lvl)), lvl.String())
	}

	if b := snap.Backend; b != nil {
		ch <- prometheus.MustNewConstMetric(c.backendTot, prometheus.GaugeValue, float64(b.Total))
		for level, n := range b.ByLevel {
			ch <- prometheus.MustNewConstMetric(c.backendLvl, prometheus.GaugeValue, float64(n), level)
		}
		stale := 0.0
		if b.Stale {
			stale = 1
		}
		ch <- prometheus.MustNewConstMetric(c.backendOld, prometheus.GaugeValue, stale)
	}

	current := c.src.ConnectionState()
	for _, s := range connectionStates {
		v := 0.0
		if s == current {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, v, s.String())
	}
}
