// Package cloudwatch follows an AWS CloudWatch Logs log group.
//
// The live feed polls FilterLogEvents; history, statistics and S3 exports use
// the Logs APIs directly.
package cloudwatch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jmurray2011/skein/internal/backend"
	"github.com/jmurray2011/skein/internal/export"
	"github.com/jmurray2011/skein/internal/filter"
	"github.com/jmurray2011/skein/internal/logevent"
	"github.com/jmurray2011/skein/internal/logging"
	"github.com/jmurray2011/skein/internal/stats"
	"github.com/jmurray2011/skein/internal/stream"
	"github.com/jmurray2011/skein/pkg/ring"
	"github.com/jmurray2011/skein/pkg/timeutil"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultOverlap      = 5 * time.Second
	DefaultDedupWindow  = 10000
	DefaultHistoryRange = time.Hour
	DefaultStatsWindow  = 24 * time.Hour

	// maxPollPages bounds FilterLogEvents calls per poll.
	maxPollPages = 10
	// maxQueryPages bounds FilterLogEvents calls per history query.
	maxQueryPages = 20
)

const levelCountQuery = `fields @message
| parse @message /(?i)\b(?<lvl>trace|debug|info|notice|warn|warning|error|err|fatal|critical)\b/
| stats count(*) as n by lvl`

func init() {
	backend.Register("cloudwatch", open)
}

// Options configures a Backend.
type Options struct {
	Bucket       string
	Prefix       string
	PollInterval time.Duration
	Overlap      time.Duration
	StatsWindow  time.Duration
	Logger       logging.Logger
}

// Backend reads one log group.
type Backend struct {
	logGroup string
	client   LogsClient
	opts     Options
	logger   logging.Logger
	now      func() time.Time

	normalizer *logevent.Normalizer

	// Live cursor, shared across sessions so a reconnect resumes where the
	// previous session stopped.
	mu     sync.Mutex
	cursor time.Time
	seen   *ring.Ring[string, struct{}]
}

// New creates a backend for logGroup.
func New(logGroup string, client LogsClient, opts Options) *Backend {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Overlap <= 0 {
		opts.Overlap = DefaultOverlap
	}
	if opts.StatsWindow <= 0 {
		opts.StatsWindow = DefaultStatsWindow
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Backend{
		logGroup:   logGroup,
		client:     client,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
		normalizer: logevent.NewNormalizer(),
		seen:       ring.New[string, struct{}](DefaultDedupWindow),
	}
}

// open handles cloudwatch:///log-group?profile=&region=&bucket=&prefix=&interval=
func open(u *url.URL, opts backend.OpenOptions) (backend.Backend, error) {
	logGroup := u.Host + u.Path
	if u.Host == "" {
		logGroup = u.Path
	}
	if logGroup == "" || logGroup == "/" {
		return nil, fmt.Errorf("cloudwatch URI needs a log group, e.g. cloudwatch:///my-app/prod")
	}

	q := u.Query()
	profile := q.Get("profile")
	if profile == "" {
		profile = opts.Profile
	}
	region := q.Get("region")
	if region == "" {
		region = opts.Region
	}

	o := Options{
		Bucket: q.Get("bucket"),
		Prefix: strings.Trim(q.Get("prefix"), "/"),
		Logger: opts.Log("cloudwatch"),
	}
	if raw := q.Get("interval"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid interval %q: use a duration such as 2s", raw)
		}
		o.PollInterval = d
	}

	api, resolved, err := NewLogsClient(context.Background(), profile, region)
	if err != nil {
		return nil, err
	}
	o.Logger.Debug("Opened log group %s in %s", logGroup, resolved)
	return New(logGroup, NewClient(api), o), nil
}

// Kind returns "cloudwatch".
func (b *Backend) Kind() string { return "cloudwatch" }

func (b *Backend) String() string { return "cloudwatch://" + b.logGroup }

// Close is a no-op; the SDK client holds no connections of its own.
func (b *Backend) Close() error { return nil }

// Dial opens a polling session. The first session starts Overlap before now.
func (b *Backend) Dial(ctx context.Context) (stream.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	if b.cursor.IsZero() {
		b.cursor = b.now()
	}
	b.mu.Unlock()
	return &pollSession{b: b, closed: make(chan struct{})}, nil
}

type pollSession struct {
	b       *Backend
	pending [][]byte
	polled  bool
	closed  chan struct{}
	once    sync.Once
}

func (s *pollSession) Recv(ctx context.Context) ([]byte, error) {
	for {
		if len(s.pending) > 0 {
			frame := s.pending[0]
			s.pending = s.pending[1:]
			return frame, nil
		}
		if s.polled {
			timer := time.NewTimer(s.b.opts.PollInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-s.closed:
				timer.Stop()
				return nil, fmt.Errorf("session closed")
			case <-timer.C:
			}
		}
		s.polled = true

		frames, err := s.b.poll(ctx)
		if err != nil {
			return nil, err
		}
		s.pending = frames
	}
}

func (s *pollSession) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// poll fetches events from cursor-overlap to now and returns frames for
// those not already seen. The seen set and the cursor only move when the
// whole poll succeeds, so a failed poll is retried in full by the next one.
// When the page limit cuts a poll short the cursor stops at the newest event
// delivered.
func (b *Backend) poll(ctx context.Context) ([][]byte, error) {
	b.mu.Lock()
	cursor := b.cursor
	b.mu.Unlock()
	start := cursor.Add(-b.opts.Overlap)
	end := b.now()

	var (
		frames   [][]byte
		fresh    []string
		newest   time.Time
		token    *string
		complete bool
	)
	batch := make(map[string]struct{})
	for page := 0; page < maxPollPages; page++ {
		events, next, err := b.client.FilterLogEvents(ctx, FilterParams{
			LogGroup:  b.logGroup,
			StartTime: start,
			EndTime:   end,
			NextToken: token,
		})
		if err != nil {
			return nil, err
		}

		b.mu.Lock()
		for _, e := range events {
			if e.ID != "" {
				if _, dup := batch[e.ID]; dup || b.seen.Contains(e.ID) {
					continue
				}
			}
			frame, err := logevent.Encode(toRaw(e))
			if err != nil {
				b.logger.Debug("Skipping event %s: %v", e.ID, err)
				continue
			}
			if e.ID != "" {
				batch[e.ID] = struct{}{}
				fresh = append(fresh, e.ID)
			}
			if e.Timestamp.After(newest) {
				newest = e.Timestamp
			}
			frames = append(frames, frame)
		}
		b.mu.Unlock()

		if next == nil || *next == "" {
			complete = true
			break
		}
		token = next
	}

	b.mu.Lock()
	for _, id := range fresh {
		b.seen.Add(id, struct{}{})
	}
	switch {
	case complete:
		b.cursor = end
	case newest.After(b.cursor):
		b.logger.Debug("Poll of %s stopped after %d pages; resuming from %s", b.logGroup, maxPollPages, newest.Format(time.RFC3339Nano))
		b.cursor = newest
	}
	b.mu.Unlock()
	return frames, nil
}

// toRaw maps a CloudWatch event onto a raw frame. JSON messages are decoded
// so structured fields survive; plain text has its level sniffed.
func toRaw(e LogEvent) logevent.Raw {
	if raw, err := logevent.Decode([]byte(e.Message)); err == nil && raw.Message != "" {
		raw.ID = e.ID
		if raw.Timestamp.IsZero() {
			raw.Timestamp = e.Timestamp
		}
		if raw.Source == "" {
			raw.Source = e.LogStream
		}
		if _, err := logevent.ParseLevel(raw.Level); raw.Level != "" && err != nil {
			raw.Level = logevent.SniffLevel(raw.Level)
		}
		return raw
	}
	return logevent.Raw{
		ID:        e.ID,
		Timestamp: e.Timestamp,
		Level:     logevent.SniffLevel(e.Message),
		Source:    e.LogStream,
		Message:   strings.TrimRight(e.Message, "\r\n"),
	}
}

// Query pages FilterLogEvents over the filter's range and applies the level
// and source dimensions locally. Total counts only the events scanned, so it
// is a lower bound when the scan stopped early.
func (b *Backend) Query(ctx context.Context, q backend.Query) (backend.Page, error) {
	q = q.Normalize()
	end := q.Filter.Range.End
	if end.IsZero() {
		end = b.now()
	}
	start := q.Filter.Range.Start
	if start.IsZero() {
		start = end.Add(-DefaultHistoryRange)
	}
	want := q.Offset() + q.Size + 1

	var matched []logevent.Event
	var token *string
	received := b.now()
	for page := 0; page < maxQueryPages && len(matched) < want; page++ {
		events, next, err := b.client.FilterLogEvents(ctx, FilterParams{
			LogGroup:  b.logGroup,
			Pattern:   convertToFilterPattern(q.Filter.Search),
			StartTime: start,
			EndTime:   end,
			NextToken: token,
		})
		if err != nil {
			return backend.Page{}, fmt.Errorf("querying %s: %w", b.logGroup, err)
		}
		for _, e := range events {
			ev, err := b.normalizer.Normalize(toRaw(e), received)
			if err != nil {
				continue
			}
			if filter.Matches(ev, q.Filter) {
				matched = append(matched, ev)
			}
		}
		if next == nil || *next == "" {
			break
		}
		token = next
	}
	return backend.Paginate(matched, q), nil
}

// FetchSummary counts levels over the statistics window with Logs Insights.
// Messages without a level keyword count as info.
func (b *Backend) FetchSummary(ctx context.Context) (stats.Summary, error) {
	end := b.now()
	rows, err := b.client.RunInsightsQuery(ctx, QueryParams{
		LogGroup:  b.logGroup,
		StartTime: end.Add(-b.opts.StatsWindow),
		EndTime:   end,
		Query:     levelCountQuery,
	})
	if err != nil {
		return stats.Summary{}, fmt.Errorf("counting levels in %s: %w", b.logGroup, err)
	}

	summary := stats.Summary{ByLevel: make(map[string]int64)}
	for _, row := range rows {
		var n int64
		if _, err := fmt.Sscan(row["n"], &n); err != nil {
			continue
		}
		lvl, err := logevent.ParseLevel(row["lvl"])
		if err != nil {
			lvl = logevent.LevelInfo
		}
		summary.ByLevel[lvl.String()] += n
		summary.Total += n
	}
	return summary, nil
}

// SubmitExport starts an S3 export task. CloudWatch exports honor only the
// time range of the filter; an open range covers the statistics window.
func (b *Backend) SubmitExport(ctx context.Context, req export.Request) (string, error) {
	if b.opts.Bucket == "" {
		return "", fmt.Errorf("%w: no bucket configured for %s", export.ErrUnsupported, b.logGroup)
	}
	to := req.Filter.Range.End
	if to.IsZero() {
		to = b.now()
	}
	from := req.Filter.Range.Start
	if from.IsZero() {
		from = to.Add(-b.opts.StatsWindow)
	}

	id, err := b.client.CreateExportTask(ctx, ExportParams{
		TaskName: "skein-" + to.UTC().Format("20060102-150405"),
		LogGroup: b.logGroup,
		From:     from,
		To:       to,
		Bucket:   b.opts.Bucket,
		Prefix:   b.opts.Prefix,
	})
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("export task for %s returned no id", b.logGroup)
	}
	b.logger.Info("Started export task %s for %s (%s)", id, b.logGroup, timeutil.FormatDuration(to.Sub(from)))
	return id, nil
}

// ExportStatus maps DescribeExportTasks onto an export job state.
func (b *Backend) ExportStatus(ctx context.Context, id string) (export.RemoteStatus, error) {
	task, err := b.client.DescribeExportTask(ctx, id)
	if err != nil {
		return export.RemoteStatus{}, err
	}

	var st export.RemoteStatus
	switch strings.ToUpper(task.Status) {
	case "PENDING":
		st.State = export.StatePending
	case "RUNNING":
		st.State = export.StateRunning
	case "COMPLETED":
		st.State = export.StateCompleted
		st.DownloadURL = b.downloadURL(id)
	case "CANCELLED", "PENDING_CANCEL":
		st.State = export.StateFailed
		st.Error = "export task cancelled"
	case "FAILED":
		st.State = export.StateFailed
		st.Error = task.Message
		if st.Error == "" {
			st.Error = "export task failed"
		}
	default:
		return export.RemoteStatus{}, fmt.Errorf("unknown export task status %q", task.Status)
	}
	return st, nil
}

func (b *Backend) downloadURL(id string) string {
	if b.opts.Prefix == "" {
		return fmt.Sprintf("s3://%s/%s", b.opts.Bucket, id)
	}
	return fmt.Sprintf("s3://%s/%s/%s", b.opts.Bucket, b.opts.Prefix, id)
}

var (
	_ backend.Backend = (*Backend)(nil)
	_ stats.Fetcher   = (*Backend)(nil)
	_ export.Remote   = (*Backend)(nil)
)
