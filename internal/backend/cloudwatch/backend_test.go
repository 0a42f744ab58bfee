package cloudwatch

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmurray2011/skein/internal/backend"
	"github.com/jmurray2011/skein/internal/export"
	"github.com/jmurray2011/skein/internal/filter"
	"github.com/jmurray2011/skein/internal/logevent"
	"github.com/jmurray2011/skein/internal/stream"
)

// mockLogsClient implements LogsClient for testing.
type mockLogsClient struct {
	mu sync.Mutex

	// pages are returned in order by FilterLogEvents; the last page repeats.
	pages        [][]LogEvent
	filterCalls  []FilterParams
	queryRows    []map[string]string
	queryParams  QueryParams
	exportParams ExportParams
	exportID     string
	task         ExportTask
	err          error
}

func (m *mockLogsClient) FilterLogEvents(ctx context.Context, params FilterParams) ([]LogEvent, *string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filterCalls = append(m.filterCalls, params)
	if m.err != nil {
		return nil, nil, m.err
	}
	if len(m.pages) == 0 {
		return nil, nil, nil
	}
	page := m.pages[0]
	if len(m.pages) > 1 {
		m.pages = m.pages[1:]
		next := "more"
		return page, &next, nil
	}
	return page, nil, nil
}

func (m *mockLogsClient) RunInsightsQuery(ctx context.Context, params QueryParams) ([]map[string]string, error) {
	m.queryParams = params
	if m.err != nil {
		return nil, m.err
	}
	return m.queryRows, nil
}

func (m *mockLogsClient) CreateExportTask(ctx context.Context, params ExportParams) (string, error) {
	m.exportParams = params
	if m.err != nil {
		return "", m.err
	}
	return m.exportID, nil
}

func (m *mockLogsClient) DescribeExportTask(ctx context.Context, taskID string) (ExportTask, error) {
	if m.err != nil {
		return ExportTask{}, m.err
	}
	return m.task, nil
}

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestBackend(client LogsClient, opts Options) *Backend {
	opts.PollInterval = time.Millisecond
	b := New("/app/prod", client, opts)
	b.now = func() time.Time { return base }
	return b
}

func TestConvertToFilterPattern(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"  ", ""},
		{"timeout", `"timeout"`},
		{"connection   refused", `"connection refused"`},
		{"error|timeout", `?"error" ?"timeout"`},
		{"a | b | ", `?"a" ?"b"`},
		{`say "hi"`, `"say \"hi\""`},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := convertToFilterPattern(tt.input); got != tt.want {
				t.Errorf("convertToFilterPattern(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestToRaw(t *testing.T) {
	ts := base.Add(-time.Minute)

	t.Run("plain text sniffs level", func(t *testing.T) {
		raw := toRaw(LogEvent{ID: "e1", Timestamp: ts, LogStream: "web-1", Message: "ERROR disk full\n"})
		if raw.ID != "e1" || raw.Source != "web-1" || raw.Level != "error" || raw.Message != "ERROR disk full" {
			t.Errorf("unexpected raw: %+v", raw)
		}
		if !raw.Timestamp.Equal(ts) {
			t.Errorf("Timestamp = %v, want %v", raw.Timestamp, ts)
		}
	})

	t.Run("json message keeps fields", func(t *testing.T) {
		raw := toRaw(LogEvent{ID: "e2", Timestamp: ts, LogStream: "web-1", Message: `{"level":"warn","msg":"slow","module":"db"}`})
		if raw.ID != "e2" || raw.Level != "warn" || raw.Message != "slow" || raw.Source != "db" {
			t.Errorf("unexpected raw: %+v", raw)
		}
		if !raw.Timestamp.Equal(ts) {
			t.Errorf("Timestamp = %v, want event timestamp", raw.Timestamp)
		}
	})

	t.Run("json without message is text", func(t *testing.T) {
		raw := toRaw(LogEvent{ID: "e3", Timestamp: ts, Message: `{"status":500}`})
		if raw.Message != `{"status":500}` {
			t.Errorf("Message = %q", raw.Message)
		}
	})
}

func TestLiveSession_DedupAcrossPolls(t *testing.T) {
	first := []LogEvent{
		{ID: "1", Timestamp: base, LogStream: "s", Message: "one"},
		{ID: "2", Timestamp: base, LogStream: "s", Message: "two"},
	}
	second := []LogEvent{
		{ID: "2", Timestamp: base, LogStream: "s", Message: "two"},
		{ID: "3", Timestamp: base, LogStream: "s", Message: "three"},
	}
	client := &mockLogsClient{pages: [][]LogEvent{first, second}}
	// Pages are consumed as one paginated poll followed by repeats of the
	// last page, so the overlap re-delivers "2" and "3".
	b := newTestBackend(client, Options{})

	sess, err := b.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var got []string
	for len(got) < 3 {
		frame, err := sess.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv failed after %v: %v", got, err)
		}
		raw, err := logevent.Decode(frame)
		if err != nil {
			t.Fatalf("frame did not decode: %v", err)
		}
		got = append(got, raw.ID)
	}
	if strings.Join(got, ",") != "1,2,3" {
		t.Errorf("ids = %v, want [1 2 3]", got)
	}

	// Later polls only see repeats.
	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	if frame, err := sess.Recv(short); err == nil {
		t.Errorf("unexpected extra frame %s", frame)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.filterCalls) < 2 {
		t.Fatalf("expected several polls, got %d", len(client.filterCalls))
	}
	if want := base.Add(-DefaultOverlap); !client.filterCalls[0].StartTime.Equal(want) {
		t.Errorf("first poll start = %v, want %v", client.filterCalls[0].StartTime, want)
	}
}

func TestLiveSession_ErrorEndsSession(t *testing.T) {
	client := &mockLogsClient{err: errors.New("throttled")}
	b := newTestBackend(client, Options{})

	sess, err := b.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	if _, err := sess.Recv(context.Background()); err == nil || !strings.Contains(err.Error(), "throttled") {
		t.Errorf("Recv error = %v, want throttled", err)
	}
}

// pagedClient serves a fixed set of events the way FilterLogEvents does:
// filtered to the requested range and split into pages addressed by token.
type pagedClient struct {
	mockLogsClient
	events   []LogEvent
	pageSize int
	fail     map[int]error
}

func (c *pagedClient) FilterLogEvents(ctx context.Context, params FilterParams) ([]LogEvent, *string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	call := len(c.filterCalls)
	c.filterCalls = append(c.filterCalls, params)
	if err := c.fail[call]; err != nil {
		return nil, nil, err
	}

	var inRange []LogEvent
	for _, e := range c.events {
		if !e.Timestamp.Before(params.StartTime) && !e.Timestamp.After(params.EndTime) {
			inRange = append(inRange, e)
		}
	}
	from := 0
	if params.NextToken != nil {
		from, _ = strconv.Atoi(*params.NextToken)
	}
	to := min(from+c.pageSize, len(inRange))
	if from >= to {
		return nil, nil, nil
	}
	if to < len(inRange) {
		next := strconv.Itoa(to)
		return inRange[from:to], &next, nil
	}
	return inRange[from:to], nil, nil
}

func recvIDs(t *testing.T, sess stream.Session, n int) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var got []string
	for len(got) < n {
		frame, err := sess.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv failed after %v: %v", got, err)
		}
		raw, err := logevent.Decode(frame)
		if err != nil {
			t.Fatalf("frame did not decode: %v", err)
		}
		got = append(got, raw.ID)
	}
	return got
}

func TestLiveSession_FailedPollIsRetried(t *testing.T) {
	client := &pagedClient{
		events: []LogEvent{
			{ID: "a", Timestamp: base.Add(-2 * time.Second), LogStream: "s", Message: "one"},
			{ID: "b", Timestamp: base.Add(-time.Second), LogStream: "s", Message: "two"},
		},
		pageSize: 1,
		fail:     map[int]error{1: errors.New("throttled")},
	}
	b := newTestBackend(client, Options{})

	sess, err := b.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	if _, err := sess.Recv(context.Background()); err == nil {
		t.Fatal("expected the second page to fail the poll")
	}
	sess.Close()

	// The failed poll committed nothing, so the next session sees both.
	sess, err = b.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer sess.Close()
	if got := recvIDs(t, sess, 2); strings.Join(got, ",") != "a,b" {
		t.Errorf("ids = %v, want [a b]", got)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if !client.filterCalls[2].StartTime.Equal(client.filterCalls[0].StartTime) {
		t.Errorf("retry start = %v, want %v", client.filterCalls[2].StartTime, client.filterCalls[0].StartTime)
	}
}

func TestLiveSession_PageLimitResumes(t *testing.T) {
	var events []LogEvent
	var want []string
	for i := range maxPollPages + 2 {
		id := strconv.Itoa(i)
		events = append(events, LogEvent{ID: id, Timestamp: base.Add(-50*time.Second + time.Duration(i)*time.Second), LogStream: "s", Message: "line " + id})
		want = append(want, id)
	}
	client := &pagedClient{events: events, pageSize: 1}
	b := newTestBackend(client, Options{Overlap: time.Second})
	b.now = func() time.Time { return base.Add(-time.Minute) }

	sess, err := b.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer sess.Close()

	b.now = func() time.Time { return base }
	first := recvIDs(t, sess, maxPollPages)

	// The capped poll stopped at event 9; the next one picks up from there.
	b.now = func() time.Time { return base.Add(time.Minute) }
	rest := recvIDs(t, sess, 2)

	if got := strings.Join(append(first, rest...), ","); got != strings.Join(want, ",") {
		t.Errorf("ids = %v, want %v", got, want)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	resume := events[maxPollPages-1].Timestamp.Add(-time.Second)
	if got := client.filterCalls[maxPollPages].StartTime; !got.Equal(resume) {
		t.Errorf("resumed poll start = %v, want %v", got, resume)
	}
}

func TestLiveSession_CloseUnblocksRecv(t *testing.T) {
	b := newTestBackend(&mockLogsClient{}, Options{})
	b.opts.PollInterval = time.Hour

	sess, _ := b.Dial(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := sess.Recv(context.Background())
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	sess.Close()
	sess.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected error after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("Recv did not return after Close")
	}
}

func TestQuery(t *testing.T) {
	events := []LogEvent{
		{ID: "a", Timestamp: base.Add(-3 * time.Minute), LogStream: "api", Message: "ERROR a"},
		{ID: "b", Timestamp: base.Add(-2 * time.Minute), LogStream: "api", Message: "INFO b"},
		{ID: "c", Timestamp: base.Add(-1 * time.Minute), LogStream: "worker", Message: "ERROR c"},
	}
	client := &mockLogsClient{pages: [][]LogEvent{events}}
	b := newTestBackend(client, Options{})

	page, err := b.Query(context.Background(), backend.Query{
		Filter: filter.State{Levels: []logevent.Level{logevent.LevelError}, Search: "ERROR"},
		Size:   10,
	})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	if page.Total != 2 || len(page.Events) != 2 {
		t.Fatalf("page = %+v, want 2 error events", page)
	}
	if page.Events[0].ID != "c" || page.Events[1].ID != "a" {
		t.Errorf("order = %s,%s, want newest first", page.Events[0].ID, page.Events[1].ID)
	}

	call := client.filterCalls[0]
	if call.Pattern != `"ERROR"` {
		t.Errorf("Pattern = %q", call.Pattern)
	}
	if !call.EndTime.Equal(base) || !call.StartTime.Equal(base.Add(-DefaultHistoryRange)) {
		t.Errorf("range = %v..%v, want default hour", call.StartTime, call.EndTime)
	}
}

func TestQuery_FollowsPages(t *testing.T) {
	client := &mockLogsClient{pages: [][]LogEvent{
		{{ID: "1", Timestamp: base, Message: "one"}},
		{{ID: "2", Timestamp: base, Message: "two"}},
	}}
	b := newTestBackend(client, Options{})

	page, err := b.Query(context.Background(), backend.Query{Size: 10})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if page.Total != 2 {
		t.Errorf("Total = %d, want 2", page.Total)
	}
	if len(client.filterCalls) != 2 || client.filterCalls[1].NextToken == nil {
		t.Errorf("expected second call with a token, got %+v", client.filterCalls)
	}
}

func TestFetchSummary(t *testing.T) {
	client := &mockLogsClient{queryRows: []map[string]string{
		{"lvl": "ERROR", "n": "4"},
		{"lvl": "err", "n": "1"},
		{"lvl": "WARN", "n": "3"},
		{"n": "10"},
		{"lvl": "info", "n": "bogus"},
	}}
	b := newTestBackend(client, Options{StatsWindow: 6 * time.Hour})

	summary, err := b.FetchSummary(context.Background())
	if err != nil {
		t.Fatalf("FetchSummary failed: %v", err)
	}
	if summary.Total != 18 {
		t.Errorf("Total = %d, want 18", summary.Total)
	}
	want := map[string]int64{"error": 5, "warning": 3, "info": 10}
	for k, v := range want {
		if summary.ByLevel[k] != v {
			t.Errorf("ByLevel[%s] = %d, want %d (all: %v)", k, summary.ByLevel[k], v, summary.ByLevel)
		}
	}
	if !client.queryParams.StartTime.Equal(base.Add(-6 * time.Hour)) {
		t.Errorf("StartTime = %v", client.queryParams.StartTime)
	}
}

func TestSubmitExport(t *testing.T) {
	t.Run("no bucket is unsupported", func(t *testing.T) {
		b := newTestBackend(&mockLogsClient{}, Options{})
		_, err := b.SubmitExport(context.Background(), export.Request{})
		if !errors.Is(err, export.ErrUnsupported) {
			t.Errorf("error = %v, want ErrUnsupported", err)
		}
	})

	t.Run("creates task", func(t *testing.T) {
		client := &mockLogsClient{exportID: "task-1"}
		b := newTestBackend(client, Options{Bucket: "logs-bucket", Prefix: "exports"})

		from := base.Add(-2 * time.Hour)
		id, err := b.SubmitExport(context.Background(), export.Request{
			Filter: filter.State{Range: filter.TimeRange{Start: from}},
		})
		if err != nil {
			t.Fatalf("SubmitExport failed: %v", err)
		}
		if id != "task-1" {
			t.Errorf("id = %q", id)
		}
		p := client.exportParams
		if p.Bucket != "logs-bucket" || p.Prefix != "exports" || p.LogGroup != "/app/prod" {
			t.Errorf("unexpected params: %+v", p)
		}
		if !p.From.Equal(from) || !p.To.Equal(base) {
			t.Errorf("range = %v..%v", p.From, p.To)
		}
	})

	t.Run("empty id is an error", func(t *testing.T) {
		b := newTestBackend(&mockLogsClient{}, Options{Bucket: "logs-bucket"})
		if _, err := b.SubmitExport(context.Background(), export.Request{}); err == nil {
			t.Error("expected error for empty task id")
		}
	})
}

func TestExportStatus(t *testing.T) {
	tests := []struct {
		status  string
		want    export.State
		url     string
		wantErr bool
	}{
		{"PENDING", export.StatePending, "", false},
		{"RUNNING", export.StateRunning, "", false},
		{"COMPLETED", export.StateCompleted, "s3://logs-bucket/exports/task-1", false},
		{"FAILED", export.StateFailed, "", false},
		{"PENDING_CANCEL", export.StateFailed, "", false},
		{"MYSTERY", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			client := &mockLogsClient{task: ExportTask{ID: "task-1", Status: tt.status}}
			b := newTestBackend(client, Options{Bucket: "logs-bucket", Prefix: "exports"})

			st, err := b.ExportStatus(context.Background(), "task-1")
			if (err != nil) != tt.wantErr {
				t.Fatalf("ExportStatus error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if st.State != tt.want || st.DownloadURL != tt.url {
				t.Errorf("status = %+v, want %s %q", st, tt.want, tt.url)
			}
			if st.State == export.StateFailed && st.Error == "" {
				t.Error("failed status should carry an error")
			}
		})
	}
}

func TestDownloadURL_NoPrefix(t *testing.T) {
	b := newTestBackend(&mockLogsClient{}, Options{Bucket: "b"})
	if got := b.downloadURL("t"); got != "s3://b/t" {
		t.Errorf("downloadURL = %q", got)
	}
}
