package export

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmurray2011/skein/internal/filter"
	"github.com/jmurray2011/skein/internal/logging"
	"github.com/jmurray2011/skein/internal/output"
)

// Defaults for JobConfig.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultTimeout      = 10 * time.Minute
)

// Request asks a backend for a full export matching Filter.
type Request struct {
	Format output.Format `json:"format"`
	Filter filter.State  `json:"filter"`
}

// RemoteStatus is one poll result from a backend export job.
type RemoteStatus struct {
	State       State
	DownloadURL string
	Error       string
}

// Remote is implemented by backends that can export history.
type Remote interface {
	SubmitExport(ctx context.Context, req Request) (string, error)
	ExportStatus(ctx context.Context, id string) (RemoteStatus, error)
}

// State is the lifecycle of an export job.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// ParseRemoteState maps backend status words onto job states.
func ParseRemoteState(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "queued", "submitted":
		return StatePending, nil
	case "running", "processing", "in_progress":
		return StateRunning, nil
	case "completed", "complete", "done", "succeeded", "success":
		return StateCompleted, nil
	case "failed", "error", "cancelled", "canceled", "expired":
		return StateFailed, nil
	}
	return "", fmt.Errorf("unknown export status %q", s)
}

// JobConfig bounds a remote job.
type JobConfig struct {
	PollInterval time.Duration
	Timeout      time.Duration
	Logger       logging.Logger
}

func (c JobConfig) withDefaults() JobConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Logger == nil {
		c.Logger = logging.NopLogger{}
	}
	return c
}

// Result is the outcome of a finished job.
type Result struct {
	DownloadURL string `json:"download_url,omitempty"`
	Err         error  `json:"-"`
}

// Job tracks one backend export. All methods are safe for concurrent use.
type Job struct {
	id      string
	request Request
	created time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	state    State
	remoteID string
	result   Result
}

// Start submits req to remote and polls it in the background until the job
// completes, fails, times out, is cancelled, or ctx is done.
func Start(ctx context.Context, remote Remote, req Request, cfg JobConfig) *Job {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	j := &Job{
		id:      uuid.NewString(),
		request: req,
		created: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
		state:   StatePending,
	}
	logger := cfg.Logger.WithFields(map[string]interface{}{"component": "export", "job": j.id})
	go j.run(ctx, remote, cfg.PollInterval, logger)
	return j
}

func (j *Job) ID() string         { return j.id }
func (j *Job) Request() Request   { return j.request }
func (j *Job) Created() time.Time { return j.created }

// Done is closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} { return j.done }

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// RemoteID is the backend's job identifier, empty until submitted.
func (j *Job) RemoteID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.remoteID
}

// Result returns the outcome; it is only meaningful once Done is closed.
func (j *Job) Result() Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// Cancel stops polling and marks the job cancelled if it has not finished.
func (j *Job) Cancel() {
	j.mu.Lock()
	if !j.state.Terminal() {
		j.state = StateCancelled
		j.result = Result{Err: context.Canceled}
	}
	j.mu.Unlock()
	j.cancel()
}

// Wait blocks until the job finishes or ctx is done.
func (j *Job) Wait(ctx context.Context) (Result, error) {
	select {
	case <-j.done:
		r := j.Result()
		return r, r.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (j *Job) run(ctx context.Context, remote Remote, interval time.Duration, logger logging.Logger) {
	defer close(j.done)
	defer j.cancel()

	remoteID, err := remote.SubmitExport(ctx, j.request)
	if err != nil {
		if errors.Is(err, ErrUnsupported) {
			j.finish(StateFailed, Result{Err: err})
		} else {
			j.finish(StateFailed, Result{Err: j.failure(ctx, "submit", err)})
		}
		return
	}
	logger.Info("Submitted backend export %s", remoteID)

	j.mu.Lock()
	j.remoteID = remoteID
	if !j.state.Terminal() {
		j.state = StateRunning
	}
	j.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		select {
		case <-ctx.Done():
			detail := lastErr
			if detail == nil {
				detail = ctx.Err()
			}
			j.finish(StateFailed, Result{Err: j.failure(ctx, "poll", detail)})
			return
		case <-ticker.C:
		}

		status, err := remote.ExportStatus(ctx, remoteID)
		if err != nil {
			logger.Debug("Export status check failed: %v", err)
			lastErr = err
			continue
		}
		lastErr = nil

		switch status.State {
		case StateCompleted:
			logger.Info("Backend export %s completed", remoteID)
			j.finish(StateCompleted, Result{DownloadURL: status.DownloadURL})
			return
		case StateFailed, StateCancelled:
			detail := status.Error
			if detail == "" {
				detail = "backend reported " + string(status.State)
			}
			j.finish(StateFailed, Result{Err: fmt.Errorf("%w: %s", ErrExportFailed, detail)})
			return
		case StateRunning:
			j.mu.Lock()
			if j.state == StatePending {
				j.state = StateRunning
			}
			j.mu.Unlock()
		}
	}
}

// failure wraps err as ErrExportFailed, noting a timeout if that ended the job.
func (j *Job) failure(ctx context.Context, stage string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: timed out during %s: %v", ErrExportFailed, stage, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrExportFailed, stage, err)
}

// finish records a terminal state unless Cancel got there first.
func (j *Job) finish(state State, r Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return
	}
	j.state = state
	j.result = r
}
