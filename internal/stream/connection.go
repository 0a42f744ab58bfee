package stream

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jmurray2011/skein/internal/logging"
)

// ErrRetriesExhausted is wrapped by LastError once the connection is Failed.
var ErrRetriesExhausted = errors.New("reconnect retries exhausted")

// Defaults for Config fields left at zero.
const (
	DefaultQueueSize  = 256
	DefaultMaxRetries = 5
)

// Config tunes a Connection.
type Config struct {
	QueueSize  int
	Backoff    Backoff
	MaxRetries int           // consecutive failed attempts before Failed
	MaxElapsed time.Duration // time spent reconnecting before Failed; 0 = no limit
}

// DefaultConfig returns the default connection settings.
func DefaultConfig() Config {
	return Config{
		QueueSize:  DefaultQueueSize,
		Backoff:    DefaultBackoff(),
		MaxRetries: DefaultMaxRetries,
	}
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.MaxElapsed < 0 {
		c.MaxElapsed = 0
	}
	c.Backoff = c.Backoff.withDefaults()
	return c
}

// Option configures a Connection.
type Option func(*Connection)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Connection) { c.logger = l }
}

// WithJitterSource replaces the random source used for backoff jitter.
// fn must return values in [0, 1).
func WithJitterSource(fn func() float64) Option {
	return func(c *Connection) { c.rand = fn }
}

// Connection keeps a Transport connected and delivers its frames on a
// bounded channel. Frames that do not fit are dropped and counted.
type Connection struct {
	transport Transport
	cfg       Config
	logger    logging.Logger
	rand      func() float64

	messages chan Message
	dropped  atomic.Uint64
	received atomic.Uint64

	// notifyMu is held across a state change and its callbacks so listeners
	// observe transitions in order.
	notifyMu  sync.Mutex
	mu        sync.Mutex
	state     State
	gen       uint64 // bumped by Connect/Disconnect; stale runs stop mutating
	cancel    context.CancelFunc
	done      chan struct{}
	lastErr   error
	session   string
	listeners []func(Transition)
}

// NewConnection creates a disconnected Connection.
func NewConnection(t Transport, cfg Config, opts ...Option) *Connection {
	cfg = cfg.withDefaults()
	c := &Connection{
		transport: t,
		cfg:       cfg,
		logger:    logging.NopLogger{},
		rand:      rand.Float64,
		messages:  make(chan Message, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithField("component", "stream")
	return c
}

// Messages returns the delivery channel. It stays open for the lifetime of
// the Connection and spans reconnects.
func (c *Connection) Messages() <-chan Message { return c.messages }

// Dropped returns the number of frames discarded because the queue was full.
func (c *Connection) Dropped() uint64 { return c.dropped.Load() }

// Received returns the number of frames read from the transport.
func (c *Connection) Received() uint64 { return c.received.Load() }

// State returns the current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the most recent transport error, if any.
func (c *Connection) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// SessionID returns the ID of the current session, or "" when not connected.
func (c *Connection) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// OnStateChange registers fn for every transition. Callbacks run
// synchronously and in order; fn must not call Connect or Disconnect.
func (c *Connection) OnStateChange(fn func(Transition)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Connect starts connecting. It is a no-op while Connecting, Connected or
// Reconnecting. From Disconnected or Failed it starts over with a fresh
// backoff. The connection runs until Disconnect or until ctx is done.
func (c *Connection) Connect(ctx context.Context) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if c.state.Active() {
		c.mu.Unlock()
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	gen := c.gen
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	c.lastErr = nil
	tr := c.setLocked(Connecting, nil)
	listeners := c.listeners
	c.mu.Unlock()

	notify(listeners, tr)
	go c.run(runCtx, gen, done)
}

// Disconnect stops the connection from any state. It cancels a pending
// retry, closes the session and waits for the receive loop to exit.
// No retry follows a Disconnect.
func (c *Connection) Disconnect() {
	c.notifyMu.Lock()
	c.mu.Lock()
	c.gen++
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	tr := c.setLocked(Disconnected, nil)
	listeners := c.listeners
	c.mu.Unlock()
	notify(listeners, tr)
	c.notifyMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// setLocked changes state and returns the transition, or nil if unchanged.
func (c *Connection) setLocked(to State, err error) *Transition {
	if err != nil {
		c.lastErr = err
	}
	if to != Connected {
		c.session = ""
	}
	if c.state == to {
		return nil
	}
	tr := &Transition{From: c.state, To: to, Err: err, At: time.Now()}
	c.state = to
	return tr
}

// transition applies a state change made by the run loop of generation gen.
// It returns false when the run is stale and must stop.
func (c *Connection) transition(gen uint64, to State, err error, session string) bool {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	tr := c.setLocked(to, err)
	if to == Connected {
		c.session = session
	}
	listeners := c.listeners
	c.mu.Unlock()

	notify(listeners, tr)
	return true
}

func notify(listeners []func(Transition), tr *Transition) {
	if tr == nil {
		return
	}
	for _, fn := range listeners {
		fn(*tr)
	}
}

func (c *Connection) run(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)

	var (
		attempt      int       // failed attempts since entering Reconnecting
		reconnecting time.Time // when the current outage started
	)

	for {
		if !reconnecting.IsZero() {
			delay := c.cfg.Backoff.Delay(attempt, c.rand())
			c.logger.Debug("Reconnecting in %s (attempt %d/%d)", delay.Round(time.Millisecond), attempt+1, c.cfg.MaxRetries)
			if !sleep(ctx, delay) {
				c.stopped(gen)
				return
			}
		}

		sess, err := c.transport.Dial(ctx)
		if ctx.Err() != nil {
			if sess != nil {
				_ = sess.Close()
			}
			c.stopped(gen)
			return
		}
		if err != nil {
			if reconnecting.IsZero() {
				reconnecting = time.Now()
				c.logger.Warn("Connect failed: %v", err)
				if !c.transition(gen, Reconnecting, err, "") {
					return
				}
				continue
			}
			attempt++
			if c.exhausted(attempt, reconnecting) {
				failErr := fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, attempt, err)
				c.logger.Error("Giving up: %v", failErr)
				c.transition(gen, Failed, failErr, "")
				return
			}
			c.logger.Warn("Reconnect attempt %d failed: %v", attempt, err)
			c.mu.Lock()
			if gen == c.gen {
				c.lastErr = err
			}
			c.mu.Unlock()
			continue
		}

		sessionID := uuid.NewString()
		if !c.transition(gen, Connected, nil, sessionID) {
			_ = sess.Close()
			return
		}
		c.logger.Info("Connected (session %s)", sessionID)
		attempt, reconnecting = 0, time.Time{}

		err = c.receive(ctx, sess, sessionID)
		_ = sess.Close()
		if ctx.Err() != nil {
			c.stopped(gen)
			return
		}

		c.logger.Warn("Connection lost: %v", err)
		reconnecting = time.Now()
		if !c.transition(gen, Reconnecting, err, "") {
			return
		}
	}
}

func (c *Connection) exhausted(attempt int, since time.Time) bool {
	if attempt >= c.cfg.MaxRetries {
		return true
	}
	return c.cfg.MaxElapsed > 0 && time.Since(since) >= c.cfg.MaxElapsed
}

// stopped records that the caller's context ended the run.
func (c *Connection) stopped(gen uint64) {
	c.transition(gen, Disconnected, nil, "")
}

func (c *Connection) receive(ctx context.Context, sess Session, sessionID string) error {
	stop := context.AfterFunc(ctx, func() { _ = sess.Close() })
	defer stop()

	for {
		data, err := sess.Recv(ctx)
		if err != nil {
			return err
		}
		c.received.Add(1)
		c.deliver(Message{Data: data, Session: sessionID, ReceivedAt: time.Now()})
	}
}

// deliver never blocks; a full queue drops the frame.
func (c *Connection) deliver(msg Message) {
	select {
	case c.messages <- msg:
	default:
		dropped := c.dropped.Add(1)
		if dropped == 1 || dropped%100 == 0 {
			c.logger.Warn("Event queue full, dropped %d frame(s) - consider increasing stream.queue_size", dropped)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
