// Package httpapi follows a log backend that exposes the skein HTTP
// contract: a WebSocket or server-sent-event live feed plus REST history,
// statistics and export endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jmurray2011/skein/internal/backend"
	"github.com/jmurray2011/skein/internal/logevent"
	"github.com/jmurray2011/skein/internal/logging"
	"github.com/jmurray2011/skein/internal/stream"
)

// Live transports.
const (
	LiveWebSocket = "ws"
	LiveSSE       = "sse"
)

const (
	// DefaultRequestTimeout bounds REST calls. Live feeds are not bounded.
	DefaultRequestTimeout = 30 * time.Second

	pingInterval = 30 * time.Second
	readTimeout  = 2 * pingInterval
	writeTimeout = 5 * time.Second
)

func init() {
	for _, scheme := range []string{"http", "https", "ws", "wss"} {
		backend.Register(scheme, open)
	}
}

// Client talks to one backend base URL.
type Client struct {
	base         *url.URL
	live         string
	httpClient   *http.Client
	streamClient *http.Client
	dialer       *websocket.Dialer
	header       http.Header
	logger       logging.Logger
	normalizer   *logevent.Normalizer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the client used for REST calls and the SSE feed.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
		c.streamClient = hc
	}
}

// WithLive selects the live transport, LiveWebSocket or LiveSSE.
func WithLive(live string) Option {
	return func(c *Client) { c.live = live }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithHeader adds a header to every request and to the WebSocket handshake.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.header.Add(key, value) }
}

// New creates a client for base, which may use any of the http, https, ws
// or wss schemes.
func New(base string, opts ...Option) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	switch u.Scheme {
	case "http", "https":
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return nil, fmt.Errorf("unsupported scheme %q for HTTP backend", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base URL %q has no host", base)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery, u.Fragment = "", ""

	c := &Client{
		base:         u,
		live:         LiveWebSocket,
		httpClient:   &http.Client{Timeout: DefaultRequestTimeout},
		streamClient: &http.Client{},
		dialer:       &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		header:       make(http.Header),
		logger:       logging.NopLogger{},
		normalizer:   logevent.NewNormalizer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.live != LiveWebSocket && c.live != LiveSSE {
		return nil, fmt.Errorf("unknown live transport %q (use ws or sse)", c.live)
	}
	return c, nil
}

func open(u *url.URL, opts backend.OpenOptions) (backend.Backend, error) {
	q := u.Query()
	live := q.Get("live")
	if live == "" {
		live = LiveWebSocket
	}
	q.Del("live")

	base := *u
	base.RawQuery = q.Encode()
	return New(base.String(), WithLive(live), WithLogger(opts.Log("http")))
}

// Kind returns "http".
func (c *Client) Kind() string { return "http" }

// String returns the base URL and live transport.
func (c *Client) String() string {
	return fmt.Sprintf("%s (live: %s)", c.base, c.live)
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Dial opens the live feed.
func (c *Client) Dial(ctx context.Context) (stream.Session, error) {
	if c.live == LiveSSE {
		return c.dialSSE(ctx)
	}
	return c.dialWebSocket(ctx)
}

func (c *Client) endpoint(path string) *url.URL {
	u := *c.base
	u.Path = c.base.Path + path
	return &u
}

func (c *Client) websocketURL(path string) string {
	u := c.endpoint(path)
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	return u.String()
}

func (c *Client) dialWebSocket(ctx context.Context) (stream.Session, error) {
	target := c.websocketURL("/logs/ws")
	conn, resp, err := c.dialer.DialContext(ctx, target, c.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake with %s: %s: %w", target, resp.Status, err)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", target, err)
	}
	c.logger.Debug("WebSocket connected to %s", target)
	return newWSSession(conn), nil
}

// wsSession reads one frame per text or binary message and keeps the
// connection alive with pings.
type wsSession struct {
	conn      *websocket.Conn
	stop      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newWSSession(conn *websocket.Conn) *wsSession {
	s := &wsSession{conn: conn, stop: make(chan struct{})}

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	go s.keepalive()
	return s
}

func (s *wsSession) keepalive() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (s *wsSession) Recv(ctx context.Context) ([]byte, error) {
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, fmt.Errorf("server closed the feed: %w", err)
			}
			return nil, err
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		return data, nil
	}
}

func (s *wsSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.Code, http.StatusText(e.Code))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{
		Method: resp.Request.Method,
		URL:    resp.Request.URL.String(),
		Code:   resp.StatusCode,
		Body:   strings.TrimSpace(string(body)),
	}
}

// do sends req and decodes a JSON response into out.
func (c *Client) do(req *http.Request, out any) error {
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", req.URL.Path, err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.endpoint(path)
	u.RawQuery = query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func hasStatus(err error, codes ...int) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	for _, code := range codes {
		if se.Code == code {
			return true
		}
	}
	return false
}
