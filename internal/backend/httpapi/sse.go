package httpapi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"

	"github.com/jmurray2011/skein/internal/stream"
)

// errStreamEnded is returned when the server closes the event stream.
var errStreamEnded = errors.New("event stream closed by server")

func (c *Client) dialSSE(ctx context.Context) (stream.Session, error) {
	u := c.endpoint("/logs/stream")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("event stream %s: %w", u, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		return nil, statusError(resp)
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "text/event-stream" {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("event stream %s: unexpected content type %q", u, resp.Header.Get("Content-Type"))
	}

	c.logger.Debug("Event stream connected to %s", u)
	return &sseSession{body: resp.Body, reader: bufio.NewReader(resp.Body)}, nil
}

// sseSession yields the data of each server-sent event. Multi-line data is
// joined with newlines; comments and other fields are ignored.
type sseSession struct {
	body      io.ReadCloser
	reader    *bufio.Reader
	closeOnce sync.Once
	closeErr  error
}

func (s *sseSession) Recv(ctx context.Context) ([]byte, error) {
	var data []string
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil, errStreamEnded
			}
			return nil, err
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(data) > 0 {
				return []byte(strings.Join(data, "\n")), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		if field == "data" {
			data = append(data, strings.TrimPrefix(value, " "))
		}
	}
}

func (s *sseSession) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.body.Close() })
	return s.closeErr
}
