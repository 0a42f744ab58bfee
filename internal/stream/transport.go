// Package stream manages the lifecycle of a push connection to a backend's
// live log feed: connect, receive, reconnect with backoff, disconnect.
package stream

import (
	"context"
	"time"
)

// Transport opens sessions to a live feed.
type Transport interface {
	Dial(ctx context.Context) (Session, error)
}

// Session is one open connection. Recv blocks until a frame arrives, the
// session fails, or ctx is done. Close must be safe to call more than once
// and must unblock a pending Recv.
type Session interface {
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

// Message is one raw frame delivered by a Connection.
type Message struct {
	Data       []byte
	Session    string // ID of the session that received the frame
	ReceivedAt time.Time
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context) (Session, error)

func (f TransportFunc) Dial(ctx context.Context) (Session, error) { return f(ctx) }
