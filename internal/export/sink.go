package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Sink delivers a prepared artifact and reports where it went.
type Sink interface {
	Deliver(ctx context.Context, a Artifact) (string, error)
}

// Downloader is implemented by backends whose export download URLs need the
// backend's own client to fetch.
type Downloader interface {
	Download(ctx context.Context, url string, w io.Writer) error
}

// FileSink writes artifacts into Dir under their own name.
type FileSink struct {
	Dir string
}

func (s FileSink) Deliver(ctx context.Context, a Artifact) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dir := s.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating export directory: %w", err)
	}
	path := filepath.Join(dir, a.Name)
	if err := os.WriteFile(path, a.Data, 0o644); err != nil {
		return "", fmt.Errorf("writing export: %w", err)
	}
	return path, nil
}

// WriterSink streams artifacts to W.
type WriterSink struct {
	W    io.Writer
	Name string // reported location, e.g. "stdout"
}

func (s WriterSink) Deliver(ctx context.Context, a Artifact) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := s.W.Write(a.Data); err != nil {
		return "", fmt.Errorf("writing export: %w", err)
	}
	if s.Name != "" {
		return s.Name, nil
	}
	return a.Name, nil
}
