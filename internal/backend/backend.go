// Package backend opens the external log producers skein can follow.
//
// A Backend is always a stream.Transport and can answer paged history
// queries. Backends may also implement stats.Fetcher (backend-wide
// statistics), export.Remote (backend-driven exports) and export.Downloader.
package backend

import (
	"context"
	"slices"

	"github.com/jmurray2011/skein/internal/export"
	"github.com/jmurray2011/skein/internal/filter"
	"github.com/jmurray2011/skein/internal/logevent"
	"github.com/jmurray2011/skein/internal/stats"
	"github.com/jmurray2011/skein/internal/stream"
)

// Page size bounds for history queries.
const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// Backend is the interface that all log backends implement.
type Backend interface {
	stream.Transport

	// Query returns one page of historical events, newest first.
	Query(ctx context.Context, q Query) (Page, error)

	// Kind returns the backend type identifier ("http", "cloudwatch", "file").
	Kind() string

	// String returns the backend location for display.
	String() string

	// Close releases any resources held by the backend.
	Close() error
}

// Query selects a page of history. Page is 1-based.
type Query struct {
	Filter filter.State
	Page   int
	Size   int
}

// Normalize clamps the page and size into range.
func (q Query) Normalize() Query {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Size <= 0 {
		q.Size = DefaultPageSize
	}
	if q.Size > MaxPageSize {
		q.Size = MaxPageSize
	}
	q.Filter = q.Filter.Normalize()
	return q
}

// Offset is the index of the first event on the page.
func (q Query) Offset() int {
	return (q.Page - 1) * q.Size
}

// Page is one page of a history query.
type Page struct {
	Events []logevent.Event `json:"items"`
	Total  int              `json:"total"`
	Page   int              `json:"page"`
	Size   int              `json:"size"`
}

// HasMore reports whether later pages exist.
func (p Page) HasMore() bool {
	return p.Page*p.Size < p.Total
}

// Paginate sorts events newest first and cuts out the page q selects.
// events is reordered in place.
func Paginate(events []logevent.Event, q Query) Page {
	q = q.Normalize()
	slices.SortStableFunc(events, func(a, b logevent.Event) int {
		return b.Timestamp.Compare(a.Timestamp)
	})

	page := Page{Total: len(events), Page: q.Page, Size: q.Size}
	start := q.Offset()
	if start >= len(events) {
		page.Events = []logevent.Event{}
		return page
	}
	end := min(start+q.Size, len(events))
	page.Events = events[start:end]
	return page
}

// Capabilities lists the optional features a backend supports.
type Capabilities struct {
	Statistics bool `json:"statistics"`
	Export     bool `json:"export"`
	Download   bool `json:"download"`
}

// CapabilitiesOf inspects b for the optional interfaces.
func CapabilitiesOf(b Backend) Capabilities {
	var c Capabilities
	_, c.Statistics = b.(stats.Fetcher)
	_, c.Export = b.(export.Remote)
	_, c.Download = b.(export.Downloader)
	return c
}
