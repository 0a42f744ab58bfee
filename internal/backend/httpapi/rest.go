package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jmurray2011/skein/internal/backend"
	"github.com/jmurray2011/skein/internal/export"
	"github.com/jmurray2011/skein/internal/filter"
	"github.com/jmurray2011/skein/internal/logevent"
	"github.com/jmurray2011/skein/internal/stats"
)

type pageResponse struct {
	Items []json.RawMessage `json:"items"`
	Total int               `json:"total"`
	Page  int               `json:"page"`
	Size  int               `json:"size"`
}

// Query fetches one page of history from GET /logs.
func (c *Client) Query(ctx context.Context, q backend.Query) (backend.Page, error) {
	q = q.Normalize()
	params := q.Filter.Values()
	params.Set("page", strconv.Itoa(q.Page))
	params.Set("size", strconv.Itoa(q.Size))

	var resp pageResponse
	if err := c.getJSON(ctx, "/logs", params, &resp); err != nil {
		return backend.Page{}, fmt.Errorf("querying history: %w", err)
	}

	now := time.Now()
	page := backend.Page{
		Events: make([]logevent.Event, 0, len(resp.Items)),
		Total:  resp.Total,
		Page:   resp.Page,
		Size:   resp.Size,
	}
	if page.Page == 0 {
		page.Page = q.Page
	}
	if page.Size == 0 {
		page.Size = q.Size
	}

	skipped := 0
	for _, item := range resp.Items {
		raw, err := logevent.Decode(item)
		if err == nil {
			var e logevent.Event
			if e, err = c.normalizer.Normalize(raw, now); err == nil {
				page.Events = append(page.Events, e)
				continue
			}
		}
		skipped++
		c.logger.Debug("Skipping history item: %v", err)
	}
	if skipped > 0 {
		c.logger.Warn("Skipped %d malformed history items", skipped)
	}
	return page, nil
}

type statsResponse struct {
	Total   int64            `json:"total"`
	ByLevel map[string]int64 `json:"by_level"`
}

// FetchSummary reads GET /logs/stats. Level names are folded onto the
// canonical ones where possible.
func (c *Client) FetchSummary(ctx context.Context) (stats.Summary, error) {
	var resp statsResponse
	if err := c.getJSON(ctx, "/logs/stats", nil, &resp); err != nil {
		return stats.Summary{}, fmt.Errorf("fetching statistics: %w", err)
	}

	summary := stats.Summary{Total: resp.Total, ByLevel: make(map[string]int64, len(resp.ByLevel))}
	for name, n := range resp.ByLevel {
		if lvl, err := logevent.ParseLevel(name); err == nil {
			name = lvl.String()
		}
		summary.ByLevel[name] += n
	}
	return summary, nil
}

// exportFilter mirrors the history query parameters in a JSON body.
type exportFilter struct {
	Levels  []string `json:"level,omitempty"`
	Sources []string `json:"source,omitempty"`
	Search  string   `json:"search,omitempty"`
	From    string   `json:"from,omitempty"`
	To      string   `json:"to,omitempty"`
}

func newExportFilter(st filter.State) exportFilter {
	v := st.Values()
	return exportFilter{
		Levels:  v["level[]"],
		Sources: v["source[]"],
		Search:  v.Get("search"),
		From:    v.Get("from"),
		To:      v.Get("to"),
	}
}

type exportRequest struct {
	Format string       `json:"format"`
	Filter exportFilter `json:"filter"`
}

type exportResponse struct {
	JobID string `json:"job_id"`
}

// SubmitExport starts a backend export with POST /logs/export.
func (c *Client) SubmitExport(ctx context.Context, req export.Request) (string, error) {
	body, err := json.Marshal(exportRequest{Format: string(req.Format), Filter: newExportFilter(req.Filter)})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/logs/export").String(), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var resp exportResponse
	if err := c.do(httpReq, &resp); err != nil {
		if hasStatus(err, http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusNotImplemented) {
			return "", export.ErrUnsupported
		}
		return "", err
	}
	if resp.JobID == "" {
		return "", fmt.Errorf("export response carried no job_id")
	}
	return resp.JobID, nil
}

type exportStatusResponse struct {
	Status      string `json:"status"`
	DownloadURL string `json:"download_url"`
	Error       string `json:"error"`
}

// ExportStatus polls GET /logs/export/<id>. Relative download URLs are
// resolved against the base URL.
func (c *Client) ExportStatus(ctx context.Context, id string) (export.RemoteStatus, error) {
	var resp exportStatusResponse
	if err := c.getJSON(ctx, "/logs/export/"+url.PathEscape(id), nil, &resp); err != nil {
		return export.RemoteStatus{}, err
	}

	state, err := export.ParseRemoteState(resp.Status)
	if err != nil {
		return export.RemoteStatus{}, err
	}

	status := export.RemoteStatus{State: state, Error: resp.Error}
	if resp.DownloadURL != "" {
		ref, err := url.Parse(resp.DownloadURL)
		if err != nil {
			return export.RemoteStatus{}, fmt.Errorf("invalid download_url %q: %w", resp.DownloadURL, err)
		}
		status.DownloadURL = c.base.ResolveReference(ref).String()
	}
	return status, nil
}

// Download copies a completed export to w.
func (c *Client) Download(ctx context.Context, rawURL string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("downloading export: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("downloading export: %w", err)
	}
	return nil
}

var (
	_ backend.Backend   = (*Client)(nil)
	_ stats.Fetcher     = (*Client)(nil)
	_ export.Remote     = (*Client)(nil)
	_ export.Downloader = (*Client)(nil)
)
