package cloudwatch

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
)

const (
	// QueryTimeout is the maximum time to wait for a Logs Insights query.
	QueryTimeout = 60 * time.Second

	// QueryPollInterval is how often to check for query completion.
	QueryPollInterval = 500 * time.Millisecond
)

var (
	pipeRegex       = regexp.MustCompile(`\|`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// LogsClient is the subset of CloudWatch Logs the backend needs.
type LogsClient interface {
	FilterLogEvents(ctx context.Context, params FilterParams) ([]LogEvent, *string, error)
	RunInsightsQuery(ctx context.Context, params QueryParams) ([]map[string]string, error)
	CreateExportTask(ctx context.Context, params ExportParams) (string, error)
	DescribeExportTask(ctx context.Context, taskID string) (ExportTask, error)
}

// FilterParams selects one page of FilterLogEvents.
type FilterParams struct {
	LogGroup  string
	Pattern   string
	StartTime time.Time
	EndTime   time.Time
	NextToken *string
	Limit     int32
}

// LogEvent is one event returned by FilterLogEvents.
type LogEvent struct {
	ID        string
	Timestamp time.Time
	LogStream string
	Message   string
}

// QueryParams holds parameters for running a Logs Insights query.
type QueryParams struct {
	LogGroup  string
	StartTime time.Time
	EndTime   time.Time
	Query     string
	Limit     int
}

// ExportParams describes a CreateExportTask call.
type ExportParams struct {
	TaskName string
	LogGroup string
	From     time.Time
	To       time.Time
	Bucket   string
	Prefix   string
}

// ExportTask is the status of an export task.
type ExportTask struct {
	ID      string
	Status  string
	Message string
}

// Client wraps the CloudWatch Logs SDK client.
type Client struct {
	api *cloudwatchlogs.Client
}

// NewClient creates a Client from an SDK client.
func NewClient(api *cloudwatchlogs.Client) *Client {
	return &Client{api: api}
}

// NewLogsClient loads AWS configuration for profile and region and returns
// an SDK client plus the region actually in use.
func NewLogsClient(ctx context.Context, profile, region string) (*cloudwatchlogs.Client, string, error) {
	cfg, err := loadAWSConfig(ctx, profile, region)
	if err != nil {
		return nil, "", err
	}
	return cloudwatchlogs.NewFromConfig(cfg), cfg.Region, nil
}

func loadAWSConfig(ctx context.Context, profile, region string) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}

// FilterLogEvents returns one page of events and the token for the next.
func (c *Client) FilterLogEvents(ctx context.Context, params FilterParams) ([]LogEvent, *string, error) {
	input := &cloudwatchlogs.FilterLogEventsInput{
		LogGroupName: aws.String(params.LogGroup),
		StartTime:    aws.Int64(params.StartTime.UnixMilli()),
		EndTime:      aws.Int64(params.EndTime.UnixMilli()),
		NextToken:    params.NextToken,
	}
	if params.Limit > 0 {
		input.Limit = aws.Int32(params.Limit)
	}
	if params.Pattern != "" {
		input.FilterPattern = aws.String(params.Pattern)
	}

	result, err := c.api.FilterLogEvents(ctx, input)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to filter log events: %w", err)
	}

	events := make([]LogEvent, 0, len(result.Events))
	for _, e := range result.Events {
		if e.Timestamp == nil || e.Message == nil {
			continue
		}
		events = append(events, LogEvent{
			ID:        aws.ToString(e.EventId),
			Timestamp: time.UnixMilli(*e.Timestamp).UTC(),
			LogStream: aws.ToString(e.LogStreamName),
			Message:   *e.Message,
		})
	}
	return events, result.NextToken, nil
}

// RunInsightsQuery executes a Logs Insights query and returns its rows.
func (c *Client) RunInsightsQuery(ctx context.Context, params QueryParams) ([]map[string]string, error) {
	input := &cloudwatchlogs.StartQueryInput{
		LogGroupName: aws.String(params.LogGroup),
		StartTime:    aws.Int64(params.StartTime.Unix()),
		EndTime:      aws.Int64(params.EndTime.Unix()),
		QueryString:  aws.String(params.Query),
	}
	if params.Limit > 0 {
		input.Limit = aws.Int32(int32(params.Limit))
	}

	started, err := c.api.StartQuery(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to start query: %w", err)
	}

	timeout := time.After(QueryTimeout)
	ticker := time.NewTicker(QueryPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			return nil, fmt.Errorf("query did not complete within %v", QueryTimeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			result, err := c.api.GetQueryResults(ctx, &cloudwatchlogs.GetQueryResultsInput{
				QueryId: started.QueryId,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to get query results: %w", err)
			}

			switch result.Status {
			case types.QueryStatusComplete:
				return parseResults(result.Results), nil
			case types.QueryStatusFailed:
				return nil, fmt.Errorf("query failed")
			case types.QueryStatusCancelled:
				return nil, fmt.Errorf("query was cancelled")
			case types.QueryStatusTimeout:
				return nil, fmt.Errorf("query timed out on AWS side")
			}
		}
	}
}

func parseResults(results [][]types.ResultField) []map[string]string {
	rows := make([]map[string]string, 0, len(results))
	for _, row := range results {
		fields := make(map[string]string, len(row))
		for _, f := range row {
			if f.Field == nil || f.Value == nil {
				continue
			}
			fields[*f.Field] = *f.Value
		}
		rows = append(rows, fields)
	}
	return rows
}

// CreateExportTask starts an export of a log group to S3.
func (c *Client) CreateExportTask(ctx context.Context, params ExportParams) (string, error) {
	input := &cloudwatchlogs.CreateExportTaskInput{
		LogGroupName: aws.String(params.LogGroup),
		From:         aws.Int64(params.From.UnixMilli()),
		To:           aws.Int64(params.To.UnixMilli()),
		Destination:  aws.String(params.Bucket),
	}
	if params.TaskName != "" {
		input.TaskName = aws.String(params.TaskName)
	}
	if params.Prefix != "" {
		input.DestinationPrefix = aws.String(params.Prefix)
	}

	result, err := c.api.CreateExportTask(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to create export task: %w", err)
	}
	return aws.ToString(result.TaskId), nil
}

// DescribeExportTask returns the status of one export task.
func (c *Client) DescribeExportTask(ctx context.Context, taskID string) (ExportTask, error) {
	result, err := c.api.DescribeExportTasks(ctx, &cloudwatchlogs.DescribeExportTasksInput{
		TaskId: aws.String(taskID),
	})
	if err != nil {
		return ExportTask{}, fmt.Errorf("failed to describe export task: %w", err)
	}
	if len(result.ExportTasks) == 0 {
		return ExportTask{}, fmt.Errorf("export task %s not found", taskID)
	}

	t := result.ExportTasks[0]
	task := ExportTask{ID: aws.ToString(t.TaskId)}
	if t.Status != nil {
		task.Status = string(t.Status.Code)
		task.Message = aws.ToString(t.Status.Message)
	}
	return task, nil
}

// convertToFilterPattern turns "a|b" into the CloudWatch OR pattern
// `?"a" ?"b"` and quotes a single term.
func convertToFilterPattern(search string) string {
	search = strings.TrimSpace(search)
	if search == "" {
		return ""
	}

	parts := pipeRegex.Split(search, -1)
	var terms []string
	for _, p := range parts {
		p = strings.TrimSpace(whitespaceRegex.ReplaceAllString(p, " "))
		if p != "" {
			terms = append(terms, quoteTerm(p))
		}
	}
	if len(terms) == 1 {
		return terms[0]
	}
	for i := range terms {
		terms[i] = "?" + terms[i]
	}
	return strings.Join(terms, " ")
}

func quoteTerm(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

var _ LogsClient = (*Client)(nil)
