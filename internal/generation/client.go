package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/animus-coder/testpilot/internal/version"
)

const maxErrorBody = 4 * 1024

// Options configures a Client.
type Options struct {
	BaseURL        string
	Token          string
	LicenseKey     string
	Model          string
	RequestTimeout time.Duration
	PollInterval   time.Duration
	PollTimeout    time.Duration
	Retry          Backoff
	QuotaRetry     Backoff
	FeedbackRetry  Backoff
}

// Client talks to the remote generation job API.
type Client struct {
	opts    Options
	baseURL string
	client  *http.Client
	logger  *zap.Logger
	Metrics interface {
		RecordRetry(endpoint string)
	}
}

// NewClient constructs a Client, filling unset options with defaults.
func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.PollTimeout == 0 {
		opts.PollTimeout = 450 * time.Second
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = DefaultGenerateBackoff()
	}
	if opts.QuotaRetry.Attempts == 0 {
		opts.QuotaRetry = DefaultQuotaBackoff()
	}
	if opts.FeedbackRetry.Attempts == 0 {
		opts.FeedbackRetry = DefaultFeedbackBackoff()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		opts:    opts,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		client:  &http.Client{Timeout: opts.RequestTimeout},
		logger:  logger,
	}
}

// SetHTTPClient replaces the transport client.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.client = hc
}

type invokeRequest struct {
	Contents []Content `json:"contents"`
	Model    string    `json:"model,omitempty"`
}

type invokeResponse struct {
	JobID string `json:"jobId"`
}

type jobResponse struct {
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type jobOutput struct {
	OutputTestClass                  *string  `json:"outputTestClass"`
	OutputTestClassUnifiedDiffFormat *string  `json:"outputTestClassUnifiedDiffFormat"`
	OutputRequiredClassContextPaths  []string `json:"outputRequiredClassContextPaths"`
}

// Generate creates a job and polls it to completion. The whole sequence is
// retried on transient failures; a ClientError or cancellation returns at once.
func (c *Client) Generate(ctx context.Context, req Request) (Result, error) {
	if req.Model == "" {
		req.Model = c.opts.Model
	}
	payload, err := json.Marshal(invokeRequest{Contents: BuildContents(req), Model: req.Model})
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	var res Result
	err = retry(ctx, c.opts.Retry, func(ctx context.Context, attempt int) error {
		jobID, err := c.createJob(ctx, payload)
		if err != nil {
			return err
		}
		out, err := c.pollJob(ctx, jobID)
		if err != nil {
			return err
		}
		r, err := parseOutput(out, req.Mode)
		if err != nil {
			return fmt.Errorf("job %s: %w", jobID, err)
		}
		r.JobID = jobID
		res = r
		return nil
	}, c.onRetry("invoke-llm-patch"))
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func (c *Client) createJob(ctx context.Context, payload []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/invoke-llm-patch", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.opts.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	var resp invokeResponse
	if err := c.do(httpReq, &resp); err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", fmt.Errorf("create job: %w: empty jobId", ErrMalformedOutput)
	}
	c.logger.Debug("generation job created", zap.String("job_id", resp.JobID))
	return resp.JobID, nil
}

// pollJob polls at a fixed interval until the job finishes or the poll budget runs out.
func (c *Client) pollJob(ctx context.Context, jobID string) (json.RawMessage, error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.opts.PollTimeout)
	defer cancel()
	limiter := rate.NewLimiter(rate.Every(c.opts.PollInterval), 1)

	for {
		if err := limiter.Wait(pollCtx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("job %s: %w", jobID, ErrPollTimeout)
		}

		httpReq, err := http.NewRequestWithContext(pollCtx, http.MethodGet, c.baseURL+"/fetch-job?id="+url.QueryEscape(jobID), nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		if c.opts.Token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.opts.Token)
		}

		var job jobResponse
		if err := c.do(httpReq, &job); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if pollCtx.Err() != nil {
				return nil, fmt.Errorf("job %s: %w", jobID, ErrPollTimeout)
			}
			return nil, err
		}

		switch job.Status {
		case "pending", "running":
			continue
		case "done":
			return job.Output, nil
		case "error":
			return nil, &JobError{JobID: jobID, Message: job.Error}
		default:
			return nil, fmt.Errorf("job %s: %w: unknown status %q", jobID, ErrMalformedOutput, job.Status)
		}
	}
}

// do sends req and decodes a JSON body into out (nil to discard).
func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("User-Agent", version.UserAgent())
	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return statusError(res.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) onRetry(endpoint string) func(int, time.Duration, error) {
	return func(attempt int, wait time.Duration, err error) {
		c.logger.Warn("retrying request",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if c.Metrics != nil {
			c.Metrics.RecordRetry(endpoint)
		}
	}
}

// parseOutput decodes the job output, which is either a JSON object or a
// JSON string holding one (optionally fenced as a markdown code block).
func parseOutput(raw json.RawMessage, mode Mode) (Result, error) {
	body := bytes.TrimSpace(raw)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return Result{}, fmt.Errorf("%w: empty output", ErrMalformedOutput)
	}
	if body[0] == '"' {
		var s string
		if err := json.Unmarshal(body, &s); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
		}
		body = []byte(stripFence(s))
	}

	var out jobOutput
	if err := json.Unmarshal(body, &out); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	res := Result{ContextRefs: out.OutputRequiredClassContextPaths}
	switch mode {
	case ModeIncremental:
		if out.OutputTestClassUnifiedDiffFormat == nil {
			return Result{}, fmt.Errorf("%w: missing outputTestClassUnifiedDiffFormat", ErrMalformedOutput)
		}
		res.Diff = *out.OutputTestClassUnifiedDiffFormat
	default:
		if out.OutputTestClass == nil || strings.TrimSpace(*out.OutputTestClass) == "" {
			return Result{}, fmt.Errorf("%w: missing outputTestClass", ErrMalformedOutput)
		}
		res.Text = *out.OutputTestClass
	}
	return res, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
