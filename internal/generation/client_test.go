package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/animus-coder/testpilot/internal/artifact"
)

func fastOptions(baseURL string) Options {
	quick := Backoff{Attempts: 3, Initial: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2}
	return Options{
		BaseURL:       baseURL,
		Token:         "secret",
		LicenseKey:    "lic-1",
		PollInterval:  time.Millisecond,
		PollTimeout:   time.Second,
		Retry:         quick,
		QuotaRetry:    quick,
		FeedbackRetry: quick,
	}
}

type retryCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *retryCounter) RecordRetry(endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	r.counts[endpoint]++
}

func outputString(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	s, err := json.Marshal(string(b))
	require.NoError(t, err)
	return string(s)
}

func TestGenerateInitialCreatesAndPollsJob(t *testing.T) {
	var polls atomic.Int32
	output := outputString(t, map[string]any{
		"outputTestClass":                 "package calc\n",
		"outputRequiredClassContextPaths": []string{"calc.Helper"},
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/invoke-llm-patch":
			require.Equal(t, http.MethodPost, r.Method)
			var body struct {
				Contents []Content `json:"contents"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.NotEmpty(t, body.Contents)
			require.Equal(t, RoleUser, body.Contents[0].Role)
			_, _ = io.WriteString(w, `{"jobId":"job-1"}`)
		case "/fetch-job":
			require.Equal(t, "job-1", r.URL.Query().Get("id"))
			if polls.Add(1) < 3 {
				_, _ = io.WriteString(w, `{"status":"running"}`)
				return
			}
			_, _ = io.WriteString(w, `{"status":"done","output":`+output+`}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(fastOptions(srv.URL), nil)
	res, err := c.Generate(context.Background(), Request{Mode: ModeInitial, SourceName: "calc.Calc", SourceText: "package calc\n"})
	require.NoError(t, err)
	require.Equal(t, "package calc\n", res.Text)
	require.Empty(t, res.Diff)
	require.Equal(t, []string{"calc.Helper"}, res.ContextRefs)
	require.Equal(t, "job-1", res.JobID)
	require.EqualValues(t, 3, polls.Load())
}

func TestGenerateIncrementalParsesDiff(t *testing.T) {
	c := NewClient(fastOptions("http://mock"), nil)
	c.SetHTTPClient(&http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.URL.Path == "/invoke-llm-patch" {
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			require.Contains(t, string(body), "Existing test file")
			require.Contains(t, string(body), `"functionResponse":{"name":"verify"`)
			return jsonResponse(http.StatusOK, `{"jobId":"j"}`), nil
		}
		return jsonResponse(http.StatusOK, `{"status":"done","output":{"outputTestClassUnifiedDiffFormat":"@@ -1 +1 @@\n-a\n+b\n"}}`), nil
	})})

	res, err := c.Generate(context.Background(), Request{
		Mode:            ModeIncremental,
		SourceText:      "package calc\n",
		ArtifactText:    "a\n",
		LastErrorOutput: "Line 1: a\n  undefined: a",
	})
	require.NoError(t, err)
	require.Equal(t, "@@ -1 +1 @@\n-a\n+b\n", res.Diff)
	require.Empty(t, res.Text)
}

func TestGenerateClientErrorIsTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "quota exceeded", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewClient(fastOptions(srv.URL), nil).Generate(context.Background(), Request{})
	ce, ok := AsClientError(err)
	require.True(t, ok)
	require.Equal(t, http.StatusForbidden, ce.Status)
	require.Equal(t, "quota exceeded", ce.Body)
	require.EqualValues(t, 1, calls.Load())
}

func TestGenerateRetriesTransientStatus(t *testing.T) {
	var creates atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/invoke-llm-patch" {
			if creates.Add(1) == 1 {
				http.Error(w, "overloaded", http.StatusServiceUnavailable)
				return
			}
			_, _ = io.WriteString(w, `{"jobId":"j2"}`)
			return
		}
		_, _ = io.WriteString(w, `{"status":"done","output":{"outputTestClass":"x"}}`)
	}))
	defer srv.Close()

	metrics := &retryCounter{}
	c := NewClient(fastOptions(srv.URL), nil)
	c.Metrics = metrics
	res, err := c.Generate(context.Background(), Request{})
	require.NoError(t, err)
	require.Equal(t, "x", res.Text)
	require.EqualValues(t, 2, creates.Load())
	require.Equal(t, 1, metrics.counts["invoke-llm-patch"])
}

func TestGenerateRetriesJobErrorAndMalformedOutput(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/invoke-llm-patch" {
			_, _ = io.WriteString(w, `{"jobId":"j"}`)
			return
		}
		switch polls.Add(1) {
		case 1:
			_, _ = io.WriteString(w, `{"status":"error","error":"model crashed"}`)
		case 2:
			_, _ = io.WriteString(w, `{"status":"done","output":"not json"}`)
		default:
			_, _ = io.WriteString(w, `{"status":"done","output":"{\"outputTestClass\":\"ok\"}"}`)
		}
	}))
	defer srv.Close()

	res, err := NewClient(fastOptions(srv.URL), nil).Generate(context.Background(), Request{})
	require.NoError(t, err)
	require.Equal(t, "ok", res.Text)
}

func TestGenerateExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(fastOptions(srv.URL), nil).Generate(context.Background(), Request{})
	require.ErrorIs(t, err, ErrRetriesExhausted)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusBadGateway, se.Status)
	require.EqualValues(t, 3, calls.Load())
}

func TestGeneratePollTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/invoke-llm-patch" {
			_, _ = io.WriteString(w, `{"jobId":"slow"}`)
			return
		}
		_, _ = io.WriteString(w, `{"status":"pending"}`)
	}))
	defer srv.Close()

	opts := fastOptions(srv.URL)
	opts.PollTimeout = 20 * time.Millisecond
	opts.Retry.Attempts = 2
	_, err := NewClient(opts, nil).Generate(context.Background(), Request{})
	require.ErrorIs(t, err, ErrRetriesExhausted)
	require.ErrorIs(t, err, ErrPollTimeout)
}

func TestGenerateCancellationAbortsBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	opts := fastOptions(srv.URL)
	opts.Retry = Backoff{Attempts: 10, Initial: time.Minute, Max: time.Minute, Factor: 2}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewClient(opts, nil).Generate(ctx, Request{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestFetchQuota(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/fetch-quota", r.URL.Path)
		require.Equal(t, "lic-1", r.URL.Query().Get("licenseKey"))
		_, _ = io.WriteString(w, `{"quotaUsed":3,"quotaTotal":10,"quotaRemaining":7,"message":"ok"}`)
	}))
	defer srv.Close()

	q, err := NewClient(fastOptions(srv.URL), nil).FetchQuota(context.Background())
	require.NoError(t, err)
	require.Equal(t, Quota{Used: 3, Total: 10, Remaining: 7, Message: "ok"}, q)
}

func TestFetchQuotaDegradesToZero(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	q, err := NewClient(fastOptions(srv.URL), nil).FetchQuota(context.Background())
	require.NoError(t, err)
	require.Equal(t, Quota{}, q)
	require.EqualValues(t, 3, calls.Load())
}

func TestSendFeedbackRetriesThenDrops(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, map[string]string{"cut": "calc.Calc", "rating": "down"}, body)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	NewClient(fastOptions(srv.URL), nil).SendFeedback(context.Background(), "calc.Calc", RatingDown)
	require.EqualValues(t, 3, calls.Load())
}

func TestBackoffDelayIsCapped(t *testing.T) {
	b := DefaultGenerateBackoff()
	require.Equal(t, time.Second, b.Delay(1))
	require.Equal(t, 2*time.Second, b.Delay(2))
	require.Equal(t, 16*time.Second, b.Delay(5))
	require.Equal(t, 30*time.Second, b.Delay(6))
	require.Equal(t, 30*time.Second, b.Delay(9))

	for i := 0; i < 100; i++ {
		j := b.jitter()
		require.GreaterOrEqual(t, j, time.Duration(0))
		require.LessOrEqual(t, j, 250*time.Millisecond)
	}
}

func TestContentRoundTripAndArmValidation(t *testing.T) {
	contents := BuildContents(Request{
		Mode:            ModeIncremental,
		SourceName:      "calc.Calc",
		SourceText:      "src",
		ArtifactText:    "test",
		LastErrorOutput: "boom",
		Context:         []artifact.ContextFile{{Ref: "calc.Helper", Content: "helper", Resolved: true}},
	})
	require.Len(t, contents, 5)
	require.Equal(t, RoleModel, contents[3].Role)
	call, ok := contents[3].Parts[0].(FunctionCallPart)
	require.True(t, ok)
	require.Equal(t, "request_context", call.Name)

	data, err := json.Marshal(contents)
	require.NoError(t, err)
	var decoded []Content
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 5)
	resp, ok := decoded[4].Parts[0].(FunctionResponsePart)
	require.True(t, ok)
	require.Equal(t, "helper", resp.Response["content"])

	var bad Content
	err = json.Unmarshal([]byte(`{"role":"user","parts":[{"text":"a","functionCall":{"name":"x"}}]}`), &bad)
	require.ErrorContains(t, err, "exactly one")
	err = json.Unmarshal([]byte(`{"role":"user","parts":[{}]}`), &bad)
	require.Error(t, err)
}

func TestParseOutputStripsFence(t *testing.T) {
	raw, err := json.Marshal("```json\n{\"outputTestClass\":\"body\"}\n```")
	require.NoError(t, err)
	res, err := parseOutput(raw, ModeInitial)
	require.NoError(t, err)
	require.Equal(t, "body", res.Text)

	_, err = parseOutput(json.RawMessage(`{"outputTestClass":"body"}`), ModeIncremental)
	require.ErrorIs(t, err, ErrMalformedOutput)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

type roundTripFunc func(r *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func TestErrorTaxonomy(t *testing.T) {
	ce := fmt.Errorf("create job: %w", &ClientError{Status: 403, Body: "quota exceeded"})
	require.True(t, IsTerminal(ce))
	require.False(t, IsRetryable(ce))
	got, ok := AsClientError(ce)
	require.True(t, ok)
	require.Equal(t, 403, got.Status)

	require.True(t, IsTerminal(context.Canceled))
	require.True(t, IsRetryable(&StatusError{Status: 503}))
	require.True(t, IsRetryable(&JobError{JobID: "j1"}))
	require.True(t, IsRetryable(fmt.Errorf("job j1: %w", ErrPollTimeout)))
	require.False(t, IsRetryable(nil))
}
