package runner

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/animus-coder/testpilot/internal/observability"
	"github.com/animus-coder/testpilot/internal/rpc"
)

func TestHandlerStreamsEvents(t *testing.T) {
	handler := NewHandler(fakeRunner(t), observability.NewMetrics())
	body := bytes.NewBufferString(`{"run_id":"test","paths":["a.go","b.go"]}`)
	req := httptest.NewRequest(http.MethodPost, "/generate", body)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	resp := rr.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))
	require.Equal(t, "test", resp.Header.Get("X-Run-ID"))

	scanner := bufio.NewScanner(resp.Body)
	var events []rpc.Event
	for scanner.Scan() {
		var evt rpc.Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &evt))
		events = append(events, evt)
	}
	require.NotEmpty(t, events)
	require.Equal(t, rpc.EventSummary, events[len(events)-1].Type)
	require.Equal(t, 2, events[len(events)-1].Summary.Succeeded)
}

func TestHandlerRejectsBadInput(t *testing.T) {
	handler := NewHandler(fakeRunner(t), nil)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/generate", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/generate", bytes.NewBufferString("{")))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/generate", bytes.NewBufferString(`{"paths":[]}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
