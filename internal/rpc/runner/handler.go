package runner

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/animus-coder/testpilot/internal/observability"
	"github.com/animus-coder/testpilot/internal/rpc"
)

// Handler processes Generate requests and streams NDJSON events.
type Handler struct {
	runner  Runner
	metrics *observability.Metrics
}

// NewHandler constructs a handler instance.
func NewHandler(runner Runner, metrics *observability.Metrics) *Handler {
	return &Handler{runner: runner, metrics: metrics}
}

// ServeHTTP handles POST /generate with an NDJSON stream of Event.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.metrics.RecordTransportError("ndjson", "method_not_allowed")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.metrics.IncActiveSessions("ndjson")
	defer h.metrics.DecActiveSessions("ndjson")

	var req rpc.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.metrics.RecordTransportError("ndjson", "decode")
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}
	EnsureIDs(&req)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	if h.runner == nil {
		http.Error(w, "runner unavailable", http.StatusServiceUnavailable)
		return
	}

	events, err := h.runner.Run(r.Context(), req)
	if err != nil {
		h.metrics.RecordTransportError("ndjson", "runner_error")
		status := http.StatusInternalServerError
		if errors.Is(err, ErrNoPaths) {
			status = http.StatusBadRequest
		}
		http.Error(w, fmt.Sprintf("runner error: %v", err), status)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("X-Run-ID", req.RunID)
	w.WriteHeader(http.StatusOK)

	writer := bufio.NewWriter(w)
	enc := json.NewEncoder(writer)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			h.metrics.RecordTransportError("ndjson", "encode")
			continue
		}
		if err := writer.Flush(); err != nil {
			// Client left; keep draining so the run goroutine can finish.
			continue
		}
		flusher.Flush()
	}
}
