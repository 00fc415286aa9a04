package rpc

// GenerateRequest starts a bulk generation run over the given source files.
type GenerateRequest struct {
	RunID                 string   `json:"run_id,omitempty"`
	CorrelationID         string   `json:"correlation_id,omitempty"`
	Paths                 []string `json:"paths"`
	Model                 string   `json:"model,omitempty"`
	ContinueOnClientError bool     `json:"continue_on_client_error,omitempty"`
}

// Event types streamed back from the daemon.
const (
	EventStart    = "start"
	EventProgress = "progress"
	EventUnit     = "unit"
	EventSummary  = "summary"
	EventError    = "error"
)

// Event streams back progress from the daemon.
type Event struct {
	Type          string  `json:"type"` // start|progress|unit|summary|error
	RunID         string  `json:"run_id,omitempty"`
	CorrelationID string  `json:"correlation_id,omitempty"`
	Unit          string  `json:"unit,omitempty"`
	Completed     int     `json:"completed,omitempty"`
	Total         int     `json:"total,omitempty"`
	Fraction      float64 `json:"fraction,omitempty"`
	Attempt       int     `json:"attempt,omitempty"`
	Phase         string  `json:"phase,omitempty"`
	Mode          string  `json:"mode,omitempty"`
	Outcome       string  `json:"outcome,omitempty"`
	Message       string  `json:"message,omitempty"`
	Status        string  `json:"status,omitempty"`
	Reason        string  `json:"reason,omitempty"`
	Attempts      int     `json:"attempts,omitempty"`
	Artifact      string  `json:"artifact,omitempty"`
	Error         string  `json:"error,omitempty"`
	Done          bool    `json:"done,omitempty"`
	Summary       *Tally  `json:"summary,omitempty"`
}

// Tally is the wire form of a bulk summary.
type Tally struct {
	Total     int  `json:"total"`
	Succeeded int  `json:"succeeded"`
	Failed    int  `json:"failed"`
	Skipped   int  `json:"skipped"`
	Cancelled bool `json:"cancelled,omitempty"`
}

// GenerateStreamRequest is the bidirectional stream payload for Connect RPC.
// The first message must contain the Generate request; later messages may only cancel.
type GenerateStreamRequest struct {
	Generate *GenerateRequest `json:"generate,omitempty"`
	Cancel   bool             `json:"cancel,omitempty"`
	RunID    string           `json:"run_id,omitempty"`
}
