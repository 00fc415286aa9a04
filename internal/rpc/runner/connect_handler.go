package runner

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/bufbuild/connect-go"

	"github.com/animus-coder/testpilot/internal/observability"
	"github.com/animus-coder/testpilot/internal/rpc"
	"github.com/animus-coder/testpilot/internal/rpc/connectjson"
)

const ConnectGenerateProcedure = "/connect.testpilot.v1.GenerationService/Generate"

// NewConnectHandler builds a Connect bidi stream handler for Generate.
func NewConnectHandler(runner Runner, metrics *observability.Metrics) (string, http.Handler) {
	h := &connectGenerateHandler{runner: runner, metrics: metrics}
	return ConnectGenerateProcedure, connect.NewBidiStreamHandler(ConnectGenerateProcedure, h.handle, connect.WithCodec(connectjson.Codec{}))
}

type connectGenerateHandler struct {
	runner  Runner
	metrics *observability.Metrics
}

func (h *connectGenerateHandler) handle(ctx context.Context, stream *connect.BidiStream[rpc.GenerateStreamRequest, rpc.Event]) error {
	h.metrics.IncActiveSessions("connect")
	defer h.metrics.DecActiveSessions("connect")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	first, err := stream.Receive()
	if err != nil {
		h.metrics.RecordTransportError("connect", "receive_first")
		return err
	}
	if first == nil || first.Generate == nil {
		h.metrics.RecordTransportError("connect", "missing_generate")
		return connect.NewError(connect.CodeInvalidArgument, errors.New("first message must include generate payload"))
	}
	req := *first.Generate
	EnsureIDs(&req)

	// A cancel message stops the batch before its next unit.
	go func() {
		for {
			msg, recvErr := stream.Receive()
			if recvErr != nil {
				// EOF is the client's half-close; the run continues.
				if !errors.Is(recvErr, io.EOF) && !errors.Is(recvErr, context.Canceled) {
					h.metrics.RecordTransportError("connect", "receive_stream")
					cancel()
				}
				return
			}
			if msg != nil && msg.Cancel {
				cancel()
				return
			}
		}
	}()

	if h.runner == nil {
		return connect.NewError(connect.CodeUnavailable, errors.New("runner unavailable"))
	}
	events, runErr := h.runner.Run(ctx, req)
	if runErr != nil {
		h.metrics.RecordTransportError("connect", "runner_error")
		code := connect.CodeInternal
		if errors.Is(runErr, ErrNoPaths) {
			code = connect.CodeInvalidArgument
		}
		return connect.NewError(code, runErr)
	}

	var sendErr error
	for ev := range events {
		if sendErr != nil {
			continue
		}
		if err := stream.Send(&ev); err != nil {
			h.metrics.RecordTransportError("connect", "send")
			sendErr = err
			cancel()
		}
	}
	return sendErr
}
