package cli

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bufbuild/connect-go"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"

	"github.com/animus-coder/testpilot/internal/rpc"
	"github.com/animus-coder/testpilot/internal/rpc/connectjson"
	"github.com/animus-coder/testpilot/internal/rpc/runner"
)

// NewSubmitCmd sends a generation batch to the daemon and streams its events.
func NewSubmitCmd(opts *Options) *cobra.Command {
	var (
		addr          string
		transport     string
		modelOverride string
		continueOnCE  bool
	)

	cmd := &cobra.Command{
		Use:   "submit <source.go>...",
		Short: "Run a generation batch on the daemon and stream progress",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if transport == "" {
				transport = cfg.Server.Transport
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runID := uuid.NewString()
			reqBody := rpc.GenerateRequest{
				RunID:                 runID,
				CorrelationID:         "cli-" + runID,
				Paths:                 args,
				Model:                 modelOverride,
				ContinueOnClientError: continueOnCE,
			}

			baseURL := daemonURL(addr)
			var sum *rpc.Tally
			switch strings.ToLower(strings.TrimSpace(transport)) {
			case "ndjson":
				sum, err = submitNDJSON(ctx, cmd.OutOrStdout(), baseURL+"/generate", reqBody)
			default:
				sum, err = submitConnect(ctx, cmd.OutOrStdout(), baseURL+runner.ConnectGenerateProcedure, reqBody)
			}
			if err != nil {
				return err
			}
			if sum == nil {
				return errors.New("stream ended without a summary")
			}
			if sum.Failed > 0 || sum.Cancelled {
				return fmt.Errorf("%d of %d unit(s) did not converge", sum.Total-sum.Succeeded, sum.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Daemon address (default: server.addr)")
	cmd.Flags().StringVar(&transport, "transport", "", "connect or ndjson (default: server.transport)")
	cmd.Flags().StringVar(&modelOverride, "model", "", "Override the generation model for this batch")
	cmd.Flags().BoolVar(&continueOnCE, "continue-on-client-error", false, "Keep iterating after a 4xx from the generation service")
	return cmd
}

func daemonURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

func submitNDJSON(ctx context.Context, w io.Writer, url string, reqBody rpc.GenerateRequest) (*rpc.Tally, error) {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("daemon returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var sum *rpc.Tally
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var evt rpc.Event
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		if err := renderEvent(w, evt); err != nil {
			return nil, err
		}
		if evt.Summary != nil {
			sum = evt.Summary
		}
	}
	return sum, scanner.Err()
}

func submitConnect(ctx context.Context, w io.Writer, url string, reqBody rpc.GenerateRequest) (*rpc.Tally, error) {
	client := connect.NewClient[rpc.GenerateStreamRequest, rpc.Event](buildH2CClient(), url, connect.WithCodec(connectjson.Codec{}))

	// The stream outlives ctx so a cancel message can still be delivered.
	streamCtx, cancelStream := context.WithCancel(context.Background())
	defer cancelStream()
	stream := client.CallBidiStream(streamCtx)

	if err := stream.Send(&rpc.GenerateStreamRequest{Generate: &reqBody}); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = stream.Send(&rpc.GenerateStreamRequest{Cancel: true, RunID: reqBody.RunID})
			_ = stream.CloseRequest()
		case <-done:
		}
	}()

	var sum *rpc.Tally
	for {
		evt, err := stream.Receive()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := renderEvent(w, *evt); err != nil {
			return nil, err
		}
		if evt.Summary != nil {
			sum = evt.Summary
		}
	}
	return sum, stream.CloseResponse()
}

func renderEvent(w io.Writer, evt rpc.Event) error {
	switch evt.Type {
	case rpc.EventStart:
		fmt.Fprintf(w, "run %s: %s\n", evt.RunID, evt.Message)
	case rpc.EventProgress:
		if evt.Phase == "" {
			fmt.Fprintf(w, "[%d/%d] %s\n", evt.Completed, evt.Total, evt.Unit)
			return nil
		}
		line := fmt.Sprintf("  [%s] attempt %d %s", evt.Unit, evt.Attempt, evt.Phase)
		if evt.Outcome != "" {
			line += " outcome=" + evt.Outcome
		}
		if evt.Message != "" {
			line += ": " + evt.Message
		}
		fmt.Fprintln(w, line)
	case rpc.EventUnit:
		status := evt.Status
		if evt.Reason != "" {
			status += " (" + evt.Reason + ")"
		}
		fmt.Fprintf(w, "[%d/%d] %s: %s after %d attempt(s)\n", evt.Completed, evt.Total, evt.Unit, status, evt.Attempts)
		if evt.Error != "" {
			fmt.Fprintf(w, "  error: %s\n", evt.Error)
		}
	case rpc.EventSummary:
		fmt.Fprintln(w, evt.Message)
	case rpc.EventError:
		return fmt.Errorf("daemon error: %s", evt.Error)
	}
	return nil
}

func buildH2CClient() *http.Client {
	return &http.Client{
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
	}
}
