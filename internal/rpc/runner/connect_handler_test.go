package runner

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bufbuild/connect-go"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/animus-coder/testpilot/internal/rpc"
	"github.com/animus-coder/testpilot/internal/rpc/connectjson"
)

func newConnectClient(t *testing.T) *connect.Client[rpc.GenerateStreamRequest, rpc.Event] {
	t.Helper()
	path, handler := NewConnectHandler(fakeRunner(t), nil)
	mux := http.NewServeMux()
	mux.Handle(path, handler)

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot open listener in sandbox: %v", err)
	}

	server := httptest.NewUnstartedServer(h2c.NewHandler(mux, &http2.Server{}))
	server.Listener = ln
	server.Start()
	t.Cleanup(server.Close)

	return connect.NewClient[rpc.GenerateStreamRequest, rpc.Event](
		&http.Client{
			Transport: &http2.Transport{
				AllowHTTP: true,
				DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, network, addr)
				},
			},
		},
		server.URL+path,
		connect.WithCodec(connectjson.Codec{}),
	)
}

func TestConnectHandlerStreamsEvents(t *testing.T) {
	client := newConnectClient(t)

	stream := client.CallBidiStream(context.Background())
	require.NoError(t, stream.Send(&rpc.GenerateStreamRequest{
		Generate: &rpc.GenerateRequest{RunID: "conn-1", Paths: []string{"a.go"}},
	}))
	require.NoError(t, stream.CloseRequest())

	var summary *rpc.Event
	for {
		evt, err := stream.Receive()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		require.Equal(t, "conn-1", evt.RunID)
		if evt.Type == rpc.EventSummary {
			summary = evt
		}
	}
	require.NoError(t, stream.CloseResponse())
	require.NotNil(t, summary)
	require.Equal(t, 1, summary.Summary.Succeeded)
}

func TestConnectHandlerRequiresGeneratePayload(t *testing.T) {
	client := newConnectClient(t)

	stream := client.CallBidiStream(context.Background())
	require.NoError(t, stream.Send(&rpc.GenerateStreamRequest{Cancel: true}))
	require.NoError(t, stream.CloseRequest())

	_, err := stream.Receive()
	require.Error(t, err)
	require.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
	require.NoError(t, stream.CloseResponse())
}
