package cli

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuotaCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/fetch-quota", r.URL.Path)
		_, _ = w.Write([]byte(`{"quotaUsed":3,"quotaTotal":10,"quotaRemaining":7,"message":"trial"}`))
	}))
	t.Cleanup(srv.Close)
	configPath, _ := projectConfig(t, srv.URL)

	out, err := execute(t, "quota", "--config", configPath)
	require.NoError(t, err)
	require.Contains(t, out, "used 3 of 10, 7 remaining")
	require.Contains(t, out, "trial")

	out, err = execute(t, "quota", "--yaml", "--config", configPath)
	require.NoError(t, err)
	require.Contains(t, out, "remaining: 7")
}

func TestFeedbackCommand(t *testing.T) {
	var (
		mu   sync.Mutex
		body map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		defer mu.Unlock()
		_ = json.Unmarshal(data, &body)
	}))
	t.Cleanup(srv.Close)
	configPath, _ := projectConfig(t, srv.URL)

	out, err := execute(t, "feedback", "calc/add.go", "up", "--config", configPath)
	require.NoError(t, err)
	require.Contains(t, out, "feedback up sent for calc.add")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "calc.add", body["cut"])
	require.Equal(t, "up", body["rating"])

	_, err = execute(t, "feedback", "calc/add.go", "sideways", "--config", configPath)
	require.Error(t, err)
}
