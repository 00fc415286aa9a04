package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/animus-coder/testpilot/internal/artifact"
)

func TestHistoryAndRestore(t *testing.T) {
	configPath, root := projectConfig(t, "http://localhost:1")

	store, err := artifact.NewFileStore(root, artifact.Layout{Suffix: "_test"}, &artifact.History{Dir: ".history"})
	require.NoError(t, err)
	unit, err := store.LoadUnit("calc/add.go")
	require.NoError(t, err)
	_, err = store.Write(unit, "package calc\n// v1\n")
	require.NoError(t, err)
	_, err = store.Write(unit, "package calc\n// v2\n")
	require.NoError(t, err)

	out, err := execute(t, "history", "calc/add.go", "--config", configPath)
	require.NoError(t, err)
	require.Contains(t, out, "calc/add_test.go:")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)

	snaps, err := store.History().List("calc/add_test.go")
	require.NoError(t, err)
	first := snaps[0].ID

	out, err = execute(t, "restore", "calc/add.go", first, "--config", configPath)
	require.NoError(t, err)
	require.Contains(t, out, "restored calc/add_test.go to "+first)

	data, err := os.ReadFile(filepath.Join(root, "calc", "add_test.go"))
	require.NoError(t, err)
	require.Equal(t, "package calc\n// v1\n", string(data))
}

func TestHistoryEmpty(t *testing.T) {
	configPath, _ := projectConfig(t, "http://localhost:1")
	out, err := execute(t, "history", "calc/add.go", "--config", configPath)
	require.NoError(t, err)
	require.Contains(t, out, "no snapshots")
}
