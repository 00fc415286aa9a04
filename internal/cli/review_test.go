package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const reviewOriginal = "package foo\n\nfunc TestA(t *testing.T) {\n\tx := 1\n}\n\nfunc TestB(t *testing.T) {\n\ty := 1\n}\n"

const reviewDiff = "@@ -3,3 +3,3 @@ func TestA\n" +
	" func TestA(t *testing.T) {\n" +
	"-\tx := 1\n" +
	"+\tx := 2\n" +
	" }\n" +
	"@@ -7,3 +7,3 @@ func TestB\n" +
	" func TestB(t *testing.T) {\n" +
	"-\ty := 1\n" +
	"+\ty := 2\n" +
	" }\n"

func reviewFiles(t *testing.T) (file, diff string) {
	t.Helper()
	dir := t.TempDir()
	file = filepath.Join(dir, "foo_test.go")
	diff = filepath.Join(dir, "change.diff")
	require.NoError(t, os.WriteFile(file, []byte(reviewOriginal), 0o644))
	require.NoError(t, os.WriteFile(diff, []byte(reviewDiff), 0o644))
	return file, diff
}

func TestReviewListsHunksAndMergesSelection(t *testing.T) {
	file, diff := reviewFiles(t)

	out, err := execute(t, "review", file, diff, "--reject", "2")
	require.NoError(t, err)
	require.Contains(t, out, "2 hunk(s)")
	require.Contains(t, out, "#1 ")
	require.Contains(t, out, "func TestB")
	require.Contains(t, out, "\tx := 2\n")
	require.Contains(t, out, "\ty := 1\n")
}

func TestReviewWriteAndPreview(t *testing.T) {
	file, diff := reviewFiles(t)

	out, err := execute(t, "review", file, diff, "--preview")
	require.NoError(t, err)
	require.Contains(t, out, "--- preview (+")

	_, err = execute(t, "review", file, diff, "--write")
	require.NoError(t, err)
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	require.Contains(t, string(data), "\tx := 2\n")
	require.Contains(t, string(data), "\ty := 2\n")
}

func TestReviewMissingFile(t *testing.T) {
	_, err := execute(t, "review", "/nonexistent/a.go", "/nonexistent/b.diff")
	require.Error(t, err)
}
