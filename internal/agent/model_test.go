package agent

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/animus-coder/testpilot/internal/generation"
)

func TestModelStrategyResolvesModes(t *testing.T) {
	s := ModelStrategy{Default: "base", Incremental: "patcher"}
	require.Equal(t, "base", s.ForMode(generation.ModeInitial))
	require.Equal(t, "patcher", s.ForMode(generation.ModeIncremental))
	require.Empty(t, ModelStrategy{}.ForMode(generation.ModeInitial))
}

func TestModelStrategyNextFallbackSkipsTried(t *testing.T) {
	s := ModelStrategy{Fallbacks: []string{" ", "a", "b"}}
	require.Equal(t, "a", s.NextFallback(map[string]struct{}{"base": {}}))
	require.Equal(t, "b", s.NextFallback(map[string]struct{}{"a": {}}))
	require.Empty(t, s.NextFallback(map[string]struct{}{"a": {}, "b": {}}))
}
