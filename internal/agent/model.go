package agent

import (
	"strings"

	"github.com/animus-coder/testpilot/internal/generation"
)

// ModelStrategy chooses the target model per generation mode.
type ModelStrategy struct {
	Default     string
	Initial     string
	Incremental string
	Fallbacks   []string
}

// ForMode returns the per-mode override, else the default.
func (s ModelStrategy) ForMode(mode generation.Mode) string {
	override := s.Initial
	if mode == generation.ModeIncremental {
		override = s.Incremental
	}
	return firstNonEmpty(override, s.Default)
}

// NextFallback returns the first fallback not yet tried.
func (s ModelStrategy) NextFallback(tried map[string]struct{}) string {
	for _, fb := range s.Fallbacks {
		fb = strings.TrimSpace(fb)
		if fb == "" {
			continue
		}
		if _, ok := tried[fb]; ok {
			continue
		}
		return fb
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
