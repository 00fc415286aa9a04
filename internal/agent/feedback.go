package agent

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/animus-coder/testpilot/internal/generation"
)

const maxErrorOutput = 16 * 1024

// errorOutput joins the verification feedback with a note about a rejected
// diff from the previous attempt.
func errorOutput(feedback, patchNote string) string {
	feedback = strings.TrimSpace(feedback)
	patchNote = strings.TrimSpace(patchNote)
	switch {
	case patchNote == "":
		return truncateForPrompt(feedback, maxErrorOutput)
	case feedback == "":
		return truncateForPrompt(patchNote, maxErrorOutput)
	default:
		return truncateForPrompt(feedback+"\n\n"+patchNote, maxErrorOutput)
	}
}

func patchRejected(err error) string {
	return fmt.Sprintf("The previous diff could not be applied to the existing test file: %v. "+
		"Return a unified diff whose context lines match the existing file exactly.", err)
}

func clientErrorOutput(ce *generation.ClientError) string {
	return fmt.Sprintf("generation rejected with status %d: %s", ce.Status, truncateForPrompt(ce.Body, 800))
}

func truncateForPrompt(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit] + "... [truncated]"
}
