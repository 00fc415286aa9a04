package generation

import (
	"fmt"
	"strings"

	"github.com/animus-coder/testpilot/internal/artifact"
)

// Mode selects between full generation and diff-based patching.
type Mode int

const (
	ModeInitial Mode = iota
	ModeIncremental
)

func (m Mode) String() string {
	if m == ModeIncremental {
		return "incremental"
	}
	return "initial"
}

// Request is one generation call.
type Request struct {
	Mode            Mode
	SourceName      string
	SourceText      string
	ArtifactText    string // existing test; Incremental only
	LastErrorOutput string
	Context         []artifact.ContextFile
	Model           string
}

// Result is a finished generation. Text is set in Initial mode, Diff in Incremental mode.
type Result struct {
	Text        string
	Diff        string
	ContextRefs []string
	JobID       string
}

const (
	initialInstruction = "Write a complete unit test file for the source below. " +
		"Reply with outputTestClass holding the full test file and outputRequiredClassContextPaths " +
		"listing any additional sources you need."
	incrementalInstruction = "Fix the existing unit test file so it compiles and passes. " +
		"Reply with outputTestClassUnifiedDiffFormat holding a unified diff against the existing file and " +
		"outputRequiredClassContextPaths listing any additional sources you need."
)

// BuildContents renders req into the prompt payload. Error output and resolved
// context are replayed as function call/response pairs.
func BuildContents(req Request) []Content {
	instruction := initialInstruction
	if req.Mode == ModeIncremental {
		instruction = incrementalInstruction
	}
	if req.Model != "" {
		instruction += " Target model: " + req.Model + "."
	}

	user := Content{Role: RoleUser, Parts: []Part{
		TextPart{Text: instruction},
		TextPart{Text: fmt.Sprintf("Source %s:\n%s", req.SourceName, req.SourceText)},
	}}
	if req.Mode == ModeIncremental {
		user.Parts = append(user.Parts, TextPart{Text: "Existing test file:\n" + req.ArtifactText})
	}
	contents := []Content{user}

	if strings.TrimSpace(req.LastErrorOutput) != "" {
		contents = append(contents,
			Content{Role: RoleModel, Parts: []Part{FunctionCallPart{Name: "verify"}}},
			Content{Role: RoleUser, Parts: []Part{FunctionResponsePart{
				Name:     "verify",
				Response: map[string]any{"output": req.LastErrorOutput},
			}}},
		)
	}

	if len(req.Context) > 0 {
		refs := make([]any, 0, len(req.Context))
		resolved := make([]Part, 0, len(req.Context))
		for _, cf := range req.Context {
			refs = append(refs, cf.Ref)
			resolved = append(resolved, FunctionResponsePart{
				Name: "resolve_context",
				Response: map[string]any{
					"path":     cf.Ref,
					"content":  cf.Content,
					"resolved": cf.Resolved,
				},
			})
		}
		contents = append(contents,
			Content{Role: RoleModel, Parts: []Part{FunctionCallPart{Name: "request_context", Args: map[string]any{"paths": refs}}}},
			Content{Role: RoleUser, Parts: resolved},
		)
	}
	return contents
}
