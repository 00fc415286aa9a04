package generation

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Role is the speaker of a Content entry.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Part is one element of a Content entry: TextPart, FunctionCallPart or FunctionResponsePart.
type Part interface {
	isPart()
}

// TextPart carries plain text.
type TextPart struct {
	Text string
}

// FunctionCallPart records a call the model made.
type FunctionCallPart struct {
	Name string
	Args map[string]any
}

// FunctionResponsePart answers a function call.
type FunctionResponsePart struct {
	Name     string
	Response map[string]any
}

func (TextPart) isPart()             {}
func (FunctionCallPart) isPart()     {}
func (FunctionResponsePart) isPart() {}

// Content is one turn of the prompt payload.
type Content struct {
	Role  Role
	Parts []Part
}

type wireFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type wireFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// wirePart has exactly one populated field on the wire.
type wirePart struct {
	Text             *string               `json:"text,omitempty"`
	FunctionCall     *wireFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *wireFunctionResponse `json:"functionResponse,omitempty"`
}

type wireContent struct {
	Role  Role       `json:"role"`
	Parts []wirePart `json:"parts"`
}

func (c Content) MarshalJSON() ([]byte, error) {
	out := wireContent{Role: c.Role, Parts: make([]wirePart, 0, len(c.Parts))}
	for _, p := range c.Parts {
		switch v := p.(type) {
		case TextPart:
			text := v.Text
			out.Parts = append(out.Parts, wirePart{Text: &text})
		case FunctionCallPart:
			out.Parts = append(out.Parts, wirePart{FunctionCall: &wireFunctionCall{Name: v.Name, Args: v.Args}})
		case FunctionResponsePart:
			out.Parts = append(out.Parts, wirePart{FunctionResponse: &wireFunctionResponse{Name: v.Name, Response: v.Response}})
		default:
			return nil, fmt.Errorf("unsupported part %T", p)
		}
	}
	return json.Marshal(out)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var in wireContent
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	parts := make([]Part, 0, len(in.Parts))
	for i, p := range in.Parts {
		set := 0
		if p.Text != nil {
			set++
		}
		if p.FunctionCall != nil {
			set++
		}
		if p.FunctionResponse != nil {
			set++
		}
		if set != 1 {
			return fmt.Errorf("part %d: %w", i, errPartArms)
		}
		switch {
		case p.Text != nil:
			parts = append(parts, TextPart{Text: *p.Text})
		case p.FunctionCall != nil:
			parts = append(parts, FunctionCallPart{Name: p.FunctionCall.Name, Args: p.FunctionCall.Args})
		default:
			parts = append(parts, FunctionResponsePart{Name: p.FunctionResponse.Name, Response: p.FunctionResponse.Response})
		}
	}
	c.Role, c.Parts = in.Role, parts
	return nil
}

var errPartArms = errors.New("exactly one of text, functionCall, functionResponse must be set")
