package mcp

import (
	"encoding/json"
	"strings"

	"github.com/linmx0130/nah/internal/errs"
)

// UnpackText concatenates the text fields of a tools/call result's content
// array in order. Non-text entries contribute nothing.
func UnpackText(result json.RawMessage) (string, error) {
	var payload struct {
		Content []struct {
			Type string  `json:"type"`
			Text *string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return "", errs.Wrap(errs.InvalidResponse, "", err, "decode tool result")
	}
	if payload.Content == nil {
		return "", errs.New(errs.InvalidResponse, "", "tool result has no content array")
	}
	var b strings.Builder
	for _, c := range payload.Content {
		if c.Text != nil {
			b.WriteString(*c.Text)
		}
	}
	return b.String(), nil
}
