package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CommentPrefix starts a line that LoadArguments ignores.
const CommentPrefix = "//"

// LoadArguments parses text typed by a user into a JSON object. Lines
// starting with CommentPrefix are dropped first; blank input yields an
// empty object.
func LoadArguments(text string) (json.RawMessage, error) {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), CommentPrefix) {
			continue
		}
		kept = append(kept, line)
	}
	body := strings.TrimSpace(strings.Join(kept, "\n"))
	if body == "" {
		return json.RawMessage("{}"), nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(body), &obj); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("arguments must be a JSON object, got null")
	}
	return json.RawMessage(body), nil
}

// Comment prefixes every line of text with CommentPrefix.
func Comment(text string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, line := range lines {
		if line == "" {
			lines[i] = CommentPrefix
			continue
		}
		lines[i] = CommentPrefix + " " + line
	}
	return strings.Join(lines, "\n")
}
