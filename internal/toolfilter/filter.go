// Package toolfilter narrows the tools a server exposes to the chat model
// and suggests names for typos.
package toolfilter

import (
	"fmt"
	"slices"
	"strings"

	"github.com/linmx0130/nah/internal/mcp"
)

// ParseToolList splits a comma-separated string into a deduplicated, trimmed
// list of tool names. Empty entries are removed and order is preserved (first
// occurrence wins on duplicates).
func ParseToolList(csv string) []string {
	var result []string
	for _, p := range strings.Split(csv, ",") {
		name := strings.TrimSpace(p)
		if name != "" && !slices.Contains(result, name) {
			result = append(result, name)
		}
	}
	return result
}

// Filter applies a server's exposeTools (include) or hideTools (exclude)
// list.
//
//   - Include mode keeps the named tools in the order given. A name the
//     server does not offer is an error, with a suggestion when one is close.
//   - Exclude mode drops the named tools and keeps the server's order.
//   - With both lists empty the tools are returned unchanged; with both
//     non-empty Filter fails.
func Filter(tools []mcp.Tool, include, exclude []string) ([]mcp.Tool, error) {
	if len(include) > 0 && len(exclude) > 0 {
		return nil, fmt.Errorf("exposeTools and hideTools cannot be used together")
	}
	if len(include) == 0 && len(exclude) == 0 {
		return tools, nil
	}

	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}

	if len(include) > 0 {
		result := make([]mcp.Tool, 0, len(include))
		for _, name := range include {
			i := slices.Index(names, name)
			if i < 0 {
				msg := fmt.Sprintf("tool '%s' not found on server. Available tools: %s",
					name, strings.Join(names, ", "))
				if s := Suggest(name, names); s != "" {
					msg += fmt.Sprintf(" Did you mean '%s'?", s)
				}
				return nil, fmt.Errorf("%s", msg)
			}
			result = append(result, tools[i])
		}
		return result, nil
	}

	result := make([]mcp.Tool, 0, len(tools))
	for _, t := range tools {
		if !slices.Contains(exclude, t.Name) {
			result = append(result, t)
		}
	}
	return result, nil
}
