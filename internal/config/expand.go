package config

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// expandEnv parses raw as a YAML (or JSON) document and replaces ${VAR} and
// $VAR references in string scalars with environment values. It returns
// the document and the sorted names of unset variables, which expand to "".
func expandEnv(raw []byte) (*yaml.Node, []string, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, nil, fmt.Errorf("parse config: %w", err)
	}
	missing := map[string]bool{}
	walkScalars(&root, func(n *yaml.Node) {
		if n.Tag != "" && n.Tag != "!!str" {
			return
		}
		if !strings.Contains(n.Value, "$") {
			return
		}
		n.Value = os.Expand(n.Value, func(key string) string {
			v, ok := os.LookupEnv(key)
			if !ok {
				missing[key] = true
			}
			return v
		})
		if n.Style == 0 {
			// Let plain scalars resolve again, so "$PORT" can decode as a number.
			n.Tag = ""
		}
	})

	names := make([]string, 0, len(missing))
	for k := range missing {
		names = append(names, k)
	}
	slices.Sort(names)
	return &root, names, nil
}

func walkScalars(n *yaml.Node, fn func(*yaml.Node)) {
	switch n.Kind {
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, c := range n.Content {
			walkScalars(c, fn)
		}
	case yaml.MappingNode:
		for i := 1; i < len(n.Content); i += 2 {
			walkScalars(n.Content[i], fn)
		}
	case yaml.ScalarNode:
		fn(n)
	}
}

// mappingValue returns the value node for key in a mapping node.
func mappingValue(n *yaml.Node, key string) *yaml.Node {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}
