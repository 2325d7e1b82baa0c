// Package schema works with the JSON Schemas MCP servers attach to tools:
// it checks them, validates arguments against them and renders fill-in
// templates for humans.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// Parse decodes a JSON Schema document.
func Parse(raw json.RawMessage) (*jsonschema.Schema, error) {
	var s jsonschema.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("invalid JSON schema: %w", err)
	}
	return &s, nil
}

// Validate checks that args is an instance of the schema.
func Validate(schemaJSON, args json.RawMessage) error {
	s, err := Parse(schemaJSON)
	if err != nil {
		return err
	}
	// The validator refuses any declared draft other than 2020-12.
	s.Schema = ""
	resolved, err := s.Resolve(nil)
	if err != nil {
		return fmt.Errorf("resolve schema: %w", err)
	}
	var instance any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &instance); err != nil {
			return fmt.Errorf("arguments are not valid JSON: %w", err)
		}
	} else {
		instance = map[string]any{}
	}
	return resolved.Validate(instance)
}

// Parameter is one top-level property of an object schema.
type Parameter struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Enum        []string
}

// Parameters lists the properties of an object schema, required ones
// first, then alphabetically.
func Parameters(raw json.RawMessage) ([]Parameter, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	s, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	required := make(map[string]bool, len(s.Required))
	for _, name := range s.Required {
		required[name] = true
	}

	params := make([]Parameter, 0, len(s.Properties))
	for name, prop := range s.Properties {
		if prop == nil {
			continue
		}
		p := Parameter{
			Name:        name,
			Type:        typeLabel(prop),
			Description: prop.Description,
			Required:    required[name],
		}
		for _, v := range prop.Enum {
			p.Enum = append(p.Enum, fmt.Sprintf("%v", v))
		}
		params = append(params, p)
	}
	sort.Slice(params, func(i, j int) bool {
		if params[i].Required != params[j].Required {
			return params[i].Required
		}
		return params[i].Name < params[j].Name
	})
	return params, nil
}

// primaryType returns the first non-null type of s, or "" if none is
// declared. An untyped schema with properties is treated as an object.
func primaryType(s *jsonschema.Schema) string {
	if s.Type != "" {
		return s.Type
	}
	for _, t := range s.Types {
		if t != "null" {
			return t
		}
	}
	if len(s.Types) > 0 {
		return "null"
	}
	if len(s.Properties) > 0 {
		return "object"
	}
	return ""
}

func typeLabel(s *jsonschema.Schema) string {
	t := primaryType(s)
	switch {
	case t == "":
		return "any"
	case t == "array" && s.Items != nil && primaryType(s.Items) != "":
		return "array of " + primaryType(s.Items)
	default:
		return t
	}
}

// Template renders an editable instance of the schema with placeholders
// for every leaf value.
func Template(raw json.RawMessage) (string, error) {
	s, err := Parse(raw)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	writeTemplate(&b, s, 0)
	return b.String(), nil
}

func writeTemplate(b *strings.Builder, s *jsonschema.Schema, indent int) {
	switch primaryType(s) {
	case "string":
		b.WriteString(`"<FILL A STRING>"`)
	case "number", "integer":
		b.WriteString("<FILL A NUMBER>")
	case "boolean":
		b.WriteString("<FILL A BOOLEAN VALUE>")
	case "array":
		if s.Items == nil {
			b.WriteString("[]")
			return
		}
		b.WriteString("[\n")
		pad(b, indent+4)
		writeTemplate(b, s.Items, indent+4)
		b.WriteString("\n")
		pad(b, indent)
		b.WriteString("]")
	case "object":
		names := make([]string, 0, len(s.Properties))
		for name, prop := range s.Properties {
			if prop != nil {
				names = append(names, name)
			}
		}
		if len(names) == 0 {
			b.WriteString("{}")
			return
		}
		sort.Strings(names)
		b.WriteString("{\n")
		for i, name := range names {
			pad(b, indent+4)
			key, _ := json.Marshal(name)
			b.Write(key)
			b.WriteString(": ")
			writeTemplate(b, s.Properties[name], indent+4)
			if i < len(names)-1 {
				b.WriteString(",")
			}
			b.WriteString("\n")
		}
		pad(b, indent)
		b.WriteString("}")
	default:
		b.WriteString("null")
	}
}

func pad(b *strings.Builder, n int) {
	b.WriteString(strings.Repeat(" ", n))
}
