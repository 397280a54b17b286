// Package schema describes step and provider configuration inputs as JSON
// schema documents and validates raw input against them.
package schema

import (
	"encoding/json"
	"fmt"
)

// Schema is the subset of JSON schema used to describe wizard step input and
// provider configuration. It serializes to a standard JSON schema document.
type Schema struct {
	Type                 string             `json:"type,omitempty"`
	Title                string             `json:"title,omitempty"`
	Description          string             `json:"description,omitempty"`
	Format               string             `json:"format,omitempty"`
	Enum                 []any              `json:"enum,omitempty"`
	Default              any                `json:"default,omitempty"`
	Minimum              *float64           `json:"minimum,omitempty"`
	Maximum              *float64           `json:"maximum,omitempty"`
	MinLength            *int               `json:"minLength,omitempty"`
	MinItems             *int               `json:"minItems,omitempty"`
	Items                *Schema            `json:"items,omitempty"`
	Properties           map[string]*Schema `json:"properties,omitempty"`
	Required             []string           `json:"required,omitempty"`
	OneOf                []*Schema          `json:"oneOf,omitempty"`
	AdditionalProperties *bool              `json:"additionalProperties,omitempty"`

	// Secret marks values such as passwords that are written by clients but
	// never read back through definitions or step options. It is rendered as
	// the writeOnly annotation. A completed wizard still returns them in its
	// final config, which the caller persists.
	Secret bool `json:"writeOnly,omitempty"`
}

// Object returns an object schema with the given properties, of which the
// listed names are required.
func Object(title string, properties map[string]*Schema, required ...string) *Schema {
	return &Schema{
		Type:       "object",
		Title:      title,
		Properties: properties,
		Required:   required,
	}
}

// String returns a non-empty string schema.
func String(title string) *Schema {
	return &Schema{Type: "string", Title: title, MinLength: Int(1)}
}

// Password returns a non-empty string schema flagged as secret.
func Password(title string) *Schema {
	s := String(title)
	s.Format = "password"
	s.Secret = true
	return s
}

// Number returns a number schema with an inclusive lower bound.
func Number(title string, minimum float64) *Schema {
	return &Schema{Type: "number", Title: title, Minimum: Float(minimum)}
}

// Int returns a pointer to v.
func Int(v int) *int {
	return &v
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Bool returns a pointer to v.
func Bool(v bool) *bool {
	return &v
}

// Document returns the schema as a generic JSON document suitable for
// embedding into API responses.
func (s *Schema) Document() (map[string]any, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema: %w", err)
	}
	return doc, nil
}
