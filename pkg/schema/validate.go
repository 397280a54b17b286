package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FieldError is a single field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned when input does not match a schema. Fields
// lists every failing field, sorted by field path.
type ValidationError struct {
	Schema string
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Field == "" {
			parts = append(parts, f.Message)
			continue
		}
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Schema, strings.Join(parts, "; "))
}

// Validator validates instances against a compiled Schema.
type Validator struct {
	name     string
	schema   *Schema
	compiled *jsonschema.Schema
}

// Compile compiles s into a Validator. name identifies the schema in errors
// and must be unique per compiler resource, e.g. "huawei/auth".
func Compile(name string, s *Schema) (*Validator, error) {
	if s == nil {
		return nil, fmt.Errorf("schema %s is nil", name)
	}
	doc, err := toJSONValue(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema %s: %w", name, err)
	}

	c := jsonschema.NewCompiler()
	c.DefaultDraft(jsonschema.Draft2020)
	url := "mem://schemas/" + name + ".json"
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("failed to add schema %s: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	return &Validator{name: name, schema: s, compiled: compiled}, nil
}

// MustCompile is like Compile but panics on error. It is meant for schemas
// declared as package-level values.
func MustCompile(name string, s *Schema) *Validator {
	v, err := Compile(name, s)
	if err != nil {
		panic(err)
	}
	return v
}

// Name returns the name the validator was compiled with.
func (v *Validator) Name() string {
	return v.name
}

// Schema returns the source schema.
func (v *Validator) Schema() *Schema {
	return v.schema
}

// Validate checks instance against the schema. A nil instance is treated as
// an empty object. Mismatches are returned as *ValidationError.
func (v *Validator) Validate(instance any) error {
	if m, ok := instance.(map[string]any); instance == nil || (ok && m == nil) {
		instance = map[string]any{}
	}
	doc, err := toJSONValue(instance)
	if err != nil {
		return fmt.Errorf("failed to encode instance for %s: %w", v.name, err)
	}
	err = v.compiled.Validate(doc)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if errors.As(err, &verr) {
		return newValidationError(v.name, verr)
	}
	return fmt.Errorf("failed to validate %s: %w", v.name, err)
}

// toJSONValue round-trips v through encoding/json so that the validator sees
// the same value types a decoded request body would have.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(b))
}

func newValidationError(name string, verr *jsonschema.ValidationError) *ValidationError {
	p := message.NewPrinter(language.English)
	seen := map[FieldError]bool{}
	var fields []FieldError
	add := func(fe FieldError) {
		if seen[fe] {
			return
		}
		seen[fe] = true
		fields = append(fields, fe)
	}

	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) > 0 {
			for _, c := range e.Causes {
				walk(c)
			}
			return
		}
		switch k := e.ErrorKind.(type) {
		case *kind.Required:
			for _, missing := range k.Missing {
				add(FieldError{
					Field:   fieldPath(append(append([]string{}, e.InstanceLocation...), missing)),
					Message: (&kind.Required{Missing: []string{missing}}).LocalizedString(p),
				})
			}
		default:
			add(FieldError{
				Field:   fieldPath(e.InstanceLocation),
				Message: e.ErrorKind.LocalizedString(p),
			})
		}
	}
	walk(verr)

	sort.SliceStable(fields, func(i, j int) bool {
		return fields[i].Field < fields[j].Field
	})
	return &ValidationError{Schema: name, Fields: fields}
}

func fieldPath(loc []string) string {
	return strings.Join(loc, ".")
}
