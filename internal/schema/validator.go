// Package schema validates ingest request bodies before records are encoded.
// Each destination gets a JSON Schema generated from its declared field
// list: every field is required and unknown keys are rejected.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/rzbill/flume/internal/encoding"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator checks one destination's record shape.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles a schema for the given fields.
func NewValidator(key string, fields []encoding.Field) (*Validator, error) {
	doc, err := schemaDoc(fields)
	if err != nil {
		return nil, fmt.Errorf("schema: build %s: %w", key, err)
	}
	compiler := jsonschema.NewCompiler()
	url := "flume:///" + key + ".schema.json"
	if err := compiler.AddResource(url, bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("schema: add resource for %s: %w", key, err)
	}
	s, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema: compile %s: %w", key, err)
	}
	return &Validator{schema: s}, nil
}

// Validate decodes raw and checks it against the destination schema. The
// decoded object is returned so callers do not parse the body twice.
func (v *Validator) Validate(raw []byte) (map[string]any, error) {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := v.schema.Validate(payload); err != nil {
		return nil, err
	}
	obj, ok := payload.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("record must be a JSON object")
	}
	return obj, nil
}

func schemaDoc(fields []encoding.Field) ([]byte, error) {
	props := make(map[string]any, len(fields))
	required := make([]string, 0, len(fields))
	for _, f := range fields {
		props[f.Name] = map[string]any{"type": jsonType(f.Type)}
		required = append(required, f.Name)
	}
	doc := map[string]any{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
	return json.Marshal(doc)
}

// jsonType mirrors the wire type mapping in the encoding package: unknown
// type names validate as strings.
func jsonType(t string) string {
	switch t {
	case "int32", "int64", "int":
		return "integer"
	case "float", "double", "float64":
		return "number"
	case "bool":
		return "boolean"
	default:
		return "string"
	}
}
