package ml

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"sigs.k8s.io/yaml"
)

//go:embed graph_schema.yaml
var graphSchemaYAML []byte

var graphSchema = mustCompileGraphSchema()

func mustCompileGraphSchema() *jsonschema.Schema {
	schemaJSON, err := yaml.YAMLToJSON(graphSchemaYAML)
	if err != nil {
		panic(fmt.Sprintf("convert graph schema to JSON: %v", err))
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("graph_schema.json", bytes.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("add graph schema resource: %v", err))
	}

	schema, err := compiler.Compile("graph_schema.json")
	if err != nil {
		panic(fmt.Sprintf("compile graph schema: %v", err))
	}

	return schema
}

// ParseGraphPayload validates raw extractor output against the graph schema
// and decodes it. Extractor implementations call this on whatever the model
// returned so that malformed payloads surface as a single, well-typed error.
func ParseGraphPayload(raw []byte) (*GraphPayload, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("parse graph payload: %w", err)
	}

	if err := graphSchema.Validate(v); err != nil {
		return nil, fmt.Errorf("graph payload failed schema validation: %w", err)
	}

	var payload GraphPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode graph payload: %w", err)
	}

	return &payload, nil
}
