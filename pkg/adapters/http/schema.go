package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const createSchemaJSON = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["program"],
  "properties": {
    "id": { "$ref": "#/definitions/id" },
    "program": { "type": "string", "minLength": 1, "contentEncoding": "base64" }
  },
  "definitions": {
    "id": { "type": "string", "pattern": "^[A-Za-z0-9_-]{1,64}$" }
  }
}`

const tickSchemaJSON = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "delta_ms": { "type": "number", "minimum": 0, "maximum": 60000 },
    "events": {
      "type": "array",
      "maxItems": 1024,
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["kind"],
        "properties": {
          "player": { "$ref": "#/definitions/u32" },
          "kind": { "enum": ["press", "release", "move"] },
          "code": { "$ref": "#/definitions/u32" },
          "x": { "type": "number" },
          "y": { "type": "number" }
        }
      }
    }
  },
  "definitions": {
    "u32": { "type": "integer", "minimum": 0, "maximum": 4294967295 }
  }
}`

const forkSchemaJSON = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "id": { "type": "string", "pattern": "^[A-Za-z0-9_-]{1,64}$" }
  }
}`

// schemaRef is a compiled request body schema.
type schemaRef struct{ s *jsonschema.Schema }

var (
	createSchema = mustCompile("create.json", createSchemaJSON)
	tickSchema   = mustCompile("tick.json", tickSchemaJSON)
	forkSchema   = mustCompile("fork.json", forkSchemaJSON)
)

func mustCompile(name, src string) schemaRef {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	if err := c.AddResource(name, strings.NewReader(src)); err != nil {
		panic(err)
	}
	return schemaRef{s: c.MustCompile(name)}
}

// validate checks raw JSON against the schema.
func (r schemaRef) validate(raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := r.s.Validate(doc); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}
