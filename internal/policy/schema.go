package policy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Each policy document is checked against a JSON Schema before decoding, so
// structural mistakes surface with schema paths instead of zero-value
// surprises further down.

const rulesSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["rules"],
  "additionalProperties": false,
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "constants": {
      "type": "object",
      "additionalProperties": {"type": ["number", "string", "boolean"]}
    },
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "when"],
        "additionalProperties": false,
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "when": {"type": "object", "minProperties": 1},
          "then": {
            "type": "object",
            "additionalProperties": false,
            "properties": {
              "set_state": {"type": "string", "minLength": 1},
              "set": {"type": "object"},
              "clear": {"type": "array", "items": {"type": "string"}}
            }
          },
          "stop": {"type": "boolean"},
          "enabled": {"type": "boolean"}
        }
      }
    }
  }
}`

const planSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["stages"],
  "additionalProperties": false,
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "stages": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "additionalProperties": false,
        "properties": {
          "actions": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["id", "adapter"],
              "additionalProperties": false,
              "properties": {
                "id": {"type": "string", "minLength": 1},
                "adapter": {"type": "string", "minLength": 1},
                "channel": {"type": "string"},
                "template": {"type": "string"},
                "artifact": {"type": "string"},
                "constraints": {"type": "object"}
              }
            }
          }
        }
      }
    }
  }
}`

const statesSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "monotonic_enforced": {"type": "boolean"},
    "stages": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "string", "minLength": 1},
      "uniqueItems": true
    }
  }
}`

func compileSchema(raw string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://vigil.schemas.local/policy.schema.json"
	if err := c.AddResource(url, strings.NewReader(raw)); err != nil {
		panic(fmt.Sprintf("policy schema load: %v", err))
	}
	s, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("policy schema compile: %v", err))
	}
	return s
}

var (
	compiledRulesSchema  = compileSchema(rulesSchema)
	compiledPlanSchema   = compileSchema(planSchema)
	compiledStatesSchema = compileSchema(statesSchema)
)

// validateSchema checks raw YAML against a compiled schema. The document is
// round-tripped through encoding/json so the validator sees canonical JSON
// value types.
func validateSchema(schema *jsonschema.Schema, data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid yaml: %w", err)
	}
	jsonBytes, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("canonicalize: %w", err)
	}
	var canon any
	if err := json.Unmarshal(jsonBytes, &canon); err != nil {
		return err
	}
	if err := schema.Validate(canon); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}
