package script

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/xeipuuv/gojsonschema"

	"github.com/voxline/voxline/pkg/errorsx"
)

const schemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "nodes"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "intro": {"type": "string"},
    "grounding_rules": {"type": "string"},
    "kb_instructions": {"type": "string"},
    "api_instructions": {"type": "string"},
    "documents": {"type": "array", "items": {"type": "string"}},
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "prompt"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "initial": {"type": "boolean"},
          "prompt": {"type": "string"},
          "required_slots": {"type": "array", "items": {"type": "string"}},
          "grounded": {"type": "boolean"},
          "transitions": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["guard", "target"],
              "properties": {
                "guard": {"enum": ["slot_present", "intent", "always"]},
                "slot": {"type": "string"},
                "keywords": {"type": "array", "items": {"type": "string"}},
                "target": {"type": "string", "minLength": 1}
              }
            }
          },
          "endpoint": {
            "type": "object",
            "required": ["name", "method", "path"],
            "properties": {
              "name": {"type": "string", "minLength": 1},
              "method": {"enum": ["GET", "POST", "PUT", "PATCH", "DELETE"]},
              "path": {"type": "string", "minLength": 1},
              "description": {"type": "string"},
              "required_slots": {"type": "array", "items": {"type": "string"}},
              "output_slots": {"type": "object", "additionalProperties": {"type": "string"}}
            }
          }
        }
      }
    }
  }
}`

var compiledSchema = gojsonschema.NewStringLoader(schemaJSON)

// Parse decodes, schema-checks and graph-validates a script document.
func Parse(data []byte) (*Script, error) {
	result, err := gojsonschema.Validate(compiledSchema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonScriptSchema, "script schema check failed")
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return nil, errorsx.Wrap(
			fmt.Errorf("%s", strings.Join(problems, "; ")),
			errorsx.ReasonScriptSchema, "script document rejected by schema")
	}
	var sc Script
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonScriptSchema, "script decode failed")
	}
	if err := sc.Validate(); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonScriptGraph, "script graph rejected")
	}
	return &sc, nil
}

// LoadFile parses a script from disk.
func LoadFile(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonScriptSchema, "script file unreadable")
	}
	return Parse(data)
}

// Holder publishes the active script to sessions. Swaps are atomic:
// readers always see either the previous or the next fully validated
// script, never a partial one.
type Holder struct {
	current atomic.Pointer[Script]
}

func NewHolder(sc *Script) *Holder {
	h := &Holder{}
	h.current.Store(sc)
	return h
}

// Current returns the active script.
func (h *Holder) Current() *Script { return h.current.Load() }

// Swap replaces the active script. A failed parse upstream never
// reaches here, so the previous script stays active on any error path.
func (h *Holder) Swap(sc *Script) *Script {
	return h.current.Swap(sc)
}
