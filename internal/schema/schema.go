// Package schema is the JSON-schema for the mission YAML document plus a
// validation entrypoint: every step kind, the three schedule variants, and
// the two error-policy shapes.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// missionSchemaURI is the synthetic resource URI the compiled schema is
// registered under; nothing ever dereferences it over the network.
const missionSchemaURI = "missionctl://schema/mission.json"

// Document is the mission-YAML JSON schema. Exposed verbatim by
// GET /missions/schema.
var Document = map[string]any{
	"$schema":  "https://json-schema.org/draft/2020-12/schema",
	"$id":      missionSchemaURI,
	"title":    "mission",
	"type":     "object",
	"required": []any{"name", "desc", "version", "drivers", "blocks"},
	"properties": map[string]any{
		"name":    map[string]any{"type": "string"},
		"desc":    map[string]any{"type": "string"},
		"version": map[string]any{"type": "string"},
		"drivers": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"debug":   map[string]any{"type": "boolean"},
		"verbose": map[string]any{"type": "boolean"},
		"onerror": map[string]any{"$ref": "#/$defs/errorPolicy"},
		"schedule": map[string]any{
			"type": "object",
			"oneOf": []any{
				map[string]any{"$ref": "#/$defs/cronSchedule"},
				map[string]any{"$ref": "#/$defs/dateSchedule"},
				map[string]any{"$ref": "#/$defs/eventSchedule"},
			},
		},
		"blocks": map[string]any{
			"type":  "array",
			"items": map[string]any{"$ref": "#/$defs/block"},
		},
	},
	"$defs": map[string]any{
		"errorPolicy": map[string]any{
			"type": "object",
			"oneOf": []any{
				map[string]any{
					"type":       "object",
					"required":   []any{"type"},
					"properties": map[string]any{"type": map[string]any{"enum": []any{"abort", "break", "continue", "ignore"}}},
				},
				map[string]any{
					"type":     "object",
					"required": []any{"type"},
					"properties": map[string]any{
						"type":    map[string]any{"const": "retry"},
						"count":   map[string]any{"type": "integer"},
						"backoff": map[string]any{"type": "integer"},
					},
				},
			},
		},
		"cronSchedule": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"year": map[string]any{}, "month": map[string]any{}, "day": map[string]any{},
				"week": map[string]any{}, "day_of_week": map[string]any{}, "hour": map[string]any{},
				"minute": map[string]any{}, "second": map[string]any{},
				"start_date": map[string]any{"type": "string"}, "end_date": map[string]any{"type": "string"},
			},
			"anyOf": []any{
				map[string]any{"required": []any{"year"}}, map[string]any{"required": []any{"month"}},
				map[string]any{"required": []any{"day"}}, map[string]any{"required": []any{"week"}},
				map[string]any{"required": []any{"day_of_week"}}, map[string]any{"required": []any{"hour"}},
				map[string]any{"required": []any{"minute"}}, map[string]any{"required": []any{"second"}},
			},
		},
		"dateSchedule": map[string]any{
			"type":     "object",
			"required": []any{"run_date"},
			"properties": map[string]any{
				"run_date": map[string]any{"type": "string"},
			},
		},
		"eventSchedule": map[string]any{
			"type":     "object",
			"required": []any{"source", "event"},
			"properties": map[string]any{
				"source": map[string]any{"type": "string"},
				"event":  map[string]any{"type": "string"},
			},
		},
		"condition": map[string]any{
			"type":     "object",
			"required": []any{"variable", "value"},
			"properties": map[string]any{
				"variable":   map[string]any{"type": "string"},
				"value":      map[string]any{},
				"comparator": map[string]any{"enum": []any{"equal", "not_equal"}},
			},
		},
		"block": map[string]any{
			"type":     "object",
			"required": []any{"label", "sequence"},
			"properties": map[string]any{
				"label":   map[string]any{"type": "string"},
				"onerror": map[string]any{"$ref": "#/$defs/errorPolicy"},
				"sequence": map[string]any{
					"type":  "array",
					"items": map[string]any{"$ref": "#/$defs/step"},
				},
			},
		},
		"step": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"timeout":         map[string]any{"type": "number"},
				"onerror":         map[string]any{"$ref": "#/$defs/errorPolicy"},
				"loop":            map[string]any{"type": "integer"},
				"condition":       map[string]any{"$ref": "#/$defs/condition"},
				"execute":         map[string]any{"type": "string"},
				"command":         map[string]any{"type": "string"},
				"kwargs":          map[string]any{"type": "object"},
				"get":             map[string]any{"type": "string"},
				"set":             map[string]any{"type": "string"},
				"parameter":       map[string]any{"type": "string"},
				"value":           map[string]any{},
				"get_state":       map[string]any{"type": "string"},
				"discover":        map[string]any{"type": "string"},
				"reset":           map[string]any{"type": "string"},
				"ping":            map[string]any{"type": "string"},
				"connect":         map[string]any{"type": "string"},
				"disconnect":      map[string]any{"type": "string"},
				"set_init_params": map[string]any{"type": "string"},
				"configure":       map[string]any{"type": "string"},
				"config":          map[string]any{"type": "object"},
				"sleep":           map[string]any{"type": "number"},
				"block_name":      map[string]any{"type": "string"},
			},
		},
	},
}

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		data, err := json.Marshal(Document)
		if err != nil {
			compileErr = fmt.Errorf("marshal mission schema: %w", err)
			return
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			compileErr = fmt.Errorf("unmarshal mission schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(missionSchemaURI, doc); err != nil {
			compileErr = fmt.Errorf("add mission schema resource: %w", err)
			return
		}
		compiled, compileErr = c.Compile(missionSchemaURI)
	})
	return compiled, compileErr
}

// Validate checks a decoded mission document (a map[string]any produced by
// gopkg.in/yaml.v3) against the mission schema. The control plane runs
// this before accepting a POST /missions body or a POST /missions/validate
// request.
func Validate(doc any) error {
	sch, err := compiledSchema()
	if err != nil {
		return err
	}
	return sch.Validate(doc)
}
