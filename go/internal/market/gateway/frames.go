package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Client operations.
const (
	OpSet    = "set"
	OpDelete = "delete"
	OpGet    = "get"
)

// Server frame types.
const (
	FrameChange = "change"
	FrameValue  = "value"
	FrameError  = "error"
)

const clientFrameSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"op":    {"enum": ["set", "delete", "get"]},
		"key":   {"type": "string", "minLength": 1, "maxLength": 256},
		"value": {"type": "string", "maxLength": 65536},
		"id":    {"type": "string", "maxLength": 64}
	},
	"required": ["op", "key"],
	"additionalProperties": false,
	"if": {"properties": {"op": {"const": "set"}}},
	"then": {"required": ["value"]}
}`

// ClientFrame is what a browser context sends: a write, a delete or a read
// of one key.
type ClientFrame struct {
	Op    string `json:"op"`
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
	ID    string `json:"id,omitempty"`
}

// ServerFrame is what the gateway sends back. Change frames relay writes by
// other contexts; value and error frames answer a client frame and echo its id.
type ServerFrame struct {
	Type    string `json:"type"`
	Key     string `json:"key,omitempty"`
	Value   string `json:"value,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
	Found   bool   `json:"found,omitempty"`
	Origin  string `json:"origin,omitempty"`
	At      int64  `json:"at,omitempty"` // unix milliseconds
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// FrameValidator checks raw client frames against the frame schema.
type FrameValidator struct {
	schema *jsonschema.Schema
}

func NewFrameValidator() (*FrameValidator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(clientFrameSchema))
	if err != nil {
		return nil, fmt.Errorf("parse frame schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("client-frame.json", doc); err != nil {
		return nil, fmt.Errorf("add frame schema: %w", err)
	}
	schema, err := c.Compile("client-frame.json")
	if err != nil {
		return nil, fmt.Errorf("compile frame schema: %w", err)
	}
	return &FrameValidator{schema: schema}, nil
}

// Parse validates raw and decodes it.
func (v *FrameValidator) Parse(raw []byte) (ClientFrame, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return ClientFrame{}, fmt.Errorf("invalid json: %w", err)
	}
	if err := v.schema.Validate(inst); err != nil {
		return ClientFrame{}, fmt.Errorf("invalid frame: %w", err)
	}

	var frame ClientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return ClientFrame{}, fmt.Errorf("invalid frame: %w", err)
	}
	return frame, nil
}
