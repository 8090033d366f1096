package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/veriledger/veriledger/pkg/contracts"
)

// fileDoc is the on-disk registry format:
//
//	event_types:
//	  ASSET_CREATED:
//	    allowed_emitter_classes: [HUMAN, SYSTEM]
//	    evidence_policy: REQUIRED
//	    payload_schema:
//	      type: object
//	      required: [name]
type fileDoc struct {
	EventTypes map[string]fileEntry `yaml:"event_types"`
}

type fileEntry struct {
	AllowedEmitterClasses []string       `yaml:"allowed_emitter_classes"`
	EvidencePolicy        string         `yaml:"evidence_policy"`
	PayloadSchema         map[string]any `yaml:"payload_schema,omitempty"`
}

// LoadFile reads and validates a registry YAML file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load registry %q: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a registry from registry YAML bytes.
func Parse(data []byte) (*Registry, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	if len(doc.EventTypes) == 0 {
		return nil, fmt.Errorf("registry defines no event types")
	}

	entries := make([]Entry, 0, len(doc.EventTypes))
	for eventType, fe := range doc.EventTypes {
		classes := make([]contracts.EmitterClass, 0, len(fe.AllowedEmitterClasses))
		for _, c := range fe.AllowedEmitterClasses {
			classes = append(classes, contracts.EmitterClass(c))
		}

		entry := Entry{
			EventType:             eventType,
			AllowedEmitterClasses: classes,
			EvidencePolicy:        contracts.EvidencePolicy(fe.EvidencePolicy),
		}

		if fe.PayloadSchema != nil {
			schema, err := compilePayloadSchema(eventType, fe.PayloadSchema)
			if err != nil {
				return nil, err
			}
			entry.PayloadSchema = schema
		}

		entries = append(entries, entry)
	}

	return New(entries)
}

// compilePayloadSchema turns the inline YAML schema into a compiled JSON
// Schema (Draft 2020-12).
func compilePayloadSchema(eventType string, raw map[string]any) (*jsonschema.Schema, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("event type %q: payload schema is not JSON-encodable: %w", eventType, err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://veriledger.schemas.local/events/%s.schema.json", eventType)
	if err := c.AddResource(schemaURL, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("event type %q: payload schema load failed: %w", eventType, err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("event type %q: payload schema compile failed: %w", eventType, err)
	}
	return compiled, nil
}
