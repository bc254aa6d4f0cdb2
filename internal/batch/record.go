package batch

import (
	"bytes"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/roach88/trisync/internal/ir"
)

// RawRecord is one item of an incoming batch.
//
// ID is optional: when absent the engine resolves ExternalID through the
// ledger or mints a fresh id. Type is required.
type RawRecord struct {
	ID         string         `json:"id,omitempty" yaml:"id,omitempty"`
	ExternalID string         `json:"external_id,omitempty" yaml:"external_id,omitempty"`
	Type       string         `json:"type" yaml:"type"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
	Geometry   map[string]any `json:"geometry,omitempty" yaml:"geometry,omitempty"`
	Deleted    bool           `json:"deleted,omitempty" yaml:"deleted,omitempty"`
	Timestamp  *time.Time     `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`

	// Source is a free-form label of the producing system, recorded on
	// events. It does not affect provenance.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
}

// Content converts the record's properties and geometry to IR objects.
// Absent maps become empty objects.
func (r RawRecord) Content() (properties, geometry ir.IRObject, err error) {
	properties, err = ir.ToIRObject(r.Properties)
	if err != nil {
		return nil, nil, fmt.Errorf("properties: %w", err)
	}
	geometry, err = ir.ToIRObject(r.Geometry)
	if err != nil {
		return nil, nil, fmt.Errorf("geometry: %w", err)
	}
	return properties, geometry, nil
}

// Label names the record in diagnostics: its id, else its external id.
func (r RawRecord) Label() string {
	switch {
	case r.ID != "":
		return r.ID
	case r.ExternalID != "":
		return "external:" + r.ExternalID
	default:
		return ""
	}
}

// EncodeRecord serializes r as a single JSON object.
func EncodeRecord(r RawRecord) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode record %s: %w", r.Label(), err)
	}
	return data, nil
}

// DecodeRecord parses a record written by EncodeRecord. Numbers are kept
// exact, as in Decode.
func DecodeRecord(data []byte) (RawRecord, error) {
	var r RawRecord
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&r); err != nil {
		return RawRecord{}, fmt.Errorf("decode record: %w", err)
	}
	return r, nil
}
