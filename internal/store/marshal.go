package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/roach88/trisync/internal/ir"
)

// timeLayout is used for every TEXT timestamp column.
const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// marshalObject converts a VersionedObject to JSON TEXT for storage.
// IRObject marshals with sorted keys, so the stored text is stable.
func marshalObject(obj ir.VersionedObject) (string, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("marshal object %s: %w", obj.ID, err)
	}
	return string(data), nil
}

// unmarshalObject parses stored JSON TEXT back into a VersionedObject.
// Numbers decode through ir.IRObject.UnmarshalJSON, which keeps integers
// exact beyond 2^53.
func unmarshalObject(data string) (ir.VersionedObject, error) {
	var obj ir.VersionedObject
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return ir.VersionedObject{}, fmt.Errorf("unmarshal object: %w", err)
	}
	if obj.Properties == nil {
		obj.Properties = ir.IRObject{}
	}
	if obj.Geometry == nil {
		obj.Geometry = ir.IRObject{}
	}
	return obj, nil
}

// marshalOptionalObject stores a nil object as SQL NULL.
func marshalOptionalObject(obj *ir.VersionedObject) (sql.NullString, error) {
	if obj == nil {
		return sql.NullString{}, nil
	}
	s, err := marshalObject(*obj)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: s, Valid: true}, nil
}

func unmarshalOptionalObject(data sql.NullString) (*ir.VersionedObject, error) {
	if !data.Valid {
		return nil, nil
	}
	obj, err := unmarshalObject(data.String)
	if err != nil {
		return nil, err
	}
	return &obj, nil
}
