package batch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/roach88/trisync/internal/ir"
)

// OutputRecord is one merged object as handed to the next stage.
type OutputRecord struct {
	ID         string        `json:"id"`
	Type       string        `json:"type"`
	Properties ir.IRObject   `json:"properties"`
	Geometry   ir.IRObject   `json:"geometry"`
	Version    int64         `json:"version"`
	Timestamp  time.Time     `json:"timestamp"`
	Provenance ir.Provenance `json:"provenance"`
	Deleted    bool          `json:"deleted,omitempty"`
}

// Output converts objects to output records, keeping their order.
func Output(objects []ir.VersionedObject) []OutputRecord {
	out := make([]OutputRecord, 0, len(objects))
	for _, obj := range objects {
		out = append(out, OutputRecord{
			ID:         obj.ID,
			Type:       obj.Type,
			Properties: obj.Properties,
			Geometry:   obj.Geometry,
			Version:    obj.Version,
			Timestamp:  obj.Timestamp.UTC(),
			Provenance: obj.Provenance,
			Deleted:    obj.IsTombstoned(),
		})
	}
	return out
}

// WriteOutput writes objects to w as an indented JSON array.
func WriteOutput(w io.Writer, objects []ir.VersionedObject) error {
	data, err := json.MarshalIndent(Output(objects), "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// WriteOutputFile writes objects to path via a temp file and rename, so a
// reader never sees a partial file.
func WriteOutputFile(path string, objects []ir.VersionedObject) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".trisync-out-*")
	if err != nil {
		return fmt.Errorf("write output file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = WriteOutput(tmp, objects); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}
	return nil
}
