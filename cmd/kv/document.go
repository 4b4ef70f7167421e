package kv

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/tkv/lib/storage"
)

// Document is the record type of the kv commands: a JSON object with an "id" property
type Document struct {
	ID        string         `json:"id"`
	Fields    map[string]any `json:"fields,omitempty"`
	UpdatedAt time.Time      `json:"updatedAt,omitempty"`
}

var (
	_ storage.PropertyAccessor = (*Document)(nil)
	_ storage.Timestamped      = (*Document)(nil)
)

func (d *Document) GetID() string { return d.ID }

func (d *Document) GetProperty(name string) (any, bool) {
	if name == "id" {
		return d.ID, true
	}
	v, ok := d.Fields[name]
	return v, ok
}

func (d *Document) SetProperty(name string, value any) error {
	if name == "id" {
		return fmt.Errorf("the id of a document can not be changed")
	}
	if d.Fields == nil {
		d.Fields = make(map[string]any)
	}
	d.Fields[name] = value
	return nil
}

func (d *Document) SetTimestamp(_ string, t time.Time) {
	d.UpdatedAt = t
}

// parseDocument reads a flat JSON object, the "id" property becomes the id of the document
func parseDocument(s string) (*Document, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(s), &fields); err != nil {
		return nil, fmt.Errorf("invalid document %s: %w", s, err)
	}
	id, ok := fields["id"].(string)
	if !ok || id == "" {
		return nil, fmt.Errorf("document %s has no string property \"id\"", s)
	}
	delete(fields, "id")
	return &Document{ID: id, Fields: fields}, nil
}

// parseValue interprets s as JSON and falls back to the plain string
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

// render formats a document as a flat JSON object
func render(d *Document) string {
	if d == nil {
		return "<nil>"
	}
	out := make(map[string]any, len(d.Fields)+2)
	for k, v := range d.Fields {
		out[k] = v
	}
	out["id"] = d.ID
	if !d.UpdatedAt.IsZero() {
		out["updatedAt"] = d.UpdatedAt.Format(time.RFC3339)
	}
	b, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(b)
}

func renderAll(docs []*Document) string {
	lines := make([]string, len(docs))
	for i, d := range docs {
		lines[i] = render(d)
	}
	return strings.Join(lines, "\n")
}
