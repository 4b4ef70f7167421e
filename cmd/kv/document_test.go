package kv

import (
	"testing"
)

func TestParseDocument(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantID  string
		wantErr bool
	}{
		{"Valid", `{"id":"u1","name":"bob","age":3}`, "u1", false},
		{"MissingID", `{"name":"bob"}`, "", true},
		{"NumericID", `{"id":1}`, "", true},
		{"InvalidJSON", `{"id":`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := parseDocument(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseDocument() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if doc.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", doc.ID, tt.wantID)
			}
			if _, ok := doc.Fields["id"]; ok {
				t.Error("id must not be kept as a field")
			}
		})
	}
}

func TestDocumentProperties(t *testing.T) {
	doc := &Document{ID: "u1"}
	if err := doc.SetProperty("name", "bob"); err != nil {
		t.Fatal(err)
	}
	if v, ok := doc.GetProperty("name"); !ok || v != "bob" {
		t.Errorf("GetProperty(name) = %v, %v", v, ok)
	}
	if v, _ := doc.GetProperty("id"); v != "u1" {
		t.Errorf("GetProperty(id) = %v", v)
	}
	if err := doc.SetProperty("id", "u2"); err == nil {
		t.Error("changing the id must fail")
	}
	if got, want := render(doc), `{"id":"u1","name":"bob"}`; got != want {
		t.Errorf("render() = %s, want %s", got, want)
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		input string
		want  any
	}{
		{"42", float64(42)},
		{"true", true},
		{`"quoted"`, "quoted"},
		{"plain text", "plain text"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseValue(tt.input); got != tt.want {
				t.Errorf("parseValue(%q) = %v (%T), want %v", tt.input, got, got, tt.want)
			}
		})
	}
}
