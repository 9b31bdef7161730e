package index

import (
	"encoding/json"
	"fmt"
)

// Document is the payload delivered to the search backend
type Document struct {
	DocID     string            `json:"docid"`
	Fields    map[string]string `json:"fields"`
	Variables map[int]float64   `json:"variables,omitempty"`
	Text      string            `json:"-"`
}

// TextField is the reserved field name holding the full-text body
const TextField = "text"

// MarshalJSON folds Text into the fields map under TextField
func (d Document) MarshalJSON() ([]byte, error) {
	fields := make(map[string]string, len(d.Fields)+1)
	for k, v := range d.Fields {
		fields[k] = v
	}
	if d.Text != "" {
		fields[TextField] = d.Text
	}

	type wire Document
	w := wire(d)
	w.Fields = fields
	return json.Marshal(w)
}

// UnmarshalJSON restores Text from the fields map
func (d *Document) UnmarshalJSON(data []byte) error {
	type wire Document
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}

	*d = Document(w)
	if text, ok := d.Fields[TextField]; ok {
		d.Text = text
		delete(d.Fields, TextField)
	}
	return nil
}
