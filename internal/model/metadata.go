package model

import "fmt"

// MetadataField names a generated attachment field.
type MetadataField string

const (
	FieldAltText     MetadataField = "alt_text"
	FieldCaption     MetadataField = "caption"
	FieldTitle       MetadataField = "title"
	FieldDescription MetadataField = "description"
)

// MetadataFields lists every field in the order the media frame shows them.
var MetadataFields = []MetadataField{FieldAltText, FieldCaption, FieldTitle, FieldDescription}

// CreditCost is the credit price of generating one field.
const CreditCost = 1

// ParseMetadataField accepts a field name, including the "alt" alias used by
// the attachment form.
func ParseMetadataField(s string) (MetadataField, error) {
	if s == "alt" {
		return FieldAltText, nil
	}
	for _, f := range MetadataFields {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown metadata field: %q", s)
}

// Metadata is the text generated for an attachment.
type Metadata struct {
	AltText     string `json:"alt_text,omitempty"`
	Caption     string `json:"caption,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// Get returns the value of a single field.
func (m Metadata) Get(f MetadataField) string {
	switch f {
	case FieldAltText:
		return m.AltText
	case FieldCaption:
		return m.Caption
	case FieldTitle:
		return m.Title
	case FieldDescription:
		return m.Description
	}
	return ""
}

// Only returns a copy restricted to fields.
func (m Metadata) Only(fields []MetadataField) Metadata {
	var out Metadata
	for _, f := range fields {
		switch f {
		case FieldAltText:
			out.AltText = m.AltText
		case FieldCaption:
			out.Caption = m.Caption
		case FieldTitle:
			out.Title = m.Title
		case FieldDescription:
			out.Description = m.Description
		}
	}
	return out
}

// Fields returns the non-empty fields as a form map keyed by field name.
func (m Metadata) Fields() map[string]string {
	out := make(map[string]string)
	for _, f := range MetadataFields {
		if v := m.Get(f); v != "" {
			out[string(f)] = v
		}
	}
	return out
}

// Prediction statuses reported by the metadata job endpoint.
const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
)

// Prediction is a long-running metadata job on the remote API.
type Prediction struct {
	ID     string    `json:"id"`
	Status string    `json:"status"`
	Output *Metadata `json:"output,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// Terminal reports whether the prediction will not change status again.
func (p *Prediction) Terminal() bool {
	return p.Status == StatusSucceeded || p.Status == StatusFailed
}
