package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starford/salesboard/internal/models"
)

// ErrMalformed marks a stored document that cannot be decoded into a record.
var ErrMalformed = errors.New("store: malformed document")

var requiredFields = []string{"client", "date", "assignee"}

// encodeFields converts a record into document fields. Absent optional
// fields are omitted; the id and timestamps are stored natively.
func encodeFields(o models.Opportunity) (map[string]any, error) {
	if o.ActionItems == nil {
		o.ActionItems = []string{}
	}
	m, err := encodeValue(o)
	if err != nil {
		return nil, err
	}
	delete(m, "id")
	delete(m, "createdAt")
	delete(m, "updatedAt")
	return m, nil
}

func encodeValue(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("store: encode: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("store: encode: %w", err)
	}
	return m, nil
}

// decodeDocument maps an untyped document into a record. Documents without
// a client, date or assignee are rejected; other fields get defaults.
func decodeDocument(doc Document) (models.Opportunity, error) {
	for _, k := range requiredFields {
		v, ok := doc.Fields[k].(string)
		if !ok || strings.TrimSpace(v) == "" {
			return models.Opportunity{}, fmt.Errorf("%w: %s: missing %s", ErrMalformed, doc.ID, k)
		}
	}

	raw, err := json.Marshal(doc.Fields)
	if err != nil {
		return models.Opportunity{}, fmt.Errorf("%w: %s: %v", ErrMalformed, doc.ID, err)
	}
	var o models.Opportunity
	if err := json.Unmarshal(raw, &o); err != nil {
		return models.Opportunity{}, fmt.Errorf("%w: %s: %v", ErrMalformed, doc.ID, err)
	}

	o.ID = doc.ID
	o.CreatedAt = doc.CreatedAt.UTC()
	o.UpdatedAt = doc.UpdatedAt.UTC()
	if o.UpdatedAt.Before(o.CreatedAt) {
		o.UpdatedAt = o.CreatedAt
	}
	if o.ActionItems == nil {
		o.ActionItems = []string{}
	}
	if o.Stage == "" {
		o.Stage = models.StageLead
	}
	o.Date = normalizeDate(o.Date)
	if o.ContactInfo.IsEmpty() {
		o.ContactInfo = nil
	}
	return o, nil
}

// normalizeDate turns a full timestamp into its YYYY-MM-DD day.
func normalizeDate(d string) string {
	if len(d) <= len(models.DateLayout) {
		return d
	}
	if t, err := time.Parse(time.RFC3339, d); err == nil {
		return t.Format(models.DateLayout)
	}
	return d
}
