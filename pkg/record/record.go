// Package record defines the ingested entity and its change history.
package record

import (
	"fmt"
	"time"
)

// LastModifiedAttribute is the provider attribute holding a record's
// modification timestamp.
const LastModifiedAttribute = "lastModifiedDate"

// Record is one provider entity as persisted by the store.
type Record struct {
	// StorageID is assigned by the store on first insert and never changes.
	StorageID string `json:"_id,omitempty"`

	ID            string         `json:"id"`
	Type          string         `json:"type,omitempty"`
	Attributes    map[string]any `json:"attributes"`
	Links         map[string]any `json:"links"`
	Relationships map[string]any `json:"relationships,omitempty"`

	// History holds one entry per detected change, newest first.
	History []HistoryEntry `json:"_history"`

	// LastScanned is when the record was last fetched successfully.
	LastScanned time.Time `json:"_scanned"`
}

// HistoryEntry describes how a record's content changed between two scans.
type HistoryEntry struct {
	// Scanned is the LastScanned of the superseded version.
	Scanned time.Time `json:"scanned"`
	Changes []Change  `json:"changes"`
}

// Op is the kind of a field-level change.
type Op string

const (
	OpAdded   Op = "added"
	OpRemoved Op = "removed"
	OpChanged Op = "changed"
)

// Change is a single field-level difference. Path is a JSON pointer into the
// record content, e.g. /attributes/comment or /attributes/tags/2.
type Change struct {
	Path string `json:"path"`
	Op   Op     `json:"op"`
	Old  any    `json:"old,omitempty"`
	New  any    `json:"new,omitempty"`
}

// Content returns the record as a JSON-shaped tree without history, scan
// time or storage identity. Nil and empty maps yield the same content.
func (r Record) Content() map[string]any {
	content := map[string]any{
		"id":         r.ID,
		"attributes": normalize(r.Attributes),
		"links":      normalize(r.Links),
	}
	if r.Type != "" {
		content["type"] = r.Type
	}
	if len(r.Relationships) > 0 {
		content["relationships"] = r.Relationships
	}
	return content
}

// SelfLink returns links.self, or "" if absent.
func (r Record) SelfLink() string {
	self, _ := r.Links["self"].(string)
	return self
}

// LastModified parses the lastModifiedDate attribute.
func (r Record) LastModified() (time.Time, error) {
	raw, ok := r.Attributes[LastModifiedAttribute].(string)
	if !ok || raw == "" {
		return time.Time{}, fmt.Errorf("record %s: missing %s", r.ID, LastModifiedAttribute)
	}
	return ParseTimestamp(raw)
}

// timestampLayouts are the provider's timestamp forms: RFC 3339 and the
// colon-less numeric offset form.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05.000Z0700",
}

// ParseTimestamp parses a provider timestamp carrying a zone offset.
func ParseTimestamp(raw string) (time.Time, error) {
	var firstErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, raw)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, firstErr)
}

func normalize(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
