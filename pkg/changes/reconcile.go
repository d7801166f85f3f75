package changes

import (
	"time"

	"github.com/Sternrassler/docket-sync/pkg/record"
)

// Outcome is the result of reconciling one fetched record.
type Outcome string

const (
	// Created means no stored version existed.
	Created Outcome = "created"

	// Changed means the content differed and a history entry was prepended.
	Changed Outcome = "changed"

	// Unchanged means the content was identical; only the scan time moved.
	Unchanged Outcome = "unchanged"
)

// Reconcile merges a freshly fetched record with its stored version (nil if
// none) and returns the record to persist.
//
// The stored storage identity is carried over so the write is an update.
// A diff is prepended to the history iff the content differs, so reconciling
// the same content again is a no-op apart from LastScanned. LastScanned never
// moves backwards.
func Reconcile(fetched record.Record, stored *record.Record, scannedAt time.Time) (record.Record, Outcome) {
	result := fetched
	result.History = []record.HistoryEntry{}
	result.LastScanned = scannedAt

	if stored == nil {
		return result, Created
	}

	result.StorageID = stored.StorageID
	if scannedAt.Before(stored.LastScanned) {
		result.LastScanned = stored.LastScanned
	}

	oldContent, newContent := stored.Content(), fetched.Content()
	if Equal(oldContent, newContent) {
		result.History = append(result.History, stored.History...)
		return result, Unchanged
	}

	entry := record.HistoryEntry{
		Scanned: stored.LastScanned,
		Changes: Diff(oldContent, newContent),
	}
	result.History = make([]record.HistoryEntry, 0, len(stored.History)+1)
	result.History = append(result.History, entry)
	result.History = append(result.History, stored.History...)
	return result, Changed
}
