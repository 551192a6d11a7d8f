// Package errs holds the sentinel errors and error-kind taxonomy shared
// by every package in the engine. It exists as its own leaf package so
// that segment/catalog/compactor/search/queue can report typed errors
// without importing the root plagindex package (which itself imports
// all of them). The root package re-exports these names from errors.go
// so callers see the familiar plagindex.Err* surface.
package errs

import "errors"

// Kind tags the six error categories from the engine's error handling
// design. Callers can match on the sentinel values below with
// errors.Is; Kind itself is exposed for logging/metrics labels.
type Kind string

const (
	KindBadInput       Kind = "bad_input"
	KindCorruptSegment Kind = "corrupt_segment"
	KindMissingSource  Kind = "missing_source"
	KindConfigMismatch Kind = "config_mismatch"
	KindTransient      Kind = "transient"
	KindCancelled      Kind = "cancelled"
)

var (
	// BadInput is returned when a query or document fails preconditions
	// (too short, empty after normalization). Never retried.
	BadInput = errors.New("plagindex: bad input")

	// CorruptSegment is returned when a segment fails magic/version/CRC
	// or sort-order validation. The segment is quarantined, not repaired.
	CorruptSegment = errors.New("plagindex: corrupt segment")

	// MissingSource is returned when a compaction cannot recover a
	// document's original text from the ingestion store.
	MissingSource = errors.New("plagindex: missing source text")

	// ConfigMismatch is returned by the catalog when a segment being
	// published is no longer in the building state. No code compares
	// index configurations, so a build against an index with a different
	// MinHash/LSH shape does not produce it.
	ConfigMismatch = errors.New("plagindex: index config mismatch")

	// Transient covers I/O, lock contention, or subprocess failures that
	// a caller may retry by requeuing the task.
	Transient = errors.New("plagindex: transient failure")

	// Cancelled is not returned by any code in the engine: when a
	// query's context ends mid-search, search.Query returns ctx.Err()
	// and a nil result, with no partial hits.
	Cancelled = errors.New("plagindex: cancelled")

	// DocumentNotFound is returned when a doc_id or internal_id does not
	// exist in the catalog/segment being queried.
	DocumentNotFound = errors.New("plagindex: document not found")

	// SegmentNotFound is returned when a segment_id is unknown to the
	// catalog.
	SegmentNotFound = errors.New("plagindex: segment not found")

	// NoResults is not returned by any code in the engine; a search with
	// zero candidates returns an empty Hits slice and a nil error.
	NoResults = errors.New("plagindex: no results found")

	// InvalidConfig is returned for invalid engine configuration values
	// (e.g. K mod rows != 0 for LSH banding).
	InvalidConfig = errors.New("plagindex: invalid configuration")

	// StoreClosed is returned when operating on a closed catalog.
	StoreClosed = errors.New("plagindex: catalog is closed")

	// AlreadyReserved is not returned by any code in the engine:
	// catalog.Store.LockForCompaction skips segments that are already
	// reserved instead of failing.
	AlreadyReserved = errors.New("plagindex: segment already reserved")
)
