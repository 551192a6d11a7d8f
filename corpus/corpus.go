// Package corpus adapts the raw document text the rest of the engine
// needs at build and re-ingest time. Source text itself lives outside
// the catalog and the segment files (they store metadata, fingerprints
// and postings, never raw text, per spec §3's storage boundary), so this package is
// the one seam between "a doc_id" and "its bytes".
package corpus

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/oysyn/plagindex/errs"
)

// Record is one line of a JSONL corpus file: the minimal fields the
// Segment Builder needs (BuildDoc) plus nothing else. Unknown JSON
// fields are tolerated and ignored, matching the sidecar decoder's
// tolerant-decode posture elsewhere in this engine.
type Record struct {
	DocID  string `json:"doc_id"`
	Text   string `json:"text"`
	Title  string `json:"title,omitempty"`
	Author string `json:"author,omitempty"`
}

// SourceStore is the narrow interface the Compactor uses to re-fetch a
// document's raw text for rebuild at a higher level (step 3 of §4.F).
// It is intentionally read-only and doc_id-keyed: the engine never
// needs to enumerate or mutate the source store, only resolve one
// doc_id at a time.
type SourceStore interface {
	// FetchText returns the raw text for docID, or a wrapped
	// errs.MissingSource if the document is not available.
	FetchText(ctx context.Context, docID string) (string, error)
}

// JSONLStore is a SourceStore backed by one or more JSONL corpus files
// already loaded into memory at open time. It is the thin adapter
// SPEC_FULL.md's Compactor section calls for: a stand-in for whatever
// external ingestion store holds the corpus, modeled here as the same
// JSONL files consumed at original ingest.
type JSONLStore struct {
	docs map[string]Record
}

// OpenJSONLStore reads every record from paths into memory, keyed by
// doc_id. Later files win on doc_id collision, matching the teacher's
// last-write-wins convention for reloaded state.
func OpenJSONLStore(paths ...string) (*JSONLStore, error) {
	store := &JSONLStore{docs: make(map[string]Record)}
	for _, path := range paths {
		if err := store.loadFile(path); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func (s *JSONLStore) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("corpus: open %s: %w", path, err)
	}
	defer f.Close()

	records, err := DecodeJSONL(f)
	if err != nil {
		return fmt.Errorf("corpus: decode %s: %w", path, err)
	}
	for _, rec := range records {
		if rec.DocID == "" {
			continue
		}
		s.docs[rec.DocID] = rec
	}
	return nil
}

// FetchText implements SourceStore.
func (s *JSONLStore) FetchText(ctx context.Context, docID string) (string, error) {
	rec, ok := s.docs[docID]
	if !ok {
		return "", fmt.Errorf("corpus: doc %s: %w", docID, errs.MissingSource)
	}
	return rec.Text, nil
}

// Get returns the full record for docID, used by callers (the builder
// CLI, the Compactor) that need title/author alongside text.
func (s *JSONLStore) Get(docID string) (Record, bool) {
	rec, ok := s.docs[docID]
	return rec, ok
}

// Put inserts or overwrites a record in memory, used at original
// ingest time before the catalog and segment files exist yet.
func (s *JSONLStore) Put(rec Record) {
	s.docs[rec.DocID] = rec
}

// All returns every record currently held, in map-iteration (i.e.
// unordered) fashion; callers that need a stable order should sort by
// DocID themselves.
func (s *JSONLStore) All() []Record {
	out := make([]Record, 0, len(s.docs))
	for _, rec := range s.docs {
		out = append(out, rec)
	}
	return out
}

// DecodeJSONL reads newline-delimited JSON objects from r into
// Records, skipping blank lines. It uses a streaming json.Decoder
// rather than bufio.Scanner+Unmarshal per line so a record's text
// field can contain embedded newlines without desynchronizing the
// reader.
func DecodeJSONL(r io.Reader) ([]Record, error) {
	dec := json.NewDecoder(bufio.NewReader(r))
	var out []Record
	for dec.More() {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("corpus: decode record %d: %w", len(out), err)
		}
		out = append(out, rec)
	}
	return out, nil
}
