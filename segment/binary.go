package segment

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sort"

	"github.com/oysyn/plagindex/errs"
)

// writeBinary serializes the magic/version/doc_meta/post9/post13
// sections to w, little-endian throughout, per the segment binary
// format. A CRC32 (IEEE) of every byte written before the trailer is
// appended as a 4-byte trailer so readers can detect corruption without
// re-deriving the whole segment.
func writeBinary(w io.Writer, seg *Segment) error {
	var buf bytes.Buffer

	buf.WriteString(Magic)
	if err := binary.Write(&buf, binary.LittleEndian, Version); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(seg.DocIDs))); err != nil {
		return err
	}

	post9 := seg.Postings[9]
	post13 := seg.Postings[13]

	if err := binary.Write(&buf, binary.LittleEndian, uint64(len(post9))); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint64(len(post13))); err != nil {
		return err
	}

	for _, m := range seg.DocMeta {
		if err := binary.Write(&buf, binary.LittleEndian, m.TokLen); err != nil {
			return err
		}
		if err := binary.Write(&buf, binary.LittleEndian, m.SimHi); err != nil {
			return err
		}
		if err := binary.Write(&buf, binary.LittleEndian, m.SimLo); err != nil {
			return err
		}
	}

	writePostings := func(list []Posting) error {
		for _, p := range list {
			if err := binary.Write(&buf, binary.LittleEndian, p.Hash); err != nil {
				return err
			}
			if err := binary.Write(&buf, binary.LittleEndian, p.IntID); err != nil {
				return err
			}
		}
		return nil
	}
	if err := writePostings(post9); err != nil {
		return err
	}
	if err := writePostings(post13); err != nil {
		return err
	}

	sum := crc32.ChecksumIEEE(buf.Bytes())
	if err := binary.Write(&buf, binary.LittleEndian, sum); err != nil {
		return err
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// WriteBinaryFile writes seg's binary section to path, fsyncing before
// close so a reader never observes a half-written file.
func WriteBinaryFile(path string, seg *Segment) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("segment: create binary file: %w", err)
	}
	bw := bufio.NewWriter(f)
	if err := writeBinary(bw, seg); err != nil {
		f.Close()
		return fmt.Errorf("segment: write binary: %w", err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("segment: flush binary: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("segment: fsync binary: %w", err)
	}
	return f.Close()
}

// ReadBinaryFile reads and validates a segment's binary section,
// returning ErrCorruptSegment (wrapped) on magic/version/CRC mismatch
// or out-of-order/duplicate postings.
func ReadBinaryFile(path string) (docMeta []DocMeta, post9, post13 []Posting, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("segment: read binary file: %w", err)
	}
	return parseBinary(data)
}

func parseBinary(data []byte) ([]DocMeta, []Posting, []Posting, error) {
	if len(data) < 4+4+4+8+8+4 {
		return nil, nil, nil, fmt.Errorf("%w: file too small", errs.CorruptSegment)
	}

	trailerOffset := len(data) - 4
	body := data[:trailerOffset]
	wantSum := binary.LittleEndian.Uint32(data[trailerOffset:])
	gotSum := crc32.ChecksumIEEE(body)
	if wantSum != gotSum {
		return nil, nil, nil, fmt.Errorf("%w: crc mismatch (want %x got %x)", errs.CorruptSegment, wantSum, gotSum)
	}

	r := bytes.NewReader(body)

	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", errs.CorruptSegment, err)
	}
	if string(magic) != Magic {
		return nil, nil, nil, fmt.Errorf("%w: bad magic %q", errs.CorruptSegment, magic)
	}

	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", errs.CorruptSegment, err)
	}
	if version != Version {
		return nil, nil, nil, fmt.Errorf("%w: unsupported version %d", errs.CorruptSegment, version)
	}

	var nDocs uint32
	if err := binary.Read(r, binary.LittleEndian, &nDocs); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", errs.CorruptSegment, err)
	}

	var nPost9, nPost13 uint64
	if err := binary.Read(r, binary.LittleEndian, &nPost9); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", errs.CorruptSegment, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &nPost13); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", errs.CorruptSegment, err)
	}

	docMeta := make([]DocMeta, nDocs)
	for i := range docMeta {
		if err := binary.Read(r, binary.LittleEndian, &docMeta[i].TokLen); err != nil {
			return nil, nil, nil, fmt.Errorf("%w: %v", errs.CorruptSegment, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &docMeta[i].SimHi); err != nil {
			return nil, nil, nil, fmt.Errorf("%w: %v", errs.CorruptSegment, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &docMeta[i].SimLo); err != nil {
			return nil, nil, nil, fmt.Errorf("%w: %v", errs.CorruptSegment, err)
		}
	}

	readPostings := func(n uint64) ([]Posting, error) {
		list := make([]Posting, n)
		for i := range list {
			if err := binary.Read(r, binary.LittleEndian, &list[i].Hash); err != nil {
				return nil, fmt.Errorf("%w: %v", errs.CorruptSegment, err)
			}
			if err := binary.Read(r, binary.LittleEndian, &list[i].IntID); err != nil {
				return nil, fmt.Errorf("%w: %v", errs.CorruptSegment, err)
			}
		}
		return list, nil
	}

	post9List, err := readPostings(nPost9)
	if err != nil {
		return nil, nil, nil, err
	}
	post13List, err := readPostings(nPost13)
	if err != nil {
		return nil, nil, nil, err
	}

	if err := validatePostings(post9List, nDocs); err != nil {
		return nil, nil, nil, err
	}
	if err := validatePostings(post13List, nDocs); err != nil {
		return nil, nil, nil, err
	}

	return docMeta, post9List, post13List, nil
}

// validatePostings enforces invariants 1 and 2 from spec §8: every
// internal_id is in range, and the list is sorted ascending by
// (hash, internal_id) with no duplicates.
func validatePostings(list []Posting, nDocs uint32) error {
	for i, p := range list {
		if p.IntID >= nDocs {
			return fmt.Errorf("%w: posting %d references out-of-range internal_id %d (n_docs=%d)", errs.CorruptSegment, i, p.IntID, nDocs)
		}
		if i == 0 {
			continue
		}
		prev := list[i-1]
		if p.Hash < prev.Hash || (p.Hash == prev.Hash && p.IntID <= prev.IntID) {
			return fmt.Errorf("%w: postings not sorted or contain duplicate at index %d", errs.CorruptSegment, i)
		}
	}
	return nil
}

// sortPostings sorts and deduplicates a posting buffer by (hash, intid),
// used by the builder before serialization.
func sortPostings(list []Posting) []Posting {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Hash != list[j].Hash {
			return list[i].Hash < list[j].Hash
		}
		return list[i].IntID < list[j].IntID
	})
	out := list[:0]
	for i, p := range list {
		if i > 0 && p == list[i-1] {
			continue
		}
		out = append(out, p)
	}
	return out
}
