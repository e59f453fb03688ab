package revtree

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/MKhiriev/go-doc-sync/models"
)

// Encoded record layout, all integers big-endian:
//
//	uint32  size          total record size, 0 terminates the stream
//	uint16  parentIndex   0xFFFF = no parent
//	uint8   flags         persistent public flags | private bits below
//	uint8   revIDLen
//	...     revID
//	uvarint sequence
//	if hasInlineBody:     body bytes (to end of record)
//	else if hasBodyRef:   uvarint oldBodyOffset, uvarint bodySize
//
// The stream ends with a four-byte zero sentinel.
const (
	// Private flag bits used only in the encoded form.
	flagHasBodyRef    = 0x40 // an (offset, size) body back-reference follows
	flagHasInlineBody = 0x80 // the body bytes are stored in the record

	noParentIndex   = 0xFFFF
	recordHeaderLen = 4 + 2 + 1 + 1
)

// Encode serializes revisions into the on-disk tree form. Revisions are
// sorted leaves-first by decreasing priority and parent indexes are
// rewritten to match the new order.
func Encode(revs []*Revision) ([]byte, error) {
	sorted := slices.Clone(revs)
	slices.SortStableFunc(sorted, compareForEncode)

	// Parent indexes are positions in the new order.
	newIndex := make(map[*Revision]int, len(sorted))
	for i, r := range sorted {
		newIndex[r] = i
	}

	var buf []byte
	var varintBuf [binary.MaxVarintLen64]byte
	for _, r := range sorted {
		if !ValidRevID(r.ID) {
			return nil, fmt.Errorf("encode revision %q: %w", r.ID, models.ErrBadRevision)
		}

		parent := noParentIndex
		if r.Parent != NoParent {
			p, ok := newIndex[revs[r.Parent]]
			if !ok || p == newIndex[r] {
				return nil, fmt.Errorf("encode revision %q: %w: dangling parent", r.ID, models.ErrBadRevision)
			}
			parent = p
		}

		flags := uint8(r.Flags & persistentFlags)
		seqLen := binary.PutUvarint(varintBuf[:], r.Sequence)
		size := recordHeaderLen + len(r.ID) + seqLen
		switch {
		case len(r.Body) > 0:
			flags |= flagHasInlineBody
			size += len(r.Body)
		case r.BodySize > 0:
			flags |= flagHasBodyRef
			size += uvarintLen(r.BodyOffset) + uvarintLen(r.BodySize)
		}

		rec := make([]byte, 0, size)
		rec = binary.BigEndian.AppendUint32(rec, uint32(size))
		rec = binary.BigEndian.AppendUint16(rec, uint16(parent))
		rec = append(rec, flags, uint8(len(r.ID)))
		rec = append(rec, r.ID...)
		rec = append(rec, varintBuf[:seqLen]...)
		if flags&flagHasInlineBody != 0 {
			rec = append(rec, r.Body...)
		} else if flags&flagHasBodyRef != 0 {
			rec = binary.AppendUvarint(rec, r.BodyOffset)
			rec = binary.AppendUvarint(rec, r.BodySize)
		}
		buf = append(buf, rec...)
	}

	// Sentinel.
	buf = append(buf, 0, 0, 0, 0)
	return buf, nil
}

// Decode parses an encoded revision tree. Each returned revision is owned
// by owner. Revisions whose stored sequence is zero inherit curSeq.
func Decode(raw []byte, owner *Tree, curSeq uint64) ([]*Revision, error) {
	var revs []*Revision
	pos := 0
	for {
		if len(raw)-pos < 4 {
			return nil, corrupt("truncated before sentinel")
		}
		size := int(binary.BigEndian.Uint32(raw[pos:]))
		if size == 0 {
			break
		}
		if size < recordHeaderLen+2 || size > len(raw)-pos {
			return nil, corrupt("record size %d out of range", size)
		}
		rec := raw[pos+4 : pos+size]

		parentIndex := int(binary.BigEndian.Uint16(rec))
		flags := rec[2]
		revIDLen := int(rec[3])
		rec = rec[4:]
		if revIDLen == 0 || revIDLen > len(rec) {
			return nil, corrupt("revision ID length %d overflows record", revIDLen)
		}
		revID := string(rec[:revIDLen])
		rec = rec[revIDLen:]

		seq, n := binary.Uvarint(rec)
		if n <= 0 {
			return nil, corrupt("bad sequence varint in revision %q", revID)
		}
		rec = rec[n:]
		if seq == 0 {
			seq = curSeq
		}

		rev := &Revision{
			ID:       revID,
			Parent:   NoParent,
			Flags:    Flags(flags) & persistentFlags,
			Sequence: seq,
			tree:     owner,
		}
		if parentIndex != noParentIndex {
			rev.Parent = parentIndex
		}

		switch {
		case flags&flagHasInlineBody != 0:
			rev.Body = append([]byte(nil), rec...)
		case flags&flagHasBodyRef != 0:
			off, n1 := binary.Uvarint(rec)
			if n1 <= 0 {
				return nil, corrupt("bad body offset varint in revision %q", revID)
			}
			bsize, n2 := binary.Uvarint(rec[n1:])
			if n2 <= 0 {
				return nil, corrupt("bad body size varint in revision %q", revID)
			}
			rev.BodyOffset, rev.BodySize = off, bsize
		}

		revs = append(revs, rev)
		pos += size
	}

	for i, r := range revs {
		if r.Parent == NoParent {
			continue
		}
		if r.Parent < 0 || r.Parent >= len(revs) || r.Parent == i {
			return nil, corrupt("revision %q parent index %d out of range", r.ID, r.Parent)
		}
	}
	return revs, nil
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("revision tree: "+format+": %w", append(args, models.ErrCorruptData)...)
}

func uvarintLen(v uint64) int {
	var buf [binary.MaxVarintLen64]byte
	return binary.PutUvarint(buf[:], v)
}
