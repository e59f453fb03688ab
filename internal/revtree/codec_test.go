package revtree

import (
	"encoding/binary"
	"testing"

	"github.com/MKhiriev/go-doc-sync/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTree(t *testing.T) *Tree {
	t.Helper()

	tree := NewTree()
	res, err := tree.InsertHistory([]string{"1-1111"}, []byte(`{"v":1}`), KeepBody, false)
	require.NoError(t, err)
	tree.SetSequence(res.Rev, 1)

	res, err = tree.InsertHistory([]string{"2-2a2a", "1-1111"}, []byte(`{"v":2}`), 0, false)
	require.NoError(t, err)
	tree.SetSequence(res.Rev, 2)

	res, err = tree.InsertHistory([]string{"2-2b2b", "1-1111"}, []byte(`{"v":3}`), Deleted, true)
	require.NoError(t, err)
	tree.SetSequence(res.Rev, 3)

	return tree
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tree := sampleTree(t)

	raw, err := tree.Encode()
	require.NoError(t, err)

	decoded, err := DecodeTree(raw, 0)
	require.NoError(t, err)
	require.Equal(t, tree.Len(), decoded.Len())

	raw2, err := decoded.Encode()
	require.NoError(t, err)
	assert.Equal(t, raw, raw2, "re-encoding a decoded tree must be byte-stable")
}

func TestEncodeOrdering(t *testing.T) {
	tree := sampleTree(t)

	raw, err := tree.Encode()
	require.NoError(t, err)
	decoded, err := DecodeTree(raw, 0)
	require.NoError(t, err)

	revs := decoded.Revisions()
	require.Len(t, revs, 3)
	// Leaves first; within leaves the live one precedes the tombstone.
	assert.Equal(t, "2-2a2a", revs[0].ID)
	assert.True(t, revs[0].IsLeaf())
	assert.Equal(t, "2-2b2b", revs[1].ID)
	assert.True(t, revs[1].IsDeleted())
	assert.Equal(t, "1-1111", revs[2].ID)
	assert.False(t, revs[2].IsLeaf())

	// Parent indexes were rewritten to the new order.
	assert.Equal(t, 2, revs[0].Parent)
	assert.Equal(t, 2, revs[1].Parent)
	assert.Equal(t, NoParent, revs[2].Parent)
}

func TestEncodeTieBreakByRevIDDescending(t *testing.T) {
	tree := NewTree()
	_, err := tree.InsertHistory([]string{"1-aaaa"}, []byte(`{}`), 0, false)
	require.NoError(t, err)
	_, err = tree.InsertHistory([]string{"1-bbbb"}, []byte(`{}`), 0, true)
	require.NoError(t, err)

	raw, err := tree.Encode()
	require.NoError(t, err)
	decoded, err := DecodeTree(raw, 0)
	require.NoError(t, err)

	revs := decoded.Revisions()
	require.Len(t, revs, 2)
	assert.Equal(t, "1-bbbb", revs[0].ID)
	assert.Equal(t, "1-aaaa", revs[1].ID)
}

func TestDecodeKeepsBodiesAndSequences(t *testing.T) {
	tree := sampleTree(t)
	raw, err := tree.Encode()
	require.NoError(t, err)

	decoded, err := DecodeTree(raw, 0)
	require.NoError(t, err)

	live := decoded.Find("2-2a2a")
	require.NotNil(t, live)
	assert.Equal(t, []byte(`{"v":2}`), live.Body)
	assert.Equal(t, uint64(2), live.Sequence)

	// The root kept its body because it carries KeepBody.
	root := decoded.Find("1-1111")
	require.NotNil(t, root)
	assert.Equal(t, []byte(`{"v":1}`), root.Body)
	assert.Equal(t, Flags(KeepBody), root.Flags&KeepBody)
}

func TestDecodeInheritsCurrentSequence(t *testing.T) {
	tree := NewTree()
	res, err := tree.InsertHistory([]string{"1-ab"}, []byte(`{}`), 0, false)
	require.NoError(t, err)
	require.Zero(t, res.Rev.Sequence)

	raw, err := tree.Encode()
	require.NoError(t, err)
	decoded, err := DecodeTree(raw, 42)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), decoded.Find("1-ab").Sequence)
}

func TestDecodeFailures(t *testing.T) {
	valid, err := sampleTree(t).Encode()
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  []byte
	}{
		{"empty input", nil},
		{"missing sentinel", valid[:len(valid)-4]},
		{"record size overflow", func() []byte {
			raw := append([]byte(nil), valid...)
			binary.BigEndian.PutUint32(raw, uint32(len(raw)+100))
			return raw
		}()},
		{"record size below header", func() []byte {
			raw := append([]byte(nil), valid...)
			binary.BigEndian.PutUint32(raw, 5)
			return raw
		}()},
		{"parent index out of range", func() []byte {
			raw := append([]byte(nil), valid...)
			binary.BigEndian.PutUint16(raw[4:], 200)
			return raw
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeTree(tt.raw, 0)
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrCorruptData)
		})
	}
}

func TestBodyBackReferenceRoundTrip(t *testing.T) {
	tree := NewTree()
	res, err := tree.InsertHistory([]string{"1-ab"}, nil, 0, false)
	require.NoError(t, err)
	res.Rev.BodyOffset = 12345
	res.Rev.BodySize = 678

	raw, err := tree.Encode()
	require.NoError(t, err)
	decoded, err := DecodeTree(raw, 0)
	require.NoError(t, err)

	rev := decoded.Find("1-ab")
	require.NotNil(t, rev)
	assert.Empty(t, rev.Body)
	assert.Equal(t, uint64(12345), rev.BodyOffset)
	assert.Equal(t, uint64(678), rev.BodySize)
}
