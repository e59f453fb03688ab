package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-doc-sync/models"
)

func TestFindBlobsInRev(t *testing.T) {
	key1 := models.ComputeBlobKey([]byte("one"))
	key2 := models.ComputeBlobKey([]byte("two"))

	body := fmt.Sprintf(`{
		"title": "with attachments",
		"_attachments": {
			"photo.jpg": {"digest": %q, "length": 3, "content_type": "image/jpeg"},
			"notes.txt": {"digest": %q, "length": 3},
			"broken":    {"digest": "not-a-digest", "length": 9}
		}
	}`, key1, key2)

	blobs, err := FindBlobsInRev([]byte(body))
	require.NoError(t, err)
	require.Len(t, blobs, 2, "malformed digests are skipped")

	keys := map[models.BlobKey]uint64{}
	for _, b := range blobs {
		keys[b.Key] = b.Size
	}
	assert.Equal(t, uint64(3), keys[key1])
	assert.Equal(t, uint64(3), keys[key2])
}

func TestFindBlobsInRevWithoutAttachments(t *testing.T) {
	blobs, err := FindBlobsInRev([]byte(`{"plain": true}`))
	require.NoError(t, err)
	assert.Empty(t, blobs)

	blobs, err = FindBlobsInRev(nil)
	require.NoError(t, err)
	assert.Empty(t, blobs)
}
