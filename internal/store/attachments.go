package store

import (
	"encoding/json"

	"github.com/MKhiriev/go-doc-sync/models"
)

// attachmentMeta is the per-attachment entry of a document's
// "_attachments" dictionary.
type attachmentMeta struct {
	Digest      string `json:"digest"`
	Length      uint64 `json:"length"`
	ContentType string `json:"content_type,omitempty"`
	Stub        bool   `json:"stub,omitempty"`
}

// FindBlobsInRev scans a revision body for attachment references and
// returns the blob requests they resolve to. Bodies without an
// "_attachments" dictionary yield nil.
func FindBlobsInRev(body []byte) ([]models.BlobRequest, error) {
	if len(body) == 0 {
		return nil, nil
	}
	var doc struct {
		Attachments map[string]attachmentMeta `json:"_attachments"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		// The body is not a JSON object; nothing to reference blobs from.
		return nil, nil
	}

	var blobs []models.BlobRequest
	for _, meta := range doc.Attachments {
		key := models.BlobKey(meta.Digest)
		if !key.Valid() {
			continue
		}
		blobs = append(blobs, models.BlobRequest{Key: key, Size: meta.Length})
	}
	return blobs, nil
}
