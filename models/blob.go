package models

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

// BlobKey is the content address of a binary attachment: a SHA-256 digest of
// the cleartext content, rendered as "sha256-<base64>". Keys are stable:
// the same content always produces the same key, regardless of any at-rest
// encryption applied by the blob store.
type BlobKey string

const blobKeyPrefix = "sha256-"

// ComputeBlobKey digests content into its blob key.
func ComputeBlobKey(content []byte) BlobKey {
	sum := sha256.Sum256(content)
	return BlobKeyFromDigest(sum[:])
}

// BlobKeyFromDigest renders a raw SHA-256 digest as a blob key.
func BlobKeyFromDigest(digest []byte) BlobKey {
	return BlobKey(blobKeyPrefix + base64.RawStdEncoding.EncodeToString(digest))
}

// Digest returns the raw digest bytes, or an error if the key is malformed.
func (k BlobKey) Digest() ([]byte, error) {
	s, ok := strings.CutPrefix(string(k), blobKeyPrefix)
	if !ok {
		return nil, fmt.Errorf("blob key %q: missing %q prefix", k, blobKeyPrefix)
	}
	digest, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("blob key %q: %w", k, err)
	}
	if len(digest) != sha256.Size {
		return nil, fmt.Errorf("blob key %q: digest is %d bytes", k, len(digest))
	}
	return digest, nil
}

func (k BlobKey) Valid() bool {
	_, err := k.Digest()
	return err == nil
}

// BlobRequest identifies one attachment to be transferred.
type BlobRequest struct {
	Key  BlobKey `json:"digest"`
	Size uint64  `json:"length"`
}
