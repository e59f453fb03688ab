package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/MKhiriev/go-doc-sync/internal/crypto"
	"github.com/MKhiriev/go-doc-sync/internal/logger"
	"github.com/MKhiriev/go-doc-sync/models"
)

// fileBlobStore keeps attachments as content-addressed files in a single
// directory. When an encryption key is configured, file contents are
// written through the encrypted stream; blob keys always digest the
// cleartext, so encryption does not change a blob's identity.
type fileBlobStore struct {
	dir string
	key []byte // nil = store cleartext
	log *logger.Logger
}

// NewBlobStore opens (creating if needed) a blob directory. key, when
// non-nil, enables AES-128 at-rest encryption.
func NewBlobStore(dir string, key []byte, log *logger.Logger) (BlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	if key != nil && len(key) != crypto.KeySize {
		return nil, fmt.Errorf("blob store key is %d bytes, want %d: %w",
			len(key), crypto.KeySize, models.ErrUnsupportedEncryption)
	}
	return &fileBlobStore{dir: dir, key: key, log: log}, nil
}

func (s *fileBlobStore) path(key models.BlobKey) (string, error) {
	digest, err := key.Digest()
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, hex.EncodeToString(digest)+".blob"), nil
}

func (s *fileBlobStore) Contains(key models.BlobKey) bool {
	path, err := s.path(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

func (s *fileBlobStore) Length(key models.BlobKey) (uint64, error) {
	path, err := s.path(key)
	if err != nil {
		return 0, err
	}
	if s.key == nil {
		info, err := os.Stat(path)
		if err != nil {
			return 0, fmt.Errorf("blob %s: %w", key, ErrBlobNotFound)
		}
		return uint64(info.Size()), nil
	}

	// Encrypted blobs know their cleartext length only after decrypting
	// the final block.
	r, err := s.openReader(path)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	return r.(*blobReader).length()
}

func (s *fileBlobStore) Open(key models.BlobKey) (io.ReadCloser, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("blob %s: %w", key, ErrBlobNotFound)
	}
	return s.openReader(path)
}

func (s *fileBlobStore) openReader(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open blob file: %w", err)
	}
	if s.key == nil {
		return f, nil
	}
	r, err := crypto.NewReader(f, crypto.AES128, s.key)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open encrypted blob: %w", err)
	}
	return &blobReader{r}, nil
}

func (s *fileBlobStore) ReadAll(key models.BlobKey) ([]byte, error) {
	r, err := s.Open(key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", key, err)
	}
	return content, nil
}

func (s *fileBlobStore) OpenWriter() (BlobWriter, error) {
	tmp := filepath.Join(s.dir, "incoming-"+uuid.NewString()+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("create blob temp file: %w", err)
	}

	w := &fileBlobWriter{store: s, tmpPath: tmp, digest: sha256.New()}
	if s.key == nil {
		w.out = f
	} else {
		enc, err := crypto.NewWriter(f, crypto.AES128, s.key)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return nil, err
		}
		w.out = enc
	}
	return w, nil
}

type fileBlobWriter struct {
	store   *fileBlobStore
	tmpPath string
	out     io.WriteCloser
	digest  hash.Hash
	size    uint64
	done    bool
}

func (w *fileBlobWriter) Write(p []byte) (int, error) {
	n, err := w.out.Write(p)
	w.digest.Write(p[:n])
	w.size += uint64(n)
	return n, err
}

func (w *fileBlobWriter) Install(expected models.BlobKey) (models.BlobKey, error) {
	if w.done {
		return "", fmt.Errorf("blob writer already finished")
	}
	w.done = true

	if err := w.out.Close(); err != nil {
		os.Remove(w.tmpPath)
		return "", fmt.Errorf("finish blob file: %w", err)
	}

	key := models.BlobKeyFromDigest(w.digest.Sum(nil))
	if expected != "" && expected != key {
		os.Remove(w.tmpPath)
		return "", fmt.Errorf("install blob %s: %w", expected, ErrBlobCorrupted)
	}

	path, err := w.store.path(key)
	if err != nil {
		os.Remove(w.tmpPath)
		return "", err
	}
	if err = os.Rename(w.tmpPath, path); err != nil {
		os.Remove(w.tmpPath)
		return "", fmt.Errorf("install blob %s: %w", key, err)
	}
	return key, nil
}

func (w *fileBlobWriter) Abort() {
	if w.done {
		return
	}
	w.done = true
	w.out.Close()
	os.Remove(w.tmpPath)
}

// blobReader adapts the encrypted stream reader to io.ReadCloser.
type blobReader struct {
	r *crypto.Reader
}

func (b *blobReader) Read(p []byte) (int, error) { return b.r.Read(p) }
func (b *blobReader) Close() error               { return b.r.Close() }
func (b *blobReader) length() (uint64, error)    { return b.r.Length() }
