package store

import (
	"context"
	"io"

	"github.com/MKhiriev/go-doc-sync/internal/revtree"
	"github.com/MKhiriev/go-doc-sync/models"
)

//go:generate mockgen -source=interfaces.go -destination=../mock/store_mock.go -package=mock

// DocumentStore is the storage collaborator of the replication engine: a
// key-value document table with revision trees, a change feed ordered by
// local sequence, checkpoint documents, and the HTTP cookie jar kept
// alongside the database.
//
// Implementations must be safe for sequential use from a single worker;
// the DB worker guarantees single-threaded access.
type DocumentStore interface {
	// UUID returns the stable instance ID of this database.
	UUID(ctx context.Context) (string, error)
	// LastSequence returns the highest assigned local sequence.
	LastSequence(ctx context.Context) (uint64, error)
	// DocumentCount returns the number of live (non-deleted) documents.
	DocumentCount(ctx context.Context) (int64, error)

	// GetDocument returns the current revision of a document, or
	// ErrDocumentNotFound.
	GetDocument(ctx context.Context, key string) (*models.Document, error)
	// GetTree returns the decoded revision tree of a document.
	GetTree(ctx context.Context, key string) (*revtree.Tree, error)
	// PutRevision inserts a revision (with its history) into a document's
	// tree and assigns a fresh sequence. Conflicting insertions are
	// rejected with models.ErrConflict unless the revision allows them.
	PutRevision(ctx context.Context, rev models.IncomingRev) (models.PutResult, error)
	// Changes lists current revisions with sequence > since, in sequence
	// order, at most limit entries (0 = no limit).
	Changes(ctx context.Context, since uint64, limit int, opts models.ChangesOptions) ([]models.Change, error)

	// GetLocalCheckpoint and SetLocalCheckpoint persist this replicator's
	// own checkpoint body under its checkpoint ID. A missing checkpoint
	// returns "".
	GetLocalCheckpoint(ctx context.Context, id string) (string, error)
	SetLocalCheckpoint(ctx context.Context, id, body string) error
	// GetPeerCheckpoint and SetPeerCheckpoint store checkpoint documents
	// on behalf of remote clients (the passive side of the protocol),
	// with a revision string bumped on every write.
	GetPeerCheckpoint(ctx context.Context, id string) (body, rev string, err error)
	SetPeerCheckpoint(ctx context.Context, id, body, rev string) (newRev string, err error)

	// SetCookie stores one Set-Cookie header value received from the
	// remote; Cookies returns all stored values.
	SetCookie(ctx context.Context, raw string) error
	Cookies(ctx context.Context) ([]string, error)

	Close() error
}

// BlobStore is the content-addressed attachment store. Writes stream
// through a writer that digests cleartext content while (optionally)
// encrypting it at rest.
type BlobStore interface {
	// OpenWriter starts a new blob write.
	OpenWriter() (BlobWriter, error)
	// Contains reports whether a blob is installed.
	Contains(key models.BlobKey) bool
	// Length returns the cleartext length of an installed blob.
	Length(key models.BlobKey) (uint64, error)
	// Open streams an installed blob's cleartext.
	Open(key models.BlobKey) (io.ReadCloser, error)
	// ReadAll returns an installed blob's cleartext.
	ReadAll(key models.BlobKey) ([]byte, error)
}

// BlobWriter accumulates one blob's content. Exactly one of Install or
// Abort must be called.
type BlobWriter interface {
	io.Writer
	// Install finalizes the blob under its content digest. When expected
	// is non-empty the computed digest must match it.
	Install(expected models.BlobKey) (models.BlobKey, error)
	// Abort discards the partial blob.
	Abort()
}
