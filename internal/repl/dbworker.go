package repl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/MKhiriev/go-doc-sync/internal/blip"
	"github.com/MKhiriev/go-doc-sync/internal/logger"
	"github.com/MKhiriev/go-doc-sync/internal/store"
	"github.com/MKhiriev/go-doc-sync/models"
)

// DBWorker is the single-threaded gateway to storage. All reads and
// writes of the document store happen on its mailbox, so no other worker
// ever blocks on I/O. It also serves the storage-backed profiles of the
// protocol: checkpoint documents and attachments.
type DBWorker struct {
	*worker

	store      store.DocumentStore
	blobs      store.BlobStore
	remoteAddr string
}

// RevToSend is a revision loaded for transmission.
type RevToSend struct {
	DocID          string
	RevID          string
	History        []string // ancestors, newest first, excluding RevID
	Body           []byte
	Deleted        bool
	Sequence       uint64
	HasAttachments bool
}

// RevRequest is the puller's verdict on one announced change.
type RevRequest struct {
	Wanted    bool
	Ancestors []string // revisions the local tree already has
}

func NewDBWorker(conn blip.Connection, parent statusOwner, docs store.DocumentStore,
	blobs store.BlobStore, remoteAddr string, opts *Options, log *logger.Logger) *DBWorker {

	w := &DBWorker{
		worker:     newWorker("db", conn, opts, parent, log),
		store:      docs,
		blobs:      blobs,
		remoteAddr: remoteAddr,
	}
	conn.RegisterHandler("getCheckpoint", w.handleGetCheckpoint)
	conn.RegisterHandler("setCheckpoint", w.handleSetCheckpoint)
	conn.RegisterHandler("getAttachment", w.handleGetAttachment)
	return w
}

// checkpointID derives the stable ID this replication stores its
// checkpoint under: a digest of the database instance, the remote
// address, and the document ID filter.
func (w *DBWorker) checkpointID(dbUUID string) string {
	h := sha256.New()
	h.Write([]byte(dbUUID))
	h.Write([]byte{0})
	h.Write([]byte(w.remoteAddr))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(w.opts.DocIDs, ",")))
	return hex.EncodeToString(h.Sum(nil))[:40]
}

// GetCheckpoint loads the local checkpoint. dbEmpty reports a database
// with no sequences, which lets the puller skip tombstones.
func (w *DBWorker) GetCheckpoint(cb func(checkpointID, body string, dbEmpty bool, err error)) {
	w.enqueue(func() {
		ctx := context.Background()
		dbUUID, err := w.store.UUID(ctx)
		if err != nil {
			cb("", "", false, err)
			return
		}
		id := w.checkpointID(dbUUID)
		last, err := w.store.LastSequence(ctx)
		if err != nil {
			cb(id, "", false, err)
			return
		}
		body, err := w.store.GetLocalCheckpoint(ctx, id)
		cb(id, body, last == 0, err)
	})
}

// SetCheckpoint persists the local checkpoint body.
func (w *DBWorker) SetCheckpoint(body string, cb func(error)) {
	w.enqueue(func() {
		ctx := context.Background()
		dbUUID, err := w.store.UUID(ctx)
		if err != nil {
			cb(err)
			return
		}
		cb(w.store.SetLocalCheckpoint(ctx, w.checkpointID(dbUUID), body))
	})
}

// GetChanges enumerates local changes after since, applying the
// replication's filters. docIDs, when non-empty, overrides the configured
// document filter (a subscriber's filter arrives with its subscription).
// withParents fills each change's parent revision for proposals.
func (w *DBWorker) GetChanges(since uint64, limit int, skipDeleted bool, docIDs []string,
	withParents bool, cb func([]models.Change, error)) {

	w.enqueue(func() {
		ctx := context.Background()
		if len(docIDs) == 0 {
			docIDs = w.opts.DocIDs
		}
		changes, err := w.store.Changes(ctx, since, limit, models.ChangesOptions{
			SkipDeleted: skipDeleted || w.opts.SkipDeleted,
			DocIDs:      docIDs,
		})
		if err != nil {
			cb(nil, err)
			return
		}
		if withParents {
			for i, c := range changes {
				tree, err := w.store.GetTree(ctx, c.DocID)
				if err != nil {
					cb(nil, err)
					return
				}
				if rev := tree.Find(c.RevID); rev != nil && rev.ParentRev() != nil {
					changes[i].ParentRevID = rev.ParentRev().ID
				}
			}
		}
		cb(changes, nil)
	})
}

// WhichRevs decides, for each announced change, whether the revision is
// wanted and which of its ancestors are already known locally.
func (w *DBWorker) WhichRevs(changes []models.Change, cb func([]RevRequest, error)) {
	w.enqueue(func() {
		ctx := context.Background()
		requests := make([]RevRequest, len(changes))
		for i, c := range changes {
			tree, err := w.store.GetTree(ctx, c.DocID)
			if errors.Is(err, store.ErrDocumentNotFound) {
				requests[i] = RevRequest{Wanted: true}
				continue
			}
			if err != nil {
				cb(nil, err)
				return
			}
			if tree.Find(c.RevID) != nil {
				continue // already have it
			}
			requests[i] = RevRequest{Wanted: true, Ancestors: tree.History(tree.Current())}
		}
		cb(requests, nil)
	})
}

// ProposeStatuses evaluates proposed changes in no-conflicts mode: 0 for
// wanted, 304 for already known, 409 when the proposal's parent is not
// the current revision.
func (w *DBWorker) ProposeStatuses(proposals []proposedChange, cb func([]int, error)) {
	w.enqueue(func() {
		ctx := context.Background()
		statuses := make([]int, len(proposals))
		for i, p := range proposals {
			doc, err := w.store.GetDocument(ctx, p.DocID)
			if errors.Is(err, store.ErrDocumentNotFound) {
				if p.ParentRevID != "" {
					statuses[i] = 409
				}
				continue
			}
			if err != nil {
				cb(nil, err)
				return
			}
			switch {
			case doc.RevID == p.RevID:
				statuses[i] = 304
			case doc.RevID != p.ParentRevID:
				statuses[i] = 409
			}
		}
		cb(statuses, nil)
	})
}

// GetRevisionToSend loads a revision body with its ancestry for a "rev"
// message.
func (w *DBWorker) GetRevisionToSend(change models.Change, cb func(*RevToSend, error)) {
	w.enqueue(func() {
		ctx := context.Background()
		tree, err := w.store.GetTree(ctx, change.DocID)
		if err != nil {
			cb(nil, err)
			return
		}
		rev := tree.Find(change.RevID)
		if rev == nil {
			cb(nil, fmt.Errorf("revision %s/%s: %w", change.DocID, change.RevID, store.ErrDocumentNotFound))
			return
		}
		history := tree.History(rev)
		cb(&RevToSend{
			DocID:          change.DocID,
			RevID:          rev.ID,
			History:        history[1:],
			Body:           rev.Body,
			Deleted:        rev.IsDeleted(),
			Sequence:       change.Sequence,
			HasAttachments: rev.HasAttachments(),
		}, nil)
	})
}

// InsertRevision writes a received revision into storage.
func (w *DBWorker) InsertRevision(rev models.IncomingRev, cb func(models.PutResult, error)) {
	w.enqueue(func() {
		res, err := w.store.PutRevision(context.Background(), rev)
		cb(res, err)
	})
}

// SetCookie stores a Set-Cookie value received during the handshake.
func (w *DBWorker) SetCookie(raw string) {
	w.enqueue(func() {
		if err := w.store.SetCookie(context.Background(), raw); err != nil {
			w.log.Warn().Err(err).Msg("failed to store cookie")
		}
	})
}

// BlobStore exposes the attachment store to the blob workers.
func (w *DBWorker) BlobStore() store.BlobStore { return w.blobs }

// ---- passive protocol handlers ----

func (w *DBWorker) handleGetCheckpoint(req *blip.Request) {
	client := req.Property("client")
	w.enqueue(func() {
		body, rev, err := w.store.GetPeerCheckpoint(context.Background(), client)
		if errors.Is(err, store.ErrDocumentNotFound) {
			// Not an error for the peer: it means "no remote checkpoint yet".
			req.RespondError(models.DomainHTTP, 404, "no checkpoint")
			return
		}
		if err != nil {
			req.RespondError(models.DomainSync, models.CodeRemoteError, err.Error())
			return
		}
		reply := blip.NewMessage("").SetProperty("rev", rev)
		reply.Body = []byte(body)
		req.Respond(reply)
	})
}

func (w *DBWorker) handleSetCheckpoint(req *blip.Request) {
	client := req.Property("client")
	rev := req.Property("rev")
	body := string(req.Body())
	w.enqueue(func() {
		ctx := context.Background()
		_, currentRev, err := w.store.GetPeerCheckpoint(ctx, client)
		if err == nil && currentRev != rev {
			req.RespondError(models.DomainHTTP, 409, "checkpoint revision mismatch")
			return
		}
		newRev, err := w.store.SetPeerCheckpoint(ctx, client, body, rev)
		if err != nil {
			req.RespondError(models.DomainSync, models.CodeRemoteError, err.Error())
			return
		}
		req.Respond(blip.NewMessage("").SetProperty("rev", newRev))
	})
}

func (w *DBWorker) handleGetAttachment(req *blip.Request) {
	// Each attachment request gets its own outgoing blob worker.
	blob := newOutgoingBlob(w.parent, w.blobs, w.log)
	blob.start(req)
}
