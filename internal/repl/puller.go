package repl

import (
	"errors"
	"strconv"
	"strings"

	"github.com/MKhiriev/go-doc-sync/internal/blip"
	"github.com/MKhiriev/go-doc-sync/internal/logger"
	"github.com/MKhiriev/go-doc-sync/internal/store"
	"github.com/MKhiriev/go-doc-sync/models"
)

// docErrorReporter delivers per-document errors up to the delegate.
// Per-document errors never stop a replication.
type docErrorReporter interface {
	gotDocumentError(pushing bool, docID string, err *models.Error, transient bool)
}

// Puller receives revisions: it subscribes to the peer's changes, answers
// change announcements with the revisions it wants, inserts incoming
// revisions (spawning blob workers for their attachments), and advances
// the remote half of the checkpoint.
//
// The same handlers serve both the active side (which sends subChanges)
// and the passive side of a push replication.
type Puller struct {
	*worker

	db         *DBWorker
	checkpoint *Checkpoint
	docErrors  docErrorReporter

	active       bool
	started      bool
	caughtUp     bool
	skipDeleted  bool
	pendingRevs  int
	pendingOps   int // outstanding DB round trips for change announcements
	activeBlobs  int
	maxRemoteSeq uint64
}

func NewPuller(conn blip.Connection, parent statusOwner, db *DBWorker, checkpoint *Checkpoint,
	docErrors docErrorReporter, opts *Options, log *logger.Logger) *Puller {

	p := &Puller{
		worker:     newWorker("pull", conn, opts, parent, log),
		db:         db,
		checkpoint: checkpoint,
		docErrors:  docErrors,
		active:     opts.Pull > models.ModePassive,
	}
	p.computeLevel = p.activityLevel
	conn.RegisterHandler("changes", p.handleChanges)
	conn.RegisterHandler("proposeChanges", p.handleChanges)
	conn.RegisterHandler("rev", p.handleRev)
	return p
}

// SetSkipDeleted marks that tombstones need not be materialized: the
// database is empty and has no checkpoint, so deletions cannot apply to
// anything.
func (p *Puller) SetSkipDeleted() {
	p.enqueue(func() { p.skipDeleted = true })
}

// Start subscribes to the peer's changes from the given remote position.
func (p *Puller) Start(sinceRemote string) {
	p.enqueue(func() {
		p.started = true
		if n, err := strconv.ParseUint(sinceRemote, 10, 64); err == nil {
			p.maxRemoteSeq = n
		}

		msg := blip.NewMessage("subChanges")
		if sinceRemote != "" {
			msg.SetProperty("since", sinceRemote)
		}
		if p.opts.Pull == models.ModeContinuous {
			msg.SetProperty("continuous", "true")
		}
		if p.skipDeleted || p.opts.SkipDeleted {
			msg.SetProperty("skipDeleted", "true")
		}
		if len(p.opts.DocIDs) > 0 {
			if err := msg.SetJSONBody(map[string]any{"docIDs": p.opts.DocIDs}); err != nil {
				p.gotError(models.AsError(err))
				return
			}
		}
		p.sendRequest(msg, func(progress blip.MessageProgress) {
			if progress.State == blip.MessageComplete && progress.Reply != nil && progress.Reply.IsError() {
				p.gotError(progress.Reply.Err())
			}
		})
	})
}

// handleChanges answers one "changes" (or "proposeChanges") announcement
// with the revisions this side wants.
func (p *Puller) handleChanges(req *blip.Request) {
	propose := req.Profile() == "proposeChanges"
	p.enqueue(func() {
		p.started = true
		if propose {
			p.handleProposedChanges(req)
			return
		}

		var rows [][]any
		if err := req.JSONBody(&rows); err != nil {
			req.RespondError(models.DomainSync, models.CodeRemoteError, err.Error())
			return
		}
		if len(rows) == 0 {
			// Caught-up marker: the peer has no further changes.
			p.caughtUp = true
			p.advanceCheckpoint()
			req.Respond(blip.NewMessage(""))
			return
		}

		changes := make([]models.Change, 0, len(rows))
		for _, row := range rows {
			if len(row) < 3 {
				continue
			}
			c := models.Change{
				Sequence: uint64(toFloat(row[0])),
				DocID:    toString(row[1]),
				RevID:    toString(row[2]),
			}
			if len(row) > 3 {
				c.Deleted = toFloat(row[3]) != 0
			}
			changes = append(changes, c)
		}

		p.pendingOps++
		p.db.WhichRevs(changes, enqueue2(p.worker, func(requests []RevRequest, err error) {
			p.pendingOps--
			if err != nil {
				p.gotError(models.AsError(err))
				req.RespondError(models.DomainSync, models.CodeRemoteError, err.Error())
				return
			}
			response := make([]any, len(requests))
			wanted := 0
			for i, r := range requests {
				if !r.Wanted {
					continue
				}
				ancestors := r.Ancestors
				if ancestors == nil {
					ancestors = []string{}
				}
				response[i] = ancestors
				wanted++
			}
			p.pendingRevs += wanted
			p.addProgress(models.Progress{UnitsTotal: uint64(wanted)})

			reply := blip.NewMessage("").SetProperty("maxHistory", "20")
			if err := reply.SetJSONBody(response); err != nil {
				req.RespondError(models.DomainSync, models.CodeRemoteError, err.Error())
				return
			}
			req.Respond(reply)
		}))
	})
}

// handleProposedChanges evaluates a no-conflicts proposal: each entry is
// accepted only when its parent is the current revision here.
func (p *Puller) handleProposedChanges(req *blip.Request) {
	var rows [][]any
	if err := req.JSONBody(&rows); err != nil {
		req.RespondError(models.DomainSync, models.CodeRemoteError, err.Error())
		return
	}
	if len(rows) == 0 {
		p.caughtUp = true
		p.advanceCheckpoint()
		req.Respond(blip.NewMessage(""))
		return
	}

	proposals := make([]proposedChange, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		pc := proposedChange{DocID: toString(row[0]), RevID: toString(row[1])}
		if len(row) > 2 {
			pc.ParentRevID = toString(row[2])
		}
		proposals = append(proposals, pc)
	}

	p.pendingOps++
	p.db.ProposeStatuses(proposals, enqueue2(p.worker, func(statuses []int, err error) {
		p.pendingOps--
		if err != nil {
			p.gotError(models.AsError(err))
			req.RespondError(models.DomainSync, models.CodeRemoteError, err.Error())
			return
		}
		wanted := 0
		for _, s := range statuses {
			if s == 0 {
				wanted++
			}
		}
		p.pendingRevs += wanted
		p.addProgress(models.Progress{UnitsTotal: uint64(wanted)})

		reply := blip.NewMessage("")
		if err := reply.SetJSONBody(statuses); err != nil {
			req.RespondError(models.DomainSync, models.CodeRemoteError, err.Error())
			return
		}
		req.Respond(reply)
	}))
}

// handleRev validates and inserts one received revision.
func (p *Puller) handleRev(req *blip.Request) {
	p.enqueue(func() {
		docID := req.Property("id")
		revID := req.Property("rev")
		remoteSeq := req.Property("sequence")
		body := req.Body()

		if p.opts.PullValidator != nil && !p.opts.PullValidator(docID, body) {
			err := models.Errorf(models.DomainHTTP, 403, "rejected by validation function")
			p.docErrors.gotDocumentError(false, docID, err, false)
			p.revDone(remoteSeq)
			req.RespondError(err.Domain, err.Code, err.Message)
			return
		}

		history := []string{revID}
		if h := req.Property("history"); h != "" {
			history = append(history, strings.Split(h, ",")...)
		}
		blobRefs, _ := store.FindBlobsInRev(body)
		rev := models.IncomingRev{
			DocID:          docID,
			RevID:          revID,
			History:        history,
			Body:           body,
			Deleted:        req.Property("deleted") != "",
			HasAttachments: len(blobRefs) > 0,
			RemoteSequence: remoteSeq,
			NoConflicts:    p.opts.NoConflicts,
		}

		p.db.InsertRevision(rev, enqueue2(p.worker, func(res models.PutResult, err error) {
			if err != nil {
				insertErr := models.AsError(err)
				if errors.Is(insertErr, models.ErrConflict) {
					insertErr = models.NewError(models.DomainHTTP, 409, "conflicts with the current revision")
				}
				p.docErrors.gotDocumentError(false, docID, insertErr, false)
				p.revDone(remoteSeq)
				req.RespondError(insertErr.Domain, insertErr.Code, insertErr.Message)
				return
			}

			if res.CreatedConflict {
				// The revision was stored as a sibling leaf; the document
				// now needs conflict resolution.
				p.docErrors.gotDocumentError(false, docID,
					models.NewError(models.DomainSync, models.CodeConflict, "conflict"), false)
			}
			req.Respond(blip.NewMessage(""))

			missing := blobRefs[:0]
			for _, b := range blobRefs {
				if !p.db.BlobStore().Contains(b.Key) {
					missing = append(missing, b)
				}
			}
			if len(missing) == 0 {
				p.revDone(remoteSeq)
				return
			}
			// The checkpoint must not advance past this revision until
			// every referenced blob is installed.
			for _, blob := range missing {
				p.activeBlobs++
				p.addProgress(models.Progress{UnitsTotal: blob.Size})
				size := blob.Size
				newIncomingBlob(p.conn, p.db.BlobStore(), p.opts, p.log).
					start(blob, enqueue1(p.worker, func(blobErr *models.Error) {
						p.activeBlobs--
						p.addProgress(models.Progress{UnitsCompleted: size})
						if blobErr != nil {
							p.docErrors.gotDocumentError(false, docID, blobErr, true)
						}
						if p.activeBlobs == 0 {
							p.advanceCheckpoint()
						}
					}))
			}
			p.revDone(remoteSeq)
		}))
	})
}

// revDone accounts for one processed revision and advances the remote
// checkpoint when the puller reaches a quiescent point.
func (p *Puller) revDone(remoteSeq string) {
	p.pendingRevs--
	p.addProgress(models.Progress{UnitsCompleted: 1, DocumentCount: 1})
	if n, err := strconv.ParseUint(remoteSeq, 10, 64); err == nil && n > p.maxRemoteSeq {
		p.maxRemoteSeq = n
	}
	if p.pendingRevs == 0 {
		p.advanceCheckpoint()
	}
}

// advanceCheckpoint publishes the highest completed remote position once
// no revision or blob work is outstanding.
func (p *Puller) advanceCheckpoint() {
	if p.pendingRevs > 0 || p.activeBlobs > 0 {
		return
	}
	if p.maxRemoteSeq > 0 {
		p.checkpoint.SetRemote(strconv.FormatUint(p.maxRemoteSeq, 10))
	}
}

func (p *Puller) activityLevel() models.ActivityLevel {
	if p.pendingRevs > 0 || p.pendingOps > 0 || p.activeBlobs > 0 || p.defaultLevel() == models.ActivityBusy {
		return models.ActivityBusy
	}
	if !p.active {
		return models.ActivityIdle
	}
	if !p.started || !p.caughtUp {
		return models.ActivityBusy
	}
	if p.opts.Pull == models.ModeContinuous {
		return models.ActivityIdle
	}
	return models.ActivityStopped
}

type proposedChange struct {
	DocID       string
	RevID       string
	ParentRevID string
}

// enqueue1 and enqueue2 marshal callbacks invoked on foreign goroutines
// (the DB worker's mailbox, blob workers) onto a worker's own mailbox.
func enqueue1[A any](w *worker, fn func(A)) func(A) {
	return func(a A) { w.enqueue(func() { fn(a) }) }
}

func enqueue2[A, B any](w *worker, fn func(A, B)) func(A, B) {
	return func(a A, b B) { w.enqueue(func() { fn(a, b) }) }
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func toFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}
