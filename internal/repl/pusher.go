package repl

import (
	"strconv"
	"strings"

	"github.com/MKhiriev/go-doc-sync/internal/blip"
	"github.com/MKhiriev/go-doc-sync/internal/logger"
	"github.com/MKhiriev/go-doc-sync/models"
)

// Pusher sends revisions: it enumerates local changes in sequence order,
// announces them in batches, and sends the revisions the peer wants. The
// local half of the checkpoint advances only once enumeration has caught up
// and every announced batch and sent revision has been answered; it is not
// advanced between batches before that point.
//
// The same worker serves the active side (started from the checkpoint)
// and the passive side of a pull replication (started by a subChanges
// request from the peer).
type Pusher struct {
	*worker

	db         *DBWorker
	checkpoint *Checkpoint
	docErrors  docErrorReporter

	active      bool
	started     bool
	caughtUp    bool
	continuous  bool
	skipDeleted bool
	docIDs      []string

	sinceSeq    uint64 // enumeration position
	lastSeq     uint64 // highest enumerated sequence
	pendingRevs int    // revisions sent, awaiting acks
	openBatches int    // change announcements awaiting replies
}

func NewPusher(conn blip.Connection, parent statusOwner, db *DBWorker, checkpoint *Checkpoint,
	docErrors docErrorReporter, opts *Options, log *logger.Logger) *Pusher {

	p := &Pusher{
		worker:     newWorker("push", conn, opts, parent, log),
		db:         db,
		checkpoint: checkpoint,
		docErrors:  docErrors,
		active:     opts.Push > models.ModePassive,
	}
	p.computeLevel = p.activityLevel
	conn.RegisterHandler("subChanges", p.handleSubChanges)
	return p
}

// Start begins pushing changes after the checkpointed local sequence.
func (p *Pusher) Start(since uint64) {
	p.enqueue(func() {
		p.begin(since, p.opts.Push == models.ModeContinuous, p.opts.SkipDeleted, p.opts.DocIDs)
	})
}

// handleSubChanges services the peer's subscription: the passive half of
// a pull replication.
func (p *Pusher) handleSubChanges(req *blip.Request) {
	since, _ := strconv.ParseUint(req.Property("since"), 10, 64)
	continuous := req.Property("continuous") == "true"
	skipDeleted := req.Property("skipDeleted") == "true"

	var filter struct {
		DocIDs []string `json:"docIDs"`
	}
	_ = req.JSONBody(&filter)
	req.Respond(blip.NewMessage(""))

	p.enqueue(func() {
		p.begin(since, continuous, skipDeleted, filter.DocIDs)
	})
}

func (p *Pusher) begin(since uint64, continuous, skipDeleted bool, docIDs []string) {
	p.started = true
	p.caughtUp = false
	p.continuous = continuous
	p.skipDeleted = skipDeleted
	p.docIDs = docIDs
	p.sinceSeq = since
	p.lastSeq = since
	p.enumerate()
}

// enumerate pulls the next batch of changes out of the database.
func (p *Pusher) enumerate() {
	p.db.GetChanges(p.sinceSeq, changesBatchSize, p.skipDeleted, p.docIDs, p.opts.NoConflicts,
		enqueue2(p.worker, func(changes []models.Change, err error) {
			if err != nil {
				p.gotError(models.AsError(err))
				return
			}
			if len(changes) == 0 {
				p.reachedEnd()
				return
			}

			p.sinceSeq = changes[len(changes)-1].Sequence
			if p.sinceSeq > p.lastSeq {
				p.lastSeq = p.sinceSeq
			}
			p.sendChanges(changes)

			if len(changes) == changesBatchSize {
				p.enumerate()
			} else {
				p.reachedEnd()
			}
		}))
}

// reachedEnd marks the enumeration caught up. The passive side tells the
// subscriber the first time it catches up, and a continuous pusher
// schedules the next poll.
func (p *Pusher) reachedEnd() {
	first := !p.caughtUp
	p.caughtUp = true
	p.maybeAdvanceCheckpoint()

	if !p.active && first {
		marker := blip.NewMessage("changes")
		_ = marker.SetJSONBody([]any{})
		p.sendRequest(marker, nil)
	}
	if p.continuous {
		p.mailbox.EnqueueAfter(changesPollInterval, func() {
			if p.conn == nil {
				return
			}
			p.enumerate()
		})
	}
}

// sendChanges announces one batch and sends whatever the peer wants.
func (p *Pusher) sendChanges(changes []models.Change) {
	profile := "changes"
	if p.opts.NoConflicts {
		profile = "proposeChanges"
	}

	rows := make([]any, len(changes))
	for i, c := range changes {
		if p.opts.NoConflicts {
			rows[i] = []any{c.DocID, c.RevID, c.ParentRevID, c.BodySize}
		} else {
			rows[i] = []any{c.Sequence, c.DocID, c.RevID, boolToInt(c.Deleted), c.BodySize}
		}
	}

	msg := blip.NewMessage(profile)
	if err := msg.SetJSONBody(rows); err != nil {
		p.gotError(models.AsError(err))
		return
	}

	p.openBatches++
	p.addProgress(models.Progress{UnitsTotal: uint64(len(changes))})
	p.sendRequest(msg, func(progress blip.MessageProgress) {
		if progress.State != blip.MessageComplete {
			return
		}
		p.openBatches--
		reply := progress.Reply
		if reply == nil || reply.IsError() {
			if reply != nil {
				p.gotError(reply.Err())
			}
			return
		}
		if p.opts.NoConflicts {
			p.handleProposeReply(changes, reply)
		} else {
			p.handleChangesReply(changes, reply)
		}
	})
}

// handleChangesReply reads the peer's wants: for each change, either null
// (known) or a list of ancestors it already has.
func (p *Pusher) handleChangesReply(changes []models.Change, reply *blip.IncomingMessage) {
	var wants []any
	if err := reply.JSONBody(&wants); err != nil {
		p.gotError(models.AsError(err))
		return
	}
	for i, c := range changes {
		if i >= len(wants) || wants[i] == nil {
			p.revSkipped()
			continue
		}
		p.sendRevision(c)
	}
	p.maybeAdvanceCheckpoint()
}

// handleProposeReply reads per-proposal statuses; 409 means the peer is
// not at our parent revision and the revision is reported as a
// per-document error.
func (p *Pusher) handleProposeReply(changes []models.Change, reply *blip.IncomingMessage) {
	var statuses []int
	if err := reply.JSONBody(&statuses); err != nil {
		p.gotError(models.AsError(err))
		return
	}
	for i, c := range changes {
		status := 0
		if i < len(statuses) {
			status = statuses[i]
		}
		switch status {
		case 0:
			p.sendRevision(c)
		case 304:
			p.revSkipped()
		default:
			p.docErrors.gotDocumentError(true, c.DocID,
				models.NewError(models.DomainHTTP, status, "revision rejected by peer"), false)
			p.revSkipped()
		}
	}
	p.maybeAdvanceCheckpoint()
}

// sendRevision loads and transmits one revision body.
func (p *Pusher) sendRevision(change models.Change) {
	p.pendingRevs++
	p.db.GetRevisionToSend(change, enqueue2(p.worker, func(rev *RevToSend, err error) {
		if err != nil {
			p.docErrors.gotDocumentError(true, change.DocID, models.AsError(err), false)
			p.revAcked()
			return
		}

		msg := blip.NewMessage("rev").
			SetProperty("id", rev.DocID).
			SetProperty("rev", rev.RevID).
			SetProperty("sequence", strconv.FormatUint(rev.Sequence, 10))
		if len(rev.History) > 0 {
			msg.SetProperty("history", strings.Join(rev.History, ","))
		}
		if rev.Deleted {
			msg.SetProperty("deleted", "1")
		}
		msg.Body = rev.Body

		p.sendRequest(msg, func(progress blip.MessageProgress) {
			if progress.State != blip.MessageComplete {
				return
			}
			if reply := progress.Reply; reply != nil && reply.IsError() {
				p.docErrors.gotDocumentError(true, rev.DocID, reply.Err(), false)
			}
			p.revAcked()
		})
	}))
}

func (p *Pusher) revSkipped() {
	p.addProgress(models.Progress{UnitsCompleted: 1})
}

func (p *Pusher) revAcked() {
	p.pendingRevs--
	p.addProgress(models.Progress{UnitsCompleted: 1, DocumentCount: 1})
	p.maybeAdvanceCheckpoint()
}

// maybeAdvanceCheckpoint records the local position once every announced
// batch is answered and every sent revision acknowledged. Only the active
// pusher owns a checkpoint.
func (p *Pusher) maybeAdvanceCheckpoint() {
	if !p.active || !p.caughtUp || p.pendingRevs > 0 || p.openBatches > 0 {
		return
	}
	if p.lastSeq > 0 {
		p.checkpoint.SetLocal(p.lastSeq)
	}
}

func (p *Pusher) activityLevel() models.ActivityLevel {
	if p.pendingRevs > 0 || p.openBatches > 0 || p.defaultLevel() == models.ActivityBusy {
		return models.ActivityBusy
	}
	if !p.active {
		return models.ActivityIdle
	}
	if !p.started || !p.caughtUp {
		return models.ActivityBusy
	}
	if p.continuous {
		return models.ActivityIdle
	}
	return models.ActivityStopped
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
