// Package repl is the replication engine: an actor-based protocol
// orchestrator driving push and pull over the message-framing transport,
// with checkpoints, blob transfer, conflict handling, and filtering.
//
// Every worker (Replicator, Pusher, Puller, DBWorker, blob workers) owns a
// single-consumer mailbox; all its mutable state is confined to that
// mailbox's goroutine. Transport callbacks are asynchronized onto the
// owning mailbox before touching state, and workers report status changes
// to their parent, which aggregates them.
package repl

import (
	"github.com/MKhiriev/go-doc-sync/internal/actor"
	"github.com/MKhiriev/go-doc-sync/internal/blip"
	"github.com/MKhiriev/go-doc-sync/internal/logger"
	"github.com/MKhiriev/go-doc-sync/models"
)

// statusOwner receives child status updates. Implementations enqueue onto
// their own mailboxes; the call arrives on the child's goroutine.
type statusOwner interface {
	childStatusChanged(child *worker, status models.Status)
}

// worker is the shared core of every replication actor: a mailbox, a
// non-owning connection reference, status and progress tracking, and
// parent notification.
type worker struct {
	name    string
	log     *logger.Logger
	mailbox *actor.Mailbox
	opts    *Options
	parent  statusOwner

	// The fields below are confined to the mailbox goroutine.
	conn             blip.Connection
	status           models.Status
	lastReported     models.Status
	pendingResponses int

	// computeLevel lets a concrete worker refine the default activity
	// computation. Runs on the mailbox goroutine.
	computeLevel func() models.ActivityLevel
	// statusChanged runs after the worker's own status changed; the
	// replicator hooks its delegate notification here.
	statusChanged func()
}

func newWorker(name string, conn blip.Connection, opts *Options, parent statusOwner, log *logger.Logger) *worker {
	w := &worker{
		name:   name,
		log:    log,
		opts:   opts,
		parent: parent,
		conn:   conn,
		status: models.Status{Level: models.ActivityIdle},
	}
	w.mailbox = actor.NewMailbox(name, func() { w.refreshStatus() })
	return w
}

// enqueue runs fn on the worker's goroutine.
func (w *worker) enqueue(fn func()) {
	w.mailbox.Enqueue(fn)
}

// asynchronize adapts a progress callback so its body runs on the
// worker's goroutine, and accounts for the request's completion.
func (w *worker) asynchronize(fn func(blip.MessageProgress)) func(blip.MessageProgress) {
	return actor.Asynchronize1(w.mailbox, func(p blip.MessageProgress) {
		if p.State == blip.MessageComplete {
			w.pendingResponses--
		}
		fn(p)
	})
}

// sendRequest sends msg over the connection, delivering progress on the
// worker's goroutine. The worker stays busy until the reply completes.
func (w *worker) sendRequest(msg *blip.Message, onProgress func(blip.MessageProgress)) {
	if w.conn == nil {
		return
	}
	if onProgress == nil {
		onProgress = func(blip.MessageProgress) {}
	}
	w.pendingResponses++
	w.conn.SendRequest(msg, w.asynchronize(onProgress))
}

// connectionClosed drops the non-owning connection reference.
func (w *worker) connectionClosed() {
	w.enqueue(func() { w.conn = nil })
}

// gotError records a fatal error on the worker. The first error wins.
func (w *worker) gotError(err *models.Error) {
	if err == nil {
		return
	}
	w.log.Error().Str("worker", w.name).Str("domain", err.Domain).
		Int("code", err.Code).Msg(err.Message)
	if w.status.Error == nil {
		w.status.Error = err
	}
	w.refreshStatus()
}

// addProgress accumulates work units onto the worker's progress.
func (w *worker) addProgress(delta models.Progress) {
	w.status.Progress = w.status.Progress.Add(delta)
}

func (w *worker) setProgress(p models.Progress) {
	w.status.Progress = p
}

// defaultLevel is busy while messages or replies are outstanding.
func (w *worker) defaultLevel() models.ActivityLevel {
	if w.pendingResponses > 0 || w.mailbox.Pending() > 0 {
		return models.ActivityBusy
	}
	return models.ActivityIdle
}

// refreshStatus recomputes the activity level and pushes a changed status
// to the parent. Runs on the mailbox goroutine (directly or via the
// mailbox idle hook).
func (w *worker) refreshStatus() {
	level := w.defaultLevel()
	if w.computeLevel != nil {
		level = w.computeLevel()
	}
	w.status.Level = level

	if w.status == w.lastReported {
		return
	}
	w.lastReported = w.status
	if w.parent != nil {
		w.parent.childStatusChanged(w, w.status)
	}
	if w.statusChanged != nil {
		w.statusChanged()
	}
}

// stopMailbox tears the worker's mailbox down; used at replicator stop.
func (w *worker) stopMailbox() {
	go w.mailbox.Close()
}
