package repl

import (
	"net/http"
	"sync"
	"time"

	"github.com/MKhiriev/go-doc-sync/internal/blip"
	"github.com/MKhiriev/go-doc-sync/internal/logger"
	"github.com/MKhiriev/go-doc-sync/internal/store"
	"github.com/MKhiriev/go-doc-sync/models"
)

// minDelegateCallInterval rate-limits status notifications: consecutive
// reports at the same activity level are coalesced.
const minDelegateCallInterval = 200 * time.Millisecond

// Delegate receives replication lifecycle notifications. Calls arrive on
// the replicator's goroutine; implementations must not block.
type Delegate interface {
	// ReplicatorStatusChanged reports activity level and progress.
	ReplicatorStatusChanged(r *Replicator, status models.Status)
	// ReplicatorDocumentError reports a per-document failure that did not
	// stop the replication.
	ReplicatorDocumentError(r *Replicator, pushing bool, docID string, err *models.Error, transient bool)
	// ReplicatorConnectionClosed reports how the connection ended.
	ReplicatorConnectionClosed(r *Replicator, status blip.CloseStatus)
}

// Replicator owns one replication: the connection, the checkpoint, and
// the pusher, puller and DB workers. It aggregates child statuses into an
// activity level, rate-limits delegate notifications, and drives the
// checkpoint bootstrap.
type Replicator struct {
	*worker

	delegate Delegate

	db     *DBWorker
	pusher *Pusher
	puller *Puller

	checkpoint      Checkpoint
	checkpointDocID string
	checkpointRevID string

	connectionState blip.State
	closeStatus     blip.CloseStatus

	pushStatus models.Status
	pullStatus models.Status
	dbStatus   models.Status

	lastDelegateLevel  models.ActivityLevel
	lastDelegateCall   time.Time
	delegateCallQueued bool

	statusMu sync.Mutex
	snapshot models.Status
}

// NewReplicator assembles a replicator over an unstarted connection.
func NewReplicator(conn blip.Connection, docs store.DocumentStore, blobs store.BlobStore,
	remoteAddr string, delegate Delegate, opts *Options, log *logger.Logger) *Replicator {

	r := &Replicator{
		worker:          newWorker("repl", conn, opts, nil, log),
		delegate:        delegate,
		connectionState: blip.StateClosed,
	}
	r.computeLevel = r.activityLevel
	r.statusChanged = r.changedStatus

	r.pushStatus = initialChildStatus(opts.Push)
	r.pullStatus = initialChildStatus(opts.Pull)
	r.dbStatus = models.Status{Level: models.ActivityIdle}

	r.db = NewDBWorker(conn, r, docs, blobs, remoteAddr, opts, log)
	if opts.Push != models.ModeDisabled {
		r.pusher = NewPusher(conn, r, r.db, &r.checkpoint, r, opts, log)
	}
	if opts.Pull != models.ModeDisabled {
		r.puller = NewPuller(conn, r, r.db, &r.checkpoint, r, opts, log)
	}
	r.checkpoint.EnableAutosave(opts.checkpointInterval(), func(body string) {
		r.enqueue(func() { r.saveCheckpoint(body) })
	})

	conn.SetDelegate(&connDelegate{r})
	return r
}

func initialChildStatus(mode models.Mode) models.Status {
	if mode == models.ModeDisabled {
		return models.Status{Level: models.ActivityStopped}
	}
	return models.Status{Level: models.ActivityBusy}
}

// Start opens the connection and begins replicating.
func (r *Replicator) Start() {
	r.enqueue(func() {
		if r.connectionState != blip.StateClosed || r.conn == nil {
			return
		}
		r.connectionState = blip.StateConnecting
		r.conn.Start()
	})
}

// Stop initiates a clean shutdown: the connection closes and the
// replicator reports Stopped once its children settle.
func (r *Replicator) Stop() {
	r.enqueue(func() { r.stopLocked() })
}

func (r *Replicator) stopLocked() {
	if r.conn != nil && r.connectionState != blip.StateClosing {
		r.connectionState = blip.StateClosing
		r.conn.Close()
	}
}

// Status returns the replicator's last published aggregate status.
// Safe from any goroutine.
func (r *Replicator) Status() models.Status {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	return r.snapshot
}

// Checkpoint exposes the replication positions for inspection.
func (r *Replicator) Checkpoint() *Checkpoint { return &r.checkpoint }

// ---- child status aggregation ----

// childStatusChanged arrives on a child's goroutine and is marshalled
// onto the replicator's own.
func (r *Replicator) childStatusChanged(child *worker, status models.Status) {
	r.enqueue(func() {
		if r.status.Level == models.ActivityStopped {
			return
		}
		switch {
		case r.pusher != nil && child == r.pusher.worker:
			r.pushStatus = status
		case r.puller != nil && child == r.puller.worker:
			r.pullStatus = status
		case child == r.db.worker:
			r.dbStatus = status
		default:
			return
		}

		r.setProgress(r.pushStatus.Progress.Add(r.pullStatus.Progress))

		if r.pullStatus.Error != nil {
			r.gotError(r.pullStatus.Error)
		} else if r.pushStatus.Error != nil {
			r.gotError(r.pushStatus.Error)
		}

		// Push or pull finishing is the moment to persist the checkpoint.
		if status.Level == models.ActivityStopped {
			r.checkpoint.Save()
		}
		r.refreshStatus()
	})
}

// gotDocumentError implements docErrorReporter for the pusher and puller.
func (r *Replicator) gotDocumentError(pushing bool, docID string, err *models.Error, transient bool) {
	r.enqueue(func() {
		r.log.Warn().Bool("pushing", pushing).Str("docID", docID).
			Str("error", err.Error()).Msg("document error")
		if r.delegate != nil {
			r.delegate.ReplicatorDocumentError(r, pushing, docID, err, transient)
		}
	})
}

// activityLevel implements the aggregation rule.
func (r *Replicator) activityLevel() models.ActivityLevel {
	switch r.connectionState {
	case blip.StateConnecting:
		return models.ActivityConnecting

	case blip.StateConnected:
		level := r.defaultLevel()
		if r.checkpoint.IsUnsaved() {
			level = models.ActivityBusy
		}
		level = max(level, r.pushStatus.Level, r.pullStatus.Level)
		if level == models.ActivityIdle && !r.opts.isContinuous() && !r.opts.isOpenServer() {
			// A one-shot replication that went idle is done.
			r.log.Info().Msg("replication complete, closing connection")
			r.stopLocked()
			return models.ActivityBusy
		}
		return level

	case blip.StateClosing:
		// Stay active while the connection finishes closing.
		return models.ActivityBusy

	default: // Closed, Disconnected
		if r.dbStatus.Level == models.ActivityBusy {
			return models.ActivityBusy
		}
		return models.ActivityStopped
	}
}

// changedStatus runs whenever the aggregate status changed: it drives the
// rate-limited delegate notification and the final teardown.
func (r *Replicator) changedStatus() {
	r.statusMu.Lock()
	r.snapshot = r.status
	r.statusMu.Unlock()

	if r.status.Level == models.ActivityStopped {
		r.teardown()
	}
	if r.delegate == nil {
		return
	}

	// Notify the delegate, but not too often: intermediate states at the
	// same level within the interval coalesce into one trailing report.
	wait := minDelegateCallInterval - time.Since(r.lastDelegateCall)
	if wait <= 0 || r.status.Level != r.lastDelegateLevel {
		r.reportStatus()
	} else if !r.delegateCallQueued {
		r.delegateCallQueued = true
		r.mailbox.EnqueueAfter(wait, func() { r.reportStatus() })
	}
}

func (r *Replicator) reportStatus() {
	r.delegateCallQueued = false
	if r.delegate == nil {
		return
	}
	r.lastDelegateLevel = r.status.Level
	r.lastDelegateCall = time.Now()
	r.delegate.ReplicatorStatusChanged(r, r.status)
	if r.status.Level == models.ActivityStopped {
		// Never call the delegate again after reporting the stop.
		r.delegate = nil
	}
}

// teardown releases the children once the replicator has fully stopped.
func (r *Replicator) teardown() {
	r.checkpoint.StopAutosave()
	if r.pusher != nil {
		r.pusher.stopMailbox()
	}
	if r.puller != nil {
		r.puller.stopMailbox()
	}
	r.db.stopMailbox()
	r.stopMailbox()
}

// ---- connection delegate ----

// connDelegate adapts connection events onto the replicator's mailbox.
type connDelegate struct{ r *Replicator }

func (d *connDelegate) OnHTTPResponse(status int, header http.Header) {
	r := d.r
	cookies := header.Values("Set-Cookie")
	r.enqueue(func() {
		for _, cookie := range cookies {
			r.db.SetCookie(cookie)
		}
	})
}

func (d *connDelegate) OnConnect() {
	r := d.r
	r.enqueue(func() {
		r.log.Info().Msg("connected")
		r.connectionState = blip.StateConnected
		if r.opts.Push > models.ModePassive || r.opts.Pull > models.ModePassive {
			r.getCheckpoints()
		}
		r.refreshStatus()
	})
}

func (d *connDelegate) OnClose(status blip.CloseStatus, state blip.State) {
	r := d.r
	r.enqueue(func() { r.handleClose(status, state) })
}

func (d *connDelegate) OnRequestReceived(req *blip.Request) {
	d.r.log.Warn().Str("profile", req.Profile()).Uint64("number", req.Number()).
		Msg("received unrecognized request")
	req.NotHandled()
}

func (r *Replicator) handleClose(status blip.CloseStatus, state blip.State) {
	r.log.Info().Str("state", state.String()).Int("code", status.Code).
		Str("message", status.Message).Msg("connection closed")

	closedByPeer := r.connectionState != blip.StateClosing
	r.connectionState = state

	r.checkpoint.StopAutosave()

	r.conn = nil
	r.db.connectionClosed()
	if r.pusher != nil {
		r.pusher.connectionClosed()
	}
	if r.puller != nil {
		r.puller.connectionClosed()
	}

	if status.IsNormal() && closedByPeer {
		// The peer hung up cleanly without us asking: report it as
		// "going away" so callers can tell the difference.
		status.Code = blip.CodeGoingAway
		status.Message = "websocket connection closed by peer"
	}
	r.closeStatus = status

	if !status.IsNormal() {
		r.gotError(closeStatusToError(status))
	}

	if r.delegate != nil {
		r.delegate.ReplicatorConnectionClosed(r, status)
	}
	r.refreshStatus()
}

// closeStatusToError maps an abnormal close to an error domain.
func closeStatusToError(status blip.CloseStatus) *models.Error {
	switch status.Reason {
	case blip.ReasonWebSocket:
		return models.NewError(models.DomainWebSocket, status.Code, status.Message)
	case blip.ReasonPOSIX:
		return models.NewError(models.DomainPOSIX, status.Code, status.Message)
	case blip.ReasonNetwork:
		return models.NewError(models.DomainNetwork, status.Code, status.Message)
	default:
		return models.NewError(models.DomainSync, models.CodeRemoteError, status.Message)
	}
}

// ---- checkpoint bootstrap ----

// getCheckpoints loads the local checkpoint, fetches the remote one, and
// starts the push/pull sides once the two agree.
func (r *Replicator) getCheckpoints() {
	r.db.GetCheckpoint(func(checkpointID, body string, dbEmpty bool, err error) {
		r.enqueue(func() {
			if r.status.Level == models.ActivityStopped {
				return
			}
			r.checkpointDocID = checkpointID

			haveLocal := false
			switch {
			case err != nil:
				r.log.Error().Err(err).Msg("fatal error getting checkpoint")
				r.gotError(models.AsError(err))
				r.stopLocked()
				return
			case body != "":
				if decodeErr := r.checkpoint.DecodeFrom(body); decodeErr != nil {
					r.log.Warn().Err(decodeErr).Msg("discarding unreadable checkpoint")
				} else {
					haveLocal = true
					local, remote := r.checkpoint.Sequences()
					r.log.Info().Uint64("local", local).Str("remote", remote).
						Str("checkpoint", checkpointID).Msg("loaded local checkpoint")
				}
			default:
				r.log.Info().Str("checkpoint", checkpointID).Msg("no local checkpoint")
				// Pulling into an empty database with no checkpoint:
				// tombstones need not be materialized.
				if dbEmpty && r.opts.Pull > models.ModePassive {
					r.puller.SetSkipDeleted()
				}
			}

			r.fetchRemoteCheckpoint(haveLocal)
			if !haveLocal {
				r.startReplicating()
			}
		})
	})
}

func (r *Replicator) fetchRemoteCheckpoint(haveLocal bool) {
	msg := blip.NewMessage("getCheckpoint").SetProperty("client", r.checkpointDocID)
	r.sendRequest(msg, func(progress blip.MessageProgress) {
		reply := progress.Reply
		if progress.State != blip.MessageComplete || reply == nil {
			return
		}

		var remote Checkpoint
		if reply.IsError() {
			replyErr := reply.Err()
			if !(replyErr.Domain == models.DomainHTTP && replyErr.Code == 404) {
				r.gotError(replyErr)
				r.stopLocked()
				return
			}
			// 404 is not an error: there is no remote checkpoint yet.
			r.log.Info().Msg("no remote checkpoint")
			r.checkpointRevID = ""
		} else {
			if err := remote.DecodeFrom(string(reply.Body())); err != nil {
				r.gotError(models.AsError(err))
				r.stopLocked()
				return
			}
			r.checkpointRevID = reply.Property("rev")
		}

		if haveLocal {
			if !r.checkpoint.ValidateWith(&remote) {
				r.log.Warn().Msg("checkpoint mismatch with remote, starting over")
			}
			r.startReplicating()
		}
	})
}

func (r *Replicator) startReplicating() {
	local, remote := r.checkpoint.Sequences()
	if r.opts.Push > models.ModePassive {
		r.pusher.Start(local)
	}
	if r.opts.Pull > models.ModePassive {
		r.puller.Start(remote)
	}
}

// saveCheckpoint pushes the serialized checkpoint to the peer, then
// mirrors it into local storage.
func (r *Replicator) saveCheckpoint(body string) {
	if r.conn == nil {
		return
	}
	r.log.Debug().Str("checkpoint", r.checkpointDocID).Str("rev", r.checkpointRevID).
		Str("body", body).Msg("saving checkpoint")

	msg := blip.NewMessage("setCheckpoint").
		SetProperty("client", r.checkpointDocID).
		SetProperty("rev", r.checkpointRevID)
	msg.Body = []byte(body)

	r.sendRequest(msg, func(progress blip.MessageProgress) {
		reply := progress.Reply
		if progress.State != blip.MessageComplete || reply == nil {
			return
		}
		if reply.IsError() {
			r.gotError(reply.Err())
			return
		}
		r.checkpointRevID = reply.Property("rev")
		r.db.SetCheckpoint(body, func(err error) {
			r.enqueue(func() {
				if err != nil {
					r.gotError(models.AsError(err))
					return
				}
				r.checkpoint.Saved()
				r.refreshStatus()
			})
		})
	})
}
