package repl

import (
	"time"

	"github.com/MKhiriev/go-doc-sync/models"
)

// defaultCheckpointInterval bounds how long a dirty checkpoint may stay
// unsaved.
const defaultCheckpointInterval = 5 * time.Second

// changesBatchSize bounds one change enumeration batch.
const changesBatchSize = 200

// changesPollInterval is how often a continuous pusher re-checks the
// change feed after catching up.
const changesPollInterval = 500 * time.Millisecond

// Options configure one replication.
type Options struct {
	Push models.Mode
	Pull models.Mode

	// NoConflicts makes this peer reject revisions whose parent is not
	// the current leaf, instead of creating conflicting branches.
	NoConflicts bool
	// SkipDeleted drops tombstones from outgoing change enumeration.
	SkipDeleted bool
	// DocIDs, when non-empty, restricts replication to the listed
	// documents.
	DocIDs []string
	// Cookies is an extra Cookie header value for the upgrade request.
	Cookies string
	// CheckpointInterval overrides the autosave delay.
	CheckpointInterval time.Duration
	// PullValidator, when set, approves each incoming revision. Rejected
	// revisions are reported as per-document errors and not inserted.
	PullValidator func(docID string, body []byte) bool
	// OpenServer keeps an idle replicator alive the way a passive server
	// peer must stay.
	OpenServer bool
}

// PushOptions returns options for an active push with a stopped pull side.
func PushOptions(mode models.Mode) *Options {
	return &Options{Push: mode, Pull: models.ModeDisabled}
}

// PullOptions returns options for an active pull with a stopped push side.
func PullOptions(mode models.Mode) *Options {
	return &Options{Push: models.ModeDisabled, Pull: mode}
}

// PassiveOptions returns options for the responding side of a
// replication.
func PassiveOptions() *Options {
	return &Options{Push: models.ModePassive, Pull: models.ModePassive}
}

func (o *Options) checkpointInterval() time.Duration {
	if o.CheckpointInterval > 0 {
		return o.CheckpointInterval
	}
	return defaultCheckpointInterval
}

func (o *Options) isContinuous() bool {
	return o.Push == models.ModeContinuous || o.Pull == models.ModeContinuous
}

// isOpenServer reports whether this replicator serves a peer: explicitly
// flagged, or configured with no active direction at all.
func (o *Options) isOpenServer() bool {
	return o.OpenServer || (o.Push <= models.ModePassive && o.Pull <= models.ModePassive)
}
