package repl

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Checkpoint tracks how far a replication has progressed in each
// direction: the highest local sequence pushed and the remote position
// pulled (an opaque string, numeric in practice). A dirty checkpoint is
// autosaved at most once per configured delay.
type Checkpoint struct {
	mu sync.Mutex

	local  uint64
	remote string

	dirty   bool
	saving  bool
	gen     uint64 // bumped on every change
	saveGen uint64 // gen captured when the in-flight save started

	delay time.Duration
	saver func(body string)
	timer *time.Timer
}

// checkpointBody is the serialized JSON form. A numeric remote position is
// written as a number to stay comparable across peers.
type checkpointBody struct {
	Local  uint64          `json:"local,omitempty"`
	Remote json.RawMessage `json:"remote,omitempty"`
}

// DecodeFrom loads the checkpoint from its serialized JSON form.
func (c *Checkpoint) DecodeFrom(body string) error {
	if body == "" {
		return nil
	}
	var decoded checkpointBody
	if err := json.Unmarshal([]byte(body), &decoded); err != nil {
		return fmt.Errorf("decode checkpoint %q: %w", body, err)
	}

	remote := ""
	if len(decoded.Remote) > 0 {
		if decoded.Remote[0] == '"' {
			if err := json.Unmarshal(decoded.Remote, &remote); err != nil {
				return fmt.Errorf("decode checkpoint remote: %w", err)
			}
		} else {
			remote = string(decoded.Remote)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.local = decoded.Local
	c.remote = remote
	return nil
}

// JSON serializes the checkpoint. Zero positions are omitted, so a fresh
// checkpoint renders as "{}".
func (c *Checkpoint) JSON() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jsonLocked()
}

func (c *Checkpoint) jsonLocked() string {
	body := checkpointBody{Local: c.local}
	if c.remote != "" {
		if isDigits(c.remote) {
			body.Remote = json.RawMessage(c.remote)
		} else {
			quoted, _ := json.Marshal(c.remote)
			body.Remote = quoted
		}
	}
	encoded, _ := json.Marshal(body)
	return string(encoded)
}

// Sequences returns the two replication positions.
func (c *Checkpoint) Sequences() (local uint64, remote string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local, c.remote
}

// SetLocal advances the pushed-up-to sequence.
func (c *Checkpoint) SetLocal(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local == seq {
		return
	}
	c.local = seq
	c.changedLocked()
}

// SetRemote advances the pulled-up-to position.
func (c *Checkpoint) SetRemote(remote string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == remote {
		return
	}
	c.remote = remote
	c.changedLocked()
}

// ValidateWith compares this checkpoint against the one the remote holds.
// Any disagreement means the saved state cannot be trusted, so both
// positions reset to zero and the replication starts over.
func (c *Checkpoint) ValidateWith(remote *Checkpoint) bool {
	remoteLocal, remoteRemote := remote.Sequences()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local == remoteLocal && c.remote == remoteRemote {
		return true
	}
	c.local = 0
	c.remote = ""
	return false
}

// EnableAutosave arranges for saver to be called with the serialized
// checkpoint at most once per delay, whenever the checkpoint is dirty.
func (c *Checkpoint) EnableAutosave(delay time.Duration, saver func(body string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = delay
	c.saver = saver
	if c.dirty {
		c.scheduleLocked()
	}
}

// StopAutosave cancels any pending autosave and detaches the saver.
func (c *Checkpoint) StopAutosave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saver = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Save forces an immediate save of a dirty checkpoint.
func (c *Checkpoint) Save() {
	c.mu.Lock()
	if !c.dirty || c.saving || c.saver == nil {
		c.mu.Unlock()
		return
	}
	c.saving = true
	c.saveGen = c.gen
	body := c.jsonLocked()
	saver := c.saver
	c.mu.Unlock()

	saver(body)
}

// Saved acknowledges that the saver persisted the checkpoint. A change
// that raced with the save keeps the checkpoint dirty and reschedules.
func (c *Checkpoint) Saved() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saving = false
	if c.gen == c.saveGen {
		c.dirty = false
		return
	}
	c.scheduleLocked()
}

// IsUnsaved reports whether the checkpoint holds unpersisted changes.
func (c *Checkpoint) IsUnsaved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty || c.saving
}

func (c *Checkpoint) changedLocked() {
	c.dirty = true
	c.gen++
	c.scheduleLocked()
}

func (c *Checkpoint) scheduleLocked() {
	if c.saver == nil || c.timer != nil || c.saving {
		return
	}
	c.timer = time.AfterFunc(c.delay, func() {
		c.mu.Lock()
		c.timer = nil
		c.mu.Unlock()
		c.Save()
	})
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
