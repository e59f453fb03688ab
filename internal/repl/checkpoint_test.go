package repl

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointJSONRoundTrip(t *testing.T) {
	var cp Checkpoint
	assert.Equal(t, "{}", cp.JSON())

	cp.SetLocal(100)
	assert.Equal(t, `{"local":100}`, cp.JSON())

	cp.SetRemote("2")
	assert.Equal(t, `{"local":100,"remote":2}`, cp.JSON())

	var decoded Checkpoint
	require.NoError(t, decoded.DecodeFrom(cp.JSON()))
	local, remote := decoded.Sequences()
	assert.Equal(t, uint64(100), local)
	assert.Equal(t, "2", remote)
}

func TestCheckpointDecodeStringRemote(t *testing.T) {
	var cp Checkpoint
	require.NoError(t, cp.DecodeFrom(`{"remote":"opaque-token"}`))
	_, remote := cp.Sequences()
	assert.Equal(t, "opaque-token", remote)

	assert.Equal(t, `{"remote":"opaque-token"}`, cp.JSON())
}

func TestCheckpointDecodeFailures(t *testing.T) {
	var cp Checkpoint
	assert.Error(t, cp.DecodeFrom(`not json`))
	assert.NoError(t, cp.DecodeFrom(""))
}

func TestCheckpointValidateWithResetsBothOnMismatch(t *testing.T) {
	var local, remote Checkpoint
	local.SetLocal(10)
	local.SetRemote("5")
	remote.SetLocal(10)
	remote.SetRemote("5")
	assert.True(t, local.ValidateWith(&remote))
	l, r := local.Sequences()
	assert.Equal(t, uint64(10), l)
	assert.Equal(t, "5", r)

	remote.SetLocal(7)
	assert.False(t, local.ValidateWith(&remote))
	l, r = local.Sequences()
	assert.Zero(t, l)
	assert.Empty(t, r)
}

func TestCheckpointAutosave(t *testing.T) {
	var cp Checkpoint
	var mu sync.Mutex
	var saves []string
	cp.EnableAutosave(30*time.Millisecond, func(body string) {
		mu.Lock()
		saves = append(saves, body)
		mu.Unlock()
		cp.Saved()
	})

	cp.SetLocal(1)
	cp.SetLocal(2)
	cp.SetLocal(3)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(saves) == 1 && saves[0] == `{"local":3}`
	}, time.Second, 5*time.Millisecond, "rapid changes coalesce into one save")
	assert.False(t, cp.IsUnsaved())

	cp.SetLocal(4)
	assert.True(t, cp.IsUnsaved())
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(saves) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestCheckpointSaveForcesImmediate(t *testing.T) {
	var cp Checkpoint
	saved := make(chan string, 1)
	cp.EnableAutosave(time.Hour, func(body string) {
		saved <- body
		cp.Saved()
	})

	cp.SetLocal(42)
	cp.Save()

	select {
	case body := <-saved:
		assert.Equal(t, `{"local":42}`, body)
	case <-time.After(time.Second):
		t.Fatal("Save did not invoke the saver")
	}
	assert.False(t, cp.IsUnsaved())
}

func TestCheckpointChangeDuringSaveStaysDirty(t *testing.T) {
	var cp Checkpoint
	release := make(chan struct{})
	started := make(chan struct{})
	first := true
	cp.EnableAutosave(10*time.Millisecond, func(body string) {
		if first {
			first = false
			close(started)
			<-release
		}
		cp.Saved()
	})

	cp.SetLocal(1)
	go cp.Save()
	<-started

	cp.SetLocal(2) // races with the in-flight save
	assert.True(t, cp.IsUnsaved())
	close(release)

	// The raced change keeps the checkpoint dirty until the rescheduled
	// save lands.
	assert.Eventually(t, func() bool { return !cp.IsUnsaved() },
		5*time.Second, 10*time.Millisecond)
}

func TestCheckpointStopAutosave(t *testing.T) {
	var cp Checkpoint
	var saves sync.Map
	cp.EnableAutosave(20*time.Millisecond, func(body string) {
		saves.Store(body, true)
		cp.Saved()
	})
	cp.StopAutosave()
	cp.SetLocal(9)

	time.Sleep(100 * time.Millisecond)
	count := 0
	saves.Range(func(_, _ any) bool { count++; return true })
	assert.Zero(t, count)
}
