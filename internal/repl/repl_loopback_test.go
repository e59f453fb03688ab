package repl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MKhiriev/go-doc-sync/internal/blip"
	"github.com/MKhiriev/go-doc-sync/internal/logger"
	"github.com/MKhiriev/go-doc-sync/internal/store"
	"github.com/MKhiriev/go-doc-sync/models"
)

const loopbackAddr = "loopback"

// testPeer is one side of a loopback replication: a document store and a
// blob store.
type testPeer struct {
	docs  store.DocumentStore
	blobs store.BlobStore
}

func newTestPeer(t *testing.T) *testPeer {
	t.Helper()
	docs, err := store.NewDocumentStore(context.Background(), ":memory:", logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { docs.Close() })

	blobs, err := store.NewBlobStore(t.TempDir(), nil, logger.Nop())
	require.NoError(t, err)
	return &testPeer{docs: docs, blobs: blobs}
}

func (p *testPeer) createRev(t *testing.T, docID string, history []string, body string) {
	t.Helper()
	blobs, err := store.FindBlobsInRev([]byte(body))
	require.NoError(t, err)
	_, err = p.docs.PutRevision(context.Background(), models.IncomingRev{
		DocID:          docID,
		RevID:          history[0],
		History:        history,
		Body:           []byte(body),
		HasAttachments: len(blobs) > 0,
		Local:          true,
	})
	require.NoError(t, err)
}

func (p *testPeer) deleteRev(t *testing.T, docID string, history []string) {
	t.Helper()
	_, err := p.docs.PutRevision(context.Background(), models.IncomingRev{
		DocID:   docID,
		RevID:   history[0],
		History: history,
		Deleted: true,
		Local:   true,
	})
	require.NoError(t, err)
}

func (p *testPeer) docCount(t *testing.T) int64 {
	t.Helper()
	count, err := p.docs.DocumentCount(context.Background())
	require.NoError(t, err)
	return count
}

type docErrorRecord struct {
	Pushing bool
	DocID   string
	Err     *models.Error
}

// testReplDelegate records status transitions and per-document errors.
type testReplDelegate struct {
	t *testing.T

	mu            sync.Mutex
	docErrors     []docErrorRecord
	lastCompleted uint64
	stopped       chan models.Status
}

func newTestReplDelegate(t *testing.T) *testReplDelegate {
	return &testReplDelegate{t: t, stopped: make(chan models.Status, 1)}
}

func (d *testReplDelegate) ReplicatorStatusChanged(_ *Replicator, status models.Status) {
	d.mu.Lock()
	if status.Progress.UnitsCompleted < d.lastCompleted {
		d.t.Errorf("progress went backwards: %d -> %d",
			d.lastCompleted, status.Progress.UnitsCompleted)
	}
	d.lastCompleted = status.Progress.UnitsCompleted
	d.mu.Unlock()

	if status.Level == models.ActivityStopped {
		select {
		case d.stopped <- status:
		default:
		}
	}
}

func (d *testReplDelegate) ReplicatorDocumentError(_ *Replicator, pushing bool, docID string, err *models.Error, _ bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.docErrors = append(d.docErrors, docErrorRecord{Pushing: pushing, DocID: docID, Err: err})
}

func (d *testReplDelegate) ReplicatorConnectionClosed(*Replicator, blip.CloseStatus) {}

func (d *testReplDelegate) errorDocIDs() map[string]bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make(map[string]bool, len(d.docErrors))
	for _, e := range d.docErrors {
		ids[e.DocID] = true
	}
	return ids
}

func (d *testReplDelegate) waitStopped(t *testing.T) models.Status {
	t.Helper()
	select {
	case status := <-d.stopped:
		return status
	case <-time.After(15 * time.Second):
		t.Fatal("replicator did not stop")
		panic("unreachable")
	}
}

// runReplicators wires two peers over a loopback connection and runs both
// replicators to completion.
func runReplicators(t *testing.T, local, remote *testPeer, localOpts, remoteOpts *Options,
) (*Replicator, *testReplDelegate, *testReplDelegate) {
	t.Helper()
	if localOpts.CheckpointInterval == 0 {
		localOpts.CheckpointInterval = 50 * time.Millisecond
	}
	if remoteOpts.CheckpointInterval == 0 {
		remoteOpts.CheckpointInterval = 50 * time.Millisecond
	}

	connLocal, connRemote := blip.NewLoopbackPair()
	localDelegate := newTestReplDelegate(t)
	remoteDelegate := newTestReplDelegate(t)

	localRepl := NewReplicator(connLocal, local.docs, local.blobs, loopbackAddr,
		localDelegate, localOpts, logger.Nop())
	remoteRepl := NewReplicator(connRemote, remote.docs, remote.blobs, loopbackAddr,
		remoteDelegate, remoteOpts, logger.Nop())

	localRepl.Start()
	remoteRepl.Start()

	status := localDelegate.waitStopped(t)
	remoteDelegate.waitStopped(t)

	final := localRepl.Status()
	assert.Equal(t, models.ActivityStopped, final.Level)
	assert.Equal(t, status.Progress, final.Progress)
	return localRepl, localDelegate, remoteDelegate
}

func importDocs(t *testing.T, peer *testPeer, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		docID := fmt.Sprintf("%07d", i)
		body := fmt.Sprintf(`{"name":"doc %d","index":%d}`, i, i)
		peer.createRev(t, docID, []string{"1-11"}, body)
	}
}

func TestPushEmptyDB(t *testing.T) {
	src, dst := newTestPeer(t), newTestPeer(t)
	repl, srcDel, dstDel := runReplicators(t, src, dst,
		PushOptions(models.ModeOneShot), PassiveOptions())

	assert.Zero(t, dst.docCount(t))
	assert.Equal(t, "{}", repl.Checkpoint().JSON())
	assert.Empty(t, srcDel.errorDocIDs())
	assert.Empty(t, dstDel.errorDocIDs())

	status := repl.Status()
	assert.Nil(t, status.Error)
}

func TestPushSmallDB(t *testing.T) {
	src, dst := newTestPeer(t), newTestPeer(t)
	importDocs(t, src, 100)

	repl, _, _ := runReplicators(t, src, dst,
		PushOptions(models.ModeOneShot), PassiveOptions())

	assert.Equal(t, int64(100), dst.docCount(t))
	assert.Equal(t, `{"local":100}`, repl.Checkpoint().JSON())

	status := repl.Status()
	assert.Nil(t, status.Error)
	assert.Equal(t, status.Progress.UnitsTotal, status.Progress.UnitsCompleted)
	assert.Equal(t, uint64(100), status.Progress.DocumentCount)

	// A replicated document arrived with its source revision ID.
	doc, err := dst.docs.GetDocument(context.Background(), "0000042")
	require.NoError(t, err)
	assert.Equal(t, "1-11", doc.RevID)
}

func TestIncrementalPush(t *testing.T) {
	src, dst := newTestPeer(t), newTestPeer(t)
	importDocs(t, src, 100)

	repl, _, _ := runReplicators(t, src, dst,
		PushOptions(models.ModeOneShot), PassiveOptions())
	assert.Equal(t, `{"local":100}`, repl.Checkpoint().JSON())

	src.createRev(t, "new1", []string{"2-cc", "1-11"}, `{"fresh":1}`)
	src.createRev(t, "new2", []string{"3-cc", "2-c0", "1-11"}, `{"fresh":2}`)

	repl, _, _ = runReplicators(t, src, dst,
		PushOptions(models.ModeOneShot), PassiveOptions())

	assert.Equal(t, `{"local":102}`, repl.Checkpoint().JSON())
	assert.Equal(t, int64(102), dst.docCount(t))
	status := repl.Status()
	assert.Equal(t, uint64(2), status.Progress.DocumentCount, "only the new revisions travel")
}

func TestPullSmallDB(t *testing.T) {
	src, dst := newTestPeer(t), newTestPeer(t)
	importDocs(t, src, 100)

	repl, _, _ := runReplicators(t, dst, src,
		PullOptions(models.ModeOneShot), PassiveOptions())

	assert.Equal(t, int64(100), dst.docCount(t))
	assert.Equal(t, `{"remote":100}`, repl.Checkpoint().JSON())
}

func TestIncrementalPull(t *testing.T) {
	src, dst := newTestPeer(t), newTestPeer(t)
	importDocs(t, src, 100)

	repl, _, _ := runReplicators(t, dst, src,
		PullOptions(models.ModeOneShot), PassiveOptions())
	assert.Equal(t, `{"remote":100}`, repl.Checkpoint().JSON())

	src.createRev(t, "new1", []string{"2-cc", "1-11"}, `{"fresh":1}`)
	src.createRev(t, "new2", []string{"3-cc", "2-c0", "1-11"}, `{"fresh":2}`)

	repl, _, _ = runReplicators(t, dst, src,
		PullOptions(models.ModeOneShot), PassiveOptions())
	assert.Equal(t, `{"remote":102}`, repl.Checkpoint().JSON())
	assert.Equal(t, int64(102), dst.docCount(t))
}

func TestPushWithDocIDFilter(t *testing.T) {
	src, dst := newTestPeer(t), newTestPeer(t)
	importDocs(t, src, 100)

	opts := PushOptions(models.ModeOneShot)
	opts.DocIDs = []string{"0000001", "0000010", "0000100"}
	runReplicators(t, src, dst, opts, PassiveOptions())

	assert.Equal(t, int64(3), dst.docCount(t))
	for _, docID := range opts.DocIDs {
		_, err := dst.docs.GetDocument(context.Background(), docID)
		assert.NoError(t, err, "doc %s", docID)
	}
}

func TestPullWithDocIDFilter(t *testing.T) {
	src, dst := newTestPeer(t), newTestPeer(t)
	importDocs(t, src, 100)

	opts := PullOptions(models.ModeOneShot)
	opts.DocIDs = []string{"0000001", "0000010", "0000100"}
	runReplicators(t, dst, src, opts, PassiveOptions())

	assert.Equal(t, int64(3), dst.docCount(t))
}

func TestPushSkipDeleted(t *testing.T) {
	src, dst := newTestPeer(t), newTestPeer(t)
	importDocs(t, src, 100)
	for i := 1; i <= 100; i += 2 {
		src.deleteRev(t, fmt.Sprintf("%07d", i), []string{"2-dd", "1-11"})
	}

	opts := PushOptions(models.ModeOneShot)
	opts.SkipDeleted = true
	runReplicators(t, src, dst, opts, PassiveOptions())

	assert.Equal(t, int64(50), dst.docCount(t))
	// No tombstones were materialized at all.
	last, err := dst.docs.LastSequence(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(50), last)
}

func TestPullIntoEmptyDBSkipsDeletedAutomatically(t *testing.T) {
	src, dst := newTestPeer(t), newTestPeer(t)
	importDocs(t, src, 100)
	for i := 1; i <= 100; i += 2 {
		src.deleteRev(t, fmt.Sprintf("%07d", i), []string{"2-dd", "1-11"})
	}

	runReplicators(t, dst, src, PullOptions(models.ModeOneShot), PassiveOptions())

	assert.Equal(t, int64(50), dst.docCount(t))
	last, err := dst.docs.LastSequence(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(50), last, "tombstones were skipped as an optimization")
}

func TestPullConflict(t *testing.T) {
	db, db2 := newTestPeer(t), newTestPeer(t)
	db.createRev(t, "conflict", []string{"1-11111111"}, `{}`)

	// Push so both sides have the doc.
	repl, _, _ := runReplicators(t, db, db2,
		PushOptions(models.ModeOneShot), PassiveOptions())
	assert.Equal(t, `{"local":1}`, repl.Checkpoint().JSON())

	// Update the doc differently on each side.
	db.createRev(t, "conflict", []string{"2-2a2a2a2a", "1-11111111"}, `{"db":1}`)
	db2.createRev(t, "conflict", []string{"2-2b2b2b2b", "1-11111111"}, `{"db":2}`)

	// Pull db <- db2, creating a conflict.
	repl, delegate, _ := runReplicators(t, db, db2,
		PullOptions(models.ModeOneShot), PassiveOptions())
	assert.Equal(t, `{"local":1,"remote":2}`, repl.Checkpoint().JSON())
	assert.Equal(t, map[string]bool{"conflict": true}, delegate.errorDocIDs())

	ctx := context.Background()
	doc, err := db.docs.GetDocument(ctx, "conflict")
	require.NoError(t, err)
	assert.True(t, doc.Conflicted)
	assert.Equal(t, "2-2b2b2b2b", doc.RevID, "higher revision ID wins")

	tree, err := db.docs.GetTree(ctx, "conflict")
	require.NoError(t, err)
	require.Len(t, tree.Leaves(), 2)

	// Both leaves have bodies, and the common parent kept its body for
	// later conflict resolution.
	for _, leaf := range tree.Leaves() {
		assert.NotEmpty(t, leaf.Body, "leaf %s", leaf.ID)
		parent := leaf.ParentRev()
		require.NotNil(t, parent)
		assert.Equal(t, "1-11111111", parent.ID)
	}
	parent := tree.Find("1-11111111")
	require.NotNil(t, parent)
	assert.NotEmpty(t, parent.Body)
}

func TestPushNoConflictsRejection(t *testing.T) {
	db, db2 := newTestPeer(t), newTestPeer(t)
	db.createRev(t, "doc", []string{"1-aa"}, `{}`)

	repl, _, _ := runReplicators(t, db, db2,
		PushOptions(models.ModeOneShot), PassiveOptions())
	require.Equal(t, `{"local":1}`, repl.Checkpoint().JSON())

	// Diverge: the peer is no longer at our parent revision.
	db.createRev(t, "doc", []string{"2-aaaa", "1-aa"}, `{"side":"a"}`)
	db2.createRev(t, "doc", []string{"2-bbbb", "1-aa"}, `{"side":"b"}`)

	pushOpts := PushOptions(models.ModeOneShot)
	pushOpts.NoConflicts = true
	serverOpts := PassiveOptions()
	serverOpts.NoConflicts = true

	_, delegate, _ := runReplicators(t, db, db2, pushOpts, serverOpts)

	// The rejection is a per-document error; replication itself succeeds.
	require.Len(t, delegate.docErrors, 1)
	rejection := delegate.docErrors[0]
	assert.True(t, rejection.Pushing)
	assert.Equal(t, "doc", rejection.DocID)
	assert.Equal(t, 409, rejection.Err.Code)

	doc, err := db2.docs.GetDocument(context.Background(), "doc")
	require.NoError(t, err)
	assert.Equal(t, "2-bbbb", doc.RevID, "peer keeps its own revision")
	assert.False(t, doc.Conflicted)
}

func TestPushValidationFailure(t *testing.T) {
	src, dst := newTestPeer(t), newTestPeer(t)
	for i := 1; i <= 100; i++ {
		docID := fmt.Sprintf("%07d", i)
		src.createRev(t, docID, []string{"1-11"}, fmt.Sprintf(`{"index":%d}`, i))
	}

	rejected := map[string]bool{"0000052": true, "0000065": true, "0000071": true, "0000072": true}
	var validationCalls int
	var mu sync.Mutex

	serverOpts := PassiveOptions()
	serverOpts.PullValidator = func(docID string, body []byte) bool {
		mu.Lock()
		validationCalls++
		mu.Unlock()
		return !rejected[docID]
	}

	repl, pushDelegate, pullDelegate := runReplicators(t, src, dst,
		PushOptions(models.ModeOneShot), serverOpts)

	assert.Equal(t, `{"local":100}`, repl.Checkpoint().JSON())
	assert.Equal(t, int64(96), dst.docCount(t))
	mu.Lock()
	assert.Equal(t, 100, validationCalls)
	mu.Unlock()

	// Rejections surface on both sides: as push errors here, as pull
	// errors on the validating peer.
	assert.Equal(t, rejected, pushDelegate.errorDocIDs())
	assert.Equal(t, rejected, pullDelegate.errorDocIDs())
}

func TestPullAttachments(t *testing.T) {
	src, dst := newTestPeer(t), newTestPeer(t)

	attachments := [][]byte{
		[]byte("Hey, this is an attachment!"),
		[]byte("So is this"),
		bytesOf('!', 100_000),
	}
	atts := map[string]any{}
	for i, content := range attachments {
		w, err := src.blobs.OpenWriter()
		require.NoError(t, err)
		_, err = w.Write(content)
		require.NoError(t, err)
		key, err := w.Install("")
		require.NoError(t, err)
		atts[fmt.Sprintf("att%d", i)] = map[string]any{
			"digest": string(key),
			"length": len(content),
		}
	}
	bodyJSON, err := json.Marshal(map[string]any{"title": "attached", "_attachments": atts})
	require.NoError(t, err)
	src.createRev(t, "att-doc", []string{"1-aa"}, string(bodyJSON))

	repl, delegate, _ := runReplicators(t, dst, src,
		PullOptions(models.ModeOneShot), PassiveOptions())

	assert.Empty(t, delegate.errorDocIDs())
	assert.Equal(t, `{"remote":1}`, repl.Checkpoint().JSON())

	for _, content := range attachments {
		key := models.ComputeBlobKey(content)
		require.True(t, dst.blobs.Contains(key), "blob %s must be installed", key)
		got, err := dst.blobs.ReadAll(key)
		require.NoError(t, err)
		assert.Equal(t, content, got)
	}

	doc, err := dst.docs.GetDocument(context.Background(), "att-doc")
	require.NoError(t, err)
	assert.True(t, doc.HasAttachments)
}

func TestLostCheckpointStartsOver(t *testing.T) {
	src, dst := newTestPeer(t), newTestPeer(t)
	src.createRev(t, "doc", []string{"1-ab"}, `{}`)
	src.createRev(t, "doc", []string{"2-cd", "1-ab"}, `{"v":2}`)

	repl, _, _ := runReplicators(t, src, dst,
		PushOptions(models.ModeOneShot), PassiveOptions())
	require.Equal(t, `{"local":2}`, repl.Checkpoint().JSON())

	// Corrupt the locally stored checkpoint; the remote copy no longer
	// matches, so validation resets both positions and the push re-runs
	// from scratch.
	ctx := context.Background()
	dbUUID, err := src.docs.UUID(ctx)
	require.NoError(t, err)
	require.NoError(t, src.docs.SetLocalCheckpoint(ctx, testCheckpointID(dbUUID, nil), `{"local":999}`))

	repl, delegate, _ := runReplicators(t, src, dst,
		PushOptions(models.ModeOneShot), PassiveOptions())
	assert.Equal(t, `{"local":2}`, repl.Checkpoint().JSON())
	assert.Empty(t, delegate.errorDocIDs())
	assert.Equal(t, int64(1), dst.docCount(t))
}

func TestAbnormalCloseTranslatesError(t *testing.T) {
	local, remote := newTestPeer(t), newTestPeer(t)

	connLocal, connRemote := blip.NewLoopbackPair()
	localDelegate := newTestReplDelegate(t)
	remoteDelegate := newTestReplDelegate(t)

	opts := PullOptions(models.ModeContinuous)
	opts.CheckpointInterval = 50 * time.Millisecond
	localRepl := NewReplicator(connLocal, local.docs, local.blobs, loopbackAddr,
		localDelegate, opts, logger.Nop())
	remoteRepl := NewReplicator(connRemote, remote.docs, remote.blobs, loopbackAddr,
		remoteDelegate, PassiveOptions(), logger.Nop())

	localRepl.Start()
	remoteRepl.Start()

	// Let the handshake and subscription settle, then cut the wire.
	time.Sleep(300 * time.Millisecond)
	connLocal.AbortWithStatus(blip.CloseStatus{
		Reason: blip.ReasonNetwork, Code: 2, Message: "connection reset by peer",
	})

	status := localDelegate.waitStopped(t)
	require.NotNil(t, status.Error)
	assert.Equal(t, models.DomainNetwork, status.Error.Domain)
	remoteDelegate.waitStopped(t)
}

// testCheckpointID mirrors the checkpoint ID derivation of the DB worker.
func testCheckpointID(dbUUID string, docIDs []string) string {
	h := sha256.New()
	h.Write([]byte(dbUUID))
	h.Write([]byte{0})
	h.Write([]byte(loopbackAddr))
	h.Write([]byte{0})
	for i, id := range docIDs {
		if i > 0 {
			h.Write([]byte(","))
		}
		h.Write([]byte(id))
	}
	return hex.EncodeToString(h.Sum(nil))[:40]
}

func bytesOf(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}
