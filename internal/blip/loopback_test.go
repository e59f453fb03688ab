package blip

import (
	"bytes"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDelegate struct {
	mu        sync.Mutex
	connected chan struct{}
	closed    chan CloseStatus
	unhandled []*Request
	httpCode  int
}

func newTestDelegate() *testDelegate {
	return &testDelegate{
		connected: make(chan struct{}),
		closed:    make(chan CloseStatus, 1),
	}
}

func (d *testDelegate) OnHTTPResponse(status int, _ http.Header) {
	d.mu.Lock()
	d.httpCode = status
	d.mu.Unlock()
}

func (d *testDelegate) OnConnect() { close(d.connected) }

func (d *testDelegate) OnClose(status CloseStatus, _ State) {
	select {
	case d.closed <- status:
	default:
	}
}

func (d *testDelegate) OnRequestReceived(req *Request) {
	d.mu.Lock()
	d.unhandled = append(d.unhandled, req)
	d.mu.Unlock()
	req.NotHandled()
}

func startPair(t *testing.T) (*LoopbackConn, *LoopbackConn, *testDelegate, *testDelegate) {
	t.Helper()
	a, b := NewLoopbackPair()
	da, db := newTestDelegate(), newTestDelegate()
	a.SetDelegate(da)
	b.SetDelegate(db)
	return a, b, da, db
}

func waitCh[T any](t *testing.T, ch chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func TestLoopbackConnectAndEcho(t *testing.T) {
	a, b, da, _ := startPair(t)

	b.RegisterHandler("echo", func(req *Request) {
		reply := NewMessage("")
		reply.SetProperty("shout", req.Property("word"))
		reply.Body = append([]byte(nil), req.Body()...)
		req.Respond(reply)
	})

	a.Start()
	b.Start()
	<-da.connected

	done := make(chan *IncomingMessage, 1)
	msg := NewMessage("echo").SetProperty("word", "hello")
	msg.Body = []byte("payload")
	var states []MessageState
	a.SendRequest(msg, func(p MessageProgress) {
		states = append(states, p.State)
		if p.State == MessageComplete {
			done <- p.Reply
		}
	})

	reply := waitCh(t, done, "echo reply")
	assert.Equal(t, "hello", reply.Property("shout"))
	assert.Equal(t, []byte("payload"), reply.Body())
	assert.False(t, reply.IsError())

	// Progress states are monotonic and complete.
	require.NotEmpty(t, states)
	assert.Equal(t, MessageSending, states[0])
	assert.Equal(t, MessageComplete, states[len(states)-1])
	for i := 1; i < len(states); i++ {
		assert.LessOrEqual(t, states[i-1], states[i])
	}
}

func TestLoopbackChunkedReply(t *testing.T) {
	a, b, da, _ := startPair(t)

	big := bytes.Repeat([]byte{'z'}, 3*loopbackChunkSize+100)
	b.RegisterHandler("blob", func(req *Request) {
		reply := NewMessage("")
		reply.Body = big
		req.Respond(reply)
	})

	a.Start()
	b.Start()
	<-da.connected

	var got []byte
	chunks := 0
	done := make(chan struct{})
	a.SendRequest(NewMessage("blob"), func(p MessageProgress) {
		if p.Reply == nil {
			return
		}
		got = append(got, p.Reply.ExtractBody()...)
		chunks++
		if p.State == MessageComplete {
			close(done)
		}
	})
	waitCh(t, done, "chunked reply")

	assert.Equal(t, big, got)
	assert.Equal(t, 4, chunks, "three full chunks plus the final remainder")
}

func TestLoopbackErrorReply(t *testing.T) {
	a, b, da, _ := startPair(t)
	b.RegisterHandler("boom", func(req *Request) {
		req.RespondError("http", 404, "missing")
	})

	a.Start()
	b.Start()
	<-da.connected

	done := make(chan *IncomingMessage, 1)
	a.SendRequest(NewMessage("boom"), func(p MessageProgress) {
		if p.State == MessageComplete {
			done <- p.Reply
		}
	})
	reply := waitCh(t, done, "error reply")

	require.True(t, reply.IsError())
	err := reply.Err()
	assert.Equal(t, "http", err.Domain)
	assert.Equal(t, 404, err.Code)
	assert.Equal(t, "missing", err.Message)
}

func TestLoopbackUnhandledProfile(t *testing.T) {
	a, b, da, db := startPair(t)
	a.Start()
	b.Start()
	<-da.connected
	<-db.connected

	done := make(chan *IncomingMessage, 1)
	a.SendRequest(NewMessage("nonsense"), func(p MessageProgress) {
		if p.State == MessageComplete {
			done <- p.Reply
		}
	})
	reply := waitCh(t, done, "not-handled reply")
	assert.True(t, reply.IsError())
	assert.Equal(t, 404, reply.Err().Code)
}

func TestLoopbackCloseNotifiesBothEnds(t *testing.T) {
	a, b, da, db := startPair(t)
	a.Start()
	b.Start()
	<-da.connected
	<-db.connected

	a.Close()
	sa := waitCh(t, da.closed, "initiator close")
	sb := waitCh(t, db.closed, "peer close")
	assert.True(t, sa.IsNormal())
	assert.True(t, sb.IsNormal())
}

func TestLoopbackAbnormalClose(t *testing.T) {
	a, b, da, db := startPair(t)
	a.Start()
	b.Start()
	<-da.connected
	<-db.connected

	a.AbortWithStatus(CloseStatus{Reason: ReasonNetwork, Code: 2, Message: "connection reset"})
	sa := waitCh(t, da.closed, "abort on a")
	sb := waitCh(t, db.closed, "abort on b")
	assert.False(t, sa.IsNormal())
	assert.Equal(t, ReasonNetwork, sb.Reason)
}
