package blip

import (
	"maps"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/MKhiriev/go-doc-sync/internal/actor"
)

// loopbackChunkSize is the reply chunk granularity; large bodies arrive in
// several ReceivingReply callbacks, the way a real transport frames them.
const loopbackChunkSize = 32 * 1024

// LoopbackConn is an in-memory Connection wired directly to a peer.
// Both ends behave like real transports: requests and callbacks are
// delivered asynchronously on a per-connection dispatch goroutine, and
// large reply bodies arrive in chunks.
type LoopbackConn struct {
	name     string
	peer     *LoopbackConn
	dispatch *actor.Mailbox

	mu       sync.Mutex
	state    State
	delegate Delegate
	handlers map[string]Handler

	nextNumber atomic.Uint64
	closing    sync.Once
}

// NewLoopbackPair returns two connected loopback ends. Handlers and
// delegates must be set before Start.
func NewLoopbackPair() (*LoopbackConn, *LoopbackConn) {
	a := &LoopbackConn{name: "loopback-a", handlers: make(map[string]Handler)}
	b := &LoopbackConn{name: "loopback-b", handlers: make(map[string]Handler)}
	a.dispatch = actor.NewMailbox(a.name, nil)
	b.dispatch = actor.NewMailbox(b.name, nil)
	a.peer, b.peer = b, a
	return a, b
}

// SetDelegate implements Connection.
func (c *LoopbackConn) SetDelegate(d Delegate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delegate = d
}

// RegisterHandler implements Connection.
func (c *LoopbackConn) RegisterHandler(profile string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[profile] = h
}

// State implements Connection.
func (c *LoopbackConn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start implements Connection. The loopback "handshake" always succeeds
// and reports an empty HTTP upgrade response.
func (c *LoopbackConn) Start() {
	c.mu.Lock()
	if c.state != StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	delegate := c.delegate
	c.mu.Unlock()

	c.dispatch.Enqueue(func() {
		c.mu.Lock()
		c.state = StateConnected
		c.mu.Unlock()
		if delegate != nil {
			delegate.OnHTTPResponse(http.StatusSwitchingProtocols, http.Header{})
			delegate.OnConnect()
		}
	})
}

// Close implements Connection: a clean close visible to both ends.
func (c *LoopbackConn) Close() {
	c.mu.Lock()
	c.state = StateClosing
	c.mu.Unlock()

	status := CloseStatus{Reason: ReasonWebSocket, Code: CodeNormal, Message: "websocket connection closed"}
	c.peer.finishClose(status, StateClosed)
	c.finishClose(status, StateClosed)
}

// AbortWithStatus simulates an abnormal transport failure observed by both
// ends, e.g. a dropped TCP connection. Used by tests.
func (c *LoopbackConn) AbortWithStatus(status CloseStatus) {
	c.peer.finishClose(status, StateDisconnected)
	c.finishClose(status, StateDisconnected)
}

func (c *LoopbackConn) finishClose(status CloseStatus, final State) {
	c.closing.Do(func() {
		c.dispatch.Enqueue(func() {
			c.mu.Lock()
			c.state = final
			delegate := c.delegate
			c.mu.Unlock()
			if delegate != nil {
				delegate.OnClose(status, final)
			}
		})
		go c.dispatch.Close()
	})
}

// SendRequest implements Connection.
func (c *LoopbackConn) SendRequest(msg *Message, onProgress func(MessageProgress)) {
	number := c.nextNumber.Add(1)
	notify := func(p MessageProgress) {
		if onProgress != nil {
			c.dispatch.Enqueue(func() { onProgress(p) })
		}
	}

	if c.State() != StateConnected {
		reply := newIncomingMessage(number, map[string]string{
			errorDomainProperty: "network",
			errorCodeProperty:   "1",
		})
		reply.body = []byte("connection is not open")
		notify(MessageProgress{State: MessageComplete, Reply: reply})
		return
	}

	bytesSent := uint64(len(msg.Body))
	notify(MessageProgress{State: MessageSending, BytesSent: bytesSent})

	props := maps.Clone(msg.Properties)
	if props == nil {
		props = make(map[string]string)
	}
	if msg.Profile != "" {
		props[profileProperty] = msg.Profile
	}
	in := newIncomingMessage(number, props)
	in.body = append([]byte(nil), msg.Body...)
	req := &Request{IncomingMessage: in, noReply: msg.NoReply}

	if msg.NoReply {
		notify(MessageProgress{State: MessageComplete, BytesSent: bytesSent})
	} else {
		notify(MessageProgress{State: MessageAwaitingReply, BytesSent: bytesSent})
		req.respond = func(reply *Message) {
			c.deliverReply(number, bytesSent, reply, notify)
		}
	}

	peer := c.peer
	peer.dispatch.Enqueue(func() { peer.handleRequest(req) })
}

// deliverReply streams a reply body back to the requester in chunks, with
// monotonic progress states.
func (c *LoopbackConn) deliverReply(number, bytesSent uint64, reply *Message, notify func(MessageProgress)) {
	in := newIncomingMessage(number, maps.Clone(reply.Properties))

	body := reply.Body
	received := uint64(0)
	for {
		chunk := body
		if len(chunk) > loopbackChunkSize {
			chunk = chunk[:loopbackChunkSize]
		}
		body = body[len(chunk):]
		in.appendBody(chunk)
		received += uint64(len(chunk))

		if len(body) == 0 {
			notify(MessageProgress{
				State: MessageComplete, BytesSent: bytesSent, BytesReceived: received, Reply: in,
			})
			return
		}
		notify(MessageProgress{
			State: MessageReceivingReply, BytesSent: bytesSent, BytesReceived: received, Reply: in,
		})
	}
}

func (c *LoopbackConn) handleRequest(req *Request) {
	c.mu.Lock()
	handler := c.handlers[req.Profile()]
	delegate := c.delegate
	c.mu.Unlock()

	switch {
	case handler != nil:
		handler(req)
	case delegate != nil:
		delegate.OnRequestReceived(req)
	default:
		req.NotHandled()
	}
}
