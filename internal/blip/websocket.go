package blip

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MKhiriev/go-doc-sync/internal/actor"
)

// wsChunkSize bounds the body bytes carried by one websocket frame.
const wsChunkSize = 32 * 1024

// wsFrame is the header of one websocket message: a JSON line followed by
// raw body bytes.
type wsFrame struct {
	Type       string            `json:"type"` // "req" or "rsp"
	Number     uint64            `json:"number"`
	Properties map[string]string `json:"properties,omitempty"`
	NoReply    bool              `json:"no_reply,omitempty"`
	Final      bool              `json:"final"`
}

type wsPending struct {
	reply      *IncomingMessage
	bytesSent  uint64
	received   uint64
	onProgress func(MessageProgress)
}

// WSConn carries framed messages over a websocket. The client side dials
// on Start and reports the HTTP upgrade response (with its Set-Cookie
// headers) through the delegate; the server side wraps an already upgraded
// connection.
type WSConn struct {
	dialURL    string
	dialHeader http.Header

	dispatch *actor.Mailbox

	writeMu sync.Mutex
	ws      *websocket.Conn

	mu        sync.Mutex
	state     State
	delegate  Delegate
	handlers  map[string]Handler
	pending   map[uint64]*wsPending
	incoming  map[uint64]*Request // chunked requests, dispatch goroutine only
	started   bool
	wasClosed bool

	nextNumber atomic.Uint64
	closing    sync.Once
}

// NewWebSocketClient prepares a client connection to a sync endpoint URL
// (ws:// or wss://). header carries auth and cookie headers for the
// upgrade request.
func NewWebSocketClient(url string, header http.Header) *WSConn {
	c := newWSConn("ws-client")
	c.dialURL = url
	c.dialHeader = header
	return c
}

// NewWebSocketServer wraps an upgraded server-side websocket.
func NewWebSocketServer(ws *websocket.Conn) *WSConn {
	c := newWSConn("ws-server")
	c.ws = ws
	return c
}

// Upgrade upgrades an inbound HTTP request and returns the server-side
// connection. Handlers must be registered before Start.
func Upgrade(w http.ResponseWriter, r *http.Request) (*WSConn, error) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsChunkSize,
		WriteBufferSize: wsChunkSize,
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrade sync connection: %w", err)
	}
	return NewWebSocketServer(ws), nil
}

func newWSConn(name string) *WSConn {
	return &WSConn{
		dispatch: actor.NewMailbox(name, nil),
		handlers: make(map[string]Handler),
		pending:  make(map[uint64]*wsPending),
		incoming: make(map[uint64]*Request),
	}
}

// SetDelegate implements Connection.
func (c *WSConn) SetDelegate(d Delegate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delegate = d
}

// RegisterHandler implements Connection.
func (c *WSConn) RegisterHandler(profile string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[profile] = h
}

// State implements Connection.
func (c *WSConn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start implements Connection. The client side dials; the server side
// begins reading immediately.
func (c *WSConn) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.state = StateConnecting
	c.mu.Unlock()

	go c.connect()
}

func (c *WSConn) connect() {
	if c.ws == nil {
		ws, resp, err := websocket.DefaultDialer.Dial(c.dialURL, c.dialHeader)
		if err != nil {
			status := classifyDialError(err, resp)
			if resp != nil {
				c.dispatch.Enqueue(func() {
					if d := c.getDelegate(); d != nil {
						d.OnHTTPResponse(resp.StatusCode, resp.Header)
					}
				})
			}
			c.finishClose(status, StateDisconnected)
			return
		}
		c.writeMu.Lock()
		c.ws = ws
		c.writeMu.Unlock()

		c.dispatch.Enqueue(func() {
			if d := c.getDelegate(); d != nil {
				d.OnHTTPResponse(resp.StatusCode, resp.Header)
			}
		})
	}

	c.mu.Lock()
	c.state = StateConnected
	c.mu.Unlock()
	c.dispatch.Enqueue(func() {
		if d := c.getDelegate(); d != nil {
			d.OnConnect()
		}
	})

	c.readLoop()
}

func (c *WSConn) getDelegate() Delegate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delegate
}

// Close implements Connection: sends a close frame and lets the read loop
// wind the connection down.
func (c *WSConn) Close() {
	c.mu.Lock()
	if c.state == StateClosing || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosing
	c.wasClosed = true
	ws := c.ws
	c.mu.Unlock()

	if ws == nil {
		c.finishClose(CloseStatus{Reason: ReasonWebSocket, Code: CodeNormal}, StateClosed)
		return
	}
	c.writeMu.Lock()
	deadline := time.Now().Add(5 * time.Second)
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(CodeNormal, "close requested"), deadline)
	c.writeMu.Unlock()
	// The read loop observes the peer's close echo and finishes.
	time.AfterFunc(10*time.Second, func() { _ = ws.Close() })
}

// SendRequest implements Connection.
func (c *WSConn) SendRequest(msg *Message, onProgress func(MessageProgress)) {
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

	props := maps.Clone(msg.Properties)
	if props == nil {
		props = make(map[string]string)
	}
	if msg.Profile != "" {
		props[profileProperty] = msg.Profile
	}
	bytesSent := uint64(len(msg.Body))

	if !msg.NoReply {
		c.mu.Lock()
		c.pending[number] = &wsPending{
			reply:      nil,
			bytesSent:  bytesSent,
			onProgress: onProgress,
		}
		c.mu.Unlock()
	}

	notify(MessageProgress{State: MessageSending, BytesSent: bytesSent})
	if err := c.writeFrames("req", number, props, msg.NoReply, msg.Body); err != nil {
		return
	}
	if msg.NoReply {
		notify(MessageProgress{State: MessageComplete, BytesSent: bytesSent})
	} else {
		notify(MessageProgress{State: MessageAwaitingReply, BytesSent: bytesSent})
	}
}

// writeFrames emits one logical message as chunked websocket frames.
func (c *WSConn) writeFrames(frameType string, number uint64, props map[string]string, noReply bool, body []byte) error {
	first := true
	for first || len(body) > 0 {
		chunk := body
		if len(chunk) > wsChunkSize {
			chunk = chunk[:wsChunkSize]
		}
		body = body[len(chunk):]

		header := wsFrame{Type: frameType, Number: number, NoReply: noReply, Final: len(body) == 0}
		if first {
			header.Properties = props
		}
		first = false

		payload, err := json.Marshal(header)
		if err != nil {
			return err
		}
		payload = append(payload, '\n')
		payload = append(payload, chunk...)

		c.writeMu.Lock()
		ws := c.ws
		if ws == nil {
			c.writeMu.Unlock()
			return errors.New("connection is not open")
		}
		err = ws.WriteMessage(websocket.BinaryMessage, payload)
		c.writeMu.Unlock()
		if err != nil {
			return fmt.Errorf("write frame: %w", err)
		}
	}
	return nil
}

func (c *WSConn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			status, final := c.classifyReadError(err)
			c.finishClose(status, final)
			return
		}

		nl := bytes.IndexByte(data, '\n')
		if nl < 0 {
			continue
		}
		var header wsFrame
		if json.Unmarshal(data[:nl], &header) != nil {
			continue
		}
		body := data[nl+1:]

		switch header.Type {
		case "req":
			c.dispatch.Enqueue(func() { c.handleRequestFrame(header, body) })
		case "rsp":
			c.dispatch.Enqueue(func() { c.handleReplyFrame(header, body) })
		}
	}
}

func (c *WSConn) handleRequestFrame(header wsFrame, body []byte) {
	// Requests small enough to fit one frame are the common case; chunked
	// requests accumulate under their number until the final frame.
	// This runs on the dispatch goroutine only.
	var req *Request
	if existing, ok := c.incoming[header.Number]; ok {
		req = existing
		req.appendBody(body)
	} else {
		in := newIncomingMessage(header.Number, header.Properties)
		in.body = append([]byte(nil), body...)
		req = &Request{IncomingMessage: in, noReply: header.NoReply}
		if !header.NoReply {
			number := header.Number
			req.respond = func(reply *Message) {
				_ = c.writeFrames("rsp", number, reply.Properties, true, reply.Body)
			}
		}
		if !header.Final {
			c.incoming[header.Number] = req
		}
	}
	if !header.Final {
		return
	}
	delete(c.incoming, header.Number)

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

func (c *WSConn) handleReplyFrame(header wsFrame, body []byte) {
	c.mu.Lock()
	p := c.pending[header.Number]
	if p != nil && header.Final {
		delete(c.pending, header.Number)
	}
	c.mu.Unlock()
	if p == nil {
		return
	}

	if p.reply == nil {
		p.reply = newIncomingMessage(header.Number, header.Properties)
	}
	p.reply.appendBody(body)
	p.received += uint64(len(body))

	state := MessageReceivingReply
	if header.Final {
		state = MessageComplete
	}
	if p.onProgress != nil {
		p.onProgress(MessageProgress{
			State:         state,
			BytesSent:     p.bytesSent,
			BytesReceived: p.received,
			Reply:         p.reply,
		})
	}
}

func (c *WSConn) finishClose(status CloseStatus, final State) {
	c.closing.Do(func() {
		c.writeMu.Lock()
		if c.ws != nil {
			_ = c.ws.Close()
		}
		c.writeMu.Unlock()

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

// classifyReadError maps a read-loop error to a close status and final
// state.
func (c *WSConn) classifyReadError(err error) (CloseStatus, State) {
	c.mu.Lock()
	wasClosed := c.wasClosed
	c.mu.Unlock()

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		status := CloseStatus{Reason: ReasonWebSocket, Code: ce.Code, Message: ce.Text}
		if ce.Code == CodeNormal {
			return status, StateClosed
		}
		return status, StateDisconnected
	}
	if wasClosed {
		// We initiated the close; the peer dropped without a close echo.
		return CloseStatus{Reason: ReasonWebSocket, Code: CodeNormal}, StateClosed
	}
	return classifyNetError(err), StateDisconnected
}

func classifyNetError(err error) CloseStatus {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return CloseStatus{Reason: ReasonPOSIX, Code: int(errno), Message: err.Error()}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return CloseStatus{Reason: ReasonNetwork, Code: 1, Message: err.Error()}
	}
	return CloseStatus{Reason: ReasonWebSocket, Code: CodeAbnormal, Message: err.Error()}
}

func classifyDialError(err error, resp *http.Response) CloseStatus {
	if resp != nil && resp.StatusCode >= 300 {
		return CloseStatus{Reason: ReasonWebSocket, Code: CodeAbnormal,
			Message: fmt.Sprintf("handshake rejected with HTTP %d", resp.StatusCode)}
	}
	return classifyNetError(err)
}
