package blip

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/MKhiriev/go-doc-sync/models"
)

// MessageState tracks one request through its lifecycle. Progress
// callbacks observe states in monotonic order.
type MessageState int

const (
	MessageSending MessageState = iota
	MessageAwaitingReply
	MessageReceivingReply
	MessageComplete
)

// Property keys with transport-level meaning.
const (
	profileProperty     = "Profile"
	errorDomainProperty = "Error-Domain"
	errorCodeProperty   = "Error-Code"
)

// Message is an outgoing request or reply: a profile, a flat property set,
// and an opaque body.
type Message struct {
	Profile    string
	Properties map[string]string
	Body       []byte
	NoReply    bool
}

// NewMessage builds an outgoing request for the given profile.
func NewMessage(profile string) *Message {
	return &Message{Profile: profile, Properties: make(map[string]string)}
}

func (m *Message) SetProperty(name, value string) *Message {
	if m.Properties == nil {
		m.Properties = make(map[string]string)
	}
	m.Properties[name] = value
	return m
}

// SetJSONBody marshals v into the message body.
func (m *Message) SetJSONBody(v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message body: %w", err)
	}
	m.Body = body
	return nil
}

// MessageProgress is delivered to the sender as its request advances.
// Reply is non-nil from MessageReceivingReply on; its body accumulates
// across callbacks until extracted.
type MessageProgress struct {
	State         MessageState
	BytesSent     uint64
	BytesReceived uint64
	Reply         *IncomingMessage
}

// IncomingMessage is a reply or request received from the peer. Reply
// bodies may arrive in chunks; ExtractBody drains what has arrived so far,
// while Body waits for nothing and returns the unconsumed remainder.
type IncomingMessage struct {
	mu         sync.Mutex
	number     uint64
	properties map[string]string
	body       []byte
}

func newIncomingMessage(number uint64, properties map[string]string) *IncomingMessage {
	if properties == nil {
		properties = make(map[string]string)
	}
	return &IncomingMessage{number: number, properties: properties}
}

// Number is the transport-assigned message number.
func (m *IncomingMessage) Number() uint64 { return m.number }

// Property returns a message property, or "" when absent.
func (m *IncomingMessage) Property(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.properties[name]
}

// Profile returns the message's profile property.
func (m *IncomingMessage) Profile() string { return m.Property(profileProperty) }

// Body returns the unconsumed body bytes without draining them.
func (m *IncomingMessage) Body() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.body
}

// ExtractBody drains and returns the body bytes received so far. Blob
// receivers call it on every progress callback to stream chunks.
func (m *IncomingMessage) ExtractBody() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	body := m.body
	m.body = nil
	return body
}

// JSONBody unmarshals the unconsumed body into target.
func (m *IncomingMessage) JSONBody(target any) error {
	body := m.Body()
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("decode message body: %w", err)
	}
	return nil
}

// IsError reports whether the message is an error reply.
func (m *IncomingMessage) IsError() bool {
	return m.Property(errorDomainProperty) != ""
}

// Err decodes the (domain, code, message) error carried by an error reply,
// or nil for a normal message.
func (m *IncomingMessage) Err() *models.Error {
	domain := m.Property(errorDomainProperty)
	if domain == "" {
		return nil
	}
	code, _ := strconv.Atoi(m.Property(errorCodeProperty))
	return models.NewError(domain, code, string(m.Body()))
}

func (m *IncomingMessage) appendBody(chunk []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.body = append(m.body, chunk...)
}

// Request is an incoming request that must be answered. Respond and
// RespondError may each be called at most once, from any goroutine.
type Request struct {
	*IncomingMessage

	noReply   bool
	mu        sync.Mutex
	responded bool
	respond   func(*Message)
}

// NoReply reports whether the sender declined a response.
func (r *Request) NoReply() bool { return r.noReply }

// Respond sends a reply back to the requester.
func (r *Request) Respond(msg *Message) {
	r.mu.Lock()
	if r.responded || r.respond == nil {
		r.mu.Unlock()
		return
	}
	r.responded = true
	respond := r.respond
	r.mu.Unlock()
	respond(msg)
}

// RespondError sends an error reply carrying a (domain, code, message)
// triple.
func (r *Request) RespondError(domain string, code int, message string) {
	reply := NewMessage("")
	reply.SetProperty(errorDomainProperty, domain)
	reply.SetProperty(errorCodeProperty, strconv.Itoa(code))
	reply.Body = []byte(message)
	r.Respond(reply)
}

// NotHandled rejects a request whose profile has no registered handler.
func (r *Request) NotHandled() {
	r.RespondError(models.DomainHTTP, 404, "no handler for profile "+r.Profile())
}
