// Package chatclient is the visitor-side client of the relay. It speaks
// the websocket envelope protocol, keeps an append-only local message
// log and handles bounded reconnection, mirroring what the embedded
// site widget does in a browser.
package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Wire protocol, kept in sync with the server's envelope vocabulary.
const (
	eventRegister  = "register"
	eventVisitorID = "visitor_id"
	eventSystem    = "system"
	eventUserInfo  = "user_info"
	eventChat      = "chat_message"
)

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func encode(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return json.Marshal(envelope{Type: event, Payload: raw})
}

// UserInfo is the optional contact form. All fields are free text.
type UserInfo struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// IsEmpty reports whether no field is set.
func (u UserInfo) IsEmpty() bool {
	return u.Name == "" && u.Email == "" && u.Phone == ""
}

// State is the connection state surfaced to the user as plain status
// text, never as raw errors.
type State string

const (
	StateClosed       State = "closed"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

// EntryKind classifies local log entries.
type EntryKind string

const (
	EntrySystem   EntryKind = "system"
	EntrySent     EntryKind = "sent"
	EntryReceived EntryKind = "received"
)

// Entry is one line of the local message log. The log is append-only:
// no editing, no de-duplication.
type Entry struct {
	Kind EntryKind
	Text string
	At   time.Time
}

var (
	// ErrAwaitingUserInfo is returned by Send while the contact form
	// gate is up. Submit or skip the form first.
	ErrAwaitingUserInfo = errors.New("awaiting user info decision")

	// ErrNotConnected is returned by Send outside the connected state.
	ErrNotConnected = errors.New("not connected")
)

// Config holds client settings. Zero values get sensible defaults.
type Config struct {
	URL string // websocket endpoint, e.g. ws://host:8080/ws

	DialTimeout time.Duration // per-attempt bound, default 5s
	MaxRetries  int           // reconnection attempts, default 3
	Backoff     time.Duration // fixed delay between attempts, default 2s

	// OnEntry, when set, is called for every appended log entry.
	OnEntry func(Entry)
}

// Client is a visitor connection to the relay.
type Client struct {
	cfg Config

	mu           sync.Mutex
	state        State
	ws           *websocket.Conn
	visitorID    string
	awaitingInfo bool
	entries      []Entry
	closed       bool

	done chan struct{}
}

// New creates a client in the closed state.
func New(cfg Config) *Client {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}
	return &Client{
		cfg:   cfg,
		state: StateClosed,
		done:  make(chan struct{}),
	}
}

// Connect dials the relay, registers as visitor and starts the read
// loop. The contact form gate is up after connecting: Send returns
// ErrAwaitingUserInfo until SubmitUserInfo or SkipUserInfo is called.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateConnecting, "connecting")

	ws, err := c.dial(ctx)
	if err != nil {
		c.setState(StateError, "connection error")
		return err
	}

	c.mu.Lock()
	c.ws = ws
	c.state = StateConnected
	c.awaitingInfo = true
	c.mu.Unlock()
	c.append(Entry{Kind: EntrySystem, Text: "connected", At: time.Now()})

	if err := c.register(); err != nil {
		_ = ws.Close()
		c.setState(StateError, "connection error")
		return err
	}

	go c.readLoop(ws)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	return ws, nil
}

func (c *Client) register() error {
	return c.write(eventRegister, "visitor")
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// VisitorID returns the server-assigned visitor id, empty until the
// server confirms registration. Ids are per-connection: a reconnect
// yields a fresh one.
func (c *Client) VisitorID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visitorID
}

// AwaitingUserInfo reports whether the contact form gate is up.
func (c *Client) AwaitingUserInfo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.awaitingInfo
}

// Entries returns a snapshot of the local message log.
func (c *Client) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Send transmits a chat message and echoes it into the local log. The
// server never echoes messages back to their sender.
func (c *Client) Send(text string) error {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if c.awaitingInfo {
		c.mu.Unlock()
		return ErrAwaitingUserInfo
	}
	c.mu.Unlock()

	if err := c.write(eventChat, text); err != nil {
		return err
	}
	c.append(Entry{Kind: EntrySent, Text: text, At: time.Now()})
	return nil
}

// SubmitUserInfo transmits the contact form and lowers the gate.
func (c *Client) SubmitUserInfo(info UserInfo) error {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.mu.Unlock()

	if err := c.write(eventUserInfo, info); err != nil {
		return err
	}
	c.mu.Lock()
	c.awaitingInfo = false
	c.mu.Unlock()
	return nil
}

// SkipUserInfo lowers the gate without sending anything.
func (c *Client) SkipUserInfo() {
	c.mu.Lock()
	c.awaitingInfo = false
	c.mu.Unlock()
}

// Close tears the connection down. The local log stays readable.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = StateClosed
	ws := c.ws
	c.mu.Unlock()

	close(c.done)
	if ws != nil {
		return ws.Close()
	}
	return nil
}

// write marshals and sends one envelope. Writes are serialized by the
// mutex; the read loop never writes.
func (c *Client) write(event string, payload any) error {
	data, err := encode(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return ErrNotConnected
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// readLoop consumes server frames until the connection drops, then
// hands off to the reconnect path.
func (c *Client) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.handleDrop()
			return
		}
		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}

	switch env.Type {
	case eventVisitorID:
		var id string
		if json.Unmarshal(env.Payload, &id) == nil {
			c.mu.Lock()
			c.visitorID = id
			c.mu.Unlock()
		}
	case eventSystem:
		var text string
		if json.Unmarshal(env.Payload, &text) == nil {
			c.append(Entry{Kind: EntrySystem, Text: text, At: time.Now()})
		}
	case eventChat:
		var text string
		if json.Unmarshal(env.Payload, &text) == nil {
			c.append(Entry{Kind: EntryReceived, Text: text, At: time.Now()})
		}
	}
}

// handleDrop runs the bounded reconnect loop: fixed backoff, fresh
// registration on success (the server assigns a new visitor id), error
// state once attempts are exhausted.
func (c *Client) handleDrop() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.ws = nil
	c.mu.Unlock()
	c.append(Entry{Kind: EntrySystem, Text: "disconnected", At: time.Now()})

	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		select {
		case <-c.done:
			return
		case <-time.After(c.cfg.Backoff):
		}

		ws, err := c.dial(context.Background())
		if err != nil {
			c.append(Entry{Kind: EntrySystem, Text: "connect error", At: time.Now()})
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = ws.Close()
			return
		}
		c.ws = ws
		c.state = StateConnected
		c.mu.Unlock()
		c.append(Entry{Kind: EntrySystem, Text: "reconnected", At: time.Now()})

		if err := c.register(); err != nil {
			_ = ws.Close()
			c.mu.Lock()
			c.ws = nil
			c.state = StateDisconnected
			c.mu.Unlock()
			continue
		}
		go c.readLoop(ws)
		return
	}

	c.setState(StateError, "connection error")
}

func (c *Client) setState(s State, note string) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.append(Entry{Kind: EntrySystem, Text: note, At: time.Now()})
}

func (c *Client) append(e Entry) {
	c.mu.Lock()
	c.entries = append(c.entries, e)
	onEntry := c.cfg.OnEntry
	c.mu.Unlock()
	if onEntry != nil {
		onEntry(e)
	}
}
