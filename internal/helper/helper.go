// Package helper maintains the line-delimited JSON channel to the companion
// process that observes and drives typing indicators.
//
// The channel accepts at most one connection at a time on a fixed local
// endpoint. Inbound typing events are re-emitted through the dispatcher;
// outbound start/stop commands are best-effort and are dropped with a logged
// failure when no companion is connected. Connection loss clears the handle
// and no reconnect is attempted here; the companion process redials.
package helper

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/BTreeMap/MessagePipe/internal/models"
)

// Constants for the helper channel configuration
const (
	// DefaultListenAddr is the fixed local endpoint the companion dials.
	DefaultListenAddr = "127.0.0.1:45677"
	// MaxLineBytes bounds a single JSON line from the companion.
	MaxLineBytes = 1 << 20
)

// Helper channel event names
const (
	eventStartTyping   = "start-typing"
	eventStopTyping    = "stop-typing"
	eventStartedTyping = "started-typing"
	eventStoppedTyping = "stopped-typing"
)

// Sink receives typing-indicator events. The dispatcher satisfies it.
type Sink interface {
	Dispatch(event models.ChangeEvent)
}

// wireEvent is one line of the helper protocol: a JSON object with an event
// name and a string-or-object payload, newline terminated.
type wireEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Channel is the bidirectional helper connection endpoint.
type Channel struct {
	addr string
	sink Sink

	mu   sync.Mutex
	ln   net.Listener
	conn net.Conn

	done chan struct{}
	wg   sync.WaitGroup
}

// Opts holds configuration options for the helper channel.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the helper channel.
type Option func(*Opts)

// WithAddr overrides the local listen endpoint.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// NewChannel creates a helper channel emitting inbound events to sink.
func NewChannel(sink Sink, opts ...Option) *Channel {
	cfg := Opts{Addr: DefaultListenAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Channel{
		addr: cfg.Addr,
		sink: sink,
		done: make(chan struct{}),
	}
}

// Start begins accepting companion connections.
func (c *Channel) Start() error {
	ln, err := net.Listen("tcp", c.addr)
	if err != nil {
		return fmt.Errorf("helper channel listen failed: %w", err)
	}
	c.mu.Lock()
	c.ln = ln
	c.mu.Unlock()

	c.wg.Add(1)
	go c.acceptLoop(ln)
	slog.Info("Helper channel listening", "addr", c.addr)
	return nil
}

// Stop closes the listener and any active connection.
func (c *Channel) Stop() {
	close(c.done)
	c.mu.Lock()
	if c.ln != nil {
		c.ln.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()
	c.wg.Wait()
	slog.Info("Helper channel stopped")
}

// Connected reports whether a companion is currently attached.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Addr returns the bound endpoint, useful when the configured address used
// port 0.
func (c *Channel) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ln == nil {
		return c.addr
	}
	return c.ln.Addr().String()
}

// StartTyping asks the companion to show a typing indicator in the chat.
// Best-effort: dropped with a logged failure when no companion is connected.
func (c *Channel) StartTyping(chatID string) error {
	return c.sendCommand(eventStartTyping, chatID)
}

// StopTyping asks the companion to clear the typing indicator in the chat.
func (c *Channel) StopTyping(chatID string) error {
	return c.sendCommand(eventStopTyping, chatID)
}

func (c *Channel) sendCommand(event, chatID string) error {
	if chatID == "" {
		return models.ErrEmptyChatID
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		slog.Warn("Helper command dropped, no companion connected", "event", event, "chat_id", chatID)
		return models.ErrHelperUnavailable
	}

	data, err := json.Marshal(chatID)
	if err != nil {
		return fmt.Errorf("helper command encode failed: %w", err)
	}
	line, err := json.Marshal(wireEvent{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("helper command encode failed: %w", err)
	}
	line = append(line, '\n')
	if _, err := conn.Write(line); err != nil {
		slog.Warn("Helper command write failed, clearing connection", "event", event, "error", err)
		c.clearConn(conn)
		return models.ErrHelperUnavailable
	}
	slog.Debug("Helper command sent", "event", event, "chat_id", chatID)
	return nil
}

func (c *Channel) acceptLoop(ln net.Listener) {
	defer c.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
				slog.Warn("Helper channel accept failed", "error", err)
				return
			}
		}

		c.mu.Lock()
		if c.conn != nil {
			c.mu.Unlock()
			slog.Warn("Rejecting second helper connection", "remote", conn.RemoteAddr(), "error", models.ErrHelperBusy)
			conn.Close()
			continue
		}
		c.conn = conn
		c.mu.Unlock()

		slog.Info("Helper companion connected", "remote", conn.RemoteAddr())
		c.wg.Add(1)
		go c.readLoop(conn)
	}
}

// readLoop decodes inbound line-delimited JSON events until the connection
// drops, then clears the handle so the companion can redial.
func (c *Channel) readLoop(conn net.Conn) {
	defer c.wg.Done()
	defer c.clearConn(conn)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), MaxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var evt wireEvent
		if err := json.Unmarshal(line, &evt); err != nil {
			slog.Warn("Helper channel received malformed line", "error", err)
			continue
		}
		c.handleEvent(evt)
	}
	if err := scanner.Err(); err != nil {
		slog.Debug("Helper connection read ended", "error", err)
	}
	slog.Info("Helper companion disconnected")
}

func (c *Channel) handleEvent(evt wireEvent) {
	switch evt.Event {
	case eventStartedTyping, eventStoppedTyping:
		var chatID string
		if err := json.Unmarshal(evt.Data, &chatID); err != nil || chatID == "" {
			slog.Warn("Helper typing event missing chat identity", "event", evt.Event)
			return
		}
		c.sink.Dispatch(models.ChangeEvent{
			Kind:   models.EventTypingIndicator,
			ChatID: chatID,
			Typing: evt.Event == eventStartedTyping,
		})
	default:
		slog.Debug("Helper channel ignoring event", "event", evt.Event)
	}
}

func (c *Channel) clearConn(conn net.Conn) {
	conn.Close()
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
}
