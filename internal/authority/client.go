package authority

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"statecraft.ai/internal/protocol"
	"statecraft.ai/internal/vars"
)

// Client talks to a remote authority over websocket. Pull/Push/Probe are
// request/response correlated by id; EVENT messages flow out of Events().
type Client struct {
	conn *websocket.Conn
	log  *log.Logger
	sel  protocol.Selector

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan []byte

	nextID atomic.Uint64
	events chan protocol.EventMsg
	closed chan struct{}
}

// Dial connects, performs the HELLO/WELCOME handshake, and starts the read
// loop.
func Dial(ctx context.Context, url, clientName string, sel protocol.Selector, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.Default()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      clientName,
		Selector:        sel,
	}
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send HELLO: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read WELCOME: %w", err)
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeWelcome {
		_ = conn.Close()
		return nil, errors.New("expected WELCOME")
	}
	_ = conn.SetReadDeadline(time.Time{})

	c := &Client{
		conn:    conn,
		log:     logger,
		sel:     sel,
		pending: map[string]chan []byte{},
		events:  make(chan protocol.EventMsg, 64),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Events() <-chan protocol.EventMsg { return c.events }

func (c *Client) readLoop() {
	defer close(c.closed)
	defer close(c.events)
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.failPending()
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeState:
			var m protocol.StateMsg
			if json.Unmarshal(msg, &m) == nil {
				c.resolve(m.ID, msg)
			}
		case protocol.TypeAck:
			var m protocol.AckMsg
			if json.Unmarshal(msg, &m) == nil {
				c.resolve(m.AckFor, msg)
			}
		case protocol.TypePong:
			var m protocol.PongMsg
			if json.Unmarshal(msg, &m) == nil {
				c.resolve(m.ID, msg)
			}
		case protocol.TypeEvent:
			var m protocol.EventMsg
			if json.Unmarshal(msg, &m) != nil {
				continue
			}
			select {
			case c.events <- m:
			default:
				c.log.Printf("event buffer full, dropped %s", m.Event)
			}
		}
	}
}

func (c *Client) register(id string) chan []byte {
	ch := make(chan []byte, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	return ch
}

func (c *Client) resolve(id string, msg []byte) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok {
		ch <- msg
	}
}

func (c *Client) failPending() {
	c.mu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

func (c *Client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(v)
}

func (c *Client) roundTrip(ctx context.Context, id string, req any) ([]byte, error) {
	ch := c.register(id)
	if err := c.writeJSON(req); err != nil {
		c.resolve(id, nil)
		return nil, err
	}
	select {
	case msg, ok := <-ch:
		if !ok || msg == nil {
			return nil, errors.New("connection closed")
		}
		return msg, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case <-c.closed:
		return nil, errors.New("connection closed")
	}
}

func (c *Client) id(prefix string) string {
	return prefix + strconv.FormatUint(c.nextID.Add(1), 10)
}

func (c *Client) Pull(ctx context.Context, sel protocol.Selector) (*vars.Value, uint64, error) {
	id := c.id("q")
	msg, err := c.roundTrip(ctx, id, protocol.PullMsg{
		Type: protocol.TypePull, ProtocolVersion: protocol.Version, ID: id, Selector: sel,
	})
	if err != nil {
		return nil, 0, err
	}
	var m protocol.StateMsg
	if err := json.Unmarshal(msg, &m); err != nil {
		return nil, 0, err
	}
	tree, err := vars.FromJSON(m.Tree)
	if err != nil {
		return nil, 0, fmt.Errorf("bad tree in STATE: %w", err)
	}
	return tree, m.Revision, nil
}

func (c *Client) Push(ctx context.Context, sel protocol.Selector, tree *vars.Value) (uint64, error) {
	raw, err := tree.MarshalJSON()
	if err != nil {
		return 0, err
	}
	id := c.id("p")
	msg, err := c.roundTrip(ctx, id, protocol.PushMsg{
		Type: protocol.TypePush, ProtocolVersion: protocol.Version, ID: id,
		Selector: sel, Tree: raw,
	})
	if err != nil {
		return 0, err
	}
	var ack protocol.AckMsg
	if err := json.Unmarshal(msg, &ack); err != nil {
		return 0, err
	}
	if !ack.Accepted {
		return 0, fmt.Errorf("push rejected: %s %s", ack.Code, ack.Message)
	}
	return ack.Revision, nil
}

func (c *Client) Probe(ctx context.Context) error {
	id := c.id("l")
	_, err := c.roundTrip(ctx, id, protocol.PingMsg{
		Type: protocol.TypePing, ProtocolVersion: protocol.Version, ID: id,
	})
	return err
}
