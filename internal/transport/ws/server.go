package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"statecraft.ai/internal/hub"
	"statecraft.ai/internal/protocol"
	"statecraft.ai/internal/vars"
)

// Server exposes the hub over websocket: HELLO/WELCOME handshake, then
// PULL/PUSH/PING request-response plus the event stream for the client's
// selector.
type Server struct {
	hub *hub.Hub
	log *log.Logger

	nextClient atomic.Uint64
	upgrader   websocket.Upgrader
}

func NewServer(h *hub.Hub, logger *log.Logger) *Server {
	s := &Server{
		hub: h,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sel, out, ok := s.handshake(r.Context(), conn)
		if !ok {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		events, off, err := s.hub.Subscribe(ctx, sel, 64)
		if err != nil {
			return
		}
		defer off()

		// Event pump: marshal hub events into the shared outbound feed.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-events:
					b, err := json.Marshal(ev)
					if err != nil {
						continue
					}
					select {
					case out <- b:
					case <-ctx.Done():
						return
					}
				}
			}
		}()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			switch base.Type {
			case protocol.TypePull:
				s.handlePull(ctx, msg, out)
			case protocol.TypePush:
				s.handlePush(ctx, msg, out)
			case protocol.TypePing:
				var ping protocol.PingMsg
				if json.Unmarshal(msg, &ping) != nil {
					continue
				}
				send(ctx, out, protocol.PongMsg{
					Type: protocol.TypePong, ProtocolVersion: protocol.Version, ID: ping.ID,
				})
			}
		}
	}
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (protocol.Selector, chan []byte, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return protocol.Selector{}, nil, false
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return protocol.Selector{}, nil, false
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return protocol.Selector{}, nil, false
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "protocol version mismatch"), time.Now().Add(time.Second))
		return protocol.Selector{}, nil, false
	}
	sel := hello.Selector
	if sel.Session == "" || sel.Namespace == "" {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad selector"), time.Now().Add(time.Second))
		return protocol.Selector{}, nil, false
	}

	_, rev, err := s.hub.Pull(ctx, sel)
	if err != nil {
		return protocol.Selector{}, nil, false
	}
	clientID := "C" + strconv.FormatUint(s.nextClient.Add(1), 10)
	welcome := protocol.WelcomeMsg{
		Type: protocol.TypeWelcome, ProtocolVersion: protocol.Version,
		ClientID: clientID, Selector: sel, Revision: rev,
	}
	if err := conn.WriteJSON(welcome); err != nil {
		return protocol.Selector{}, nil, false
	}
	s.log.Printf("client %s joined %s", clientID, sel.Key())
	return sel, make(chan []byte, 64), true
}

func (s *Server) handlePull(ctx context.Context, msg []byte, out chan []byte) {
	var pull protocol.PullMsg
	if json.Unmarshal(msg, &pull) != nil {
		return
	}
	tree, rev, err := s.hub.Pull(ctx, pull.Selector)
	if err != nil {
		return
	}
	raw, err := tree.MarshalJSON()
	if err != nil {
		return
	}
	send(ctx, out, protocol.StateMsg{
		Type: protocol.TypeState, ProtocolVersion: protocol.Version,
		ID: pull.ID, Selector: pull.Selector, Revision: rev, Tree: raw,
	})
}

func (s *Server) handlePush(ctx context.Context, msg []byte, out chan []byte) {
	var push protocol.PushMsg
	if json.Unmarshal(msg, &push) != nil {
		return
	}
	ack := protocol.AckMsg{
		Type: protocol.TypeAck, ProtocolVersion: protocol.Version, AckFor: push.ID,
	}
	tree, err := vars.FromJSON(push.Tree)
	if err != nil {
		ack.Code = protocol.ErrBadTree
		ack.Message = err.Error()
		send(ctx, out, ack)
		return
	}
	rev, err := s.hub.Push(ctx, push.Selector, tree)
	if err != nil {
		var ce *hub.CodeError
		if errors.As(err, &ce) {
			ack.Code = ce.Code
			ack.Message = ce.Message
		} else {
			ack.Code = protocol.ErrInternal
			ack.Message = err.Error()
		}
		send(ctx, out, ack)
		return
	}
	ack.Accepted = true
	ack.Revision = rev
	send(ctx, out, ack)
}

func send(ctx context.Context, out chan []byte, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case out <- b:
	case <-ctx.Done():
	}
}
