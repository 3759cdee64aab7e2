package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"tickbridge.ai/internal/protocol"
	"tickbridge.ai/internal/sim/hub"
)

const readTimeout = 60 * time.Second

type Server struct {
	hub *hub.Hub
	log zerolog.Logger

	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
}

func NewServer(h *hub.Hub, logger zerolog.Logger) *Server {
	s := &Server{
		hub: h,
		log: logger.With().Str("component", "ws").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		conns: map[*websocket.Conn]struct{}{},
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
		if !s.track(conn) {
			return
		}
		defer s.untrack(conn)

		entityID, out := s.handshake(conn)
		if entityID == 0 {
			return
		}
		log := s.log.With().Int64("entity_id", entityID).Logger()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						log.Debug().Err(err).Msg("write failed")
						cancel()
						return
					}
				}
			}
		}()

		// Pings from idle lockstep clients keep the connection alive.
		conn.SetPingHandler(func(data string) error {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		})

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeAct {
				continue
			}
			var act protocol.ActMsg
			if err := json.Unmarshal(msg, &act); err != nil {
				log.Debug().Err(err).Msg("bad ACT")
				continue
			}
			if !protocol.IsSupportedVersion(act.ProtocolVersion) {
				continue
			}
			select {
			case s.hub.Inbox() <- hub.ActionEnvelope{EntityID: entityID, Act: act}:
			case <-ctx.Done():
			case <-s.hub.Done():
			}
		}

		s.leave(entityID)
	}
}

func (s *Server) leave(entityID int64) {
	select {
	case s.hub.Leave() <- entityID:
	case <-s.hub.Done():
	}
}

func (s *Server) handshake(conn *websocket.Conn) (entityID int64, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return 0, nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closePolicy(conn, "expected HELLO")
		return 0, nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		closePolicy(conn, "malformed HELLO")
		return 0, nil
	}
	if !protocol.IsSupportedVersion(hello.ProtocolVersion) {
		closePolicy(conn, "bad protocol_version")
		return 0, nil
	}
	name := strings.TrimSpace(hello.AgentName)
	if name == "" {
		name = "agent"
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = 8
	}
	if maxQ > 64 {
		maxQ = 64
	}
	out = make(chan []byte, maxQ)

	token := ""
	if hello.Auth != nil {
		token = strings.TrimSpace(hello.Auth.Token)
	}

	respCh := make(chan hub.JoinResponse, 1)
	select {
	case s.hub.Join() <- hub.JoinRequest{Name: name, Token: token, Out: out, Resp: respCh}:
	case <-s.hub.Done():
		return 0, nil
	}
	var resp hub.JoinResponse
	select {
	case resp = <-respCh:
	case <-s.hub.Done():
		return 0, nil
	}

	if resp.Err != nil {
		s.log.Info().Str("name", name).Str("code", resp.Err.Code).Msg("join rejected")
		_ = writeJSON(conn, resp.Err)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, resp.Err.Code), time.Now().Add(time.Second))
		return 0, nil
	}
	if err := writeJSON(conn, resp.Welcome); err != nil {
		s.leave(resp.Welcome.EntityID)
		return 0, nil
	}
	return resp.Welcome.EntityID, out
}

func closePolicy(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Server) track(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// Close drops every live connection. Hijacked websocket connections are not
// closed by http.Server.Shutdown, so callers shutting down must call this too.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(time.Second))
		_ = c.Close()
	}
}

// Clients is the number of live websocket connections.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
