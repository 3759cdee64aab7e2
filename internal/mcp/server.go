package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tickbridge.ai/internal/bridge"
)

const protocolVersion = "2024-11-05"

// Bridge is the session surface the tool server drives. *bridge.Manager
// implements it.
type Bridge interface {
	Connect(ctx context.Context, host string, port int, name string) (*bridge.Session, error)
	ConnectSwarm(ctx context.Context, host string, port int, names []string) *bridge.Swarm
	Session(handle string) (*bridge.Session, bool)
	Sessions() []bridge.SessionRecord
	Disconnect(handle string)
}

type Config struct {
	Bridge          Bridge
	HMACSecret      string
	AllowLegacyHMAC bool
	Logger          zerolog.Logger
}

type Server struct {
	bridge      Bridge
	log         zerolog.Logger
	hmacSecret  []byte
	allowLegacy bool
	replay      *replayGuard
	now         func() time.Time

	tools     map[string]*toolDef
	toolOrder []*toolDef
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Bridge == nil {
		return nil, fmt.Errorf("nil bridge")
	}
	byName, order, err := compileTools()
	if err != nil {
		return nil, err
	}
	s := &Server{
		bridge:      cfg.Bridge,
		log:         cfg.Logger.With().Str("component", "mcp").Logger(),
		allowLegacy: cfg.AllowLegacyHMAC,
		now:         time.Now,
		tools:       byName,
		toolOrder:   order,
	}
	if strings.TrimSpace(cfg.HMACSecret) != "" {
		s.hmacSecret = []byte(cfg.HMACSecret)
		s.replay = newReplayGuard(2 * signatureWindow)
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/mcp", s.handleMCP)
	return mux
}

func (s *Server) handleMCP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		_, _ = rw.Write([]byte("bad body"))
		return
	}
	_ = r.Body.Close()

	sessionKey := strings.TrimSpace(r.Header.Get(headerAgentID))
	if len(s.hmacSecret) > 0 {
		vr := verifyHMAC(r, body, s.hmacSecret, s.allowLegacy, s.now())
		if vr.HTTPStatus != 0 {
			s.log.Warn().Str("remote", r.RemoteAddr).Str("reason", vr.Message).Msg("rejected request")
			rw.WriteHeader(vr.HTTPStatus)
			_, _ = rw.Write([]byte(vr.Message))
			return
		}
		if !s.replay.allow(vr.SessionKey, vr.Signature, s.now()) {
			rw.WriteHeader(http.StatusUnauthorized)
			_, _ = rw.Write([]byte("replayed request"))
			return
		}
		sessionKey = vr.SessionKey
	} else if err := requireLoopback(r); err != nil {
		rw.WriteHeader(http.StatusForbidden)
		_, _ = rw.Write([]byte(err.Error()))
		return
	}
	if sessionKey == "" {
		sessionKey = "default"
	}

	var resp rpcResponse
	req, err := parseRPCRequest(body)
	if err != nil {
		resp = rpcErr(nil, codeParse, "bad jsonrpc request", err.Error())
	} else {
		resp = s.dispatch(r.Context(), sessionKey, req)
	}
	rw.Header().Set("content-type", "application/json")
	_ = json.NewEncoder(rw).Encode(resp)
}

func (s *Server) dispatch(ctx context.Context, sessionKey string, req rpcRequest) rpcResponse {
	switch req.Method {
	case "initialize":
		return rpcOK(req.ID, map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]any{
				"tools": map[string]any{"listChanged": false},
			},
			"serverInfo": map[string]any{"name": "tickbridge"},
		})

	case "list_tools", "tools/list":
		return rpcOK(req.ID, map[string]any{"tools": s.toolsList()})

	case "call_tool", "tools/call":
		var p struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if len(req.Params) == 0 {
			return rpcErr(req.ID, codeInvalidParams, "missing params", nil)
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return rpcErr(req.ID, codeInvalidParams, "bad params", err.Error())
		}
		if p.Name == "" {
			return rpcErr(req.ID, codeInvalidParams, "missing tool name", nil)
		}
		def, ok := s.tools[p.Name]
		if !ok {
			return rpcErr(req.ID, codeMethodNotFound, "tool not found", map[string]any{"name": p.Name})
		}
		start := time.Now()
		out, err := s.callTool(ctx, def, p.Arguments)
		level := zerolog.DebugLevel
		if err != nil {
			level = zerolog.InfoLevel
		}
		s.log.WithLevel(level).Err(err).Str("agent", sessionKey).Str("tool", p.Name).Dur("took", time.Since(start)).Msg("call_tool")
		if err != nil {
			return toolError(req.ID, err)
		}
		return rpcOK(req.ID, out)

	default:
		return rpcErr(req.ID, codeMethodNotFound, "method not found", nil)
	}
}

// argError marks a failure in the caller's arguments rather than the bridge.
type argError struct{ err error }

func (e argError) Error() string { return e.err.Error() }
func (e argError) Unwrap() error { return e.err }

func badArgs(err error) error { return argError{err: err} }

func toolError(id json.RawMessage, err error) rpcResponse {
	var ae argError
	if errors.As(err, &ae) {
		return rpcErr(id, codeInvalidParams, ae.Error(), nil)
	}
	data := map[string]any{}
	var be *bridge.Error
	if errors.As(err, &be) {
		data["kind"] = string(be.Kind)
		if be.Session != "" {
			data["handle"] = be.Session
		}
	}
	return rpcErr(id, codeBridge, err.Error(), data)
}

func (s *Server) toolsList() []map[string]any {
	out := make([]map[string]any, 0, len(s.toolOrder))
	for _, d := range s.toolOrder {
		out = append(out, map[string]any{
			"name":        d.Name,
			"description": d.Description,
			"inputSchema": d.schema,
		})
	}
	return out
}

func (s *Server) session(handle string) (*bridge.Session, error) {
	sess, ok := s.bridge.Session(handle)
	if !ok {
		return nil, badArgs(fmt.Errorf("unknown handle %q", handle))
	}
	return sess, nil
}

func (s *Server) callTool(ctx context.Context, def *toolDef, raw json.RawMessage) (any, error) {
	switch strings.TrimPrefix(def.Name, toolPrefix) {
	case "connect":
		var a ConnectArgs
		if err := def.decode(raw, &a); err != nil {
			return nil, badArgs(err)
		}
		sess, err := s.bridge.Connect(ctx, a.Host, a.Port, a.Name)
		if err != nil {
			return nil, err
		}
		st, err := sess.GetState()
		if err != nil {
			return nil, err
		}
		return map[string]any{"handle": sess.Handle(), "state": stateView(st)}, nil

	case "connect_swarm":
		var a ConnectSwarmArgs
		if err := def.decode(raw, &a); err != nil {
			return nil, badArgs(err)
		}
		sw := s.bridge.ConnectSwarm(ctx, a.Host, a.Port, a.Names)
		type result struct {
			Name   string `json:"name"`
			Handle string `json:"handle,omitempty"`
			Error  string `json:"error,omitempty"`
			Kind   string `json:"kind,omitempty"`
		}
		results := make([]result, 0, len(a.Names))
		for _, m := range sw.Members() {
			r := result{Name: m.Name, Handle: m.Handle()}
			if m.Err != nil {
				r.Error = m.Err.Error()
				r.Kind = string(bridge.KindOf(m.Err))
			}
			results = append(results, r)
		}
		return map[string]any{"results": results}, nil

	case "get_state":
		var a HandleArgs
		if err := def.decode(raw, &a); err != nil {
			return nil, badArgs(err)
		}
		sess, err := s.session(a.Handle)
		if err != nil {
			return nil, err
		}
		st, err := sess.GetState()
		if err != nil {
			return nil, err
		}
		return stateView(st), nil

	case "act":
		var a ActArgs
		if err := def.decode(raw, &a); err != nil {
			return nil, badArgs(err)
		}
		sess, err := s.session(a.Handle)
		if err != nil {
			return nil, err
		}
		if err := enqueueAll(sess, a.Actions); err != nil {
			return nil, err
		}
		return map[string]any{"queued": len(a.Actions), "pending": sess.Pending()}, nil

	case "tick":
		var a TickArgs
		if err := def.decode(raw, &a); err != nil {
			return nil, badArgs(err)
		}
		sess, err := s.session(a.Handle)
		if err != nil {
			return nil, err
		}
		if err := enqueueAll(sess, a.Actions); err != nil {
			return nil, err
		}
		if a.TimeoutMS > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(a.TimeoutMS)*time.Millisecond)
			defer cancel()
		}
		st, err := sess.Tick(ctx)
		if err != nil {
			return nil, err
		}
		return stateView(st), nil

	case "nearest_entity":
		var a NearestEntityArgs
		if err := def.decode(raw, &a); err != nil {
			return nil, badArgs(err)
		}
		st, err := s.state(a.Handle)
		if err != nil {
			return nil, err
		}
		e, ok := st.NearestEntity(a.Type, a.MaxDistance)
		if !ok {
			return map[string]any{"entity": nil}, nil
		}
		return map[string]any{"entity": entityView(e)}, nil

	case "nearby_players":
		var a NearbyPlayersArgs
		if err := def.decode(raw, &a); err != nil {
			return nil, badArgs(err)
		}
		st, err := s.state(a.Handle)
		if err != nil {
			return nil, err
		}
		players := st.NearbyPlayers(a.MaxDistance)
		views := make([]EntityView, 0, len(players))
		for _, p := range players {
			views = append(views, entityView(p))
		}
		return map[string]any{"players": views}, nil

	case "to_vector":
		var a ToVectorArgs
		if err := def.decode(raw, &a); err != nil {
			return nil, badArgs(err)
		}
		st, err := s.state(a.Handle)
		if err != nil {
			return nil, err
		}
		l := bridge.VectorLayout{PadPlayers: a.PadPlayers}
		return map[string]any{
			"version": bridge.VectorVersion,
			"fields":  bridge.VectorFields(l),
			"vector":  st.ToVector(l),
		}, nil

	case "disconnect":
		var a HandleArgs
		if err := def.decode(raw, &a); err != nil {
			return nil, badArgs(err)
		}
		if _, err := s.session(a.Handle); err != nil {
			return nil, err
		}
		s.bridge.Disconnect(a.Handle)
		return map[string]any{"ok": true}, nil

	case "list_sessions":
		var a ListSessionsArgs
		if err := def.decode(raw, &a); err != nil {
			return nil, badArgs(err)
		}
		return map[string]any{"sessions": s.bridge.Sessions()}, nil

	default:
		return nil, fmt.Errorf("unknown tool: %s", def.Name)
	}
}

func (s *Server) state(handle string) (bridge.GameState, error) {
	sess, err := s.session(handle)
	if err != nil {
		return bridge.GameState{}, err
	}
	return sess.GetState()
}

func enqueueAll(sess *bridge.Session, args []ActionArg) error {
	acts, err := toActions(args)
	if err != nil {
		return badArgs(err)
	}
	for _, a := range acts {
		if err := sess.Enqueue(a); err != nil {
			return err
		}
	}
	return nil
}
