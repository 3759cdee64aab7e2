// Package wsclient is the websocket implementation of engine.Dialer.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"tickbridge.ai/internal/engine"
	"tickbridge.ai/internal/protocol"
)

const (
	DefaultPath = "/v1/ws"

	writeTimeout = 5 * time.Second
	pingInterval = 20 * time.Second
)

var errClosedByClient = errors.New("wsclient: closed by client")

type Dialer struct {
	// Path is the websocket endpoint on the server; defaults to DefaultPath.
	Path             string
	HandshakeTimeout time.Duration
	// MaxQueue is advertised in HELLO and bounds the server's outbound buffer.
	MaxQueue int
	Log      zerolog.Logger
}

var _ engine.Dialer = (*Dialer)(nil)

func (d *Dialer) Dial(ctx context.Context, t engine.Target, onPhase func(engine.Phase)) (engine.Conn, error) {
	phase := func(p engine.Phase) {
		if onPhase != nil {
			onPhase(p)
		}
	}
	path := d.Path
	if path == "" {
		path = DefaultPath
	}
	hsTimeout := d.HandshakeTimeout
	if hsTimeout <= 0 {
		hsTimeout = 5 * time.Second
	}
	u := url.URL{Scheme: "ws", Host: t.Host + ":" + strconv.Itoa(t.Port), Path: path}

	phase(engine.PhaseConnecting)
	wd := websocket.Dialer{HandshakeTimeout: hsTimeout}
	ws, resp, err := wd.DialContext(ctx, u.String(), http.Header{})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}

	// Unblock handshake reads if the caller gives up.
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	welcome, first, err := d.handshake(ctx, ws, t, phase)
	if stopped := stop(); err != nil || !stopped {
		_ = ws.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("handshake: %w", ctxErr)
		}
		return nil, err
	}
	_ = ws.SetReadDeadline(time.Time{})

	c := &Conn{
		ws:      ws,
		welcome: welcome,
		latest:  first,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		log: d.Log.With().
			Str("component", "wsclient").
			Str("name", t.Name).
			Int64("entity_id", welcome.EntityID).
			Logger(),
	}
	go c.readLoop()
	go c.keepalive()
	return c, nil
}

func (d *Dialer) handshake(ctx context.Context, ws *websocket.Conn, t engine.Target, phase func(engine.Phase)) (protocol.WelcomeMsg, protocol.ObsMsg, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = ws.SetReadDeadline(dl)
	}

	phase(engine.PhaseAuthenticating)
	maxQ := d.MaxQueue
	if maxQ <= 0 {
		maxQ = 16
	}
	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		AgentName:       t.Name,
		Capabilities:    protocol.HelloCapabilities{MaxQueue: maxQ},
	}
	if t.Token != "" {
		hello.Auth = &protocol.HelloAuth{Token: t.Token}
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteJSON(hello); err != nil {
		return protocol.WelcomeMsg{}, protocol.ObsMsg{}, fmt.Errorf("send hello: %w", err)
	}

	var welcome protocol.WelcomeMsg
	for {
		base, msg, err := readBase(ws)
		if err != nil {
			return protocol.WelcomeMsg{}, protocol.ObsMsg{}, err
		}
		if base.Type == protocol.TypeError {
			return protocol.WelcomeMsg{}, protocol.ObsMsg{}, decodeServerError(msg)
		}
		if base.Type != protocol.TypeWelcome {
			continue
		}
		if err := json.Unmarshal(msg, &welcome); err != nil {
			return protocol.WelcomeMsg{}, protocol.ObsMsg{}, fmt.Errorf("%w: welcome: %v", engine.ErrMalformed, err)
		}
		if !protocol.IsSupportedVersion(welcome.ProtocolVersion) {
			return protocol.WelcomeMsg{}, protocol.ObsMsg{}, fmt.Errorf("%w: unsupported protocol_version %q", engine.ErrMalformed, welcome.ProtocolVersion)
		}
		break
	}

	phase(engine.PhaseJoining)
	for {
		base, msg, err := readBase(ws)
		if err != nil {
			return protocol.WelcomeMsg{}, protocol.ObsMsg{}, err
		}
		if base.Type == protocol.TypeError {
			return protocol.WelcomeMsg{}, protocol.ObsMsg{}, decodeServerError(msg)
		}
		if base.Type != protocol.TypeObs {
			continue
		}
		var o protocol.ObsMsg
		if err := json.Unmarshal(msg, &o); err != nil {
			return protocol.WelcomeMsg{}, protocol.ObsMsg{}, fmt.Errorf("%w: obs: %v", engine.ErrMalformed, err)
		}
		return welcome, o, nil
	}
}

func readBase(ws *websocket.Conn) (protocol.BaseMessage, []byte, error) {
	_, msg, err := ws.ReadMessage()
	if err != nil {
		return protocol.BaseMessage{}, nil, err
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return protocol.BaseMessage{}, nil, fmt.Errorf("%w: %v", engine.ErrMalformed, err)
	}
	return base, msg, nil
}

func decodeServerError(msg []byte) error {
	var e protocol.ErrorMsg
	if err := json.Unmarshal(msg, &e); err != nil {
		return fmt.Errorf("%w: error frame: %v", engine.ErrMalformed, err)
	}
	if protocol.IsIdentityRejection(e.Code) {
		return &engine.RejectedError{Code: e.Code, Message: e.Message}
	}
	return fmt.Errorf("server error %s: %s", e.Code, e.Message)
}

// Conn is a joined websocket session.
type Conn struct {
	ws      *websocket.Conn
	welcome protocol.WelcomeMsg
	log     zerolog.Logger

	writeMu sync.Mutex

	mu        sync.RWMutex
	latest    protocol.ObsMsg
	latestErr error

	notify chan struct{}

	done      chan struct{}
	err       error
	closing   bool
	closeOnce sync.Once
}

var _ engine.Conn = (*Conn)(nil)

func (c *Conn) Welcome() protocol.WelcomeMsg { return c.welcome }

func (c *Conn) Notify() <-chan struct{} { return c.notify }

func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

func (c *Conn) Latest() (protocol.ObsMsg, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.latestErr != nil {
		return protocol.ObsMsg{}, c.latestErr
	}
	return c.latest, nil
}

func (c *Conn) Send(ctx context.Context, act protocol.ActMsg) error {
	select {
	case <-c.done:
		return c.Err()
	default:
	}
	if act.Type == "" {
		act.Type = protocol.TypeAct
	}
	if act.ProtocolVersion == "" {
		act.ProtocolVersion = protocol.Version
	}
	b, err := json.Marshal(act)
	if err != nil {
		return fmt.Errorf("encode act: %w", err)
	}

	deadline := time.Now().Add(writeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("send act: %w", err)
	}
	return nil
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		c.mu.Unlock()
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	<-c.done
	return err
}

func (c *Conn) readLoop() {
	defer close(c.done)
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.closing {
				c.err = errClosedByClient
			} else {
				c.err = fmt.Errorf("read: %w", err)
			}
			c.mu.Unlock()
			c.log.Debug().Err(err).Msg("read loop ended")
			return
		}

		base, err := protocol.DecodeBase(msg)
		if err != nil {
			c.setLatest(protocol.ObsMsg{}, fmt.Errorf("%w: %v", engine.ErrMalformed, err))
			continue
		}
		switch base.Type {
		case protocol.TypeObs:
			var o protocol.ObsMsg
			if err := json.Unmarshal(msg, &o); err != nil {
				c.setLatest(protocol.ObsMsg{}, fmt.Errorf("%w: obs: %v", engine.ErrMalformed, err))
				continue
			}
			c.setLatest(o, nil)
		case protocol.TypeError:
			var e protocol.ErrorMsg
			_ = json.Unmarshal(msg, &e)
			c.log.Warn().Str("code", e.Code).Str("message", e.Message).Msg("server error")
		}
	}
}

func (c *Conn) setLatest(o protocol.ObsMsg, err error) {
	c.mu.Lock()
	if err == nil {
		c.latest = o
	}
	c.latestErr = err
	c.mu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// keepalive pings so a lockstep server keeps an idle session open.
func (c *Conn) keepalive() {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
