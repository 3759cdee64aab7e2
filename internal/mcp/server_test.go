package mcp

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tickbridge.ai/internal/bridge"
	"tickbridge.ai/internal/engine/wsclient"
)

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	if cfg.Bridge == nil {
		m, err := bridge.NewManager(bridge.Config{ConnectTimeout: 5 * time.Second, TickTimeout: 5 * time.Second},
			&wsclient.Dialer{Log: zerolog.Nop()}, zerolog.Nop())
		if err != nil {
			t.Fatalf("NewManager: %v", err)
		}
		t.Cleanup(func() { _ = m.Close() })
		cfg.Bridge = m
	}
	s, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func rpcPost(t *testing.T, base string, payload any, headers map[string]string) rpcResponse {
	t.Helper()
	b, _ := json.Marshal(payload)
	req, _ := http.NewRequest("POST", base+"/mcp", bytes.NewReader(b))
	req.Header.Set("content-type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d", res.StatusCode)
	}
	var out rpcResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func callTool(t *testing.T, base, name string, args any) rpcResponse {
	t.Helper()
	return rpcPost(t, base, map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]any{"name": toolPrefix + name, "arguments": args},
	}, nil)
}

func TestInitializeAndListTools(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	initResp := rpcPost(t, ts.URL, map[string]any{"jsonrpc": "2.0", "id": 1, "method": "initialize"}, nil)
	if initResp.Error != nil {
		t.Fatalf("initialize error: %+v", initResp.Error)
	}
	rm, _ := initResp.Result.(map[string]any)
	if rm["protocolVersion"] != protocolVersion {
		t.Fatalf("protocolVersion: %v", rm["protocolVersion"])
	}

	lt := rpcPost(t, ts.URL, map[string]any{"jsonrpc": "2.0", "id": 2, "method": "list_tools"}, nil)
	if lt.Error != nil {
		t.Fatalf("list_tools error: %+v", lt.Error)
	}
	rm2, ok := lt.Result.(map[string]any)
	if !ok {
		t.Fatalf("unexpected list_tools result type: %T", lt.Result)
	}
	tools, ok := rm2["tools"].([]any)
	if !ok {
		t.Fatalf("missing tools array")
	}
	if len(tools) != 10 {
		t.Fatalf("expected 10 tools, got %d", len(tools))
	}
	first, _ := tools[0].(map[string]any)
	if first["name"] != "tickbridge.connect" {
		t.Fatalf("first tool %v", first["name"])
	}
	schema, _ := first["inputSchema"].(map[string]any)
	req, _ := schema["required"].([]any)
	if schema["type"] != "object" || len(req) != 3 {
		t.Fatalf("connect schema: %v", schema)
	}
}

func TestCallToolErrors(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	resp := rpcPost(t, ts.URL, map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "call_tool",
		"params":  map[string]any{"name": "nope", "arguments": map[string]any{}},
	}, nil)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected tool not found (-32601), got %+v", resp.Error)
	}

	cases := map[string]struct {
		tool string
		args any
	}{
		"missing name":   {"connect", map[string]any{"host": "h", "port": 1}},
		"port range":     {"connect", map[string]any{"host": "h", "port": 70000, "name": "n"}},
		"bad kind":       {"act", map[string]any{"handle": "x", "actions": []any{map[string]any{"kind": "fly"}}}},
		"look_at no xyz": {"tick", map[string]any{"handle": "x", "actions": []any{map[string]any{"kind": "look_at"}}}},
		"unknown handle": {"get_state", map[string]any{"handle": "nope"}},
		"no arguments":   {"nearest_entity", nil},
	}
	for name, c := range cases {
		resp := callTool(t, ts.URL, c.tool, c.args)
		if resp.Error == nil || resp.Error.Code != codeInvalidParams {
			t.Fatalf("%s: expected -32602, got %+v", name, resp.Error)
		}
	}

	// Nothing listens on port 1.
	resp = callTool(t, ts.URL, "connect", map[string]any{"host": "127.0.0.1", "port": 1, "name": "x"})
	if resp.Error == nil || resp.Error.Code != codeBridge {
		t.Fatalf("expected bridge error, got %+v", resp.Error)
	}
	data, _ := resp.Error.Data.(map[string]any)
	if data["kind"] != string(bridge.KindConnection) {
		t.Fatalf("kind: %v", data)
	}

	ls := callTool(t, ts.URL, "list_sessions", nil)
	if ls.Error != nil {
		t.Fatalf("list_sessions: %+v", ls.Error)
	}
}

func TestParseErrorAndMethod(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	res, err := http.Post(ts.URL+"/mcp", "application/json", bytes.NewReader([]byte("{nope")))
	if err != nil {
		t.Fatal(err)
	}
	var out rpcResponse
	_ = json.NewDecoder(res.Body).Decode(&out)
	res.Body.Close()
	if out.Error == nil || out.Error.Code != codeParse {
		t.Fatalf("expected parse error, got %+v", out.Error)
	}

	res, err = http.Get(ts.URL + "/mcp")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET status %d", res.StatusCode)
	}
}

func TestHMACRequired(t *testing.T) {
	s, ts := newTestServer(t, Config{HMACSecret: "topsecret"})
	now := time.UnixMilli(1700000000000)
	s.now = func() time.Time { return now }

	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	post := func(h map[string]string) int {
		req, _ := http.NewRequest("POST", ts.URL+"/mcp", bytes.NewReader(body))
		for k, v := range h {
			req.Header.Set(k, v)
		}
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		res.Body.Close()
		return res.StatusCode
	}

	if code := post(nil); code != http.StatusUnauthorized {
		t.Fatalf("unsigned: %d", code)
	}
	tsStr := strconv.FormatInt(now.UnixMilli(), 10)
	h := map[string]string{
		headerAgentID:   "agent_1",
		headerTS:        tsStr,
		headerNonce:     "n1",
		headerSignature: Sign("topsecret", tsStr, "POST", "/mcp", "agent_1", "n1", body),
	}
	if code := post(h); code != http.StatusOK {
		t.Fatalf("signed: %d", code)
	}
	if code := post(h); code != http.StatusUnauthorized {
		t.Fatalf("replay: %d", code)
	}
}
