package mcp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	headerAgentID   = "x-agent-id"
	headerTS        = "x-ts"
	headerSignature = "x-signature"
	headerNonce     = "x-nonce"

	signatureWindow = 300 * time.Second
)

func canonicalString(ts string, method string, pathname string, rawBody []byte) string {
	return ts + "\n" + strings.ToUpper(method) + "\n" + pathname + "\n" + string(rawBody)
}

func canonicalStringV2(ts string, method string, pathname string, agentID string, nonce string, rawBody []byte) string {
	return ts + "\n" + strings.ToUpper(method) + "\n" + pathname + "\n" + strings.TrimSpace(agentID) + "\n" + strings.TrimSpace(nonce) + "\n" + string(rawBody)
}

func signHMAC(secret []byte, canonical string) string {
	h := hmac.New(sha256.New, secret)
	_, _ = h.Write([]byte(canonical))
	return hex.EncodeToString(h.Sum(nil))
}

// Sign returns the x-signature value for a request body. Clients that send
// x-nonce sign with it; an empty nonce produces the legacy signature.
func Sign(secret, ts, method, path, agentID, nonce string, body []byte) string {
	if nonce == "" {
		return signHMAC([]byte(secret), canonicalString(ts, method, path, body))
	}
	return signHMAC([]byte(secret), canonicalStringV2(ts, method, path, agentID, nonce, body))
}

type hmacVerifyResult struct {
	SessionKey string
	Signature  string
	HTTPStatus int
	Message    string
}

func verifyHMAC(r *http.Request, rawBody []byte, secret []byte, allowLegacy bool, now time.Time) hmacVerifyResult {
	agentID := strings.TrimSpace(r.Header.Get(headerAgentID))
	if agentID == "" {
		return hmacVerifyResult{HTTPStatus: http.StatusUnauthorized, Message: "missing x-agent-id"}
	}
	tsStr := strings.TrimSpace(r.Header.Get(headerTS))
	if tsStr == "" {
		return hmacVerifyResult{HTTPStatus: http.StatusUnauthorized, Message: "missing x-ts"}
	}
	sig := strings.ToLower(strings.TrimSpace(r.Header.Get(headerSignature)))
	if sig == "" {
		return hmacVerifyResult{HTTPStatus: http.StatusUnauthorized, Message: "missing x-signature"}
	}
	nonce := strings.TrimSpace(r.Header.Get(headerNonce))
	if nonce == "" && !allowLegacy {
		return hmacVerifyResult{HTTPStatus: http.StatusUnauthorized, Message: "missing x-nonce"}
	}

	tsMS, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return hmacVerifyResult{HTTPStatus: http.StatusUnauthorized, Message: "bad x-ts"}
	}
	if d := now.UnixMilli() - tsMS; d > signatureWindow.Milliseconds() || d < -signatureWindow.Milliseconds() {
		return hmacVerifyResult{HTTPStatus: http.StatusUnauthorized, Message: "x-ts outside window"}
	}

	if nonce != "" {
		exp := signHMAC(secret, canonicalStringV2(tsStr, r.Method, r.URL.Path, agentID, nonce, rawBody))
		if hmac.Equal([]byte(sig), []byte(exp)) {
			return hmacVerifyResult{SessionKey: agentID, Signature: sig}
		}
	}
	if allowLegacy {
		exp := signHMAC(secret, canonicalString(tsStr, r.Method, r.URL.Path, rawBody))
		if hmac.Equal([]byte(sig), []byte(exp)) {
			return hmacVerifyResult{SessionKey: agentID, Signature: sig}
		}
	}
	return hmacVerifyResult{HTTPStatus: http.StatusUnauthorized, Message: "bad signature"}
}

func requireLoopback(r *http.Request) error {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if isLoopbackHost(host) {
		return nil
	}
	return fmt.Errorf("forbidden: non-loopback client")
}

// CheckListen refuses a non-loopback listen address when no HMAC secret is
// configured.
func CheckListen(addr string, hmacSecret string) error {
	if strings.TrimSpace(hmacSecret) != "" {
		return nil
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("listen %q: %w", addr, err)
	}
	if !isLoopbackHost(host) {
		return fmt.Errorf("listen %q: non-loopback address requires mcp.hmac_secret", addr)
	}
	return nil
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
