package mcpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHTTPServer(t *testing.T, apiKey string) (*httptest.Server, *fixture) {
	t.Helper()
	fx := newFixture(t)
	srv := NewHTTPServer(fx.dispatcher, apiKey, testLogger())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, fx
}

func postMCP(t *testing.T, url, sessionID string, headers map[string]string, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/mcp", bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeResponse(t *testing.T, resp *http.Response) *Response {
	t.Helper()
	defer resp.Body.Close()
	var out Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return &out
}

const initBody = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"t","version":"0"}}}`

func TestHTTPInitializeIssuesSessionID(t *testing.T) {
	ts, fx := newTestHTTPServer(t, "")

	resp := postMCP(t, ts.URL, "", nil, initBody)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	sessionID := resp.Header.Get(SessionHeader)
	assert.NotEmpty(t, sessionID)
	out := decodeResponse(t, resp)
	assert.Nil(t, out.Error)
	assert.Equal(t, 1, fx.dispatcher.Count())

	// Scenario: a follow-up tools/call with the issued id succeeds.
	resp = postMCP(t, ts.URL, sessionID, nil,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{"message":"hello"}}}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	out = decodeResponse(t, resp)
	assert.Nil(t, out.Error)
}

func TestHTTPUnknownSessionIs404(t *testing.T) {
	ts, fx := newTestHTTPServer(t, "")

	resp := postMCP(t, ts.URL, "bogus", nil,
		`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	out := decodeResponse(t, resp)
	require.NotNil(t, out.Error)
	assert.Equal(t, CodeUnknownSession, out.Error.Code)
	assert.Zero(t, fx.dispatcher.Count())
}

func TestHTTPMalformedBody(t *testing.T) {
	ts, _ := newTestHTTPServer(t, "")

	resp := postMCP(t, ts.URL, "", nil, `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	out := decodeResponse(t, resp)
	require.NotNil(t, out.Error)
	assert.Equal(t, CodeParseError, out.Error.Code)
}

func TestHTTPAPIKeyGate(t *testing.T) {
	ts, fx := newTestHTTPServer(t, "sekrit")

	t.Run("no key rejected before session logic", func(t *testing.T) {
		resp := postMCP(t, ts.URL, "", nil, initBody)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		out := decodeResponse(t, resp)
		require.NotNil(t, out.Error)
		assert.Equal(t, CodeUnauthorized, out.Error.Code)
		assert.Zero(t, fx.dispatcher.Count(), "no session may be created for unauthorized requests")
	})

	t.Run("wrong key rejected", func(t *testing.T) {
		resp := postMCP(t, ts.URL, "", map[string]string{"Authorization": "Bearer wrong"}, initBody)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("bearer token accepted", func(t *testing.T) {
		resp := postMCP(t, ts.URL, "", map[string]string{"Authorization": "Bearer sekrit"}, initBody)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get(SessionHeader))
		resp.Body.Close()
	})

	t.Run("api key header accepted", func(t *testing.T) {
		resp := postMCP(t, ts.URL, "", map[string]string{"X-Api-Key": "sekrit"}, initBody)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("health check stays open", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var doc map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
		assert.Equal(t, "ok", doc["status"])
	})
}

func TestHTTPDeleteClosesSession(t *testing.T) {
	ts, fx := newTestHTTPServer(t, "")

	resp := postMCP(t, ts.URL, "", nil, initBody)
	sessionID := resp.Header.Get(SessionHeader)
	resp.Body.Close()
	require.NotEmpty(t, sessionID)

	del := func() int {
		req, err := http.NewRequest(http.MethodDelete, ts.URL+"/mcp", nil)
		require.NoError(t, err)
		req.Header.Set(SessionHeader, sessionID)
		r, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		r.Body.Close()
		return r.StatusCode
	}

	assert.Equal(t, http.StatusNoContent, del())
	assert.Zero(t, fx.dispatcher.Count())
	// Close is idempotent.
	assert.Equal(t, http.StatusNoContent, del())

	// Requests referencing the closed session are rejected.
	resp = postMCP(t, ts.URL, sessionID, nil, `{"jsonrpc":"2.0","id":5,"method":"tools/list"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestHTTPNotificationAccepted(t *testing.T) {
	ts, _ := newTestHTTPServer(t, "")

	resp := postMCP(t, ts.URL, "", nil, initBody)
	sessionID := resp.Header.Get(SessionHeader)
	resp.Body.Close()

	resp = postMCP(t, ts.URL, sessionID, nil,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()
}
