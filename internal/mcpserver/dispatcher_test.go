package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeToolset records handler and close activity so tests can assert
// isolation and teardown behavior.
type fakeToolset struct {
	registry *Registry

	mu         sync.Mutex
	calls      []string
	closed     int
	closeErr   error
	closeBlock chan struct{} // when set, Close blocks until it is closed
}

func (f *fakeToolset) Registry() *Registry { return f.registry }

func (f *fakeToolset) Close() error {
	f.mu.Lock()
	block := f.closeBlock
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return f.closeErr
}

func (f *fakeToolset) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeToolset) closedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newFakeToolset(t *testing.T) *fakeToolset {
	t.Helper()
	f := &fakeToolset{}

	echo := &Tool{
		Name:        "echo",
		Description: "echoes its message argument",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"message": {Type: "string"},
			},
			Required:             []string{"message"},
			AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
		},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			f.mu.Lock()
			f.calls = append(f.calls, args["message"].(string))
			f.mu.Unlock()
			return map[string]any{"echo": args["message"]}, nil
		},
	}
	failing := &Tool{
		Name:        "always_fails",
		Description: "simulates an upstream failure",
		InputSchema: &jsonschema.Schema{Type: "object"},
		Handler: func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("upstream said no")
		},
	}

	registry, err := NewRegistry(echo, failing)
	require.NoError(t, err)
	f.registry = registry
	return f
}

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

type fixture struct {
	dispatcher *Dispatcher
	toolsets   []*fakeToolset
	mu         sync.Mutex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{}
	fx.dispatcher = NewDispatcher(func() (Toolset, error) {
		ts := newFakeToolset(t)
		fx.mu.Lock()
		fx.toolsets = append(fx.toolsets, ts)
		fx.mu.Unlock()
		return ts, nil
	}, testLogger())
	return fx
}

func initRequest(id int) *Request {
	return &Request{
		JSONRPC: JSONRPCVersion,
		Method:  "initialize",
		Params:  json.RawMessage(`{"protocolVersion":"2025-06-18","clientInfo":{"name":"test","version":"0"}}`),
		ID:      json.RawMessage(fmt.Sprintf("%d", id)),
	}
}

func callRequest(id int, tool string, args string) *Request {
	return &Request{
		JSONRPC: JSONRPCVersion,
		Method:  "tools/call",
		Params:  json.RawMessage(fmt.Sprintf(`{"name":%q,"arguments":%s}`, tool, args)),
		ID:      json.RawMessage(fmt.Sprintf("%d", id)),
	}
}

func TestInitializeCreatesSession(t *testing.T) {
	fx := newFixture(t)

	resp, sessionID := fx.dispatcher.Dispatch(context.Background(), TransportHTTP, "", initRequest(1))
	require.NotNil(t, resp)
	assert.Nil(t, resp.Error)
	assert.NotEmpty(t, sessionID)
	assert.Equal(t, 1, fx.dispatcher.Count())
}

func TestFreshSessionIDsAreUnique(t *testing.T) {
	fx := newFixture(t)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		_, id := fx.dispatcher.Dispatch(context.Background(), TransportHTTP, "", initRequest(i))
		require.NotEmpty(t, id)
		assert.False(t, seen[id], "session id %s issued twice", id)
		seen[id] = true
	}
	assert.Equal(t, 50, fx.dispatcher.Count())
}

func TestUnknownSessionRejectedWithoutStateChange(t *testing.T) {
	fx := newFixture(t)
	_, id := fx.dispatcher.Dispatch(context.Background(), TransportHTTP, "", initRequest(1))
	require.NotEmpty(t, id)

	resp, newID := fx.dispatcher.Dispatch(context.Background(), TransportHTTP, "no-such-session",
		callRequest(2, "echo", `{"message":"hi"}`))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeUnknownSession, resp.Error.Code)
	assert.Empty(t, newID)
	assert.Equal(t, 1, fx.dispatcher.Count())

	// The handler must never have run.
	for _, ts := range fx.toolsets {
		assert.Zero(t, ts.callCount())
	}
}

func TestNonInitializeWithoutSessionRejected(t *testing.T) {
	fx := newFixture(t)

	resp, id := fx.dispatcher.Dispatch(context.Background(), TransportStdio, "",
		&Request{JSONRPC: JSONRPCVersion, Method: "tools/list", ID: json.RawMessage("1")})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeUnknownSession, resp.Error.Code)
	assert.Empty(t, id)
	assert.Zero(t, fx.dispatcher.Count())
}

func TestTransportMismatchRejected(t *testing.T) {
	fx := newFixture(t)
	_, id := fx.dispatcher.Dispatch(context.Background(), TransportHTTP, "", initRequest(1))
	require.NotEmpty(t, id)

	resp, _ := fx.dispatcher.Dispatch(context.Background(), TransportStdio, id,
		callRequest(2, "echo", `{"message":"hi"}`))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeTransportMismatch, resp.Error.Code)
	assert.Equal(t, 1, fx.dispatcher.Count())
	assert.Zero(t, fx.toolsets[0].callCount())
}

func TestSessionIsolation(t *testing.T) {
	fx := newFixture(t)
	_, a := fx.dispatcher.Dispatch(context.Background(), TransportHTTP, "", initRequest(1))
	_, b := fx.dispatcher.Dispatch(context.Background(), TransportHTTP, "", initRequest(2))
	require.Len(t, fx.toolsets, 2)

	resp, _ := fx.dispatcher.Dispatch(context.Background(), TransportHTTP, a,
		callRequest(3, "echo", `{"message":"from-a"}`))
	assert.Nil(t, resp.Error)

	assert.Equal(t, 1, fx.toolsets[0].callCount())
	assert.Zero(t, fx.toolsets[1].callCount(), "session B observed session A's call")
	_ = b
}

func TestCloseIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	_, id := fx.dispatcher.Dispatch(context.Background(), TransportHTTP, "", initRequest(1))

	require.NoError(t, fx.dispatcher.Close(id))
	require.NoError(t, fx.dispatcher.Close(id))
	assert.Equal(t, 1, fx.toolsets[0].closed, "toolset must be closed exactly once")

	resp, _ := fx.dispatcher.Dispatch(context.Background(), TransportHTTP, id,
		callRequest(2, "echo", `{"message":"hi"}`))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeUnknownSession, resp.Error.Code)
}

func TestUnknownToolKeepsSessionActive(t *testing.T) {
	fx := newFixture(t)
	_, id := fx.dispatcher.Dispatch(context.Background(), TransportHTTP, "", initRequest(1))

	resp, _ := fx.dispatcher.Dispatch(context.Background(), TransportHTTP, id,
		callRequest(2, "does_not_exist", `{}`))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "does_not_exist")

	// Session still serves requests.
	resp, _ = fx.dispatcher.Dispatch(context.Background(), TransportHTTP, id,
		callRequest(3, "echo", `{"message":"still here"}`))
	assert.Nil(t, resp.Error)
}

func TestHandlerFailureIsToolError(t *testing.T) {
	fx := newFixture(t)
	_, id := fx.dispatcher.Dispatch(context.Background(), TransportHTTP, "", initRequest(1))

	resp, _ := fx.dispatcher.Dispatch(context.Background(), TransportHTTP, id,
		callRequest(2, "always_fails", `{}`))
	require.Nil(t, resp.Error, "upstream failures are tool results, not protocol errors")
	result, ok := resp.Result.(*CallResult)
	require.True(t, ok)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "upstream said no")
}

func TestShutdownTearsDownAllSessionsDespiteFailures(t *testing.T) {
	fx := newFixture(t)
	_, a := fx.dispatcher.Dispatch(context.Background(), TransportHTTP, "", initRequest(1))
	_, b := fx.dispatcher.Dispatch(context.Background(), TransportStdio, "", initRequest(2))
	require.NotEmpty(t, a)
	require.NotEmpty(t, b)

	// First session's teardown fails; the second must still be torn down.
	fx.toolsets[0].closeErr = errors.New("browser refused to die")

	fx.dispatcher.Shutdown()

	assert.Zero(t, fx.dispatcher.Count())
	assert.Equal(t, 1, fx.toolsets[0].closed)
	assert.Equal(t, 1, fx.toolsets[1].closed)
}

func TestShutdownNotBlockedByStuckSession(t *testing.T) {
	fx := newFixture(t)
	_, a := fx.dispatcher.Dispatch(context.Background(), TransportHTTP, "", initRequest(1))
	_, b := fx.dispatcher.Dispatch(context.Background(), TransportHTTP, "", initRequest(2))
	require.NotEmpty(t, a)
	require.NotEmpty(t, b)

	// First session's teardown hangs, as a wedged browser process would.
	block := make(chan struct{})
	defer close(block)
	fx.toolsets[0].mu.Lock()
	fx.toolsets[0].closeBlock = block
	fx.toolsets[0].mu.Unlock()

	oldGrace := shutdownGrace
	shutdownGrace = 200 * time.Millisecond
	defer func() { shutdownGrace = oldGrace }()

	done := make(chan struct{})
	go func() {
		fx.dispatcher.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown blocked behind a stuck session")
	}

	assert.Eventually(t, func() bool { return fx.toolsets[1].closedCount() == 1 },
		time.Second, 10*time.Millisecond, "healthy session must be torn down despite the stuck one")
}

func TestRejectedNotificationsAreSilent(t *testing.T) {
	fx := newFixture(t)
	notification := func(method string) *Request {
		return &Request{JSONRPC: JSONRPCVersion, Method: method}
	}

	// No session established yet.
	resp, id := fx.dispatcher.Dispatch(context.Background(), TransportStdio, "",
		notification("notifications/initialized"))
	assert.Nil(t, resp, "notifications must never receive a response")
	assert.Empty(t, id)

	// Unknown session id.
	resp, _ = fx.dispatcher.Dispatch(context.Background(), TransportHTTP, "no-such-session",
		notification("notifications/cancelled"))
	assert.Nil(t, resp)
	assert.Zero(t, fx.dispatcher.Count())
}

func TestOpenAfterShutdownRejected(t *testing.T) {
	fx := newFixture(t)
	fx.dispatcher.Shutdown()

	resp, id := fx.dispatcher.Dispatch(context.Background(), TransportHTTP, "", initRequest(1))
	require.NotNil(t, resp.Error)
	assert.Empty(t, id)
	assert.Zero(t, fx.dispatcher.Count())
}
