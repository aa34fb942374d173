package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runStdio(t *testing.T, fx *fixture, input string) []*Response {
	t.Helper()
	var out bytes.Buffer
	server := NewStdioServer(fx.dispatcher, strings.NewReader(input), &out, testLogger())
	require.NoError(t, server.Run(context.Background()))

	var responses []*Response
	decoder := json.NewDecoder(&out)
	for decoder.More() {
		var resp Response
		require.NoError(t, decoder.Decode(&resp))
		responses = append(responses, &resp)
	}
	return responses
}

func TestStdioImplicitSessionLifecycle(t *testing.T) {
	fx := newFixture(t)

	input := initBody + "\n" +
		`{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n" +
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}` + "\n" +
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":{"message":"hi"}}}` + "\n"

	responses := runStdio(t, fx, input)
	require.Len(t, responses, 3, "notification must not produce a response")
	for _, resp := range responses {
		assert.Nil(t, resp.Error)
	}

	// EOF tears the implicit session down.
	assert.Zero(t, fx.dispatcher.Count())
	require.Len(t, fx.toolsets, 1)
	assert.Equal(t, 1, fx.toolsets[0].closed)
}

func TestStdioRequestBeforeInitialize(t *testing.T) {
	fx := newFixture(t)

	responses := runStdio(t, fx, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`+"\n")
	require.Len(t, responses, 1)
	require.NotNil(t, responses[0].Error)
	assert.Equal(t, CodeUnknownSession, responses[0].Error.Code)
	assert.Zero(t, fx.dispatcher.Count())
}

func TestStdioNotificationBeforeInitializeIsDropped(t *testing.T) {
	fx := newFixture(t)

	input := `{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n" + initBody + "\n"
	responses := runStdio(t, fx, input)
	require.Len(t, responses, 1, "a pre-initialize notification must not get a response")
	assert.Nil(t, responses[0].Error)
}

func TestStdioMalformedLineKeepsServing(t *testing.T) {
	fx := newFixture(t)

	input := "this is not json\n" + initBody + "\n"
	responses := runStdio(t, fx, input)
	require.Len(t, responses, 2)
	require.NotNil(t, responses[0].Error)
	assert.Equal(t, CodeParseError, responses[0].Error.Code)
	assert.Nil(t, responses[1].Error, "loop must keep serving after a parse error")
}
