package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/anshpay/CourseraMCP-Poke/internal/metadata"
)

// Engine processes protocol messages for one session against one registry
// instance. It has no transport knowledge; the dispatcher feeds it requests
// in arrival order.
type Engine struct {
	registry *Registry
	logger   *log.Logger
}

// NewEngine wraps a registry in a protocol engine.
func NewEngine(registry *Registry, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{registry: registry, logger: logger}
}

// Handle processes one request and returns its response, or nil for
// notifications. Panics anywhere below are converted into an internal error
// response; a single bad invocation never takes the process down.
func (e *Engine) Handle(ctx context.Context, req *Request) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Printf("panic handling %s: %v", req.Method, r)
			resp = NewErrorResponse(req.ID, CodeInternalError, "internal error")
		}
	}()

	if req.JSONRPC != "" && req.JSONRPC != JSONRPCVersion {
		return NewErrorResponse(req.ID, CodeInvalidRequest, "unsupported jsonrpc version")
	}

	switch req.Method {
	case "initialize":
		return e.handleInitialize(req)
	case "notifications/initialized", "notifications/cancelled":
		return nil
	case "ping":
		return NewResponse(req.ID, map[string]any{})
	case "tools/list":
		return NewResponse(req.ID, ToolsListResult{Tools: e.registry.List()})
	case "tools/call":
		return e.handleToolsCall(ctx, req)
	default:
		if req.IsNotification() {
			return nil
		}
		return NewErrorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (e *Engine) handleInitialize(req *Request) *Response {
	var params InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return NewErrorResponse(req.ID, CodeInvalidParams, "malformed initialize params")
		}
	}
	if params.ClientInfo.Name != "" {
		e.logger.Printf("client connected: %s v%s", params.ClientInfo.Name, params.ClientInfo.Version)
	}
	return NewResponse(req.ID, InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: Capabilities{
			Tools: map[string]any{"listChanged": false},
		},
		ServerInfo: ServerInfo{Name: metadata.Name, Version: metadata.Version},
	})
}

func (e *Engine) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return NewErrorResponse(req.ID, CodeInvalidParams, "malformed tools/call params")
	}
	if params.Name == "" {
		return NewErrorResponse(req.ID, CodeInvalidParams, "tools/call requires a tool name")
	}

	result, err := e.registry.Call(ctx, params.Name, params.Arguments)
	if err != nil {
		var notFound *ToolNotFoundError
		if errors.As(err, &notFound) {
			return NewErrorResponse(req.ID, CodeMethodNotFound, notFound.Error())
		}
		var invalid *ValidationError
		if errors.As(err, &invalid) {
			return NewErrorResponse(req.ID, CodeInvalidParams, invalid.Error())
		}
		// Handler failures (upstream API, browser navigation) are tool-level
		// errors, not protocol errors: the session stays healthy.
		e.logger.Printf("tool %s failed: %v", params.Name, err)
		return NewResponse(req.ID, TextResult(err.Error(), true))
	}

	text, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return NewErrorResponse(req.ID, CodeInternalError, fmt.Sprintf("failed to encode %s result", params.Name))
	}
	return NewResponse(req.ID, TextResult(string(text), false))
}
