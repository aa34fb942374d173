package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TransportKind identifies the binding a session was created on. A session
// only accepts traffic from the binding that created it.
type TransportKind string

const (
	TransportStdio TransportKind = "stdio"
	TransportHTTP  TransportKind = "http"
)

// Toolset is one session's isolated tool surface: a registry whose handlers
// close over the session's upstream credentials and lazily-created browser
// handle. Close releases those resources exactly once.
type Toolset interface {
	Registry() *Registry
	Close() error
}

// Factory builds a fresh Toolset for a new session.
type Factory func() (Toolset, error)

var (
	ErrUnknownSession    = errors.New("unknown session")
	ErrTransportMismatch = errors.New("session belongs to a different transport")
	ErrShuttingDown      = errors.New("server is shutting down")
)

// Session is one logical client: id, owning transport, protocol engine and
// toolset. The mutex serializes requests so each session observes arrival
// order; different sessions proceed independently.
type Session struct {
	ID   string
	Kind TransportKind

	mu      sync.Mutex
	engine  *Engine
	toolset Toolset
}

func (s *Session) handle(ctx context.Context, req *Request) *Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Handle(ctx, req)
}

// Dispatcher owns the session table. Sessions are created on initialization
// messages, looked up by id for everything else, and removed on close. It is
// the only mutation point for session state.
type Dispatcher struct {
	factory Factory
	logger  *log.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closing  bool
}

// NewDispatcher builds an empty dispatcher around a toolset factory.
func NewDispatcher(factory Factory, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		factory:  factory,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Open creates a new session with a never-before-issued id on the given
// transport. Only initialization messages reach here.
func (d *Dispatcher) Open(kind TransportKind) (*Session, error) {
	toolset, err := d.factory()
	if err != nil {
		return nil, fmt.Errorf("failed to build session toolset: %w", err)
	}

	session := &Session{
		ID:      uuid.NewString(),
		Kind:    kind,
		engine:  NewEngine(toolset.Registry(), d.logger),
		toolset: toolset,
	}

	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		_ = toolset.Close()
		return nil, ErrShuttingDown
	}
	d.sessions[session.ID] = session
	d.mu.Unlock()

	d.logger.Printf("session %s opened (%s)", session.ID, kind)
	return session, nil
}

func (d *Dispatcher) lookup(id string, kind TransportKind) (*Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	session, ok := d.sessions[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	if session.Kind != kind {
		return nil, ErrTransportMismatch
	}
	return session, nil
}

// Dispatch routes one request. An initialization message with no session id
// opens a fresh session and returns its id; everything else must reference a
// live session on the same transport. Rejections are structured responses
// and never mutate the session table; a rejected notification is dropped
// silently, since notifications must never receive a response.
func (d *Dispatcher) Dispatch(ctx context.Context, kind TransportKind, sessionID string, req *Request) (*Response, string) {
	if sessionID == "" {
		if req.Method != "initialize" {
			if req.IsNotification() {
				return nil, ""
			}
			return NewErrorResponse(req.ID, CodeUnknownSession, "no session: send initialize first"), ""
		}
		session, err := d.Open(kind)
		if err != nil {
			return NewErrorResponse(req.ID, CodeInternalError, err.Error()), ""
		}
		return session.handle(ctx, req), session.ID
	}

	session, err := d.lookup(sessionID, kind)
	if err != nil && req.IsNotification() {
		return nil, ""
	}
	switch {
	case errors.Is(err, ErrUnknownSession):
		return NewErrorResponse(req.ID, CodeUnknownSession, "unknown session: "+sessionID), ""
	case errors.Is(err, ErrTransportMismatch):
		return NewErrorResponse(req.ID, CodeTransportMismatch, "session was created on a different transport"), ""
	}
	return session.handle(ctx, req), ""
}

// Close tears down one session: the record is removed first, then the
// toolset (and any browser it lazily created) is released. Closing an
// already-closed or unknown session is a no-op.
func (d *Dispatcher) Close(sessionID string) error {
	d.mu.Lock()
	session, ok := d.sessions[sessionID]
	if ok {
		delete(d.sessions, sessionID)
	}
	d.mu.Unlock()

	if !ok {
		return nil
	}

	// Serialize with in-flight requests before releasing resources.
	session.mu.Lock()
	defer session.mu.Unlock()
	if err := session.toolset.Close(); err != nil {
		return fmt.Errorf("teardown of session %s: %w", sessionID, err)
	}
	d.logger.Printf("session %s closed", sessionID)
	return nil
}

// shutdownGrace bounds how long Shutdown waits for session teardown. A
// wedged browser process can make a single Close hang forever.
var shutdownGrace = 10 * time.Second

// Shutdown tears down every live session. Teardowns run in parallel and the
// wait is bounded, so a stuck or failing session cannot block the rest.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	d.closing = true
	ids := make([]string, 0, len(d.sessions))
	for id := range d.sessions {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					d.logger.Printf("panic tearing down session %s: %v", id, r)
				}
			}()
			if err := d.Close(id); err != nil {
				d.logger.Printf("error tearing down session %s: %v", id, err)
			}
		}(id)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		d.logger.Printf("shutdown: gave up waiting for %d session(s) after %s", d.Count(), shutdownGrace)
	}
}

// Count reports the number of live sessions.
func (d *Dispatcher) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}
