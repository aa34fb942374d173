package mcpserver

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/anshpay/CourseraMCP-Poke/internal/metadata"
)

const maxRequestBytes = 8 << 20

// HTTPServer exposes the dispatcher over a single /mcp endpoint. Session
// identity travels in the Mcp-Session-Id header; the server issues it on the
// initialization response.
type HTTPServer struct {
	dispatcher *Dispatcher
	apiKey     string
	logger     *log.Logger
}

// NewHTTPServer builds the HTTP binding. apiKey of "" leaves the protocol
// endpoint open.
func NewHTTPServer(dispatcher *Dispatcher, apiKey string, logger *log.Logger) *HTTPServer {
	if logger == nil {
		logger = log.Default()
	}
	return &HTTPServer{dispatcher: dispatcher, apiKey: apiKey, logger: logger}
}

// Router builds the chi handler tree.
func (s *HTTPServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/mcp", func(r chi.Router) {
		r.Use(s.auth)
		r.Post("/", s.handleMessage)
		r.Delete("/", s.handleDelete)
		r.Get("/", s.handleGet)
	})

	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": metadata.Name,
		"version": metadata.Version,
	})
}

// auth gates the protocol endpoint before any session logic runs. Accepts
// either Authorization: Bearer <key> or X-Api-Key: <key>.
func (s *HTTPServer) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		bearer := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		if bearer == s.apiKey || r.Header.Get("X-Api-Key") == s.apiKey {
			next.ServeHTTP(w, r)
			return
		}
		writeJSON(w, http.StatusUnauthorized,
			NewErrorResponse(nil, CodeUnauthorized, "unauthorized: missing or invalid API key"))
	})
}

func (s *HTTPServer) handleMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			NewErrorResponse(nil, CodeParseError, "failed to read request body"))
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil || req.Method == "" {
		writeJSON(w, http.StatusBadRequest,
			NewErrorResponse(nil, CodeParseError, "malformed request body"))
		return
	}

	sessionID := r.Header.Get(SessionHeader)
	resp, newSessionID := s.dispatcher.Dispatch(r.Context(), TransportHTTP, sessionID, &req)

	if newSessionID != "" {
		w.Header().Set(SessionHeader, newSessionID)
	} else if sessionID != "" {
		w.Header().Set(SessionHeader, sessionID)
	}

	if resp == nil {
		// Notification: accepted, nothing to send back.
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, statusFor(resp), resp)
}

// handleDelete is the explicit close message for the HTTP binding. Close is
// idempotent, so deleting an already-gone session still succeeds.
func (s *HTTPServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(SessionHeader)
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest,
			NewErrorResponse(nil, CodeInvalidRequest, "missing "+SessionHeader+" header"))
		return
	}
	if err := s.dispatcher.Close(sessionID); err != nil {
		s.logger.Printf("close of session %s reported: %v", sessionID, err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleGet(w http.ResponseWriter, _ *http.Request) {
	// No server-initiated stream support; clients poll with POST.
	writeJSON(w, http.StatusMethodNotAllowed,
		NewErrorResponse(nil, CodeInvalidRequest, "GET is not supported on this endpoint"))
}

// statusFor maps protocol rejections onto HTTP statuses; everything else is
// a normal 200 with the error inside the JSON-RPC body.
func statusFor(resp *Response) int {
	if resp.Error == nil {
		return http.StatusOK
	}
	switch resp.Error.Code {
	case CodeUnknownSession:
		return http.StatusNotFound
	case CodeTransportMismatch:
		return http.StatusConflict
	default:
		return http.StatusOK
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
