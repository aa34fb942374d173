package mcpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
)

// StdioServer drives the dispatcher over line-delimited JSON-RPC on a
// reader/writer pair, normally stdin/stdout. The binding carries exactly one
// implicit session whose lifetime is the process lifetime.
type StdioServer struct {
	dispatcher *Dispatcher
	in         io.Reader
	out        io.Writer
	logger     *log.Logger
}

// NewStdioServer builds the stdio binding.
func NewStdioServer(dispatcher *Dispatcher, in io.Reader, out io.Writer, logger *log.Logger) *StdioServer {
	if logger == nil {
		logger = log.Default()
	}
	return &StdioServer{dispatcher: dispatcher, in: in, out: out, logger: logger}
}

// Run reads messages until EOF or context cancellation, then tears the
// implicit session down. Malformed lines get a parse-error response and the
// loop keeps serving.
func (s *StdioServer) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 64*1024), maxRequestBytes)

	encoder := json.NewEncoder(s.out)
	sessionID := ""

	defer func() {
		if sessionID != "" {
			if err := s.dispatcher.Close(sessionID); err != nil {
				s.logger.Printf("stdio session teardown: %v", err)
			}
		}
	}()

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil || req.Method == "" {
			if err := encoder.Encode(NewErrorResponse(nil, CodeParseError, "malformed request body")); err != nil {
				return err
			}
			continue
		}

		resp, newSessionID := s.dispatcher.Dispatch(ctx, TransportStdio, sessionID, &req)
		if newSessionID != "" {
			sessionID = newSessionID
		}
		if resp == nil {
			continue
		}
		if err := encoder.Encode(resp); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
