// Package lines implements a newline-delimited JSON transport (spec.md
// §6.1, "Over a stream transport the framing is length-prefixed or
// newline-delimited; exact choice is a transport option"). Each inbound
// line decodes into a command; each response, and every event published on
// the server's sink (from any session), is written back as its own line.
package lines

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"

	"github.com/agentorch/agentserver/dispatcher"
	"github.com/agentorch/agentserver/event"
	"github.com/agentorch/agentserver/telemetry"
)

// wireCommand mirrors dispatcher.Command's wire shape (spec.md §6.1:
// "{type: string-enum, params: map, request_id: opaque}").
type wireCommand struct {
	Type      string         `json:"type"`
	Params    map[string]any `json:"params"`
	RequestID any            `json:"request_id"`
}

// wireResponse mirrors dispatcher.Response's wire shape.
type wireResponse struct {
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	RequestID any            `json:"request_id,omitempty"`
}

// Server accepts connections and speaks one command-in, response-out line
// per request, while also streaming every event published on sink back
// down the same connection. Grounded on
// `runtime/mcp/caller_test.go`'s `json.NewDecoder`/`json.NewEncoder`
// request/response idiom, adapted from one-shot HTTP bodies to a
// long-lived, line-delimited connection.
type Server struct {
	dispatcher *dispatcher.Dispatcher
	sink       *event.InProcSink
	logger     telemetry.Logger
}

// NewServer constructs a Server routing commands through d and streaming
// events published on sink.
func NewServer(d *dispatcher.Dispatcher, sink *event.InProcSink, logger telemetry.Logger) *Server {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Server{dispatcher: d, sink: sink, logger: logger}
}

// Serve accepts connections on ln, each handled on its own goroutine, until
// ctx is cancelled or ln.Accept returns an error.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

// handleConn reads one wireCommand per line, dispatches it, and writes the
// response back as a line; concurrently, every event published to sink
// while the connection is open is written back as its own line, guarded by
// the same write mutex so a response and an event can never interleave
// mid-line.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var writeMu sync.Mutex
	enc := json.NewEncoder(conn)
	writeLine := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return enc.Encode(v)
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	unsubscribe := s.sink.Subscribe(func(_ context.Context, ev event.Event) error {
		return writeLine(ev)
	})
	defer unsubscribe()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var wc wireCommand
		if err := json.Unmarshal(line, &wc); err != nil {
			_ = writeLine(wireResponse{Success: false, Error: "invalid command: " + err.Error()})
			continue
		}
		resp := s.dispatcher.Dispatch(connCtx, dispatcher.Command{
			Type:      dispatcher.Type(wc.Type),
			Params:    wc.Params,
			RequestID: wc.RequestID,
		})
		out := wireResponse{Success: resp.Success, Data: resp.Data, Error: resp.Error, RequestID: resp.RequestID}
		if err := writeLine(out); err != nil {
			s.logger.Warn(connCtx, "write response failed", "error", err)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn(connCtx, "connection read failed", "error", err)
	}
}
