// Package historywriter implements the per-node append-only structured event
// log described in spec.md §4.3 and §6.4. Each record is a self-contained
// newline-delimited JSON entry under
// <base_dir>/<server>/<session>/<node_id>/. Writes are best-effort: a
// failing writer logs a warning through telemetry.Logger and never fails
// the caller's execute.
package historywriter

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentorch/agentserver/telemetry"
)

// OperationKind classifies a history record.
type OperationKind string

const (
	// OpInput records an input delivered to the node.
	OpInput OperationKind = "input"
	// OpOutput records output produced by the node.
	OpOutput OperationKind = "output"
	// OpLifecycle records a lifecycle transition (create/start/stop).
	OpLifecycle OperationKind = "lifecycle"
	// OpError records a failure.
	OpError OperationKind = "error"
)

// Record is one self-contained, structured history entry.
type Record struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	NodeID    string         `json:"node_id"`
	Operation OperationKind  `json:"operation"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Writer is the strict collaborator nodes treat as a write-only sink.
type Writer interface {
	// Write appends a record. Write is best-effort; implementations must
	// never return an error that the caller is obligated to act on — the
	// node's execute must continue regardless.
	Write(ctx context.Context, rec Record)
	// Close releases any open file handles.
	Close() error
}

// FileWriter is the default Writer: one append-only, newline-delimited JSON
// file per node under <baseDir>/<server>/<session>/<nodeID>/history.jsonl.
type FileWriter struct {
	logger telemetry.Logger

	mu    sync.Mutex
	files map[string]*os.File
	dir   func(nodeID string) string
}

// NewFileWriter constructs a FileWriter rooted at baseDir/server/session.
// Disabled callers (history.enabled == false on the owning session, spec.md
// §3.1) should simply not construct or use a FileWriter.
func NewFileWriter(baseDir, server, session string, logger telemetry.Logger) *FileWriter {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	root := filepath.Join(baseDir, server, session)
	return &FileWriter{
		logger: logger,
		files:  make(map[string]*os.File),
		dir: func(nodeID string) string {
			return filepath.Join(root, nodeID)
		},
	}
}

// Write implements Writer. Errors are logged at warning level and swallowed.
func (w *FileWriter) Write(ctx context.Context, rec Record) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	f, err := w.fileFor(rec.NodeID)
	if err != nil {
		w.logger.Warn(ctx, "history write failed: open", "node_id", rec.NodeID, "error", err)
		return
	}

	line, err := json.Marshal(rec)
	if err != nil {
		w.logger.Warn(ctx, "history write failed: marshal", "node_id", rec.NodeID, "error", err)
		return
	}
	line = append(line, '\n')

	w.mu.Lock()
	_, err = f.Write(line)
	w.mu.Unlock()
	if err != nil {
		w.logger.Warn(ctx, "history write failed: append", "node_id", rec.NodeID, "error", err)
	}
}

// NodeDir returns the directory one node's history lives under (spec.md
// §6.4: "<base_dir>/<server>/<session>/<node_id>/").
func NodeDir(baseDir, server, session, nodeID string) string {
	return filepath.Join(baseDir, server, session, nodeID)
}

// ReadRecords reads back every record previously appended by a FileWriter
// for one node, in write order. Used by the `read_history` dispatcher
// command; the Writer interface itself stays write-only (spec.md §4.3, "the
// history writer is a strict collaborator: nodes treat it as a sink").
func ReadRecords(dir string) ([]Record, error) {
	f, err := os.Open(filepath.Join(dir, "history.jsonl"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, scanner.Err()
}

func (w *FileWriter) fileFor(nodeID string) (*os.File, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if f, ok := w.files[nodeID]; ok {
		return f, nil
	}
	dir := w.dir(nodeID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, "history.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	w.files[nodeID] = f
	return f, nil
}

// Close closes all open per-node file handles.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var firstErr error
	for _, f := range w.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	w.files = make(map[string]*os.File)
	return firstErr
}

// Noop is a Writer that discards everything; used when history logging is
// disabled for a session.
type Noop struct{}

// Write implements Writer by discarding rec.
func (Noop) Write(context.Context, Record) {}

// Close implements Writer.
func (Noop) Close() error { return nil }
