package driver

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// TraceEntry records one provider call. Prompts and completions are never
// written, only their sizes.
type TraceEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Driver      string    `json:"driver"`
	Model       string    `json:"model,omitempty"`
	PromptSlug  string    `json:"prompt_slug,omitempty"`
	Streamed    bool      `json:"streamed"`
	InputChars  int       `json:"input_chars"`
	OutputChars int       `json:"output_chars"`
	StatusCode  int       `json:"status_code,omitempty"`
	Error       string    `json:"error,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
}

// Tracer appends trace entries to a file as NDJSON.
type Tracer struct {
	file *os.File
	mu   sync.Mutex
}

var (
	globalTracer *Tracer
	tracerMu     sync.Mutex
)

// EnableTracing starts tracing to the specified file path.
// The returned cleanup closes the file.
func EnableTracing(path string) (func(), error) {
	tracerMu.Lock()
	defer tracerMu.Unlock()

	if globalTracer != nil {
		_ = globalTracer.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600) // #nosec G304 -- operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}

	globalTracer = &Tracer{file: f}
	return DisableTracing, nil
}

// DisableTracing stops tracing and closes the trace file.
func DisableTracing() {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	if globalTracer != nil {
		_ = globalTracer.Close()
		globalTracer = nil
	}
}

// IsTracingEnabled reports whether a trace file is open.
func IsTracingEnabled() bool {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	return globalTracer != nil
}

// Trace records a trace entry if tracing is enabled.
func Trace(entry TraceEntry) {
	tracerMu.Lock()
	t := globalTracer
	tracerMu.Unlock()

	if t == nil {
		return
	}
	t.Write(entry)
}

// Write records a trace entry.
func (t *Tracer) Write(entry TraceEntry) {
	if t == nil || t.file == nil {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = t.file.Write(append(data, '\n'))
}

// Close closes the trace file.
func (t *Tracer) Close() error {
	if t == nil || t.file == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file.Close()
}
