// Package monitoring records meter events to a JSONL file.
//
// DESIGN: one JSON object per line, appended immediately after each event so
// the log is useful in real time. The proxy writes an event per metering
// outcome: resolved, unknown model, unextractable, dropped, write failure.
package monitoring

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Meter event outcomes.
const (
	OutcomeRecorded      = "recorded"
	OutcomeUnknownModel  = "unknown_model"
	OutcomeUnextractable = "unextractable"
	OutcomeDropped       = "dropped"
	OutcomeWriteFailure  = "write_failure"
)

// MeterEvent captures one metering outcome.
type MeterEvent struct {
	Timestamp      time.Time `json:"timestamp"`
	RequestID      string    `json:"request_id,omitempty"`
	Provider       string    `json:"provider,omitempty"`
	Model          string    `json:"model,omitempty"`
	RequestedModel string    `json:"requested_model,omitempty"`
	Outcome        string    `json:"outcome"`
	Reason         string    `json:"reason,omitempty"`
	InputTokens    int64     `json:"input_tokens,omitempty"`
	OutputTokens   int64     `json:"output_tokens,omitempty"`
	CacheCreation  int64     `json:"cache_creation_tokens,omitempty"`
	CacheRead      int64     `json:"cache_read_tokens,omitempty"`
	CostUSD        float64   `json:"cost_usd,omitempty"`
	Project        string    `json:"project,omitempty"`
}

// Recorder appends meter events to a JSONL file.
type Recorder struct {
	path        string
	logToStdout bool
	mu          sync.Mutex
}

// NewRecorder creates a recorder. An empty path disables file output.
func NewRecorder(path string, logToStdout bool) (*Recorder, error) {
	r := &Recorder{path: path, logToStdout: logToStdout}
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Record appends one event. Failures are logged and swallowed; the event log
// must never affect serving.
func (r *Recorder) Record(ev *MeterEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.logToStdout {
		log.Info().
			Str("outcome", ev.Outcome).
			Str("model", ev.Model).
			Int64("input_tokens", ev.InputTokens).
			Int64("output_tokens", ev.OutputTokens).
			Float64("cost_usd", ev.CostUSD).
			Msg("meter")
	}
	if r.path == "" {
		return
	}
	if err := appendJSONL(r.path, ev); err != nil {
		log.Warn().Err(err).Str("path", r.path).Msg("failed to write meter event")
	}
}

// appendJSONL appends a single JSON object as a line to the file.
func appendJSONL(path string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = f.Write(data)
	return err
}
