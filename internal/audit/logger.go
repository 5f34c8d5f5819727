//
//
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/geotrack/geotrack/internal/config"
	"github.com/geotrack/geotrack/internal/location"
	"github.com/geotrack/geotrack/internal/tracking"
)

// FileName is the audit log file inside the configured directory.
const FileName = "audit.jsonl"

// Outcomes
const (
	OutcomeSuccess = "SUCCESS"
	OutcomeError   = "ERROR"
)

// Codes
const (
	CodeSuccess  = "SUCCESS"
	CodeInvalid  = "BAD_REQUEST"
	CodeUpstream = "UPSTREAM_FAILURE"
	CodeTimeout  = "TIMEOUT"
	CodeError    = "ERROR"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	Timestamp time.Time              `json:"ts"`
	DeviceID  string                 `json:"deviceId"`
	Action    string                 `json:"action"`
	Params    map[string]interface{} `json:"params"`
	Outcome   string                 `json:"outcome"`
	Code      string                 `json:"code"`
	LatencyMs float64                `json:"latencyMs"`
}

// Logger appends audit entries to a rotating file.
type Logger struct {
	mu       sync.Mutex
	filePath string
	out      io.WriteCloser
	closed   bool
}

var _ tracking.AuditLogger = (*Logger)(nil)

// NewLogger opens (creating if needed) the audit log in cfg.Dir.
func NewLogger(cfg config.AuditConfig) (*Logger, error) {
	// Ensure log directory exists
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	filePath := filepath.Join(cfg.Dir, FileName)

	// Fail early on an unwritable directory rather than on the first entry.
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	_ = f.Close()

	return &Logger{
		filePath: filePath,
		out: &lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		},
	}, nil
}

// NewWriterLogger writes entries to w, for callers that manage their own sink.
func NewWriterLogger(w io.WriteCloser) *Logger {
	return &Logger{out: w}
}

// LogAction records one operation on deviceID. A nil err is a success.
func (l *Logger) LogAction(ctx context.Context, action, deviceID string, params map[string]interface{}, err error, latency time.Duration) {
	if params == nil {
		params = make(map[string]interface{})
	}

	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}

	entry := AuditEntry{
		Timestamp: time.Now().UTC(),
		DeviceID:  deviceID,
		Action:    action,
		Params:    params,
		Outcome:   outcome,
		Code:      CodeFromError(err),
		LatencyMs: float64(latency.Microseconds()) / 1000,
	}

	l.writeEntry(entry)
}

// CodeFromError maps an operation error to its audit code.
func CodeFromError(err error) string {
	switch {
	case err == nil:
		return CodeSuccess
	case errors.Is(err, location.ErrInvalid):
		return CodeInvalid
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, tracking.ErrUpstream):
		return CodeUpstream
	default:
		return CodeError
	}
}

// writeEntry writes an audit entry to the log file.
func (l *Logger) writeEntry(entry AuditEntry) {
	jsonData, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal audit entry: %v\n", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	if _, err := l.out.Write(append(jsonData, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write audit entry: %v\n", err)
	}
}

// Rotate starts a new audit file, keeping the old one as a backup.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.out.(*lumberjack.Logger)
	if !ok {
		return nil
	}
	if err := r.Rotate(); err != nil {
		return fmt.Errorf("failed to rotate audit log: %w", err)
	}
	return nil
}

// Close closes the audit logger and its file. Later entries are discarded.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.out.Close()
}

// GetFilePath returns the path to the audit log file.
func (l *Logger) GetFilePath() string {
	return l.filePath
}
