// Package audit holds the two best-effort side channels of the engine: the
// local trade-attempt trail and the key-value telemetry sink.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"signal_executor/internal/models"
)

// Trail appends one line per signal outcome:
//
//	<timestamp> | <STATUS> | <signal-snapshot> | <message>
//
// The file is opened per write so rotation by an external tool is harmless.
type Trail struct {
	mu   sync.Mutex
	path string
	log  *zap.Logger
	now  func() time.Time
}

func NewTrail(path string, log *zap.Logger) (*Trail, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &Trail{path: path, log: log, now: time.Now}, nil
}

// Append never fails the caller; write errors are logged and dropped.
func (t *Trail) Append(sig *models.Signal, status models.Status, message string) {
	if t == nil {
		return
	}
	line := fmt.Sprintf("%s | %s | %s | %s\n", t.now().Format(time.RFC3339Nano), status, Snapshot(sig), message)

	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.log.Warn("trade trail open failed", zap.Error(err))
		return
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		t.log.Warn("trade trail write failed", zap.Error(err))
	}
}

// Snapshot renders the signal as a single-line JSON object.
func Snapshot(sig *models.Signal) string {
	if sig == nil {
		return "{}"
	}
	s, err := sonic.MarshalString(sig)
	if err != nil {
		return fmt.Sprintf("%+v", *sig)
	}
	return s
}
