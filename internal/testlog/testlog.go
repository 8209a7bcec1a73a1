// Package testlog routes geth-style structured logs to the unit test log,
// so service components under test report through t.Logf.
package testlog

import (
	"bytes"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

// Testing is the subset of testing.TB the logger needs.
type Testing interface {
	Logf(format string, args ...any)
	Helper()
}

// Logger returns a log.Logger which emits to the unit test log of t at the
// given minimum level.
func Logger(t Testing, level slog.Level) log.Logger {
	return log.NewLogger(log.NewTerminalHandlerWithLevel(&testWriter{t: t}, level, false))
}

// testWriter forwards each completed log line to t.Logf.
type testWriter struct {
	t       Testing
	mu      sync.Mutex
	pending bytes.Buffer
}

func (w *testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending.Write(p)
	for {
		line, err := w.pending.ReadBytes('\n')
		if err != nil {
			// Partial line: keep it buffered for the next write.
			w.pending.Write(line)
			break
		}
		w.t.Logf("%s", bytes.TrimRight(line, "\n"))
	}
	return len(p), nil
}
