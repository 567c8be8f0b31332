// Package enginelog provides the leveled logging interface threaded
// through the dispatcher and client: callers log via
// Log(level, msg, keyvals...) rather than a structured-logging package.
// BasicLogger is a minimal io.Writer-backed implementation suitable for
// a CLI or test harness.
package enginelog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
)

// Level orders log severity, matching kgo's LogLevel naming.
type Level int8

const (
	LevelNone Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "NONE"
	}
}

// Logger is implemented by anything the dispatcher/client can log through.
// keyvals is an alternating key, value, key, value list, as in kgo.
type Logger interface {
	Level() Level
	Log(level Level, msg string, keyvals ...any)
}

// Nop discards everything; the zero value is ready to use.
type Nop struct{}

func (Nop) Level() Level             { return LevelNone }
func (Nop) Log(Level, string, ...any) {}

// BasicLogger writes leveled, timestamped lines to an io.Writer. At
// LevelDebug, keyvals whose value is a struct/slice/map are rendered with
// spew.Sdump instead of fmt's default verb so nested wire messages and
// version records are readable, matching the debug-dump style the
// teacher's go.mod provisions davecgh/go-spew for.
type BasicLogger struct {
	mu    sync.Mutex
	w     io.Writer
	level Level
}

// NewBasicLogger returns a logger writing to w at the given level. A nil w
// defaults to os.Stderr.
func NewBasicLogger(w io.Writer, level Level) *BasicLogger {
	if w == nil {
		w = os.Stderr
	}
	return &BasicLogger{w: w, level: level}
}

func (l *BasicLogger) Level() Level { return l.level }

func (l *BasicLogger) Log(level Level, msg string, keyvals ...any) {
	if level > l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "%s [%s] %s", time.Now().UTC().Format(time.RFC3339Nano), level, msg)
	for i := 0; i+1 < len(keyvals); i += 2 {
		k, v := keyvals[i], keyvals[i+1]
		if level == LevelDebug && needsDump(v) {
			fmt.Fprintf(l.w, " %v=\n%s", k, spew.Sdump(v))
			continue
		}
		fmt.Fprintf(l.w, " %v=%v", k, v)
	}
	fmt.Fprintln(l.w)
}

func needsDump(v any) bool {
	switch v.(type) {
	case string, int, int32, int64, uint, uint64, bool, float32, float64, error, nil:
		return false
	default:
		return true
	}
}
