package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
)

// Category selects which recovery log a failed event is written to.
type Category string

const (
	CategoryMessage Category = "msg"
	CategoryUser    Category = "user"
)

// RecoveryLog appends events that could not be processed to per-category
// JSON-lines files. Each line is flushed to disk before Append returns.
type RecoveryLog struct {
	dir   string
	clock clockwork.Clock
	mu    sync.Mutex
}

// NewRecoveryLog creates the log directory if needed.
func NewRecoveryLog(dir string, clock clockwork.Clock) (*RecoveryLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recovery log dir: %w", err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RecoveryLog{dir: dir, clock: clock}, nil
}

// Path returns the file backing a category.
func (r *RecoveryLog) Path(cat Category) string {
	return filepath.Join(r.dir, "emergency_"+string(cat)+".log")
}

// Append writes one event as a single line.
func (r *RecoveryLog) Append(cat Category, ev Event, cause error) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Kind(), err)
	}
	line := envelope{
		Kind:     ev.Kind(),
		LoggedAt: r.clock.Now().UTC(),
		Payload:  payload,
	}
	if cause != nil {
		line.Error = cause.Error()
	}
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("encode recovery line: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return atomicAppend(r.Path(cat), data)
}

func atomicAppend(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return err
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// RecoveredEvent is one decoded recovery log line.
type RecoveredEvent struct {
	Kind     Kind
	LoggedAt time.Time
	Error    string
	Event    any
}

// ReadRecoveryLog decodes every line of a recovery log in file order.
func ReadRecoveryLog(path string) ([]RecoveredEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []RecoveredEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var env envelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			return out, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		ev, err := decodePayload(env.Kind, env.Payload)
		if err != nil {
			return out, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		out = append(out, RecoveredEvent{Kind: env.Kind, LoggedAt: env.LoggedAt, Error: env.Error, Event: ev})
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}
