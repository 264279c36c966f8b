package requestlog

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Logger appends one freeform UTF-8 line per pipeline event to a single
// file. Writes are serialized by a mutex so concurrent requests never
// interleave partial lines.
type Logger struct {
	mu sync.Mutex
	f  *os.File
}

func Open(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open request log: %w", err)
	}
	return &Logger{f: f}, nil
}

// Append writes a single timestamped record.
func (l *Logger) Append(format string, args ...any) error {
	line := fmt.Sprintf("%s %s\n", time.Now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.f.WriteString(line)
	return err
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
