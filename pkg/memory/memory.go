package memory

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrConfirmRequired is returned by Reset when confirm is false.
var ErrConfirmRequired = errors.New("confirmation flag required to reset memory")

// LearningRef is the channel reference written next to insight lines.
const LearningRef = "learning"

// FileLog is the append-only, human-readable memory log the agent reads
// before each suggestion round.
type FileLog struct {
	path     string
	maxLines int

	mu  sync.Mutex
	now func() time.Time
}

// NewFileLog opens (creating if needed) the memory file at path.
func NewFileLog(path string, maxLines int) (*FileLog, error) {
	if maxLines <= 0 {
		maxLines = 20
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create memory dir %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open memory file %s: %w", path, err)
	}
	f.Close()
	return &FileLog{
		path:     path,
		maxLines: maxLines,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Path returns the file location.
func (l *FileLog) Path() string { return l.path }

// AppendInsightText writes one line for a new insight.
func (l *FileLog) AppendInsightText(_ context.Context, text string) error {
	_, err := l.appendLine(LearningRef, oneLine(text))
	return err
}

// AppendEntry writes a manual note and returns the written line.
func (l *FileLog) AppendEntry(ref string, findings []string, action string) (string, error) {
	if len(findings) > 3 {
		findings = findings[:3]
	}
	clean := make([]string, len(findings))
	for i, f := range findings {
		clean[i] = oneLine(f)
	}
	body := fmt.Sprintf("Findings: %s | Next: %s", strings.Join(clean, ", "), oneLine(action))
	return l.appendLine(oneLine(ref), body)
}

func (l *FileLog) appendLine(ref, body string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	line := fmt.Sprintf("%s | %s | %s", l.now().Format(time.RFC3339), ref, body)
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("open memory file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return "", fmt.Errorf("append memory line: %w", err)
	}
	return line, nil
}

// Recent returns the last maxLines lines, oldest first.
func (l *FileLog) Recent() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open memory file: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if sc.Text() == "" {
			continue
		}
		lines = append(lines, sc.Text())
		if len(lines) > l.maxLines {
			lines = lines[1:]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read memory file: %w", err)
	}
	return lines, nil
}

// Reset truncates the log. confirm must be true.
func (l *FileLog) Reset(confirm bool) error {
	if !confirm {
		return ErrConfirmRequired
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.WriteFile(l.path, nil, 0o644); err != nil {
		return fmt.Errorf("reset memory file: %w", err)
	}
	return nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
