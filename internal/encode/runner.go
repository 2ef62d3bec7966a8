package encode

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"framepipe/internal/pkg/logger"
)

// Runner executes the encoder binary.
type Runner interface {
	Run(ctx context.Context, args []string) error
}

// ExecRunner runs the encoder as a subprocess with an argument list and no
// shell. Its log output is forwarded line by line at debug level.
type ExecRunner struct {
	Path string
	Log  *logger.Logger
}

func (r ExecRunner) Run(ctx context.Context, args []string) error {
	bin, err := exec.LookPath(r.Path)
	if err != nil {
		return fmt.Errorf("encoder %q not found: %w", r.Path, err)
	}

	out := &lineLogger{log: r.Log}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = out
	cmd.Stderr = out
	err = cmd.Run()
	out.flush()
	if err != nil {
		if tail := out.tail(); tail != "" {
			return fmt.Errorf("%w: %s", err, tail)
		}
		return err
	}
	return nil
}

const tailLines = 5

// lineLogger splits process output into lines, logs each at debug and keeps
// the last few for error reports.
type lineLogger struct {
	log *logger.Logger

	mu      sync.Mutex
	partial bytes.Buffer
	last    []string
}

func (w *lineLogger) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.partial.Write(p)
	for {
		line, err := w.partial.ReadString('\n')
		if err != nil {
			// incomplete line, keep it for the next write
			w.partial.Reset()
			w.partial.WriteString(line)
			break
		}
		w.emit(line)
	}
	return len(p), nil
}

func (w *lineLogger) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.partial.Len() > 0 {
		w.emit(w.partial.String())
		w.partial.Reset()
	}
}

// emit is called with w.mu held.
func (w *lineLogger) emit(line string) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return
	}
	if w.log != nil {
		w.log.Debug("encoder", "line", line)
	}
	w.last = append(w.last, line)
	if len(w.last) > tailLines {
		w.last = w.last[len(w.last)-tailLines:]
	}
}

func (w *lineLogger) tail() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.Join(w.last, " | ")
}
