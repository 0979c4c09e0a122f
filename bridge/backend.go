package bridge

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"github.com/mcpgate/mcpgate/internal/logctx"
)

// runBackend spawns one backend process, feeds it the payload on stdin
// and returns everything it wrote to stdout. The process is killed when
// the timeout elapses or the request context is cancelled; stderr is
// pumped into the log line by line while the process runs.
func (h *Handler) runBackend(ctx context.Context, payload []byte) ([]byte, error) {
	ctx = logctx.WithBackendData(ctx, &logctx.BackendData{Command: h.cfg.BackendCmd})
	ctx, cancel := context.WithTimeout(ctx, h.cfg.BackendTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-lc", h.cfg.BackendCmd)
	cmd.Dir = h.cfg.BackendCwd
	cmd.WaitDelay = 5 * time.Second

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	h.log.InfoContext(ctx, "backend.spawn")
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn backend: %w", err)
	}

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			h.log.WarnContext(ctx, "backend.stderr", slog.String("line", scanner.Text()))
		}
	}()

	if h.cfg.TraceStdio {
		h.log.DebugContext(ctx, "backend.stdin", slog.String("data", string(payload)))
	}
	writeErr := writeTerminated(stdin, payload)
	closeErr := stdin.Close()

	<-stderrDone
	waitErr := cmd.Wait()

	if h.cfg.TraceStdio {
		h.log.DebugContext(ctx, "backend.stdout", slog.String("data", stdout.String()))
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("backend timed out: %w", ctxErr)
	}
	if waitErr != nil {
		return nil, fmt.Errorf("backend exited: %w", waitErr)
	}
	if writeErr != nil {
		return nil, fmt.Errorf("write to backend: %w", writeErr)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("close backend stdin: %w", closeErr)
	}
	return stdout.Bytes(), nil
}

// writeTerminated writes the payload followed by a newline unless it
// already ends with one. The backend's reader frames on newlines, so an
// unterminated final line would hang until stdin closes.
func writeTerminated(w io.Writer, payload []byte) error {
	if _, err := w.Write(payload); err != nil {
		return err
	}
	if len(payload) == 0 || payload[len(payload)-1] != '\n' {
		if _, err := w.Write([]byte("\n")); err != nil {
			return err
		}
	}
	return nil
}
