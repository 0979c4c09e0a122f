package mcpserver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
)

// maxLineBytes bounds the size of a single inbound JSON-RPC line.
const maxLineBytes = 4 * 1024 * 1024

// ServeStdio runs the synchronous line loop: read one line, dispatch,
// write one reply line, repeat until EOF on r or the context is
// canceled. A malformed line produces one error reply and the loop
// continues; only I/O failures terminate serving.
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		reply := s.HandleLine(ctx, scanner.Bytes())
		if reply == nil {
			continue
		}
		if _, err := w.Write(append(reply, '\n')); err != nil {
			return fmt.Errorf("write reply: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read request: %w", err)
	}

	s.log.InfoContext(ctx, "stdio.serve.done")
	return nil
}

// Logger exposes the server's logger for embedders that want to share it.
func (s *Server) Logger() *slog.Logger {
	return s.log
}
