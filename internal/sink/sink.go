// Package sink implements the Output Router: the component that decides
// where a Job's captured output goes and applies that decision, including
// the in-place degrade from network streaming to file-only on a socket
// error.
//
// Router is a small state machine with one mutable tag rather than an
// interface hierarchy with hidden control flow. The only transitions that
// can happen after construction are TagStreaming -> TagFileOnly and
// TagStreaming or TagFileOnly -> tagDead; TagMemory is never reached from
// any other tag and never transitions away.
package sink

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Tag identifies which sink policy a Router is currently applying.
type Tag int

const (
	// TagMemory accumulates lines in an in-process buffer.
	TagMemory Tag = iota
	// TagStreaming writes to both a TCP connection and a backup file.
	TagStreaming
	// TagFileOnly writes only to the backup file. Reached either directly
	// (progress connect failed) or by degrading from TagStreaming (a write
	// to the TCP stream failed).
	TagFileOnly
	// tagDead means a backup-file write has failed; no further lines are
	// accepted. Only reachable from TagStreaming or TagFileOnly.
	tagDead
)

// ErrSinkDead is returned once a backup-file write has failed. A
// file-write failure is fatal for the sink — the child process keeps
// running, but no further output is recorded.
var ErrSinkDead = errors.New("sink: backup file write failed, line delivery stopped")

// Router applies the Job's output-sink policy. The zero value is not
// usable; construct with NewMemory, NewStreaming, or NewFileOnly.
type Router struct {
	mu     sync.Mutex
	tag    Tag
	buf    strings.Builder
	conn   net.Conn
	file   *os.File
	closed bool
	logger *zap.Logger
}

// NewMemory creates a Router that accumulates lines in memory. Used when no
// progress endpoint is configured.
func NewMemory(logger *zap.Logger) *Router {
	return &Router{tag: TagMemory, logger: logger}
}

// NewStreaming creates a Router that writes to both conn and file. Used
// when a progress endpoint is configured and connecting to it succeeded.
func NewStreaming(conn net.Conn, file *os.File, logger *zap.Logger) *Router {
	return &Router{tag: TagStreaming, conn: conn, file: file, logger: logger}
}

// NewFileOnly creates a Router that writes only to file. Used when a
// progress endpoint is configured but connecting to it failed.
func NewFileOnly(file *os.File, logger *zap.Logger) *Router {
	return &Router{tag: TagFileOnly, file: file, logger: logger}
}

// Tag reports the Router's current sink policy.
func (r *Router) Tag() Tag {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tag
}

// Write appends one line of output to the sink(s). It returns ErrSinkDead
// once a backup-file write has failed; callers should stop calling Write
// (but keep draining their input) after that point.
func (r *Router) Write(line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.tag {
	case TagMemory:
		r.buf.WriteString(line)
		r.buf.WriteByte('\n')
		return nil

	case TagStreaming:
		if err := writeNetLine(r.conn, line); err != nil {
			r.logger.Warn("progress stream write failed, degrading to file-only",
				zap.Error(err),
			)
			r.conn.Close()
			r.conn = nil
			r.tag = TagFileOnly
		}
		return r.writeFileLocked(line)

	case TagFileOnly:
		return r.writeFileLocked(line)

	default: // tagDead
		return ErrSinkDead
	}
}

// writeFileLocked writes line to the backup file. Caller must hold r.mu.
// A failure here is fatal for the sink.
func (r *Router) writeFileLocked(line string) error {
	if r.file == nil {
		return nil
	}
	if _, err := io.WriteString(r.file, line+"\n"); err != nil {
		r.tag = tagDead
		return fmt.Errorf("%w: %v", ErrSinkDead, err)
	}
	return nil
}

// Result returns the accumulated text for a memory sink, or the empty
// string for any other sink (the caller already received the output out of
// band).
func (r *Router) Result() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tag != TagMemory {
		return ""
	}
	return r.buf.String()
}

// BackupPath returns the path of the backup log file, or "" if this Router
// has no backup file (TagMemory).
func (r *Router) BackupPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return ""
	}
	return r.file.Name()
}

// Close shuts down whatever resources the sink currently holds. Guarded by
// r.mu and an idempotence flag so that the natural-exit path, Kill, and a
// concurrent sink-degrade can never double-close.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	if r.conn != nil {
		r.conn.Close()
	}
	if r.file != nil {
		r.file.Close()
	}
}

// writeNetLine writes one newline-terminated line to conn with a short
// per-write deadline so a stalled peer degrades the sink instead of
// blocking the drain loop indefinitely.
func writeNetLine(conn net.Conn, line string) error {
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := io.WriteString(conn, line+"\n")
	return err
}
