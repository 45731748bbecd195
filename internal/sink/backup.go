package sink

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// connectTimeout bounds how long connecting to a progress endpoint may
// take before the sink falls back to file-only.
const connectTimeout = 5 * time.Second

// Endpoint is a client-owned (address, port) pair the agent connects out to.
type Endpoint struct {
	Address string
	Port    int
}

// enabled reports whether e is usable at all: a callback endpoint with zero
// or negative port disables the feature.
func (e Endpoint) enabled() bool {
	return e.Port > 0
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Address, fmt.Sprintf("%d", e.Port))
}

// Open builds the Router for a new Job: no progress endpoint -> memory;
// endpoint configured and reachable -> streaming+backup; endpoint
// configured but unreachable -> file-only.
//
// jobID, command and args are recorded in the backup file's header so a
// human reading the file later can identify which job produced it.
func Open(progress *Endpoint, jobID int64, command string, args []string, logger *zap.Logger) (*Router, error) {
	if progress == nil || !progress.enabled() {
		return NewMemory(logger), nil
	}

	file, err := createBackupFile(jobID, command, args)
	if err != nil {
		return nil, fmt.Errorf("sink: failed to create backup file: %w", err)
	}

	conn, err := net.DialTimeout("tcp", progress.String(), connectTimeout)
	if err != nil {
		logger.Warn("progress endpoint unreachable, falling back to file-only sink",
			zap.String("endpoint", progress.String()),
			zap.Error(err),
		)
		return NewFileOnly(file, logger), nil
	}

	return NewStreaming(conn, file, logger), nil
}

// createBackupFile creates the backup log file in the system temp directory
// and writes its header:
//
//	SimpleRemote Job <id> Output - <locale datetime>
//	<command> <args...>
//	<blank line>
func createBackupFile(jobID int64, command string, args []string) (*os.File, error) {
	name := fmt.Sprintf("SimpleRemote-JobOutput-%s.txt", time.Now().UTC().Format("20060102T150405.000000000Z"))
	path := filepath.Join(os.TempDir(), name)

	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	header := fmt.Sprintf("SimpleRemote Job %d Output - %s\n%s\n\n",
		jobID,
		time.Now().Format(time.RFC1123),
		strings.TrimSpace(command+" "+strings.Join(args, " ")),
	)
	if _, err := file.WriteString(header); err != nil {
		file.Close()
		return nil, err
	}

	return file, nil
}
