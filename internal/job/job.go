// Package job composes the Process Spawner, Line Pump, and Output Router
// into one tracked unit of work (Job), plus the process-wide map that makes
// Jobs reachable by id (Registry).
package job

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/labrig/agent/internal/linepump"
	"github.com/labrig/agent/internal/sink"
	"github.com/labrig/agent/internal/spawner"
)

// State is a Job's lifecycle state.
type State int

const (
	Running State = iota
	Exited
	Killed
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Exited:
		return "exited"
	case Killed:
		return "killed"
	default:
		return "unknown"
	}
}

// Errors surfaced to RPC handlers.
var (
	ErrNotFinished = errors.New("job: result requested while still running")
	ErrSpawnFailed = errors.New("job: failed to start child process")
)

// callbackRetries and callbackInitialDelay implement the completion-callback
// retry policy: an initial 1-second delay, doubling on each attempt, bounded
// to a small attempt count.
const (
	callbackRetries      = 5
	callbackInitialDelay = 1 * time.Second
	// controlTimeout bounds how long a completion-callback connection attempt
	// may take before it counts as a failed attempt.
	controlTimeout = 5 * time.Second
)

// Job tracks one spawned child process end to end: its output sink, its
// lifecycle state, and the optional completion callback.
type Job struct {
	ID      int64
	Command string
	Args    []string

	logger *zap.Logger

	mu         sync.Mutex
	state      State
	exitCode   int
	router     *sink.Router
	outputDone bool // true once the drain loop has fully consumed the pump

	proc *spawner.Process

	drained chan struct{} // closed once output has been fully drained
}

// Create allocates and starts a new Job: it opens the configured sink,
// spawns the child process, and launches the goroutines that drain its
// output and (if configured) fire the completion callback. It does not
// block on the child; IsDone will report false until the child exits.
func Create(id int64, command string, args []string, completion, progress *sink.Endpoint, logger *zap.Logger) (*Job, error) {
	logger = logger.Named("job").With(zap.Int64("job_id", id))

	router, err := sink.Open(progress, id, command, args, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	proc, err := spawner.Start(command, args)
	if err != nil {
		router.Close()
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	j := &Job{
		ID:      id,
		Command: command,
		Args:    args,
		logger:  logger,
		state:   Running,
		router:  router,
		proc:    proc,
		drained: make(chan struct{}),
	}

	go j.run(completion)

	return j, nil
}

// run drives the Job's lifecycle: record the exit outcome as soon as the
// child exits, drain output, close the sink, then fire the completion
// callback. The sequence is explicit — end the pump, wait for the drain,
// then notify — rather than relying on registration-order exit hooks.
func (j *Job) run(completion *sink.Endpoint) {
	exited := make(chan struct{})
	go func() {
		result := <-j.proc.Done()
		j.mu.Lock()
		if result.Signaled {
			j.state = Killed
		} else {
			j.state = Exited
			j.exitCode = result.ExitCode
		}
		j.mu.Unlock()
		close(exited)
	}()

	events := linepump.Merge(j.proc.Stdout, j.proc.Stderr)

	sinkDead := false
	for ev := range events {
		if ev.Done {
			break
		}
		if sinkDead {
			continue // sink is dead; keep draining so the pump never blocks
		}
		if err := j.router.Write(ev.Text); err != nil {
			j.logger.Warn("sink write failed, discarding remaining output", zap.Error(err))
			sinkDead = true
		}
	}

	// The pump only reaches its sentinel once both pipes are at EOF, which
	// the kernel guarantees happens at (or before) process exit. It is now
	// safe to close our end of the pipes and wait for the exit result.
	j.proc.Stdout.Close()
	j.proc.Stderr.Close()

	<-exited

	j.router.Close()

	j.mu.Lock()
	j.outputDone = true
	j.mu.Unlock()

	close(j.drained)

	if completion != nil && completion.Port > 0 {
		go notifyCompletion(j.ID, *completion, j.logger)
	}
}

// notifyCompletion implements the completion-callback wire protocol: open a
// fresh TCP connection, write the literal ASCII bytes "JOB <id> COMPLETED"
// with no trailing newline, close. Retries with exponential backoff on
// connect failure; ultimate failure is only logged, not retroactively
// surfaced to whoever started the Job.
func notifyCompletion(id int64, endpoint sink.Endpoint, logger *zap.Logger) {
	delay := callbackInitialDelay
	addr := endpoint.String()

	for attempt := 1; attempt <= callbackRetries; attempt++ {
		conn, err := net.DialTimeout("tcp", addr, controlTimeout)
		if err == nil {
			payload := fmt.Sprintf("JOB %d COMPLETED", id)
			_, writeErr := conn.Write([]byte(payload))
			conn.Close()
			if writeErr == nil {
				return
			}
			err = writeErr
		}

		logger.Warn("completion callback attempt failed",
			zap.Int("attempt", attempt),
			zap.String("endpoint", addr),
			zap.Error(err),
		)

		if attempt == callbackRetries {
			logger.Error("completion callback unreachable, giving up",
				zap.String("endpoint", addr),
			)
			return
		}

		time.Sleep(jitter(delay))
		delay *= 2
	}
}

func jitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}

// IsDone reports whether the child process has exited, regardless of
// whether output has finished draining.
func (j *Job) IsDone() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state != Running
}

// State returns the Job's current lifecycle state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Kill force-terminates the child process. GetResult's behavior afterward
// is left to the RPC surface (handled in the Boundary Adapter, not here);
// this agent treats a killed Job the same as a registry-removed one from
// that surface's point of view.
func (j *Job) Kill() error {
	return j.proc.Kill()
}

// GetExitCode returns the child's exit code. It is only valid to call once
// IsDone reports true.
func (j *Job) GetExitCode() (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == Running {
		return 0, ErrNotFinished
	}
	return j.exitCode, nil
}

// GetResult waits for the output pump to fully drain (guaranteeing
// post-exit bytes are not lost) and returns the buffered text for an
// in-memory sink, or "" for streaming/file-only sinks. It fails if the Job
// has not yet exited.
func (j *Job) GetResult(ctx context.Context) (string, error) {
	j.mu.Lock()
	done := j.state != Running
	j.mu.Unlock()
	if !done {
		return "", ErrNotFinished
	}

	select {
	case <-j.drained:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	return j.router.Result(), nil
}

// WaitResult blocks until the child has exited and its output has fully
// drained, then returns the same value GetResult would. Used by the
// blocking RunWithResult RPC, which has no separate poll step.
func (j *Job) WaitResult(ctx context.Context) (string, error) {
	select {
	case <-j.drained:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return j.router.Result(), nil
}

// BackupPath returns the path of the backup log file, or "" if this Job's
// sink never wrote one (memory sink).
func (j *Job) BackupPath() string {
	return j.router.BackupPath()
}
