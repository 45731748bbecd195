package job

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sleepCommand() (string, []string) {
	if runtime.GOOS == "windows" {
		return "cmd", []string{"/C", "timeout /T 30"}
	}
	return "sleep", []string{"30"}
}

func TestRegistryPutTryGetTryRemove(t *testing.T) {
	r := NewRegistry()

	_, err := r.TryGet(99)
	require.ErrorIs(t, err, ErrInvalidJobID)

	id := r.NextID()
	command, args := sleepCommand()
	j, err := Create(id, command, args, nil, nil, zap.NewNop())
	require.NoError(t, err)
	defer j.Kill()

	r.Put(j)

	got, err := r.TryGet(id)
	require.NoError(t, err)
	require.Same(t, j, got)

	removed, err := r.TryRemove(id)
	require.NoError(t, err)
	require.Same(t, j, removed)

	_, err = r.TryRemove(id)
	require.ErrorIs(t, err, ErrInvalidJobID)
}

func TestNextIDIsMonotonicAndUnique(t *testing.T) {
	r := NewRegistry()
	seen := map[int64]bool{}
	for i := 0; i < 100; i++ {
		id := r.NextID()
		require.Greater(t, id, int64(0))
		require.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
}

func TestStopJobOnRunningJobKillsAndRemoves(t *testing.T) {
	r := NewRegistry()
	id := r.NextID()
	command, args := sleepCommand()
	j, err := Create(id, command, args, nil, nil, zap.NewNop())
	require.NoError(t, err)
	r.Put(j)

	require.NoError(t, r.StopJob(id))

	_, err = r.TryGet(id)
	require.ErrorIs(t, err, ErrInvalidJobID)

	require.Eventually(t, j.IsDone, 5*time.Second, 10*time.Millisecond)
}

func TestStopJobOnFinishedJobReinsertsAndFails(t *testing.T) {
	r := NewRegistry()
	id := r.NextID()

	command, args := "sh", []string{"-c", "echo done"}
	if runtime.GOOS == "windows" {
		command, args = "cmd", []string{"/C", "echo done"}
	}
	j, err := Create(id, command, args, nil, nil, zap.NewNop())
	require.NoError(t, err)
	r.Put(j)

	require.Eventually(t, j.IsDone, 5*time.Second, 10*time.Millisecond)

	err = r.StopJob(id)
	require.ErrorIs(t, err, ErrAlreadyFinished)

	got, err := r.TryGet(id)
	require.NoError(t, err)
	require.Same(t, j, got)
}

func TestSnapshotReflectsRegisteredJobs(t *testing.T) {
	r := NewRegistry()
	ids := make(map[int64]bool)

	for i := 0; i < 3; i++ {
		id := r.NextID()
		command, args := sleepCommand()
		j, err := Create(id, command, args, nil, nil, zap.NewNop())
		require.NoError(t, err)
		defer j.Kill()
		r.Put(j)
		ids[id] = true
	}

	snaps := r.Snapshot()
	require.Len(t, snaps, 3)
	for _, s := range snaps {
		require.True(t, ids[s.ID])
	}
}
