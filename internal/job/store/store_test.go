package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis/v13/backend/internal/job"
)

func TestStore_PutAndGet(t *testing.T) {
	s := New(4)
	s.Put(&job.Job{ID: "a", State: job.StateRunning})

	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, job.StateRunning, got.State)
}

func TestStore_GetUnknownMisses(t *testing.T) {
	s := New(4)
	_, ok := s.Get("missing")
	assert.False(t, ok)
}

func TestStore_RunningJobsNeverEvicted(t *testing.T) {
	s := New(2)
	for i := 0; i < 10; i++ {
		s.Put(&job.Job{ID: fmt.Sprintf("running-%d", i), State: job.StateRunning})
	}
	assert.Equal(t, 10, s.Len(), "running jobs must never be evicted regardless of retention bound")
}

func TestStore_CompletedJobsEvictedBeyondRetention(t *testing.T) {
	s := New(2)
	for i := 0; i < 5; i++ {
		s.Put(&job.Job{ID: fmt.Sprintf("done-%d", i), State: job.StateCompleted})
	}
	assert.Equal(t, 2, s.Len(), "only the 2 most recently completed jobs should survive")

	_, ok := s.Get("done-0")
	assert.False(t, ok, "oldest completed job should have been evicted first (FIFO)")
	_, ok = s.Get("done-4")
	assert.True(t, ok, "most recent completed job must still be present")
}

func TestStore_CountActive(t *testing.T) {
	s := New(4)
	s.Put(&job.Job{ID: "p", State: job.StatePending})
	s.Put(&job.Job{ID: "r", State: job.StateRunning})
	s.Put(&job.Job{ID: "c", State: job.StateCompleted})
	assert.Equal(t, 2, s.CountActive())
}

func TestStore_DefaultRetentionAppliedWhenZero(t *testing.T) {
	s := New(0)
	assert.Equal(t, defaultRetention, s.retention)
}
