package uring

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSyncQueueSubmitAndWait(t *testing.T) {
	fake := newFakeDriver(8)
	q := NewSyncQueue(fake)
	defer q.Close()

	c, err := q.SubmitAndWait(Nop())
	require.NoError(t, err)
	require.GreaterOrEqual(t, c.UserData, uint64(64), "correlation ids start above the reserved range")
	require.EqualValues(t, 0, c.Res)

	s := q.Metrics().Snapshot()
	require.EqualValues(t, 1, s.Submissions)
	require.EqualValues(t, 1, s.Completions)
}

func TestSyncQueueDistinctCorrelationIDs(t *testing.T) {
	fake := newFakeDriver(8)
	q := NewSyncQueue(fake)
	defer q.Close()

	seen := map[uint64]bool{}
	for i := 0; i < 10; i++ {
		c, err := q.SubmitAndWait(Nop())
		require.NoError(t, err)
		require.False(t, seen[c.UserData], "correlation id %d reused", c.UserData)
		seen[c.UserData] = true
	}
}

func TestSyncQueueCompletionError(t *testing.T) {
	fake := newFakeDriver(8)
	fake.handler = func(batch []fakeEntry) []Completion {
		out := make([]Completion, len(batch))
		for i, e := range batch {
			out[i] = Completion{UserData: e.id, Res: -int32(syscall.EBADF)}
		}
		return out
	}
	q := NewSyncQueue(fake)
	defer q.Close()

	c, err := q.SubmitAndWait(Nop())
	require.Error(t, err)
	require.True(t, IsErrno(err, syscall.EBADF))
	require.EqualValues(t, -int32(syscall.EBADF), c.Res, "the raw completion is still returned")
}

func TestSyncQueueCorrelationMismatchPoisons(t *testing.T) {
	fake := newFakeDriver(8)
	fake.handler = func(batch []fakeEntry) []Completion {
		out := make([]Completion, len(batch))
		for i, e := range batch {
			out[i] = Completion{UserData: e.id + 1000}
		}
		return out
	}
	q := NewSyncQueue(fake)
	defer q.Close()

	_, err := q.SubmitAndWait(Nop())
	require.Error(t, err)
	require.True(t, IsCode(err, ErrCodeCorrelation))

	// Once poisoned, the queue refuses further work without touching
	// the ring.
	before := fake.submitCalls
	_, err = q.SubmitAndWait(Nop())
	require.True(t, IsCode(err, ErrCodeCorrelation))
	require.Equal(t, before, fake.submitCalls)
}

func TestSyncQueueQueueFull(t *testing.T) {
	fake := newFakeDriver(1)
	// Fill the single slot out of band so Submit fails.
	_, err := fake.Submit(Nop())
	require.NoError(t, err)

	q := NewSyncQueue(fake)
	_, err = q.SubmitAndWait(Nop())
	require.True(t, IsQueueFull(err))
	require.EqualValues(t, 1, q.Metrics().Snapshot().QueueFull)
}

func TestSyncQueueTimeoutExpires(t *testing.T) {
	fake := newFakeDriver(8)
	fake.handler = func(batch []fakeEntry) []Completion {
		out := make([]Completion, len(batch))
		for i, e := range batch {
			if e.desc.Op() == OpLinkTimeout {
				out[i] = Completion{UserData: e.id, Res: -int32(syscall.ETIME)}
			} else {
				out[i] = Completion{UserData: e.id, Res: -int32(syscall.ECANCELED)}
			}
		}
		return out
	}
	q := NewSyncQueue(fake)
	defer q.Close()

	_, err := q.SubmitAndWaitTimeout(Nop(), 10*time.Millisecond)
	require.Error(t, err)
	require.True(t, IsTimeout(err))
	require.True(t, IsErrno(err, syscall.ETIME))
	require.EqualValues(t, 1, q.Metrics().Snapshot().Timeouts)
}

func TestSyncQueueTimeoutOperationWins(t *testing.T) {
	fake := newFakeDriver(8)
	q := NewSyncQueue(fake)
	defer q.Close()

	// The default handler completes the primary with 0 and the timer
	// with -ECANCELED: the operation beat the clock.
	c, err := q.SubmitAndWaitTimeout(Nop(), time.Second)
	require.NoError(t, err)
	require.EqualValues(t, 0, c.Res)
	require.EqualValues(t, 0, q.Metrics().Snapshot().Timeouts)
}

func TestSyncQueueTimeoutNeedsTwoSlots(t *testing.T) {
	fake := newFakeDriver(2)
	_, err := fake.Submit(Nop())
	require.NoError(t, err)

	q := NewSyncQueue(fake)
	_, err = q.SubmitAndWaitTimeout(Nop(), time.Second)
	require.True(t, IsQueueFull(err))
}

func TestSyncQueueZeroTimeoutDelegates(t *testing.T) {
	fake := newFakeDriver(8)
	q := NewSyncQueue(fake)
	defer q.Close()

	c, err := q.SubmitAndWaitTimeout(Nop(), 0)
	require.NoError(t, err)
	require.EqualValues(t, 0, c.Res)
	// No timer entry was submitted.
	require.Equal(t, 1, fake.submitCalls)
}

func TestSyncQueueClosedRing(t *testing.T) {
	fake := newFakeDriver(8)
	q := NewSyncQueue(fake)
	require.NoError(t, q.Close())

	_, err := q.SubmitAndWait(Nop())
	require.True(t, IsCode(err, ErrCodeRingClosed))
}
