package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdesksystems/dialer-engine/pkg/models"
)

func testClock(start time.Time) (func() time.Time, func(time.Duration)) {
	current := start
	return func() time.Time { return current },
		func(d time.Duration) { current = current.Add(d) }
}

func TestLazyCreationAndSnapshot(t *testing.T) {
	r := New(0)

	_, ok := r.Get(7)
	assert.False(t, ok)

	// First reference through AvailableFor creates the agent as available.
	ids := r.AvailableFor([]int{7})
	assert.Equal(t, []int{7}, ids)

	st, ok := r.Get(7)
	require.True(t, ok)
	assert.Equal(t, models.AgentStatusAvailable, st.Status)
	assert.Zero(t, st.CurrentCallID)
}

func TestOnCallInvariant(t *testing.T) {
	r := New(0)

	// on_call without a call id is rejected.
	assert.ErrorIs(t, r.SetStatus(1, models.AgentStatusOnCall, 0), ErrCallRequired)

	require.NoError(t, r.MarkOnCall(1, 42))
	st, _ := r.Get(1)
	assert.Equal(t, models.AgentStatusOnCall, st.Status)
	assert.Equal(t, 42, st.CurrentCallID)

	// An on-call agent cannot be force-moved; only FinishCall/Release do that.
	assert.ErrorIs(t, r.SetStatus(1, models.AgentStatusAvailable, 0), ErrAgentBusy)
	assert.ErrorIs(t, r.SetStatus(1, models.AgentStatusOffline, 0), ErrAgentBusy)

	st, _ = r.Get(1)
	assert.Equal(t, 42, st.CurrentCallID)
}

func TestFinishCallCounters(t *testing.T) {
	now, advance := testClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	r := New(0).WithClock(now)

	require.NoError(t, r.MarkOnCall(1, 42))
	advance(42 * time.Second)
	r.FinishCall(1, 42*time.Second)

	st, _ := r.Get(1)
	assert.Equal(t, models.AgentStatusAvailable, st.Status)
	assert.Zero(t, st.CurrentCallID)
	assert.Equal(t, 1, st.CallsToday)
	assert.Equal(t, 42, st.TalkTimeToday)
	assert.Equal(t, now(), st.LastCallEnd)

	// Finishing twice is a no-op (event replay).
	r.FinishCall(1, 42*time.Second)
	st, _ = r.Get(1)
	assert.Equal(t, 1, st.CallsToday)
}

func TestReleaseDoesNotCount(t *testing.T) {
	r := New(0)
	require.NoError(t, r.MarkOnCall(1, 42))
	r.Release(1)

	st, _ := r.Get(1)
	assert.Equal(t, models.AgentStatusAvailable, st.Status)
	assert.Zero(t, st.CallsToday)
}

func TestAvailableForOldestIdleFirst(t *testing.T) {
	now, advance := testClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	r := New(0).WithClock(now)

	// Agent 1 finishes a call first, agent 2 an hour later; agent 3 never
	// called (zero last_call_end sorts first).
	require.NoError(t, r.MarkOnCall(1, 10))
	r.FinishCall(1, time.Minute)
	advance(time.Hour)
	require.NoError(t, r.MarkOnCall(2, 11))
	r.FinishCall(2, time.Minute)

	require.NoError(t, r.SetStatus(4, models.AgentStatusOffline, 0))

	ids := r.AvailableFor([]int{1, 2, 3, 4})
	assert.Equal(t, []int{3, 1, 2}, ids)
}

func TestOnCallDuration(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now, _ := testClock(start)
	r := New(0).WithClock(now)

	assert.Zero(t, r.OnCallDuration(1, start))

	require.NoError(t, r.MarkOnCall(1, 42))
	assert.Equal(t, 3*time.Minute, r.OnCallDuration(1, start.Add(3*time.Minute)))

	r.FinishCall(1, 3*time.Minute)
	assert.Zero(t, r.OnCallDuration(1, start.Add(4*time.Minute)))
}

func TestDailyCounterReset(t *testing.T) {
	now, advance := testClock(time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC))
	r := New(0).WithClock(now)

	require.NoError(t, r.MarkOnCall(1, 42))
	r.FinishCall(1, time.Minute)
	st, _ := r.Get(1)
	assert.Equal(t, 1, st.CallsToday)

	// Cross midnight: counters reset on next read.
	advance(3 * time.Hour)
	st, _ = r.Get(1)
	assert.Zero(t, st.CallsToday)
	assert.Zero(t, st.TalkTimeToday)
}

func TestOnCallCount(t *testing.T) {
	r := New(0)
	require.NoError(t, r.MarkOnCall(1, 10))
	require.NoError(t, r.MarkOnCall(2, 11))
	r.FinishCall(2, 0)

	assert.Equal(t, 1, r.OnCallCount([]int{1, 2, 3}))
}
