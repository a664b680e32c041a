package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdesksystems/dialer-engine/pkg/ami"
	"github.com/rdesksystems/dialer-engine/pkg/events"
	"github.com/rdesksystems/dialer-engine/pkg/models"
	"github.com/rdesksystems/dialer-engine/pkg/registry"
	"github.com/rdesksystems/dialer-engine/pkg/repository"
)

// channelMap is a test stand-in for the engine's channel-name → call-id
// map: dropped entries leave the active set but stay resolvable so
// replayed events for an ended call still reach the audit log.
type channelMap struct {
	mu     sync.Mutex
	active map[string]int
	ended  map[string]int
}

func newChannelMap() *channelMap {
	return &channelMap{active: make(map[string]int), ended: make(map[string]int)}
}

func (c *channelMap) Register(channel string, callID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[channel] = callID
	delete(c.ended, channel)
}

func (c *channelMap) CallID(channel string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.active[channel]; ok {
		return id, true
	}
	id, ok := c.ended[channel]
	return id, ok
}

func (c *channelMap) Drop(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.active[channel]; ok {
		delete(c.active, channel)
		c.ended[channel] = id
	}
}

func (c *channelMap) isActive(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[channel]
	return ok
}

type fixture struct {
	repo     *repository.Memory
	reg      *registry.Registry
	channels *channelMap
	bus      *events.Broadcaster
	rec      *Reconciler
	call     *models.Call
	advance  func(time.Duration)
}

const testChannel = "SIP/trunk/5551234"

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := repository.NewMemory()
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now := func() time.Time { return current }

	reg := registry.New(0).WithClock(now)
	channels := newChannelMap()
	bus := events.NewBroadcaster()
	rec := New(repo, reg, channels, bus).WithClock(now)

	// One in-flight call the way the engine leaves it after originate.
	call := &models.Call{
		LeadID: 1, CampaignID: 1, AgentID: 7,
		PhoneNumber: "5551234",
		Direction:   models.CallDirectionOutbound,
		Status:      models.CallStatusInitiated,
		StartedAt:   current,
	}
	require.NoError(t, repo.InsertCall(context.Background(), call))
	require.NoError(t, reg.MarkOnCall(7, call.ID))
	channels.Register(testChannel, call.ID)

	return &fixture{
		repo: repo, reg: reg, channels: channels, bus: bus, rec: rec, call: call,
		advance: func(d time.Duration) { current = current.Add(d) },
	}
}

func (f *fixture) reload(t *testing.T) *models.Call {
	t.Helper()
	call, err := f.repo.CallByID(context.Background(), f.call.ID)
	require.NoError(t, err)
	return call
}

func TestHappyPathLifecycle(t *testing.T) {
	f := newFixture(t)

	f.rec.HandleNewchannel(ami.Message{"Event": "Newchannel", "Channel": testChannel})
	assert.Equal(t, models.CallStatusInitiated, f.reload(t).Status)

	f.rec.HandleDialBegin(ami.Message{"Event": "DialBegin", "Channel": testChannel})
	assert.Equal(t, models.CallStatusRinging, f.reload(t).Status)

	f.rec.HandleDialEnd(ami.Message{"Event": "DialEnd", "Channel": testChannel, "DialStatus": "ANSWER"})
	call := f.reload(t)
	assert.Equal(t, models.CallStatusAnswered, call.Status)
	require.NotNil(t, call.AnsweredAt)

	f.advance(42 * time.Second)
	f.rec.HandleHangup(ami.Message{"Event": "Hangup", "Channel": testChannel})
	call = f.reload(t)
	assert.Equal(t, models.CallStatusCompleted, call.Status)
	assert.Equal(t, 42, call.DurationSeconds)

	// Agent released with counters updated.
	st, _ := f.reg.Get(7)
	assert.Equal(t, models.AgentStatusAvailable, st.Status)
	assert.Equal(t, 1, st.CallsToday)
	assert.Equal(t, 42, st.TalkTimeToday)

	// Channel mapping dropped from the active set.
	assert.False(t, f.channels.isActive(testChannel))

	// Four audit rows: new_channel, dial_begin, dial_end, hangup.
	assert.Len(t, f.repo.EventsFor(f.call.ID), 4)
}

func TestDialEndBusyReplay(t *testing.T) {
	// The same DialEnd{BUSY} delivered twice: terminal status busy (not
	// failed), two audit rows, one agent-status transition.
	f := newFixture(t)
	msg := ami.Message{"Event": "DialEnd", "Channel": testChannel, "DialStatus": "BUSY"}

	f.rec.HandleDialEnd(msg)
	st, _ := f.reg.Get(7)
	require.Equal(t, models.AgentStatusAvailable, st.Status)
	require.Equal(t, 1, st.CallsToday)

	// Replay: the event still resolves (and lands in the audit log) but
	// the terminal call and the agent are untouched.
	f.rec.HandleDialEnd(msg)

	call := f.reload(t)
	assert.Equal(t, models.CallStatusBusy, call.Status)
	require.NotNil(t, call.EndedAt)

	st, _ = f.reg.Get(7)
	assert.Equal(t, 1, st.CallsToday)
	assert.Len(t, f.repo.EventsFor(f.call.ID), 2)
}

func TestDialEndStatusMapping(t *testing.T) {
	tests := []struct {
		dialStatus string
		want       models.CallStatus
	}{
		{"BUSY", models.CallStatusBusy},
		{"CONGESTION", models.CallStatusBusy},
		{"NOANSWER", models.CallStatusNoAnswer},
		{"CANCEL", models.CallStatusNoAnswer},
		{"CHANUNAVAIL", models.CallStatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.dialStatus, func(t *testing.T) {
			f := newFixture(t)
			f.rec.HandleDialEnd(ami.Message{"Event": "DialEnd", "Channel": testChannel, "DialStatus": tt.dialStatus})
			assert.Equal(t, tt.want, f.reload(t).Status)
		})
	}
}

func TestBridgeDialEndAnswerRace(t *testing.T) {
	// Bridge and DialEnd{ANSWER} both transition to answered; whichever
	// arrives first wins and the second is a no-op.
	f := newFixture(t)

	f.rec.HandleBridge(ami.Message{"Event": "Bridge", "Channel1": testChannel, "Channel2": "SIP/agent/7"})
	call := f.reload(t)
	require.Equal(t, models.CallStatusAnswered, call.Status)
	firstAnswered := *call.AnsweredAt

	f.advance(5 * time.Second)
	f.rec.HandleDialEnd(ami.Message{"Event": "DialEnd", "Channel": testChannel, "DialStatus": "ANSWER"})

	call = f.reload(t)
	assert.Equal(t, models.CallStatusAnswered, call.Status)
	assert.Equal(t, firstAnswered, *call.AnsweredAt, "second answer transition must not restamp answered_at")
}

func TestHangupReplaySingleTransitionAndBroadcast(t *testing.T) {
	f := newFixture(t)

	ended := make(chan events.Event, 4)
	ch, cancel := f.bus.Subscribe(4)
	defer cancel()
	go func() {
		for ev := range ch {
			if ev.Type == events.TypeCallEnded {
				ended <- ev
			}
		}
	}()

	msg := ami.Message{"Event": "Hangup", "Channel": testChannel}
	f.rec.HandleHangup(msg)
	f.rec.HandleHangup(msg)

	call := f.reload(t)
	assert.Equal(t, models.CallStatusCompleted, call.Status)

	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("call_ended was not broadcast")
	}
	select {
	case <-ended:
		t.Fatal("call_ended broadcast twice for a replayed hangup")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTerminalCallNeverMutates(t *testing.T) {
	f := newFixture(t)
	f.rec.HandleDialEnd(ami.Message{"Event": "DialEnd", "Channel": testChannel, "DialStatus": "BUSY"})
	require.Equal(t, models.CallStatusBusy, f.reload(t).Status)

	f.rec.HandleDialBegin(ami.Message{"Event": "DialBegin", "Channel": testChannel})
	f.rec.HandleBridge(ami.Message{"Event": "Bridge", "Channel1": testChannel})
	f.rec.HandleHangup(ami.Message{"Event": "Hangup", "Channel": testChannel})

	call := f.reload(t)
	assert.Equal(t, models.CallStatusBusy, call.Status)

	// Late events still land in the audit log.
	assert.Len(t, f.repo.EventsFor(f.call.ID), 4)
}

func TestUnresolvableChannelIgnored(t *testing.T) {
	f := newFixture(t)
	f.rec.HandleHangup(ami.Message{"Event": "Hangup", "Channel": "SIP/unknown/999"})

	assert.Equal(t, models.CallStatusInitiated, f.reload(t).Status)
	assert.Empty(t, f.repo.EventsFor(f.call.ID))
}

func TestRollupsOnTerminal(t *testing.T) {
	f := newFixture(t)
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	f.rec.HandleDialEnd(ami.Message{"Event": "DialEnd", "Channel": testChannel, "DialStatus": "ANSWER"})
	f.advance(30 * time.Second)
	f.rec.HandleHangup(ami.Message{"Event": "Hangup", "Channel": testChannel})

	perf, err := f.repo.AgentPerformanceFor(context.Background(), 7, 1, day)
	require.NoError(t, err)
	assert.Equal(t, 1, perf.CallsMade)
	assert.Equal(t, 1, perf.CallsAnswered)
	assert.Equal(t, 30, perf.TotalTalkTime)

	stats, err := f.repo.CampaignStatisticsFor(context.Background(), 1, day)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalCalls)
	assert.Equal(t, 1, stats.SuccessfulCalls)
	assert.Equal(t, 30, stats.TotalDurationSeconds)
}
