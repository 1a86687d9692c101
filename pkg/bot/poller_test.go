package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetbot/pkg/broker"
	"meetbot/pkg/bus"
	"meetbot/pkg/fault"
	"meetbot/pkg/logger"
)

// scriptedCommands answers Status from a queue. The last entry repeats.
type scriptedCommands struct {
	mu        sync.Mutex
	started   time.Time
	startErr  error
	stopErr   error
	statuses  []Snapshot
	polls     int
	lastEmail []string
}

func (s *scriptedCommands) Start(_ context.Context, _ string, emails []string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastEmail = emails
	return s.started, s.startErr
}

func (s *scriptedCommands) Stop(context.Context, string) error {
	return s.stopErr
}

func (s *scriptedCommands) Status(context.Context, string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.polls++
	if len(s.statuses) == 0 {
		return Snapshot{}, errors.New("no script")
	}
	next := s.statuses[0]
	if len(s.statuses) > 1 {
		s.statuses = s.statuses[1:]
	}
	return next, nil
}

func (s *scriptedCommands) Polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

func (s *scriptedCommands) Script(snapshots ...Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = snapshots
}

type recordingMessenger struct {
	mu   sync.Mutex
	sent []bus.Status
}

func (r *recordingMessenger) Send(_ context.Context, msg bus.Message) (bus.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg.Status)
	return bus.Response{Success: true}, nil
}

func (r *recordingMessenger) Sent() []bus.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bus.Status(nil), r.sent...)
}

const testInterval = 10 * time.Millisecond

func TestStartPollsUntilJoined(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	commands := &scriptedCommands{started: t0}
	commands.Script(Snapshot{Status: bus.StatusJoined, StartTime: t0})
	messenger := &recordingMessenger{}

	p := NewPoller(commands, PollerOptions{Interval: testInterval, Messenger: messenger}, logger.Discard())
	participants := []Participant{{Name: "Ada", Email: "ada@example.com"}}

	require.NoError(t, p.Start(context.Background(), "https://meet.example/abc", participants))
	assert.Equal(t, bus.StatusAwaiting, p.Status())
	assert.Equal(t, t0, p.StartTime())
	assert.True(t, p.Polling())
	assert.Equal(t, []string{"ada@example.com"}, commands.lastEmail)

	require.Eventually(t, func() bool { return p.Status() == bus.StatusJoined }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !p.Polling() }, time.Second, 5*time.Millisecond)

	polls := commands.Polls()
	time.Sleep(5 * testInterval)
	assert.Equal(t, polls, commands.Polls(), "polling must stop once joined")

	now := t0.Add(90 * time.Second)
	assert.Equal(t, 90*time.Second, p.ActiveTime(now))
	assert.Equal(t, []bus.Status{bus.StatusAwaiting, bus.StatusJoined}, messenger.Sent())
	assert.Len(t, p.Participants(), 1)
}

func TestRunningThenStoppedResetsActiveTime(t *testing.T) {
	t0 := time.Now().Add(-time.Minute).UTC()
	commands := &scriptedCommands{started: t0}
	commands.Script(Snapshot{Status: bus.StatusJoined, StartTime: t0})

	p := NewPoller(commands, PollerOptions{Interval: testInterval}, logger.Discard())
	require.NoError(t, p.Start(context.Background(), "https://meet.example/abc", nil))
	require.Eventually(t, func() bool { return p.Status() == bus.StatusJoined }, time.Second, 5*time.Millisecond)
	assert.Positive(t, p.ActiveTime(time.Now()))

	commands.Script(Snapshot{Status: bus.StatusStopped})
	status, err := p.Refresh(context.Background(), "https://meet.example/abc")
	require.NoError(t, err)

	assert.Equal(t, bus.StatusStopped, status)
	assert.False(t, p.Polling())
	assert.True(t, p.StartTime().IsZero())
	assert.Zero(t, p.ActiveTime(time.Now()))
	assert.Empty(t, p.Participants())
}

func TestPollCorrectsStartTime(t *testing.T) {
	local := time.Now().UTC()
	server := local.Add(-30 * time.Second)
	commands := &scriptedCommands{}
	commands.Script(
		Snapshot{Status: bus.StatusAwaiting},
		Snapshot{Status: bus.StatusJoined, StartTime: server},
	)

	p := NewPoller(commands, PollerOptions{Interval: testInterval}, logger.Discard())
	p.now = func() time.Time { return local }

	require.NoError(t, p.Start(context.Background(), "https://meet.example/abc", nil))
	assert.Equal(t, local, p.StartTime())

	require.Eventually(t, func() bool { return p.Status() == bus.StatusJoined }, time.Second, 5*time.Millisecond)
	assert.Equal(t, server, p.StartTime())
	assert.GreaterOrEqual(t, commands.Polls(), 2)
}

func TestStartFailureKeepsState(t *testing.T) {
	commands := &scriptedCommands{startErr: fault.New(fault.Domain, "Bot already running")}
	p := NewPoller(commands, PollerOptions{Interval: testInterval}, logger.Discard())

	err := p.Start(context.Background(), "https://meet.example/abc", nil)
	require.Error(t, err)
	assert.Equal(t, "Bot already running", fault.Message(err))
	assert.Equal(t, bus.StatusIdle, p.Status())
	assert.False(t, p.Polling())
	assert.Zero(t, commands.Polls())
}

func TestStopClearsStateAndHalts(t *testing.T) {
	commands := &scriptedCommands{started: time.Now()}
	commands.Script(Snapshot{Status: bus.StatusAwaiting})
	events := bus.New()
	defer events.Close()
	sub, unsubscribe := events.Subscribe(context.Background(), 16)
	defer unsubscribe()

	p := NewPoller(commands, PollerOptions{Interval: time.Hour, Events: events}, logger.Discard())
	require.NoError(t, p.Start(context.Background(), "https://meet.example/abc", []Participant{{Name: "Ada"}}))
	require.NoError(t, p.Stop(context.Background(), "https://meet.example/abc"))

	assert.Equal(t, bus.StatusStopped, p.Status())
	assert.False(t, p.Polling())
	assert.True(t, p.StartTime().IsZero())
	assert.Empty(t, p.Participants())

	var seen []bus.Status
	for len(seen) < 2 {
		select {
		case event := <-sub:
			assert.Equal(t, bus.SourcePoller, event.Source)
			seen = append(seen, event.Status)
		case <-time.After(time.Second):
			t.Fatal("expected poller events")
		}
	}
	assert.Equal(t, []bus.Status{bus.StatusAwaiting, bus.StatusStopped}, seen)
}

func TestStopFailureKeepsState(t *testing.T) {
	commands := &scriptedCommands{started: time.Now(), stopErr: fault.New(fault.Domain, msgStopFailed)}
	p := NewPoller(commands, PollerOptions{Interval: time.Hour}, logger.Discard())

	require.NoError(t, p.Start(context.Background(), "https://meet.example/abc", nil))
	require.Error(t, p.Stop(context.Background(), "https://meet.example/abc"))
	assert.Equal(t, bus.StatusAwaiting, p.Status())
	assert.True(t, p.Polling())
	p.Halt()
}

func TestHaltIgnoresInFlightResponse(t *testing.T) {
	release := make(chan struct{})
	blocking := &blockingCommands{release: release, snapshot: Snapshot{Status: bus.StatusJoined}}
	p := NewPoller(blocking, PollerOptions{Interval: testInterval}, logger.Discard())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = p.Refresh(context.Background(), "https://meet.example/abc")
	}()

	require.Eventually(t, func() bool { return blocking.Calls() == 1 }, time.Second, time.Millisecond)
	p.Halt()
	close(release)
	<-done

	assert.Equal(t, bus.StatusIdle, p.Status())
}

func TestPollerPushesToBroker(t *testing.T) {
	b := broker.New(broker.DefaultChannelName, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()

	commands := &scriptedCommands{started: time.Now()}
	commands.Script(Snapshot{Status: bus.StatusJoined})
	p := NewPoller(commands, PollerOptions{Interval: testInterval, Messenger: b}, logger.Discard())

	require.NoError(t, p.Start(ctx, "https://meet.example/abc", nil))
	require.Eventually(t, func() bool {
		status, err := b.Status(ctx)
		return err == nil && status == bus.StatusJoined
	}, time.Second, 5*time.Millisecond)
}

type blockingCommands struct {
	scriptedCommands
	release  chan struct{}
	snapshot Snapshot
	mu       sync.Mutex
	calls    int
}

func (b *blockingCommands) Status(context.Context, string) (Snapshot, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	<-b.release
	return b.snapshot, nil
}

func (b *blockingCommands) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}
