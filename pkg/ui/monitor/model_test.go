package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"meetbot/pkg/bus"
	"meetbot/pkg/fault"
)

type fakeController struct {
	mu       sync.Mutex
	starts   int
	stops    int
	startErr error
	active   time.Duration
}

func (f *fakeController) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startErr
}

func (f *fakeController) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeController) ActiveTime(time.Time) time.Duration {
	return f.active
}

func runCmd(t *testing.T, cmd tea.Cmd) []tea.Msg {
	t.Helper()
	if cmd == nil {
		return nil
	}

	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, inner := range batch {
			if inner == nil {
				continue
			}
			if result, ok := inner().(commandResultMsg); ok {
				out = append(out, result)
			}
		}
		return out
	}
	return []tea.Msg{msg}
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestStatusEventsUpdateView(t *testing.T) {
	t.Parallel()

	events := make(chan bus.Event, 1)
	ctrl := &fakeController{active: 75 * time.Second}
	m := newModel(context.Background(), Info{BrokerAddr: "127.0.0.1:18791"}, events, ctrl)

	_, cmd := m.Update(eventMsg{event: bus.Event{Type: bus.EventStatusUpdate, Status: bus.StatusJoined, Source: bus.SourceChannel}, ok: true})
	if cmd == nil {
		t.Fatal("expected the monitor to keep listening for events")
	}

	view := m.View()
	for _, want := range []string{"Bot is Working", "Active Time: 01:15", "127.0.0.1:18791", "status joined via channel"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestClosedFeedMarksDisconnected(t *testing.T) {
	t.Parallel()

	m := newModel(context.Background(), Info{}, make(chan bus.Event), nil)
	m.Update(eventMsg{ok: false})

	if m.connected {
		t.Fatal("expected monitor to be disconnected")
	}
	if !strings.Contains(m.View(), "not connected") {
		t.Fatalf("view = %s", m.View())
	}
}

func TestStartKeyRunsController(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{}
	m := newModel(context.Background(), Info{MeetingURL: "https://meet.example/abc"}, nil, ctrl)

	_, cmd := m.Update(key("s"))
	if m.loading != "start" {
		t.Fatalf("loading = %q, want start", m.loading)
	}
	for _, msg := range runCmd(t, cmd) {
		m.Update(msg)
	}

	if ctrl.starts != 1 || m.loading != "" || m.lastErr != "" {
		t.Fatalf("starts=%d loading=%q err=%q", ctrl.starts, m.loading, m.lastErr)
	}
}

func TestStartDisabledWhileJoined(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{}
	m := newModel(context.Background(), Info{}, nil, ctrl)
	m.status = bus.StatusJoined

	if _, cmd := m.Update(key("s")); cmd != nil {
		t.Fatal("start must be disabled while joined")
	}
	if _, cmd := m.Update(key("x")); cmd == nil {
		t.Fatal("stop must be enabled while joined")
	}
}

func TestStopEnabledOnlyWhileJoined(t *testing.T) {
	t.Parallel()

	for _, status := range []bus.Status{bus.StatusIdle, bus.StatusAwaiting, bus.StatusStopped, bus.StatusError} {
		ctrl := &fakeController{}
		m := newModel(context.Background(), Info{}, nil, ctrl)
		m.status = status

		if _, cmd := m.Update(key("x")); cmd != nil {
			t.Fatalf("stop must be disabled while %s", status)
		}
		if m.loading != "" {
			t.Fatalf("loading = %q while %s, want empty", m.loading, status)
		}
	}
}

func TestCommandFailureShowsMessage(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{startErr: fault.Wrap(fault.Domain, errors.New("http 400"), "Bot already in meeting")}
	m := newModel(context.Background(), Info{}, nil, ctrl)

	_, cmd := m.Update(key("s"))
	for _, msg := range runCmd(t, cmd) {
		m.Update(msg)
	}

	if m.lastErr != "Bot already in meeting" {
		t.Fatalf("lastErr = %q", m.lastErr)
	}
	if m.status != bus.StatusIdle {
		t.Fatalf("status = %q, want idle", m.status)
	}
}

func TestReadOnlyWithoutController(t *testing.T) {
	t.Parallel()

	m := newModel(context.Background(), Info{}, make(chan bus.Event), nil)
	if _, cmd := m.Update(key("s")); cmd != nil {
		t.Fatal("expected no command without a controller")
	}
	if !strings.Contains(m.View(), "--meeting") {
		t.Fatalf("view = %s", m.View())
	}
}

func TestQuitKeys(t *testing.T) {
	t.Parallel()

	m := newModel(context.Background(), Info{}, nil, nil)
	_, cmd := m.Update(key("q"))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
}
