package agent

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"meetbot/pkg/api"
	"meetbot/pkg/auth"
	"meetbot/pkg/bot"
	"meetbot/pkg/broker"
	"meetbot/pkg/bus"
	"meetbot/pkg/channel"
	"meetbot/pkg/config"
	"meetbot/pkg/dom/memdom"
	"meetbot/pkg/fault"
	"meetbot/pkg/injector"
	"meetbot/pkg/logger"
	"meetbot/pkg/panel"
)

const meetingURL = "https://meet.google.com/abc-defg-hij"

type fakeCommands struct {
	mu       sync.Mutex
	startErr error
	snapshot bot.Snapshot
	starts   int
	stops    int
}

func (f *fakeCommands) Start(context.Context, string, []string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.starts++
	if f.startErr != nil {
		return time.Time{}, f.startErr
	}
	return time.Now().UTC(), nil
}

func (f *fakeCommands) Stop(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stops++
	return nil
}

func (f *fakeCommands) Status(context.Context, string) (bot.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.snapshot.Status == "" {
		return bot.Snapshot{Status: bus.StatusIdle}, nil
	}
	return f.snapshot, nil
}

func (f *fakeCommands) setSnapshot(s bot.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot = s
}

type fakeRemote struct{}

func (fakeRemote) Login(_ context.Context, req api.LoginRequest) (*api.AuthResponse, error) {
	if req.Password != "secret" {
		return nil, fault.Wrap(fault.Auth, &api.HTTPError{StatusCode: 401, Message: "Invalid credentials"}, "Invalid credentials")
	}
	return &api.AuthResponse{Access: "a", Refresh: "r", User: &api.User{FullName: "Ada Lovelace", Email: req.Email}}, nil
}

func (fakeRemote) Signup(context.Context, api.SignupRequest) (*api.AuthResponse, error) {
	return &api.AuthResponse{Message: auth.VerificationMessage}, nil
}

func (fakeRemote) Profile(context.Context, string) (*api.User, error) {
	return &api.User{FullName: "Ada Lovelace"}, nil
}

type harness struct {
	doc      *memdom.Document
	broker   *broker.Broker
	store    *auth.MemoryStore
	commands *fakeCommands
	inst     *Instance
	meeting  *memdom.Element
	main     *memdom.Element
}

func newHarness(t *testing.T, loggedIn bool) *harness {
	t.Helper()

	return newHarnessWith(t, fakeRemote{}, func(store *auth.MemoryStore) {
		if loggedIn {
			_ = store.Set(context.Background(), auth.KeyTokens, []byte(`{"access":"a","refresh":"r"}`))
			_ = store.Set(context.Background(), auth.KeyProfile, []byte(`{"full_name":"Ada Lovelace","email":"ada@example.com"}`))
		}
	})
}

func newHarnessWith(t *testing.T, remote auth.Remote, seed func(*auth.MemoryStore)) *harness {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	b := broker.New(broker.DefaultChannelName, logger.Discard())
	go func() { _ = b.Run(ctx) }()

	store := auth.NewMemoryStore()
	seed(store)

	h := &harness{
		doc:      memdom.New(meetingURL),
		broker:   b,
		store:    store,
		commands: &fakeCommands{},
	}
	h.main = h.doc.Append(nil, &memdom.Element{Tag: "div", Attrs: map[string]string{"role": "main"}, Width: 800, Height: 600})

	events := bus.New()
	h.inst = New(Deps{
		Document:  h.doc,
		Dialer:    channel.LocalDialer{Broker: b},
		Messenger: b,
		Commands:  h.commands,
		Auth:      auth.NewManager(store, remote, events, logger.Discard()),
		Events:    events,
	}, Options{
		PollInterval:   10 * time.Millisecond,
		RetryDelay:     10 * time.Millisecond,
		InjectionRetry: 5 * time.Millisecond,
	}, logger.Discard())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.inst.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
		<-b.Done()
		events.Close()
	})
	return h
}

func (h *harness) startMeeting() {
	h.meeting = h.doc.Append(nil, &memdom.Element{
		Tag:    "div",
		Attrs:  map[string]string{"data-allocation-index": "0"},
		Width:  640,
		Height: 360,
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// waitSettled waits until the mount-time refresh has pushed its status.
func (h *harness) waitSettled(t *testing.T) {
	t.Helper()

	waitFor(t, "mount", h.inst.Mounted)
	waitFor(t, "mount refresh", func() bool {
		for _, change := range h.inst.History() {
			if change.Source == bus.SourcePoller {
				return true
			}
		}
		return false
	})
}

func (h *harness) panelHTML() string {
	shadow, ok := h.doc.MountPoint(injector.PanelID)
	if !ok {
		return ""
	}
	return shadow.HTML
}

func (h *harness) brokerStatus() bus.Status {
	status, _ := h.broker.Status(context.Background())
	return status
}

func TestMountFollowsMeetingVisibility(t *testing.T) {
	h := newHarness(t, false)

	time.Sleep(20 * time.Millisecond)
	if h.inst.Mounted() {
		t.Fatalf("panel mounted without a meeting")
	}

	h.startMeeting()
	waitFor(t, "mount", h.inst.Mounted)

	shadow, _ := h.doc.MountPoint(injector.PanelID)
	if shadow.ClassName != panel.AuthClass {
		t.Fatalf("class = %q, want %q", shadow.ClassName, panel.AuthClass)
	}
	if parent := h.doc.ParentOf(injector.PanelID); parent != h.main {
		t.Fatalf("panel mounted under %#v, want the main container", parent)
	}

	h.doc.SetStyle(h.meeting, "display", "none")
	waitFor(t, "removal", func() bool { return h.doc.Count("#"+injector.PanelID) == 0 })

	h.doc.SetStyle(h.meeting, "display", "block")
	waitFor(t, "remount", func() bool { return h.doc.Count("#"+injector.PanelID) == 1 })
}

func TestRemountAfterHostWipesContainer(t *testing.T) {
	h := newHarness(t, true)
	h.startMeeting()
	waitFor(t, "mount", h.inst.Mounted)
	waitFor(t, "channel port", func() bool {
		n, _ := h.broker.PortCount(context.Background())
		return n == 1
	})

	h.doc.RemoveNode(h.main)
	h.doc.SetSize(h.meeting, 641, 360)

	waitFor(t, "remount under body", func() bool {
		parent := h.doc.ParentOf(injector.PanelID)
		return parent != nil && parent.Tag == "body"
	})
	if got := h.doc.Count("#" + injector.PanelID); got != 1 {
		t.Fatalf("mount points = %d, want 1", got)
	}
	waitFor(t, "single channel port", func() bool {
		n, _ := h.broker.PortCount(context.Background())
		return n == 1
	})
}

func TestBrokerStatusReachesPanel(t *testing.T) {
	h := newHarness(t, true)
	h.startMeeting()
	h.waitSettled(t)
	waitFor(t, "channel port", func() bool {
		n, _ := h.broker.PortCount(context.Background())
		return n == 1
	})

	if _, err := h.broker.Send(context.Background(), bus.Message{Type: bus.TypeSetStatus, Status: bus.StatusAwaiting}); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	waitFor(t, "awaiting replica", func() bool { return h.inst.Status() == bus.StatusAwaiting })
	waitFor(t, "awaiting render", func() bool { return strings.Contains(h.panelHTML(), "Awaiting Bot to Join...") })

	found := false
	for _, event := range h.doc.Dispatched() {
		if event.Event == injector.StatusEvent && event.Detail["status"] == bus.StatusAwaiting {
			found = true
		}
	}
	if !found {
		t.Fatalf("no %s event with status awaiting in %#v", injector.StatusEvent, h.doc.Dispatched())
	}
}

func TestStartActionPollsToJoined(t *testing.T) {
	h := newHarness(t, true)
	h.startMeeting()
	h.waitSettled(t)

	h.commands.setSnapshot(bot.Snapshot{Status: bus.StatusJoined, StartTime: time.Now().Add(-time.Minute)})
	h.doc.Click(panel.ActionStart, nil)

	waitFor(t, "joined replica", func() bool { return h.inst.Status() == bus.StatusJoined })
	waitFor(t, "broker joined", func() bool { return h.brokerStatus() == bus.StatusJoined })
	waitFor(t, "active time", func() bool { return strings.Contains(h.panelHTML(), "Active Time: 01:") })

	h.doc.Click(panel.ActionStop, nil)
	waitFor(t, "stopped replica", func() bool { return h.inst.Status() == bus.StatusStopped })
	waitFor(t, "broker stopped", func() bool { return h.brokerStatus() == bus.StatusStopped })
}

func TestStartFailureShowsErrorWithoutStateChange(t *testing.T) {
	h := newHarness(t, true)
	h.commands.mu.Lock()
	h.commands.startErr = fault.New(fault.Domain, "Bot already in meeting")
	h.commands.mu.Unlock()
	h.startMeeting()
	h.waitSettled(t)

	h.doc.Click(panel.ActionStart, nil)
	waitFor(t, "error card", func() bool { return strings.Contains(h.panelHTML(), "Bot already in meeting") })

	if got := h.inst.Status(); got != bus.StatusIdle {
		t.Fatalf("status = %q, want idle", got)
	}
}

func TestLoginRerendersInPlace(t *testing.T) {
	h := newHarness(t, false)
	h.startMeeting()
	waitFor(t, "mount", h.inst.Mounted)

	h.doc.Click(panel.ActionLogin, map[string]string{"email": "ada@example.com", "password": "wrong"})
	waitFor(t, "login error", func() bool { return strings.Contains(h.panelHTML(), "Invalid credentials") })

	host := h.doc.ParentOf(injector.PanelID)
	h.doc.Click(panel.ActionLogin, map[string]string{"email": "ada@example.com", "password": "secret"})
	waitFor(t, "control variant", func() bool {
		shadow, _ := h.doc.MountPoint(injector.PanelID)
		return shadow.ClassName == panel.ControlClass
	})

	if h.doc.ParentOf(injector.PanelID) != host || h.doc.Count("#"+injector.PanelID) != 1 {
		t.Fatalf("login must re-render the existing mount")
	}
	if !strings.Contains(h.panelHTML(), "Ada Lovelace") {
		t.Fatalf("profile missing from panel: %s", h.panelHTML())
	}

	h.doc.Click(panel.ActionLogout, nil)
	waitFor(t, "auth variant", func() bool {
		shadow, _ := h.doc.MountPoint(injector.PanelID)
		return shadow.ClassName == panel.AuthClass
	})
}

func TestSignupVerificationReturnsToLogin(t *testing.T) {
	h := newHarness(t, false)
	h.startMeeting()
	waitFor(t, "mount", h.inst.Mounted)

	h.doc.Click(panel.ActionShowSignup, nil)
	h.doc.Click(panel.ActionSignup, map[string]string{
		"full_name":       "Ada Lovelace",
		"email":           "ada@example.com",
		"password":        "secret",
		"confirmPassword": "secret",
	})

	waitFor(t, "verification notice", func() bool { return strings.Contains(h.panelHTML(), auth.VerificationMessage) })
}

func TestSessionInvalidationShowsAuthVariant(t *testing.T) {
	h := newHarness(t, true)
	h.startMeeting()
	waitFor(t, "control variant", func() bool {
		shadow, _ := h.doc.MountPoint(injector.PanelID)
		return shadow.ClassName == panel.ControlClass
	})

	h.inst.auth.Invalidate(context.Background(), "Your session has expired. Please log in again.")
	waitFor(t, "auth variant", func() bool {
		shadow, _ := h.doc.MountPoint(injector.PanelID)
		return shadow.ClassName == panel.AuthClass && strings.Contains(shadow.HTML, "session has expired")
	})
}

type profileRemote struct {
	fakeRemote

	mu    sync.Mutex
	calls int
	err   error
}

func (r *profileRemote) Profile(context.Context, string) (*api.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return &api.User{FullName: "Grace Hopper", Email: "grace@example.com"}, nil
}

func (r *profileRemote) profileCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func seedTokensOnly(store *auth.MemoryStore) {
	_ = store.Set(context.Background(), auth.KeyTokens, []byte(`{"access":"a","refresh":"r"}`))
}

func TestMountFetchesMissingProfile(t *testing.T) {
	remote := &profileRemote{}
	h := newHarnessWith(t, remote, seedTokensOnly)
	h.startMeeting()

	waitFor(t, "profile in panel", func() bool {
		shadow, _ := h.doc.MountPoint(injector.PanelID)
		return shadow.ClassName == panel.ControlClass && strings.Contains(shadow.HTML, "Grace Hopper")
	})
	if remote.profileCalls() < 1 {
		t.Fatalf("profile was never requested")
	}

	raw, err := h.store.Get(context.Background(), auth.KeyProfile)
	if err != nil || !strings.Contains(string(raw), "Grace Hopper") {
		t.Fatalf("profile not cached: %s, %v", raw, err)
	}
}

func TestProfileUnauthorizedShowsAuthVariant(t *testing.T) {
	remote := &profileRemote{err: fault.Wrap(fault.Auth, &api.HTTPError{StatusCode: 401, Message: "Given token not valid"}, "Given token not valid")}
	h := newHarnessWith(t, remote, seedTokensOnly)
	h.startMeeting()

	waitFor(t, "auth variant", func() bool {
		shadow, _ := h.doc.MountPoint(injector.PanelID)
		return shadow.ClassName == panel.AuthClass && strings.Contains(shadow.HTML, "session has expired")
	})
	if remote.profileCalls() < 1 {
		t.Fatalf("profile was never requested")
	}
	if _, err := h.store.Get(context.Background(), auth.KeyTokens); err == nil {
		t.Fatalf("tokens must be cleared after a 401 profile fetch")
	}
}

func TestHandleMessage(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	if resp := h.inst.HandleMessage(ctx, bus.Message{Type: bus.TypePing}); !resp.Success {
		t.Fatalf("PING = %#v", resp)
	}

	resp := h.inst.HandleMessage(ctx, bus.Message{Type: bus.TypeSetStatus, Status: bus.StatusJoined})
	if !resp.Success || h.inst.Status() != bus.StatusJoined {
		t.Fatalf("SET_STATUS = %#v, status %q", resp, h.inst.Status())
	}

	resp = h.inst.HandleMessage(ctx, bus.Message{Type: bus.TypeGetStatus})
	if resp.Status != bus.StatusJoined {
		t.Fatalf("GET_STATUS = %#v", resp)
	}

	if resp := h.inst.HandleMessage(ctx, bus.Message{Type: bus.TypeSetStatus, Status: "flying"}); resp.Success {
		t.Fatalf("invalid SET_STATUS accepted")
	}
	if resp := h.inst.HandleMessage(ctx, bus.Message{Type: "NOPE"}); resp.Success || resp.Error == "" {
		t.Fatalf("unknown type = %#v", resp)
	}

	history := h.inst.History()
	if len(history) == 0 || history[len(history)-1].Source != bus.SourceAgent {
		t.Fatalf("history = %#v", history)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.Default())

	if opts.PollInterval != 3*time.Second || opts.RetryDelay != time.Second || opts.MaxRetries != 5 {
		t.Fatalf("opts = %#v", opts)
	}
	if opts.ChannelName != broker.DefaultChannelName {
		t.Fatalf("channel name = %q", opts.ChannelName)
	}
}
