package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"meetbot/pkg/bus"
	"meetbot/pkg/fault"
	"meetbot/pkg/panel"
)

const logLimit = 200

type logEntry struct {
	at     time.Time
	status bus.Status
	source bus.Source
	text   string
}

type eventMsg struct {
	event bus.Event
	ok    bool
}

type tickMsg time.Time

type commandResultMsg struct {
	action string
	err    error
}

type model struct {
	ctx    context.Context
	info   Info
	events <-chan bus.Event
	ctrl   Controller
	now    func() time.Time

	theme     theme
	spinner   spinner.Model
	viewport  viewport.Model
	width     int
	height    int
	isReady   bool
	status    bus.Status
	loading   string
	lastErr   string
	connected bool
	followLog bool
	entries   []logEntry
}

func newModel(ctx context.Context, info Info, events <-chan bus.Event, ctrl Controller) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Points
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	return &model{
		ctx:       ctx,
		info:      info,
		events:    events,
		ctrl:      ctrl,
		now:       time.Now,
		theme:     defaultTheme(),
		spinner:   spin,
		viewport:  viewport.New(80, 10),
		width:     100,
		height:    28,
		status:    bus.StatusIdle,
		connected: events != nil,
		followLog: true,
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.events), tickCmd())
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport()
		m.isReady = true
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc", "q":
			return m, tea.Quit
		case "s":
			return m, m.command("start")
		case "x":
			return m, m.command("stop")
		}
		m.handleViewportKey(typed)
		return m, nil
	case tea.MouseMsg:
		m.handleViewportMouse(typed)
		return m, nil
	case eventMsg:
		if !typed.ok {
			m.connected = false
			m.appendLog(logEntry{at: m.now(), text: "broker connection closed"})
			return m, nil
		}
		m.applyEvent(typed.event)
		return m, waitForEvent(m.events)
	case tickMsg:
		return m, tickCmd()
	case commandResultMsg:
		m.loading = ""
		if typed.err != nil {
			m.lastErr = fault.Message(typed.err)
			m.appendLog(logEntry{at: m.now(), text: typed.action + " failed: " + m.lastErr})
		} else {
			m.lastErr = ""
			m.appendLog(logEntry{at: m.now(), text: typed.action + " accepted"})
		}
		return m, nil
	case spinner.TickMsg:
		if m.loading == "" {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	}

	return m, nil
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport()
	}

	header := m.theme.header.Width(m.width - 2).Render("📟 MeetBot Monitor")
	meta := m.theme.headerMeta.Render(fmt.Sprintf(
		"broker:%s · meeting:%s · link:%s",
		displayOrNA(m.info.BrokerAddr),
		displayOrNA(m.info.MeetingURL),
		connectedLabel(m.connected),
	))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	parts := []string{header, meta, line, m.statusCard()}
	if m.lastErr != "" {
		parts = append(parts, lipgloss.JoinVertical(lipgloss.Left,
			m.theme.errorTitle.Render("▛▚ [ERROR] ▞▜"),
			m.theme.errorBox.Width(m.width-6).Render(m.lastErr),
		))
	}
	parts = append(parts, m.theme.viewport.Width(m.width-2).Render(m.viewport.View()), m.footer())

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m *model) statusCard() string {
	title, text := panel.Describe(m.status)
	badgeStyle, ok := m.theme.badges[string(m.status)]
	if !ok {
		badgeStyle = m.theme.badges["idle"]
	}

	lines := []string{
		badgeStyle.Render(strings.ToUpper(string(m.status))) + " " + m.theme.title.Render(title),
		text,
	}
	if m.status == bus.StatusJoined && m.ctrl != nil {
		active := panel.FormatActiveTime(m.ctrl.ActiveTime(m.now()))
		lines = append(lines, m.theme.activeTime.Render("Active Time: "+active))
	}
	return m.theme.statusBox.Width(m.width - 6).Render(strings.Join(lines, "\n"))
}

func (m *model) footer() string {
	if m.loading != "" {
		return m.theme.statusBusy.Render(fmt.Sprintf("%s ⚡ %s in progress...", m.spinner.View(), m.loading))
	}
	if !m.connected {
		return m.theme.statusErr.Render("🚨 not connected to the status broker")
	}
	if m.ctrl == nil {
		return m.theme.status.Render("💡 PgUp/PgDn scroll  ·  🛑 q/Esc quit  ·  pass --meeting to control the bot")
	}
	return m.theme.status.Render("💡 s start  ·  x stop  ·  PgUp/PgDn scroll  ·  🛑 q/Esc quit")
}

func (m *model) command(action string) tea.Cmd {
	if m.ctrl == nil || m.loading != "" {
		return nil
	}
	view := panel.View{Status: m.status}
	if action == "start" && view.StartDisabled() {
		return nil
	}
	if action == "stop" && view.StopDisabled() {
		return nil
	}

	m.loading = action
	m.lastErr = ""
	ctx, ctrl := m.ctx, m.ctrl
	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		var err error
		if action == "start" {
			err = ctrl.Start(ctx)
		} else {
			err = ctrl.Stop(ctx)
		}
		return commandResultMsg{action: action, err: err}
	})
}

func (m *model) applyEvent(event bus.Event) {
	switch event.Type {
	case bus.EventStatusUpdate:
		m.status = event.Status
		if event.Error != "" {
			m.lastErr = event.Error
		}
		m.appendLog(logEntry{at: event.At, status: event.Status, source: event.Source})
	case bus.EventCommandFailed:
		m.lastErr = event.Error
		m.appendLog(logEntry{at: event.At, text: event.Error})
	}
}

func (m *model) appendLog(entry logEntry) {
	if entry.at.IsZero() {
		entry.at = m.now()
	}
	m.entries = append(m.entries, entry)
	if over := len(m.entries) - logLimit; over > 0 {
		m.entries = m.entries[over:]
	}
	m.refreshViewport()
}

func (m *model) resizeComponents() {
	w := max(m.width-6, 50)
	h := max(m.height-14, 5)
	m.viewport.Width = w
	m.viewport.Height = h
}

func (m *model) refreshViewport() {
	previousOffset := m.viewport.YOffset

	lines := make([]string, 0, len(m.entries))
	for _, entry := range m.entries {
		stamp := entry.at.Local().Format("15:04:05")
		text := entry.text
		if entry.status != "" {
			text = fmt.Sprintf("status %s", entry.status)
			if entry.source != "" {
				text += " via " + string(entry.source)
			}
		}
		lines = append(lines, m.theme.logLine.Render(stamp+"  "+text))
	}

	m.viewport.SetContent(strings.Join(lines, "\n"))
	if m.followLog {
		m.viewport.GotoBottom()
		return
	}

	maxOffset := max(m.viewport.TotalLineCount()-m.viewport.Height, 0)
	m.viewport.SetYOffset(min(previousOffset, maxOffset))
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "alt+up", "ctrl+up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "alt+down", "ctrl+down":
		m.viewport.PageDown()
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	case "home":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.ScrollUp(3)
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		m.viewport.ScrollDown(3)
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	default:
		return false
	}
}

func waitForEvent(events <-chan bus.Event) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		event, ok := <-events
		return eventMsg{event: event, ok: ok}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func connectedLabel(connected bool) string {
	if connected {
		return "up"
	}
	return "down"
}

func displayOrNA(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "n/a"
	}

	return trimmed
}
