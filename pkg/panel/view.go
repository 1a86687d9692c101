// Package panel renders the injected UI: the authenticated control panel and
// the login/signup variant.
package panel

import (
	"fmt"
	"time"

	"meetbot/pkg/bus"
)

// App root classes of the two variants.
const (
	ControlClass = "meet-bot-control-panel"
	AuthClass    = "meet-auth-panel"
)

// Action names raised by panel controls.
const (
	ActionStart      = "start"
	ActionStop       = "stop"
	ActionLogin      = "login"
	ActionSignup     = "signup"
	ActionLogout     = "logout"
	ActionShowLogin  = "show-login"
	ActionShowSignup = "show-signup"
	ActionToggle     = "toggle"
)

type AuthMode string

const (
	ModeLogin  AuthMode = "login"
	ModeSignup AuthMode = "signup"
)

type User struct {
	FullName     string
	Email        string
	ProfileImage string
}

// View is everything needed to render one frame of the panel.
type View struct {
	Authenticated bool
	Collapsed     bool
	Status        bus.Status
	Loading       bool
	Error         string
	Notice        string
	ActiveTime    time.Duration
	User          User
	AuthMode      AuthMode
}

// ClassName returns the app root class for the variant.
func (v View) ClassName() string {
	if v.Authenticated {
		return ControlClass
	}
	return AuthClass
}

// DisplayStatus folds error into stopped; the control panel has no error state.
func (v View) DisplayStatus() bus.Status {
	switch v.Status {
	case bus.StatusError:
		return bus.StatusStopped
	case "":
		return bus.StatusIdle
	default:
		return v.Status
	}
}

func (v View) StartDisabled() bool {
	status := v.DisplayStatus()
	return v.Loading || status == bus.StatusAwaiting || status == bus.StatusJoined
}

func (v View) StopDisabled() bool {
	return v.Loading || v.DisplayStatus() != bus.StatusJoined
}

func (v View) StartLabel() string {
	switch v.DisplayStatus() {
	case bus.StatusIdle, bus.StatusStopped:
		return "Start AI Notes"
	default:
		return "Starting..."
	}
}

func (v View) ShowActiveTime() bool {
	return v.DisplayStatus() == bus.StatusJoined
}

func (v View) FormattedActiveTime() string {
	return FormatActiveTime(v.ActiveTime)
}

func (v View) Mode() AuthMode {
	if v.AuthMode == ModeSignup {
		return ModeSignup
	}
	return ModeLogin
}

type description struct {
	Title string
	Text  string
}

var descriptions = map[bus.Status]description{
	bus.StatusIdle:     {Title: "Ready to Start", Text: `Click "Start AI Notes" to begin`},
	bus.StatusAwaiting: {Title: "Awaiting Bot to Join...", Text: "Bot is trying to join the meeting"},
	bus.StatusJoined:   {Title: "Bot is Working", Text: "AI is taking notes of your meeting"},
	bus.StatusStopped:  {Title: "Bot Stopped", Text: "The AI bot has been disconnected"},
}

// Describe returns the status heading and supporting line.
func Describe(status bus.Status) (string, string) {
	d, ok := descriptions[View{Status: status}.DisplayStatus()]
	if !ok {
		d = descriptions[bus.StatusIdle]
	}
	return d.Title, d.Text
}

// FormatActiveTime renders d as MM:SS, or HH:MM:SS from one hour up.
// Negative durations render as zero.
func FormatActiveTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	if hours > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}
