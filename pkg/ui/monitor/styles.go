package monitor

import "github.com/charmbracelet/lipgloss"

// theme groups reusable styles for monitor regions.
type theme struct {
	header     lipgloss.Style
	headerMeta lipgloss.Style
	divider    lipgloss.Style
	statusBox  lipgloss.Style
	title      lipgloss.Style
	activeTime lipgloss.Style
	logLine    lipgloss.Style
	errorBox   lipgloss.Style
	errorTitle lipgloss.Style
	status     lipgloss.Style
	statusBusy lipgloss.Style
	statusErr  lipgloss.Style
	hint       lipgloss.Style
	viewport   lipgloss.Style
	badges     map[string]lipgloss.Style
}

// defaultTheme defines the terminal palette used by the monitor.
func defaultTheme() theme {
	badge := func(bg string) lipgloss.Style {
		return lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("16")).
			Background(lipgloss.Color(bg)).
			Padding(0, 1)
	}

	return theme{
		header: lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("24")),
		headerMeta: lipgloss.NewStyle().
			Foreground(lipgloss.Color("153")),
		divider: lipgloss.NewStyle().
			Foreground(lipgloss.Color("67")),
		statusBox: lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("44")).
			Background(lipgloss.Color("234")).
			Padding(0, 1),
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("231")),
		activeTime: lipgloss.NewStyle().
			Foreground(lipgloss.Color("114")).
			Bold(true),
		logLine: lipgloss.NewStyle().
			Foreground(lipgloss.Color("250")),
		errorBox: lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("203")).
			Foreground(lipgloss.Color("203")).
			Background(lipgloss.Color("52")).
			Padding(0, 1),
		errorTitle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("231")).
			Background(lipgloss.Color("160")).
			Padding(0, 1),
		status: lipgloss.NewStyle().
			Foreground(lipgloss.Color("250")).
			Bold(true),
		statusBusy: lipgloss.NewStyle().
			Foreground(lipgloss.Color("222")).
			Bold(true),
		statusErr: lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")).
			Bold(true),
		hint: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")),
		viewport: lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(lipgloss.Color("67")).
			Background(lipgloss.Color("233")).
			Padding(0, 1),
		badges: map[string]lipgloss.Style{
			"idle":     badge("250"),
			"awaiting": badge("222"),
			"joined":   badge("114"),
			"stopped":  badge("180"),
			"error":    badge("203"),
		},
	}
}
