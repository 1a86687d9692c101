// Package monitor is the terminal status surface: it follows the broker live
// and can start or stop the bot for one meeting.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"meetbot/pkg/bus"
)

// Info is shown in the monitor header.
type Info struct {
	BrokerAddr string
	MeetingURL string
}

// Controller issues bot commands for the monitored meeting.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	ActiveTime(now time.Time) time.Duration
}

// Run shows the monitor until the user quits. events carries broker status
// updates; ctrl may be nil for a read-only monitor.
func Run(ctx context.Context, info Info, events <-chan bus.Event, ctrl Controller) error {
	program := tea.NewProgram(newModel(ctx, info, events, ctrl), tea.WithContext(ctx), tea.WithMouseCellMotion())
	if _, err := program.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(renderGoodbyeBanner())
	return nil
}

func renderGoodbyeBanner() string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("24")).
		Padding(1, 2)

	return style.Render("🤖 MeetBot monitor closed")
}
