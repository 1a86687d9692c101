// Package bot drives the remote notes bot: start and stop commands, and the
// poller that reconciles the local status replica against the service.
package bot

import (
	"strings"
	"time"

	"meetbot/pkg/bus"
)

// MapRemoteStatus maps the service's bot_status to a local status. Unknown
// values map to idle.
func MapRemoteStatus(remote string) bus.Status {
	switch strings.ToUpper(strings.TrimSpace(remote)) {
	case "RUNNING":
		return bus.StatusJoined
	case "ACTIVATING", "AWAITING", "PENDING":
		return bus.StatusAwaiting
	case "STOPPED":
		return bus.StatusStopped
	default:
		return bus.StatusIdle
	}
}

var startTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// ParseStartTime reads a server start_time. Timestamps without a zone are
// taken as UTC.
func ParseStartTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}

	for _, layout := range startTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
