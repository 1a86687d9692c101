package agent

import (
	"sync"
	"time"

	"meetbot/pkg/bus"
)

const historyLimit = 64

// StatusChange is one write to the agent's status replica.
type StatusChange struct {
	Status bus.Status `json:"status"`
	Source bus.Source `json:"source"`
	At     time.Time  `json:"at"`
}

// History keeps the most recent replica writes, oldest first.
type History struct {
	mu      sync.RWMutex
	limit   int
	entries []StatusChange
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = historyLimit
	}
	return &History{limit: limit}
}

func (h *History) Append(status bus.Status, source bus.Source) {
	if status == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, StatusChange{
		Status: status,
		Source: source,
		At:     time.Now().UTC(),
	})
	if over := len(h.entries) - h.limit; over > 0 {
		h.entries = append(h.entries[:0:0], h.entries[over:]...)
	}
}

func (h *History) List() []StatusChange {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.entries) == 0 {
		return nil
	}

	out := make([]StatusChange, len(h.entries))
	copy(out, h.entries)
	return out
}

func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = nil
}
