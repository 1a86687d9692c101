package bot

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/samber/lo"

	"meetbot/pkg/dom"
)

const (
	// DefaultParticipantSelector matches participant tiles in Google Meet.
	DefaultParticipantSelector = `[data-participant-id]`
	// DefaultPlaceholderHost is the domain of fabricated participant emails.
	DefaultPlaceholderHost = "participants.meetbot.invalid"
)

var (
	nameAttrs   = []string{"data-self-name", "data-name", "aria-label"}
	emailAttrs  = []string{"data-email", "data-hovercard-id"}
	markerRE    = regexp.MustCompile(`(?i)\s*\((you|host|meeting host)\)`)
	nonSlugRune = regexp.MustCompile(`[^a-z0-9]+`)
)

// Participant is a best-effort identity scraped from the host page. Placeholder
// emails are never an identity claim.
type Participant struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	IsHost      bool   `json:"is_host"`
	IsYou       bool   `json:"is_you"`
	Placeholder bool   `json:"placeholder,omitempty"`
}

// ScrapeParticipants reads participant tiles matching selector. Entries
// without a recoverable email get a placeholder at placeholderHost.
// Duplicates by email are dropped.
func ScrapeParticipants(ctx context.Context, doc dom.Document, selector, placeholderHost string) ([]Participant, error) {
	if selector == "" {
		selector = DefaultParticipantSelector
	}
	if placeholderHost == "" {
		placeholderHost = DefaultPlaceholderHost
	}

	nodes, err := doc.QueryAll(ctx, selector)
	if err != nil {
		return nil, fmt.Errorf("scrape participants: %w", err)
	}

	participants := lo.FilterMap(nodes, func(node dom.Node, _ int) (Participant, bool) {
		return parseParticipant(node, placeholderHost)
	})
	return lo.UniqBy(participants, func(p Participant) string {
		return strings.ToLower(p.Email)
	}), nil
}

// Emails returns the participant emails in order.
func Emails(participants []Participant) []string {
	return lo.Map(participants, func(p Participant, _ int) string {
		return p.Email
	})
}

func parseParticipant(node dom.Node, placeholderHost string) (Participant, bool) {
	raw := strings.TrimSpace(node.Text)
	for _, attr := range nameAttrs {
		if raw != "" {
			break
		}
		raw = strings.TrimSpace(node.Attrs[attr])
	}
	if raw == "" {
		return Participant{}, false
	}

	p := Participant{}
	for _, marker := range markerRE.FindAllStringSubmatch(raw, -1) {
		switch strings.ToLower(marker[1]) {
		case "you":
			p.IsYou = true
		default:
			p.IsHost = true
		}
	}
	p.Name = strings.Join(strings.Fields(markerRE.ReplaceAllString(raw, "")), " ")
	if p.Name == "" {
		return Participant{}, false
	}

	for _, attr := range emailAttrs {
		if value := strings.TrimSpace(node.Attrs[attr]); strings.Contains(value, "@") {
			p.Email = value
			return p, true
		}
	}

	slug := strings.Trim(nonSlugRune.ReplaceAllString(strings.ToLower(p.Name), "."), ".")
	if slug == "" {
		slug = "participant"
	}
	p.Email = slug + "@" + placeholderHost
	p.Placeholder = true
	return p, true
}
