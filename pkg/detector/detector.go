// Package detector decides from host page state alone whether a meeting is
// active and visible.
package detector

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/lo"

	"meetbot/pkg/dom"
	"meetbot/pkg/logger"
)

// DefaultSelectors are the Google Meet elements that only render in a live
// call, in priority order.
var DefaultSelectors = []string{
	`[jsname="x2XZJc"]`,
	`[jsname="EaZ7Cc"]`,
	`[jsname="Tmb7Fd"]`,
	`[data-allocation-index]`,
	`[data-is-call-started="true"]`,
}

// Verdict is one evaluation of the meeting predicate.
type Verdict struct {
	Active      bool      `json:"active"`
	Selector    string    `json:"selector,omitempty"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

type Detector struct {
	doc       dom.Document
	selectors []string
	log       *slog.Logger
}

// New keeps the first occurrence of each non-blank selector, in order.
func New(doc dom.Document, selectors []string, log *slog.Logger) *Detector {
	selectors = lo.Uniq(lo.Compact(lo.Map(selectors, func(s string, _ int) string {
		return strings.TrimSpace(s)
	})))
	if len(selectors) == 0 {
		selectors = DefaultSelectors
	}

	return &Detector{
		doc:       doc,
		selectors: selectors,
		log:       logger.Component(log, "detector"),
	}
}

// Evaluate checks selectors in priority order and stops at the first visible
// match. Query failures read as inactive.
func (d *Detector) Evaluate(ctx context.Context) Verdict {
	verdict := Verdict{EvaluatedAt: time.Now().UTC()}

	for _, selector := range d.selectors {
		_, ok, err := d.doc.FirstVisible(ctx, selector)
		if err != nil {
			d.log.Debug("Meeting selector query failed", "selector", selector, "error", err)
			continue
		}
		if ok {
			verdict.Active = true
			verdict.Selector = selector
			return verdict
		}
	}

	return verdict
}

func (d *Detector) IsActive(ctx context.Context) bool {
	return d.Evaluate(ctx).Active
}

// Watch evaluates once immediately and then once per batch of document
// mutations, passing each verdict to fn. It returns when ctx is done.
// fn runs on the calling goroutine, so batches arriving while it runs are
// coalesced into a single follow-up evaluation.
func (d *Detector) Watch(ctx context.Context, fn func(context.Context, Verdict)) {
	changes := d.doc.Observe(ctx)

	fn(ctx, d.Evaluate(ctx))
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			fn(ctx, d.Evaluate(ctx))
		}
	}
}
