// Package injector owns the single mount point the agent places in the host
// page.
package injector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"

	"meetbot/pkg/bus"
	"meetbot/pkg/dom"
	"meetbot/pkg/fault"
	"meetbot/pkg/logger"
	"meetbot/pkg/panel"
)

const (
	// PanelID is the fixed id of the mount point host element.
	PanelID = "meet-bot-control-panel"
	// StatusEvent is dispatched on the mount point for every status change.
	StatusEvent = "bot-status-update"

	DefaultRetryDelay = time.Second
	DefaultAttempts   = 5
)

// DefaultContainers is the injection fallback chain, most specific first.
// The body is always tried last.
var DefaultContainers = []string{
	`[jsname="x2XZJc"]`,
	`[jsname="EaZ7Cc"]`,
	`[jsname="Tmb7Fd"]`,
	`[role="main"]`,
	`div[jscontroller]`,
	`#yDmH0d`,
}

// ViewFunc returns the view to render into the mount point.
type ViewFunc func(ctx context.Context) panel.View

type Options struct {
	Containers []string
	RetryDelay time.Duration
	Attempts   uint
}

func (o Options) withDefaults() Options {
	if len(o.Containers) == 0 {
		o.Containers = DefaultContainers
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.Attempts == 0 {
		o.Attempts = DefaultAttempts
	}
	return o
}

// Injector serializes every mount, render and removal so at most one mount
// point with PanelID exists in the document.
type Injector struct {
	doc  dom.Document
	view ViewFunc
	opts Options
	log  *slog.Logger

	mu sync.Mutex
}

func New(doc dom.Document, view ViewFunc, opts Options, log *slog.Logger) *Injector {
	return &Injector{
		doc:  doc,
		view: view,
		opts: opts.withDefaults(),
		log:  logger.Component(log, "injector"),
	}
}

// Reconcile mounts when the meeting is active and destroys the mount
// otherwise. It reports whether a new mount point was created.
func (i *Injector) Reconcile(ctx context.Context, active bool) (bool, error) {
	if !active {
		return false, i.Remove(ctx)
	}
	return i.Inject(ctx)
}

// Inject creates the mount point unless it already exists. Failures to find
// or attach to a container are retried after a fixed delay.
func (i *Injector) Inject(ctx context.Context) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	exists, err := i.doc.Exists(ctx, PanelID)
	if err == nil && exists {
		return false, nil
	}

	created := false
	err = retry.New(
		retry.Attempts(i.opts.Attempts),
		retry.Delay(i.opts.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	).Do(func() error {
		container, err := i.locate(ctx)
		if err != nil {
			return err
		}

		spec, err := i.mountSpec(ctx)
		if err != nil {
			return err
		}

		err = i.doc.Mount(ctx, container, spec)
		switch {
		case err == nil:
			created = true
			i.log.Info("Panel injected", "container", container.Selector, "variant", spec.ClassName)
			return nil
		case errors.Is(err, dom.ErrExists):
			return nil
		default:
			i.log.Warn("Panel injection failed, will retry", "container", container.Selector, "error", err)
			return err
		}
	})
	if err != nil {
		return false, fault.Wrap(fault.Environment, err, "inject panel")
	}

	return created, nil
}

// Rerender replaces the content of the existing mount in place. It does
// nothing when no mount point exists.
func (i *Injector) Rerender(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	exists, err := i.doc.Exists(ctx, PanelID)
	if err != nil || !exists {
		return err
	}

	view := i.view(ctx)
	html, err := panel.Render(view)
	if err != nil {
		return err
	}

	if err := i.doc.Render(ctx, PanelID, view.ClassName(), html); err != nil && !errors.Is(err, dom.ErrNotFound) {
		return fmt.Errorf("rerender panel: %w", err)
	}
	return nil
}

// Remove destroys the mount point.
func (i *Injector) Remove(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	exists, err := i.doc.Exists(ctx, PanelID)
	if err != nil || !exists {
		return err
	}

	if err := i.doc.Remove(ctx, PanelID); err != nil {
		return fmt.Errorf("remove panel: %w", err)
	}
	i.log.Info("Panel removed")
	return nil
}

// Notify fires the status event on the mount point, if there is one.
func (i *Injector) Notify(ctx context.Context, status bus.Status) error {
	err := i.doc.Dispatch(ctx, PanelID, StatusEvent, map[string]any{"status": status})
	if errors.Is(err, dom.ErrNotFound) {
		return nil
	}
	return err
}

func (i *Injector) Mounted(ctx context.Context) bool {
	exists, err := i.doc.Exists(ctx, PanelID)
	return err == nil && exists
}

// locate walks the container chain and falls back to the body.
func (i *Injector) locate(ctx context.Context) (dom.ElementRef, error) {
	for _, selector := range i.opts.Containers {
		ref, ok, err := i.doc.FirstVisible(ctx, selector)
		if err != nil {
			i.log.Debug("Container query failed", "selector", selector, "error", err)
			continue
		}
		if ok {
			return ref, nil
		}
	}

	i.log.Debug("No visible container found, falling back to body")
	return dom.Body(), nil
}

func (i *Injector) mountSpec(ctx context.Context) (dom.MountSpec, error) {
	view := i.view(ctx)
	html, err := panel.Render(view)
	if err != nil {
		return dom.MountSpec{}, err
	}

	return dom.MountSpec{
		ID:        PanelID,
		Style:     panel.Styles(),
		ClassName: view.ClassName(),
		HTML:      html,
	}, nil
}
