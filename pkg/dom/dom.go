// Package dom abstracts the host page the content agent runs against. A
// Document is a shared external tree the agent does not control: it can be
// queried, mounted into, and observed for batched changes.
package dom

import (
	"context"
	"errors"
)

// BodySelector addresses the document body, the injection container of last resort.
const BodySelector = "body"

var (
	// ErrNotFound is returned when an addressed element no longer exists.
	ErrNotFound = errors.New("element not found")
	// ErrExists is returned by Mount when an element with the id is already present.
	ErrExists = errors.New("element already exists")
)

// ElementRef addresses the Index-th match of Selector at the time of the query.
type ElementRef struct {
	Selector string
	Index    int
}

// Body returns a reference to the document body.
func Body() ElementRef {
	return ElementRef{Selector: BodySelector}
}

// MountSpec describes an isolated mount point: a host element with ID whose
// shadow scope holds Style and an app root of class ClassName rendering HTML.
type MountSpec struct {
	ID        string
	Style     string
	ClassName string
	HTML      string
}

// Node is a read-only snapshot of one element.
type Node struct {
	Text  string
	Attrs map[string]string
}

// Action is a user interaction raised from inside a mount point, such as a
// button press. Fields carries the values of the enclosing form.
type Action struct {
	Name   string
	Fields map[string]string
}

// Document is the host page.
type Document interface {
	URL(ctx context.Context) (string, error)
	// FirstVisible returns the first element matching selector that has a
	// nonzero layout box and is not hidden by display or visibility.
	FirstVisible(ctx context.Context, selector string) (ElementRef, bool, error)
	Exists(ctx context.Context, id string) (bool, error)
	Mount(ctx context.Context, container ElementRef, mount MountSpec) error
	// Render replaces the app root of an existing mount in place.
	Render(ctx context.Context, id, className, html string) error
	// Remove destroys the element with id. Removing a missing element is not an error.
	Remove(ctx context.Context, id string) error
	// Dispatch fires a custom event with detail on the element with id.
	Dispatch(ctx context.Context, id, event string, detail map[string]any) error
	QueryAll(ctx context.Context, selector string) ([]Node, error)
	// Observe signals once per batch of mutations anywhere in the document.
	// Signals coalesce while the receiver is busy. The channel closes with ctx.
	Observe(ctx context.Context) <-chan struct{}
	// Actions delivers interactions raised from mount points. The channel closes with ctx.
	Actions(ctx context.Context) <-chan Action
}
