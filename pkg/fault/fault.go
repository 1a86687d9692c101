// Package fault categorizes failures so every boundary can turn them into
// local state or log output instead of letting them escape.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Category is the stable failure class of an error.
type Category string

const (
	// Transport covers channel disconnects and failed HTTP round trips.
	Transport Category = "transport"
	// Auth covers rejected or missing credentials.
	Auth Category = "auth"
	// Domain covers server-reported command failures.
	Domain Category = "domain"
	// Environment covers host page problems such as a missing container.
	Environment Category = "environment"
	// Unknown is used when no category can be derived.
	Unknown Category = "unknown"
)

// Error is a categorized failure.
type Error struct {
	Category Category
	Detail   string
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Detail == "" && e.Err == nil:
		return string(e.Category)
	case e.Detail == "":
		return fmt.Sprintf("%s: %v", e.Category, e.Err)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Category, e.Detail)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Detail, e.Err)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a categorized error.
func New(category Category, detail string) error {
	return &Error{Category: category, Detail: detail}
}

// Wrap attaches a category to err. It returns nil for a nil err.
func Wrap(category Category, err error, detail string) error {
	if err == nil {
		return nil
	}
	return &Error{Category: category, Detail: detail, Err: err}
}

// CategoryOf returns the category carried by err, deriving one for common
// network errors.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Category
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return Transport
	}

	return Unknown
}

// Is reports whether err belongs to category.
func Is(err error, category Category) bool {
	return err != nil && CategoryOf(err) == category
}

// Message returns the user-visible part of err: the detail of a categorized
// error, or the full text otherwise.
func Message(err error) string {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) && categorized.Detail != "" {
		return categorized.Detail
	}

	return err.Error()
}
