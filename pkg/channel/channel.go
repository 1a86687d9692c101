// Package channel keeps one live link between a content agent and the status
// broker, reopening it with linear backoff when it drops.
package channel

import (
	"context"
	"errors"

	"meetbot/pkg/bus"
)

var (
	// ErrNotConnected is returned by Post while no link is open.
	ErrNotConnected = errors.New("channel is not connected")
	// ErrLinkClosed is returned by Link.Receive once the broker side is gone.
	ErrLinkClosed = errors.New("channel link closed")
)

// Link is one live bidirectional transport to the broker. Receive delivers
// frames in the order the broker sent them.
type Link interface {
	Send(ctx context.Context, msg bus.Message) error
	Receive(ctx context.Context) (bus.Message, error)
	Close() error
}

// Dialer opens links to a named broker channel.
type Dialer interface {
	Dial(ctx context.Context, name string) (Link, error)
}

// Messenger delivers one-shot messages to the broker.
type Messenger interface {
	Send(ctx context.Context, msg bus.Message) (bus.Response, error)
}
