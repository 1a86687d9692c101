package channel

import (
	"context"

	"meetbot/pkg/broker"
	"meetbot/pkg/bus"
)

// LocalDialer connects to a broker running in the same process.
type LocalDialer struct {
	Broker *broker.Broker
}

func (d LocalDialer) Dial(ctx context.Context, name string) (Link, error) {
	port, err := d.Broker.Connect(ctx, name)
	if err != nil {
		return nil, err
	}
	return &localLink{port: port}, nil
}

type localLink struct {
	port *broker.Port
}

func (l *localLink) Send(ctx context.Context, msg bus.Message) error {
	return l.port.Post(ctx, msg)
}

func (l *localLink) Receive(ctx context.Context) (bus.Message, error) {
	select {
	case <-ctx.Done():
		return bus.Message{}, ctx.Err()
	case msg, ok := <-l.port.Messages():
		if !ok {
			return bus.Message{}, ErrLinkClosed
		}
		return msg, nil
	}
}

func (l *localLink) Close() error {
	l.port.Disconnect()
	return nil
}
