package broker

import (
	"context"

	"meetbot/pkg/bus"
)

// Port is one registered channel. Frames from the broker arrive on
// Messages, in broadcast order; the channel is closed when the broker drops
// the port.
type Port struct {
	ID   string
	Name string

	broker *Broker
	out    chan bus.Message
}

func (p *Port) Messages() <-chan bus.Message {
	return p.out
}

// Post sends one frame to the broker.
func (p *Port) Post(ctx context.Context, msg bus.Message) error {
	return p.broker.do(ctx, func() {
		p.broker.handlePort(p, msg)
	})
}

// Disconnect removes the port from the registry. It is safe to call more than once.
func (p *Port) Disconnect() {
	_ = p.broker.do(context.Background(), func() {
		p.broker.remove(p)
	})
}
