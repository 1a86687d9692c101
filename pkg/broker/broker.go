// Package broker holds the single authoritative bot status and brokers it
// between every connected surface.
//
// One goroutine (Run) owns the status value and the port registry. Every
// read and mutation is a closure posted to that goroutine, so nothing is
// shared between callers.
package broker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"meetbot/pkg/bus"
	"meetbot/pkg/logger"
)

// DefaultChannelName is the only channel name the broker accepts.
const DefaultChannelName = "meet-bot-port"

const portBufferSize = 32

var (
	// ErrClosed is returned once the broker has stopped running.
	ErrClosed = errors.New("broker is closed")
	// ErrUnknownChannel is returned for connection attempts with a foreign name.
	ErrUnknownChannel = errors.New("unknown channel name")
)

type Broker struct {
	name string
	log  *slog.Logger
	ops  chan func()
	done chan struct{}

	// Owned by the Run goroutine.
	status bus.Status
	ports  map[string]*Port
}

// New builds a broker that accepts channels named channelName. Its status
// starts at idle on every construction; there is no durability.
func New(channelName string, log *slog.Logger) *Broker {
	if channelName == "" {
		channelName = DefaultChannelName
	}

	return &Broker{
		name:   channelName,
		log:    logger.Component(log, "broker"),
		ops:    make(chan func()),
		done:   make(chan struct{}),
		status: bus.StatusIdle,
		ports:  make(map[string]*Port),
	}
}

// ChannelName returns the accepted channel name.
func (b *Broker) ChannelName() string {
	return b.name
}

// Run processes requests until ctx is cancelled, then tears down every port.
func (b *Broker) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	b.log.Info("Status broker started", "channel", b.name)
	defer b.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-b.ops:
			fn()
		}
	}
}

// Done is closed once Run has returned.
func (b *Broker) Done() <-chan struct{} {
	return b.done
}

// Connect registers a new port. Names other than the accepted one are ignored.
func (b *Broker) Connect(ctx context.Context, name string) (*Port, error) {
	if name != b.name {
		b.log.Debug("Ignoring connection with unknown channel name", "name", name)
		return nil, ErrUnknownChannel
	}

	port := &Port{
		ID:     uuid.NewString(),
		Name:   name,
		broker: b,
		out:    make(chan bus.Message, portBufferSize),
	}

	err := b.do(ctx, func() {
		b.ports[port.ID] = port
		b.log.Debug("Port connected", "port_id", port.ID, "ports", len(b.ports))
	})
	if err != nil {
		return nil, err
	}

	return port, nil
}

// Send answers a one-shot message from memory.
func (b *Broker) Send(ctx context.Context, msg bus.Message) (bus.Response, error) {
	var resp bus.Response
	err := b.do(ctx, func() {
		switch msg.Type {
		case bus.TypeGetStatus:
			resp = bus.Response{Status: b.status}
		case bus.TypeSetStatus:
			if !msg.Status.Valid() {
				resp = bus.Response{Error: "unknown status " + string(msg.Status)}
				return
			}
			b.setStatus(msg.Status)
			resp = bus.Response{Success: true}
		case bus.TypePing:
			resp = bus.Response{Success: true, Status: b.status}
		default:
			resp = bus.Response{Error: "unsupported message type " + string(msg.Type)}
		}
	})
	return resp, err
}

// Status returns the authoritative value.
func (b *Broker) Status(ctx context.Context) (bus.Status, error) {
	resp, err := b.Send(ctx, bus.Message{Type: bus.TypeGetStatus})
	return resp.Status, err
}

// PortCount returns the number of registered ports.
func (b *Broker) PortCount(ctx context.Context) (int, error) {
	var count int
	err := b.do(ctx, func() {
		count = len(b.ports)
	})
	return count, err
}

// handlePort processes one frame received on a port.
func (b *Broker) handlePort(port *Port, msg bus.Message) {
	if _, ok := b.ports[port.ID]; !ok {
		return
	}

	switch msg.Type {
	case bus.TypeGetStatus:
		b.deliver(port, bus.Message{Type: bus.TypeStatusUpdate, Status: b.status})
	case bus.TypeSetStatus:
		if !msg.Status.Valid() {
			b.deliver(port, bus.Message{Type: bus.TypeError, Error: "unknown status " + string(msg.Status)})
			return
		}
		b.setStatus(msg.Status)
	default:
		b.log.Debug("Ignoring port message", "port_id", port.ID, "type", msg.Type)
	}
}

// setStatus overwrites the status and broadcasts it to every port.
func (b *Broker) setStatus(status bus.Status) {
	previous := b.status
	b.status = status
	b.log.Info("Status updated", "from", previous, "to", status, "ports", len(b.ports))

	update := bus.Message{Type: bus.TypeStatusUpdate, Status: status}
	for _, port := range lo.Values(b.ports) {
		b.deliver(port, update)
	}
}

// deliver queues msg on a port. A port that cannot keep up is torn down and
// left to reconnect on its own.
func (b *Broker) deliver(port *Port, msg bus.Message) {
	select {
	case port.out <- msg:
	default:
		b.log.Warn("Dropping port with full buffer", "port_id", port.ID)
		b.remove(port)
	}
}

func (b *Broker) remove(port *Port) {
	if _, ok := b.ports[port.ID]; !ok {
		return
	}
	delete(b.ports, port.ID)
	close(port.out)
	b.log.Debug("Port disconnected", "port_id", port.ID, "ports", len(b.ports))
}

func (b *Broker) shutdown() {
	close(b.done)
	for _, port := range lo.Values(b.ports) {
		b.remove(port)
	}
	b.log.Info("Status broker stopped")
}

// do runs fn on the Run goroutine and waits for it to finish.
func (b *Broker) do(ctx context.Context, fn func()) error {
	if ctx == nil {
		ctx = context.Background()
	}

	finished := make(chan struct{})
	op := func() {
		defer close(finished)
		fn()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrClosed
	case b.ops <- op:
	}

	<-finished
	return nil
}
