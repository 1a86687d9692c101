package channel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"meetbot/pkg/broker"
	"meetbot/pkg/bus"
	"meetbot/pkg/logger"
)

const (
	DefaultMaxRetries = 5
	DefaultBaseDelay  = time.Second
)

type Options struct {
	// Name is the broker channel name; defaults to broker.DefaultChannelName.
	Name string
	// MaxRetries caps consecutive reopen attempts before giving up with status error.
	MaxRetries int
	// BaseDelay is multiplied by the retry count to get the next reopen delay.
	BaseDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = broker.DefaultChannelName
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	return o
}

// Channel is the content agent's side of the broker link. At most one
// underlying Link is live at a time; every reopen gets a new generation and
// frames from older generations are dropped.
type Channel struct {
	dialer Dialer
	events *bus.Bus
	opts   Options
	log    *slog.Logger

	mu         sync.Mutex
	ctx        context.Context
	link       Link
	cancelLink context.CancelFunc
	generation uint64
	retryCount int
	status     bus.Status
	timer      *time.Timer
	closed     bool
}

// New builds a channel. Status updates are published on events with
// bus.SourceChannel.
func New(dialer Dialer, events *bus.Bus, opts Options, log *slog.Logger) *Channel {
	return &Channel{
		dialer: dialer,
		events: events,
		opts:   opts.withDefaults(),
		log:    logger.Component(log, "channel"),
		status: bus.StatusIdle,
	}
}

// Open tears down any existing link, dials a new one and asks for the
// current status. Failures schedule a reopen; the returned error is
// informational.
func (c *Channel) Open(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	c.ctx = ctx
	c.closed = false
	c.stopTimerLocked()
	c.teardownLocked()
	gen := c.generation
	c.mu.Unlock()

	link, err := c.dialer.Dial(ctx, c.opts.Name)
	if err != nil {
		c.fail(gen, err)
		return err
	}

	c.mu.Lock()
	if gen != c.generation || c.closed {
		c.mu.Unlock()
		_ = link.Close()
		return nil
	}
	linkCtx, cancel := context.WithCancel(ctx)
	c.link = link
	c.cancelLink = cancel
	c.mu.Unlock()

	if err := link.Send(linkCtx, bus.Message{Type: bus.TypeGetStatus}); err != nil {
		c.fail(gen, err)
		return err
	}

	c.mu.Lock()
	if gen == c.generation {
		c.retryCount = 0
	}
	c.mu.Unlock()

	c.log.Debug("Channel opened", "name", c.opts.Name)
	go c.read(linkCtx, gen, link)
	return nil
}

// Close tears down the link and cancels any pending reopen.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.stopTimerLocked()
	c.teardownLocked()
}

// Post sends a frame over the live link.
func (c *Channel) Post(ctx context.Context, msg bus.Message) error {
	c.mu.Lock()
	link := c.link
	c.mu.Unlock()

	if link == nil {
		return ErrNotConnected
	}
	return link.Send(ctx, msg)
}

// Status returns the locally cached status replica.
func (c *Channel) Status() bus.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Channel) RetryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryCount
}

// Reconnecting reports whether a reopen is scheduled.
func (c *Channel) Reconnecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer != nil
}

func (c *Channel) read(ctx context.Context, gen uint64, link Link) {
	for {
		msg, err := link.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.fail(gen, err)
			return
		}

		switch msg.Type {
		case bus.TypeStatusUpdate:
			if !msg.Status.Valid() {
				c.log.Debug("Ignoring status update with unknown value", "status", msg.Status)
				continue
			}
			c.update(gen, msg.Status, "")
		case bus.TypeError:
			c.update(gen, bus.StatusError, msg.Error)
		default:
			c.log.Debug("Ignoring channel frame", "type", msg.Type)
		}
	}
}

func (c *Channel) update(gen uint64, status bus.Status, errText string) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.status = status
	c.mu.Unlock()

	c.publish(status, errText)
}

// fail handles a dial error or a dropped link of generation gen.
func (c *Channel) fail(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.generation || c.closed {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()

	if c.retryCount < c.opts.MaxRetries {
		c.retryCount++
		delay := c.opts.BaseDelay * time.Duration(c.retryCount)
		scheduled := c.generation
		ctx := c.ctx
		c.timer = time.AfterFunc(delay, func() { c.reopen(ctx, scheduled) })
		attempt := c.retryCount
		c.mu.Unlock()

		c.log.Warn("Channel dropped, reconnecting", "attempt", attempt, "delay", delay, "error", cause)
		return
	}

	c.status = bus.StatusError
	c.mu.Unlock()

	c.log.Error("Channel retries exhausted", "max_retries", c.opts.MaxRetries, "error", cause)
	c.publish(bus.StatusError, "connection to status broker lost")
}

func (c *Channel) reopen(ctx context.Context, scheduled uint64) {
	c.mu.Lock()
	if c.closed || scheduled != c.generation || ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	_ = c.Open(ctx)
}

func (c *Channel) publish(status bus.Status, errText string) {
	if c.events == nil {
		return
	}
	c.events.Publish(context.Background(), bus.Event{
		Type:   bus.EventStatusUpdate,
		Source: bus.SourceChannel,
		Status: status,
		Error:  errText,
	})
}

func (c *Channel) teardownLocked() {
	c.generation++
	if c.cancelLink != nil {
		c.cancelLink()
		c.cancelLink = nil
	}
	if c.link != nil {
		_ = c.link.Close()
		c.link = nil
	}
}

func (c *Channel) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
