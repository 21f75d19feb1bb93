package csm

import (
	"context"
	"fmt"
	"log/slog"
)

// Chan is the typed wrapper over one channel endpoint. It owns the
// protocol state and enforces the transition relation on every send and
// receive. A Chan is single-owner: concurrent readers or concurrent
// writers on the same Chan are not supported.
type Chan[S comparable, M Message] struct {
	spec   ProtocolSpec[S, M]
	state  S
	raw    *rawChannel
	logger *slog.Logger
}

func newChan[S comparable, M Message](spec ProtocolSpec[S, M], raw *rawChannel, logger *slog.Logger) *Chan[S, M] {
	return &Chan[S, M]{
		spec:   spec,
		state:  spec.Initial,
		raw:    raw,
		logger: logger.With("protocol", spec.Name, "channel", spec.Number.String()),
	}
}

// Id returns the protocol's channel id
func (c *Chan[S, M]) Id() Id {
	return c.spec.Number
}

// Direction returns which side of the connection this endpoint is
func (c *Chan[S, M]) Direction() Direction {
	return c.raw.direction
}

// State returns the protocol's current state
func (c *Chan[S, M]) State() S {
	return c.state
}

// ReplaceState forcibly sets the protocol state. Not for normal
// operation: it exists for tests that inject bad traffic and for
// explicitly restarting a protocol whose declared table treats its end
// state as terminal.
func (c *Chan[S, M]) ReplaceState(s S) {
	c.state = s
}

// WriteOne sends one message. A message illegal in the current state is
// logged and dropped without touching the wire, so a local bug never
// corrupts the peer. Otherwise the state advances, the message is
// CBOR-encoded and installed in the channel's egress slot once it is
// free, and the writer task is woken. The write is complete when the
// bytes are installed, not when they reach the wire.
func (c *Chan[S, M]) WriteOne(ctx context.Context, msg M) error {
	next, ok := c.spec.Machine.Transition(c.state, msg.Tag())
	if !ok {
		c.logger.Warn("dropping message invalid in current state",
			"state", fmt.Sprintf("%v", c.state), "msg", fmt.Sprintf("%v", msg))
		return nil
	}
	data, err := c.spec.Encode(msg)
	if err != nil {
		return fmt.Errorf("encoding %s message: %w", c.spec.Name, err)
	}
	c.state = next
	return c.raw.install(ctx, data)
}

// install claims the egress slot, waiting until the writer task drains
// the previous occupant
func (rc *rawChannel) install(ctx context.Context, data []byte) error {
	for {
		rc.mu.Lock()
		if rc.terminated {
			rc.mu.Unlock()
			return ErrStreamTerminated
		}
		if rc.pending == nil {
			rc.pending = &sending{data: data}
			rc.mu.Unlock()
			signal(rc.muxNotify)
			return nil
		}
		rc.mu.Unlock()
		select {
		case <-rc.slotFree:
		case <-rc.done:
			return ErrStreamTerminated
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// readMessage blocks until one complete CBOR message is available and
// decodes it, without consulting the state machine
func (c *Chan[S, M]) readMessage(ctx context.Context) (M, error) {
	var zero M
	for {
		data, err := c.raw.popBytes()
		if err != nil {
			return zero, err
		}
		if data != nil {
			msg, err := c.spec.Decode(data)
			if err != nil {
				return zero, &DecodeError{Err: err}
			}
			return msg, nil
		}
		if c.raw.isTerminated() {
			return zero, ErrStreamTerminated
		}
		select {
		case <-c.raw.readable:
		case <-c.raw.done:
			// loop once more: a complete message may have raced the
			// termination flag
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// ReadOne receives one message and advances the protocol state. A
// message the peer was not allowed to send fails with InvalidStateError
// without advancing the state; the channel is then poisoned, since the
// offending message has already been consumed from the buffer.
//
// Cancelling the context leaves any buffered message in place for the
// next read.
func (c *Chan[S, M]) ReadOne(ctx context.Context) (M, error) {
	var zero M
	msg, err := c.readMessage(ctx)
	if err != nil {
		return zero, err
	}
	next, ok := c.spec.Machine.Transition(c.state, msg.Tag())
	if !ok {
		return zero, &InvalidStateError{Current: c.state, Msg: msg}
	}
	c.state = next
	return msg, nil
}

// ReadOneMatch receives one message, checks the transition, then
// narrows the message through match. A legal transition whose message
// the filter rejects is ErrInternal: the derived filter and the
// transition table disagree, which is a declaration bug rather than a
// peer fault. The state advances only when both checks pass.
func ReadOneMatch[S comparable, M Message, T any](ctx context.Context, c *Chan[S, M], match func(M) (T, bool)) (T, error) {
	var zero T
	msg, err := c.readMessage(ctx)
	if err != nil {
		return zero, err
	}
	next, ok := c.spec.Machine.Transition(c.state, msg.Tag())
	if !ok {
		return zero, &InvalidStateError{Current: c.state, Msg: msg}
	}
	t, ok := match(msg)
	if !ok {
		c.logger.Error("state transition succeeded but matching function rejected the message",
			"state", fmt.Sprintf("%v", c.state), "next", fmt.Sprintf("%v", next))
		return zero, ErrInternal
	}
	c.state = next
	return t, nil
}
