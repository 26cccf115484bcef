package research

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrDeltaBeforeSynthesis is returned for a text delta sent before synthesis-start.
	ErrDeltaBeforeSynthesis = errors.New("text delta before synthesis-start")
	// ErrInterleave is returned for a control event that would interleave with the token stream.
	ErrInterleave = errors.New("control event interleaves with token stream")
	// ErrChannelClosed is returned for any emission after a terminal event or Close.
	ErrChannelClosed = errors.New("research channel closed")
)

const defaultChannelBuffer = 32

type channelPhase int

const (
	phaseControl    channelPhase = iota // before synthesis-start
	phaseStreaming                      // between synthesis-start and a terminal status
	phaseCompleting                     // status(complete) sent, awaiting complete
	phaseFailing                        // status(error) sent, awaiting error
	phaseDone                           // terminal event sent
)

// Channel carries one run's events from the orchestrator to the transport.
// It multiplexes discrete control events and synthesis text deltas onto one
// ordered stream and rejects any emission that would break their ordering.
//
// Emit, EmitDelta and Close must be called from a single producer goroutine.
type Channel struct {
	mu     sync.Mutex
	phase  channelPhase
	closed bool
	events chan Event
}

// NewChannel returns a channel with the given buffer size.
func NewChannel(buffer int) *Channel {
	if buffer <= 0 {
		buffer = defaultChannelBuffer
	}
	return &Channel{events: make(chan Event, buffer)}
}

// Events returns the consumer side. It is closed by Close.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Emit sends a control event. Text deltas must go through EmitDelta.
func (c *Channel) Emit(ctx context.Context, ev Event) error {
	if ev == nil {
		return fmt.Errorf("nil research event")
	}
	if _, ok := ev.(TextDeltaEvent); ok {
		return fmt.Errorf("text deltas must use EmitDelta")
	}
	if _, ok := ev.(UnknownEvent); ok {
		return fmt.Errorf("cannot emit unknown event %q", ev.Type())
	}

	if err := c.advance(ev); err != nil {
		return err
	}
	return c.send(ctx, ev)
}

// EmitDelta sends one synthesis text delta.
func (c *Channel) EmitDelta(ctx context.Context, delta string) error {
	c.mu.Lock()
	switch {
	case c.closed || c.phase == phaseDone:
		c.mu.Unlock()
		return ErrChannelClosed
	case c.phase == phaseControl:
		c.mu.Unlock()
		return ErrDeltaBeforeSynthesis
	case c.phase != phaseStreaming:
		c.mu.Unlock()
		return ErrInterleave
	}
	c.mu.Unlock()

	return c.send(ctx, TextDeltaEvent{Delta: delta})
}

// Close ends the stream. It is safe to call more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.events)
}

// Done reports whether a terminal event (complete or error) has been emitted.
func (c *Channel) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == phaseDone
}

// advance applies the ordering rules for a control event.
func (c *Channel) advance(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.phase == phaseDone {
		return ErrChannelClosed
	}

	status, isStatus := ev.(StatusEvent)
	switch {
	case isStatus && status.Status == StatusError:
		c.phase = phaseFailing
		return nil
	case ev.Type() == EventError:
		if c.phase != phaseFailing {
			return fmt.Errorf("%w: %s before status error", ErrInterleave, describe(ev))
		}
		c.phase = phaseDone
		return nil
	}

	switch c.phase {
	case phaseControl:
		switch {
		case ev.Type() == EventSynthesisStart:
			c.phase = phaseStreaming
		case ev.Type() == EventComplete, isStatus && status.Status == StatusComplete:
			return fmt.Errorf("%w: %s before synthesis-start", ErrInterleave, describe(ev))
		}
		return nil
	case phaseStreaming:
		if isStatus && status.Status == StatusComplete {
			c.phase = phaseCompleting
			return nil
		}
	case phaseCompleting:
		if ev.Type() == EventComplete {
			c.phase = phaseDone
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrInterleave, describe(ev))
}

func (c *Channel) send(ctx context.Context, ev Event) error {
	select {
	case c.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func describe(ev Event) string {
	if status, ok := ev.(StatusEvent); ok {
		return fmt.Sprintf("status(%s)", status.Status)
	}
	return string(ev.Type())
}
