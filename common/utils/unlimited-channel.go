package utils

import (
	"context"
)

// UnlimitedChannel couples an input and an output channel through an
// unbounded deque, so writers never block on slow readers.
type UnlimitedChannel struct {
	in     chan interface{}
	out    chan interface{}
	done   chan struct{}
	deque  *Deque
	ctx    context.Context
	cancel func()
}

// NewUnlimitedChannel returns a running unlimited channel.
func NewUnlimitedChannel() *UnlimitedChannel {
	ctx, cancel := context.WithCancel(context.Background())
	c := &UnlimitedChannel{
		in:     make(chan interface{}),
		out:    make(chan interface{}),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		deque:  NewDeque(),
	}
	go c.pump()
	return c
}

// In returns the input channel.
func (c *UnlimitedChannel) In() chan<- interface{} {
	return c.in
}

// Out returns the output channel.
func (c *UnlimitedChannel) Out() <-chan interface{} {
	return c.out
}

// Close stops the pump goroutine.
func (c *UnlimitedChannel) Close() {
	c.cancel()
}

// Done is closed once the pump goroutine has exited.
func (c *UnlimitedChannel) Done() <-chan struct{} {
	return c.done
}

// Len returns the number of buffered elements.
// Only the pump goroutine mutates the deque, so treat this as a hint.
func (c *UnlimitedChannel) Len() uint64 {
	return c.deque.Len()
}

// Dump returns the elements still stuck in the buffer.
// Call only after Done() is closed.
func (c *UnlimitedChannel) Dump() []interface{} {
	return c.deque.Slice()
}

func (c *UnlimitedChannel) pump() {
	defer close(c.done)
	for {
		// Cancellation wins over pending traffic.
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		head, ok := c.deque.Head()
		if !ok {
			select {
			case <-c.ctx.Done():
				return
			case in := <-c.in:
				c.deque.PushBack(in)
			}
			continue
		}

		select {
		case <-c.ctx.Done():
			return
		case in := <-c.in:
			c.deque.PushBack(in)
		case c.out <- head:
			c.deque.PopFront()
		}
	}
}
