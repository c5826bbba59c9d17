// SPDX-FileCopyrightText: 2026 The dronefleet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package drone

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dtn7/dronefleet/pkg/transport"
)

var (
	// ErrPublishQueueFull is returned if too many publishes are waiting for their turn.
	ErrPublishQueueFull = errors.New("publish queue is full")

	// ErrDiscarded completes a Handle whose publish was dropped together with its session.
	ErrDiscarded = errors.New("publish was discarded")

	// ErrDuplicateContext is returned if a context is already used by an outstanding publish.
	ErrDuplicateContext = errors.New("publish context is already outstanding")
)

// Handle refers to a single publish. It is completed exactly once: either by the broker's acknowledgement, or with
// ErrDiscarded if its session ended first.
type Handle struct {
	topic   string
	payload string
	context string
	op      transport.Operation

	done chan struct{}
	err  error
	once sync.Once
}

func newHandle(topic, payload, tag string, op transport.Operation) *Handle {
	return &Handle{
		topic:   topic,
		payload: payload,
		context: tag,
		op:      op,
		done:    make(chan struct{}),
	}
}

func (h *Handle) String() string {
	return fmt.Sprintf("Publish(context=%s, topic=%s, payload=%q)", h.context, h.topic, h.payload)
}

func (h *Handle) complete(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

// Topic of this publish.
func (h *Handle) Topic() string { return h.topic }

// Payload of this publish.
func (h *Handle) Payload() string { return h.payload }

// Context is the correlation tag of this publish.
func (h *Handle) Context() string { return h.context }

// Done is closed after this Handle was completed.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err is nil for a successful or a not yet completed publish.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait until this Handle was completed or the context is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishTracker serializes the publishes of one Drone and correlates each with its completion. Only one publish is
// in flight at any time, others are queued in order.
//
// A PublishTracker is not safe for concurrent use; the Drone guards it by its own mutex.
type PublishTracker struct {
	maxQueued int

	inflight *Handle
	queue    []*Handle
}

// NewPublishTracker creates a PublishTracker with up to maxQueued publishes waiting behind the in-flight one.
func NewPublishTracker(maxQueued int) *PublishTracker {
	return &PublishTracker{maxQueued: maxQueued}
}

// Pending is the amount of in-flight and queued publishes.
func (pt *PublishTracker) Pending() int {
	if pt.inflight == nil {
		return len(pt.queue)
	}
	return len(pt.queue) + 1
}

func (pt *PublishTracker) outstanding(tag string) bool {
	if pt.inflight != nil && pt.inflight.context == tag {
		return true
	}
	for _, h := range pt.queue {
		if h.context == tag {
			return true
		}
	}
	return false
}

// Begin records a new publish, correlated by its tag and Operation. If start is true, the publish is now in flight
// and must be issued by the caller. Otherwise it waits in the queue until a previous publish was acknowledged.
func (pt *PublishTracker) Begin(topic, payload, tag string, op transport.Operation) (h *Handle, start bool, err error) {
	if pt.outstanding(tag) {
		err = fmt.Errorf("%w: %s", ErrDuplicateContext, tag)
		return
	}

	h = newHandle(topic, payload, tag, op)

	if pt.inflight == nil {
		pt.inflight = h
		start = true
		return
	}

	if len(pt.queue) >= pt.maxQueued {
		h, err = nil, ErrPublishQueueFull
		return
	}

	pt.queue = append(pt.queue, h)
	return
}

// Ack consumes the in-flight publish for an Operation and completes its Handle with the given error. The next queued
// publish becomes in flight and is returned to be issued by the caller.
//
// A completion for an unknown or already consumed Operation is ignored and reported by ok being false.
func (pt *PublishTracker) Ack(op transport.Operation, opErr error) (done, next *Handle, ok bool) {
	if pt.inflight == nil || pt.inflight.op != op {
		return
	}

	done, ok = pt.inflight, true
	pt.inflight = nil
	done.complete(opErr)

	if len(pt.queue) > 0 {
		next = pt.queue[0]
		pt.queue[0] = nil
		pt.queue = pt.queue[1:]
		pt.inflight = next
	}
	return
}

// Discard drops all in-flight and queued publishes without resolving them. Their Handles are completed with
// ErrDiscarded. The amount of dropped publishes is returned.
func (pt *PublishTracker) Discard() (n int) {
	if pt.inflight != nil {
		pt.inflight.complete(ErrDiscarded)
		pt.inflight = nil
		n++
	}
	for _, h := range pt.queue {
		h.complete(ErrDiscarded)
		n++
	}
	pt.queue = nil
	return
}
