// SPDX-FileCopyrightText: 2026 The dronefleet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package drone

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPublishTrackerSerial(t *testing.T) {
	pt := NewPublishTracker(4)

	h1, start, err := pt.Begin("t", "one", "s/1", 1)
	if err != nil || !start {
		t.Fatalf("first publish was not started: %v, %v", start, err)
	}
	h2, start, err := pt.Begin("t", "two", "s/2", 2)
	if err != nil || start {
		t.Fatalf("second publish was not queued: %v, %v", start, err)
	}
	if n := pt.Pending(); n != 2 {
		t.Fatalf("expected two pending publishes, got %d", n)
	}

	// The queued publish's Operation does not match the in-flight one.
	if _, _, ok := pt.Ack(2, nil); ok {
		t.Fatal("queued publish was acknowledged")
	}

	done, next, ok := pt.Ack(1, nil)
	if !ok || done != h1 || next != h2 {
		t.Fatalf("unexpected acknowledgement: %v, %v, %v", done, next, ok)
	}
	if h1.Err() != nil {
		t.Fatal(h1.Err())
	}

	done, next, ok = pt.Ack(2, nil)
	if !ok || done != h2 || next != nil {
		t.Fatalf("unexpected acknowledgement: %v, %v, %v", done, next, ok)
	}
	if n := pt.Pending(); n != 0 {
		t.Fatalf("expected no pending publishes, got %d", n)
	}
}

func TestPublishTrackerUnknownAck(t *testing.T) {
	pt := NewPublishTracker(4)

	if _, _, ok := pt.Ack(23, nil); ok {
		t.Fatal("acknowledged without any publish")
	}

	h, _, _ := pt.Begin("t", "one", "s/1", 1)
	if _, _, ok := pt.Ack(42, nil); ok {
		t.Fatal("acknowledged an unknown Operation")
	}

	select {
	case <-h.Done():
		t.Fatal("publish was completed by an unknown Operation")
	default:
	}
}

func TestPublishTrackerFailure(t *testing.T) {
	pt := NewPublishTracker(4)
	opErr := errors.New("rejected")

	h, _, _ := pt.Begin("t", "one", "s/1", 1)
	if _, _, ok := pt.Ack(1, opErr); !ok {
		t.Fatal("failed publish was not consumed")
	}
	if !errors.Is(h.Err(), opErr) {
		t.Fatalf("expected %v, got %v", opErr, h.Err())
	}
}

func TestPublishTrackerDuplicateContext(t *testing.T) {
	pt := NewPublishTracker(4)

	if _, _, err := pt.Begin("t", "one", "s/1", 1); err != nil {
		t.Fatal(err)
	}
	if _, _, err := pt.Begin("t", "two", "s/1", 2); !errors.Is(err, ErrDuplicateContext) {
		t.Fatalf("expected ErrDuplicateContext, got %v", err)
	}

	// After the acknowledgement, the context might be reused.
	pt.Ack(1, nil)
	if _, _, err := pt.Begin("t", "three", "s/1", 3); err != nil {
		t.Fatal(err)
	}
}

func TestPublishTrackerQueueFull(t *testing.T) {
	pt := NewPublishTracker(2)

	for i, tag := range []string{"s/1", "s/2", "s/3"} {
		if _, _, err := pt.Begin("t", tag, tag, 0); err != nil {
			t.Fatalf("publish %d errored: %v", i, err)
		}
	}

	h, start, err := pt.Begin("t", "s/4", "s/4", 0)
	if !errors.Is(err, ErrPublishQueueFull) || h != nil || start {
		t.Fatalf("expected ErrPublishQueueFull, got %v, %v, %v", h, start, err)
	}
	if n := pt.Pending(); n != 3 {
		t.Fatalf("expected three pending publishes, got %d", n)
	}
}

func TestPublishTrackerDiscard(t *testing.T) {
	pt := NewPublishTracker(4)

	h1, _, _ := pt.Begin("t", "one", "s/1", 1)
	h2, _, _ := pt.Begin("t", "two", "s/2", 2)

	if n := pt.Discard(); n != 2 {
		t.Fatalf("expected two discarded publishes, got %d", n)
	}
	for _, h := range []*Handle{h1, h2} {
		if !errors.Is(h.Err(), ErrDiscarded) {
			t.Fatalf("expected ErrDiscarded for %v, got %v", h, h.Err())
		}
	}

	if _, _, ok := pt.Ack(1, nil); ok {
		t.Fatal("discarded publish was acknowledged")
	}
	if n := pt.Discard(); n != 0 {
		t.Fatalf("expected nothing to discard, got %d", n)
	}
}

func TestHandleWait(t *testing.T) {
	h := newHandle("t", "p", "s/1", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := h.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected a deadline, got %v", err)
	}

	go h.complete(nil)
	if err := h.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Only the first completion counts.
	h.complete(errors.New("too late"))
	if h.Err() != nil {
		t.Fatalf("handle was completed twice: %v", h.Err())
	}
}
