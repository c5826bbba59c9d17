// SPDX-FileCopyrightText: 2026 The dronefleet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package transport describes the broker-facing side of a drone.
//
// A Connection issues asynchronous requests, each tagged with an Operation chosen by the caller. The results are
// reported back through three independent observers: the ConnectionObserver learns about a lost connection, the
// OperationCompletionObserver receives the result of each Operation, and the MessageObserver receives messages of
// subscribed topics.
//
// Implementations must report the connect result before any subscribe result, and a subscribe result before any
// message on that topic. Observers might be called from different goroutines and must not block.
package transport

import (
	"errors"
	"time"
)

// ErrClosed is returned by requests on an already closed Connection.
var ErrClosed = errors.New("connection is closed")

// Operation identifies one asynchronous request. It is chosen by the requesting side and reported back unaltered.
type Operation uint64

// ConnectionObserver is informed about the unexpected loss of a connection.
type ConnectionObserver interface {
	OnConnectionLost(err error)
}

// OperationCompletionObserver is informed about the outcome of each requested Operation. A nil error indicates
// success.
type OperationCompletionObserver interface {
	OnOperationComplete(op Operation, err error)
}

// MessageObserver receives each message delivered on a subscribed topic. For higher QoS levels the transport
// finalizes the delivery only after OnMessage returned.
type MessageObserver interface {
	OnMessage(topic string, payload []byte)
}

// Observers bundles the three observer roles handed to a Dialer.
type Observers struct {
	Connection ConnectionObserver
	Operations OperationCompletionObserver
	Messages   MessageObserver
}

// Connection to a broker. All requests return immediately; their outcome is reported to the OperationCompletionObserver.
// A returned error indicates that the request was not issued at all and no completion will follow.
type Connection interface {
	// Connect to the broker.
	Connect(op Operation) error

	// Subscribe to a topic with the requested QoS.
	Subscribe(op Operation, topic string, qos byte) error

	// Publish a payload to a topic with the requested QoS.
	Publish(op Operation, topic string, qos byte, payload []byte) error

	// Disconnect gracefully, waiting at most for the quiesce duration for outstanding work.
	Disconnect(quiesce time.Duration) error

	// IsOpen reports if this Connection is established and usable.
	IsOpen() bool
}

// Dialer creates an unconnected Connection for the given client ID, reporting to the Observers.
type Dialer interface {
	Dial(clientID string, observers Observers) (Connection, error)
}

// DialerFunc adapts a function to a Dialer.
type DialerFunc func(clientID string, observers Observers) (Connection, error)

// Dial calls f.
func (f DialerFunc) Dial(clientID string, observers Observers) (Connection, error) {
	return f(clientID, observers)
}
