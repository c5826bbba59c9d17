// SPDX-FileCopyrightText: 2026 The dronefleet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package loopback

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dronefleet/pkg/transport"
)

type connState int

const (
	idle connState = iota
	open
	closed
)

// Connection of a client to a Broker. This implements the transport.Connection.
type Connection struct {
	broker    *Broker
	clientID  string
	observers transport.Observers

	mutex         sync.Mutex
	state         connState
	subscriptions map[string]byte

	dispatcher *dispatcher
}

func newConnection(b *Broker, clientID string, observers transport.Observers) *Connection {
	return &Connection{
		broker:        b,
		clientID:      clientID,
		observers:     observers,
		state:         idle,
		subscriptions: make(map[string]byte),
		dispatcher:    newDispatcher(),
	}
}

func (c *Connection) String() string {
	return fmt.Sprintf("loopback://%s", c.clientID)
}

func (c *Connection) log() *log.Entry {
	return log.WithField("loopback", c.clientID)
}

func (c *Connection) complete(op transport.Operation, err error) {
	c.dispatcher.enqueue(func() {
		c.observers.Operations.OnOperationComplete(op, err)
	})
}

// Connect to the Broker.
func (c *Connection) Connect(op transport.Operation) error {
	c.mutex.Lock()
	if c.state != idle {
		c.mutex.Unlock()
		return fmt.Errorf("%v was already connected", c)
	}
	c.state = open
	c.mutex.Unlock()

	if err := c.broker.attach(c); err != nil {
		c.mutex.Lock()
		c.state = closed
		c.mutex.Unlock()

		c.dispatcher.enqueueLast(func() {
			c.observers.Operations.OnOperationComplete(op, err)
		})
		return nil
	}

	c.complete(op, nil)
	return nil
}

// Subscribe to a topic. The completion is queued while holding the mutex, so that no message for this topic can
// overtake it.
func (c *Connection) Subscribe(op transport.Operation, topic string, qos byte) error {
	if qos > 2 {
		return fmt.Errorf("invalid QoS %d", qos)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.state != open {
		return transport.ErrClosed
	}

	c.subscriptions[topic] = qos
	c.complete(op, nil)

	c.log().WithField("topic", topic).Debug("Subscribed")
	return nil
}

// Publish a payload to every subscriber of the topic.
func (c *Connection) Publish(op transport.Operation, topic string, qos byte, payload []byte) error {
	if qos > 2 {
		return fmt.Errorf("invalid QoS %d", qos)
	}

	c.mutex.Lock()
	isOpen := c.state == open
	c.mutex.Unlock()

	if !isOpen {
		return transport.ErrClosed
	}

	receivers := c.broker.route(topic, payload)
	c.complete(op, nil)

	c.log().WithFields(log.Fields{
		"topic":     topic,
		"receivers": receivers,
	}).Debug("Published")
	return nil
}

// deliver a message, if this Connection is subscribed to its topic.
func (c *Connection) deliver(topic string, payload []byte) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, ok := c.subscriptions[topic]; !ok || c.state != open {
		return false
	}

	return c.dispatcher.enqueue(func() {
		c.observers.Messages.OnMessage(topic, payload)
	})
}

// sever closes this Connection unexpectedly and reports the loss as its last notification.
func (c *Connection) sever(err error) {
	c.mutex.Lock()
	if c.state != open {
		c.mutex.Unlock()
		return
	}
	c.state = closed
	c.mutex.Unlock()

	c.broker.detach(c)
	c.dispatcher.enqueueLast(func() {
		c.observers.Connection.OnConnectionLost(err)
	})

	c.log().WithError(err).Info("Connection lost")
}

// Disconnect from the Broker. Already queued notifications are still delivered; as the Broker completes each request
// immediately, there is no outstanding work to wait the quiesce duration for.
func (c *Connection) Disconnect(_ time.Duration) error {
	c.mutex.Lock()
	if c.state == closed {
		c.mutex.Unlock()
		return nil
	}
	c.state = closed
	c.mutex.Unlock()

	c.broker.detach(c)
	c.dispatcher.finish()

	c.log().Debug("Disconnected")
	return nil
}

// IsOpen is true between a successful Connect and a Disconnect or a lost connection.
func (c *Connection) IsOpen() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.state == open
}
