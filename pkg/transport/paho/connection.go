// SPDX-FileCopyrightText: 2026 The dronefleet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package paho

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dronefleet/pkg/transport"
)

// Connection wraps a Paho client. This implements the transport.Connection.
type Connection struct {
	clientID  string
	observers transport.Observers
	client    mqtt.Client

	mutex  sync.Mutex
	closed bool
}

func (c *Connection) String() string {
	return fmt.Sprintf("paho://%s", c.clientID)
}

func (c *Connection) log() *log.Entry {
	return log.WithField("paho", c.clientID)
}

// await reports a token's result to the OperationCompletionObserver and executes the optional after function
// afterwards.
func (c *Connection) await(op transport.Operation, token mqtt.Token, after func()) {
	go func() {
		<-token.Done()
		c.observers.Operations.OnOperationComplete(op, token.Error())

		if after != nil {
			after()
		}
	}()
}

func (c *Connection) connectionLost(_ mqtt.Client, err error) {
	c.log().WithError(err).Debug("Paho reported a lost connection")
	c.observers.Connection.OnConnectionLost(err)
}

func (c *Connection) isClosed() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.closed
}

// Connect to the broker. A connect which succeeds after this Connection was already disconnected is closed again.
func (c *Connection) Connect(op transport.Operation) error {
	if c.isClosed() {
		return transport.ErrClosed
	}

	token := c.client.Connect()
	c.await(op, token, func() {
		if token.Error() == nil && c.isClosed() {
			c.log().Debug("Closing a connection established after its disconnect")
			c.client.Disconnect(0)
		}
	})
	return nil
}

// Subscribe to a topic. Messages are held back until the subscription's completion was reported.
func (c *Connection) Subscribe(op transport.Operation, topic string, qos byte) error {
	if qos > 2 {
		return fmt.Errorf("invalid QoS %d", qos)
	}
	if !c.client.IsConnectionOpen() {
		return transport.ErrClosed
	}

	reported := make(chan struct{})
	token := c.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		<-reported
		c.observers.Messages.OnMessage(msg.Topic(), msg.Payload())
	})

	c.await(op, token, func() { close(reported) })
	return nil
}

// Publish a payload to a topic, not retained.
func (c *Connection) Publish(op transport.Operation, topic string, qos byte, payload []byte) error {
	if qos > 2 {
		return fmt.Errorf("invalid QoS %d", qos)
	}
	if !c.client.IsConnectionOpen() {
		return transport.ErrClosed
	}

	c.await(op, c.client.Publish(topic, qos, false, payload), nil)
	return nil
}

// Disconnect from the broker, granting outstanding work the quiesce duration.
func (c *Connection) Disconnect(quiesce time.Duration) error {
	c.mutex.Lock()
	c.closed = true
	c.mutex.Unlock()

	if !c.client.IsConnected() {
		return nil
	}

	c.client.Disconnect(uint(quiesce.Milliseconds()))
	return nil
}

// IsOpen reports if the network connection is established.
func (c *Connection) IsOpen() bool {
	return c.client.IsConnectionOpen()
}
