// SPDX-FileCopyrightText: 2026 The dronefleet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package loopback provides an in-process broker, implementing the transport interfaces without any network.
//
// Each Connection owns a dispatcher goroutine, delivering its notifications in the order they were caused. Thus, a
// connect is reported before a subscribe, and a subscribe before the first message on its topic. Topic filters are
// matched literally; wildcards are not supported.
package loopback

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dronefleet/pkg/transport"
)

var (
	// ErrBrokerClosed is reported to Connections of a closed Broker.
	ErrBrokerClosed = errors.New("loopback broker is closed")

	// ErrSevered is reported to Connections which were severed by Sever.
	ErrSevered = errors.New("connection was severed")

	// ErrTakenOver is reported to a Connection whose client ID was used by a newer Connection.
	ErrTakenOver = errors.New("client ID was taken over by another connection")
)

// Broker is an in-process publish/subscribe broker and a transport.Dialer for its Connections.
type Broker struct {
	mutex   sync.Mutex
	clients map[string]*Connection
	closed  bool
}

// NewBroker creates an empty Broker.
func NewBroker() *Broker {
	return &Broker{clients: make(map[string]*Connection)}
}

func (b *Broker) log() *log.Entry {
	return log.WithField("broker", "loopback")
}

// Dial creates an unconnected Connection. This implements the transport.Dialer.
func (b *Broker) Dial(clientID string, observers transport.Observers) (transport.Connection, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client ID is empty")
	}
	if observers.Connection == nil || observers.Operations == nil || observers.Messages == nil {
		return nil, fmt.Errorf("client %s misses an observer", clientID)
	}

	b.mutex.Lock()
	closed := b.closed
	b.mutex.Unlock()

	if closed {
		return nil, ErrBrokerClosed
	}
	return newConnection(b, clientID, observers), nil
}

// attach registers a connecting Connection. A previous Connection for the same client ID is taken over, as an MQTT
// broker would do.
func (b *Broker) attach(c *Connection) error {
	b.mutex.Lock()
	if b.closed {
		b.mutex.Unlock()
		return ErrBrokerClosed
	}
	prev := b.clients[c.clientID]
	b.clients[c.clientID] = c
	b.mutex.Unlock()

	if prev != nil && prev != c {
		b.log().WithField("client", c.clientID).Info("Client ID was taken over by a new connection")
		prev.sever(ErrTakenOver)
	}

	b.log().WithField("client", c.clientID).Debug("Client connected")
	return nil
}

// detach removes a Connection, if it is still the current one for its client ID.
func (b *Broker) detach(c *Connection) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.clients[c.clientID] == c {
		delete(b.clients, c.clientID)
	}
}

// route a published message to every subscribed Connection, including the publishing one.
func (b *Broker) route(topic string, payload []byte) (receivers int) {
	b.mutex.Lock()
	conns := make([]*Connection, 0, len(b.clients))
	for _, c := range b.clients {
		conns = append(conns, c)
	}
	b.mutex.Unlock()

	for _, c := range conns {
		if c.deliver(topic, append([]byte(nil), payload...)) {
			receivers++
		}
	}
	return
}

// Clients returns the sorted client IDs of all connected Connections.
func (b *Broker) Clients() []string {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	ids := make([]string, 0, len(b.clients))
	for id := range b.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sever the Connection of a client ID, reporting ErrSevered as a lost connection. This simulates a network failure.
func (b *Broker) Sever(clientID string) bool {
	b.mutex.Lock()
	c, ok := b.clients[clientID]
	b.mutex.Unlock()

	if ok {
		c.sever(ErrSevered)
	}
	return ok
}

// Close this Broker. All Connections are lost with ErrBrokerClosed and new ones are refused.
func (b *Broker) Close() {
	b.mutex.Lock()
	b.closed = true
	conns := make([]*Connection, 0, len(b.clients))
	for _, c := range b.clients {
		conns = append(conns, c)
	}
	b.mutex.Unlock()

	for _, c := range conns {
		c.sever(ErrBrokerClosed)
	}
	b.log().WithField("clients", len(conns)).Info("Closed loopback broker")
}
