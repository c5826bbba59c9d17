// SPDX-FileCopyrightText: 2026 The dronefleet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package drone

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dtn7/dronefleet/pkg/transport"
)

type mockSubscribe struct {
	op    transport.Operation
	topic string
	qos   byte
}

type mockPublish struct {
	op      transport.Operation
	topic   string
	qos     byte
	payload string
}

// mockConn is a transport.Connection recording all requests. Completions are triggered by the test itself.
type mockConn struct {
	sync.Mutex

	clientId  string
	observers transport.Observers

	open bool

	connects    []transport.Operation
	subscribes  []mockSubscribe
	publishes   []mockPublish
	disconnects []time.Duration

	connectErr error
	publishErr error
}

func (m *mockConn) Connect(op transport.Operation) error {
	m.Lock()
	defer m.Unlock()

	m.connects = append(m.connects, op)
	return m.connectErr
}

func (m *mockConn) Subscribe(op transport.Operation, topic string, qos byte) error {
	m.Lock()
	defer m.Unlock()

	m.subscribes = append(m.subscribes, mockSubscribe{op, topic, qos})
	return nil
}

func (m *mockConn) Publish(op transport.Operation, topic string, qos byte, payload []byte) error {
	m.Lock()
	defer m.Unlock()

	if m.publishErr != nil {
		return m.publishErr
	}
	m.publishes = append(m.publishes, mockPublish{op, topic, qos, string(payload)})
	return nil
}

func (m *mockConn) Disconnect(quiesce time.Duration) error {
	m.Lock()
	defer m.Unlock()

	m.open = false
	m.disconnects = append(m.disconnects, quiesce)
	return nil
}

func (m *mockConn) IsOpen() bool {
	m.Lock()
	defer m.Unlock()

	return m.open
}

// completeConnect reports the result of the last connect request.
func (m *mockConn) completeConnect(err error) {
	m.Lock()
	op := m.connects[len(m.connects)-1]
	m.open = err == nil
	m.Unlock()

	m.observers.Operations.OnOperationComplete(op, err)
}

// completeSubscribe reports the result of the last subscribe request.
func (m *mockConn) completeSubscribe(err error) {
	m.Lock()
	op := m.subscribes[len(m.subscribes)-1].op
	m.Unlock()

	m.observers.Operations.OnOperationComplete(op, err)
}

// completePublish reports the result of the i-th publish request.
func (m *mockConn) completePublish(i int, err error) {
	m.Lock()
	op := m.publishes[i].op
	m.Unlock()

	m.observers.Operations.OnOperationComplete(op, err)
}

func (m *mockConn) published() []mockPublish {
	m.Lock()
	defer m.Unlock()

	return append([]mockPublish(nil), m.publishes...)
}

// mockDialer creates mockConns and keeps track of them.
type mockDialer struct {
	sync.Mutex

	conns   []*mockConn
	dialErr error
}

func (md *mockDialer) Dial(clientId string, observers transport.Observers) (transport.Connection, error) {
	md.Lock()
	defer md.Unlock()

	if md.dialErr != nil {
		return nil, md.dialErr
	}

	conn := &mockConn{clientId: clientId, observers: observers}
	md.conns = append(md.conns, conn)
	return conn, nil
}

func (md *mockDialer) dials() int {
	md.Lock()
	defer md.Unlock()

	return len(md.conns)
}

func (md *mockDialer) last() *mockConn {
	md.Lock()
	defer md.Unlock()

	return md.conns[len(md.conns)-1]
}

// fixedRand always returns the same value, if possible.
type fixedRand int

func (fr fixedRand) Intn(n int) int {
	return int(fr) % n
}

// sequentialIds creates session IDs like "name-1", "name-2", ...
func sequentialIds(name string) IDSource {
	var (
		mutex sync.Mutex
		n     int
	)
	return IDSourceFunc(func() string {
		mutex.Lock()
		defer mutex.Unlock()

		n++
		return fmt.Sprintf("%s-%d", name, n)
	})
}

func newTestDrone(t *testing.T, name string) (*Drone, *mockDialer) {
	dialer := &mockDialer{}

	d, err := New(Config{
		Name:   name,
		Dialer: dialer,
		IDs:    sequentialIds(name),
		Rand:   fixedRand(41),
	})
	if err != nil {
		t.Fatal(err)
	}
	return d, dialer
}

// readyDrone creates a Ready Drone whose listening announcement was already acknowledged.
func readyDrone(t *testing.T, name string) (*Drone, *mockConn) {
	d, dialer := newTestDrone(t, name)

	if err := d.Connect(); err != nil {
		t.Fatal(err)
	}

	conn := dialer.last()
	conn.completeConnect(nil)
	conn.completeSubscribe(nil)
	conn.completePublish(0, nil)

	if !d.IsReady() {
		t.Fatalf("drone is not ready, but %v", d.State())
	}

	_ = drainEvents(d)
	return d, conn
}

// drainEvents returns all currently buffered Events.
func drainEvents(d *Drone) (events []Event) {
	for {
		select {
		case e := <-d.Events():
			events = append(events, e)
		default:
			return
		}
	}
}

// eventsOfType filters Events by their type.
func eventsOfType(events []Event, et EventType) (filtered []Event) {
	for _, e := range events {
		if e.Type == et {
			filtered = append(filtered, e)
		}
	}
	return
}

// stateChanges extracts the States of all StateChanged Events.
func stateChanges(events []Event) (states []State) {
	for _, e := range eventsOfType(events, StateChanged) {
		states = append(states, e.State)
	}
	return
}
