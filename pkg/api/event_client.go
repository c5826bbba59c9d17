// SPDX-FileCopyrightText: 2026 The dronefleet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package api

import (
	"sync"

	"github.com/dtn7/cboring"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dronefleet/pkg/drone"
)

// eventClient streams Events to one WebSocket client.
type eventClient struct {
	conn        *websocket.Conn
	events      <-chan drone.Event
	unsubscribe func()

	shutdownOnce sync.Once
}

func newEventClient(conn *websocket.Conn, events <-chan drone.Event, unsubscribe func()) *eventClient {
	return &eventClient{
		conn:        conn,
		events:      events,
		unsubscribe: unsubscribe,
	}
}

func (client *eventClient) log() *log.Entry {
	return log.WithField("event client", client.conn.RemoteAddr().String())
}

// start streaming and block until the connection is closed.
func (client *eventClient) start() {
	client.log().Debug("Event client connected")

	go client.handleEvents()
	client.handleConn()
}

func (client *eventClient) shutdown() {
	client.shutdownOnce.Do(func() {
		client.log().Debug("Reached shutdown")

		client.unsubscribe()
		_ = client.conn.Close()
	})
}

// handleEvents writes each Event until the subscription ends.
func (client *eventClient) handleEvents() {
	defer client.shutdown()

	for e := range client.events {
		if err := client.writeEvent(e); err != nil {
			client.log().WithError(err).Debug("Sending Event errored")
			return
		}
	}
}

// handleConn reads until the client closes the connection. Inbound messages are not supported and discarded.
func (client *eventClient) handleConn() {
	defer client.shutdown()

	for {
		if messageType, _, err := client.conn.NextReader(); err != nil {
			client.log().WithError(err).Debug("Reading from WebSocket ended")
			return
		} else {
			client.log().WithField("message type", messageType).Debug("Discarding inbound WebSocket message")
		}
	}
}

func (client *eventClient) writeEvent(e drone.Event) error {
	wc, wcErr := client.conn.NextWriter(websocket.BinaryMessage)
	if wcErr != nil {
		return wcErr
	}

	if cborErr := cboring.Marshal(newEventMessage(e), wc); cborErr != nil {
		return cborErr
	}

	return wc.Close()
}
