// SPDX-FileCopyrightText: 2026 The dronefleet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package paho implements the transport interfaces with the Eclipse Paho MQTT client.
//
// Each Dial creates a Paho client with a clean session, an in-memory message store and without automatic reconnects.
// Reconnecting is up to the drone's owner.
package paho

import (
	"fmt"
	"net/url"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dtn7/dronefleet/pkg/transport"
)

// Config of a Dialer.
type Config struct {
	// URL of the broker, e.g., tcp://localhost:1883.
	URL string

	// KeepAlive interval of the MQTT session. Defaults to 30s.
	KeepAlive time.Duration

	// ConnectTimeout limits the establishment of the network connection. Defaults to 10s.
	ConnectTimeout time.Duration
}

// Dialer creates Paho based Connections to one broker. This implements the transport.Dialer.
type Dialer struct {
	conf Config
}

// NewDialer checks the Config and creates a Dialer.
func NewDialer(conf Config) (*Dialer, error) {
	u, err := url.Parse(conf.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid broker URL %q: %w", conf.URL, err)
	}

	switch u.Scheme {
	case "tcp", "mqtt", "ssl", "tls", "mqtts", "ws", "wss":
	default:
		return nil, fmt.Errorf("broker URL %q has an unsupported scheme %q", conf.URL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("broker URL %q has no host", conf.URL)
	}

	if conf.KeepAlive <= 0 {
		conf.KeepAlive = 30 * time.Second
	}
	if conf.ConnectTimeout <= 0 {
		conf.ConnectTimeout = 10 * time.Second
	}

	bridgeLogging()

	return &Dialer{conf: conf}, nil
}

func (d *Dialer) String() string {
	return d.conf.URL
}

// Dial creates an unconnected Connection for the client ID.
func (d *Dialer) Dial(clientID string, observers transport.Observers) (transport.Connection, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client ID is empty")
	}
	if observers.Connection == nil || observers.Operations == nil || observers.Messages == nil {
		return nil, fmt.Errorf("client %s misses an observer", clientID)
	}

	c := &Connection{
		clientID:  clientID,
		observers: observers,
	}

	opts := mqtt.NewClientOptions().
		AddBroker(d.conf.URL).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetOrderMatters(true).
		SetKeepAlive(d.conf.KeepAlive).
		SetConnectTimeout(d.conf.ConnectTimeout).
		SetStore(mqtt.NewMemoryStore()).
		SetConnectionLostHandler(c.connectionLost)

	c.client = mqtt.NewClient(opts)
	return c, nil
}
