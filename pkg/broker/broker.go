// SPDX-FileCopyrightText: 2026 The dronefleet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package broker embeds a mochi-mqtt server, so that a fleet can run as a single binary without an external broker.
//
// The embedded broker accepts every client; authentication is out of scope. Its log output is forwarded to logrus.
package broker

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
	log "github.com/sirupsen/logrus"
)

// TapFunc receives a copy of each message published on a tapped topic.
type TapFunc func(topic string, payload []byte)

// Broker is an embedded MQTT broker with a single TCP listener.
type Broker struct {
	address string

	server *mqtt.Server
	writer *io.PipeWriter

	tapMutex sync.Mutex
	tapIds   int

	closeOnce sync.Once
}

// New creates a Broker listening on the TCP address, e.g., ":1883". The listener is bound immediately, but no client
// is served before Start was called.
func New(address string) (*Broker, error) {
	writer := log.WithField("broker", address).WriterLevel(log.InfoLevel)
	logger := slog.New(slog.NewTextHandler(writer, &slog.HandlerOptions{
		Level: slogLevel(),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	}))

	server := mqtt.New(&mqtt.Options{
		InlineClient: true,
		Logger:       logger,
	})

	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("adding the allow hook errored: %w", err)
	}

	tcp := listeners.NewTCP(listeners.Config{
		ID:      "tcp",
		Address: address,
	})
	if err := server.AddListener(tcp); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("listening on %s errored: %w", address, err)
	}

	return &Broker{
		address: address,
		server:  server,
		writer:  writer,
	}, nil
}

// slogLevel maps the current logrus level onto slog's levels.
func slogLevel() slog.Level {
	switch lvl := log.GetLevel(); {
	case lvl >= log.DebugLevel:
		return slog.LevelDebug
	case lvl == log.InfoLevel:
		return slog.LevelInfo
	case lvl == log.WarnLevel:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func (b *Broker) String() string {
	return fmt.Sprintf("mochi://%s", b.address)
}

func (b *Broker) log() *log.Entry {
	return log.WithField("broker", b.address)
}

// Start serving clients in the background.
func (b *Broker) Start() {
	go func() {
		if err := b.server.Serve(); err != nil {
			b.log().WithError(err).Error("Embedded broker failed")
		}
	}()

	b.log().Info("Started embedded MQTT broker")
}

// Address of the TCP listener.
func (b *Broker) Address() string {
	return b.address
}

// Clients is the amount of currently connected clients.
func (b *Broker) Clients() int64 {
	return atomic.LoadInt64(&b.server.Info.ClientsConnected)
}

// Tap subscribes the broker's inline client to a topic filter. The returned function removes this Tap again.
func (b *Broker) Tap(filter string, f TapFunc) (untap func(), err error) {
	b.tapMutex.Lock()
	b.tapIds++
	id := b.tapIds
	b.tapMutex.Unlock()

	handler := func(_ *mqtt.Client, _ packets.Subscription, pk packets.Packet) {
		f(pk.TopicName, append([]byte(nil), pk.Payload...))
	}
	if err = b.server.Subscribe(filter, id, handler); err != nil {
		return nil, fmt.Errorf("tapping %s errored: %w", filter, err)
	}

	untap = func() {
		if unErr := b.server.Unsubscribe(filter, id); unErr != nil {
			b.log().WithError(unErr).WithField("filter", filter).Debug("Removing a tap errored")
		}
	}
	return
}

// Close the listener and all client connections.
func (b *Broker) Close() (err error) {
	b.closeOnce.Do(func() {
		err = b.server.Close()
		_ = b.writer.Close()

		b.log().Info("Closed embedded MQTT broker")
	})
	return
}
