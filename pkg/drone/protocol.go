// SPDX-FileCopyrightText: 2026 The dronefleet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package drone

import (
	"fmt"
	"strings"

	"github.com/dtn7/dronefleet/pkg/command"
)

const (
	// DefaultTopic is shared by all drones of a fleet for their command traffic.
	DefaultTopic = "mqtt/drones/altitude"

	// DefaultQoS requests an "exactly once" delivery.
	DefaultQoS byte = 2

	// DefaultListeningFormat is published by each Drone after becoming Ready.
	DefaultListeningFormat = "%s is listening."
)

// Protocol bundles all fleet-wide protocol settings. The same Protocol must be used for every Drone of a fleet.
type Protocol struct {
	// Topic for all command traffic.
	Topic string

	// QoS for both subscribing and publishing.
	QoS byte

	// Codec to encode and decode commands.
	Codec command.Codec

	// ListeningFormat is a format string with exactly one %s verb for the Drone's name.
	ListeningFormat string
}

// DefaultProtocol returns the Protocol with the default topic, QoS 2 and the default command format.
func DefaultProtocol() Protocol {
	return Protocol{
		Topic:           DefaultTopic,
		QoS:             DefaultQoS,
		Codec:           command.DefaultCodec(),
		ListeningFormat: DefaultListeningFormat,
	}
}

// Validate this Protocol.
func (p Protocol) Validate() error {
	if p.Topic == "" {
		return fmt.Errorf("topic is empty")
	}
	if strings.ContainsAny(p.Topic, "+#") {
		return fmt.Errorf("topic %q contains wildcards", p.Topic)
	}
	if p.QoS > 2 {
		return fmt.Errorf("QoS %d is not one of 0, 1, 2", p.QoS)
	}
	if strings.Count(p.ListeningFormat, "%s") != 1 {
		return fmt.Errorf("listening format %q must contain exactly one %%s", p.ListeningFormat)
	}
	return p.Codec.Validate()
}

// listening returns the announcement for a Drone's name.
func (p Protocol) listening(name string) string {
	return fmt.Sprintf(p.ListeningFormat, name)
}
