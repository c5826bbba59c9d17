// SPDX-FileCopyrightText: 2026 The dronefleet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package drone

import (
	"fmt"
	"time"

	"github.com/dtn7/dronefleet/pkg/command"
)

// EventType indicates the kind of an Event.
type EventType uint

const (
	_ EventType = iota

	// StateChanged reports a new session State, available in the Event's State field.
	StateChanged

	// Published reports a publish acknowledged by the broker. Topic, Payload and Context are set.
	Published

	// PublishFailed reports a publish rejected by the broker. Topic, Payload, Context and Err are set.
	PublishFailed

	// CommandReceived reports an inbound Command addressed to this Drone, available in the Command field.
	CommandReceived

	// AltitudeReported reports the Altitude computed for a GET_ALTITUDE command.
	AltitudeReported

	// ConnectionLost reports the loss of the broker connection, with the cause in Err.
	ConnectionLost
)

func (et EventType) String() string {
	switch et {
	case StateChanged:
		return "State Changed"
	case Published:
		return "Published"
	case PublishFailed:
		return "Publish Failed"
	case CommandReceived:
		return "Command Received"
	case AltitudeReported:
		return "Altitude Reported"
	case ConnectionLost:
		return "Connection Lost"
	default:
		return "Unknown Type"
	}
}

// Event is emitted by a Drone. Only the fields documented for its Type are set.
type Event struct {
	Drone string
	Type  EventType
	Time  time.Time

	State State

	Topic   string
	Payload string
	Context string

	Command  command.Command
	Altitude int

	Err error
}

func (e Event) String() string {
	switch e.Type {
	case StateChanged:
		return fmt.Sprintf("%v event from %s: %v", e.Type, e.Drone, e.State)
	case Published:
		return fmt.Sprintf("%v event from %s: %q on %s", e.Type, e.Drone, e.Payload, e.Topic)
	case PublishFailed, ConnectionLost:
		return fmt.Sprintf("%v event from %s: %v", e.Type, e.Drone, e.Err)
	case CommandReceived:
		return fmt.Sprintf("%v event from %s: %v", e.Type, e.Drone, e.Command)
	case AltitudeReported:
		return fmt.Sprintf("%v event from %s: %d feet", e.Type, e.Drone, e.Altitude)
	default:
		return fmt.Sprintf("%v event from %s", e.Type, e.Drone)
	}
}
