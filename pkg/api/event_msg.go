// SPDX-FileCopyrightText: 2026 The dronefleet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package api

import (
	"fmt"
	"io"
	"time"

	"github.com/dtn7/cboring"

	"github.com/dtn7/dronefleet/pkg/command"
	"github.com/dtn7/dronefleet/pkg/drone"
)

const eventMessageFields = 11

// eventMessage is the CBOR representation of a drone.Event, sent over the WebSocket.
type eventMessage struct {
	drone    string
	typ      drone.EventType
	time     time.Time
	state    drone.State
	topic    string
	payload  string
	context  string
	command  command.Command
	altitude uint64
	errorMsg string
}

// newEventMessage creates an eventMessage for an Event.
func newEventMessage(e drone.Event) *eventMessage {
	em := &eventMessage{
		drone:   e.Drone,
		typ:     e.Type,
		time:    e.Time,
		state:   e.State,
		topic:   e.Topic,
		payload: e.Payload,
		context: e.Context,
		command: e.Command,
	}

	if e.Altitude > 0 {
		em.altitude = uint64(e.Altitude)
	}
	if e.Err != nil {
		em.errorMsg = e.Err.Error()
	}
	return em
}

func (em *eventMessage) String() string {
	return fmt.Sprintf("%v event from %s", em.typ, em.drone)
}

func (em *eventMessage) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(eventMessageFields, w); err != nil {
		return err
	}

	if err := cboring.WriteTextString(em.drone, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(em.typ), w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(em.time.UnixNano()), w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(em.state), w); err != nil {
		return err
	}

	for _, s := range []string{em.topic, em.payload, em.context, em.command.Name, em.command.Target} {
		if err := cboring.WriteTextString(s, w); err != nil {
			return err
		}
	}

	if err := cboring.WriteUInt(em.altitude, w); err != nil {
		return err
	}
	return cboring.WriteTextString(em.errorMsg, w)
}

func (em *eventMessage) UnmarshalCbor(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != eventMessageFields {
		return fmt.Errorf("expected array of %d elements, got %d", eventMessageFields, n)
	}

	var err error

	if em.drone, err = cboring.ReadTextString(r); err != nil {
		return err
	}

	if typ, typErr := cboring.ReadUInt(r); typErr != nil {
		return typErr
	} else {
		em.typ = drone.EventType(typ)
	}

	if nanos, timeErr := cboring.ReadUInt(r); timeErr != nil {
		return timeErr
	} else {
		em.time = time.Unix(0, int64(nanos))
	}

	if state, stateErr := cboring.ReadUInt(r); stateErr != nil {
		return stateErr
	} else {
		em.state = drone.State(state)
	}

	for _, s := range []*string{&em.topic, &em.payload, &em.context, &em.command.Name, &em.command.Target} {
		if *s, err = cboring.ReadTextString(r); err != nil {
			return err
		}
	}

	if em.altitude, err = cboring.ReadUInt(r); err != nil {
		return err
	}
	em.errorMsg, err = cboring.ReadTextString(r)
	return err
}
