// SPDX-FileCopyrightText: 2026 The dronefleet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package drone

import (
	"github.com/dtn7/dronefleet/pkg/command"
)

// MaxAltitude is the highest altitude in feet reported by ReportAltitude.
const MaxAltitude = 6000

// CommandHandler processes a Command addressed to a Drone. It is called from the transport's delivery and must not
// block, because the delivery is only acknowledged after the handler returned.
type CommandHandler func(d *Drone, cmd command.Command)

// Handle registers a CommandHandler for a command name, replacing a previous one. A nil handler removes it.
func (d *Drone) Handle(name string, handler CommandHandler) {
	d.handlersMutex.Lock()
	defer d.handlersMutex.Unlock()

	if handler == nil {
		delete(d.handlers, name)
	} else {
		d.handlers[name] = handler
	}
}

func (d *Drone) handler(name string) CommandHandler {
	d.handlersMutex.RLock()
	defer d.handlersMutex.RUnlock()

	return d.handlers[name]
}

// Intn returns a pseudo-random number in [0, n) from the Drone's Rand.
func (d *Drone) Intn(n int) int {
	d.randomMutex.Lock()
	defer d.randomMutex.Unlock()

	return d.random.Intn(n)
}

// ReportAltitude is the default handler for command.GetAltitude. It determines a pseudo-random altitude between 1
// and MaxAltitude feet and reports it as an AltitudeReported Event.
func ReportAltitude(d *Drone, cmd command.Command) {
	altitude := d.Intn(MaxAltitude) + 1

	d.log().WithField("altitude", altitude).Infof("%s altitude: %d feet", d.name, altitude)
	d.emit(Event{Type: AltitudeReported, Command: cmd, Altitude: altitude})
}
