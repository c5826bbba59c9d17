// SPDX-FileCopyrightText: 2026 The dronefleet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package drone

import "github.com/dtn7/dronefleet/pkg/transport"

// sessionObserver binds the transport's notifications to the session they were issued for. Notifications of a
// superseded session are ignored by the Drone.
type sessionObserver struct {
	drone   *Drone
	session uint64
}

func (so sessionObserver) OnConnectionLost(err error) {
	so.drone.connectionLost(so.session, err)
}

func (so sessionObserver) OnOperationComplete(op transport.Operation, err error) {
	so.drone.operationComplete(so.session, op, err)
}

func (so sessionObserver) OnMessage(topic string, payload []byte) {
	so.drone.mutex.Lock()
	current := so.drone.session == so.session
	so.drone.mutex.Unlock()

	if current {
		so.drone.OnMessage(topic, payload)
	}
}

// observers for a new session's Connection.
func (d *Drone) observers(session uint64) transport.Observers {
	so := sessionObserver{drone: d, session: session}
	return transport.Observers{
		Connection: so,
		Operations: so,
		Messages:   so,
	}
}
