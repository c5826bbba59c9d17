// SPDX-FileCopyrightText: 2026 The dronefleet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package drone

// State of a Drone's broker session. A session advances from Disconnected up to Ready, one State after another.
// Each failure or a lost connection resets the session to Disconnected.
type State int

const (
	// Disconnected is the initial State without any connection.
	Disconnected State = iota

	// Connecting is entered while a connect request is in flight.
	Connecting

	// Connected is entered after a successful connect, directly before subscribing.
	Connected

	// Subscribing is entered while the subscription for the command topic is in flight.
	Subscribing

	// Ready describes an established session, receiving and dispatching commands.
	Ready
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Subscribing:
		return "subscribing"
	case Ready:
		return "ready"
	default:
		return "INVALID"
	}
}

// IsConnected is true for Connected, Subscribing and Ready.
func (s State) IsConnected() bool {
	return s == Connected || s == Subscribing || s == Ready
}
