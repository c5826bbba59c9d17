// SPDX-FileCopyrightText: 2026 The dronefleet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package api exposes a fleet over HTTP.
//
// The RESTful part reports the drones' states and lets one drone publish a command to another:
//
//	GET  /drones                 -> DronesResponse
//	GET  /drones/{name}          -> DroneResponse
//	POST /drones/{name}/command  CommandRequest -> CommandResponse
//
// Furthermore, GET /events upgrades to a WebSocket, streaming each drone Event as a binary CBOR message. Each message
// is an array of eleven elements: drone name, event type, UNIX time in nanoseconds, state, topic, payload, publish
// context, command name, command target, altitude and an error message. Unused elements are zero values.
package api
