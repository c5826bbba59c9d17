// SPDX-FileCopyrightText: 2026 The dronefleet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package command implements the plain text wire format for drone commands.
//
// A command is a single line of three fields, separated by a reserved character, e.g.,
// "COMMAND:GET_ALTITUDE:Drone-1". The first field is a fixed key, marking the message as a command. The second field
// names the command and the third one addresses the target drone.
//
// Every other payload on the command topic is valid traffic, but not a command. Thus, Decode reports such payloads
// by a boolean and not by an error.
package command
