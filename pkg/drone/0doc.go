// SPDX-FileCopyrightText: 2026 The dronefleet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package drone implements a drone's broker session and its command dispatching.
//
// A Drone owns one transport.Connection and walks through the States Disconnected, Connecting, Connected,
// Subscribing and Ready. Once Ready, it announces itself on the command topic and dispatches inbound commands
// addressed to its name to registered CommandHandlers.
//
// Publishes are serialized per Drone by a PublishTracker, which correlates each publish with its completion.
// Everything observable happens through Events, which are available on the Events channel.
package drone
