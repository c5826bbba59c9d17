// SPDX-FileCopyrightText: 2026 The dronefleet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package api

import "github.com/dtn7/dronefleet/pkg/drone"

// DroneStatus describes a single drone.
type DroneStatus struct {
	Name      string `json:"name"`
	Master    bool   `json:"master"`
	State     string `json:"state"`
	Session   string `json:"session"`
	Connected bool   `json:"connected"`
	Ready     bool   `json:"ready"`
	Pending   int    `json:"pending_publishes"`
}

func newDroneStatus(d *drone.Drone, master bool) DroneStatus {
	state := d.State()
	return DroneStatus{
		Name:      d.Name(),
		Master:    master,
		State:     state.String(),
		Session:   d.SessionID(),
		Connected: state.IsConnected(),
		Ready:     state == drone.Ready,
		Pending:   d.PendingPublishes(),
	}
}

// DronesResponse describes a JSON response for GET /drones.
type DronesResponse struct {
	Error  string        `json:"error"`
	Drones []DroneStatus `json:"drones"`
}

// DroneResponse describes a JSON response for GET /drones/{name}.
type DroneResponse struct {
	Error string       `json:"error"`
	Drone *DroneStatus `json:"drone,omitempty"`
}

// CommandRequest describes a JSON to be POSTed to /drones/{name}/command. The named drone publishes the command,
// addressed to the target. An empty command defaults to GET_ALTITUDE.
type CommandRequest struct {
	Command string `json:"command"`
	Target  string `json:"target"`
}

// CommandResponse describes a JSON response for /drones/{name}/command.
type CommandResponse struct {
	Error   string `json:"error"`
	Context string `json:"context"`
	Payload string `json:"payload"`
}
