// SPDX-FileCopyrightText: 2026 The dronefleet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dronefleet/pkg/command"
	"github.com/dtn7/dronefleet/pkg/drone"
	"github.com/dtn7/dronefleet/pkg/fleet"
)

// API is a http.Handler for a fleet.
type API struct {
	fleet    *fleet.Fleet
	router   *mux.Router
	upgrader websocket.Upgrader
}

// New creates an API for a fleet, registering its routes on a new router.
func New(f *fleet.Fleet) (api *API) {
	api = &API{
		fleet:    f,
		router:   mux.NewRouter(),
		upgrader: websocket.Upgrader{},
	}

	api.router.HandleFunc("/drones", api.handleDrones).Methods(http.MethodGet)
	api.router.HandleFunc("/drones/{name}", api.handleDrone).Methods(http.MethodGet)
	api.router.HandleFunc("/drones/{name}/command", api.handleCommand).Methods(http.MethodPost)
	api.router.HandleFunc("/events", api.handleEvents).Methods(http.MethodGet)

	return api
}

// ServeHTTP is a http.Handler to be bound to a HTTP server.
func (api *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	api.router.ServeHTTP(w, r)
}

func (api *API) log() *log.Entry {
	return log.WithField("api", api.fleet.Master().Name())
}

func (api *API) writeJson(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.log().WithError(err).Warn("Failed to write JSON response")
	}
}

// handleDrones processes GET /drones requests.
func (api *API) handleDrones(w http.ResponseWriter, _ *http.Request) {
	resp := DronesResponse{Drones: []DroneStatus{}}
	for _, d := range api.fleet.Drones() {
		resp.Drones = append(resp.Drones, newDroneStatus(d, d == api.fleet.Master()))
	}

	api.writeJson(w, http.StatusOK, resp)
}

// handleDrone processes GET /drones/{name} requests.
func (api *API) handleDrone(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	d, ok := api.fleet.Drone(name)
	if !ok {
		api.writeJson(w, http.StatusNotFound, DroneResponse{Error: "unknown drone " + name})
		return
	}

	status := newDroneStatus(d, d == api.fleet.Master())
	api.writeJson(w, http.StatusOK, DroneResponse{Drone: &status})
}

// handleCommand processes POST /drones/{name}/command requests.
func (api *API) handleCommand(w http.ResponseWriter, r *http.Request) {
	var (
		name = mux.Vars(r)["name"]

		req  CommandRequest
		resp CommandResponse
	)

	d, ok := api.fleet.Drone(name)
	if !ok {
		resp.Error = "unknown drone " + name
		api.writeJson(w, http.StatusNotFound, resp)
		return
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.Error = err.Error()
		api.writeJson(w, http.StatusBadRequest, resp)
		return
	}
	if req.Command == "" {
		req.Command = command.GetAltitude
	}

	h, err := d.PublishCommand(req.Command, req.Target)

	logger := api.log().WithFields(log.Fields{
		"drone":   name,
		"request": req,
	})
	if err != nil {
		logger = logger.WithError(err)
	}
	logger.Info("Processing command request")

	switch {
	case err == nil:
		resp.Context = h.Context()
		resp.Payload = h.Payload()
		api.writeJson(w, http.StatusAccepted, resp)

	case errors.Is(err, command.ErrInvalidField):
		resp.Error = err.Error()
		api.writeJson(w, http.StatusBadRequest, resp)

	case errors.Is(err, drone.ErrNotConnected):
		resp.Error = err.Error()
		api.writeJson(w, http.StatusConflict, resp)

	case errors.Is(err, drone.ErrPublishQueueFull):
		resp.Error = err.Error()
		api.writeJson(w, http.StatusServiceUnavailable, resp)

	default:
		resp.Error = err.Error()
		api.writeJson(w, http.StatusInternalServerError, resp)
	}
}

// handleEvents upgrades GET /events to a WebSocket, streaming all Events until either side closes.
func (api *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := api.upgrader.Upgrade(w, r, nil)
	if err != nil {
		api.log().WithError(err).Warn("Upgrading HTTP request to WebSocket errored")
		return
	}

	events, unsubscribe := api.fleet.Subscribe()
	newEventClient(conn, events, unsubscribe).start()
}
