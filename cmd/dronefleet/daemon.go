// SPDX-FileCopyrightText: 2026 The dronefleet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dronefleet/pkg/api"
	"github.com/dtn7/dronefleet/pkg/broker"
	"github.com/dtn7/dronefleet/pkg/drone"
	"github.com/dtn7/dronefleet/pkg/fleet"
	"github.com/dtn7/dronefleet/pkg/transport"
	"github.com/dtn7/dronefleet/pkg/transport/loopback"
	"github.com/dtn7/dronefleet/pkg/transport/paho"
)

// daemon bundles all components started from a configuration.
type daemon struct {
	embedded   *broker.Broker
	loopback   *loopback.Broker
	fleet      *fleet.Fleet
	httpServer *http.Server

	cancel context.CancelFunc
}

// newDaemon creates and starts all configured components. On error, the already started ones are closed again.
func newDaemon(conf tomlConfig) (d *daemon, err error) {
	d = &daemon{}
	defer func() {
		if err != nil {
			_ = d.Close()
			d = nil
		}
	}()

	if conf.Broker.Embedded != "" {
		if d.embedded, err = broker.New(conf.Broker.Embedded); err != nil {
			return
		}
		d.embedded.Start()
	}

	var dialer transport.Dialer
	if url := conf.brokerUrl(); url == memoryBroker {
		d.loopback = loopback.NewBroker()
		dialer = d.loopback
	} else if dialer, err = paho.NewDialer(paho.Config{
		URL:            url,
		KeepAlive:      conf.Broker.KeepAlive,
		ConnectTimeout: conf.Broker.ConnectTimeout,
	}); err != nil {
		return
	}

	protocol := conf.protocol()

	var drones []*drone.Drone
	for _, name := range conf.droneNames() {
		dr, drErr := drone.New(drone.Config{
			Name:     name,
			Protocol: &protocol,
			Dialer:   dialer,
			IDs:      drone.UUIDSource(conf.Broker.ClientIdPrefix),
		})
		if drErr != nil {
			err = drErr
			return
		}
		drones = append(drones, dr)
	}

	if d.fleet, err = fleet.New(fleet.Config{
		Master:    conf.Fleet.Master,
		Interval:  conf.interval(),
		Reconnect: conf.Fleet.Reconnect,
	}, drones...); err != nil {
		return
	}

	if conf.Api.Listen != "" {
		d.httpServer = &http.Server{
			Addr:    conf.Api.Listen,
			Handler: api.New(d.fleet),
		}

		go func(srv *http.Server) {
			if srvErr := srv.ListenAndServe(); srvErr != nil && !errors.Is(srvErr, http.ErrServerClosed) {
				log.WithError(srvErr).WithField("listen", srv.Addr).Error("HTTP API errored")
			}
		}(d.httpServer)
	}

	var ctx context.Context
	ctx, d.cancel = context.WithCancel(context.Background())
	err = d.fleet.Start(ctx)

	log.WithFields(log.Fields{
		"broker": conf.brokerUrl(),
		"drones": len(drones),
		"master": conf.Fleet.Master,
		"api":    conf.Api.Listen,
	}).Info("Started dronefleet")
	return
}

// reload applies the settings which might be changed at runtime: logging and the query interval.
func (d *daemon) reload(conf tomlConfig) error {
	setupLogging(conf.Logging)

	if err := d.fleet.SetInterval(conf.interval()); err != nil {
		return fmt.Errorf("changing the interval errored: %w", err)
	}
	return nil
}

// Close all components, collecting each error.
func (d *daemon) Close() (errs error) {
	if d.cancel != nil {
		d.cancel()
	}

	if d.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.httpServer.Shutdown(ctx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("shutting down the HTTP API errored: %w", err))
		}
		cancel()
	}

	if d.fleet != nil {
		if err := d.fleet.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if d.loopback != nil {
		d.loopback.Close()
	}

	if d.embedded != nil {
		if err := d.embedded.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("closing the embedded broker errored: %w", err))
		}
	}

	return
}
