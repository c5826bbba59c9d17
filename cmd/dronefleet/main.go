// SPDX-FileCopyrightText: 2026 The dronefleet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// dronefleet runs a fleet of drones, configured by a TOML file. The master drone periodically queries the altitude of
// a random other drone.
package main

import (
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
)

// waitSigint blocks the current thread until a SIGINT or SIGTERM appears.
func waitSigint() {
	signalSyn := make(chan os.Signal, 1)
	signalAck := make(chan struct{})

	signal.Notify(signalSyn, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalSyn
		close(signalAck)
	}()

	<-signalAck
}

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s configuration.toml", os.Args[0])
	}

	conf, err := parseConfig(os.Args[1])
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Fatal("Failed to parse config")
	}

	setupLogging(conf.Logging)

	d, err := newDaemon(conf)
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Fatal("Failed to start")
	}

	cw, err := watchConfig(os.Args[1], d)
	if err != nil {
		log.WithError(err).Warn("Watching the configuration failed, changes require a restart")
	}

	waitSigint()
	log.Info("Shutting down..")

	if cw != nil {
		_ = cw.Close()
	}
	if err := d.Close(); err != nil {
		log.WithError(err).Warn("Shutdown errored")
	}
}
