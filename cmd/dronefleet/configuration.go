// SPDX-FileCopyrightText: 2026 The dronefleet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dronefleet/pkg/drone"
	"github.com/dtn7/dronefleet/pkg/fleet"
)

// memoryBroker is the broker URL selecting the in-process loopback broker.
const memoryBroker = "memory"

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Logging  logConf
	Broker   brokerConf
	Protocol protocolConf
	Fleet    fleetConf
	Api      apiConf
	Drone    []droneConf
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// brokerConf describes the Broker-configuration block.
type brokerConf struct {
	Url            string
	Embedded       string
	ClientIdPrefix string        `toml:"client-id-prefix"`
	KeepAlive      time.Duration `toml:"keepalive"`
	ConnectTimeout time.Duration `toml:"connect-timeout"`
}

// protocolConf describes the Protocol-configuration block. Unset values fall back to the defaults.
type protocolConf struct {
	Topic      string
	QoS        *int   `toml:"qos"`
	CommandKey string `toml:"command-key"`
	Separator  string
}

// fleetConf describes the Fleet-configuration block.
type fleetConf struct {
	Master    string
	Interval  time.Duration
	Reconnect bool
}

// apiConf describes the API-configuration block. An empty Listen address disables the HTTP API.
type apiConf struct {
	Listen string
}

// droneConf describes a Drone-configuration block.
type droneConf struct {
	Name string
}

// parseConfig reads a TOML configuration file and reports all invalid settings at once.
func parseConfig(filename string) (conf tomlConfig, err error) {
	if _, err = toml.DecodeFile(filename, &conf); err != nil {
		return
	}

	err = conf.validate()
	return
}

// brokerUrl to be dialed. An embedded broker without an URL is dialed locally.
func (conf tomlConfig) brokerUrl() string {
	if conf.Broker.Url != "" || conf.Broker.Embedded == "" {
		return conf.Broker.Url
	}

	if strings.HasPrefix(conf.Broker.Embedded, ":") {
		return "tcp://localhost" + conf.Broker.Embedded
	}
	return "tcp://" + conf.Broker.Embedded
}

// protocol overrides the default Protocol with all configured values.
func (conf tomlConfig) protocol() drone.Protocol {
	protocol := drone.DefaultProtocol()

	if conf.Protocol.Topic != "" {
		protocol.Topic = conf.Protocol.Topic
	}
	if conf.Protocol.QoS != nil {
		protocol.QoS = byte(*conf.Protocol.QoS)
	}
	if conf.Protocol.CommandKey != "" {
		protocol.Codec.Key = conf.Protocol.CommandKey
	}
	if conf.Protocol.Separator != "" {
		protocol.Codec.Separator = conf.Protocol.Separator
	}

	return protocol
}

// droneNames in configured order, the master included.
func (conf tomlConfig) droneNames() (names []string) {
	hasMaster := false
	for _, d := range conf.Drone {
		names = append(names, d.Name)
		hasMaster = hasMaster || d.Name == conf.Fleet.Master
	}

	if !hasMaster && conf.Fleet.Master != "" {
		names = append(names, conf.Fleet.Master)
	}
	return
}

func (conf tomlConfig) validate() (errs error) {
	if conf.brokerUrl() == "" {
		errs = multierror.Append(errs, fmt.Errorf("broker.url is empty and no broker.embedded address is set"))
	}
	if conf.Broker.KeepAlive < 0 {
		errs = multierror.Append(errs, fmt.Errorf("broker.keepalive is negative"))
	}
	if conf.Broker.ConnectTimeout < 0 {
		errs = multierror.Append(errs, fmt.Errorf("broker.connect-timeout is negative"))
	}

	if qos := conf.Protocol.QoS; qos != nil && (*qos < 0 || *qos > 2) {
		errs = multierror.Append(errs, fmt.Errorf("protocol.qos %d is not one of 0, 1, 2", *qos))
	} else if err := conf.protocol().Validate(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("protocol: %w", err))
	}

	if conf.Fleet.Master == "" {
		errs = multierror.Append(errs, fmt.Errorf("fleet.master is empty"))
	}
	if conf.Fleet.Interval < 0 {
		errs = multierror.Append(errs, fmt.Errorf("fleet.interval is negative"))
	}

	known := make(map[string]bool)
	for _, name := range conf.droneNames() {
		if name == "" {
			errs = multierror.Append(errs, fmt.Errorf("drone without a name"))
		} else if known[name] {
			errs = multierror.Append(errs, fmt.Errorf("drone name %q is used twice", name))
		}
		known[name] = true
	}
	if len(known) < 2 {
		errs = multierror.Append(errs, fmt.Errorf("the fleet needs at least one drone besides its master"))
	}

	return
}

// interval of the fleet's queries.
func (conf tomlConfig) interval() time.Duration {
	if conf.Fleet.Interval == 0 {
		return fleet.DefaultInterval
	}
	return conf.Fleet.Interval
}

// setupLogging configures logrus' level, caller reporting and format.
func setupLogging(conf logConf) {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.WithField("format", conf.Format).Warn("Unknown logging format")
	}
}
