// SPDX-FileCopyrightText: 2026 The dronefleet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package paho

import (
	"fmt"
	"strings"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// logger forwards Paho's log lines to logrus at a fixed level.
type logger struct {
	entry *log.Entry
	level log.Level
}

func (l logger) Println(v ...interface{}) {
	l.entry.Log(l.level, strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l logger) Printf(format string, v ...interface{}) {
	l.entry.Logf(l.level, strings.TrimSpace(format), v...)
}

var bridgeOnce sync.Once

// bridgeLogging replaces Paho's default discarding loggers once. Paho's debug output is very verbose and therefore
// mapped to logrus' trace level.
func bridgeLogging() {
	bridgeOnce.Do(func() {
		mqtt.CRITICAL = logger{log.WithField("paho", "critical"), log.ErrorLevel}
		mqtt.ERROR = logger{log.WithField("paho", "error"), log.ErrorLevel}
		mqtt.WARN = logger{log.WithField("paho", "warn"), log.WarnLevel}
		mqtt.DEBUG = logger{log.WithField("paho", "debug"), log.TraceLevel}
	})
}
