// SPDX-FileCopyrightText: 2026 The dronefleet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/dtn7/dronefleet/pkg/drone"
	"github.com/dtn7/dronefleet/pkg/fleet"
)

const fullConfig = `
[logging]
level = "debug"
report-caller = false
format = "text"

[broker]
url = "tcp://broker.example:1883"
client-id-prefix = "drone-"
keepalive = "15s"
connect-timeout = "3s"

[protocol]
topic = "fleet/commands"
qos = 1
command-key = "CMD"
separator = "|"

[fleet]
master = "*Master Drone*"
interval = "2s"
reconnect = true

[api]
listen = "localhost:8080"

[[drone]]
name = "[Drone #1]"

[[drone]]
name = "[Drone #2]"
`

func writeConfig(t *testing.T, dir, content string) string {
	filename := filepath.Join(dir, "dronefleet.toml")
	if err := os.WriteFile(filename, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return filename
}

func TestParseConfig(t *testing.T) {
	conf, err := parseConfig(writeConfig(t, t.TempDir(), fullConfig))
	if err != nil {
		t.Fatal(err)
	}

	if conf.Logging.Level != "debug" || conf.Logging.Format != "text" {
		t.Fatalf("unexpected logging block %v", conf.Logging)
	}
	if conf.Broker.KeepAlive != 15*time.Second || conf.Broker.ConnectTimeout != 3*time.Second {
		t.Fatalf("unexpected broker durations %v", conf.Broker)
	}
	if conf.brokerUrl() != "tcp://broker.example:1883" {
		t.Fatalf("unexpected broker URL %s", conf.brokerUrl())
	}
	if conf.interval() != 2*time.Second || !conf.Fleet.Reconnect {
		t.Fatalf("unexpected fleet block %v", conf.Fleet)
	}
	if conf.Api.Listen != "localhost:8080" {
		t.Fatalf("unexpected api block %v", conf.Api)
	}

	protocol := conf.protocol()
	if protocol.Topic != "fleet/commands" || protocol.QoS != 1 {
		t.Fatalf("unexpected protocol %v", protocol)
	}
	if text, err := protocol.Codec.Encode("GET_ALTITUDE", "[Drone #1]"); err != nil {
		t.Fatal(err)
	} else if text != "CMD|GET_ALTITUDE|[Drone #1]" {
		t.Fatalf("unexpected encoded command %q", text)
	}

	expectedNames := []string{"[Drone #1]", "[Drone #2]", "*Master Drone*"}
	if names := conf.droneNames(); !reflect.DeepEqual(names, expectedNames) {
		t.Fatalf("expected drones %v, got %v", expectedNames, names)
	}
}

func TestParseConfigDefaults(t *testing.T) {
	conf, err := parseConfig(writeConfig(t, t.TempDir(), `
[broker]
embedded = ":1883"

[fleet]
master = "Master"

[[drone]]
name = "Master"

[[drone]]
name = "D1"
`))
	if err != nil {
		t.Fatal(err)
	}

	if conf.brokerUrl() != "tcp://localhost:1883" {
		t.Fatalf("unexpected broker URL %s", conf.brokerUrl())
	}
	if conf.interval() != fleet.DefaultInterval {
		t.Fatalf("unexpected interval %v", conf.interval())
	}
	if protocol := conf.protocol(); !reflect.DeepEqual(protocol, drone.DefaultProtocol()) {
		t.Fatalf("expected the default protocol, got %v", protocol)
	}
	if names := conf.droneNames(); !reflect.DeepEqual(names, []string{"Master", "D1"}) {
		t.Fatalf("master was added twice: %v", names)
	}
}

func TestParseConfigInvalid(t *testing.T) {
	_, err := parseConfig(writeConfig(t, t.TempDir(), `
[broker]
keepalive = "-1s"

[protocol]
qos = 3

[fleet]
interval = "-5s"

[[drone]]
name = "D1"

[[drone]]
name = "D1"
`))

	var merr *multierror.Error
	if !errors.As(err, &merr) {
		t.Fatalf("expected a multierror, got %v", err)
	}

	// broker.url, broker.keepalive, protocol.qos, fleet.master, fleet.interval, the duplicate name and the lonely drone
	if n := len(merr.Errors); n != 7 {
		t.Fatalf("expected seven errors, got %d: %v", n, merr)
	}
}

func TestParseConfigMalformed(t *testing.T) {
	if _, err := parseConfig(writeConfig(t, t.TempDir(), `[fleet`)); err == nil {
		t.Fatal("parsing malformed TOML did not error")
	}
	if _, err := parseConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("parsing a missing file did not error")
	}
}

const memoryConfig = `
[logging]
level = "info"

[broker]
url = "memory"

[fleet]
master = "Master"
interval = "%s"

[[drone]]
name = "D1"

[[drone]]
name = "D2"
`

func TestDaemonMemory(t *testing.T) {
	conf, err := parseConfig(writeConfig(t, t.TempDir(), fmt.Sprintf(memoryConfig, "1h")))
	if err != nil {
		t.Fatal(err)
	}

	d, err := newDaemon(conf)
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for _, dr := range d.fleet.Drones() {
		for !dr.IsReady() {
			if time.Now().After(deadline) {
				t.Fatalf("%v is not ready, but %v", dr, dr.State())
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
	if n := len(d.loopback.Clients()); n != 3 {
		t.Fatalf("expected three loopback clients, got %d", n)
	}

	conf.Fleet.Interval = 10 * time.Second
	if err := d.reload(conf); err != nil {
		t.Fatal(err)
	}
	if d.fleet.Interval() != 10*time.Second {
		t.Fatalf("interval was not reloaded, got %v", d.fleet.Interval())
	}

	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	for _, dr := range d.fleet.Drones() {
		if dr.State() != drone.Disconnected {
			t.Fatalf("%v is still %v", dr, dr.State())
		}
	}
}

func TestConfigWatcher(t *testing.T) {
	dir := t.TempDir()
	filename := writeConfig(t, dir, fmt.Sprintf(memoryConfig, "1h"))

	conf, err := parseConfig(filename)
	if err != nil {
		t.Fatal(err)
	}

	d, err := newDaemon(conf)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	cw, err := watchConfig(filename, d)
	if err != nil {
		t.Fatal(err)
	}
	defer cw.Close()

	// An invalid change is ignored.
	writeConfig(t, dir, fmt.Sprintf(memoryConfig, "-1s"))
	time.Sleep(100 * time.Millisecond)
	if d.fleet.Interval() != time.Hour {
		t.Fatalf("invalid change was applied: %v", d.fleet.Interval())
	}

	writeConfig(t, dir, fmt.Sprintf(memoryConfig, "42s"))

	deadline := time.Now().Add(2 * time.Second)
	for d.fleet.Interval() != 42*time.Second {
		if time.Now().After(deadline) {
			t.Fatalf("interval was not reloaded, got %v", d.fleet.Interval())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
