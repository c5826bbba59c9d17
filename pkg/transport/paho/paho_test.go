// SPDX-FileCopyrightText: 2026 The dronefleet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package paho

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/dtn7/dronefleet/pkg/broker"
	"github.com/dtn7/dronefleet/pkg/command"
	"github.com/dtn7/dronefleet/pkg/drone"
)

func randomPort(t *testing.T) (port int) {
	if addr, err := net.ResolveTCPAddr("tcp", "localhost:0"); err != nil {
		t.Fatal(err)
	} else if l, err := net.ListenTCP("tcp", addr); err != nil {
		t.Fatal(err)
	} else {
		port = l.Addr().(*net.TCPAddr).Port
		_ = l.Close()
	}
	return
}

func waitForEvent(t *testing.T, d *drone.Drone, et drone.EventType) drone.Event {
	t.Helper()

	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-d.Events():
			if e.Type == et {
				return e
			}
		case <-timeout:
			t.Fatalf("timeout while waiting for %v of %v", et, d)
		}
	}
}

func TestNewDialerInvalid(t *testing.T) {
	urls := []string{"", "localhost:1883", "http://localhost:1883", "tcp://", "tcp://%zz"}

	for _, u := range urls {
		if _, err := NewDialer(Config{URL: u}); err == nil {
			t.Fatalf("creating a dialer for %q did not error", u)
		}
	}
}

func TestPahoUnreachableBroker(t *testing.T) {
	dialer, err := NewDialer(Config{
		URL:            fmt.Sprintf("tcp://localhost:%d", randomPort(t)),
		ConnectTimeout: time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}

	d, err := drone.New(drone.Config{Name: "D1", Dialer: dialer})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Connect(); err != nil {
		t.Fatal(err)
	}

	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-d.Events():
			if e.Type == drone.StateChanged && e.State == drone.Disconnected {
				return
			}
		case <-timeout:
			t.Fatalf("drone did not fail, state is %v", d.State())
		}
	}
}

func TestPahoEmbeddedBroker(t *testing.T) {
	addr := fmt.Sprintf("localhost:%d", randomPort(t))

	b, err := broker.New(addr)
	if err != nil {
		t.Fatal(err)
	}
	b.Start()
	defer b.Close()

	dialer, err := NewDialer(Config{URL: "tcp://" + addr})
	if err != nil {
		t.Fatal(err)
	}

	master, err := drone.New(drone.Config{Name: "*Master Drone*", Dialer: dialer, IDs: drone.UUIDSource("master-")})
	if err != nil {
		t.Fatal(err)
	}
	d1, err := drone.New(drone.Config{Name: "[Drone #1]", Dialer: dialer, IDs: drone.UUIDSource("d1-")})
	if err != nil {
		t.Fatal(err)
	}

	for _, d := range []*drone.Drone{master, d1} {
		if err := d.Connect(); err != nil {
			t.Fatal(err)
		}
		if e := waitForEvent(t, d, drone.Published); e.Payload != d.Name()+" is listening." {
			t.Fatalf("unexpected announcement %q", e.Payload)
		}
	}

	h, err := master.PublishCommand(command.GetAltitude, "[Drone #1]")
	if err != nil {
		t.Fatal(err)
	}

	e := waitForEvent(t, d1, drone.AltitudeReported)
	if e.Altitude < 1 || e.Altitude > drone.MaxAltitude {
		t.Fatalf("altitude %d is out of range", e.Altitude)
	}
	if e.Command.Target != "[Drone #1]" {
		t.Fatalf("unexpected command %v", e.Command)
	}

	select {
	case <-h.Done():
		if h.Err() != nil {
			t.Fatal(h.Err())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("publish was not acknowledged")
	}

	for _, d := range []*drone.Drone{master, d1} {
		if err := d.Disconnect(); err != nil {
			t.Fatal(err)
		}
		if d.IsConnected() {
			t.Fatalf("%v is still connected", d)
		}
	}
}

func TestPahoBrokerShutdown(t *testing.T) {
	addr := fmt.Sprintf("localhost:%d", randomPort(t))

	b, err := broker.New(addr)
	if err != nil {
		t.Fatal(err)
	}
	b.Start()

	dialer, err := NewDialer(Config{URL: "tcp://" + addr})
	if err != nil {
		t.Fatal(err)
	}

	d, err := drone.New(drone.Config{Name: "D1", Dialer: dialer})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Connect(); err != nil {
		t.Fatal(err)
	}
	waitForEvent(t, d, drone.Published)

	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	waitForEvent(t, d, drone.ConnectionLost)
	if d.State() != drone.Disconnected {
		t.Fatalf("expected disconnected, got %v", d.State())
	}
}
