// SPDX-FileCopyrightText: 2026 The dronefleet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package fleet coordinates a set of drones. One of them, the master, periodically queries a randomly chosen other
// drone by publishing a command addressed to it.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dronefleet/pkg/command"
	"github.com/dtn7/dronefleet/pkg/drone"
)

const (
	// DefaultInterval between two queries of the master.
	DefaultInterval = 5 * time.Second

	// subscriberBuffer is the capacity of each Subscribe channel.
	subscriberBuffer = 64
)

var (
	// ErrNoTarget is returned by a cycle without any connected drone besides the master.
	ErrNoTarget = errors.New("no connected drone to query")

	// ErrMasterDisconnected is returned by a cycle while the master is not connected.
	ErrMasterDisconnected = errors.New("master drone is not connected")
)

// Config of a Fleet. Only the Master is mandatory.
type Config struct {
	// Master is the name of the drone publishing the queries.
	Master string

	// Interval between two queries. Defaults to DefaultInterval.
	Interval time.Duration

	// Command published by the master. Defaults to command.GetAltitude.
	Command string

	// Rand selects the queried drone. Defaults to a time-seeded source.
	Rand drone.Rand

	// Reconnect disconnected drones at the beginning of each cycle.
	Reconnect bool
}

// Fleet of drones, driven by its master.
type Fleet struct {
	command   string
	reconnect bool

	master *drone.Drone
	drones []*drone.Drone
	byName map[string]*drone.Drone

	interval        int64
	intervalChanged chan struct{}

	random      drone.Rand
	randomMutex sync.Mutex

	subsMutex sync.Mutex
	subs      map[int]chan drone.Event
	subsNext  int
	subsDone  bool

	startOnce sync.Once
	started   bool
	closeOnce sync.Once
	closeErr  error

	forwarders sync.WaitGroup
	stopSyn    chan struct{}
	stopAck    chan struct{}
}

// New creates a Fleet of drones, one of them named as the Config's Master.
func New(conf Config, drones ...*drone.Drone) (*Fleet, error) {
	if conf.Master == "" {
		return nil, fmt.Errorf("no master drone configured")
	}
	if conf.Interval < 0 {
		return nil, fmt.Errorf("negative interval %v", conf.Interval)
	} else if conf.Interval == 0 {
		conf.Interval = DefaultInterval
	}
	if conf.Command == "" {
		conf.Command = command.GetAltitude
	}
	if conf.Rand == nil {
		conf.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	f := &Fleet{
		command:   conf.Command,
		reconnect: conf.Reconnect,

		byName: make(map[string]*drone.Drone),

		interval:        int64(conf.Interval),
		intervalChanged: make(chan struct{}, 1),

		random: conf.Rand,

		subs: make(map[int]chan drone.Event),

		stopSyn: make(chan struct{}),
		stopAck: make(chan struct{}),
	}

	for _, d := range drones {
		if d == nil {
			return nil, fmt.Errorf("nil drone")
		}
		if _, exists := f.byName[d.Name()]; exists {
			return nil, fmt.Errorf("drone name %q is used twice", d.Name())
		}

		f.drones = append(f.drones, d)
		f.byName[d.Name()] = d
	}

	master, ok := f.byName[conf.Master]
	if !ok {
		return nil, fmt.Errorf("master %q is none of the fleet's drones", conf.Master)
	}
	f.master = master

	return f, nil
}

func (f *Fleet) log() *log.Entry {
	return log.WithField("fleet", f.master.Name())
}

// Master drone of this Fleet.
func (f *Fleet) Master() *drone.Drone {
	return f.master
}

// Drones of this Fleet in their configured order.
func (f *Fleet) Drones() []*drone.Drone {
	return append([]*drone.Drone(nil), f.drones...)
}

// Drone by its name.
func (f *Fleet) Drone(name string) (d *drone.Drone, ok bool) {
	d, ok = f.byName[name]
	return
}

// Interval between two queries.
func (f *Fleet) Interval() time.Duration {
	return time.Duration(atomic.LoadInt64(&f.interval))
}

// SetInterval changes the Interval. A waiting cycle is restarted with the new Interval.
func (f *Fleet) SetInterval(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("interval %v is not positive", interval)
	}

	if old := time.Duration(atomic.SwapInt64(&f.interval, int64(interval))); old != interval {
		f.log().WithFields(log.Fields{
			"old": old,
			"new": interval,
		}).Info("Changed query interval")

		select {
		case f.intervalChanged <- struct{}{}:
		default:
		}
	}
	return nil
}

// Start connecting all drones and querying them periodically until the context is done or Close is called. Start
// might only be called once; it does not block.
func (f *Fleet) Start(ctx context.Context) (err error) {
	err = fmt.Errorf("fleet was already started or closed")
	f.startOnce.Do(func() {
		err = nil
		f.started = true

		for _, d := range f.drones {
			f.forwarders.Add(1)
			go f.forward(d)

			if connErr := d.Connect(); connErr != nil {
				f.log().WithError(connErr).WithField("drone", d.Name()).Warn("Connecting drone failed")
			}
		}

		go f.handler(ctx)

		f.log().WithFields(log.Fields{
			"drones":   len(f.drones),
			"interval": f.Interval(),
		}).Info("Started fleet")
	})
	return
}

func (f *Fleet) handler(ctx context.Context) {
	defer close(f.stopAck)

	for {
		timer := time.NewTimer(f.Interval())

		select {
		case <-f.stopSyn:
			timer.Stop()
			return

		case <-ctx.Done():
			timer.Stop()
			f.log().Debug("Fleet's context is done, stopping queries")
			return

		case <-f.intervalChanged:
			timer.Stop()

		case <-timer.C:
			if target, _, err := f.cycle(); err != nil {
				f.log().WithError(err).Debug("Skipping query")
			} else {
				f.log().WithField("target", target).Debug("Master queried drone")
			}
		}
	}
}

func (f *Fleet) intn(n int) int {
	f.randomMutex.Lock()
	defer f.randomMutex.Unlock()

	return f.random.Intn(n)
}

// targets are all connected drones besides the master.
func (f *Fleet) targets() (targets []*drone.Drone) {
	for _, d := range f.drones {
		if d != f.master && d.IsConnected() {
			targets = append(targets, d)
		}
	}
	return
}

// cycle performs one query: reconnecting drones if enabled, choosing a target and letting the master publish the
// command to it.
func (f *Fleet) cycle() (target string, h *drone.Handle, err error) {
	if f.reconnect {
		for _, d := range f.drones {
			if d.State() != drone.Disconnected {
				continue
			}

			f.log().WithField("drone", d.Name()).Info("Reconnecting drone")
			if connErr := d.Connect(); connErr != nil {
				f.log().WithError(connErr).WithField("drone", d.Name()).Warn("Reconnecting drone failed")
			}
		}
	}

	if !f.master.IsConnected() {
		err = ErrMasterDisconnected
		return
	}

	targets := f.targets()
	if len(targets) == 0 {
		err = ErrNoTarget
		return
	}

	target = targets[f.intn(len(targets))].Name()
	h, err = f.master.PublishCommand(f.command, target)
	return
}

// forward a drone's Events to all subscribers until this Fleet is closed.
func (f *Fleet) forward(d *drone.Drone) {
	defer f.forwarders.Done()

	for {
		select {
		case <-f.stopSyn:
			return

		case e := <-d.Events():
			f.broadcast(e)
		}
	}
}

func (f *Fleet) broadcast(e drone.Event) {
	f.subsMutex.Lock()
	defer f.subsMutex.Unlock()

	for id, sub := range f.subs {
		select {
		case sub <- e:
		default:
			f.log().WithFields(log.Fields{
				"subscriber": id,
				"event":      e,
			}).Debug("Subscriber is too slow, dropping Event")
		}
	}
}

// Subscribe to the Events of all drones. Slow subscribers miss Events. The channel is closed by the returned
// unsubscribe function or when this Fleet is closed.
func (f *Fleet) Subscribe() (events <-chan drone.Event, unsubscribe func()) {
	f.subsMutex.Lock()
	defer f.subsMutex.Unlock()

	ch := make(chan drone.Event, subscriberBuffer)
	if f.subsDone {
		close(ch)
		return ch, func() {}
	}

	id := f.subsNext
	f.subsNext++
	f.subs[id] = ch

	return ch, func() {
		f.subsMutex.Lock()
		defer f.subsMutex.Unlock()

		if sub, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(sub)
		}
	}
}

// Close stops the queries and disconnects each drone independently. All failed disconnects are returned together.
func (f *Fleet) Close() error {
	f.closeOnce.Do(func() {
		// Close before Start prevents a later Start.
		f.startOnce.Do(func() {})

		close(f.stopSyn)
		if f.started {
			<-f.stopAck
		}
		f.forwarders.Wait()

		var (
			wg        sync.WaitGroup
			errsMutex sync.Mutex
			errs      error
		)

		for _, d := range f.drones {
			if d.State() == drone.Disconnected {
				continue
			}

			wg.Add(1)
			go func(d *drone.Drone) {
				defer wg.Done()

				if err := d.Disconnect(); err != nil {
					errsMutex.Lock()
					errs = multierror.Append(errs, err)
					errsMutex.Unlock()
				}
			}(d)
		}
		wg.Wait()

		f.subsMutex.Lock()
		f.subsDone = true
		for id, sub := range f.subs {
			delete(f.subs, id)
			close(sub)
		}
		f.subsMutex.Unlock()

		if errs != nil {
			f.log().WithError(errs).Warn("Disconnecting drones errored")
		} else {
			f.log().Info("Closed fleet")
		}
		f.closeErr = errs
	})
	return f.closeErr
}
