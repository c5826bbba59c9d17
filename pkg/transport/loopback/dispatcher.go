// SPDX-FileCopyrightText: 2026 The dronefleet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package loopback

import "sync"

// dispatcher runs the notifications of one Connection in order on its own goroutine. Enqueuing never blocks, so a
// notification might issue new requests, which are queued behind it.
type dispatcher struct {
	mutex    sync.Mutex
	tasks    []func()
	finished bool

	notify chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{notify: make(chan struct{}, 1)}
	go d.handler()
	return d
}

func (d *dispatcher) wake() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// enqueue a task, unless this dispatcher is already finished.
func (d *dispatcher) enqueue(task func()) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.finished {
		return false
	}

	d.tasks = append(d.tasks, task)
	d.wake()
	return true
}

// enqueueLast enqueues a final task and finishes this dispatcher afterwards.
func (d *dispatcher) enqueueLast(task func()) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.finished {
		return false
	}

	d.tasks = append(d.tasks, task)
	d.finished = true
	d.wake()
	return true
}

// finish accepts no further tasks. The already queued ones are still executed.
func (d *dispatcher) finish() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if !d.finished {
		d.finished = true
		d.wake()
	}
}

func (d *dispatcher) handler() {
	for range d.notify {
		for {
			d.mutex.Lock()
			if len(d.tasks) == 0 {
				finished := d.finished
				d.mutex.Unlock()

				if finished {
					return
				}
				break
			}

			task := d.tasks[0]
			d.tasks[0] = nil
			d.tasks = d.tasks[1:]
			d.mutex.Unlock()

			task()
		}
	}
}
