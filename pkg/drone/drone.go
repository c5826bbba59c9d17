// SPDX-FileCopyrightText: 2026 The dronefleet Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package drone

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dronefleet/pkg/command"
	"github.com/dtn7/dronefleet/pkg/transport"
)

// ErrNotConnected is returned for publishes without an open broker connection.
var ErrNotConnected = errors.New("drone is not connected")

// Rand is the source for pseudo-random values, e.g., a *rand.Rand.
type Rand interface {
	Intn(n int) int
}

// Config for a new Drone. Only the Name and the Dialer are mandatory.
type Config struct {
	// Name of this Drone, used to address commands.
	Name string

	// Protocol shared by the whole fleet. Defaults to DefaultProtocol.
	Protocol *Protocol

	// Dialer creates the broker connection for each session.
	Dialer transport.Dialer

	// IDs generates a unique session ID for each connect. Defaults to UUIDs.
	IDs IDSource

	// Rand is used by command handlers, e.g., for the altitude. Defaults to a time-seeded source.
	Rand Rand

	// MaxQueuedPublishes limits the publishes waiting behind the in-flight one. Defaults to 16.
	MaxQueuedPublishes int

	// EventBuffer is the capacity of the Events channel. Defaults to 64.
	EventBuffer int

	// Quiesce is the time granted to outstanding work on a graceful disconnect. Defaults to 250ms.
	Quiesce time.Duration
}

// Drone is an agent with its own broker session, dispatching inbound commands addressed to its name.
//
// Broker notifications might arrive concurrently to calls of Connect, Disconnect or the publish methods.
type Drone struct {
	name     string
	protocol Protocol
	dialer   transport.Dialer
	ids      IDSource
	quiesce  time.Duration

	// mutex guards the session's fields below. It is never held while issuing a request to the transport.
	mutex       sync.Mutex
	state       State
	session     uint64
	sessionId   string
	conn        transport.Connection
	connectOp   transport.Operation
	subscribeOp transport.Operation
	tracker     *PublishTracker
	publishSeq  uint64

	operations uint64

	handlers      map[string]CommandHandler
	handlersMutex sync.RWMutex

	random      Rand
	randomMutex sync.Mutex

	events chan Event
}

// New creates a disconnected Drone.
func New(conf Config) (*Drone, error) {
	protocol := DefaultProtocol()
	if conf.Protocol != nil {
		protocol = *conf.Protocol
	}

	if err := protocol.Validate(); err != nil {
		return nil, fmt.Errorf("invalid protocol: %w", err)
	}
	if conf.Name == "" {
		return nil, fmt.Errorf("drone name is empty")
	}
	if strings.Contains(conf.Name, protocol.Codec.Separator) {
		return nil, fmt.Errorf("drone name %q contains the command separator %q", conf.Name, protocol.Codec.Separator)
	}
	if conf.Dialer == nil {
		return nil, fmt.Errorf("drone %s has no dialer", conf.Name)
	}

	if conf.IDs == nil {
		conf.IDs = UUIDSource("")
	}
	if conf.Rand == nil {
		conf.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if conf.MaxQueuedPublishes <= 0 {
		conf.MaxQueuedPublishes = 16
	}
	if conf.EventBuffer <= 0 {
		conf.EventBuffer = 64
	}
	if conf.Quiesce <= 0 {
		conf.Quiesce = 250 * time.Millisecond
	}

	d := &Drone{
		name:     conf.Name,
		protocol: protocol,
		dialer:   conf.Dialer,
		ids:      conf.IDs,
		quiesce:  conf.Quiesce,

		state:   Disconnected,
		tracker: NewPublishTracker(conf.MaxQueuedPublishes),

		handlers: make(map[string]CommandHandler),
		random:   conf.Rand,

		events: make(chan Event, conf.EventBuffer),
	}

	d.Handle(command.GetAltitude, ReportAltitude)

	return d, nil
}

func (d *Drone) String() string {
	return fmt.Sprintf("Drone(%s)", d.name)
}

func (d *Drone) log() *log.Entry {
	return log.WithField("drone", d.name)
}

// Name of this Drone.
func (d *Drone) Name() string {
	return d.name
}

// Protocol of this Drone.
func (d *Drone) Protocol() Protocol {
	return d.protocol
}

// Events emitted by this Drone. The channel is buffered; if nobody reads it, Events are dropped.
func (d *Drone) Events() <-chan Event {
	return d.events
}

// State of the current session.
func (d *Drone) State() State {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.state
}

// SessionID of the current session or an empty string if Disconnected.
func (d *Drone) SessionID() string {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.sessionId
}

// IsConnected is true while Connected, Subscribing or Ready.
func (d *Drone) IsConnected() bool {
	return d.State().IsConnected()
}

// IsReady is true if the session is Ready.
func (d *Drone) IsReady() bool {
	return d.State() == Ready
}

// PendingPublishes is the amount of in-flight and queued publishes.
func (d *Drone) PendingPublishes() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.tracker.Pending()
}

func (d *Drone) newOperation() transport.Operation {
	return transport.Operation(atomic.AddUint64(&d.operations, 1))
}

func (d *Drone) emit(e Event) {
	e.Drone = d.name
	e.Time = time.Now()

	select {
	case d.events <- e:
	default:
		d.log().WithField("event", e).Debug("Event buffer is full, dropping Event")
	}
}

// setStateLocked must be called with the mutex held.
func (d *Drone) setStateLocked(s State) {
	if d.state == s {
		return
	}

	d.log().WithFields(log.Fields{
		"from": d.state,
		"to":   s,
	}).Debug("Changing state")

	d.state = s
	d.emit(Event{Type: StateChanged, State: s})
}

// resetLocked ends the current session. The state is changed first, so that notifications still in flight for this
// session will find a superseded session and are ignored. The session's Connection is returned to be closed.
func (d *Drone) resetLocked() (conn transport.Connection) {
	d.setStateLocked(Disconnected)

	d.session++
	d.sessionId = ""
	conn, d.conn = d.conn, nil
	d.connectOp, d.subscribeOp = 0, 0

	if n := d.tracker.Discard(); n > 0 {
		d.log().WithField("publishes", n).Info("Discarded pending publishes of the ended session")
	}
	return
}

// failSession ends a session due to a failed operation, if this session is still the current one.
func (d *Drone) failSession(session uint64, operation string, err error) {
	d.mutex.Lock()
	if d.session != session {
		d.mutex.Unlock()
		return
	}
	conn := d.resetLocked()
	d.mutex.Unlock()

	d.log().WithError(err).WithField("operation", operation).Warn("Broker operation failed, session ended")

	if conn != nil {
		if disErr := conn.Disconnect(0); disErr != nil {
			d.log().WithError(disErr).Debug("Closing the failed connection errored")
		}
	}
}

// Connect starts a new session, if Disconnected. Otherwise this is a no-op. Connect does not block; the progress is
// reported through StateChanged Events.
func (d *Drone) Connect() error {
	d.mutex.Lock()
	if d.state != Disconnected {
		d.mutex.Unlock()
		return nil
	}

	d.session++
	session := d.session
	d.sessionId = d.ids.NewID()
	sessionId := d.sessionId
	d.setStateLocked(Connecting)
	d.mutex.Unlock()

	d.log().WithField("session", sessionId).Info("Connecting to broker")

	conn, err := d.dialer.Dial(sessionId, d.observers(session))
	if err != nil {
		d.failSession(session, "dial", err)
		return fmt.Errorf("dialing broker for %s: %w", d.name, err)
	}

	op := d.newOperation()

	d.mutex.Lock()
	if d.session != session {
		d.mutex.Unlock()
		_ = conn.Disconnect(0)
		return nil
	}
	d.conn = conn
	d.connectOp = op
	d.mutex.Unlock()

	if err := conn.Connect(op); err != nil {
		d.failSession(session, "connect", err)
		return fmt.Errorf("connecting %s: %w", d.name, err)
	}
	return nil
}

// Disconnect gracefully ends the current session. Pending publishes are discarded. Errors are only reported, a
// Disconnected Drone can always be connected again.
func (d *Drone) Disconnect() error {
	d.mutex.Lock()
	if d.state == Disconnected {
		d.mutex.Unlock()
		return nil
	}
	conn := d.resetLocked()
	d.mutex.Unlock()

	d.log().Info("Disconnecting from broker")

	if conn == nil {
		return nil
	}
	if err := conn.Disconnect(d.quiesce); err != nil {
		return fmt.Errorf("disconnecting %s: %w", d.name, err)
	}
	return nil
}

// PublishText publishes a text on the command topic. This requires an open connection; otherwise ErrNotConnected is
// returned. Publishes are serialized, the returned Handle completes with the broker's acknowledgement.
func (d *Drone) PublishText(payload string) (*Handle, error) {
	d.mutex.Lock()
	state, session, conn := d.state, d.session, d.conn
	d.mutex.Unlock()

	if !state.IsConnected() || conn == nil || !conn.IsOpen() {
		d.log().WithFields(log.Fields{
			"state":   state,
			"payload": payload,
		}).Warn("Cannot publish without an open connection")
		return nil, ErrNotConnected
	}

	d.mutex.Lock()
	if d.session != session {
		d.mutex.Unlock()
		return nil, ErrNotConnected
	}
	d.publishSeq++
	tag := fmt.Sprintf("%s/%d", d.sessionId, d.publishSeq)
	h, start, err := d.tracker.Begin(d.protocol.Topic, payload, tag, d.newOperation())
	d.mutex.Unlock()

	if err != nil {
		d.log().WithError(err).WithField("payload", payload).Warn("Cannot publish")
		return nil, err
	}

	if start {
		d.issuePublish(session, conn, h)
	}
	return h, nil
}

// PublishCommand publishes an encoded command, addressed to the target Drone's name.
func (d *Drone) PublishCommand(name, target string) (*Handle, error) {
	text, err := d.protocol.Codec.Encode(name, target)
	if err != nil {
		return nil, err
	}
	return d.PublishText(text)
}

func (d *Drone) issuePublish(session uint64, conn transport.Connection, h *Handle) {
	d.log().WithField("publish", h).Debug("Publishing")

	if err := conn.Publish(h.op, h.topic, d.protocol.QoS, []byte(h.payload)); err != nil {
		d.operationComplete(session, h.op, err)
	}
}

// OnConnectionLost ends the current session. This implements the transport.ConnectionObserver.
func (d *Drone) OnConnectionLost(err error) {
	d.mutex.Lock()
	session := d.session
	d.mutex.Unlock()

	d.connectionLost(session, err)
}

// OnOperationComplete dispatches an Operation's result within the current session. This implements the
// transport.OperationCompletionObserver.
func (d *Drone) OnOperationComplete(op transport.Operation, err error) {
	d.mutex.Lock()
	session := d.session
	d.mutex.Unlock()

	d.operationComplete(session, op, err)
}

// OnMessage processes an inbound message. This implements the transport.MessageObserver.
//
// Messages on foreign topics, messages which are no commands and commands addressed to other Drones are ignored.
// Each other command is dispatched to its CommandHandler.
func (d *Drone) OnMessage(topic string, payload []byte) {
	if topic != d.protocol.Topic {
		return
	}

	text := string(payload)
	d.log().WithFields(log.Fields{
		"topic":   topic,
		"payload": text,
	}).Debug("Received message")

	cmd, ok := d.protocol.Codec.Decode(text)
	if !ok || cmd.Target != d.name {
		return
	}

	handler := d.handler(cmd.Name)
	if handler == nil {
		d.log().WithField("command", cmd).Info("Received command without a handler")
		return
	}

	d.emit(Event{Type: CommandReceived, Command: cmd})
	handler(d, cmd)
}

func (d *Drone) connectionLost(session uint64, err error) {
	d.mutex.Lock()
	if d.session != session || d.state == Disconnected {
		d.mutex.Unlock()
		return
	}
	d.resetLocked()
	d.emit(Event{Type: ConnectionLost, Err: err})
	d.mutex.Unlock()

	d.log().WithError(err).Warn("Lost connection to broker")
}

func (d *Drone) operationComplete(session uint64, op transport.Operation, err error) {
	d.mutex.Lock()
	if d.session != session {
		d.mutex.Unlock()
		d.log().WithField("operation", op).Debug("Ignoring completion of a superseded session")
		return
	}

	switch {
	case d.state == Connecting && op == d.connectOp:
		d.connectOp = 0
		if err != nil {
			d.mutex.Unlock()
			d.failSession(session, "connect", err)
			return
		}

		d.setStateLocked(Connected)

		subOp := d.newOperation()
		d.subscribeOp = subOp
		d.setStateLocked(Subscribing)
		conn := d.conn
		d.mutex.Unlock()

		d.log().Info("Connected to broker")

		if subErr := conn.Subscribe(subOp, d.protocol.Topic, d.protocol.QoS); subErr != nil {
			d.failSession(session, "subscribe", subErr)
		}

	case d.state == Subscribing && op == d.subscribeOp:
		d.subscribeOp = 0
		if err != nil {
			d.mutex.Unlock()
			d.failSession(session, "subscribe", err)
			return
		}

		d.setStateLocked(Ready)
		d.mutex.Unlock()

		d.log().WithField("topic", d.protocol.Topic).Info("Subscribed to command topic")

		if _, pubErr := d.PublishText(d.protocol.listening(d.name)); pubErr != nil {
			d.log().WithError(pubErr).Warn("Announcing the listening drone failed")
		}

	default:
		done, next, ok := d.tracker.Ack(op, err)
		if !ok {
			d.mutex.Unlock()
			d.log().WithField("operation", op).Debug("Ignoring completion of an unknown operation")
			return
		}

		if err != nil {
			d.emit(Event{Type: PublishFailed, Topic: done.topic, Payload: done.payload, Context: done.context, Err: err})
		} else {
			d.emit(Event{Type: Published, Topic: done.topic, Payload: done.payload, Context: done.context})
		}
		conn := d.conn
		d.mutex.Unlock()

		if err != nil {
			d.log().WithError(err).WithField("publish", done).Warn("Publishing failed")
		} else {
			d.log().WithField("publish", done).Info("Published message")
		}

		if next != nil {
			d.issuePublish(session, conn, next)
		}
	}
}
