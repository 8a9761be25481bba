// Package feed keeps one streaming connection to a server feed alive:
// connect, heartbeat, exponential reconnect, and fan-out of inbound frames.
// Construct one Manager per channel; instances share nothing.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/station-notify/internal/clock"
	"github.com/hubenschmidt/station-notify/internal/metrics"
)

const (
	DefaultPingInterval = 25 * time.Second
	DefaultPongTimeout  = 10 * time.Second
	DefaultBaseDelay    = time.Second
	DefaultMaxDelay     = 30 * time.Second
	DefaultDialTimeout  = 15 * time.Second

	closeWriteTimeout = time.Second
)

// Handler receives forwarded frames, in arrival order, on the manager's
// read goroutine.
type Handler func(Message)

// Options configures a Manager. Zero durations take the defaults above.
type Options struct {
	// Name identifies the channel in logs and metrics ("incidents", "alerts").
	Name string
	URL  string

	// ClientName, when set, is sent in a register frame after the server's
	// connected frame.
	ClientName string
	DeviceType string

	PingInterval time.Duration
	PongTimeout  time.Duration
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	DialTimeout  time.Duration

	// Gate is consulted every time a connect or reconnect fires. While it
	// returns false no socket is opened and no retry is scheduled.
	Gate func() bool

	OnConnected func(Connected)
	OnStatus    func(Status)

	Clock  clock.Clock
	Dial   DialFunc
	Jitter func() float64
	Logger *slog.Logger
}

// Manager owns one socket and every timer armed for it.
type Manager struct {
	opts Options
	log  *slog.Logger

	mu        sync.Mutex
	status    Status
	attempt   int
	lastPong  time.Time
	sock      Socket
	gen       uint64
	ping      *clock.Timer
	pong      *clock.Timer
	reconnect *clock.Timer
	subs      map[int]Handler
	nextSub   int

	writeMu sync.Mutex
}

// New returns a disconnected Manager. Nothing happens until Connect.
func New(opts Options) *Manager {
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = DefaultPongTimeout
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultMaxDelay
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.DeviceType == "" {
		opts.DeviceType = DefaultDeviceType
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Dial == nil {
		opts.Dial = Dial
	}
	if opts.Jitter == nil {
		opts.Jitter = rand.Float64
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		opts: opts,
		log:  log.With("feed", opts.Name),
		subs: map[int]Handler{},
	}
}

// Connect starts connecting. It is a no-op while connecting or open, and
// cancels a pending reconnect wait.
func (m *Manager) Connect() {
	m.fire(evConnect, 0, input{})
}

// Close shuts the connection down with a normal closure and cancels every
// timer. No reconnect follows until Connect is called again.
func (m *Manager) Close() {
	m.fire(evClose, 0, input{})
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Connected reports whether the socket is open.
func (m *Manager) Connected() bool {
	return m.Status() == StatusOpen
}

// Attempt is the number of reconnects scheduled since the last Open.
func (m *Manager) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

func (m *Manager) LastPong() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPong
}

func (m *Manager) Name() string { return m.opts.Name }

// Subscribe registers fn for every non-control frame. The returned func
// removes it.
func (m *Manager) Subscribe(fn Handler) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Send writes v as a JSON text frame on the open socket.
func (m *Manager) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	sock := m.sock
	m.mu.Unlock()
	if sock == nil {
		return websocket.ErrCloseSent
	}
	return m.write(sock, data)
}

// input carries what an event brings with it.
type input struct {
	sock Socket
	msg  Message
	err  error
}

// followUp is the work a transition leaves for after the lock is released:
// socket I/O and caller callbacks never run under m.mu.
type followUp struct {
	dialGen   uint64
	readSock  Socket
	readGen   uint64
	writeSock Socket
	writes    [][]byte
	dropSock  Socket
	closeSock Socket
	connected *Connected
	forward   []Handler
	msg       Message
	status    *Status
}

// fire applies one event. gen is the socket generation the event belongs
// to; zero means it is not tied to a socket. Events from an older
// generation are dropped. It reports whether the event caused a transition.
func (m *Manager) fire(ev event, gen uint64, in input) bool {
	if (ev == evConnect || ev == evReconnectDue) && m.opts.Gate != nil && !m.opts.Gate() {
		ev = evDisabled
	}

	m.mu.Lock()
	if gen != 0 && gen != m.gen {
		m.mu.Unlock()
		return false
	}
	tr, ok := next(m.status, ev)
	if !ok {
		status := m.status
		m.mu.Unlock()
		m.log.Debug("feed event ignored", "status", status, "event", ev)
		return false
	}
	prev := m.status
	m.status = tr.next
	fu := m.applyLocked(ev, tr.effects, in)
	if prev != tr.next {
		s := tr.next
		fu.status = &s
	}
	m.mu.Unlock()

	if ev == evDisabled && prev != StatusOpen && prev != StatusConnecting {
		m.log.Info("feed disabled, not connecting")
	}
	m.finish(fu)
	return true
}

func (m *Manager) applyLocked(ev event, eff effect, in input) followUp {
	var fu followUp

	if eff.has(effCancelReconnect) {
		m.reconnect.Stop()
		m.reconnect = nil
	}

	if eff.has(effDial) {
		m.gen++
		fu.dialGen = m.gen
	}

	if eff.has(effStartHeartbeat) {
		m.sock = in.sock
		m.attempt = 0
		m.lastPong = m.opts.Clock.Now()
		m.armPingLocked()
		fu.readSock, fu.readGen = in.sock, m.gen
		metrics.FeedConnected.WithLabelValues(m.opts.Name).Set(1)
		m.log.Info("feed connected", "url", m.opts.URL)
	}

	if eff.has(effSendPing) {
		fu.writeSock = m.sock
		fu.writes = append(fu.writes, pingFrame)
		if m.pong == nil {
			gen := m.gen
			m.pong = m.opts.Clock.AfterFunc(m.opts.PongTimeout, func() {
				m.fire(evHeartbeatTimeout, gen, input{})
			})
		}
		m.armPingLocked()
	}

	if eff.has(effReplyPong) {
		fu.writeSock = m.sock
		fu.writes = append(fu.writes, pongFrame)
	}

	if eff.has(effCancelDeadline) {
		m.pong.Stop()
		m.pong = nil
		m.lastPong = m.opts.Clock.Now()
	}

	if eff.has(effEmitConnected) {
		var c Connected
		if err := in.msg.Decode(&c); err != nil {
			m.log.Warn("feed connected frame decode", "error", err)
		}
		c.Feed = m.opts.Name
		fu.connected = &c
		if m.opts.ClientName != "" {
			reg, _ := json.Marshal(registerFrame{Type: TypeRegister, DeviceType: m.opts.DeviceType, Name: m.opts.ClientName})
			fu.writeSock = m.sock
			fu.writes = append(fu.writes, reg)
		}
	}

	if eff.has(effForward) {
		fu.msg = in.msg
		fu.forward = make([]Handler, 0, len(m.subs))
		for _, h := range m.subs {
			fu.forward = append(fu.forward, h)
		}
	}

	if eff.has(effTeardown) {
		m.stopHeartbeatLocked()
		if m.sock != nil {
			fu.dropSock = m.sock
			m.sock = nil
		}
		m.gen++
		metrics.FeedConnected.WithLabelValues(m.opts.Name).Set(0)
		switch ev {
		case evHeartbeatTimeout:
			metrics.FeedHeartbeatTimeouts.WithLabelValues(m.opts.Name).Inc()
			m.log.Warn("feed heartbeat timeout, forcing close", "last_pong", m.lastPong)
		case evSocketLost, evRemoteClose:
			m.log.Warn("feed connection lost", "event", ev, "error", in.err)
		}
	}

	if eff.has(effCloseSocket) {
		m.stopHeartbeatLocked()
		fu.closeSock = m.sock
		m.sock = nil
		m.gen++
	}

	if eff.has(effScheduleReconnect) {
		delay := Backoff(m.attempt, m.opts.BaseDelay, m.opts.MaxDelay, m.opts.Jitter())
		m.attempt++
		m.reconnect = m.opts.Clock.AfterFunc(delay, func() {
			m.fire(evReconnectDue, 0, input{})
		})
		metrics.FeedReconnects.WithLabelValues(m.opts.Name).Inc()
		metrics.FeedReconnectDelay.WithLabelValues(m.opts.Name).Observe(delay.Seconds())
		m.log.Info("feed reconnect scheduled", "attempt", m.attempt, "delay", delay, "error", in.err)
	}

	return fu
}

func (m *Manager) armPingLocked() {
	gen := m.gen
	m.ping = m.opts.Clock.AfterFunc(m.opts.PingInterval, func() {
		m.fire(evPingDue, gen, input{})
	})
}

func (m *Manager) stopHeartbeatLocked() {
	m.ping.Stop()
	m.ping = nil
	m.pong.Stop()
	m.pong = nil
}

func (m *Manager) finish(fu followUp) {
	if fu.dropSock != nil {
		fu.dropSock.Close()
	}
	if fu.status != nil && m.opts.OnStatus != nil {
		m.opts.OnStatus(*fu.status)
	}
	if fu.status != nil && *fu.status == StatusClosing {
		if fu.closeSock != nil {
			m.closeNormal(fu.closeSock)
		}
		m.fire(evClosed, 0, input{})
		m.log.Info("feed closed")
	}
	if fu.writeSock != nil {
		for _, data := range fu.writes {
			if err := m.write(fu.writeSock, data); err != nil {
				m.log.Warn("feed write", "error", err)
			}
		}
	}
	if fu.connected != nil && m.opts.OnConnected != nil {
		m.opts.OnConnected(*fu.connected)
	}
	for _, h := range fu.forward {
		h(fu.msg)
	}
	if fu.readSock != nil {
		go m.readLoop(fu.readGen, fu.readSock)
	}
	if fu.dialGen != 0 {
		go m.dial(fu.dialGen)
	}
}

func (m *Manager) dial(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.DialTimeout)
	defer cancel()

	sock, err := m.opts.Dial(ctx, m.opts.URL)
	if err != nil {
		m.fire(evDialFailed, gen, input{err: err})
		return
	}
	if !m.fire(evDialOK, gen, input{sock: sock}) {
		sock.Close()
	}
}

func (m *Manager) readLoop(gen uint64, sock Socket) {
	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			ev := evSocketLost
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				ev = evRemoteClose
			}
			m.fire(ev, gen, input{err: err})
			return
		}

		msg, err := ParseMessage(data)
		if err != nil {
			metrics.FeedMalformedFrames.WithLabelValues(m.opts.Name).Inc()
			m.log.Warn("feed frame dropped", "error", err, "bytes", len(data))
			continue
		}
		metrics.FeedMessages.WithLabelValues(m.opts.Name, metricLabel(msg)).Inc()

		if !m.fire(frameEvent(msg), gen, input{msg: msg}) && m.staleGen(gen) {
			return
		}
	}
}

func (m *Manager) staleGen(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen != m.gen
}

func frameEvent(msg Message) event {
	switch msg.Type {
	case TypePing:
		return evPing
	case TypePong:
		return evPong
	case TypeConnected:
		return evConnected
	}
	return evMessage
}

func (m *Manager) write(sock Socket, data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return sock.WriteMessage(websocket.TextMessage, data)
}

func (m *Manager) closeNormal(sock Socket) {
	m.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := sock.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout)); err != nil {
		m.log.Debug("feed close frame", "error", err)
	}
	m.writeMu.Unlock()
	sock.Close()
}
