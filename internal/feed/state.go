package feed

// Status is the lifecycle state of one feed connection.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusOpen
	StatusReconnecting
	StatusClosing
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosing:
		return "closing"
	}
	return "unknown"
}

// event is anything that can move a connection between states: caller
// requests, dial results, timers and inbound frames.
type event int

const (
	evConnect event = iota
	evReconnectDue
	evDisabled
	evDialOK
	evDialFailed
	evPingDue
	evPing
	evPong
	evConnected
	evMessage
	evHeartbeatTimeout
	evSocketLost
	evRemoteClose
	evClose
	evClosed
)

var eventNames = [...]string{
	evConnect:          "connect",
	evReconnectDue:     "reconnect_due",
	evDisabled:         "disabled",
	evDialOK:           "dial_ok",
	evDialFailed:       "dial_failed",
	evPingDue:          "ping_due",
	evPing:             "ping",
	evPong:             "pong",
	evConnected:        "connected",
	evMessage:          "message",
	evHeartbeatTimeout: "heartbeat_timeout",
	evSocketLost:       "socket_lost",
	evRemoteClose:      "remote_close",
	evClose:            "close",
	evClosed:           "closed",
}

func (e event) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}
	return "unknown"
}

// effect is a set of side effects the manager runs after a transition, in
// declaration order.
type effect uint16

const (
	effCancelReconnect effect = 1 << iota
	effDial
	effStartHeartbeat
	effSendPing
	effReplyPong
	effCancelDeadline
	effEmitConnected
	effForward
	effTeardown
	effCloseSocket
	effScheduleReconnect
)

func (e effect) has(f effect) bool { return e&f != 0 }

type transition struct {
	next    Status
	effects effect
}

// transitions is the whole connection contract. A (status, event) pair
// missing from the table is ignored.
var transitions = map[Status]map[event]transition{
	StatusDisconnected: {
		evConnect:  {StatusConnecting, effDial},
		evDisabled: {StatusDisconnected, 0},
		evClose:    {StatusDisconnected, 0},
	},
	StatusConnecting: {
		evConnect:    {StatusConnecting, 0},
		evDisabled:   {StatusConnecting, 0},
		evDialOK:     {StatusOpen, effStartHeartbeat},
		evDialFailed: {StatusReconnecting, effScheduleReconnect},
		evClose:      {StatusDisconnected, effTeardown},
	},
	StatusOpen: {
		evConnect:          {StatusOpen, 0},
		evDisabled:         {StatusOpen, 0},
		evPingDue:          {StatusOpen, effSendPing},
		evPing:             {StatusOpen, effReplyPong},
		evPong:             {StatusOpen, effCancelDeadline},
		evConnected:        {StatusOpen, effEmitConnected},
		evMessage:          {StatusOpen, effForward},
		evHeartbeatTimeout: {StatusReconnecting, effTeardown | effScheduleReconnect},
		evSocketLost:       {StatusReconnecting, effTeardown | effScheduleReconnect},
		evRemoteClose:      {StatusDisconnected, effTeardown},
		evClose:            {StatusClosing, effCloseSocket},
	},
	StatusReconnecting: {
		evConnect:      {StatusConnecting, effCancelReconnect | effDial},
		evReconnectDue: {StatusConnecting, effDial},
		evDisabled:     {StatusDisconnected, effCancelReconnect},
		evClose:        {StatusDisconnected, effCancelReconnect},
	},
	StatusClosing: {
		evClosed: {StatusDisconnected, effTeardown},
	},
}

func next(s Status, e event) (transition, bool) {
	t, ok := transitions[s][e]
	return t, ok
}
