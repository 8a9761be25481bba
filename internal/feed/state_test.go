package feed

import (
	"testing"
	"time"
)

func TestBackoffBounds(t *testing.T) {
	base := time.Second
	ceiling := 30 * time.Second
	for n := 0; n < 12; n++ {
		for _, j := range []float64{0, 0.25, 0.999} {
			got := Backoff(n, base, ceiling, j)
			low := base << n
			if low >= ceiling {
				if got != ceiling {
					t.Fatalf("Backoff(%d, jitter %v) = %v, want cap %v", n, j, got, ceiling)
				}
				continue
			}
			if got < low || got > low+time.Second {
				t.Fatalf("Backoff(%d, jitter %v) = %v, want in [%v, %v]", n, j, got, low, low+time.Second)
			}
		}
	}
}

func TestBackoffSurvivesHugeAttempt(t *testing.T) {
	if got := Backoff(5000, time.Second, time.Minute, 0.5); got != time.Minute {
		t.Fatalf("Backoff(5000) = %v, want 1m", got)
	}
	if got := Backoff(-3, time.Second, time.Minute, 0); got != time.Second {
		t.Fatalf("Backoff(-3) = %v, want 1s", got)
	}
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from    Status
		ev      event
		to      Status
		effects effect
	}{
		{StatusDisconnected, evConnect, StatusConnecting, effDial},
		{StatusConnecting, evConnect, StatusConnecting, 0},
		{StatusOpen, evConnect, StatusOpen, 0},
		{StatusConnecting, evDialFailed, StatusReconnecting, effScheduleReconnect},
		{StatusOpen, evPingDue, StatusOpen, effSendPing},
		{StatusOpen, evPing, StatusOpen, effReplyPong},
		{StatusOpen, evPong, StatusOpen, effCancelDeadline},
		{StatusOpen, evHeartbeatTimeout, StatusReconnecting, effTeardown | effScheduleReconnect},
		{StatusOpen, evSocketLost, StatusReconnecting, effTeardown | effScheduleReconnect},
		{StatusOpen, evRemoteClose, StatusDisconnected, effTeardown},
		{StatusOpen, evClose, StatusClosing, effCloseSocket},
		{StatusClosing, evClosed, StatusDisconnected, effTeardown},
		{StatusReconnecting, evClose, StatusDisconnected, effCancelReconnect},
		{StatusReconnecting, evDisabled, StatusDisconnected, effCancelReconnect},
	}
	for _, tc := range cases {
		tr, ok := next(tc.from, tc.ev)
		if !ok {
			t.Fatalf("%s --%s--> missing from table", tc.from, tc.ev)
		}
		if tr.next != tc.to || tr.effects != tc.effects {
			t.Fatalf("%s --%s--> %s/%b, want %s/%b", tc.from, tc.ev, tr.next, tr.effects, tc.to, tc.effects)
		}
	}
}

func TestNoReconnectOutsideReconnecting(t *testing.T) {
	for _, s := range []Status{StatusDisconnected, StatusConnecting, StatusOpen, StatusClosing} {
		if _, ok := next(s, evReconnectDue); ok {
			t.Fatalf("reconnect timer accepted in %s", s)
		}
	}
	if tr, ok := next(StatusDisconnected, evClose); !ok || tr.effects != 0 {
		t.Fatalf("close while disconnected = %+v, %v", tr, ok)
	}
}

func TestParseMessage(t *testing.T) {
	for _, bad := range []string{"not json", `[1,2]`, `{"foo":1}`, `null`, `42`} {
		if _, err := ParseMessage([]byte(bad)); err == nil {
			t.Fatalf("ParseMessage(%q) accepted", bad)
		}
	}

	msg, err := ParseMessage([]byte(`{"event_type":"dispatch","call_category":"EMS"}`))
	if err != nil {
		t.Fatalf("ParseMessage alert: %v", err)
	}
	if msg.Type != "" || msg.EventType != "dispatch" || frameEvent(msg) != evMessage {
		t.Fatalf("alert frame = %+v", msg)
	}

	var c Connected
	msg, _ = ParseMessage([]byte(`{"type":"connected","tenant":12,"connection_id":"c-9"}`))
	if err := msg.Decode(&c); err != nil {
		t.Fatalf("Decode connected: %v", err)
	}
	if c.Tenant != "12" || c.ConnectionID != "c-9" {
		t.Fatalf("connected = %+v", c)
	}
}
