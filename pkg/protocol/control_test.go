package protocol

import (
	"testing"
)

func TestControlEncodeDecode(t *testing.T) {
	tests := []struct {
		name    string
		ct      ControlType
		payload any
		check   func(t *testing.T, got any)
	}{
		{
			name:    "ping",
			ct:      ControlPing,
			payload: &PingPong{Timestamp: 1700000000123},
			check: func(t *testing.T, got any) {
				pp, ok := got.(*PingPong)
				if !ok || pp.Timestamp != 1700000000123 {
					t.Errorf("payload = %+v, want Timestamp 1700000000123", got)
				}
			},
		},
		{
			name:    "pong",
			ct:      ControlPong,
			payload: &PingPong{Timestamp: 99},
			check: func(t *testing.T, got any) {
				pp, ok := got.(*PingPong)
				if !ok || pp.Timestamp != 99 {
					t.Errorf("payload = %+v, want Timestamp 99", got)
				}
			},
		},
		{
			name:    "resync_request",
			ct:      ControlResyncRequest,
			payload: &ResyncRequest{LastTick: 4096},
			check: func(t *testing.T, got any) {
				rr, ok := got.(*ResyncRequest)
				if !ok || rr.LastTick != 4096 {
					t.Errorf("payload = %+v, want LastTick 4096", got)
				}
			},
		},
		{
			name:    "close",
			ct:      ControlClose,
			payload: &CloseMessage{Reason: CloseDesync, Message: "too many desyncs"},
			check: func(t *testing.T, got any) {
				cm, ok := got.(*CloseMessage)
				if !ok || cm.Reason != CloseDesync || cm.Message != "too many desyncs" {
					t.Errorf("payload = %+v, want Desync/\"too many desyncs\"", got)
				}
			},
		},
		{
			name:    "close_without_payload",
			ct:      ControlClose,
			payload: nil,
			check: func(t *testing.T, got any) {
				cm, ok := got.(*CloseMessage)
				if !ok || cm.Reason != CloseNormal || cm.Message != "" {
					t.Errorf("payload = %+v, want Normal/\"\"", got)
				}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ct, payload, err := DecodeControl(EncodeControl(tc.ct, tc.payload))
			if err != nil {
				t.Fatalf("DecodeControl() error = %v", err)
			}
			if ct != tc.ct {
				t.Errorf("DecodeControl() type = %v, want %v", ct, tc.ct)
			}
			tc.check(t, payload)
		})
	}
}

func TestControlConstructors(t *testing.T) {
	if ct, pp := NewPing(5); ct != ControlPing || pp.Timestamp != 5 {
		t.Errorf("NewPing(5) = %v, %+v", ct, pp)
	}
	if ct, pp := NewPong(6); ct != ControlPong || pp.Timestamp != 6 {
		t.Errorf("NewPong(6) = %v, %+v", ct, pp)
	}
	if ct, rr := NewResyncRequest(7); ct != ControlResyncRequest || rr.LastTick != 7 {
		t.Errorf("NewResyncRequest(7) = %v, %+v", ct, rr)
	}
	if ct, cm := NewClose(CloseServerShutdown, "bye"); ct != ControlClose || cm.Reason != CloseServerShutdown || cm.Message != "bye" {
		t.Errorf("NewClose() = %v, %+v", ct, cm)
	}
}

func TestDecodeControlTruncated(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"ping_short", []byte{byte(ControlPing), 0x00, 0x01}},
		{"resync_short", []byte{byte(ControlResyncRequest), 0x80}},
		{"close_no_reason", []byte{byte(ControlClose)}},
		{"close_no_message", []byte{byte(ControlClose), byte(CloseError), 0x04, 'a'}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := DecodeControl(tc.data); err == nil {
				t.Error("DecodeControl() error = nil, want error")
			}
		})
	}
}

func TestDecodeControlUnknownType(t *testing.T) {
	ct, payload, err := DecodeControl([]byte{0x7E})
	if err != nil {
		t.Fatalf("DecodeControl() error = %v", err)
	}
	if ct.String() != "Unknown" || payload != nil {
		t.Errorf("DecodeControl() = %v, %v; want Unknown, nil", ct, payload)
	}
}

func TestCloseReasonString(t *testing.T) {
	tests := []struct {
		reason CloseReason
		want   string
	}{
		{CloseNormal, "Normal"},
		{CloseGoingAway, "GoingAway"},
		{CloseDesync, "Desync"},
		{CloseServerShutdown, "ServerShutdown"},
		{CloseError, "Error"},
		{CloseReason(0xFF), "Unknown"},
	}

	for _, tc := range tests {
		if got := tc.reason.String(); got != tc.want {
			t.Errorf("CloseReason(%d).String() = %q, want %q", tc.reason, got, tc.want)
		}
	}
}
