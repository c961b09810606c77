package alert

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventMessage(t *testing.T) {
	tests := []struct {
		ev   Event
		want string
	}{
		{Event{Kind: KindRateLimited, Address: "1.2.3.4"}, "Rate limit exceeded. IP: 1.2.3.4"},
		{Event{Kind: KindUnknownKey, Address: "1.2.3.4", Key: "K"}, "Invalid key. IP: 1.2.3.4 Key: K"},
		{Event{Kind: KindInvalidFormat, Address: "1.2.3.4", Payload: `{"a":1}`}, `Invalid message format. IP: 1.2.3.4 Message: {"a":1}`},
		{Event{Kind: KindLogin, Address: "::1", Key: "K"}, "Login succeeded. IP: ::1 Key: K"},
		{Event{Kind: Kind("custom"), Address: "x"}, "custom. IP: x"},
	}

	for _, tt := range tests {
		t.Run(string(tt.ev.Kind), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ev.Message())
		})
	}
}

func TestKindSeverity(t *testing.T) {
	assert.Equal(t, "info", KindLogin.Severity())
	assert.Equal(t, "info", KindFreeKeyLogin.Severity())
	assert.Equal(t, "warning", KindHashMismatch.Severity())
	assert.False(t, KindExpired.Success())
}

type failingSink struct{ err error }

func (s failingSink) Send(context.Context, Event) error { return s.err }

func TestMulti(t *testing.T) {
	a := newRecordingSink()
	b := newRecordingSink()
	boom := errors.New("boom")

	m := Multi{a, failingSink{boom}, b}
	err := m.Send(context.Background(), Event{Kind: KindLogin})

	require.ErrorIs(t, err, boom)
	require.Len(t, a.Events(), 1, "sinks before the failure received the event")
	require.Len(t, b.Events(), 1, "sinks after the failure received the event")

	require.NoError(t, Multi{a}.Send(context.Background(), Event{}))
}

func TestNotifierFunc(t *testing.T) {
	var got Event
	n := NotifierFunc(func(ev Event) { got = ev })
	n.Notify(Event{Kind: KindExpired})
	assert.Equal(t, KindExpired, got.Kind)

	Discard.Notify(Event{})
}
