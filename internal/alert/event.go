package alert

import (
	"context"
	"strings"
	"time"
)

// Kind names what happened. Values are stable and used as log, audit and
// metric labels.
type Kind string

const (
	KindRateLimited     Kind = "rate_limited"
	KindInvalidFormat   Kind = "invalid_format"
	KindUnknownKey      Kind = "unknown_key"
	KindHWIDBindFailed  Kind = "hwid_bind_failed"
	KindHWIDMismatch    Kind = "hwid_mismatch"
	KindVersionRejected Kind = "version_rejected"
	KindExpired         Kind = "expired"
	KindHashMismatch    Kind = "hash_mismatch"
	KindFreeKeyLogin    Kind = "free_key_login"
	KindLogin           Kind = "login"
)

var summaries = map[Kind]string{
	KindRateLimited:     "Rate limit exceeded",
	KindInvalidFormat:   "Invalid message format",
	KindUnknownKey:      "Invalid key",
	KindHWIDBindFailed:  "HWID could not be assigned",
	KindHWIDMismatch:    "HWID mismatch",
	KindVersionRejected: "Version mismatch or server disabled",
	KindExpired:         "License expired",
	KindHashMismatch:    "Hash verification failed",
	KindFreeKeyLogin:    "Free key login succeeded",
	KindLogin:           "Login succeeded",
}

// Success reports whether the kind records an admitted client.
func (k Kind) Success() bool {
	return k == KindLogin || k == KindFreeKeyLogin
}

func (k Kind) Severity() string {
	if k.Success() {
		return "info"
	}
	return "warning"
}

// Event is one notable outcome of the authentication pipeline. Key and
// Payload are optional and only set where it is safe to reveal them.
type Event struct {
	Kind    Kind
	Address string
	Key     string
	Payload string
	Time    time.Time
}

// Message renders the event as a single human readable line.
func (e Event) Message() string {
	var b strings.Builder
	summary, ok := summaries[e.Kind]
	if !ok {
		summary = string(e.Kind)
	}
	b.WriteString(summary)
	b.WriteString(". IP: ")
	b.WriteString(e.Address)
	if e.Key != "" {
		b.WriteString(" Key: ")
		b.WriteString(e.Key)
	}
	if e.Payload != "" {
		b.WriteString(" Message: ")
		b.WriteString(e.Payload)
	}
	return b.String()
}

// Sink delivers one event somewhere. Implementations may block; the
// Dispatcher bounds each call with a timeout.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// Notifier accepts events without blocking the caller.
type Notifier interface {
	Notify(ev Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(ev Event) { f(ev) }

// Discard drops every event.
var Discard Notifier = NotifierFunc(func(Event) {})
