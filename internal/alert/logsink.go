package alert

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSink writes events to a zerolog logger.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("component", "alert").Logger()}
}

func (s *LogSink) Send(ctx context.Context, ev Event) error {
	e := s.log.Warn()
	if ev.Kind.Success() {
		e = s.log.Info()
	}
	e = e.Str("kind", string(ev.Kind)).Str("addr", ev.Address)
	if ev.Key != "" {
		e = e.Str("key", ev.Key)
	}
	if ev.Payload != "" {
		e = e.Str("payload", ev.Payload)
	}
	e.Time("at", ev.Time).Msg(ev.Message())
	return nil
}
