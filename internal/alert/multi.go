package alert

import (
	"context"
	"errors"
)

// Multi fans one event out to every sink. All sinks are tried even when
// an earlier one fails.
type Multi []Sink

func (m Multi) Send(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
