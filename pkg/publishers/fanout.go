package publishers

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Fanout delivers inventory change events to every configured sink.
type Fanout struct {
	sinks []Publisher
}

// NewFanout keeps the non-nil publishers, in order.
func NewFanout(pubs []Publisher) *Fanout {
	sinks := make([]Publisher, 0, len(pubs))
	for _, p := range pubs {
		if p != nil {
			sinks = append(sinks, p)
		}
	}
	return &Fanout{sinks: sinks}
}

// Publish hands a medicament change to each sink in turn. A failing sink
// does not stop delivery to the others; the count of sinks that accepted the
// event is returned with one joined error naming the event and each failed
// sink.
func (f *Fanout) Publish(ctx context.Context, evt Event) (int, error) {
	if f == nil || len(f.sinks) == 0 {
		return 0, nil
	}

	delivered := 0
	var errs []error
	for _, sink := range f.sinks {
		if err := sink.Publish(ctx, evt); err != nil {
			errs = append(errs, fmt.Errorf("%s for medicament %d via %s publisher[%s]: %w",
				evt.Type, evt.Reference, sink.Type(), sink.ID(), err))
			continue
		}
		delivered++
	}
	return delivered, errors.Join(errs...)
}

// Size reports how many sinks receive inventory events.
func (f *Fanout) Size() int {
	if f == nil {
		return 0
	}
	return len(f.sinks)
}

// Close shuts down sinks that own a network client (SQS, SNS, Pub/Sub).
func (f *Fanout) Close() error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, sink := range f.sinks {
		if c, ok := sink.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s publisher[%s]: %w", sink.Type(), sink.ID(), err))
			}
		}
	}
	return errors.Join(errs...)
}
