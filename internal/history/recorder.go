package history

import (
	"context"
	"io"
	"log/slog"
	"time"
)

const sendTimeout = 3 * time.Second

// Recorder delivers each event to every configured sink. Failures are
// logged and never returned to the caller.
type Recorder struct {
	sinks []Sink
}

func NewRecorder(sinks ...Sink) *Recorder {
	r := &Recorder{}
	for _, s := range sinks {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
	return r
}

// Record sends e to all sinks. A nil Recorder discards events.
func (r *Recorder) Record(ctx context.Context, e Event) {
	if r == nil {
		return
	}
	for _, s := range r.sinks {
		sctx, cancel := context.WithTimeout(ctx, sendTimeout)
		if err := s.Send(sctx, e); err != nil {
			slog.Warn("History sink failed", "type", e.Type, "profile", e.Record.Profile, "entry", e.Record.Entry, "err", err)
		}
		cancel()
	}
}

// Reader returns the first sink that can serve recent events, or nil.
func (r *Recorder) Reader() Reader {
	if r == nil {
		return nil
	}
	for _, s := range r.sinks {
		if rd, ok := s.(Reader); ok {
			return rd
		}
	}
	return nil
}

// Close closes every sink that holds resources.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	var first error
	for _, s := range r.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
