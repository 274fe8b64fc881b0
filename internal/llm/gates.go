package llm

import (
	"context"

	"github.com/samsaffron/toolstream/internal/billing"
	"github.com/samsaffron/toolstream/internal/liveness"
	"github.com/samsaffron/toolstream/internal/telemetry"
)

// LiveStream starts a provider stream only if the request's user input is
// still live. Otherwise it returns liveness.ErrNotLive without contacting
// the provider.
func LiveStream(ctx context.Context, p Provider, req Request, oracle liveness.Oracle, logger telemetry.Logger) (Stream, error) {
	if oracle != nil && !oracle.IsLive(req.UserID, req.UserInputID, req.ClientSessionID) {
		if logger != nil {
			var live []string
			if reg, ok := oracle.(*liveness.Registry); ok {
				live = reg.LiveUserInputIDs(req.UserID)
			}
			logger.Info(ctx, "skipping stream due to canceled user input",
				"user_id", req.UserID,
				"user_input_id", req.UserInputID,
				"live_user_input_ids", live,
			)
		}
		return nil, liveness.ErrNotLive
	}
	return p.Stream(ctx, req)
}

type costStream struct {
	inner  Stream
	margin float64
	onCost func(credits int)
	cost   float64
	fired  bool
}

// CostStream calls onCost once with the credits for the reported usage cost
// when the stream finishes.
func CostStream(stream Stream, margin float64, onCost func(credits int)) Stream {
	if onCost == nil {
		return stream
	}
	return &costStream{inner: stream, margin: margin, onCost: onCost}
}

func (s *costStream) Recv() (Event, error) {
	ev, err := s.inner.Recv()
	if err != nil {
		s.fire()
		return ev, err
	}
	switch ev.Type {
	case EventUsage:
		if ev.Use != nil {
			s.cost += ev.Use.CostDollars
		}
	case EventDone:
		s.fire()
	}
	return ev, nil
}

func (s *costStream) fire() {
	if s.fired || s.cost <= 0 {
		return
	}
	s.fired = true
	s.onCost(billing.Credits(s.cost, s.margin))
}

func (s *costStream) Close() error { return s.inner.Close() }
