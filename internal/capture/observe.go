package capture

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/streamdvr/internal/domain"
)

// Observers fans capture events out to every registered observer in order.
type Observers []domain.CaptureObserver

func (o Observers) ObserveCapture(event domain.CaptureEvent) {
	for _, obs := range o {
		if obs != nil {
			obs.ObserveCapture(event)
		}
	}
}

type emitter struct {
	clock     clockwork.Clock
	observers Observers
}

func (e emitter) emit(stage domain.CaptureStage, req domain.CaptureRequest, err error, elapsed time.Duration) {
	if len(e.observers) == 0 {
		return
	}
	event := domain.CaptureEvent{
		Stage:   stage,
		Capture: req,
		At:      e.clock.Now(),
		Elapsed: elapsed,
	}
	if err != nil {
		event.Error = err.Error()
	}
	e.observers.ObserveCapture(event)
}
