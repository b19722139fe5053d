package capture

import (
	"context"
	"sync"
	"time"

	"github.com/pscheid92/streamdvr/internal/domain"
)

var t0 = time.Date(2024, 3, 9, 18, 30, 5, 0, time.UTC)

func request(id string) domain.CaptureRequest {
	return domain.CaptureRequest{
		ID:          id,
		Login:       "foo",
		DisplayName: "Foo",
		Title:       "T",
		StartedAt:   t0,
	}
}

type eventLog struct {
	mu       sync.Mutex
	events   []domain.CaptureEvent
	terminal chan domain.CaptureEvent
}

func newEventLog() *eventLog {
	return &eventLog{terminal: make(chan domain.CaptureEvent, 16)}
}

func (l *eventLog) ObserveCapture(event domain.CaptureEvent) {
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
	if event.Stage == domain.StageFinished || event.Stage == domain.StageFailed {
		l.terminal <- event
	}
}

func (l *eventLog) stages() []domain.CaptureStage {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.CaptureStage, len(l.events))
	for i, e := range l.events {
		out[i] = e.Stage
	}
	return out
}

type mapSettings map[string]string

func (m mapSettings) Get(_ context.Context, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", domain.ErrSettingNotFound
	}
	return v, nil
}

func (l *eventLog) last() domain.CaptureEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[len(l.events)-1]
}
