package domain

import (
	"context"
	"time"
)

// CaptureRequest identifies one live broadcast to record. Immutable once created.
type CaptureRequest struct {
	ID          string    `json:"id"`
	Login       string    `json:"login"`
	DisplayName string    `json:"userName"`
	Title       string    `json:"title"`
	StartedAt   time.Time `json:"startedAt"`
}

// CaptureStage is a step in a capture's lifecycle as seen by observers.
type CaptureStage string

const (
	StageQueued    CaptureStage = "queued"
	StageCapturing CaptureStage = "capturing"
	StageRemuxing  CaptureStage = "remuxing"
	StageFinished  CaptureStage = "finished"
	StageFailed    CaptureStage = "failed"
)

// CaptureEvent reports a lifecycle transition of one capture. Elapsed is set
// on terminal stages.
type CaptureEvent struct {
	Stage   CaptureStage   `json:"stage"`
	Capture CaptureRequest `json:"capture"`
	Error   string         `json:"error,omitempty"`
	At      time.Time      `json:"at"`
	Elapsed time.Duration  `json:"elapsedNs,omitempty"`
}

// CaptureObserver is told about capture lifecycle transitions.
// ObserveCapture is called on the capture's goroutine and must not block.
type CaptureObserver interface {
	ObserveCapture(event CaptureEvent)
}

// CaptureQueue is the part of the capture queue that producers and the HTTP
// API depend on.
type CaptureQueue interface {
	// Enqueue reports whether req was newly accepted; a request whose id is
	// already being captured is ignored.
	Enqueue(req CaptureRequest) (bool, error)
	IsCapturing(id string) bool
	TryGet(id string) (CaptureRequest, bool)
	Captures() []CaptureRequest
}

// CaptureService turns operator input into queued captures.
type CaptureService interface {
	ForceCapture(ctx context.Context, channelURL string) (CaptureRequest, error)
	Captures() []CaptureRequest
	Capture(id string) (CaptureRequest, error)
}
