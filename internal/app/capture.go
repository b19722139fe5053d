package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pscheid92/streamdvr/internal/domain"
	"github.com/pscheid92/streamdvr/internal/platform/logging"
)

// AmbiguousStreamError is returned when a channel URL matches more than one
// live stream. It matches domain.ErrAmbiguousStream.
type AmbiguousStreamError struct {
	Streams []domain.Stream
}

func (e *AmbiguousStreamError) Error() string {
	return fmt.Sprintf("%d streams were found, cannot tell which one should be captured", len(e.Streams))
}

func (e *AmbiguousStreamError) Unwrap() error { return domain.ErrAmbiguousStream }

type CaptureService struct {
	queue   domain.CaptureQueue
	streams domain.StreamLookup
	logger  *slog.Logger
}

var _ domain.CaptureService = (*CaptureService)(nil)

func NewCaptureService(queue domain.CaptureQueue, streams domain.StreamLookup, logger *slog.Logger) *CaptureService {
	return &CaptureService{
		queue:   queue,
		streams: streams,
		logger:  logging.WithComponent(logger, "capture_service"),
	}
}

// ForceCapture queues the stream currently live on channelURL. Exactly one
// live stream must match.
func (s *CaptureService) ForceCapture(ctx context.Context, channelURL string) (domain.CaptureRequest, error) {
	login, err := ParseChannelURL(channelURL)
	if err != nil {
		return domain.CaptureRequest{}, err
	}

	streams, err := s.streams.StreamsByLogin(ctx, login)
	if err != nil {
		return domain.CaptureRequest{}, fmt.Errorf("look up streams for %s: %w", login, err)
	}
	switch {
	case len(streams) == 0:
		return domain.CaptureRequest{}, domain.ErrNoLiveStream
	case len(streams) > 1:
		return domain.CaptureRequest{}, &AmbiguousStreamError{Streams: streams}
	}

	stream := streams[0]
	s.logger.InfoContext(ctx, "Found stream for manual capture", "stream_id", stream.ID, "login", stream.UserLogin)

	req := domain.CaptureRequest{
		ID:          stream.ID,
		Login:       stream.UserLogin,
		DisplayName: stream.UserName,
		Title:       stream.Title,
		StartedAt:   stream.StartedAt,
	}
	accepted, err := s.queue.Enqueue(req)
	if err != nil {
		return domain.CaptureRequest{}, fmt.Errorf("enqueue capture %s: %w", req.ID, err)
	}
	if !accepted {
		s.logger.InfoContext(ctx, "Stream is already being captured", "stream_id", req.ID)
	}
	return req, nil
}

func (s *CaptureService) Captures() []domain.CaptureRequest {
	return s.queue.Captures()
}

func (s *CaptureService) Capture(id string) (domain.CaptureRequest, error) {
	req, ok := s.queue.TryGet(id)
	if !ok {
		return domain.CaptureRequest{}, domain.ErrCaptureNotFound
	}
	return req, nil
}
