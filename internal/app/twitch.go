package app

import (
	"context"
	"fmt"

	"github.com/pscheid92/streamdvr/internal/domain"
)

type TwitchService struct {
	lookup domain.StreamLookup
}

var _ domain.TwitchService = (*TwitchService)(nil)

func NewTwitchService(lookup domain.StreamLookup) *TwitchService {
	return &TwitchService{lookup: lookup}
}

// StreamsForChannelURL lists the live streams of the channel; an offline
// channel yields an empty slice.
func (s *TwitchService) StreamsForChannelURL(ctx context.Context, channelURL string) ([]domain.Stream, error) {
	login, err := ParseChannelURL(channelURL)
	if err != nil {
		return nil, err
	}
	streams, err := s.lookup.StreamsByLogin(ctx, login)
	if err != nil {
		return nil, fmt.Errorf("look up streams for %s: %w", login, err)
	}
	if streams == nil {
		streams = []domain.Stream{}
	}
	return streams, nil
}

func (s *TwitchService) VideoForURL(ctx context.Context, videoURL string) (*domain.Video, error) {
	id, err := ParseVideoURL(videoURL)
	if err != nil {
		return nil, err
	}
	video, err := s.lookup.VideoByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("look up video %s: %w", id, err)
	}
	if video == nil {
		return nil, domain.ErrVideoNotFound
	}
	return video, nil
}
