package domain

import "errors"

var (
	ErrEmptyStreamID     = errors.New("capture request has an empty stream id")
	ErrCaptureNotFound   = errors.New("capture not found")
	ErrSettingNotFound   = errors.New("setting not found")
	ErrNoLiveStream      = errors.New("no streams found")
	ErrAmbiguousStream   = errors.New("more than one stream found")
	ErrInvalidChannelURL = errors.New("invalid twitch channel url")
	ErrInvalidVideoURL   = errors.New("invalid twitch video url")
	ErrUserNotFound      = errors.New("twitch user not found")
	ErrVideoNotFound     = errors.New("video not found")
)
