package app

import (
	"net/url"
	"strings"

	"github.com/pscheid92/streamdvr/internal/domain"
)

const videoPathPrefix = "/videos/"

func parseTwitchURL(raw string) (*url.URL, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !u.IsAbs() || u.Scheme != "https" {
		return nil, false
	}
	host := strings.ToLower(u.Hostname())
	if host != "twitch.tv" && !strings.HasSuffix(host, ".twitch.tv") {
		return nil, false
	}
	return u, true
}

// ParseChannelURL returns the lowercased login from https://www.twitch.tv/<login>.
func ParseChannelURL(raw string) (string, error) {
	u, ok := parseTwitchURL(raw)
	if !ok || strings.HasPrefix(u.Path, videoPathPrefix) {
		return "", domain.ErrInvalidChannelURL
	}

	login := strings.TrimPrefix(u.Path, "/")
	if login == "" || strings.Contains(login, "/") {
		return "", domain.ErrInvalidChannelURL
	}
	return strings.ToLower(login), nil
}

// ParseVideoURL returns the id from https://www.twitch.tv/videos/<id>.
func ParseVideoURL(raw string) (string, error) {
	u, ok := parseTwitchURL(raw)
	if !ok || !strings.HasPrefix(u.Path, videoPathPrefix) {
		return "", domain.ErrInvalidVideoURL
	}

	id := strings.TrimPrefix(u.Path, videoPathPrefix)
	if id == "" || strings.Contains(id, "/") {
		return "", domain.ErrInvalidVideoURL
	}
	return id, nil
}
