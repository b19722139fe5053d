package httpserver

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	apperrors "github.com/pscheid92/streamdvr/internal/platform/errors"
)

func (s *Server) handleGetStreams(c echo.Context) error {
	raw := c.QueryParam("url")
	if raw == "" {
		return apperrors.ValidationError("url is required")
	}

	streams, err := s.twitch.StreamsForChannelURL(c.Request().Context(), raw)
	if err != nil {
		return fail(c, err, "failed to look up streams")
	}
	if err := c.JSON(http.StatusOK, map[string]any{"data": streams}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleGetVideo(c echo.Context) error {
	raw := c.QueryParam("url")
	if raw == "" {
		return apperrors.ValidationError("url is required")
	}

	video, err := s.twitch.VideoForURL(c.Request().Context(), raw)
	if err != nil {
		return fail(c, err, "failed to look up video")
	}
	if err := c.JSON(http.StatusOK, video); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
