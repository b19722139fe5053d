package httpserver

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	apperrors "github.com/pscheid92/streamdvr/internal/platform/errors"
)

type forceCaptureRequest struct {
	URL string `json:"url" form:"url" query:"url"`
}

func (s *Server) handleListCaptures(c echo.Context) error {
	if err := c.JSON(http.StatusOK, s.captures.Captures()); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleGetCapture(c echo.Context) error {
	id := c.Param("id")
	req, err := s.captures.Capture(id)
	if err != nil {
		return domainError(err, "failed to load capture")
	}
	if err := c.JSON(http.StatusOK, req); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// handleForceCapture queues the stream live on the given channel URL.
func (s *Server) handleForceCapture(c echo.Context) error {
	var body forceCaptureRequest
	if err := c.Bind(&body); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if strings.TrimSpace(body.URL) == "" {
		return apperrors.ValidationError("url is required")
	}

	req, err := s.captures.ForceCapture(c.Request().Context(), body.URL)
	if err != nil {
		return fail(c, err, "failed to queue capture")
	}
	if err := c.JSON(http.StatusOK, req); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
