package httpserver

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/streamdvr/internal/domain"
	"github.com/pscheid92/streamdvr/internal/platform/config"
	apperrors "github.com/pscheid92/streamdvr/internal/platform/errors"
)

type settingValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Server) handleListSettings(c echo.Context) error {
	values, err := s.settings.All(c.Request().Context())
	if err != nil {
		return domainError(err, "failed to list settings")
	}
	if err := c.JSON(http.StatusOK, values); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleGetSetting(c echo.Context) error {
	key := c.Param("key")
	value, err := s.settings.Get(c.Request().Context(), key)
	if err != nil {
		return domainError(err, "failed to load setting")
	}
	if err := c.JSON(http.StatusOK, settingValue{Key: key, Value: value}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handlePutSetting(c echo.Context) error {
	key := c.Param("key")
	var body struct {
		Value string `json:"value"`
	}
	if err := c.Bind(&body); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	if key == domain.SettingDiscordWebhookURL && body.Value != "" {
		if err := config.ValidateDiscordWebhookURL(body.Value); err != nil {
			return apperrors.ValidationError(err.Error()).WithField("key", key)
		}
	}

	if err := s.settings.Set(c.Request().Context(), key, body.Value); err != nil {
		return domainError(err, "failed to save setting")
	}
	return c.NoContent(http.StatusNoContent)
}
