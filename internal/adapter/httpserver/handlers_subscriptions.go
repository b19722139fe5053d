package httpserver

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"
	apperrors "github.com/pscheid92/streamdvr/internal/platform/errors"
)

// Twitch logins are 1-25 characters of letters, digits and underscores.
var loginPattern = regexp.MustCompile(`^[a-z0-9_]{1,25}$`)

func loginParam(c echo.Context) (string, error) {
	login := strings.ToLower(strings.TrimSpace(c.Param("login")))
	if !loginPattern.MatchString(login) {
		return "", apperrors.ValidationError("invalid twitch login").WithField("login", c.Param("login"))
	}
	return login, nil
}

func (s *Server) handleListSubscriptions(c echo.Context) error {
	subs, err := s.subscriptions.Subscriptions(c.Request().Context())
	if err != nil {
		return fail(c, err, "failed to list subscriptions")
	}
	if err := c.JSON(http.StatusOK, subs); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleSubscribe(c echo.Context) error {
	login, err := loginParam(c)
	if err != nil {
		return err
	}

	subs, err := s.subscriptions.Subscribe(c.Request().Context(), login)
	if err != nil {
		return fail(c, err, "failed to subscribe")
	}
	if err := c.JSON(http.StatusCreated, subs); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleUnsubscribe(c echo.Context) error {
	login, err := loginParam(c)
	if err != nil {
		return err
	}

	if err := s.subscriptions.Unsubscribe(c.Request().Context(), login); err != nil {
		return fail(c, err, "failed to unsubscribe")
	}
	return c.NoContent(http.StatusNoContent)
}
