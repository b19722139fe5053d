package httpserver

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pscheid92/streamdvr/internal/adapter/twitch"
	"github.com/pscheid92/streamdvr/internal/app"
	"github.com/pscheid92/streamdvr/internal/domain"
	apperrors "github.com/pscheid92/streamdvr/internal/platform/errors"
	"github.com/pscheid92/streamdvr/internal/platform/logging"
)

// correlationMiddleware tags the request context with the request id so
// every log line of the request carries it.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Response().Header().Get(echo.HeaderXRequestID)
		if id == "" {
			id = logging.NewCorrelationID()
		}
		ctx := logging.WithCorrelationID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// requireAPIKey accepts "Authorization: Bearer <API_KEY>". Without a
// configured key the API is open, which config validation only permits
// outside production.
func (s *Server) requireAPIKey() echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		Skipper: func(echo.Context) bool {
			return s.config.APIKey == ""
		},
		KeyLookup:  "header:" + echo.HeaderAuthorization + ",query:api_key",
		AuthScheme: "Bearer",
		Validator: func(key string, _ echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(s.config.APIKey)) == 1, nil
		},
		ErrorHandler: func(err error, _ echo.Context) error {
			return apperrors.UnauthorizedError("missing or invalid api key")
		},
	})
}

// relayAPIError writes a failed Twitch response unchanged. It reports false
// when err carries none.
func relayAPIError(c echo.Context, err error) (bool, error) {
	var apiErr *twitch.APIError
	if !errors.As(err, &apiErr) {
		return false, nil
	}
	contentType := echo.MIMEApplicationJSON
	if apiErr.Body == "" {
		contentType = echo.MIMETextPlain
	}
	return true, c.Blob(apiErr.StatusCode, contentType, []byte(apiErr.Body))
}

// domainError maps domain failures onto structured HTTP errors.
func domainError(err error, fallback string) error {
	var ambiguous *app.AmbiguousStreamError
	switch {
	case errors.As(err, &ambiguous):
		return apperrors.ValidationError(domain.ErrAmbiguousStream.Error()).
			WithField("detail", ambiguous.Error()).
			WithField("streams", ambiguous.Streams)
	case errors.Is(err, domain.ErrNoLiveStream):
		return apperrors.ValidationError(domain.ErrNoLiveStream.Error()).
			WithField("detail", "no streams were found, cannot capture anything")
	case errors.Is(err, domain.ErrInvalidChannelURL):
		return apperrors.ValidationError("invalid uri provided").
			WithField("detail", "URL must be in the format https://www.twitch.tv/user-login")
	case errors.Is(err, domain.ErrInvalidVideoURL):
		return apperrors.ValidationError("invalid uri provided").
			WithField("detail", "URL must be in the format https://www.twitch.tv/videos/00000000")
	case errors.Is(err, domain.ErrEmptyStreamID):
		return apperrors.ValidationError(err.Error())
	case errors.Is(err, domain.ErrCaptureNotFound),
		errors.Is(err, domain.ErrSettingNotFound),
		errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrVideoNotFound):
		return apperrors.NotFoundError(rootMessage(err))
	case errors.Is(err, twitch.ErrUnauthorized):
		return apperrors.ExternalError("twitch rejected the application credentials", err)
	default:
		return apperrors.InternalError(fallback, err)
	}
}

func rootMessage(err error) string {
	for _, sentinel := range []error{domain.ErrCaptureNotFound, domain.ErrSettingNotFound, domain.ErrUserNotFound, domain.ErrVideoNotFound} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return http.StatusText(http.StatusNotFound)
}

// fail relays a Twitch response when err carries one and otherwise returns
// the mapped structured error.
func fail(c echo.Context, err error, fallback string) error {
	if relayed, writeErr := relayAPIError(c, err); relayed {
		return writeErr
	}
	return domainError(err, fallback)
}
