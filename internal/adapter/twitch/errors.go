package twitch

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrUnauthorized is returned when a request is still rejected after the
// token was replaced once.
var ErrUnauthorized = errors.New("twitch: unable to get a valid token to send request")

// APIError carries a failed platform response verbatim so callers can relay it.
type APIError struct {
	Method      string
	URL         string
	RequestBody string
	StatusCode  int
	Body        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twitch %s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// maxErrorBody bounds how much of a failed response is kept.
const maxErrorBody = 64 << 10

func newAPIError(resp *http.Response, requestBody []byte) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{
		StatusCode:  resp.StatusCode,
		Body:        string(body),
		RequestBody: string(requestBody),
	}
	if resp.Request != nil {
		apiErr.Method = resp.Request.Method
		apiErr.URL = resp.Request.URL.String()
	}
	return apiErr
}
