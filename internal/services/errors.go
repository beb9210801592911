package services

import (
	"errors"
	"net/http"

	volley_errors "volleystat/pkg/errors"
)

// HTTPStatus maps service errors to a response status. Upstream errors keep
// the status the registry answered with.
func HTTPStatus(err error) int {
	var upstream *volley_errors.UpstreamError
	switch {
	case errors.As(err, &upstream):
		if upstream.Status >= 400 && upstream.Status <= 599 {
			return upstream.Status
		}
		return http.StatusBadGateway
	case errors.Is(err, volley_errors.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, volley_errors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, volley_errors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, volley_errors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, volley_errors.ErrAlreadyExists),
		errors.Is(err, volley_errors.ErrConflict),
		errors.Is(err, volley_errors.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, volley_errors.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, volley_errors.ErrServiceUnavailable), errors.Is(err, volley_errors.ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCode is the machine readable code sent next to the message.
func ErrorCode(err error) string {
	var upstream *volley_errors.UpstreamError
	var transport *volley_errors.TransportError
	switch {
	case errors.As(err, &upstream):
		return "UPSTREAM_ERROR"
	case errors.As(err, &transport):
		return "TRANSPORT_ERROR"
	case errors.Is(err, volley_errors.ErrInvalidInput):
		return "INVALID_INPUT"
	case errors.Is(err, volley_errors.ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, volley_errors.ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, volley_errors.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, volley_errors.ErrAlreadyExists):
		return "ALREADY_EXISTS"
	case errors.Is(err, volley_errors.ErrInvalidTransition):
		return "INVALID_TRANSITION"
	case errors.Is(err, volley_errors.ErrConflict):
		return "CONFLICT"
	case errors.Is(err, volley_errors.ErrRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, volley_errors.ErrServiceUnavailable), errors.Is(err, volley_errors.ErrNotConfigured):
		return "SERVICE_UNAVAILABLE"
	default:
		return "INTERNAL_ERROR"
	}
}

// ErrorMessage is the text shown to the user. Upstream bodies pass through
// verbatim; unexpected errors are not leaked.
func ErrorMessage(err error) string {
	var upstream *volley_errors.UpstreamError
	if errors.As(err, &upstream) {
		if upstream.Body != "" {
			return upstream.Body
		}
		return upstream.Error()
	}
	if HTTPStatus(err) == http.StatusInternalServerError {
		return "internal server error"
	}
	return err.Error()
}
