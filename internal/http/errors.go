package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iapropria/iapropria/internal/settings"
	"github.com/iapropria/iapropria/internal/users"
	"github.com/iapropria/iapropria/internal/vectorstore"
)

// statusFor maps a domain error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case vectorstore.IsConfigurationError(err), errors.Is(err, users.ErrNoDatabase):
		return http.StatusServiceUnavailable
	case vectorstore.IsNotFound(err):
		return http.StatusNotFound
	case vectorstore.IsValidationError(err), errors.Is(err, settings.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, vectorstore.ErrClosed):
		return http.StatusServiceUnavailable
	case vectorstore.IsTransportError(err), errors.Is(err, vectorstore.ErrEmbeddingFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// httpError converts err into an echo.HTTPError. Server errors are logged
// and their details are kept out of the response.
func (s *Server) httpError(c echo.Context, err error) error {
	code := statusFor(err)
	ctx := c.Request().Context()
	switch {
	case code == http.StatusInternalServerError:
		s.logger.Error(ctx, "request failed", zap.Error(err))
		return echo.NewHTTPError(code, http.StatusText(code)).SetInternal(err)
	case code >= http.StatusInternalServerError:
		s.logger.Warn(ctx, "request failed", zap.Int("status", code), zap.Error(err))
	}
	return echo.NewHTTPError(code, err.Error()).SetInternal(err)
}
