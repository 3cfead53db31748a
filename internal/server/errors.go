package server

import (
	"errors"
	"net/http"

	"github.com/danmuck/designctl/internal/catalog"
	"github.com/danmuck/designctl/internal/engine"
	"github.com/gin-gonic/gin"
)

// statusFor maps engine and catalog failures onto HTTP status codes.
func statusFor(err error) int {
	var (
		unknown   *engine.UnknownCommandError
		malformed *engine.MalformedRequestError
	)
	switch {
	case errors.Is(err, catalog.ErrUnknownName):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.As(err, &malformed):
		return http.StatusUnprocessableEntity
	case errors.As(err, &unknown):
		return http.StatusNotImplemented
	case errors.Is(err, engine.ErrResponseTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{
		"error":   err.Error(),
		"outcome": engine.Outcome(err),
	})
}
