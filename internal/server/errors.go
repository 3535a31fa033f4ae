package server

import (
	"errors"
	"fmt"

	"github.com/labstack/echo/v4"

	"github.com/snapetech/tubecache/internal/failure"
	"github.com/snapetech/tubecache/internal/logger"
)

const invalidInputBody = "Invalid video URL or ID"

// handleError is the error boundary. Every error a handler returns ends up
// here exactly once.
func (s *Server) handleError(err error, c echo.Context) {
	log := logger.FromContext(c.Request().Context(), s.log())
	if c.Response().Committed {
		log.Warn("error after response started", "path", c.Request().URL.Path, "err", err)
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		_ = c.String(he.Code, fmt.Sprint(he.Message))
		return
	}

	kind := failure.KindOf(err)
	status := kind.Status()
	if kind == failure.InvalidInput {
		_ = c.String(status, invalidInputBody)
		return
	}
	log.Error("request failed", "path", c.Request().URL.Path, "kind", kind.String(), "status", status, "err", err)
	_ = c.String(status, "Unknown error occured: "+err.Error())
}
