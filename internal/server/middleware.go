package server

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/snapetech/tubecache/internal/logger"
)

func (s *Server) setupMiddleware(e *echo.Echo) {
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(s.logRequests)
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		DisablePrintStack: true,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			logger.FromContext(c.Request().Context(), s.log()).Error("panic", "err", err, "stack", string(stack))
			return err
		},
	}))
}

// logRequests attaches a request-scoped logger to the context, runs the
// handler, settles any error through the error boundary and logs the outcome.
func (s *Server) logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()
		rid := c.Response().Header().Get(echo.HeaderXRequestID)
		rlog := s.log().With("request_id", rid)
		c.SetRequest(req.WithContext(logger.NewContext(req.Context(), rlog)))

		if err := next(c); err != nil {
			c.Error(err)
		}

		res := c.Response()
		route := c.Path()
		if route == "" {
			route = "unmatched"
		}
		dur := time.Since(start)
		s.Metrics.ObserveRequest(route, strconv.Itoa(res.Status), dur)
		rlog.Info("http",
			"method", req.Method,
			"path", req.URL.Path,
			"status", res.Status,
			"bytes", res.Size,
			"dur", dur.Round(time.Millisecond),
			"ua", req.UserAgent(),
			"remote", c.RealIP(),
		)
		return nil
	}
}
