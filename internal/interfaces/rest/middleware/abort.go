package middleware

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// AbortRequestOption options for request deadline
type AbortRequestOption struct {
	Timeout time.Duration
	// Skipper long lived routes such as websockets
	Skipper middleware.Skipper
}

// AbortRequest cancel the request context after Timeout, zero disables it
func AbortRequest(options ...*AbortRequestOption) echo.MiddlewareFunc {
	cfg := &AbortRequestOption{
		Skipper: middleware.DefaultSkipper,
	}
	if len(options) > 0 {
		option := options[0]
		cfg.Timeout = option.Timeout
		if option.Skipper != nil {
			cfg.Skipper = option.Skipper
		}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Timeout <= 0 || cfg.Skipper(c) {
				return next(c)
			}
			ctx, cancel := context.WithTimeout(c.Request().Context(), cfg.Timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
