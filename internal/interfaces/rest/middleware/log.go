package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pot-code/elira-progress/internal/infrastructure/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingConfig options for access logging
type LoggingConfig struct {
	// Skipper defines a function to skip middleware.
	Skipper middleware.Skipper
	// UserID resolves the authenticated learner once the handler ran
	UserID func(c echo.Context) (string, bool)
}

func statusLevel(code int) zapcore.Level {
	switch {
	case code >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case code >= http.StatusBadRequest:
		return zapcore.WarnLevel
	}
	return zapcore.DebugLevel
}

// Logging create a logging middleware with zap logger, 4xx responses are
// logged at warn and 5xx at error
func Logging(base *zap.Logger, options ...*LoggingConfig) echo.MiddlewareFunc {
	cfg := &LoggingConfig{
		Skipper: middleware.DefaultSkipper,
	}
	if len(options) > 0 {
		option := options[0]
		if option.Skipper != nil {
			cfg.Skipper = option.Skipper
		}
		cfg.UserID = option.UserID
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper(c) {
				return next(c)
			}
			start := time.Now()
			err := next(c)
			req := c.Request()
			fields := []zap.Field{
				zap.String("trace.id", c.Response().Header().Get(echo.HeaderXRequestID)),
				zap.String("url.path", req.RequestURI),
				zap.String("client.address", c.RealIP()),
				zap.String("http.request.method", req.Method),
				zap.Int64("http.request.body.byte", req.ContentLength),
				zap.Duration("event.duration", time.Since(start)),
			}
			if len(c.ParamNames()) > 0 {
				fields = append(fields,
					zap.Strings("route.params.name", c.ParamNames()),
					zap.Strings("route.params.value", c.ParamValues()),
				)
			}
			if cfg.UserID != nil {
				if uid, ok := cfg.UserID(c); ok {
					fields = append(fields, zap.String("user.id", uid))
				}
			}
			code := c.Response().Status
			fields = append(fields, zap.Int("http.response.status_code", code))
			if ce := base.Check(statusLevel(code), http.StatusText(code)); ce != nil {
				ce.Write(fields...)
			}
			return err
		}
	}
}

// SetTraceLogger set logger binding with trace ID into context
func SetTraceLogger(base *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			r := c.Request()
			logger := base.With(zap.String("trace.id", c.Response().Header().Get(echo.HeaderXRequestID)))
			c.SetRequest(r.WithContext(logging.SetLoggerInContext(r.Context(), logger)))
			return next(c)
		}
	}
}
