package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// ErrorHandlingOption options for error handling
type ErrorHandlingOption struct {
	// Handler renders unexpected errors and recovered panics, the response
	// may already be committed
	Handler func(c echo.Context, err error)
	// HTTPError renders errors raised by echo itself, such as bind or routing errors
	HTTPError func(c echo.Context, he *echo.HTTPError)
}

// ErrorHandling render errors returned or panicked by handlers
// **DO NOT return error anymore**
func ErrorHandling(options ...*ErrorHandlingOption) echo.MiddlewareFunc {
	custom := &ErrorHandlingOption{
		Handler: func(c echo.Context, err error) {
			if !c.Response().Committed {
				c.String(http.StatusInternalServerError, err.Error())
			}
		},
		HTTPError: func(c echo.Context, he *echo.HTTPError) {
			c.String(he.Code, fmt.Sprint(he.Message))
		},
	}
	if len(options) > 0 {
		option := options[0]
		if option.Handler != nil {
			custom.Handler = option.Handler
		}
		if option.HTTPError != nil {
			custom.HTTPError = option.HTTPError
		}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			defer func() {
				if any := recover(); any != nil {
					err, ok := any.(error)
					if !ok {
						err = fmt.Errorf("%v", any)
					}
					custom.Handler(c, fmt.Errorf("panic: %w", err))
				}
			}()
			err := next(c)
			if err == nil {
				return nil
			}
			// a committed response may belong to a hijacked websocket
			var he *echo.HTTPError
			if errors.As(err, &he) && !c.Response().Committed {
				custom.HTTPError(c, he)
			} else {
				custom.Handler(c, err)
			}
			return nil
		}
	}
}
