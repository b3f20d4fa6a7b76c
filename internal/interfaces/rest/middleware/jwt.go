package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pot-code/elira-progress/internal/infrastructure/auth"
)

// ValidateTokenOption ...
type ValidateTokenOption struct {
	InBlackList func(token string) (bool, error)
	// QueryParam also accept the token from this query parameter
	QueryParam string
}

// RefreshTokenOption ...
type RefreshTokenOption struct {
	Threshold time.Duration
}

// VerifyToken validate JWT
func VerifyToken(ju *auth.JWTUtil, options ...*ValidateTokenOption) echo.MiddlewareFunc {
	inBlacklist := func(string) (bool, error) { return false, nil }
	queryParam := ""
	if len(options) > 0 && options[0] != nil {
		option := options[0]
		if option.InBlackList != nil {
			inBlacklist = option.InBlackList
		}
		queryParam = option.QueryParam
	}
	extract := func(c echo.Context) (string, error) {
		tokenStr, err := ju.ExtractToken(c)
		if err != nil && queryParam != "" {
			if q := c.QueryParam(queryParam); q != "" {
				return q, nil
			}
		}
		return tokenStr, err
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr, err := extract(c)
			if err != nil {
				return c.NoContent(http.StatusUnauthorized)
			}

			if ok, err := inBlacklist(tokenStr); err != nil {
				return err
			} else if ok {
				return c.NoContent(http.StatusUnauthorized)
			}

			token, err := ju.Validate(tokenStr)
			if err != nil || token.UID == "" {
				return c.NoContent(http.StatusUnauthorized)
			}
			ju.SetContextToken(c, token)
			return next(c)
		}
	}
}

// RefreshToken refresh jwt if necessary, must be chained after ValidateMiddleware
func RefreshToken(ju *auth.JWTUtil, options ...*RefreshTokenOption) echo.MiddlewareFunc {
	threshold := 5 * time.Minute
	if len(options) > 0 && options[0] != nil {
		if option := options[0]; option.Threshold > 0 {
			threshold = option.Threshold
		}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims := ju.GetContextToken(c)
			if claims == nil {
				return next(c)
			}
			if claims.TimeRemaining() < threshold {
				ju.RefreshToken(claims)
				if tokenStr, err := ju.Sign(claims); err == nil {
					ju.SetClientToken(c, tokenStr)
				} else {
					return err
				}
			}
			return next(c)
		}
	}
}
