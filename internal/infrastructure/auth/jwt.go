package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
)

// ErrUnexpectedSigningMethod token was signed with another algorithm
var ErrUnexpectedSigningMethod = errors.New("unexpected signing method")

// AppTokenClaims .
type AppTokenClaims struct {
	UID  string `json:"uid"`
	Name string `json:"name,omitempty"`

	jwt.StandardClaims
}

// TimeRemaining remaining time before the token get expired
func (tk *AppTokenClaims) TimeRemaining() time.Duration {
	exp := time.Unix(tk.ExpiresAt, 0)
	now := time.Now()

	if exp.Before(now) {
		return 0
	}
	return exp.Sub(now)
}

// JWTUtil .
type JWTUtil struct {
	secret    []byte
	tokenName string
	timeout   time.Duration
	method    jwt.SigningMethod
}

// NewJWTUtil create a JWTUtil instance
func NewJWTUtil(method, secret, tokenName string, timeout time.Duration) *JWTUtil {
	var signMethod jwt.SigningMethod
	switch method {
	case "HS512":
		signMethod = jwt.SigningMethodHS512
	default:
		signMethod = jwt.SigningMethodHS256
	}
	return &JWTUtil{
		method:    signMethod,
		secret:    []byte(secret),
		tokenName: tokenName,
		timeout:   timeout,
	}
}

// Sign sign token
func (ju *JWTUtil) Sign(claims *AppTokenClaims) (string, error) {
	token := jwt.NewWithClaims(ju.method, claims)
	return token.SignedString(ju.secret)
}

// Validate validate token string with secret and return AppTokenClaims
func (ju *JWTUtil) Validate(tokenStr string) (*AppTokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &AppTokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != ju.method.Alg() {
			return nil, ErrUnexpectedSigningMethod
		}
		return ju.secret, nil
	})
	if err != nil {
		return nil, err
	}
	return token.Claims.(*AppTokenClaims), nil
}

// GenerateTokenStr issue a token for userID
func (ju *JWTUtil) GenerateTokenStr(userID, name string) (string, error) {
	expires := time.Now().Add(ju.timeout).Unix()
	return ju.Sign(&AppTokenClaims{
		UID:  userID,
		Name: name,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: expires,
		},
	})
}

// RefreshToken push token expiration to now + timeout
func (ju *JWTUtil) RefreshToken(claims *AppTokenClaims) *AppTokenClaims {
	expires := time.Now().Add(ju.timeout).Unix()
	claims.ExpiresAt = expires
	return claims
}

// SetClientToken set token in client cookie
func (ju *JWTUtil) SetClientToken(c echo.Context, tokenStr string) {
	c.SetCookie(&http.Cookie{
		Name:     ju.tokenName,
		Value:    tokenStr,
		HttpOnly: true,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(ju.timeout),
	})
}

// SetContextToken set token in App context
func (ju *JWTUtil) SetContextToken(c echo.Context, token *AppTokenClaims) {
	c.Set(ju.tokenName, token)
}

// GetContextToken get token from App context
func (ju *JWTUtil) GetContextToken(c echo.Context) *AppTokenClaims {
	v, ok := c.Get(ju.tokenName).(*AppTokenClaims)
	if ok {
		return v
	}
	return nil
}

// UserID id of the verified user, ok is false when no token was verified
func (ju *JWTUtil) UserID(c echo.Context) (string, bool) {
	claims := ju.GetContextToken(c)
	if claims == nil || claims.UID == "" {
		return "", false
	}
	return claims.UID, true
}

// ExtractToken get token string from request, the cookie first and then a
// bearer authorization header
func (ju *JWTUtil) ExtractToken(c echo.Context) (string, error) {
	token, err := c.Cookie(ju.tokenName)
	if err == nil && token.Value != "" {
		return token.Value, nil
	}
	const prefix = "Bearer "
	if h := c.Request().Header.Get(echo.HeaderAuthorization); len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):], nil
	}
	if err == nil {
		err = http.ErrNoCookie
	}
	return "", err
}
