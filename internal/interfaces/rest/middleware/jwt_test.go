package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pot-code/elira-progress/internal/infrastructure/auth"
)

func newTokenApp(ju *auth.JWTUtil, option *ValidateTokenOption, refresh *RefreshTokenOption) *echo.Echo {
	app := echo.New()
	app.GET("/me", func(c echo.Context) error {
		uid, _ := ju.UserID(c)
		return c.String(http.StatusOK, uid)
	}, VerifyToken(ju, option), RefreshToken(ju, refresh))
	return app
}

func TestVerifyToken(t *testing.T) {
	ju := auth.NewJWTUtil("HS256", "secret", "elira_token", time.Hour)
	token, err := ju.GenerateTokenStr("u1", "learner")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	app := newTokenApp(ju, &ValidateTokenOption{
		InBlackList: func(tk string) (bool, error) { return tk == "revoked", nil },
		QueryParam:  "access_token",
	}, nil)

	cases := []struct {
		name   string
		target string
		header string
		code   int
	}{
		{"bearer", "/me", "Bearer " + token, http.StatusOK},
		{"query", "/me?access_token=" + token, "", http.StatusOK},
		{"missing", "/me", "", http.StatusUnauthorized},
		{"garbage", "/me", "Bearer nope", http.StatusUnauthorized},
		{"revoked", "/me", "Bearer revoked", http.StatusUnauthorized},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodGet, c.target, nil)
		if c.header != "" {
			req.Header.Set(echo.HeaderAuthorization, c.header)
		}
		rec := httptest.NewRecorder()
		app.ServeHTTP(rec, req)
		if rec.Code != c.code {
			t.Errorf("%s: want=%d got=%d", c.name, c.code, rec.Code)
		}
		if c.code == http.StatusOK && rec.Body.String() != "u1" {
			t.Errorf("%s: want=u1 got=%s", c.name, rec.Body.String())
		}
	}
}

func TestVerifyToken_QueryParamDisabled(t *testing.T) {
	ju := auth.NewJWTUtil("HS256", "secret", "elira_token", time.Hour)
	token, _ := ju.GenerateTokenStr("u1", "learner")
	app := newTokenApp(ju, nil, nil)

	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me?access_token="+token, nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("want=401 got=%d", rec.Code)
	}
}

func TestRefreshToken(t *testing.T) {
	ju := auth.NewJWTUtil("HS256", "secret", "elira_token", time.Minute)
	token, _ := ju.GenerateTokenStr("u1", "learner")
	app := newTokenApp(ju, nil, &RefreshTokenOption{Threshold: time.Hour})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("want=200 got=%d", rec.Code)
	}
	var refreshed bool
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == "elira_token" && ck.Value != "" {
			refreshed = true
		}
	}
	if !refreshed {
		t.Fatal("token close to expiry was not refreshed")
	}
}
