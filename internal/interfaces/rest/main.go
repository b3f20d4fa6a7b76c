package rest

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echo_middleware "github.com/labstack/echo/v4/middleware"
	infra "github.com/pot-code/elira-progress/internal/infrastructure"
	"github.com/pot-code/elira-progress/internal/infrastructure/auth"
	"github.com/pot-code/elira-progress/internal/infrastructure/driver"
	"github.com/pot-code/elira-progress/internal/infrastructure/validate"
	"github.com/pot-code/elira-progress/internal/interfaces/rest/handler"
	"github.com/pot-code/elira-progress/internal/interfaces/rest/middleware"
	"github.com/pot-code/elira-progress/internal/lesson"
	"go.elastic.co/apm/module/apmechov4"
	"go.uber.org/zap"
)

// App http transport server
type App struct {
	*echo.Echo
	players *handler.PlayerHandler
}

// NewApp create http transport server
func NewApp(
	conn driver.ITransactionalDB,
	rdb driver.KeyValueDB,
	option *infra.AppConfig,
	ProgressUseCase lesson.ProgressUseCase,
	Player *lesson.Player,
	logger *zap.Logger,
) *App {
	var (
		app       = echo.New()
		validator = validate.NewValidator(option.Locale)
		websocket = infra.NewWebsocket()
		jwtUtil   = auth.NewJWTUtil(option.Security.JWTMethod,
			option.Security.JWTSecret,
			option.Security.TokenName,
			option.SessionTimeout)
		jwtMiddleware = middleware.VerifyToken(jwtUtil, &middleware.ValidateTokenOption{
			InBlackList: func(token string) (bool, error) {
				return rdb.Exists(token)
			},
		})
		// browsers can not set headers on a websocket upgrade
		wsJWTMiddleware = middleware.VerifyToken(jwtUtil, &middleware.ValidateTokenOption{
			InBlackList: func(token string) (bool, error) {
				return rdb.Exists(token)
			},
			QueryParam: "access_token",
		})
		refreshMiddleware = middleware.RefreshToken(jwtUtil, &middleware.RefreshTokenOption{
			Threshold: option.SessionRefresh,
		})
	)
	app.HideBanner = true
	app.HidePort = true
	routes := newRouteTable()

	registerLivenessProbe(app, conn, rdb)
	if option.Env == infra.EnvDevelopment {
		registerProfileEndpoints(app)

		app.Use(middleware.Logging(logger, &middleware.LoggingConfig{
			Skipper: func(e echo.Context) bool {
				if strings.HasPrefix(e.Request().RequestURI, "/healthz") {
					return true
				}
				return false
			},
			UserID: jwtUtil.UserID,
		}))
	}
	app.Use(middleware.ErrorHandling(
		&middleware.ErrorHandlingOption{
			Handler: func(c echo.Context, err error) {
				traceID := c.Response().Header().Get(echo.HeaderXRequestID)
				if !c.Response().Committed {
					c.JSON(http.StatusInternalServerError,
						handler.NewRESTStandardError(http.StatusInternalServerError, err.Error()).SetTraceID(traceID),
					)
				}
				logger.Error(err.Error(), zap.String("trace.id", traceID), zap.String("url.path", c.Path()))
			},
			HTTPError: func(c echo.Context, he *echo.HTTPError) {
				traceID := c.Response().Header().Get(echo.HeaderXRequestID)
				c.JSON(he.Code, handler.NewRESTStandardError(he.Code, fmt.Sprint(he.Message)).SetTraceID(traceID))
			},
		},
	))
	app.Use(echo_middleware.Secure())
	if option.DevOP.APM {
		app.Use(apmechov4.Middleware())
	}
	app.Use(echo_middleware.CORS())
	app.Use(middleware.AbortRequest(&middleware.AbortRequestOption{
		Timeout: option.RequestTimeout,
		Skipper: routes.isStreaming,
	}))

	var (
		ProgressHandler = handler.NewProgressHandler(ProgressUseCase, jwtUtil, validator)
		PlayerHandler   = handler.NewPlayerHandler(Player, websocket, jwtUtil, validator)
	)

	createEndpoint(app, routes,
		&endpoint{
			apiVersion:  "api/v1",
			middlewares: []echo.MiddlewareFunc{echo_middleware.RequestID(), middleware.SetTraceLogger(logger)},
			groups: []*apiGroup{
				{
					prefix:      "/course",
					middlewares: []echo.MiddlewareFunc{jwtMiddleware, refreshMiddleware},
					routes: []*route{
						{"GET", "/:courseId/outline", ProgressHandler.HandleGetOutline, nil},
					},
				},
				{
					prefix:      "/lesson",
					middlewares: []echo.MiddlewareFunc{jwtMiddleware, refreshMiddleware},
					routes: []*route{
						{"GET", "/:lessonId/progress", ProgressHandler.HandleGetProgress, nil},
						{"PUT", "/:lessonId/progress", ProgressHandler.HandlePutProgress, nil},
						{"POST", "/:lessonId/quiz", ProgressHandler.HandlePostQuiz, nil},
						{"GET", "/:lessonId/resume", ProgressHandler.HandleGetResume, nil},
					},
				},
				{
					prefix:      "/ws",
					middlewares: []echo.MiddlewareFunc{wsJWTMiddleware},
					streaming:   true,
					routes: []*route{
						{"GET", "/player", PlayerHandler.HandlePlayer, nil},
					},
				},
			},
		})

	printRoutes(routes, logger)
	return &App{Echo: app, players: PlayerHandler}
}

// Serve listen on option's address until ctx is done, then shut down gracefully
func Serve(ctx context.Context, app *App, option *infra.AppConfig, logger *zap.Logger) error {
	addr := fmt.Sprintf("%s:%d", option.Host, option.Port)
	errc := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.String("server.address", addr))
		errc <- app.Start(addr)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	// leave room for player sessions to run their final flush
	timeout := option.Player.FlushGrace + 5*time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	logger.Info("shutting down http server", zap.Duration("timeout", timeout))
	if err := app.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := app.players.Drain(shutdownCtx); err != nil {
		logger.Warn("player sessions still open at shutdown", zap.Error(err))
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func printRoutes(table *routeTable, logger *zap.Logger) {
	for _, route := range table.routes {
		logger.Info("Registered route", zap.String("method", route.Method), zap.String("path", route.Path),
			zap.Bool("streaming", table.streaming[route.Path]))
	}
}

func registerLivenessProbe(app *echo.Echo, db driver.ITransactionalDB, rdb driver.KeyValueDB) {
	app.GET("/healthz", func(c echo.Context) error {
		if db.Ping() == nil && rdb.Ping() == nil {
			c.NoContent(http.StatusOK)
		} else {
			c.NoContent(http.StatusServiceUnavailable)
		}
		return nil
	})
}

func registerProfileEndpoints(app *echo.Echo) {
	expvarHandler := expvar.Handler()
	app.GET("/debug/vars", func(c echo.Context) error {
		expvarHandler.ServeHTTP(c.Response().Writer, c.Request())
		return nil
	})
	app.GET("/debug/pprof/", func(c echo.Context) error {
		pprof.Index(c.Response().Writer, c.Request())
		return nil
	})
	app.GET("/debug/pprof/:name", func(c echo.Context) error {
		switch c.Param("name") {
		case "cmdline":
			pprof.Cmdline(c.Response().Writer, c.Request())
		case "profile":
			pprof.Profile(c.Response().Writer, c.Request())
		case "symbol":
			pprof.Symbol(c.Response().Writer, c.Request())
		case "trace":
			pprof.Trace(c.Response().Writer, c.Request())
		default:
			pprof.Handler(c.Param("name")).ServeHTTP(c.Response().Writer, c.Request())
		}
		return nil
	})
}
