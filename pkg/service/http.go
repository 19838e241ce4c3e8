package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v4"
	"github.com/rs/cors"
	"github.com/strongfeels/stagedelight/pkg/metrics"
	"github.com/strongfeels/stagedelight/pkg/protocol"
	"github.com/strongfeels/stagedelight/pkg/variables"
	"go.uber.org/fx"
)

type httpServer_Params struct {
	fx.In

	Lifecycle   fx.Lifecycle
	Controllers []protocol.HttpResolvable `group:"http.controller"`
	Logger      *slog.Logger
}

func httpErrorHandler(e *echo.Echo, logger *slog.Logger) func(err error, c echo.Context) {
	return func(err error, c echo.Context) {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) && httpErr.Code < http.StatusInternalServerError {
			logger.Debug(err.Error(), slog.String("path", c.Request().URL.Path))
		} else {
			logger.Error(err.Error(), slog.String("request", fmt.Sprintf("%s %s", c.Request().Method, c.Request().URL)))
		}
		e.DefaultHTTPErrorHandler(err, c)
	}
}

func corsMiddleware() echo.MiddlewareFunc {
	origins := variables.ParseCSV(variables.Env(variables.CORS_ALLOWED_ORIGINS_NAME, variables.CORS_ALLOWED_ORIGINS_DEFAULT))
	return echo.WrapMiddleware(cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	}).Handler)
}

func newRouter(params httpServer_Params) (*echo.Echo, error) {
	router := echo.New()
	router.HideBanner = true
	router.HTTPErrorHandler = httpErrorHandler(router, params.Logger)
	router.Use(corsMiddleware())

	for _, controller := range params.Controllers {
		if err := controller.Resolve(router); err != nil {
			return nil, err
		}
	}
	return router, nil
}

func httpServer(params httpServer_Params) error {
	router, err := newRouter(params)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%s", variables.Env(variables.HTTP_PORT_NAME, variables.HTTP_PORT_DEFAULT))
	params.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := router.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					params.Logger.Error("http server", slog.String("err", err.Error()))
				}
			}()
			params.Logger.Info("http server listening", slog.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return router.Shutdown(ctx)
		},
	})
	return nil
}

var HttpModule = fx.Module("http", fx.Invoke(httpServer))

type systemController struct {
	metrics *metrics.Metrics
}

func (ctrl *systemController) Resolve(c *echo.Echo) error {
	c.GET("/healthz", func(ctx echo.Context) error {
		return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	c.GET("/metrics", echo.WrapHandler(ctrl.metrics.Handler()))
	return nil
}

var _ protocol.HttpResolvable = (*systemController)(nil)

func newSystemController(m *metrics.Metrics) *systemController {
	return &systemController{metrics: m}
}

var MetricsModule = fx.Module("metrics", fx.Provide(
	metrics.New,
	protocol.AsHttpController(newSystemController),
))
