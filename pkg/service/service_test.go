package service

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/strongfeels/stagedelight/internal/registry"
	"github.com/strongfeels/stagedelight/internal/roomtype"
	"github.com/strongfeels/stagedelight/pkg/metrics"
	"github.com/strongfeels/stagedelight/pkg/protocol"
	"github.com/strongfeels/stagedelight/pkg/variables"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

func TestParseLevel(t *testing.T) {
	for input, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelDebug,
	} {
		assert.Equal(t, want, parseLevel(input), input)
	}
}

type failingController struct{}

func (failingController) Resolve(protocol.HttpRouter) error { return errors.New("boom") }

func TestSystemRoutes(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	router, err := newRouter(httpServer_Params{
		Controllers: []protocol.HttpResolvable{newSystemController(metrics.New())},
		Logger:      logger,
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stagedelight_connections")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err = newRouter(httpServer_Params{
		Controllers: []protocol.HttpResolvable{failingController{}},
		Logger:      logger,
	})
	assert.Error(t, err)
}

func TestCORS(t *testing.T) {
	t.Setenv(variables.CORS_ALLOWED_ORIGINS_NAME, "https://stage.example")

	router := echo.New()
	router.Use(corsMiddleware())
	router.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://stage.example")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "https://stage.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRoomOptionsFromEnv(t *testing.T) {
	t.Setenv(variables.ROOM_CAPACITY_NAME, "3")
	t.Setenv(variables.AUTO_START_WINDOW_NAME, "90s")
	t.Setenv(variables.TURN_GRACE_NAME, "-1s")

	opts, err := roomOptions()
	require.NoError(t, err)
	assert.Equal(t, 3, opts.Capacity)
	assert.Equal(t, "1m30s", opts.AutoStartWindow.String())
	assert.Negative(t, int64(opts.TurnGrace))

	t.Setenv(variables.ROOM_CAPACITY_NAME, "lots")
	_, err = roomOptions()
	assert.Error(t, err)
}

func TestApplicationGraph(t *testing.T) {
	t.Setenv(variables.HTTP_PORT_NAME, "0")
	t.Setenv(variables.LOG_LEVEL_NAME, "error")
	t.Setenv(variables.HISTORY_DB_PATH_NAME, t.TempDir()+"/history.db")

	var reg *registry.Registry
	app := fxtest.New(t,
		LoggerModule,
		MetricsModule,
		HistoryModule,
		StatsModule,
		RoomModule,
		HttpModule,
		fx.Populate(&reg),
	)
	app.RequireStart()

	require.NotNil(t, reg)
	assert.Equal(t, 5, reg.Capacity())
	assert.Equal(t, 0, reg.Stats()[roomtype.Casual])

	app.RequireStop()
	_, err := reg.FindOrCreate(roomtype.Casual)
	assert.ErrorIs(t, err, registry.ErrRegistryClosed)
}
