package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	echo "github.com/labstack/echo/v4"
	"github.com/samber/lo"
	"github.com/strongfeels/stagedelight/internal/history"
	"github.com/strongfeels/stagedelight/internal/registry"
	"github.com/strongfeels/stagedelight/internal/room"
	"github.com/strongfeels/stagedelight/pkg/protocol"
	"github.com/strongfeels/stagedelight/pkg/wsutils"
	"go.uber.org/fx"
	"golang.org/x/time/rate"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

type SocketOptions struct {
	MessagesPerSecond float64
	MessageBurst      int
	WriteTimeout      time.Duration
	// AllowedOrigins of "*" (or empty) accepts any origin.
	AllowedOrigins []string
}

type roomController struct {
	logger   *slog.Logger
	relay    *Relay
	registry *registry.Registry
	history  history.Recorder
	upgrader websocket.Upgrader
	options  SocketOptions
}

func (ctrl *roomController) wsError(w *wsutils.ThreadSafeWriter, err error) error {
	ctrl.logger.Error(fmt.Sprintf("%s | Err: %s", w.Conn.RemoteAddr(), err))
	return err
}

func (ctrl *roomController) RoomControllerSocket(ctx echo.Context) error {
	conn, err := ctrl.upgrader.Upgrade(ctx.Response().Writer, ctx.Request(), nil)
	if err != nil {
		ctrl.logger.Error(fmt.Sprintf("Unable upgrade request %s", ctx.Request().RemoteAddr))
		return err
	}

	w := wsutils.NewThreadSafeWriter(uuid.NewString(), conn, ctrl.options.WriteTimeout)
	defer w.Close()

	reqCtx := ctx.Request().Context()
	if err := ctrl.relay.Connect(reqCtx, w); err != nil {
		return ctrl.wsError(w, err)
	}
	defer ctrl.relay.Disconnect(context.Background(), w.ID())

	_ = w.SetReadDeadline(time.Now().Add(pongWait))
	w.SetPongHandler(func(string) error {
		return w.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go ctrl.keepAlive(w, done)

	limiter := ctrl.limiter()

	for {
		var message protocol.Message
		if err := w.ReadJSON(&message); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ctrl.logger.Warn("websocket read", slog.String("conn", w.ID()), slog.String("err", err.Error()))
			}
			return nil
		}

		if !limiter.Allow() {
			ctrl.relay.Throttled(w)
			continue
		}

		if err := ctrl.relay.Dispatch(reqCtx, w, message); err != nil {
			ctrl.logger.Debug("dispatch", slog.String("conn", w.ID()), slog.String("err", err.Error()))
		}
	}
}

func (ctrl *roomController) limiter() *rate.Limiter {
	if ctrl.options.MessagesPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(ctrl.options.MessagesPerSecond), max(ctrl.options.MessageBurst, 1))
}

// keepAlive pings the client until done; the pong handler pushes the read deadline.
func (ctrl *roomController) keepAlive(w *wsutils.ThreadSafeWriter, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := w.WriteControl(websocket.PingMessage, nil); err != nil {
				ctrl.logger.Debug("ping", slog.String("conn", w.ID()), slog.String("err", err.Error()))
				return
			}
		}
	}
}

func (ctrl *roomController) RoomControllerStats(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, ctrl.relay.roomStats())
}

func (ctrl *roomController) RoomControllerRoomTypes(ctx echo.Context) error {
	catalog := ctrl.registry.Catalog()
	result := make([]protocol.RoomTypeInfo, 0)
	for _, t := range catalog.Types() {
		config, _ := catalog.Get(t)
		result = append(result, protocol.RoomTypeInfo{
			RoomType:        string(t),
			Label:           config.Label,
			Duration:        int(config.Duration.Seconds()),
			MinVotesToStart: config.MinVotesToStart,
			Capacity:        ctrl.registry.Capacity(),
		})
	}
	return ctx.JSON(http.StatusOK, protocol.RoomTypeListResponse{RoomTypes: result})
}

func (ctrl *roomController) RoomControllerRoomList(ctx echo.Context) error {
	rooms := lo.Map(ctrl.registry.Rooms(), func(rm *room.Room, _ int) protocol.RoomInfo {
		return roomInfo(rm.Snapshot())
	})
	return ctx.JSON(http.StatusOK, protocol.RoomListResponse{Rooms: rooms})
}

func (ctrl *roomController) RoomControllerRoomHistory(ctx echo.Context) error {
	roomID, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "room id must be an integer")
	}

	limit := 0
	if raw := ctx.QueryParam("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
	}

	events, err := ctrl.history.ListByRoom(ctx.Request().Context(), roomID, limit)
	if errors.Is(err, history.ErrHistoryDisabled) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, events)
}

func roomInfo(snap room.Snapshot) protocol.RoomInfo {
	return protocol.RoomInfo{
		RoomID:     snap.ID,
		RoomType:   string(snap.Type),
		Label:      snap.Label,
		Duration:   int(snap.Duration.Seconds()),
		Members:    snap.Members,
		Queue:      snap.Queue,
		HasStarted: snap.HasStarted,
		SpeakerID:  snap.Speaker,
		Turn:       snap.Turn,
		StartVotes: protocol.StartVotes{
			Votes:      snap.StartVotes.Votes,
			Needed:     snap.StartVotes.Needed,
			HasStarted: snap.HasStarted,
		},
		SkipVotes: protocol.SkipVotes(snap.SkipVotes),
		CreatedAt: snap.CreatedAt.UnixMilli(),
	}
}

func (ctrl *roomController) Resolve(c *echo.Echo) error {
	c.GET("/ws", ctrl.RoomControllerSocket)

	api := c.Group("/api/v1")
	api.GET("/stats", ctrl.RoomControllerStats)
	api.GET("/room-types", ctrl.RoomControllerRoomTypes)
	api.GET("/rooms", ctrl.RoomControllerRoomList)
	api.GET("/rooms/:id/history", ctrl.RoomControllerRoomHistory)
	return nil
}

var _ protocol.HttpResolvable = (*roomController)(nil)

type newRoomController_Params struct {
	fx.In

	Logger   *slog.Logger
	Relay    *Relay
	Registry *registry.Registry
	History  history.Recorder
	Options  SocketOptions
}

func NewRoomController(params newRoomController_Params) *roomController {
	return &roomController{
		logger:   params.Logger,
		relay:    params.Relay,
		registry: params.Registry,
		history:  params.History,
		options:  params.Options,
		upgrader: websocket.Upgrader{
			CheckOrigin: checkOrigin(params.Options.AllowedOrigins),
		},
	}
}

func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || lo.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || lo.Contains(allowed, origin)
	}
}
