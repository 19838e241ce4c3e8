package service

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/strongfeels/stagedelight/internal/connection"
	"github.com/strongfeels/stagedelight/internal/registry"
	"github.com/strongfeels/stagedelight/internal/relay"
	"github.com/strongfeels/stagedelight/internal/room"
	"github.com/strongfeels/stagedelight/internal/roomtype"
	"github.com/strongfeels/stagedelight/pkg/protocol"
	"github.com/strongfeels/stagedelight/pkg/variables"
	"go.uber.org/fx"
)

func roomCatalog(logger *slog.Logger) (*roomtype.Catalog, error) {
	path := variables.Env(variables.ROOM_TYPES_FILE_NAME, variables.ROOM_TYPES_FILE_DEFAULT)
	catalog, err := roomtype.Load(path)
	if err != nil {
		return nil, err
	}
	for _, t := range catalog.Types() {
		config, _ := catalog.Get(t)
		logger.Debug("room type",
			slog.String("type", string(t)),
			slog.Duration("duration", config.Duration),
			slog.Int("min_votes_to_start", config.MinVotesToStart),
		)
	}
	return catalog, nil
}

func roomOptions() (room.Options, error) {
	capacity, err := variables.ParseInt(variables.Env(variables.ROOM_CAPACITY_NAME, variables.ROOM_CAPACITY_DEFAULT))
	if err != nil {
		return room.Options{}, err
	}
	window, err := variables.ParseDuration(variables.Env(variables.AUTO_START_WINDOW_NAME, variables.AUTO_START_WINDOW_DEFAULT))
	if err != nil {
		return room.Options{}, err
	}
	grace, err := variables.ParseDuration(variables.Env(variables.TURN_GRACE_NAME, variables.TURN_GRACE_DEFAULT))
	if err != nil {
		return room.Options{}, err
	}
	return room.Options{
		Capacity:        capacity,
		AutoStartWindow: window,
		TurnGrace:       grace,
		Scheduler:       room.WallClock(),
	}, nil
}

type roomRegistry_Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Catalog   *roomtype.Catalog
	Options   room.Options
	Logger    *slog.Logger
}

func roomRegistry(params roomRegistry_Params) *registry.Registry {
	reg := registry.New(registry.Params{
		Catalog: params.Catalog,
		Options: params.Options,
		Logger:  params.Logger,
	})
	params.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			reg.Close()
			return nil
		},
	})
	return reg
}

func socketOptions() (relay.SocketOptions, error) {
	perSecond, err := strconv.ParseFloat(variables.Env(variables.WS_MESSAGES_PER_SECOND_NAME, variables.WS_MESSAGES_PER_SECOND_DEFAULT), 64)
	if err != nil {
		return relay.SocketOptions{}, err
	}
	burst, err := variables.ParseInt(variables.Env(variables.WS_MESSAGE_BURST_NAME, variables.WS_MESSAGE_BURST_DEFAULT))
	if err != nil {
		return relay.SocketOptions{}, err
	}
	return relay.SocketOptions{
		MessagesPerSecond: perSecond,
		MessageBurst:      burst,
		AllowedOrigins:    variables.ParseCSV(variables.Env(variables.CORS_ALLOWED_ORIGINS_NAME, variables.CORS_ALLOWED_ORIGINS_DEFAULT)),
	}, nil
}

var RoomModule = fx.Module("room", fx.Provide(
	roomCatalog,
	roomOptions,
	roomRegistry,
	connection.NewManager,
	socketOptions,
	relay.New,
	protocol.AsHttpController(relay.NewRoomController),
))
