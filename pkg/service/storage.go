package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/strongfeels/stagedelight/internal/history"
	"github.com/strongfeels/stagedelight/internal/statsbus"
	"github.com/strongfeels/stagedelight/pkg/variables"
	"go.uber.org/fx"
)

type storage_Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Logger    *slog.Logger
}

func historyRecorder(params storage_Params) (history.Recorder, error) {
	path := variables.Env(variables.HISTORY_DB_PATH_NAME, variables.HISTORY_DB_PATH_DEFAULT)
	if path == "" {
		params.Logger.Info("room history disabled")
		return history.Nop{}, nil
	}

	store, err := history.Open(path, params.Logger)
	if err != nil {
		return nil, err
	}
	params.Lifecycle.Append(fx.Hook{
		OnStop: store.Close,
	})
	return store, nil
}

var HistoryModule = fx.Module("history", fx.Provide(historyRecorder))

func statsPublisher(params storage_Params) (statsbus.Publisher, error) {
	addr := variables.Env(variables.REDIS_ADDR_NAME, variables.REDIS_ADDR_DEFAULT)
	if addr == "" {
		return statsbus.Nop{}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	publisher, err := statsbus.NewRedis(ctx, addr, params.Logger)
	if err != nil {
		return nil, err
	}
	params.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error { return publisher.Close() },
	})
	return publisher, nil
}

var StatsModule = fx.Module("stats", fx.Provide(statsPublisher))
