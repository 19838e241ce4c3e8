package service

import (
	"log/slog"
	"os"
	"strings"

	"github.com/strongfeels/stagedelight/pkg/variables"
	"go.uber.org/fx"
)

type logger_Params struct {
	fx.In
}

var loggerWriter = os.Stdout

func parseLevel(value string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return slog.LevelDebug
	}
	return level
}

func logger(params logger_Params) *slog.Logger {
	level := parseLevel(variables.Env(variables.LOG_LEVEL_NAME, variables.LOG_LEVEL_DEFAULT))
	return slog.New(slog.NewJSONHandler(loggerWriter, &slog.HandlerOptions{
		AddSource: false,
		Level:     level,
	}))
}

var LoggerModule = fx.Module("logger", fx.Provide(
	logger,
))
