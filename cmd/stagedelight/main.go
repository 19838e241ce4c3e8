package main

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/strongfeels/stagedelight/pkg/service"
	"go.uber.org/fx"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using process environment")
	}

	fx.New(
		service.LoggerModule,
		service.MetricsModule,
		service.HistoryModule,
		service.StatsModule,
		service.RoomModule,
		service.HttpModule,
	).Run()
}
