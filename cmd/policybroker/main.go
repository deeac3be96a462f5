package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/topasig/PolicyBroker/internal/app"
	"github.com/topasig/PolicyBroker/internal/config"
	"github.com/topasig/PolicyBroker/internal/logging"
)

func main() {
	configFlag := flag.String("config", "", "path to config.yaml (defaults to $POLICYBROKER_CONFIG or ./config.yaml)")
	migrateOnly := flag.Bool("migrate", false, "run database migrations and exit")
	flag.Parse()

	cfg, errLoad := config.Load(config.ResolveConfigPath(*configFlag))
	if errLoad != nil {
		log.Fatalf("load config: %v", errLoad)
	}
	closer, errLogging := logging.Setup(cfg.Logging)
	if errLogging != nil {
		log.Fatalf("setup logging: %v", errLogging)
	}
	defer func() {
		if closer != nil {
			_ = closer.Close()
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *migrateOnly {
		if errMigrate := app.Migrate(ctx, cfg); errMigrate != nil {
			log.Errorf("migrate: %v", errMigrate)
			os.Exit(1)
		}
		return
	}
	if errRun := app.RunServer(ctx, cfg); errRun != nil {
		log.Errorf("server stopped: %v", errRun)
		os.Exit(1)
	}
}
