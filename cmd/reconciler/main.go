package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/reconciler/internal/app"
	"github.com/vladislavdragonenkov/reconciler/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("reconciler exited with error")
	}
	log.Info("reconciler stopped")
}

// run читает конфигурацию, настраивает логирование и запускает сервис.
func run(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("reconciler", flag.ContinueOnError)
	configPath := flags.String("config", "", "path to YAML config (fallback: "+app.ConfigPathEnv+")")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := app.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	closer, err := logging.Configure(log.StandardLogger(), cfg.Logging)
	if err != nil {
		return err
	}
	defer closer.Close()

	log.WithFields(log.Fields{
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"kafka_brokers":  cfg.KafkaBrokers(),
		"workers":        cfg.Pool.Workers,
	}).Info("starting reconciler")

	return app.Run(ctx, cfg)
}
