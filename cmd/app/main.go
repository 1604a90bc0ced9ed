package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/templeseva/darshan/config"
	"github.com/templeseva/darshan/internal/bootstrap"
	"github.com/templeseva/darshan/internal/logger"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.Build(ctx, cfg, appLog)
	if err != nil {
		appLog.WithError(err).Fatal("build dependencies")
	}
	defer deps.Close()

	if err := bootstrap.Run(ctx, cfg, appLog, deps.Services); err != nil {
		appLog.WithError(err).Error("server error")
		return
	}
	appLog.Info("server stopped")
}
