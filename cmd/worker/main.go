package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/templeseva/darshan/config"
	"github.com/templeseva/darshan/internal/bootstrap"
	"github.com/templeseva/darshan/internal/domain"
	"github.com/templeseva/darshan/internal/kafka"
	"github.com/templeseva/darshan/internal/logger"
	"github.com/templeseva/darshan/internal/notify"
	"github.com/templeseva/darshan/internal/rabbitmq"
)

type eventSource interface {
	Consume(ctx context.Context, handler func(context.Context, domain.BookingEvent) error) error
	Close() error
}

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	workerLog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.Build(ctx, cfg, workerLog)
	if err != nil {
		workerLog.WithError(err).Fatal("build dependencies")
	}
	defer deps.Close()

	source, err := newEventSource(cfg, workerLog)
	if err != nil {
		workerLog.WithError(err).Fatal("connect event source")
	}
	if source != nil {
		defer source.Close()

		notifier := notify.NewNotifier(nil, workerLog)
		go func() {
			if err := source.Consume(ctx, notifier.Handle); err != nil && ctx.Err() == nil {
				workerLog.WithError(err).Error("consumer stopped")
			}
		}()
	}

	expireTicker := time.NewTicker(time.Duration(cfg.Worker.ExpirationSweepMinutes) * time.Minute)
	defer expireTicker.Stop()

	for {
		select {
		case <-expireTicker.C:
			if _, err := deps.Booking.ExpirePendingBookings(ctx); err != nil {
				workerLog.WithError(err).Error("expire bookings")
			}
		case <-ctx.Done():
			workerLog.Info("shutting down worker")
			return
		}
	}
}

func newEventSource(cfg *config.Config, log logrus.FieldLogger) (eventSource, error) {
	switch cfg.Events.Broker {
	case "kafka":
		return kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Events.NotificationsTopic, log), nil
	case "rabbitmq":
		return rabbitmq.NewConsumer(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.Queue, []string{cfg.Events.NotificationsTopic}, log)
	default:
		log.Info("no event broker configured, notifications disabled")
		return nil, nil
	}
}
