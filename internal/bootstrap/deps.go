package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/templeseva/darshan/config"
	"github.com/templeseva/darshan/internal/cache"
	"github.com/templeseva/darshan/internal/kafka"
	"github.com/templeseva/darshan/internal/payment"
	"github.com/templeseva/darshan/internal/rabbitmq"
	"github.com/templeseva/darshan/internal/repository"
	"github.com/templeseva/darshan/internal/service/booking"
	"github.com/templeseva/darshan/internal/service/settlement"
	"github.com/templeseva/darshan/internal/service/slots"
	"github.com/templeseva/darshan/internal/ticket"
)

// Deps holds everything both binaries build from configuration.
type Deps struct {
	Services Services
	Booking  *booking.BookingService

	closers []func() error
	log     logrus.FieldLogger
}

// Close releases connections in reverse order of creation.
func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.log.WithField("error", err).Warn("close dependency")
		}
	}
}

func Build(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*Deps, error) {
	d := &Deps{log: log}
	probes := map[string]Probe{}

	var repo repository.BookingRepository
	switch cfg.Database.Driver {
	case "memory":
		log.Warn("using in-memory booking store")
		repo = repository.NewMemoryBookingRepository()
	default:
		pool, err := pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		d.closers = append(d.closers, func() error { pool.Close(); return nil })
		probes["postgres"] = pool.Ping
		repo = repository.NewBookingRepository(pool)
	}

	catalog, err := slots.NewCatalog(cfg.Booking)
	if err != nil {
		d.Close()
		return nil, err
	}

	slotOpts := []slots.SlotServiceOption{slots.WithLogger(log)}
	bookingOpts := []booking.BookingServiceOption{
		booking.WithLogger(log),
		booking.WithPendingTTL(time.Duration(cfg.Booking.PendingTTLMinutes) * time.Minute),
	}
	settlementOpts := []settlement.Option{settlement.WithLogger(log)}

	if cfg.Redis.Addr != "" {
		redisCache := cache.NewRedisCache(cfg.Redis, time.Duration(cfg.Booking.SlotsCacheTTLSeconds)*time.Second)
		d.closers = append(d.closers, redisCache.Close)
		probes["redis"] = redisCache.Ping
		slotOpts = append(slotOpts, slots.WithCache(redisCache))
		bookingOpts = append(bookingOpts, booking.WithCache(redisCache))
		settlementOpts = append(settlementOpts, settlement.WithGuard(redisCache, time.Duration(cfg.Payment.VerifyLockTTL)*time.Second))
	} else {
		settlementOpts = append(settlementOpts, settlement.WithGuard(cache.NewLocalLocker(), time.Duration(cfg.Payment.VerifyLockTTL)*time.Second))
	}

	switch cfg.Events.Broker {
	case "kafka":
		producer := kafka.NewProducer(cfg.Kafka.Brokers, log)
		d.closers = append(d.closers, producer.Close)
		probes["kafka"] = producer.CheckConnection
		bookingOpts = append(bookingOpts,
			booking.WithProducer(producer, cfg.Events.BookingTopic),
			booking.WithNotificationsTopic(cfg.Events.NotificationsTopic),
		)
	case "rabbitmq":
		publisher, err := rabbitmq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, log)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.closers = append(d.closers, publisher.Close)
		bookingOpts = append(bookingOpts,
			booking.WithProducer(publisher, cfg.Events.BookingTopic),
			booking.WithNotificationsTopic(cfg.Events.NotificationsTopic),
		)
	default:
		log.Info("booking events disabled")
	}

	gateway := payment.NewGateway(
		payment.NewRazorpayProcessor(cfg.Payment.KeyID, cfg.Payment.KeySecret),
		cfg.Payment.KeySecret,
		cfg.Payment.Currency,
		payment.WithRetry(cfg.Payment.MaxRetries, time.Duration(cfg.Payment.RetryInitial)*time.Millisecond),
		payment.WithLogger(log),
	)
	issuer := ticket.NewIssuer(cfg.Ticket.Secret, cfg.Ticket.QRSize)

	bookingService := booking.NewBookingService(repo, catalog, issuer, gateway, bookingOpts...)
	d.Booking = bookingService
	d.Services = Services{
		Slots:      slots.NewSlotService(repo, catalog, slotOpts...),
		Bookings:   bookingService,
		Settlement: settlement.NewService(gateway, bookingService, settlementOpts...),
		Probes:     probes,
	}
	return d, nil
}
