package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides, e.g. DARSHAN_DATABASE_HOST.
const EnvPrefix = "DARSHAN"

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	GRPC     GRPCConfig     `yaml:"grpc"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Events   EventsConfig   `yaml:"events"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Auth     AuthConfig     `yaml:"auth"`
	Payment  PaymentConfig  `yaml:"payment"`
	Ticket   TicketConfig   `yaml:"ticket"`
	Booking  BookingConfig  `yaml:"booking"`
	Worker   WorkerConfig   `yaml:"worker"`
	Log      LogConfig      `yaml:"log"`
}

type HTTPConfig struct {
	Address    string `yaml:"address"`
	SwaggerDir string `yaml:"swagger_dir" split_words:"true"`
}

type GRPCConfig struct {
	Address string `yaml:"address"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "memory". The memory store is for local runs only.
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode" split_words:"true"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// URL renders the connection string in the form golang-migrate expects.
func (d DatabaseConfig) URL(scheme string) string {
	return fmt.Sprintf("%s://%s:%s@%s:%d/%s?sslmode=%s", scheme, d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// EventsConfig names the booking event streams. Kafka uses them as topics,
// RabbitMQ as routing keys.
type EventsConfig struct {
	// Broker selects the event transport: "kafka", "rabbitmq" or "none".
	Broker             string `yaml:"broker"`
	BookingTopic       string `yaml:"booking_topic" split_words:"true"`
	NotificationsTopic string `yaml:"notifications_topic" split_words:"true"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id" split_words:"true"`
}

type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
	Queue    string `yaml:"queue"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" split_words:"true"`
}

type PaymentConfig struct {
	KeyID         string `yaml:"key_id" split_words:"true"`
	KeySecret     string `yaml:"key_secret" split_words:"true"`
	Currency      string `yaml:"currency"`
	MaxRetries    uint64 `yaml:"max_retries" split_words:"true"`
	RetryInitial  int    `yaml:"retry_initial_ms" split_words:"true"`
	VerifyLockTTL int    `yaml:"verify_lock_seconds" split_words:"true"`
}

type TicketConfig struct {
	Secret string `yaml:"secret"`
	QRSize int    `yaml:"qr_size" split_words:"true"`
}

type SlotConfig struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

type PricingConfig struct {
	Adult             float64 `yaml:"adult"`
	Child             float64 `yaml:"child"`
	Senior            float64 `yaml:"senior"`
	ServiceFeePercent float64 `yaml:"service_fee_percent"`
}

// TempleConfig overrides the defaults for a single temple. Zero values fall back.
type TempleConfig struct {
	Capacity int           `yaml:"capacity"`
	Slots    []SlotConfig  `yaml:"slots"`
	Pricing  PricingConfig `yaml:"pricing"`
}

type BookingConfig struct {
	Timezone               string                  `yaml:"timezone"`
	SlotCapacity           int                     `yaml:"slot_capacity" split_words:"true"`
	PendingTTLMinutes      int                     `yaml:"pending_ttl_minutes" split_words:"true"`
	SlotsCacheTTLSeconds   int                     `yaml:"slots_cache_ttl_seconds" split_words:"true"`
	Slots                  []SlotConfig            `yaml:"slots" ignored:"true"`
	Pricing                PricingConfig           `yaml:"pricing" ignored:"true"`
	Temples                map[string]TempleConfig `yaml:"temples" ignored:"true"`
}

type WorkerConfig struct {
	ExpirationSweepMinutes int `yaml:"expiration_sweep_minutes" split_words:"true"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig reads the YAML file at path, applies a .env file if present and
// then environment overrides, fills defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Events.Broker == "" {
		c.Events.Broker = "kafka"
	}
	if c.Events.BookingTopic == "" {
		c.Events.BookingTopic = "booking.events"
	}
	if c.Events.NotificationsTopic == "" {
		c.Events.NotificationsTopic = "booking.notifications"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "darshan-worker"
	}
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "darshan.bookings"
	}
	if c.RabbitMQ.Queue == "" {
		c.RabbitMQ.Queue = "darshan.notifications"
	}
	if c.Payment.Currency == "" {
		c.Payment.Currency = "INR"
	}
	if c.Payment.MaxRetries == 0 {
		c.Payment.MaxRetries = 3
	}
	if c.Payment.RetryInitial == 0 {
		c.Payment.RetryInitial = 200
	}
	if c.Payment.VerifyLockTTL == 0 {
		c.Payment.VerifyLockTTL = 30
	}
	if c.Ticket.QRSize == 0 {
		c.Ticket.QRSize = 256
	}
	if c.Booking.Timezone == "" {
		c.Booking.Timezone = "Asia/Kolkata"
	}
	if c.Booking.SlotCapacity == 0 {
		c.Booking.SlotCapacity = 50
	}
	if c.Booking.PendingTTLMinutes == 0 {
		c.Booking.PendingTTLMinutes = 30
	}
	if c.Booking.SlotsCacheTTLSeconds == 0 {
		c.Booking.SlotsCacheTTLSeconds = 15
	}
	if len(c.Booking.Slots) == 0 {
		c.Booking.Slots = DefaultSlots()
	}
	if c.Worker.ExpirationSweepMinutes == 0 {
		c.Worker.ExpirationSweepMinutes = 5
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate reports missing secrets and malformed settings.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("config: auth.jwt_secret is required")
	}
	if c.Payment.KeySecret == "" {
		return errors.New("config: payment.key_secret is required")
	}
	if c.Ticket.Secret == "" {
		return errors.New("config: ticket.secret is required")
	}
	if _, err := time.LoadLocation(c.Booking.Timezone); err != nil {
		return fmt.Errorf("config: booking.timezone: %w", err)
	}
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("config: unknown database.driver %q", c.Database.Driver)
	}
	switch c.Events.Broker {
	case "kafka", "rabbitmq", "none":
	default:
		return fmt.Errorf("config: unknown events.broker %q", c.Events.Broker)
	}
	return nil
}

// DefaultSlots is the slot catalog used when neither the booking section nor
// a temple override lists one.
func DefaultSlots() []SlotConfig {
	return []SlotConfig{
		{Start: "06:00", End: "08:00"},
		{Start: "08:00", End: "10:00"},
		{Start: "10:00", End: "12:00"},
		{Start: "12:00", End: "14:00"},
		{Start: "14:00", End: "16:00"},
		{Start: "16:00", End: "18:00"},
		{Start: "18:00", End: "20:00"},
	}
}
