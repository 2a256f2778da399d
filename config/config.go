package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
)

// Backend names accepted by DATA_BACKEND and LOCATION_BACKEND
const (
	BackendPocketBase = "pocketbase"
	BackendMemory     = "memory"
	BackendSQLite     = "sqlite"
	BackendRedis      = "redis"
)

type Config struct {
	// PocketBase External Server
	PocketBaseURL   string // PocketBase server URL (e.g., http://192.168.100.100:8090)
	PocketBaseToken string // Optional identity token to resume a session at startup

	DataBackend  string // pocketbase or memory
	FixturesPath string // YAML fixtures for the memory backend

	LocationBackend string // pocketbase, sqlite, redis or memory
	SQLitePath      string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int

	// Device position source; empty broker means fixes are pushed over the HTTP API
	MQTTBroker   string
	MQTTDeviceID string
	MQTTUsername string
	MQTTPassword string

	ReportInterval    time.Duration
	ReportMinDistance float64
	SyncTimeout       time.Duration
	RequestTimeout    time.Duration
	PermissionTimeout time.Duration

	// Telegram Bot
	TelegramBotToken string
	DispatchChatID   int64

	HTTPAddr string
	LogLevel logrus.Level
}

// LoadConfig reads the env files (.env when none given, skipped when missing) and the process environment
func LoadConfig(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("⚠️ Could not read .env")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function
func FromEnv(getenv func(string) string) (*Config, error) {
	p := parser{getenv: getenv}

	cfg := &Config{
		PocketBaseURL:   strings.TrimRight(getenv("POCKETBASE_URL"), "/"),
		PocketBaseToken: getenv("POCKETBASE_TOKEN"),

		DataBackend:  p.str("DATA_BACKEND", BackendPocketBase),
		FixturesPath: getenv("FIXTURES_PATH"),

		LocationBackend: p.str("LOCATION_BACKEND", BackendPocketBase),
		SQLitePath:      p.str("SQLITE_PATH", "data/locations.db"),
		RedisAddr:       p.str("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   getenv("REDIS_PASSWORD"),
		RedisDB:         p.int("REDIS_DB", 0),

		MQTTBroker:   getenv("MQTT_BROKER"),
		MQTTDeviceID: getenv("MQTT_DEVICE_ID"),
		MQTTUsername: getenv("MQTT_USERNAME"),
		MQTTPassword: getenv("MQTT_PASSWORD"),

		ReportInterval:    p.duration("REPORT_INTERVAL", 5*time.Second),
		ReportMinDistance: p.float("REPORT_MIN_DISTANCE", 5),
		SyncTimeout:       p.duration("SYNC_TIMEOUT", 10*time.Second),
		RequestTimeout:    p.duration("REQUEST_TIMEOUT", 10*time.Second),
		PermissionTimeout: p.duration("PERMISSION_TIMEOUT", 30*time.Second),

		TelegramBotToken: getenv("TELEGRAM_BOT_TOKEN"),
		DispatchChatID:   p.int64("DISPATCH_CHAT_ID", 0),

		HTTPAddr: p.str("HTTP_ADDR", "127.0.0.1:8080"),
	}

	level, err := logrus.ParseLevel(p.str("LOG_LEVEL", "info"))
	if err != nil {
		p.errs = append(p.errs, fmt.Sprintf("LOG_LEVEL: %v", err))
	}
	cfg.LogLevel = level

	if len(p.errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(p.errs, "; "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field rules
func (c *Config) Validate() error {
	var errs []string

	switch c.DataBackend {
	case BackendPocketBase:
		// POCKETBASE_URL may be empty: login then reports a configuration error
	case BackendMemory:
		if c.FixturesPath == "" {
			errs = append(errs, "FIXTURES_PATH is required for the memory data backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("DATA_BACKEND %q is not one of pocketbase, memory", c.DataBackend))
	}

	switch c.LocationBackend {
	case BackendPocketBase, BackendMemory, BackendSQLite, BackendRedis:
	default:
		errs = append(errs, fmt.Sprintf("LOCATION_BACKEND %q is not one of pocketbase, sqlite, redis, memory", c.LocationBackend))
	}

	if c.MQTTBroker != "" && c.MQTTDeviceID == "" {
		errs = append(errs, "MQTT_DEVICE_ID is required when MQTT_BROKER is set")
	}
	if c.ReportInterval <= 0 {
		errs = append(errs, "REPORT_INTERVAL must be positive")
	}
	if c.ReportMinDistance < 0 {
		errs = append(errs, "REPORT_MIN_DISTANCE must not be negative")
	}
	for name, d := range map[string]time.Duration{
		"SYNC_TIMEOUT":       c.SyncTimeout,
		"REQUEST_TIMEOUT":    c.RequestTimeout,
		"PERMISSION_TIMEOUT": c.PermissionTimeout,
	} {
		if d <= 0 {
			errs = append(errs, name+" must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

type parser struct {
	getenv func(string) string
	errs   []string
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	if strings.Trim(v, "0123456789") == "" {
		// bare numbers are seconds
		v += "s"
	}
	d, err := cast.ToDurationE(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return d
}

func (p *parser) float(key string, def float64) float64 {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return f
}

func (p *parser) int(key string, def int) int {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	i, err := cast.ToIntE(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return i
}

func (p *parser) int64(key string, def int64) int64 {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	i, err := cast.ToInt64E(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return i
}
