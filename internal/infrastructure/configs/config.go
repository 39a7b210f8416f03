package configs

import (
	"errors"
	"fmt"
	"time"

	"github.com/hilthontt/roomrelay/internal/infrastructure/env"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	HTTP        HTTPConfig        `koanf:"http"`
	Relay       RelayConfig       `koanf:"relay"`
	RateLimiter RateLimiterConfig `koanf:"rateLimiter"`
	Logger      LoggerConfig      `koanf:"logger"`
	Tracing     TracingConfig     `koanf:"tracing"`
	Events      EventsConfig      `koanf:"events"`
}

type HTTPConfig struct {
	Host            string        `koanf:"host"`
	Port            uint16        `koanf:"port"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type RelayConfig struct {
	MaxFrameSize      int           `koanf:"max_frame_size"`
	MaxRooms          int           `koanf:"max_rooms"`
	MaxMembersPerRoom int           `koanf:"max_members_per_room"`
	MaxRoomIDLength   int           `koanf:"max_room_id_length"`
	MaxNameLength     int           `koanf:"max_name_length"`
	MaxMessageLength  int           `koanf:"max_message_length"`
	MaxFileSize       int           `koanf:"max_file_size"`
	MaxBufferedBytes  int           `koanf:"max_buffered_bytes"`
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	EventQueueSize    int           `koanf:"event_queue_size"`
}

type RateLimiterConfig struct {
	Messages          int           `koanf:"messages"`
	Window            time.Duration `koanf:"window"`
	UpgradesPerWindow int           `koanf:"upgradesPerWindow"`
	UpgradeWindow     time.Duration `koanf:"upgradeWindow"`
	SourceHeaderKey   string        `koanf:"sourceHeaderKey"`
}

type LoggerConfig struct {
	Logger   string `koanf:"logger"`
	Level    string `koanf:"level"`
	Encoding string `koanf:"encoding"`
	FilePath string `koanf:"file_path"`
}

type TracingConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Exporter    string `koanf:"exporter"`
	Endpoint    string `koanf:"endpoint"`
	Environment string `koanf:"environment"`
}

type EventsConfig struct {
	RabbitMQURI string `koanf:"rabbitmq_uri"`
	Exchange    string `koanf:"exchange"`
	QueueSize   int    `koanf:"queue_size"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	applyDefaults(k)
	applyEnvOverrides(k)

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	positive := map[string]int{
		"relay.max_frame_size":          c.Relay.MaxFrameSize,
		"relay.max_rooms":               c.Relay.MaxRooms,
		"relay.max_members_per_room":    c.Relay.MaxMembersPerRoom,
		"relay.max_room_id_length":      c.Relay.MaxRoomIDLength,
		"relay.max_name_length":         c.Relay.MaxNameLength,
		"relay.max_message_length":      c.Relay.MaxMessageLength,
		"relay.max_file_size":           c.Relay.MaxFileSize,
		"relay.max_buffered_bytes":      c.Relay.MaxBufferedBytes,
		"relay.event_queue_size":        c.Relay.EventQueueSize,
		"rateLimiter.messages":          c.RateLimiter.Messages,
		"rateLimiter.upgradesPerWindow": c.RateLimiter.UpgradesPerWindow,
		"events.queue_size":             c.Events.QueueSize,
	}
	for key, val := range positive {
		if val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", key, val))
		}
	}

	durations := map[string]time.Duration{
		"relay.heartbeat_interval":  c.Relay.HeartbeatInterval,
		"rateLimiter.window":        c.RateLimiter.Window,
		"rateLimiter.upgradeWindow": c.RateLimiter.UpgradeWindow,
	}
	for key, val := range durations {
		if val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", key, val))
		}
	}

	switch c.Logger.Logger {
	case "zap", "zerolog":
	default:
		errs = append(errs, fmt.Errorf("logger.logger %q not supported: supported loggers: [zap, zerolog]", c.Logger.Logger))
	}

	switch c.Tracing.Exporter {
	case "otlp", "jaeger":
	default:
		errs = append(errs, fmt.Errorf("tracing.exporter %q not supported: supported exporters: [otlp, jaeger]", c.Tracing.Exporter))
	}

	return errors.Join(errs...)
}

func applyDefaults(k *koanf.Koanf) {
	// HTTP defaults
	setDefault(k, "http.host", "0.0.0.0")
	setDefault(k, "http.port", 8080)
	setDefault(k, "http.read_timeout", 10*time.Second)
	setDefault(k, "http.write_timeout", 30*time.Second)
	setDefault(k, "http.shutdown_timeout", 5*time.Second)
	setDefault(k, "http.allowed_origins", []string{"*"})

	// Relay defaults
	setDefault(k, "relay.max_frame_size", 4_000_000)
	setDefault(k, "relay.max_rooms", 1000)
	setDefault(k, "relay.max_members_per_room", 50)
	setDefault(k, "relay.max_room_id_length", 50)
	setDefault(k, "relay.max_name_length", 20)
	setDefault(k, "relay.max_message_length", 10_000)
	setDefault(k, "relay.max_file_size", 2*1024*1024)
	setDefault(k, "relay.max_buffered_bytes", 8*1024*1024)
	setDefault(k, "relay.heartbeat_interval", 30*time.Second)
	setDefault(k, "relay.event_queue_size", 1024)

	// Rate limiter defaults
	setDefault(k, "rateLimiter.messages", 5)
	setDefault(k, "rateLimiter.window", time.Second)
	setDefault(k, "rateLimiter.upgradesPerWindow", 30)
	setDefault(k, "rateLimiter.upgradeWindow", time.Minute)
	setDefault(k, "rateLimiter.sourceHeaderKey", "X-Forwarded-For")

	// Logger defaults
	setDefault(k, "logger.logger", "zap")
	setDefault(k, "logger.level", "info")
	setDefault(k, "logger.encoding", "json")
	setDefault(k, "logger.file_path", "")

	// Tracing defaults
	setDefault(k, "tracing.enabled", false)
	setDefault(k, "tracing.exporter", "otlp")
	setDefault(k, "tracing.endpoint", "http://localhost:4318/v1/traces")
	setDefault(k, "tracing.environment", "development")

	// Events defaults
	setDefault(k, "events.rabbitmq_uri", "")
	setDefault(k, "events.exchange", "roomrelay")
	setDefault(k, "events.queue_size", 256)
}

func applyEnvOverrides(k *koanf.Koanf) {
	// HTTP config from env
	if host := env.GetString("HTTP_HOST", ""); host != "" {
		k.Set("http.host", host)
	}
	if port := env.GetInt("HTTP_PORT", 0); port > 0 {
		k.Set("http.port", port)
	}
	// PORT is what most hosting platforms hand the process, so it wins.
	if port := env.GetInt("PORT", 0); port > 0 {
		k.Set("http.port", port)
	}
	if readTimeout := env.GetInt("HTTP_READ_TIMEOUT_SECONDS", 0); readTimeout > 0 {
		k.Set("http.read_timeout", time.Duration(readTimeout)*time.Second)
	}
	if writeTimeout := env.GetInt("HTTP_WRITE_TIMEOUT_SECONDS", 0); writeTimeout > 0 {
		k.Set("http.write_timeout", time.Duration(writeTimeout)*time.Second)
	}
	if origins := env.GetList("ALLOWED_ORIGINS", nil); len(origins) > 0 {
		k.Set("http.allowed_origins", origins)
	}

	// Relay config from env
	if frame := env.GetInt("RELAY_MAX_FRAME_SIZE", 0); frame > 0 {
		k.Set("relay.max_frame_size", frame)
	}
	if rooms := env.GetInt("RELAY_MAX_ROOMS", 0); rooms > 0 {
		k.Set("relay.max_rooms", rooms)
	}
	if members := env.GetInt("RELAY_MAX_MEMBERS_PER_ROOM", 0); members > 0 {
		k.Set("relay.max_members_per_room", members)
	}
	if buffered := env.GetInt("RELAY_MAX_BUFFERED_BYTES", 0); buffered > 0 {
		k.Set("relay.max_buffered_bytes", buffered)
	}
	if interval := env.GetInt("RELAY_HEARTBEAT_INTERVAL_SECONDS", 0); interval > 0 {
		k.Set("relay.heartbeat_interval", time.Duration(interval)*time.Second)
	}

	// Rate limiter config from env
	if messages := env.GetInt("RATE_LIMIT_MESSAGES", 0); messages > 0 {
		k.Set("rateLimiter.messages", messages)
	}
	if window := env.GetInt("RATE_LIMIT_WINDOW_MS", 0); window > 0 {
		k.Set("rateLimiter.window", time.Duration(window)*time.Millisecond)
	}
	if upgrades := env.GetInt("RATE_LIMIT_UPGRADES", 0); upgrades > 0 {
		k.Set("rateLimiter.upgradesPerWindow", upgrades)
	}
	if sourceKey := env.GetString("RATE_LIMIT_SOURCE_HEADER_KEY", ""); sourceKey != "" {
		k.Set("rateLimiter.sourceHeaderKey", sourceKey)
	}

	// Logger config from env
	if logger := env.GetString("LOGGER_LOGGER", ""); logger != "" {
		k.Set("logger.logger", logger)
	}
	if level := env.GetString("LOGGER_LEVEL", ""); level != "" {
		k.Set("logger.level", level)
	}
	if encoding := env.GetString("LOGGER_ENCODING", ""); encoding != "" {
		k.Set("logger.encoding", encoding)
	}
	if filePath := env.GetString("LOGGER_FILE_PATH", ""); filePath != "" {
		k.Set("logger.file_path", filePath)
	}

	// Tracing config from env
	if enabled := env.GetString("TRACING_ENABLED", ""); enabled != "" {
		k.Set("tracing.enabled", env.GetBool("TRACING_ENABLED", false))
	}
	if exporter := env.GetString("TRACING_EXPORTER", ""); exporter != "" {
		k.Set("tracing.exporter", exporter)
	}
	if endpoint := env.GetString("TRACING_ENDPOINT", ""); endpoint != "" {
		k.Set("tracing.endpoint", endpoint)
	}
	if environment := env.GetString("ENVIRONMENT", ""); environment != "" {
		k.Set("tracing.environment", environment)
	}

	// Events config from env
	if uri := env.GetString("RABBITMQ_URI", ""); uri != "" {
		k.Set("events.rabbitmq_uri", uri)
	}
	if exchange := env.GetString("EVENTS_EXCHANGE", ""); exchange != "" {
		k.Set("events.exchange", exchange)
	}
}

// setDefault only sets the value if the key doesn't already exist
func setDefault(k *koanf.Koanf, key string, value interface{}) {
	if !k.Exists(key) {
		k.Set(key, value)
	}
}
