package config

import "time"

// LogConfig controls the global zerolog logger.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type ServerConfig struct {
	HTTPPort int `yaml:"http_port"`

	// RateLimit caps ingested events per session per second; 0 disables it.
	RateLimit int `yaml:"rate_limit"`
}

type KafkaConfig struct {
	Brokers       []string          `yaml:"brokers"`
	Topics        map[string]string `yaml:"topics"`
	ConsumerGroup string            `yaml:"consumer_group"`
}

// Topic returns the configured topic for name, or fallback when unset.
func (k KafkaConfig) Topic(name, fallback string) string {
	if t := k.Topics[name]; t != "" {
		return t
	}
	return fallback
}

type ClickHouseConfig struct {
	Addr         string `yaml:"addr"`
	Database     string `yaml:"database"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// StorageConfig selects the SQL database that holds fallback dispatch
// records and raised alerts.
type StorageConfig struct {
	Driver string `yaml:"driver"` // sqlite | postgres
	DSN    string `yaml:"dsn"`
}

type GeoIPConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// SessionConfig selects the session store backend.
type SessionConfig struct {
	Store          string        `yaml:"store"` // memory | redis
	TTL            time.Duration `yaml:"ttl"`
	ExportInterval time.Duration `yaml:"export_interval"`
}

type BatchConfig struct {
	Size          int           `yaml:"size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// AutomationConfig configures the outbound CRM automation sink.
type AutomationConfig struct {
	Sink       string        `yaml:"sink"` // http | kafka | log
	Endpoint   string        `yaml:"endpoint"`
	Token      string        `yaml:"token"`
	SigningKey string        `yaml:"signing_key"` // signs a per-request HS256 bearer instead of Token
	LocationID string        `yaml:"location_id"`
	Timeout    time.Duration `yaml:"timeout"`
}

// AnalyticsConfig configures the fire-and-forget analytics tracker.
type AnalyticsConfig struct {
	Sink string `yaml:"sink"` // clickhouse | kafka | none
}
