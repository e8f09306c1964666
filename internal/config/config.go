package config

import (
	"time"

	"github.com/rickgao/tickvault/internal/logging"
)

// Config is the root configuration for a feeder or persister instance.
type Config struct {
	Instance    InstanceConfig `yaml:"instance"`
	Log         logging.Config `yaml:"log"`
	Feed        FeedConfig     `yaml:"feed"`
	Redis       RedisConfig    `yaml:"redis"`
	Kafka       KafkaConfig    `yaml:"kafka"`
	Stream      StreamConfig   `yaml:"stream"`
	Consumer    ConsumerConfig `yaml:"consumer"`
	Writer      WriterConfig   `yaml:"writer"`
	Database    DBConfig       `yaml:"database"`
	Metrics     MetricsConfig  `yaml:"metrics"`
	CatalogPath string         `yaml:"catalog_path"`
}

// InstanceConfig identifies this process in logs and status messages.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// FeedConfig holds market feed WebSocket settings.
type FeedConfig struct {
	URL                      string        `yaml:"url"`
	ClientID                 string        `yaml:"client_id"`
	AccessToken              string        `yaml:"access_token"`
	Connections              int           `yaml:"connections"`
	InstrumentsPerConnection int           `yaml:"instruments_per_connection"`
	PingInterval             time.Duration `yaml:"ping_interval"`
	ReadTimeout              time.Duration `yaml:"read_timeout"`
	ReconnectDelay           time.Duration `yaml:"reconnect_delay"`
	BatchDelay               time.Duration `yaml:"batch_delay"`
	StatusInterval           time.Duration `yaml:"status_interval"`
	BufferSize               int           `yaml:"buffer_size"`
}

// RedisConfig holds the broker connection.
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	PoolSize    int           `yaml:"pool_size"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// KafkaConfig enables an optional mirror of the live event topic.
type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

// StreamConfig names the live topic and the durable log and bounds their use.
type StreamConfig struct {
	Name           string        `yaml:"name"`  // durable log (Redis stream key)
	Topic          string        `yaml:"topic"` // live pub/sub channel
	MaxLen         int64         `yaml:"max_len"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	AppendRetries  int           `yaml:"append_retries"`
	AppendBackoff  time.Duration `yaml:"append_backoff"`
}

// ConsumerConfig holds durable consumer settings.
type ConsumerConfig struct {
	Group         string        `yaml:"group"`
	Name          string        `yaml:"name"` // empty generates persister-<uuid>
	FlushSize     int           `yaml:"flush_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BatchCount    int64         `yaml:"batch_count"`
	Block         time.Duration `yaml:"block"`
	ClaimMinIdle  time.Duration `yaml:"claim_min_idle"`
	MaxReplay     int           `yaml:"max_replay"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// WriterConfig holds batch writer settings.
type WriterConfig struct {
	Workers      int           `yaml:"workers"`
	ChunkTimeout time.Duration `yaml:"chunk_timeout"`
	ChunkRetries int           `yaml:"chunk_retries"`
	FuturesTable string        `yaml:"futures_table"`
	OptionsTable string        `yaml:"options_table"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig holds the metrics/health HTTP listener.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// Role selects which sections Validate requires.
type Role int

const (
	RoleFeeder Role = iota
	RolePersister
)

func (r Role) String() string {
	if r == RolePersister {
		return "persister"
	}
	return "feeder"
}
