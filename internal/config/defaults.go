package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultFeedURL                  = "wss://api-feed.dhan.co"
	DefaultConnections              = 1
	DefaultInstrumentsPerConnection = 5000
	DefaultPingInterval             = 10 * time.Second
	DefaultReadTimeout              = 40 * time.Second
	DefaultReconnectDelay           = 5 * time.Second
	DefaultBatchDelay               = 100 * time.Millisecond
	DefaultStatusInterval           = 10 * time.Second
	DefaultFeedBufferSize           = 4096

	DefaultRedisAddr        = "localhost:6379"
	DefaultRedisPoolSize    = 20
	DefaultRedisDialTimeout = 5 * time.Second

	DefaultKafkaBatchTimeout = 50 * time.Millisecond

	DefaultStreamName     = "ticks:quotes"
	DefaultStreamTopic    = "ticks"
	DefaultStreamMaxLen   = 1_000_000
	DefaultPublishTimeout = 500 * time.Millisecond
	DefaultAppendRetries  = 3
	DefaultAppendBackoff  = 200 * time.Millisecond

	DefaultConsumerGroup = "persisters"
	DefaultFlushSize     = 5000
	DefaultFlushInterval = 1 * time.Second
	DefaultBatchCount    = 500
	DefaultBlock         = 2 * time.Second
	DefaultClaimMinIdle  = 1 * time.Minute
	DefaultMaxReplay     = 1_000_000
	DefaultShutdownGrace = 30 * time.Second

	DefaultWorkers      = 4
	DefaultChunkTimeout = 30 * time.Second
	DefaultChunkRetries = 2
	DefaultFuturesTable = "futures_ticks"
	DefaultOptionsTable = "options_ticks"

	DefaultDBPort      = 5432
	DefaultDBSSLMode   = "prefer"
	DefaultMaxConns    = 10
	DefaultMinConns    = 2
	DefaultMetricsPort = 9090
	DefaultMetricsPath = "/metrics"
)

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	// Feed defaults
	if c.Feed.URL == "" {
		c.Feed.URL = DefaultFeedURL
	}
	if c.Feed.Connections == 0 {
		c.Feed.Connections = DefaultConnections
	}
	if c.Feed.InstrumentsPerConnection == 0 {
		c.Feed.InstrumentsPerConnection = DefaultInstrumentsPerConnection
	}
	if c.Feed.PingInterval == 0 {
		c.Feed.PingInterval = DefaultPingInterval
	}
	if c.Feed.ReadTimeout == 0 {
		c.Feed.ReadTimeout = DefaultReadTimeout
	}
	if c.Feed.ReconnectDelay == 0 {
		c.Feed.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Feed.BatchDelay == 0 {
		c.Feed.BatchDelay = DefaultBatchDelay
	}
	if c.Feed.StatusInterval == 0 {
		c.Feed.StatusInterval = DefaultStatusInterval
	}
	if c.Feed.BufferSize == 0 {
		c.Feed.BufferSize = DefaultFeedBufferSize
	}

	// Broker defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = DefaultRedisAddr
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = DefaultRedisPoolSize
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = DefaultRedisDialTimeout
	}
	if c.Kafka.BatchTimeout == 0 {
		c.Kafka.BatchTimeout = DefaultKafkaBatchTimeout
	}
	if c.Stream.Name == "" {
		c.Stream.Name = DefaultStreamName
	}
	if c.Stream.Topic == "" {
		c.Stream.Topic = DefaultStreamTopic
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = c.Stream.Topic
	}
	if c.Stream.MaxLen == 0 {
		c.Stream.MaxLen = DefaultStreamMaxLen
	}
	if c.Stream.PublishTimeout == 0 {
		c.Stream.PublishTimeout = DefaultPublishTimeout
	}
	if c.Stream.AppendRetries == 0 {
		c.Stream.AppendRetries = DefaultAppendRetries
	}
	if c.Stream.AppendBackoff == 0 {
		c.Stream.AppendBackoff = DefaultAppendBackoff
	}

	// Consumer defaults
	if c.Consumer.Group == "" {
		c.Consumer.Group = DefaultConsumerGroup
	}
	if c.Consumer.FlushSize == 0 {
		c.Consumer.FlushSize = DefaultFlushSize
	}
	if c.Consumer.FlushInterval == 0 {
		c.Consumer.FlushInterval = DefaultFlushInterval
	}
	if c.Consumer.BatchCount == 0 {
		c.Consumer.BatchCount = DefaultBatchCount
	}
	if c.Consumer.Block == 0 {
		c.Consumer.Block = DefaultBlock
	}
	if c.Consumer.ClaimMinIdle == 0 {
		c.Consumer.ClaimMinIdle = DefaultClaimMinIdle
	}
	if c.Consumer.MaxReplay == 0 {
		c.Consumer.MaxReplay = DefaultMaxReplay
	}
	if c.Consumer.ShutdownGrace == 0 {
		c.Consumer.ShutdownGrace = DefaultShutdownGrace
	}

	// Writer defaults
	if c.Writer.Workers == 0 {
		c.Writer.Workers = DefaultWorkers
	}
	if c.Writer.ChunkTimeout == 0 {
		c.Writer.ChunkTimeout = DefaultChunkTimeout
	}
	if c.Writer.ChunkRetries == 0 {
		c.Writer.ChunkRetries = DefaultChunkRetries
	}
	if c.Writer.FuturesTable == "" {
		c.Writer.FuturesTable = DefaultFuturesTable
	}
	if c.Writer.OptionsTable == "" {
		c.Writer.OptionsTable = DefaultOptionsTable
	}

	applyDBDefaults(&c.Database)

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
