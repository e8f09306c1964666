package config

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/rickgao/tickvault/internal/logging"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Validate checks the shared sections and the sections role needs.
func (c *Config) Validate(role Role) error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	if c.Redis.Addr == "" {
		return errors.New("redis.addr is required")
	}
	if c.Stream.Name == "" {
		return errors.New("stream.name is required")
	}
	if c.Stream.MaxLen < 1 {
		return errors.New("stream.max_len must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	switch role {
	case RoleFeeder:
		return c.validateFeeder()
	case RolePersister:
		return c.validatePersister()
	}
	return fmt.Errorf("unknown role %d", role)
}

func (c *Config) validateFeeder() error {
	if c.Feed.URL == "" {
		return errors.New("feed.url is required")
	}
	if c.Feed.ClientID == "" {
		return errors.New("feed.client_id is required")
	}
	if c.Feed.AccessToken == "" {
		return errors.New("feed.access_token is required")
	}
	if c.Feed.Connections < 1 {
		return errors.New("feed.connections must be >= 1")
	}
	if c.Feed.InstrumentsPerConnection < 1 {
		return errors.New("feed.instruments_per_connection must be >= 1")
	}
	if c.Feed.BufferSize < 1 {
		return errors.New("feed.buffer_size must be >= 1")
	}
	if c.Stream.Topic == "" {
		return errors.New("stream.topic is required")
	}
	if c.Stream.AppendRetries < 0 {
		return errors.New("stream.append_retries must be >= 0")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required when kafka is enabled")
	}
	if c.CatalogPath == "" {
		return errors.New("catalog_path is required")
	}
	return nil
}

func (c *Config) validatePersister() error {
	if c.Consumer.Group == "" {
		return errors.New("consumer.group is required")
	}
	if c.Consumer.FlushSize < 1 {
		return errors.New("consumer.flush_size must be >= 1")
	}
	if c.Consumer.FlushInterval <= 0 {
		return errors.New("consumer.flush_interval must be > 0")
	}
	if c.Consumer.BatchCount < 1 {
		return errors.New("consumer.batch_count must be >= 1")
	}
	if c.Consumer.MaxReplay < 0 {
		return errors.New("consumer.max_replay must be >= 0")
	}

	if c.Writer.Workers < 1 {
		return errors.New("writer.workers must be >= 1")
	}
	if c.Writer.ChunkRetries < 0 {
		return errors.New("writer.chunk_retries must be >= 0")
	}
	if !identRe.MatchString(c.Writer.FuturesTable) {
		return fmt.Errorf("writer.futures_table %q is not a valid table name", c.Writer.FuturesTable)
	}
	if !identRe.MatchString(c.Writer.OptionsTable) {
		return fmt.Errorf("writer.options_table %q is not a valid table name", c.Writer.OptionsTable)
	}
	if c.Writer.FuturesTable == c.Writer.OptionsTable {
		return errors.New("writer.futures_table and writer.options_table must differ")
	}

	return c.Database.validate("database")
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
