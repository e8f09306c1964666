package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: feeder-a
log:
  level: debug
feed:
  url: wss://feed.example.com
  client_id: "1000123"
  access_token: tok
  connections: 3
  reconnect_delay: 2s
redis:
  addr: redis:6379
kafka:
  enabled: true
  brokers: [k1:9092, k2:9092]
stream:
  name: quotes
  max_len: 5000
catalog_path: catalog.yaml
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "feeder-a" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "feeder-a")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Feed.Connections != 3 {
		t.Errorf("Feed.Connections = %d, want 3", cfg.Feed.Connections)
	}
	if cfg.Feed.ReconnectDelay != 2*time.Second {
		t.Errorf("Feed.ReconnectDelay = %v, want 2s", cfg.Feed.ReconnectDelay)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("Kafka.Brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Stream.MaxLen != 5000 {
		t.Errorf("Stream.MaxLen = %d, want 5000", cfg.Stream.MaxLen)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_FEED_TOKEN", "secret123")

	yaml := `
instance:
  id: feeder-a
feed:
  access_token: ${TEST_FEED_TOKEN}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Feed.AccessToken != "secret123" {
		t.Errorf("Feed.AccessToken = %q, want %q", cfg.Feed.AccessToken, "secret123")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("TICKVAULT_TEST_DB_PASSWORD=fromdotenv\n"), 0644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("database:\n  password: ${TICKVAULT_TEST_DB_PASSWORD}\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("TICKVAULT_TEST_DB_PASSWORD") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.Password != "fromdotenv" {
		t.Errorf("Database.Password = %q, want %q", cfg.Database.Password, "fromdotenv")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	path := writeTempFile(t, "instance:\n  id: p1\n")

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Feed.URL != DefaultFeedURL {
		t.Errorf("Feed.URL = %q, want default %q", cfg.Feed.URL, DefaultFeedURL)
	}
	if cfg.Feed.ReconnectDelay != DefaultReconnectDelay {
		t.Errorf("Feed.ReconnectDelay = %v, want default %v", cfg.Feed.ReconnectDelay, DefaultReconnectDelay)
	}
	if cfg.Stream.Name != DefaultStreamName {
		t.Errorf("Stream.Name = %q, want default %q", cfg.Stream.Name, DefaultStreamName)
	}
	if cfg.Kafka.Topic != DefaultStreamTopic {
		t.Errorf("Kafka.Topic = %q, want stream topic %q", cfg.Kafka.Topic, DefaultStreamTopic)
	}
	if cfg.Consumer.FlushSize != DefaultFlushSize {
		t.Errorf("Consumer.FlushSize = %d, want default %d", cfg.Consumer.FlushSize, DefaultFlushSize)
	}
	if cfg.Consumer.Name != "" {
		t.Errorf("Consumer.Name = %q, want empty", cfg.Consumer.Name)
	}
	if cfg.Writer.Workers != DefaultWorkers {
		t.Errorf("Writer.Workers = %d, want default %d", cfg.Writer.Workers, DefaultWorkers)
	}
	if cfg.Database.Port != DefaultDBPort {
		t.Errorf("Database.Port = %d, want default %d", cfg.Database.Port, DefaultDBPort)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want default %d", cfg.Metrics.Port, DefaultMetricsPort)
	}
}

func validFeeder() Config {
	cfg := Config{
		Instance:    InstanceConfig{ID: "feeder-a"},
		Feed:        FeedConfig{ClientID: "1", AccessToken: "tok"},
		CatalogPath: "catalog.yaml",
	}
	cfg.applyDefaults()
	return cfg
}

func validPersister() Config {
	cfg := Config{
		Instance: InstanceConfig{ID: "persister-a"},
		Database: DBConfig{Host: "localhost", Name: "ticks", User: "u", Password: "p"},
	}
	cfg.applyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		role    Role
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid feeder",
			role:    RoleFeeder,
			mutate:  func(*Config) {},
			wantErr: "",
		},
		{
			name:    "valid persister",
			role:    RolePersister,
			mutate:  func(*Config) {},
			wantErr: "",
		},
		{
			name:    "missing instance id",
			role:    RoleFeeder,
			mutate:  func(c *Config) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "bad log level",
			role:    RoleFeeder,
			mutate:  func(c *Config) { c.Log.Level = "chatty" },
			wantErr: `log.level: unknown log level "chatty"`,
		},
		{
			name:    "missing access token",
			role:    RoleFeeder,
			mutate:  func(c *Config) { c.Feed.AccessToken = "" },
			wantErr: "feed.access_token is required",
		},
		{
			name:    "kafka without brokers",
			role:    RoleFeeder,
			mutate:  func(c *Config) { c.Kafka.Enabled = true },
			wantErr: "kafka.brokers is required when kafka is enabled",
		},
		{
			name:    "missing catalog",
			role:    RoleFeeder,
			mutate:  func(c *Config) { c.CatalogPath = "" },
			wantErr: "catalog_path is required",
		},
		{
			name:    "bad metrics port",
			role:    RoleFeeder,
			mutate:  func(c *Config) { c.Metrics.Port = 70000 },
			wantErr: "metrics.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "same tables",
			role:    RolePersister,
			mutate:  func(c *Config) { c.Writer.OptionsTable = c.Writer.FuturesTable },
			wantErr: "writer.futures_table and writer.options_table must differ",
		},
		{
			name:    "invalid table name",
			role:    RolePersister,
			mutate:  func(c *Config) { c.Writer.FuturesTable = "ticks; drop table x" },
			wantErr: `writer.futures_table "ticks; drop table x" is not a valid table name`,
		},
		{
			name:    "missing database password",
			role:    RolePersister,
			mutate:  func(c *Config) { c.Database.Password = "" },
			wantErr: "database.password is required",
		},
		{
			name: "min_conns exceeds max_conns",
			role: RolePersister,
			mutate: func(c *Config) {
				c.Database.MaxConns = 5
				c.Database.MinConns = 10
			},
			wantErr: "database.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name:    "persister ignores feed section",
			role:    RolePersister,
			mutate:  func(c *Config) { c.Feed.AccessToken = "" },
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			if tt.role == RoleFeeder {
				cfg = validFeeder()
			} else {
				cfg = validPersister()
			}
			tt.mutate(&cfg)

			err := cfg.Validate(tt.role)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := writeTempFile(t, "instance:\n  id: p1\n")

	if _, err := LoadAndValidate(path, RolePersister); err == nil {
		t.Error("LoadAndValidate() expected error for missing database section")
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestExampleConfigs(t *testing.T) {
	t.Setenv("FEED_CLIENT_ID", "1000123")
	t.Setenv("FEED_ACCESS_TOKEN", "token")
	t.Setenv("REDIS_PASSWORD", "")
	t.Setenv("DB_PASSWORD", "secret")

	tests := []struct {
		file string
		role Role
	}{
		{file: "feeder.example.yaml", role: RoleFeeder},
		{file: "persister.example.yaml", role: RolePersister},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			cfg, err := LoadAndValidate(filepath.Join("..", "..", "configs", tt.file), tt.role)
			if err != nil {
				t.Fatalf("LoadAndValidate failed: %v", err)
			}
			if cfg.Stream.Name != "ticks:quotes" {
				t.Errorf("Stream.Name = %q, want ticks:quotes", cfg.Stream.Name)
			}
		})
	}
}
