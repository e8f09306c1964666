package feed

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/rickgao/tickvault/internal/broker"
	"github.com/rickgao/tickvault/internal/model"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrStaleConnection  = errors.New("connection stale (no ping)")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrConnectionClosed = errors.New("connection closed")
	ErrServerDisconnect = errors.New("server sent disconnect")
	ErrAppendFailed     = errors.New("append to durable log failed")
	ErrAlreadyRunning   = errors.New("connection already run")
)

// Frame is one WebSocket message with its local receive time.
type Frame struct {
	Data       []byte
	Binary     bool
	ReceivedAt time.Time
}

// Sink receives decoded events. *broker.Broker implements it.
type Sink interface {
	Publish(ctx context.Context, ev model.Event) error
	Append(ctx context.Context, ev model.Event) (string, error)
	PublishStatus(ctx context.Context, s broker.Status) error
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string
	PingInterval     time.Duration // how often we ping the server
	PingTimeout      time.Duration // max time without ping/pong before the connection is stale
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	BufferSize       int // frame channel buffer
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval:     10 * time.Second,
		PingTimeout:      40 * time.Second,
		WriteTimeout:     5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		BufferSize:       4096,
	}
}

// Config configures a Connection.
type Config struct {
	ID             int    // connection index, used in logs and metrics
	Source         string // instance ID reported in status messages
	Client         ClientConfig
	ReconnectDelay time.Duration
	BatchDelay     time.Duration // pause between subscription messages
	StatusInterval time.Duration // 0 disables status publishing
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Client:         DefaultClientConfig(),
		ReconnectDelay: 5 * time.Second,
		BatchDelay:     100 * time.Millisecond,
		StatusInterval: 10 * time.Second,
	}
}

// BuildURL adds the feed's authentication parameters to base.
func BuildURL(base, clientID, accessToken string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("version", "2")
	q.Set("token", accessToken)
	q.Set("clientId", clientID)
	q.Set("authType", "2")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
