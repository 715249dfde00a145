// Package broker owns the lazily created, shared connection to the job broker.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/intake/pkg/logging"
)

// Conn is an open broker connection.
type Conn interface {
	// Client returns the Redis client used for queue operations.
	Client() redis.UniversalClient
	// Quit asks the server to close the connection gracefully.
	Quit(ctx context.Context) error
	// Disconnect drops the connection without a handshake.
	Disconnect() error
}

// Factory opens a new connection.
type Factory func(ctx context.Context) (Conn, error)

// Manager holds at most one live connection per process.
type Manager struct {
	mu      sync.Mutex
	factory Factory
	conn    Conn
	logger  logging.Logger
}

// NewManager creates a manager that opens connections with factory.
func NewManager(factory Factory, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Manager{factory: factory, logger: logger}
}

// GetOrCreate returns the current connection, opening one if none exists.
// A failed open leaves the manager empty so the next call retries.
func (m *Manager) GetOrCreate(ctx context.Context) (Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil {
		return m.conn, nil
	}
	conn, err := m.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	m.conn = conn
	return conn, nil
}

// Close quits the current connection, if any. If the graceful quit fails the
// connection is disconnected forcibly. Either way the next GetOrCreate opens a
// fresh connection.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn == nil {
		return
	}
	if err := conn.Quit(ctx); err != nil {
		m.logger.Warn("Broker quit failed, disconnecting", logging.Err(err))
		if derr := conn.Disconnect(); derr != nil {
			m.logger.Warn("Broker disconnect failed", logging.Err(derr))
		}
	}
}

// redisConn adapts a go-redis client to Conn.
type redisConn struct {
	client redis.UniversalClient
}

// NewRedisConn wraps an existing client.
func NewRedisConn(client redis.UniversalClient) Conn {
	return &redisConn{client: client}
}

func (c *redisConn) Client() redis.UniversalClient {
	return c.client
}

func (c *redisConn) Quit(ctx context.Context) error {
	if err := c.client.Do(ctx, "QUIT").Err(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return c.Disconnect()
}

func (c *redisConn) Disconnect() error {
	if err := c.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}

// RedisFactory returns a Factory that dials url and verifies it with PING.
func RedisFactory(url string) Factory {
	return func(ctx context.Context) (Conn, error) {
		opts, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, err
		}
		return &redisConn{client: client}, nil
	}
}
