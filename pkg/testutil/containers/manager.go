//go:build integration

// Package containers manages shared test containers. Each backend starts at
// most once per test binary and is reused across suites; Ryuk reaps the
// containers when the binary exits.
package containers

import (
	"sync"
	"testing"
)

type Manager struct {
	mu       sync.Mutex
	postgres *PostgresContainer
	redis    *RedisContainer
	redpanda *RedpandaContainer
}

var manager = &Manager{}

// GetManager returns the process-wide container manager.
func GetManager() *Manager {
	return manager
}

// GetPostgres returns the shared PostgreSQL container, starting it on first use.
func (m *Manager) GetPostgres(t *testing.T) *PostgresContainer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postgres == nil {
		m.postgres = NewPostgresContainer(t)
	}
	return m.postgres
}

// GetRedis returns the shared Redis container, starting it on first use.
func (m *Manager) GetRedis(t *testing.T) *RedisContainer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redis == nil {
		m.redis = NewRedisContainer(t)
	}
	return m.redis
}

// GetRedpanda returns the shared Redpanda container, starting it on first use.
func (m *Manager) GetRedpanda(t *testing.T) *RedpandaContainer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redpanda == nil {
		m.redpanda = NewRedpandaContainer(t)
	}
	return m.redpanda
}
