package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "5433")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Host)
	assert.Equal(t, 5433, cfg.Port)
	assert.Equal(t, "dialer", cfg.User)
	assert.Equal(t, "dialer", cfg.Database)
	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 10, cfg.MaxIdleConns)
	assert.Equal(t, time.Hour, cfg.ConnMaxLifetime)
}

func TestLoadConfigFromEnvInvalidPort(t *testing.T) {
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_PORT", "not-a-port")

	_, err := LoadConfigFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_PORT")
}

func TestConfigValidate(t *testing.T) {
	base := Config{
		Host:         "localhost",
		Port:         5432,
		User:         "dialer",
		Password:     "secret",
		Database:     "dialer",
		MaxOpenConns: 25,
		MaxIdleConns: 10,
	}
	assert.NoError(t, base.Validate())

	noPassword := base
	noPassword.Password = ""
	assert.Error(t, noPassword.Validate())

	idleOverOpen := base
	idleOverOpen.MaxIdleConns = 50
	assert.Error(t, idleOverOpen.Validate())

	zeroOpen := base
	zeroOpen.MaxOpenConns = 0
	assert.Error(t, zeroOpen.Validate())
}

func TestNewClientFromDB(t *testing.T) {
	// Wrap an unconnected pool the way repository tests against a seeded
	// database would; sql.Open defers dialing until first use.
	db, err := sql.Open("pgx", "host=127.0.0.1 port=1 user=x password=x dbname=x sslmode=disable")
	require.NoError(t, err)

	client := NewClientFromDB(db)
	assert.Same(t, db, client.DB())
	assert.NoError(t, client.Close())
}

func TestHealthUnreachableDatabase(t *testing.T) {
	db, err := sql.Open("pgx", "host=127.0.0.1 port=1 user=x password=x dbname=x sslmode=disable connect_timeout=1")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	status, healthErr := Health(ctx, db)
	require.Error(t, healthErr)
	require.NotNil(t, status)
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.NotZero(t, status.ResponseTime)
}

func TestHasEmbeddedMigrations(t *testing.T) {
	// The migrations directory ships with the binary; the embed must never
	// come up empty.
	has, err := hasEmbeddedMigrations()
	require.NoError(t, err)
	assert.True(t, has)
}
