package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAPIKeys(t *testing.T) {
	keys, err := ParseAPIKeys(" alice:k1 , engine:k2,,")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"k1": "alice", "k2": "engine"}, keys)

	keys, err = ParseAPIKeys("")
	require.NoError(t, err)
	assert.Empty(t, keys)

	for _, bad := range []string{"alice", "alice:", ":k1", "alice:k1,bob:k1"} {
		_, err := ParseAPIKeys(bad)
		assert.Error(t, err, bad)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("API_KEYS", "alice:secret")
	t.Setenv("ROLE_ORACLE", "feed-1,feed-2")
	t.Setenv("STORE_TYPE", "badger")
	t.Setenv("ORACLE_REQUEST_TTL", "2h")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"feed-1", "feed-2"}, cfg.Roles.Oracle)
	assert.Equal(t, []string{"engine"}, cfg.Roles.Engine)
	assert.Equal(t, "badger", cfg.Store.Type)
	assert.Equal(t, 2*time.Hour, cfg.Oracle.RequestTTL)
	assert.Equal(t, "traitfusion", cfg.Game.Collection)
	assert.Equal(t, uint64(20), cfg.Game.LootBoxCost)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())

	t.Setenv("API_KEYS", "broken")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("API_KEYS", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.App.IsDevelopment())
	assert.False(t, cfg.App.IsProduction())

	t.Setenv("APP_ENV", "production")
	_, err = Load()
	assert.ErrorContains(t, err, "API_KEYS is required")

	t.Setenv("API_KEYS", "engine:k1")
	cfg, err = Load()
	require.NoError(t, err)
	assert.True(t, cfg.App.IsProduction())
	assert.False(t, cfg.App.IsDevelopment())
}
