package di

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mleone/deckwarden/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir: t.TempDir(),
		Port:    0,
	}
}

func TestWireBuildsFullContainer(t *testing.T) {
	container, err := Wire(testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	assert.NotNil(t, container.CoreDB)
	assert.NotNil(t, container.ResultsDB)
	assert.NotNil(t, container.CacheDB)

	assert.NotNil(t, container.TaskRepo)
	assert.NotNil(t, container.DeckRepo)
	assert.NotNil(t, container.ResultRepo)
	assert.NotNil(t, container.ClientDataRepo)

	assert.NotNil(t, container.Engines)
	assert.NotNil(t, container.Executor)
	assert.NotNil(t, container.TriggerService)
	assert.NotNil(t, container.Scheduler)
	assert.NotNil(t, container.Housekeeper)

	// No feed URL configured
	assert.Nil(t, container.PriceFeed)
}

func TestWireEnablesPriceFeedWhenConfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.PriceFeedURL = "wss://feed.example.com/prices"

	container, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	assert.NotNil(t, container.PriceFeed)
}

func TestDatabasesMapNamesAllThree(t *testing.T) {
	container, err := Wire(testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	databases := container.Databases()
	assert.Len(t, databases, 3)
	assert.Contains(t, databases, "core")
	assert.Contains(t, databases, "results")
	assert.Contains(t, databases, "cache")
}
