package clientdata

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testhelpers "github.com/mleone/deckwarden/internal/testing"
)

type samplePayload struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

func TestStoreAndGetIfFresh(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t, "cache")
	defer cleanup()

	repo := NewRepository(db.Conn())
	payload := samplePayload{Name: "Lightning Bolt", Price: 2.5}

	require.NoError(t, repo.Store("card_prices", "card-bolt", payload, time.Hour))

	raw, err := repo.GetIfFresh("card_prices", "card-bolt")
	require.NoError(t, err)
	require.NotNil(t, raw)

	var got samplePayload
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, payload, got)
}

func TestGetIfFreshSkipsExpired(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t, "cache")
	defer cleanup()

	repo := NewRepository(db.Conn())
	require.NoError(t, repo.Store("card_prices", "card-bolt", samplePayload{Name: "Lightning Bolt"}, -time.Minute))

	raw, err := repo.GetIfFresh("card_prices", "card-bolt")
	require.NoError(t, err)
	assert.Nil(t, raw)

	// Stale fallback still works
	raw, err = repo.Get("card_prices", "card-bolt")
	require.NoError(t, err)
	assert.NotNil(t, raw)
}

func TestGetMissingKey(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t, "cache")
	defer cleanup()

	repo := NewRepository(db.Conn())
	raw, err := repo.Get("card_facts", "nope")
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestInvalidTableRejected(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t, "cache")
	defer cleanup()

	repo := NewRepository(db.Conn())
	assert.Error(t, repo.Store("users; DROP TABLE", "k", "v", time.Hour))
	_, err := repo.Get("not_a_table", "k")
	assert.Error(t, err)
}

func TestDeleteAllExpired(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t, "cache")
	defer cleanup()

	repo := NewRepository(db.Conn())
	require.NoError(t, repo.Store("card_prices", "fresh", samplePayload{}, time.Hour))
	require.NoError(t, repo.Store("card_prices", "stale", samplePayload{}, -time.Hour))
	require.NoError(t, repo.Store("meta_snapshots", "modern", samplePayload{}, -time.Hour))

	results, err := repo.DeleteAllExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(1), results["card_prices"])
	assert.Equal(t, int64(1), results["meta_snapshots"])

	raw, err := repo.GetIfFresh("card_prices", "fresh")
	require.NoError(t, err)
	assert.NotNil(t, raw)
}
