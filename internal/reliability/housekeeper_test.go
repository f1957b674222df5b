package reliability

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mleone/deckwarden/internal/clientdata"
	"github.com/mleone/deckwarden/internal/database"
	"github.com/mleone/deckwarden/internal/events"
	"github.com/mleone/deckwarden/internal/results"
	testhelpers "github.com/mleone/deckwarden/internal/testing"
)

func newHousekeeperFixture(t *testing.T, withBackup bool) (*Housekeeper, *clientdata.Repository, *results.Repository, *memBlobStore, func()) {
	t.Helper()
	coreDB, coreCleanup := testhelpers.NewTestDB(t, "core")
	cacheDB, cacheCleanup := testhelpers.NewTestDB(t, "cache")
	resultsDB, resultsCleanup := testhelpers.NewTestDB(t, "results")

	databases := map[string]*database.DB{
		"core":    coreDB,
		"cache":   cacheDB,
		"results": resultsDB,
	}
	cache := clientdata.NewRepository(cacheDB.Conn())
	resultStore := results.NewRepository(resultsDB.Conn(), zerolog.Nop())

	var store *memBlobStore
	var backup *BackupService
	if withBackup {
		store = newMemBlobStore()
		backup = NewBackupService(databases, store, t.TempDir(), zerolog.Nop())
	}

	h := NewHousekeeper(databases, cache, resultStore, backup, events.NewBus(zerolog.Nop()), zerolog.Nop())
	return h, cache, resultStore, store, func() {
		resultsCleanup()
		cacheCleanup()
		coreCleanup()
	}
}

func TestRunDailyBackupCleansExpiredData(t *testing.T) {
	h, cache, resultStore, _, cleanup := newHousekeeperFixture(t, false)
	defer cleanup()

	// Seed one expired cache entry and one expired suggestion
	require.NoError(t, cache.Store("card_prices", "card-1", map[string]float64{"p": 1}, -time.Minute))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, resultStore.SaveSuggestions([]results.Suggestion{{
		UserID: "user-1", DeckID: "deck-1",
		Type: results.SuggestionNewCard, Priority: results.PriorityLow,
		Title: "stale", ExpiresAt: &past,
	}}))

	require.NoError(t, h.RunDailyBackup(context.Background()))

	raw, err := cache.Get("card_prices", "card-1")
	require.NoError(t, err)
	assert.Nil(t, raw, "expired cache entry removed")

	remaining, err := resultStore.SuggestionsForDeck("deck-1", past.Add(-2*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, remaining, "expired suggestion removed")
}

func TestRunDailyBackupMarksDay(t *testing.T) {
	h, _, _, _, cleanup := newHousekeeperFixture(t, false)
	defer cleanup()

	assert.False(t, h.BackedUpToday())
	require.NoError(t, h.RunDailyBackup(context.Background()))
	assert.True(t, h.BackedUpToday())
}

func TestRunDailyBackupUploadsArchive(t *testing.T) {
	h, _, _, store, cleanup := newHousekeeperFixture(t, true)
	defer cleanup()

	require.NoError(t, h.RunDailyBackup(context.Background()))
	assert.Equal(t, 1, store.count())
}

func TestRunDailyBackupWithoutStoreStillSucceeds(t *testing.T) {
	h, _, _, _, cleanup := newHousekeeperFixture(t, false)
	defer cleanup()

	require.NoError(t, h.RunDailyBackup(context.Background()))
}
