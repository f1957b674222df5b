package pricefeed

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mleone/deckwarden/internal/decks"
	"github.com/mleone/deckwarden/internal/domain"
	"github.com/mleone/deckwarden/internal/events"
	"github.com/mleone/deckwarden/internal/tasks"
	testhelpers "github.com/mleone/deckwarden/internal/testing"
)

type recordingSink struct {
	mu     sync.Mutex
	events []domain.ChangeEvent
}

func (s *recordingSink) SubmitChangeEvent(ctx context.Context, event domain.ChangeEvent) (*tasks.AnalysisTrigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil, nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func newTestClient(t *testing.T) (*Client, *recordingSink, *decks.Repository, func()) {
	t.Helper()
	db, cleanup := testhelpers.NewTestDB(t, "core")
	deckRepo := decks.NewRepository(db.Conn(), zerolog.Nop())
	sink := &recordingSink{}
	client := NewClient("wss://feed.example/ws", "", deckRepo, sink, events.NewBus(zerolog.Nop()), zerolog.Nop())
	return client, sink, deckRepo, cleanup
}

func TestFirstTickOnlyPrimesCache(t *testing.T) {
	client, sink, _, cleanup := newTestClient(t)
	defer cleanup()

	client.handleTick(tick{CardID: "card-bolt", Price: 10.0})

	p, ok := client.LastPrice("card-bolt")
	assert.True(t, ok)
	assert.Equal(t, 10.0, p)
	assert.Equal(t, 0, sink.count(), "no baseline, no event")
}

func TestSignificantMoveNotifiesHolders(t *testing.T) {
	client, sink, deckRepo, cleanup := newTestClient(t)
	defer cleanup()

	require.NoError(t, deckRepo.Save(testhelpers.NewAggroDeckFixture("deck-1", "user-1")))
	require.NoError(t, deckRepo.Save(testhelpers.NewAggroDeckFixture("deck-2", "user-2")))

	client.handleTick(tick{CardID: "card-bolt", Price: 10.0})
	client.handleTick(tick{CardID: "card-bolt", Name: "Lightning Bolt", Price: 15.0})

	require.Equal(t, 2, sink.count(), "one event per holding deck")
	assert.Equal(t, domain.EventPriceChange, sink.events[0].Type)
	assert.Equal(t, 15.0, sink.events[0].CardValue)
	assert.NotEmpty(t, sink.events[0].UserID)
	assert.NotEmpty(t, sink.events[0].DeckID)
}

func TestSmallMoveIsIgnored(t *testing.T) {
	client, sink, deckRepo, cleanup := newTestClient(t)
	defer cleanup()

	require.NoError(t, deckRepo.Save(testhelpers.NewAggroDeckFixture("deck-1", "user-1")))

	client.handleTick(tick{CardID: "card-bolt", Price: 10.0})
	client.handleTick(tick{CardID: "card-bolt", Price: 10.5})

	assert.Equal(t, 0, sink.count())
}

func TestMoveOnUnownedCardIsIgnored(t *testing.T) {
	client, sink, _, cleanup := newTestClient(t)
	defer cleanup()

	client.handleTick(tick{CardID: "card-unknown", Price: 10.0})
	client.handleTick(tick{CardID: "card-unknown", Price: 20.0})

	assert.Equal(t, 0, sink.count())
}

func TestTicksPublishOnBus(t *testing.T) {
	db, cleanup := testhelpers.NewTestDB(t, "core")
	defer cleanup()

	bus := events.NewBus(zerolog.Nop())
	var got []events.PriceTickData
	bus.Subscribe(events.PriceTick, func(e *events.Event) {
		got = append(got, e.Data.(events.PriceTickData))
	})

	client := NewClient("wss://feed.example/ws", "", decks.NewRepository(db.Conn(), zerolog.Nop()), &recordingSink{}, bus, zerolog.Nop())
	client.handleTick(tick{CardID: "card-bolt", Price: 10.0})
	client.handleTick(tick{CardID: "card-bolt", Price: 10.2})

	require.Len(t, got, 2)
	assert.Equal(t, 10.0, got[1].OldPrice)
	assert.Equal(t, 10.2, got[1].Price)
}

func TestHandleMessageParsesFrame(t *testing.T) {
	client, sink, deckRepo, cleanup := newTestClient(t)
	defer cleanup()

	require.NoError(t, deckRepo.Save(testhelpers.NewAggroDeckFixture("deck-1", "user-1")))

	require.NoError(t, client.handleMessage([]byte(`["prices", {"ticks": [{"card_id": "card-bolt", "price": 10.0}]}]`)))
	require.NoError(t, client.handleMessage([]byte(`["prices", {"ticks": [{"card_id": "card-bolt", "price": 20.0}]}]`)))

	assert.Equal(t, 1, sink.count())
}

func TestHandleMessageIgnoresOtherChannels(t *testing.T) {
	client, sink, _, cleanup := newTestClient(t)
	defer cleanup()

	require.NoError(t, client.handleMessage([]byte(`["heartbeat", {}]`)))
	assert.Equal(t, 0, sink.count())
}

func TestHandleMessageRejectsMalformedFrame(t *testing.T) {
	client, _, _, cleanup := newTestClient(t)
	defer cleanup()

	assert.Error(t, client.handleMessage([]byte(`{"not": "an array"}`)))
	assert.Error(t, client.handleMessage([]byte(`["prices"]`)))
}

func TestStopIsIdempotent(t *testing.T) {
	client, _, _, cleanup := newTestClient(t)
	defer cleanup()

	require.NoError(t, client.Stop())
	require.NoError(t, client.Stop())
	assert.False(t, client.IsConnected())
}
