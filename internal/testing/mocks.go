package testing

import (
	"context"
	"sync"
	"time"

	"github.com/mleone/deckwarden/internal/domain"
)

// MockCardSource is a mock implementation of domain.CardSource for testing.
type MockCardSource struct {
	mu    sync.RWMutex
	cards map[string]*domain.CardFacts
	err   error
}

// NewMockCardSource creates a new mock card source.
func NewMockCardSource() *MockCardSource {
	return &MockCardSource{cards: make(map[string]*domain.CardFacts)}
}

// SetCard registers a card to return.
func (m *MockCardSource) SetCard(c *domain.CardFacts) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cards[c.CardID] = c
}

// SetError sets the error to return.
func (m *MockCardSource) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// GetCard returns a registered card.
func (m *MockCardSource) GetCard(ctx context.Context, cardID string) (*domain.CardFacts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.cards[cardID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c, nil
}

// GetCardsInSet returns every registered card whose set matches.
func (m *MockCardSource) GetCardsInSet(ctx context.Context, setCode string) ([]domain.CardFacts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.CardFacts
	for _, c := range m.cards {
		if c.SetCode == setCode {
			out = append(out, *c)
		}
	}
	return out, nil
}

// MockPriceSource is a mock implementation of domain.PriceSource for testing.
type MockPriceSource struct {
	mu      sync.RWMutex
	prices  map[string]*domain.CardPrice
	history map[string][]domain.PricePoint
	err     error
}

// NewMockPriceSource creates a new mock price source.
func NewMockPriceSource() *MockPriceSource {
	return &MockPriceSource{
		prices:  make(map[string]*domain.CardPrice),
		history: make(map[string][]domain.PricePoint),
	}
}

// SetPrice registers a price to return.
func (m *MockPriceSource) SetPrice(cardID string, p *domain.CardPrice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[cardID] = p
}

// SetHistory registers a price history series.
func (m *MockPriceSource) SetHistory(cardID string, points []domain.PricePoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[cardID] = points
}

// SetError sets the error to return.
func (m *MockPriceSource) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// GetPrice returns a registered price.
func (m *MockPriceSource) GetPrice(ctx context.Context, cardID string) (*domain.CardPrice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.prices[cardID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

// GetPrices returns the registered prices for the requested cards; missing
// cards are skipped.
func (m *MockPriceSource) GetPrices(ctx context.Context, cardIDs []string) (map[string]*domain.CardPrice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]*domain.CardPrice, len(cardIDs))
	for _, id := range cardIDs {
		if p, ok := m.prices[id]; ok {
			cp := *p
			out[id] = &cp
		}
	}
	return out, nil
}

// GetPriceHistory returns a registered history series.
func (m *MockPriceSource) GetPriceHistory(ctx context.Context, cardID string, days int) ([]domain.PricePoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.history[cardID], nil
}

// MockMetaSource is a mock implementation of domain.MetaSource for testing.
type MockMetaSource struct {
	mu       sync.RWMutex
	snapshot *domain.MetaSnapshot
	err      error
}

// NewMockMetaSource creates a new mock meta source.
func NewMockMetaSource() *MockMetaSource {
	return &MockMetaSource{}
}

// SetSnapshot sets the snapshot to return.
func (m *MockMetaSource) SetSnapshot(s *domain.MetaSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = s
}

// SetError sets the error to return.
func (m *MockMetaSource) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// GetMetaSnapshot returns the registered snapshot.
func (m *MockMetaSource) GetMetaSnapshot(ctx context.Context, format string) (*domain.MetaSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.snapshot == nil {
		return nil, domain.ErrNotFound
	}
	return m.snapshot, nil
}

// MockLegalitySource is a mock implementation of domain.LegalitySource for
// testing.
type MockLegalitySource struct {
	mu       sync.RWMutex
	legality map[string]*domain.FormatLegality
	err      error
}

// NewMockLegalitySource creates a new mock legality source.
func NewMockLegalitySource() *MockLegalitySource {
	return &MockLegalitySource{legality: make(map[string]*domain.FormatLegality)}
}

// SetLegality registers the legality data for a format.
func (m *MockLegalitySource) SetLegality(l *domain.FormatLegality) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.legality[l.Format] = l
}

// SetError sets the error to return.
func (m *MockLegalitySource) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// GetLegality returns the registered legality for a format. Unregistered
// formats have no bans.
func (m *MockLegalitySource) GetLegality(ctx context.Context, format string) (*domain.FormatLegality, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	if l, ok := m.legality[format]; ok {
		return l, nil
	}
	return &domain.FormatLegality{Format: format}, nil
}

// MockSetSource is a mock implementation of domain.SetSource for testing.
type MockSetSource struct {
	mu   sync.RWMutex
	sets []domain.SetRelease
	err  error
}

// NewMockSetSource creates a new mock set source.
func NewMockSetSource() *MockSetSource {
	return &MockSetSource{}
}

// SetSets sets the upcoming sets to return.
func (m *MockSetSource) SetSets(sets []domain.SetRelease) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets = sets
}

// SetError sets the error to return.
func (m *MockSetSource) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// GetUpcomingSets returns the registered set list.
func (m *MockSetSource) GetUpcomingSets(ctx context.Context) ([]domain.SetRelease, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.sets, nil
}

// GetSet returns a registered set by code.
func (m *MockSetSource) GetSet(ctx context.Context, setCode string) (*domain.SetRelease, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	for i := range m.sets {
		if m.sets[i].SetCode == setCode {
			return &m.sets[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

// MockNotifier records notifications for assertion.
type MockNotifier struct {
	mu    sync.Mutex
	Calls []NotifyCall
}

// NotifyCall is one recorded Notify invocation.
type NotifyCall struct {
	UserID  string
	Kind    string
	Payload interface{}
	At      time.Time
}

// NewMockNotifier creates a new mock notifier.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

// Notify records the call.
func (m *MockNotifier) Notify(userID, kind string, payload interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, NotifyCall{UserID: userID, Kind: kind, Payload: payload, At: time.Now()})
}

// CallCount returns the number of recorded notifications.
func (m *MockNotifier) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
