// Package scryfall provides a client for the Scryfall card database API.
// It backs the card, set, and legality lookups; the lookup layer adds
// caching on top, so this client is deliberately uncached.
package scryfall

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/mleone/deckwarden/internal/domain"
)

const (
	defaultBaseURL = "https://api.scryfall.com"

	// Upcoming sets whose card lists we fetch per feed refresh. Spoiler
	// season lists several future sets; only the nearest few matter.
	maxUpcomingSets = 3
)

// Client is the Scryfall API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a new Scryfall client.
func NewClient(log zerolog.Logger) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("client", "scryfall").Logger(),
	}
}

// card is the subset of Scryfall's card object we read.
type card struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	ColorIdentity []string `json:"color_identity"`
	TypeLine      string   `json:"type_line"`
	CMC           float64  `json:"cmc"`
	Rarity        string   `json:"rarity"`
	Set           string   `json:"set"`
}

// cardList is one page of a card search.
type cardList struct {
	Data     []card `json:"data"`
	HasMore  bool   `json:"has_more"`
	NextPage string `json:"next_page"`
}

// setObject is the subset of Scryfall's set object we read.
type setObject struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	ReleasedAt string `json:"released_at"`
	SetType    string `json:"set_type"`
	Digital    bool   `json:"digital"`
}

type setList struct {
	Data []setObject `json:"data"`
}

// GetCard fetches one card by Scryfall ID.
func (c *Client) GetCard(ctx context.Context, cardID string) (*domain.CardFacts, error) {
	var result card
	if err := c.get(ctx, c.baseURL+"/cards/"+url.PathEscape(cardID), &result); err != nil {
		return nil, err
	}
	facts := toFacts(result)
	return &facts, nil
}

// GetCardsInSet fetches every card printed in a set, following pagination.
func (c *Client) GetCardsInSet(ctx context.Context, setCode string) ([]domain.CardFacts, error) {
	query := url.Values{}
	query.Set("q", "e:"+setCode)
	query.Set("order", "set")
	return c.searchAll(ctx, c.baseURL+"/cards/search?"+query.Encode())
}

// GetUpcomingSets returns unreleased paper sets, nearest release first, with
// their spoiled card lists. A set whose card list cannot be fetched is
// returned without cards rather than failing the feed.
func (c *Client) GetUpcomingSets(ctx context.Context) ([]domain.SetRelease, error) {
	var sets setList
	if err := c.get(ctx, c.baseURL+"/sets", &sets); err != nil {
		return nil, err
	}

	now := time.Now()
	var upcoming []domain.SetRelease
	for _, s := range sets.Data {
		if s.Digital || s.ReleasedAt == "" {
			continue
		}
		releasedAt, err := time.Parse("2006-01-02", s.ReleasedAt)
		if err != nil || !releasedAt.After(now) {
			continue
		}
		upcoming = append(upcoming, domain.SetRelease{
			SetCode:    s.Code,
			Name:       s.Name,
			ReleasedAt: releasedAt,
		})
		if len(upcoming) == maxUpcomingSets {
			break
		}
	}

	for i := range upcoming {
		cards, err := c.GetCardsInSet(ctx, upcoming[i].SetCode)
		if err != nil {
			// Spoilers may not be indexed yet
			c.log.Warn().Err(err).Str("set", upcoming[i].SetCode).Msg("Failed to fetch set card list")
			continue
		}
		upcoming[i].Cards = cards
	}
	return upcoming, nil
}

// GetSet fetches one set with its card list.
func (c *Client) GetSet(ctx context.Context, setCode string) (*domain.SetRelease, error) {
	var s setObject
	if err := c.get(ctx, c.baseURL+"/sets/"+url.PathEscape(setCode), &s); err != nil {
		return nil, err
	}

	release := &domain.SetRelease{
		SetCode: s.Code,
		Name:    s.Name,
	}
	if s.ReleasedAt != "" {
		if releasedAt, err := time.Parse("2006-01-02", s.ReleasedAt); err == nil {
			release.ReleasedAt = releasedAt
		}
	}

	cards, err := c.GetCardsInSet(ctx, s.Code)
	if err != nil {
		return nil, err
	}
	release.Cards = cards
	return release, nil
}

// GetLegality returns the ban and restricted lists for a format, built from
// Scryfall's banned:/restricted: search filters.
func (c *Client) GetLegality(ctx context.Context, format string) (*domain.FormatLegality, error) {
	banned, err := c.searchIDs(ctx, "banned:"+format)
	if err != nil {
		return nil, err
	}
	restricted, err := c.searchIDs(ctx, "restricted:"+format)
	if err != nil {
		return nil, err
	}
	return &domain.FormatLegality{
		Format:     format,
		Banned:     banned,
		Restricted: restricted,
		AsOf:       time.Now().UTC(),
	}, nil
}

// searchIDs runs a card search and returns only card IDs. An empty result is
// not an error: most formats restrict nothing.
func (c *Client) searchIDs(ctx context.Context, q string) ([]string, error) {
	query := url.Values{}
	query.Set("q", q)
	cards, err := c.searchAll(ctx, c.baseURL+"/cards/search?"+query.Encode())
	if err == domain.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(cards))
	for _, facts := range cards {
		ids = append(ids, facts.CardID)
	}
	return ids, nil
}

// searchAll follows a paginated card search to the end.
func (c *Client) searchAll(ctx context.Context, searchURL string) ([]domain.CardFacts, error) {
	var out []domain.CardFacts
	for searchURL != "" {
		var page cardList
		if err := c.get(ctx, searchURL, &page); err != nil {
			return nil, err
		}
		for _, item := range page.Data {
			out = append(out, toFacts(item))
		}
		if !page.HasMore {
			break
		}
		searchURL = page.NextPage
	}
	return out, nil
}

// get performs one GET request and decodes the JSON response. Scryfall
// returns 404 both for missing objects and empty searches.
func (c *Client) get(ctx context.Context, requestURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("scryfall request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("scryfall returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode scryfall response: %w", err)
	}
	return nil
}

func toFacts(item card) domain.CardFacts {
	return domain.CardFacts{
		CardID:        item.ID,
		Name:          item.Name,
		ColorIdentity: item.ColorIdentity,
		TypeLine:      item.TypeLine,
		ManaValue:     item.CMC,
		Rarity:        item.Rarity,
		SetCode:       item.Set,
	}
}
