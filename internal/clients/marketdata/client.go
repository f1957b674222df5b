// Package marketdata provides a client for the card market data API: spot
// prices, price history, and format metagame snapshots. The lookup layer
// adds caching and trend analysis on top.
package marketdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/mleone/deckwarden/internal/domain"
)

const defaultBaseURL = "https://market.deckwarden.io/api/v1"

// Client is the market data API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a new market data client. apiKey may be empty for the
// anonymous rate tier.
func NewClient(apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("client", "marketdata").Logger(),
	}
}

// SetBaseURL overrides the API endpoint, for self-hosted mirrors.
func (c *Client) SetBaseURL(baseURL string) {
	if baseURL != "" {
		c.baseURL = baseURL
	}
}

type priceResponse struct {
	CardID string    `json:"card_id"`
	Price  float64   `json:"price"`
	AsOf   time.Time `json:"as_of"`
}

type batchPriceResponse struct {
	Prices []priceResponse `json:"prices"`
}

type historyResponse struct {
	Points []domain.PricePoint `json:"points"`
}

// GetPrice fetches the spot price for one card. The trend is left stable;
// classification happens in the lookup layer from history.
func (c *Client) GetPrice(ctx context.Context, cardID string) (*domain.CardPrice, error) {
	var result priceResponse
	if err := c.do(ctx, http.MethodGet, "/prices/"+url.PathEscape(cardID), nil, &result); err != nil {
		return nil, err
	}
	return toCardPrice(result), nil
}

// GetPrices fetches spot prices for a batch of cards. Unknown cards are
// absent from the result, not errors.
func (c *Client) GetPrices(ctx context.Context, cardIDs []string) (map[string]*domain.CardPrice, error) {
	if len(cardIDs) == 0 {
		return map[string]*domain.CardPrice{}, nil
	}

	body := map[string]interface{}{"card_ids": cardIDs}
	var result batchPriceResponse
	if err := c.do(ctx, http.MethodPost, "/prices/query", body, &result); err != nil {
		return nil, err
	}

	out := make(map[string]*domain.CardPrice, len(result.Prices))
	for _, p := range result.Prices {
		out[p.CardID] = toCardPrice(p)
	}
	return out, nil
}

// GetPriceHistory fetches daily price samples for the trailing period.
func (c *Client) GetPriceHistory(ctx context.Context, cardID string, days int) ([]domain.PricePoint, error) {
	path := "/prices/" + url.PathEscape(cardID) + "/history?days=" + strconv.Itoa(days)
	var result historyResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Points, nil
}

// GetMetaSnapshot fetches the current archetype breakdown for a format.
func (c *Client) GetMetaSnapshot(ctx context.Context, format string) (*domain.MetaSnapshot, error) {
	var result domain.MetaSnapshot
	if err := c.do(ctx, http.MethodGet, "/meta/"+url.PathEscape(format), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// do performs one API request and decodes the JSON response.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reqBody *bytes.Buffer
	if body != nil {
		reqBody = &bytes.Buffer{}
		if err := json.NewEncoder(reqBody).Encode(body); err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("market data request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("market data API returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode market data response: %w", err)
	}
	return nil
}

func toCardPrice(p priceResponse) *domain.CardPrice {
	return &domain.CardPrice{
		CardID:       p.CardID,
		CurrentPrice: p.Price,
		Trend:        domain.TrendStable,
		AsOf:         p.AsOf,
	}
}
