package thingspeak

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	telemetry "livestock-cloud/internal/telemetry/domain"
)

// Client is a minimal ThingSpeak channel feed client.
type Client struct {
	baseURL   string
	channelID string
	apiKey    string
	results   int
	client    *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithResults limits the number of feed entries requested per fetch.
func WithResults(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.results = n
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// NewClient constructs a feed client.
func NewClient(baseURL, channelID, apiKey string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("thingspeak: empty base url")
	}
	if channelID == "" {
		return nil, errors.New("thingspeak: empty channel id")
	}
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		channelID: channelID,
		apiKey:    apiKey,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type feedsResponse struct {
	Channel json.RawMessage     `json:"channel"`
	Feeds   []telemetry.RawFeed `json:"feeds"`
}

// FetchFeeds returns the raw feed entries of the channel.
func (c *Client) FetchFeeds(ctx context.Context) ([]telemetry.RawFeed, error) {
	if c == nil {
		return nil, errors.New("thingspeak: nil client")
	}
	query := url.Values{}
	if c.apiKey != "" {
		query.Set("api_key", c.apiKey)
	}
	if c.results > 0 {
		query.Set("results", strconv.Itoa(c.results))
	}
	endpoint := fmt.Sprintf("%s/channels/%s/feeds.json", c.baseURL, url.PathEscape(c.channelID))
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("thingspeak: http %d", resp.StatusCode)
	}
	var out feedsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("thingspeak: decode feeds: %w", err)
	}
	if out.Feeds == nil {
		return nil, errors.New("thingspeak: response has no feeds array")
	}
	return out.Feeds, nil
}
