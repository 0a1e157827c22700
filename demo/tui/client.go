package tui

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"newsdedup/api"
	"newsdedup/config"
)

// APIClient is a thin HTTP client for the deduplication API
type APIClient struct {
	baseURL string
	client  *http.Client
}

// NewAPIClient creates a new API client
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: config.ClientTimeout,
		},
	}
}

// BaseURL is the server the client talks to
func (c *APIClient) BaseURL() string { return c.baseURL }

// GetStats fetches engine stats
func (c *APIClient) GetStats() (*api.StatsResponse, error) {
	resp, err := c.client.Get(c.baseURL + "/api/deduplication/stats")
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	var stats api.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &stats, nil
}

// Save asks the server to persist its state
func (c *APIClient) Save() error {
	resp, err := c.client.Post(c.baseURL+"/api/deduplication/save", "application/json", strings.NewReader("{}"))
	if err != nil {
		return fmt.Errorf("failed to save: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
