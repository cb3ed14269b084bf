// Package hass is a minimal read-only client for the Home Assistant
// Supervisor API: entity states for recovery fallback and MQTT broker
// service discovery. No writes are ever performed.
package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const (
	// DefaultBaseURL is the Supervisor endpoint available to add-ons.
	DefaultBaseURL = "http://supervisor"

	// TokenEnvVar carries the Supervisor bearer token. Without it the
	// client is unavailable and every call returns ErrNoToken.
	TokenEnvVar = "SUPERVISOR_TOKEN"

	// DefaultTimeout is the HTTP request timeout.
	DefaultTimeout = 5 * time.Second
)

// ErrNoToken means no Supervisor token is present in the environment.
var ErrNoToken = fmt.Errorf("no %s in environment", TokenEnvVar)

// Entity is one Home Assistant entity state as returned by the Core API.
type Entity struct {
	EntityID string `json:"entity_id"`
	State    string `json:"state"`
}

// MQTTService is the broker connection info published by the Supervisor
// services API.
type MQTTService struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Client calls the Supervisor API with bearer-token authentication.
type Client struct {
	// BaseURL is the Supervisor base URL (default "http://supervisor")
	BaseURL string

	// Token is the bearer token, usually from SUPERVISOR_TOKEN
	Token string

	// HTTPClient is the underlying HTTP client
	HTTPClient *http.Client
}

// NewClient creates a client from the environment. The returned client is
// usable even without a token; calls will fail with ErrNoToken.
func NewClient() *Client {
	return &Client{
		BaseURL:    DefaultBaseURL,
		Token:      os.Getenv(TokenEnvVar),
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// Available reports whether a Supervisor token is present.
func (c *Client) Available() bool {
	return c.Token != ""
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	if c.Token == "" {
		return ErrNoToken
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("supervisor request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("supervisor returned status %d for %s", resp.StatusCode, path)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// States fetches all entity states from the Core API.
func (c *Client) States(ctx context.Context) ([]Entity, error) {
	var entities []Entity
	if err := c.get(ctx, "/core/api/states", &entities); err != nil {
		return nil, err
	}
	return entities, nil
}

// DiscoverMQTT fetches the MQTT broker connection info from the services
// API. Returns a zero value when the service is not provided.
func (c *Client) DiscoverMQTT(ctx context.Context) (MQTTService, error) {
	var envelope struct {
		Data MQTTService `json:"data"`
	}
	if err := c.get(ctx, "/services/mqtt", &envelope); err != nil {
		return MQTTService{}, err
	}
	return envelope.Data, nil
}
