// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gridwarden/gridwarden/cmd/gridwarden/config"
	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
)

const (
	// DefaultSentinelURL is used when no flag, environment variable, or
	// config entry names the service.
	DefaultSentinelURL = "http://localhost:8080"

	// DefaultRequestTimeout bounds a single API call when the config
	// does not set one.
	DefaultRequestTimeout = 10 * time.Second
)

// getSentinelBaseURL resolves the service address. The --server flag
// wins, then GRIDWARDEN_SERVER_URL, then the config file.
func getSentinelBaseURL() string {
	if serverURL != "" {
		return serverURL
	}
	if envURL := os.Getenv("GRIDWARDEN_SERVER_URL"); envURL != "" {
		return envURL
	}
	if config.Global.Server.URL != "" {
		return config.Global.Server.URL
	}
	return DefaultSentinelURL
}

// getAPIKey resolves the API key with the same flag > environment >
// config precedence as the server address.
func getAPIKey() string {
	if apiKeyFlag != "" {
		return apiKeyFlag
	}
	if envKey := os.Getenv("GRIDWARDEN_API_KEY"); envKey != "" {
		return envKey
	}
	return config.Global.Server.APIKey
}

// requestTimeout returns the per-call deadline from the config.
func requestTimeout() time.Duration {
	if secs := config.Global.Server.TimeoutSeconds; secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return DefaultRequestTimeout
}

// requestContext builds the context used by one-shot commands.
// Streaming commands dial with context.Background instead.
func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout())
}

// apiClient talks to the sentinel REST and stream surface.
type apiClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newAPIClient() *apiClient {
	// Deadlines come from per-call contexts, not the client: simulate
	// waits out paced scenario replays that outlive the one-shot timeout.
	return &apiClient{
		baseURL: strings.TrimRight(getSentinelBaseURL(), "/"),
		apiKey:  getAPIKey(),
		http:    &http.Client{},
	}
}

// doRequest performs one JSON round trip. A non-2xx response is turned
// into an error carrying the service's own message when the body parses
// as an APIError.
func (c *apiClient) doRequest(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode the request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build the request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sentinel unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read the response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr datatypes.APIError
		if jsonErr := json.Unmarshal(data, &apiErr); jsonErr == nil && apiErr.Error != "" {
			if apiErr.Code != "" {
				return fmt.Errorf("%s (%s)", apiErr.Error, apiErr.Code)
			}
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("sentinel returned status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode the response: %w", err)
		}
	}
	return nil
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	return c.doRequest(ctx, http.MethodGet, path, nil, out)
}

func (c *apiClient) post(ctx context.Context, path string, body, out any) error {
	return c.doRequest(ctx, http.MethodPost, path, body, out)
}

func (c *apiClient) patch(ctx context.Context, path string, body, out any) error {
	return c.doRequest(ctx, http.MethodPatch, path, body, out)
}

func (c *apiClient) delete(ctx context.Context, path string, out any) error {
	return c.doRequest(ctx, http.MethodDelete, path, nil, out)
}

// streamFrame mirrors the stream envelope with a raw payload so each
// frame type can be decoded into its concrete shape.
type streamFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// dialStream opens the sentinel WebSocket. The API key rides the query
// string because browser WebSocket clients cannot set headers, and the
// CLI follows the same contract.
func (c *apiClient) dialStream(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", c.baseURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/v1/stream"
	if c.apiKey != "" {
		q := u.Query()
		q.Set("api_key", c.apiKey)
		u.RawQuery = q.Encode()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("stream rejected: invalid or missing API key")
		}
		return nil, fmt.Errorf("failed to connect to the event stream: %w", err)
	}
	return conn, nil
}

// Response envelopes for list endpoints. These mirror the service's
// wire format; single-object endpoints decode straight into datatypes.

type componentListResponse struct {
	Components []datatypes.ComponentSummary `json:"components"`
	Count      int                          `json:"count"`
}

type telemetryHistoryResponse struct {
	Component string                       `json:"component"`
	Readings  []datatypes.TelemetryReading `json:"readings"`
	Count     int                          `json:"count"`
}

type eventListResponse struct {
	Events []datatypes.SecurityEvent `json:"events"`
	Count  int                       `json:"count"`
}

type rolloutListResponse struct {
	Component string                  `json:"component"`
	Rollouts  []datatypes.PatchStatus `json:"rollouts"`
	Count     int                     `json:"count"`
}

type scenarioInfo struct {
	Tag         string `json:"tag"`
	Description string `json:"description"`
	Mitigation  string `json:"mitigation"`
}

type scenarioListResponse struct {
	Scenarios []scenarioInfo `json:"scenarios"`
}

type statusEnvelope struct {
	Status    string `json:"status"`
	Component string `json:"component,omitempty"`
	EventID   string `json:"event_id,omitempty"`
}
