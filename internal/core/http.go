package core

import (
	"bytes"
	"context"
	"net/http"
	"time"
)

var httpClient = &http.Client{
	Timeout: 10 * time.Second,
}

// newSidecarRequest builds an authenticated JSON request to the backend.
// The API key header is only attached when a key is configured.
func newSidecarRequest(ctx context.Context, method, url string, body []byte, apiKey string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-Sidecar-API-Key", apiKey)
	}
	return req, nil
}
