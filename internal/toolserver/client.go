package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// decodeConfiguration unmarshals a DataSource's opaque configuration blob
// into a type-specific struct.
func decodeConfiguration(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty configuration")
	}
	return json.Unmarshal(raw, v)
}

// httpClient issues a single stateless tool-listing GET against a
// bounded-timeout *http.Client.
type httpClient struct {
	client *http.Client
}

func newHTTPClient(timeout time.Duration) *httpClient {
	return &httpClient{client: &http.Client{Timeout: timeout}}
}

// ListTools issues a GET against url and parses the flat JSON array of
// {name, description, parameters} tools it returns, per spec.md §6. The
// optional headers carry the external server's OAuth bearer.
func (c *httpClient) ListTools(ctx context.Context, url string, headers map[string]string) ([]rawTool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list tools returned status %d: %s", resp.StatusCode, respBody)
	}

	var tools []rawTool
	if err := json.Unmarshal(respBody, &tools); err != nil {
		return nil, fmt.Errorf("decode tools array: %w", err)
	}
	for i, t := range tools {
		if len(t.Parameters) == 0 {
			tools[i].Parameters = json.RawMessage(defaultParameters)
		}
	}
	return tools, nil
}
