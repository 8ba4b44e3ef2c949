package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// jsonResponse is what every generic fetch callback hands back to its
// resolver: the decoded body plus enough of the envelope to debug a bad
// field path without re-fetching.
type jsonResponse struct {
	StatusCode int
	Body       any
}

// httpJSONClient performs the single HTTP shape cmd/pagecycle drives
// generically: a GET/POST against a URL template, decoding a JSON body.
// Embedders with richer targets skip this file entirely and build
// scraperflow.Options with their own closures.
type httpJSONClient struct {
	client  *http.Client
	method  string
	headers map[string]string
}

func newHTTPJSONClient(cfg *CLIConfig) *httpJSONClient {
	return &httpJSONClient{
		client:  &http.Client{Timeout: clampTimeout(cfg.RequestTimeout)},
		method:  cfg.Method,
		headers: cfg.headerMap(),
	}
}

// fetch substitutes {page} and {cursor} placeholders in urlTemplate, issues
// the request, and decodes the JSON body.
func (c *httpJSONClient) fetch(urlTemplate string, page int, cursor any) (*jsonResponse, error) {
	url := strings.ReplaceAll(urlTemplate, "{page}", fmt.Sprint(page))
	if cursor != nil {
		url = strings.ReplaceAll(url, "{cursor}", fmt.Sprint(cursor))
	} else {
		url = strings.ReplaceAll(url, "{cursor}", "")
	}

	req, err := http.NewRequest(c.method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}

	var decoded any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &decoded); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	}

	return &jsonResponse{StatusCode: resp.StatusCode, Body: decoded}, nil
}

// fieldAt walks a dot-separated path (e.g. "meta.total_pages") through a
// decoded JSON value. ok is false if any segment is missing or the value
// along the way isn't a map.
func fieldAt(v any, path string) (any, bool) {
	if path == "" {
		return v, true
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func fieldAsInt(v any, path string) (int, bool) {
	raw, ok := fieldAt(v, path)
	if !ok {
		return 0, false
	}
	n, ok := raw.(float64)
	if !ok {
		return 0, false
	}
	return int(n), true
}

func fieldAsBool(v any, path string) (bool, bool) {
	raw, ok := fieldAt(v, path)
	if !ok {
		return false, false
	}
	b, ok := raw.(bool)
	return b, ok
}

func fieldAsSlice(v any, path string) ([]any, bool) {
	raw, ok := fieldAt(v, path)
	if !ok {
		return nil, false
	}
	s, ok := raw.([]any)
	return s, ok
}

func fieldAsString(v any, path string) (string, bool) {
	raw, ok := fieldAt(v, path)
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok
}

// clampTimeout keeps operators from configuring a zero-duration client.
func clampTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 15 * time.Second
	}
	return d
}
