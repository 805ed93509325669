package allowlist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Fetcher pulls the allowed caller patterns from the remote numbers API.
//
// The API contract is loose by necessity: deployments differ in HTTP method,
// auth header name and response envelope. The fetcher is configured for all
// three and falls back to common envelope keys when the configured one is
// absent (matching the upstream API variants seen in the field).
type Fetcher struct {
	URL        string
	AuthToken  string
	AuthHeader string
	Method     string
	DataKey    string

	// Client is overridable for tests; defaults to a client with a 30s timeout.
	Client *http.Client

	// Log defaults to slog.Default when unset.
	Log *slog.Logger
}

func (f *Fetcher) logger() *slog.Logger {
	if f.Log != nil {
		return f.Log
	}
	return slog.Default()
}

var ErrBadResponse = errors.New("allowlist: could not extract numbers from response")

const fetchTimeout = 30 * time.Second

// Fetch performs one request and returns the cleaned pattern list.
func (f *Fetcher) Fetch(ctx context.Context) ([]string, error) {
	var body io.Reader
	if f.Method == http.MethodPost {
		// Empty JSON body; some gateways reject POST without one.
		body = bytes.NewReader([]byte("{}"))
	}

	req, err := http.NewRequestWithContext(ctx, f.Method, f.URL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if f.AuthToken != "" {
		req.Header.Set(f.AuthHeader, f.AuthToken)
	}

	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("allowlist: unexpected status %d from %s", resp.StatusCode, f.URL)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	numbers, err := extractNumbers(raw, f.DataKey, f.logger())
	if err != nil {
		return nil, err
	}
	return cleanNumbers(numbers), nil
}

// extractNumbers handles both envelope shapes: a bare JSON array, or an
// object carrying the array under dataKey (or one of the common fallbacks).
func extractNumbers(raw []byte, dataKey string, log *slog.Logger) ([]string, error) {
	var asList []any
	if err := json.Unmarshal(raw, &asList); err == nil {
		return toStrings(asList)
	}

	var asObject map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asObject); err != nil {
		return nil, fmt.Errorf("%w: invalid json: %v", ErrBadResponse, err)
	}

	if statusRaw, ok := asObject["status"]; ok {
		var status string
		if err := json.Unmarshal(statusRaw, &status); err == nil && status != "" && status != "success" {
			log.Warn("allowlist api returned non-success status", "status", status)
		}
	}

	keys := []string{dataKey, "data", "numbers", "valid_numbers", "patterns"}
	for _, key := range keys {
		if key == "" {
			continue
		}
		v, ok := asObject[key]
		if !ok {
			continue
		}
		var list []any
		if err := json.Unmarshal(v, &list); err != nil {
			continue
		}
		return toStrings(list)
	}

	return nil, ErrBadResponse
}

func toStrings(list []any) ([]string, error) {
	out := make([]string, 0, len(list))
	for _, v := range list {
		switch t := v.(type) {
		case string:
			out = append(out, t)
		case float64:
			// Bare numeric entries appear in some responses.
			out = append(out, strings.TrimSuffix(fmt.Sprintf("%.0f", t), "."))
		case nil:
			continue
		default:
			return nil, fmt.Errorf("%w: entry of type %T", ErrBadResponse, v)
		}
	}
	return out, nil
}

func cleanNumbers(in []string) []string {
	out := make([]string, 0, len(in))
	for _, n := range in {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		out = append(out, n)
	}
	return out
}
