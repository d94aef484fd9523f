package endpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"giftvalue/internal/provider"
	"giftvalue/internal/provider/jsonpath"
)

// ErrMissingCredential is returned for an endpoint whose auth parameter has no value.
var ErrMissingCredential = errors.New("missing credential")

// StatusError reports a non-2xx response.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status code %d: %s", e.Endpoint, e.Code, e.Body)
}

// Fetch performs one GET against ep and extracts the price and timestamp.
// The band is not checked here.
func (c *Client) Fetch(ctx context.Context, ep provider.Endpoint, creds url.Values) (provider.Sample, error) {
	target, err := BuildURL(ep, creds)
	if err != nil {
		return provider.Sample{}, err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return provider.Sample{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.header.Clone()
	for k, v := range ep.Headers {
		req.Header.Set(k, v)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			uerr.URL = redact(uerr.URL, ep, creds)
		}
		return provider.Sample{}, fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return provider.Sample{}, &StatusError{Endpoint: ep.Name, Code: res.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	var body any
	dec := json.NewDecoder(io.LimitReader(res.Body, c.maxBody))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return provider.Sample{}, fmt.Errorf("decoding response: %w", err)
	}

	price, err := jsonpath.Number(body, ep.PricePath, ep.Invert)
	if err != nil {
		return provider.Sample{}, fmt.Errorf("extracting price: %w", err)
	}

	ts := c.now().UTC()
	if ep.TimestampPath != "" {
		// A missing or odd timestamp never fails the sample.
		if t, err := jsonpath.Time(body, ep.TimestampPath); err == nil {
			ts = t
		}
	}

	return provider.Sample{
		Price:     price,
		Source:    ep.Name,
		Timestamp: ts,
		Live:      true,
	}, nil
}

// BuildURL expands the endpoint template with its credential. The credential
// replaces AuthPlaceholder when present, otherwise it is appended as the
// endpoint's auth query parameter.
func BuildURL(ep provider.Endpoint, creds url.Values) (string, error) {
	raw := strings.TrimSpace(ep.URL)
	if raw == "" {
		return "", fmt.Errorf("%s: empty url", ep.Name)
	}
	if !ep.NeedsAuth() {
		return strings.ReplaceAll(raw, AuthPlaceholder, ""), nil
	}

	key := creds.Get(ep.AuthParam)
	if key == "" {
		return "", fmt.Errorf("%s: %w: %s", ep.Name, ErrMissingCredential, ep.AuthParam)
	}
	if strings.Contains(raw, AuthPlaceholder) {
		return strings.ReplaceAll(raw, AuthPlaceholder, url.QueryEscape(key)), nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%s: parsing url: %w", ep.Name, err)
	}
	q := u.Query()
	q.Set(ep.AuthParam, key)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// redact hides the endpoint credential in s so errors can be logged.
func redact(s string, ep provider.Endpoint, creds url.Values) string {
	if !ep.NeedsAuth() {
		return s
	}
	key := creds.Get(ep.AuthParam)
	if key == "" {
		return s
	}
	s = strings.ReplaceAll(s, url.QueryEscape(key), "REDACTED")
	return strings.ReplaceAll(s, key, "REDACTED")
}
