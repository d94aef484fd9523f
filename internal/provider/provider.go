package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"
)

// AuthNone marks an endpoint that needs no credential.
const AuthNone = "none"

// ErrOutOfBand is returned when a parsed price falls outside the accepted band.
var ErrOutOfBand = errors.New("price out of band")

// Endpoint is one configured third-party price source.
// Loaded once from endpoints.json and never mutated afterwards.
type Endpoint struct {
	Name          string            `json:"name"`
	URL           string            `json:"url"`
	PricePath     string            `json:"price_path"`
	TimestampPath string            `json:"timestamp_path,omitempty"`
	AuthParam     string            `json:"auth_param"`
	Priority      int               `json:"priority"`
	Description   string            `json:"description,omitempty"`
	Invert        bool              `json:"invert,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
}

// NeedsAuth reports whether the endpoint requires a credential.
func (e Endpoint) NeedsAuth() bool {
	return e.AuthParam != "" && e.AuthParam != AuthNone
}

// Satisfiable reports whether creds carry the credential the endpoint needs.
func (e Endpoint) Satisfiable(creds url.Values) bool {
	if !e.NeedsAuth() {
		return true
	}
	return creds.Get(e.AuthParam) != ""
}

// Sample is the resolved price for one page load.
type Sample struct {
	Price     float64   `json:"price"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Live      bool      `json:"is_live"`
	LastKnown bool      `json:"is_last_known"`
}

// Band is the inclusive range of plausible prices.
type Band struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Check returns ErrOutOfBand when price lies outside the band.
func (b Band) Check(price float64) error {
	if price < b.Min || price > b.Max {
		return fmt.Errorf("%w: %g not in [%g, %g]", ErrOutOfBand, price, b.Min, b.Max)
	}
	return nil
}

// Fetcher performs a single request against one endpoint.
type Fetcher interface {
	Fetch(ctx context.Context, ep Endpoint, creds url.Values) (Sample, error)
}
