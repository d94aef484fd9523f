// Package data loads the three static documents the page depends on.
package data

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"giftvalue/internal/history"
	"giftvalue/internal/httpx"
	"giftvalue/internal/logger"
	"giftvalue/internal/provider"
	"giftvalue/internal/recipient"
)

const (
	EndpointsFile  = "endpoints.json"
	RecipientsFile = "recipients.json"
	HistoryFile    = "history.json"
)

// Files lists the documents that may be served or read.
var Files = []string{EndpointsFile, RecipientsFile, HistoryFile}

// ErrUnknownFile is returned for names outside Files.
var ErrUnknownFile = errors.New("unknown data file")

const maxDocument = 4 << 20

// Source reads one named document.
type Source interface {
	Read(ctx context.Context, name string) ([]byte, error)
}

// Dir reads documents from a local directory.
type Dir string

func (d Dir) Read(_ context.Context, name string) ([]byte, error) {
	if !known(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFile, name)
	}
	b, err := os.ReadFile(filepath.Join(string(d), name))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return b, nil
}

// Remote fetches documents with GET from a base URL, e.g. the page's own origin.
type Remote struct {
	BaseURL string
	Client  *httpx.Client
}

func (r Remote) Read(ctx context.Context, name string) ([]byte, error) {
	if !known(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFile, name)
	}
	u, err := url.Parse(r.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	u.Path = path.Join("/", u.Path, name)

	resp, err := r.Client.Get(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", u.String(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s -> %d", u.String(), resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxDocument))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return b, nil
}

func known(name string) bool {
	for _, f := range Files {
		if f == name {
			return true
		}
	}
	return false
}

// Bundle is one page view's worth of static data.
type Bundle struct {
	Endpoints  []provider.Endpoint
	Recipients recipient.Directory
	History    history.Series
}

// Load reads all three documents. A document that fails to load or parse is
// logged and left empty so the page can still render.
func Load(ctx context.Context, src Source, log logger.Logger) Bundle {
	var b Bundle

	if raw, err := src.Read(ctx, EndpointsFile); err != nil {
		log.Warnf("data: %v", err)
	} else if eps, err := ParseEndpoints(raw); err != nil {
		log.Warnf("data: %v", err)
	} else {
		b.Endpoints = eps
	}

	if raw, err := src.Read(ctx, RecipientsFile); err != nil {
		log.Warnf("data: %v", err)
	} else if dir, err := recipient.Parse(raw); err != nil {
		log.Warnf("data: %v", err)
	} else {
		b.Recipients = dir
	}

	if raw, err := src.Read(ctx, HistoryFile); err != nil {
		log.Warnf("data: %v", err)
	} else if s, err := history.Parse(raw); err != nil {
		log.Warnf("data: %v", err)
	} else {
		b.History = s
	}

	return b
}

// ParseEndpoints decodes endpoints.json strictly. Entries without a URL or a
// price path are dropped; an empty auth parameter means none.
func ParseEndpoints(raw []byte) ([]provider.Endpoint, error) {
	var eps []provider.Endpoint
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&eps); err != nil {
		return nil, fmt.Errorf("parse endpoints: %w", err)
	}
	out := make([]provider.Endpoint, 0, len(eps))
	for _, ep := range eps {
		if strings.TrimSpace(ep.URL) == "" || strings.TrimSpace(ep.PricePath) == "" {
			continue
		}
		if ep.AuthParam == "" {
			ep.AuthParam = provider.AuthNone
		}
		if ep.Name == "" {
			ep.Name = ep.URL
		}
		out = append(out, ep)
	}
	return out, nil
}
