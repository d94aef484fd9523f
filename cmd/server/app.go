package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"time"

	"giftvalue/internal/config"
	"giftvalue/internal/data"
	"giftvalue/internal/httpx"
	"giftvalue/internal/logger"
	"giftvalue/internal/provider"
	"giftvalue/internal/provider/cache"
	"giftvalue/internal/provider/endpoint"
	"giftvalue/internal/provider/fallback"
	"giftvalue/internal/render"
)

// app holds everything one page load needs. Nothing here is mutated per
// request except the sample cache.
type app struct {
	src            data.Source
	orch           *fallback.Orchestrator
	samples        *cache.Samples
	log            logger.Logger
	creds          url.Values
	commodity      render.Commodity
	recipientParam string
	reqTimeout     time.Duration
	now            func() time.Time
}

func newApp(cfg config.Config, clog logger.Logger) *app {
	hc := httpx.New(cfg.Fetch.Timeout())

	var src data.Source = data.Dir(cfg.Data.Dir)
	if cfg.Data.BaseURL != "" {
		src = data.Remote{BaseURL: cfg.Data.BaseURL, Client: hc}
	}

	client := endpoint.NewClient(
		endpoint.WithHTTPClient(hc),
		endpoint.WithTimeout(cfg.Fetch.Timeout()),
	)
	orch := fallback.New(client,
		fallback.WithBand(provider.Band{Min: cfg.Fetch.PriceMin, Max: cfg.Fetch.PriceMax}),
		fallback.WithRetry(fallback.RetryConfig{
			Attempts:       cfg.Fetch.Attempts,
			InitialBackoff: cfg.Fetch.InitialBackoff(),
			MaxBackoff:     cfg.Fetch.MaxBackoff(),
		}),
		fallback.WithLogger(clog),
	)

	return &app{
		src:            src,
		orch:           orch,
		samples:        &cache.Samples{TTL: cfg.Cache.TTL(), MaxItems: cfg.Cache.MaxItems},
		log:            clog,
		creds:          cfg.CredentialValues(),
		commodity:      render.Commodity(cfg.Commodity),
		recipientParam: cfg.Server.RecipientParam,
		reqTimeout:     cfg.Server.Timeout(),
		now:            time.Now,
	}
}

// page runs the whole page-load pipeline for one request query.
func (a *app) page(ctx context.Context, query url.Values) render.Page {
	bundle := data.Load(ctx, a.src, a.log)
	in := render.Input{
		Choices:   bundle.Recipients.Choices(),
		Series:    bundle.History,
		Commodity: a.commodity,
		Now:       a.now(),
	}

	rec, ok := bundle.Recipients.Lookup(query.Get(a.recipientParam))
	if !ok {
		// Selection view needs no price.
		return render.Render(in)
	}
	in.Recipient = &rec

	// Bound the price lookup so the page is written before the server gives
	// up on the connection; an expired lookup still yields the last known price.
	if a.reqTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.reqTimeout)
		defer cancel()
	}

	creds := a.credentials(query)
	key := credentialKey(bundle.Endpoints, creds)
	s, err := a.samples.Get(ctx, key, func(ctx context.Context) (provider.Sample, error) {
		return a.orch.Resolve(ctx, bundle.Endpoints, bundle.History, creds)
	})
	if err != nil {
		a.log.Warnf("page: no price for %s (request_id=%s): %v", rec.ID, requestID(ctx), err)
	} else {
		in.Sample = &s
	}
	return render.Render(in)
}

// credentials merges server-side credentials with those in the page query.
// Query values win.
func (a *app) credentials(query url.Values) url.Values {
	out := url.Values{}
	for k, v := range a.creds {
		out[k] = append([]string(nil), v...)
	}
	for k, v := range query {
		if k == a.recipientParam || len(v) == 0 || v[0] == "" {
			continue
		}
		out.Set(k, v[0])
	}
	return out
}

// credentialKey names the credentials that unlock endpoints, so cached
// samples are never shared across different credential sets. Values enter
// the key only as a truncated sha256.
func credentialKey(eps []provider.Endpoint, creds url.Values) string {
	set := map[string]struct{}{}
	for _, ep := range eps {
		if ep.NeedsAuth() && ep.Satisfiable(creds) {
			set[ep.AuthParam] = struct{}{}
		}
	}
	params := make([]string, 0, len(set))
	for p := range set {
		sum := sha256.Sum256([]byte(creds.Get(p)))
		params = append(params, p+"="+hex.EncodeToString(sum[:8]))
	}
	sort.Strings(params)
	return "auth:" + strings.Join(params, ",")
}
