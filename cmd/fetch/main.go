// Command fetch runs the price pipeline once and prints the result as JSON.
// It is meant for checking endpoints.json against the live sources.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	"giftvalue/internal/config"
	"giftvalue/internal/data"
	"giftvalue/internal/httpx"
	"giftvalue/internal/logger"
	"giftvalue/internal/provider"
	"giftvalue/internal/provider/endpoint"
	"giftvalue/internal/provider/fallback"
	"giftvalue/internal/render"
)

func main() {
	var configPath string
	var recipientID string
	var timeout int
	var each bool
	var keysCSV string

	flag.StringVar(&configPath, "config", getenv("CONFIG_FILE", ""), "path to config.json or config.yaml (optional)")
	flag.StringVar(&recipientID, "to", getenv("RECIPIENT", ""), "recipient id; when set the rendered page is printed instead of the sample")
	flag.IntVar(&timeout, "timeout", getenvInt("REQUEST_TIMEOUT_SEC", 30), "overall timeout seconds")
	flag.BoolVar(&each, "each", false, "query every endpoint once and report each result")
	flag.StringVar(&keysCSV, "keys", "", "extra credentials as param=value pairs, comma-separated")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	clog, err := logger.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer clog.Close()

	hc := httpx.New(cfg.Fetch.Timeout())
	var src data.Source = data.Dir(cfg.Data.Dir)
	if cfg.Data.BaseURL != "" {
		src = data.Remote{BaseURL: cfg.Data.BaseURL, Client: hc}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	bundle := data.Load(ctx, src, clog)
	if len(bundle.Endpoints) == 0 {
		log.Fatal("no endpoints configured; check endpoints.json")
	}

	creds := cfg.CredentialValues()
	for k, v := range parseKeys(keysCSV) {
		creds.Set(k, v)
	}

	client := endpoint.NewClient(endpoint.WithHTTPClient(hc), endpoint.WithTimeout(cfg.Fetch.Timeout()))
	band := provider.Band{Min: cfg.Fetch.PriceMin, Max: cfg.Fetch.PriceMax}

	if each {
		printJSON(probe(ctx, client, band, bundle.Endpoints, creds))
		return
	}

	orch := fallback.New(client,
		fallback.WithBand(band),
		fallback.WithRetry(fallback.RetryConfig{
			Attempts:       cfg.Fetch.Attempts,
			InitialBackoff: cfg.Fetch.InitialBackoff(),
			MaxBackoff:     cfg.Fetch.MaxBackoff(),
		}),
		fallback.WithLogger(clog),
	)
	s, err := orch.Resolve(ctx, bundle.Endpoints, bundle.History, creds)
	if recipientID == "" {
		if err != nil {
			log.Fatalf("no price: %v", err)
		}
		printJSON(s)
		return
	}

	rec, ok := bundle.Recipients.Lookup(recipientID)
	if !ok {
		log.Fatalf("unknown recipient %q", recipientID)
	}
	in := render.Input{
		Recipient: &rec,
		Series:    bundle.History,
		Commodity: render.Commodity(cfg.Commodity),
		Now:       time.Now(),
	}
	if err != nil {
		clog.Warnf("no price: %v", err)
	} else {
		in.Sample = &s
	}
	printJSON(render.Render(in))
}

type probeResult struct {
	Endpoint string           `json:"endpoint"`
	Sample   *provider.Sample `json:"sample,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// probe calls every endpoint once, in candidate order, without retries.
func probe(ctx context.Context, f provider.Fetcher, band provider.Band, eps []provider.Endpoint, creds url.Values) []probeResult {
	out := make([]probeResult, 0, len(eps))
	for _, ep := range eps {
		r := probeResult{Endpoint: ep.Name}
		if !ep.Satisfiable(creds) {
			r.Error = "skipped: no " + ep.AuthParam + " credential"
			out = append(out, r)
			continue
		}
		s, err := f.Fetch(ctx, ep, creds)
		if err == nil {
			err = band.Check(s.Price)
		}
		if err != nil {
			r.Error = err.Error()
		} else {
			r.Sample = &s
		}
		out = append(out, r)
	}
	return out
}

func parseKeys(s string) map[string]string {
	out := map[string]string{}
	for _, p := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if ok && k != "" && v != "" {
			out[k] = v
		}
	}
	return out
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var x int
		_, _ = fmt.Sscanf(v, "%d", &x)
		if x != 0 {
			return x
		}
	}
	return def
}
