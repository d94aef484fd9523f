package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Server struct {
	Port              string `json:"port" yaml:"port"`
	RequestTimeoutSec int    `json:"request_timeout_sec" yaml:"request_timeout_sec"`
	RecipientParam    string `json:"recipient_param" yaml:"recipient_param"`
}

type Data struct {
	// Dir is read when BaseURL is empty.
	Dir string `json:"dir" yaml:"dir"`
	// BaseURL fetches the documents over HTTP, e.g. from the page's origin.
	BaseURL string `json:"base_url" yaml:"base_url"`
}

type Fetch struct {
	TimeoutSec       int     `json:"timeout_sec" yaml:"timeout_sec"`
	Attempts         int     `json:"attempts" yaml:"attempts"`
	InitialBackoffMS int     `json:"initial_backoff_ms" yaml:"initial_backoff_ms"`
	MaxBackoffMS     int     `json:"max_backoff_ms" yaml:"max_backoff_ms"`
	PriceMin         float64 `json:"price_min" yaml:"price_min"`
	PriceMax         float64 `json:"price_max" yaml:"price_max"`
	// Credentials are server-side auth values keyed by endpoint auth parameter.
	Credentials map[string]string `json:"credentials" yaml:"credentials"`
}

type Cache struct {
	TTLSeconds int `json:"ttl_sec" yaml:"ttl_sec"`
	MaxItems   int `json:"max_items" yaml:"max_items"`
}

type Commodity struct {
	Name     string `json:"name" yaml:"name"`
	Unit     string `json:"unit" yaml:"unit"`
	Currency string `json:"currency" yaml:"currency"`
}

type Log struct {
	Level string `json:"level" yaml:"level"`
}

type Config struct {
	Server    Server    `json:"server" yaml:"server"`
	Data      Data      `json:"data" yaml:"data"`
	Fetch     Fetch     `json:"fetch" yaml:"fetch"`
	Cache     Cache     `json:"cache" yaml:"cache"`
	Commodity Commodity `json:"commodity" yaml:"commodity"`
	Log       Log       `json:"log" yaml:"log"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 30, RecipientParam: "to"},
		Data:   Data{Dir: "data"},
		Fetch: Fetch{
			TimeoutSec:       8,
			Attempts:         3,
			InitialBackoffMS: 1000,
			MaxBackoffMS:     8000,
			PriceMin:         10,
			PriceMax:         200,
			Credentials:      map[string]string{},
		},
		Cache:     Cache{TTLSeconds: 30, MaxItems: 64},
		Commodity: Commodity{Name: "silver", Unit: "oz", Currency: "USD"},
		Log:       Log{Level: "info"},
	}
}

// Load reads config from path. If path is empty, config.json, config.yaml and
// config.yml are tried in order; a missing file yields defaults. A .env file,
// when present, is loaded first, and environment variables override fields.
func Load(path string) (Config, error) {
	cfg := Default()
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		for _, candidate := range []string{"config.json", "config.yaml", "config.yml"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := decode(path, b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg, os.Environ())
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decode(path string, b []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(b, cfg)
	default:
		return json.Unmarshal(b, cfg)
	}
}

// Validate rejects settings the fetch pipeline cannot run with.
func (c Config) Validate() error {
	if c.Fetch.PriceMin > c.Fetch.PriceMax {
		return fmt.Errorf("config: price_min %g above price_max %g", c.Fetch.PriceMin, c.Fetch.PriceMax)
	}
	if c.Fetch.Attempts <= 0 {
		return fmt.Errorf("config: attempts must be positive, got %d", c.Fetch.Attempts)
	}
	if c.Server.RecipientParam == "" {
		return fmt.Errorf("config: recipient_param must not be empty")
	}
	if c.Data.BaseURL != "" {
		if _, err := url.ParseRequestURI(c.Data.BaseURL); err != nil {
			return fmt.Errorf("config: data base_url: %w", err)
		}
	}
	return nil
}

// CredentialValues returns the configured credentials as query values.
func (c Config) CredentialValues() url.Values {
	v := url.Values{}
	for k, val := range c.Fetch.Credentials {
		if val != "" {
			v.Set(k, val)
		}
	}
	return v
}

func (f Fetch) Timeout() time.Duration { return time.Duration(f.TimeoutSec) * time.Second }
func (f Fetch) InitialBackoff() time.Duration {
	return time.Duration(f.InitialBackoffMS) * time.Millisecond
}
func (f Fetch) MaxBackoff() time.Duration  { return time.Duration(f.MaxBackoffMS) * time.Millisecond }
func (c Cache) TTL() time.Duration         { return time.Duration(c.TTLSeconds) * time.Second }
func (s Server) Timeout() time.Duration    { return time.Duration(s.RequestTimeoutSec) * time.Second }

// credentialPrefix marks env vars carrying endpoint credentials:
// APIKEY_TOKEN=abc sets the credential for auth parameter "token".
const credentialPrefix = "APIKEY_"

func applyEnv(cfg *Config, environ []string) {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		env[k] = v
		if strings.HasPrefix(k, credentialPrefix) && v != "" {
			if cfg.Fetch.Credentials == nil {
				cfg.Fetch.Credentials = map[string]string{}
			}
			cfg.Fetch.Credentials[strings.ToLower(strings.TrimPrefix(k, credentialPrefix))] = v
		}
	}

	if v := env["PORT"]; v != "" {
		cfg.Server.Port = v
	}
	if x, ok := envInt(env["REQUEST_TIMEOUT_SEC"]); ok && x > 0 {
		cfg.Server.RequestTimeoutSec = x
	}
	if v := env["RECIPIENT_PARAM"]; v != "" {
		cfg.Server.RecipientParam = v
	}
	if v := env["LOG_LEVEL"]; v != "" {
		cfg.Log.Level = v
	}
	if v := env["DATA_DIR"]; v != "" {
		cfg.Data.Dir = v
	}
	if v := env["DATA_BASE_URL"]; v != "" {
		cfg.Data.BaseURL = v
	}
	if x, ok := envInt(env["FETCH_TIMEOUT_SEC"]); ok && x > 0 {
		cfg.Fetch.TimeoutSec = x
	}
	if x, ok := envInt(env["FETCH_ATTEMPTS"]); ok && x > 0 {
		cfg.Fetch.Attempts = x
	}
	if x, ok := envInt(env["FETCH_BACKOFF_MS"]); ok && x >= 0 {
		cfg.Fetch.InitialBackoffMS = x
	}
	if v := env["PRICE_MIN"]; v != "" {
		var x float64
		if _, err := fmt.Sscanf(v, "%g", &x); err == nil {
			cfg.Fetch.PriceMin = x
		}
	}
	if v := env["PRICE_MAX"]; v != "" {
		var x float64
		if _, err := fmt.Sscanf(v, "%g", &x); err == nil {
			cfg.Fetch.PriceMax = x
		}
	}
	if x, ok := envInt(env["CACHE_TTL_SEC"]); ok && x >= 0 {
		cfg.Cache.TTLSeconds = x
	}
	if v := env["CURRENCY"]; v != "" {
		cfg.Commodity.Currency = v
	}
}

// envInt parses v as a decimal integer; malformed values are reported as absent.
func envInt(v string) (int, bool) {
	if v == "" {
		return 0, false
	}
	var x int
	if _, err := fmt.Sscanf(v, "%d", &x); err != nil {
		return 0, false
	}
	return x, true
}
