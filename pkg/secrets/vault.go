// Package secrets loads credentials from a HashiCorp Vault KV engine into the
// process environment before configuration is read.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultKeys are the credentials the queue services read from the environment.
var DefaultKeys = []string{
	"DB_PASSWORD",
	"REDIS_PASSWORD",
	"WHATSAPP_ACCESS_TOKEN",
	"PUBNUB_PUBLISH_KEY",
	"PUBNUB_SUBSCRIBE_KEY",
	"PUBNUB_SECRET_KEY",
}

// ErrIncompleteConfig is returned when Vault is enabled without an address, token or path
var ErrIncompleteConfig = errors.New("vault enabled but VAULT_ADDR, VAULT_TOKEN or VAULT_PATH is empty")

// Config describes where the secret lives and how to apply it
type Config struct {
	Enabled   bool
	Addr      string
	Token     string
	Namespace string
	Mount     string
	Path      string
	KVVersion int
	Timeout   time.Duration
	// Overwrite replaces variables that are already set
	Overwrite bool
	// Keys limits which fields are exported; empty exports every field
	Keys []string
}

// Result reports what a load did
type Result struct {
	Enabled bool
	Path    string
	Loaded  []string
	Skipped []string
}

// ConfigFromEnv reads VAULT_* variables
func ConfigFromEnv() Config {
	cfg := Config{
		Enabled:   strings.EqualFold(os.Getenv("VAULT_ENABLED"), "true"),
		Addr:      os.Getenv("VAULT_ADDR"),
		Token:     os.Getenv("VAULT_TOKEN"),
		Namespace: os.Getenv("VAULT_NAMESPACE"),
		Mount:     "secret",
		Path:      os.Getenv("VAULT_PATH"),
		KVVersion: 2,
		Timeout:   5 * time.Second,
		Overwrite: strings.EqualFold(os.Getenv("VAULT_OVERWRITE"), "true"),
		Keys:      DefaultKeys,
	}
	if v := os.Getenv("VAULT_MOUNT"); v != "" {
		cfg.Mount = v
	}
	if v, err := strconv.Atoi(os.Getenv("VAULT_KV_VERSION")); err == nil && (v == 1 || v == 2) {
		cfg.KVVersion = v
	}
	if v, err := time.ParseDuration(os.Getenv("VAULT_TIMEOUT")); err == nil && v > 0 {
		cfg.Timeout = v
	}
	return cfg
}

// Load fetches the secret at cfg.Path and exports its fields as environment
// variables. A disabled config is a no-op.
func Load(ctx context.Context, cfg Config) (Result, error) {
	result := Result{Enabled: cfg.Enabled, Path: cfg.Path}
	if !cfg.Enabled {
		return result, nil
	}
	if cfg.Addr == "" || cfg.Token == "" || cfg.Path == "" {
		return result, ErrIncompleteConfig
	}

	fields, err := fetch(ctx, cfg)
	if err != nil {
		return result, err
	}

	allowed := make(map[string]bool, len(cfg.Keys))
	for _, k := range cfg.Keys {
		allowed[k] = true
	}
	for key, value := range fields {
		if len(allowed) > 0 && !allowed[key] {
			continue
		}
		if !cfg.Overwrite && os.Getenv(key) != "" {
			result.Skipped = append(result.Skipped, key)
			continue
		}
		if err := os.Setenv(key, stringify(value)); err != nil {
			return result, fmt.Errorf("failed to export %s: %w", key, err)
		}
		result.Loaded = append(result.Loaded, key)
	}
	return result, nil
}

func fetch(ctx context.Context, cfg Config) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, secretURL(cfg), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build vault request: %w", err)
	}
	req.Header.Set("X-Vault-Token", cfg.Token)
	if cfg.Namespace != "" {
		req.Header.Set("X-Vault-Namespace", cfg.Namespace)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vault request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("vault returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	// KV v2 nests the fields one level deeper than v1
	var payload struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode vault response: %w", err)
	}
	raw := payload.Data
	if cfg.KVVersion == 2 {
		var inner struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("failed to decode vault KV v2 data: %w", err)
		}
		raw = inner.Data
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("vault secret %s has no data", cfg.Path)
	}
	return fields, nil
}

func secretURL(cfg Config) string {
	addr := strings.TrimRight(cfg.Addr, "/")
	mount := strings.Trim(cfg.Mount, "/")
	path := strings.TrimLeft(cfg.Path, "/")
	if cfg.KVVersion == 1 {
		return fmt.Sprintf("%s/v1/%s/%s", addr, mount, path)
	}
	return fmt.Sprintf("%s/v1/%s/data/%s", addr, mount, path)
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}
