package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type lookupFunc func(key string) (string, bool)

type envKind int

const (
	envString envKind = iota
	envInt
	envDuration
	envList
)

// serviceEnv maps MELI_* variables onto dotted core.Config keys.
var serviceEnv = []struct {
	env  string
	path string
	kind envKind
}{
	{env: "MELI_SERVICE_NAME", path: "service_name", kind: envString},
	{env: "MELI_APP_BASE_URL", path: "app_base_url", kind: envString},
	{env: "MELI_CALLBACK_PATH", path: "callback_path", kind: envString},
	{env: "MELI_FRONTEND_URL", path: "frontend_url", kind: envString},
	{env: "MELI_ENABLED_SITES", path: "enabled_sites", kind: envList},
	{env: "MELI_STATE_SECRET", path: "state.secret", kind: envString},
	{env: "MELI_STATE_TTL", path: "state.ttl", kind: envDuration},
	{env: "MELI_STATE_SIGNATURE_LENGTH", path: "state.signature_length", kind: envInt},
	{env: "MELI_ENCRYPTION_KEY", path: "security.encryption_key", kind: envString},
	{env: "MELI_ENCRYPTION_KEY_ID", path: "security.key_id", kind: envString},
	{env: "MELI_ENCRYPTION_KEY_VERSION", path: "security.key_version", kind: envInt},
	{env: "MELI_API_BASE_URL", path: "oauth.api_base_url", kind: envString},
	{env: "MELI_OAUTH_TIMEOUT", path: "oauth.request_timeout", kind: envDuration},
	{env: "MELI_DEFAULT_EXPIRES_IN", path: "oauth.default_expires_in", kind: envInt},
	{env: "MELI_REFRESH_LEEWAY", path: "refresh.leeway", kind: envDuration},
	{env: "MELI_REFRESH_SWEEP_WINDOW", path: "refresh.sweep_window", kind: envDuration},
	{env: "MELI_REFRESH_SWEEP_LIMIT", path: "refresh.sweep_limit", kind: envInt},
}

// settings holds the process-level knobs that are not part of core.Config.
type settings struct {
	HTTPAddr        string
	DatabaseDriver  string
	DatabaseURL     string
	JWTSecret       string
	LogLevel        string
	RefreshInterval time.Duration
	CacheTTL        time.Duration
	QueueCapacity   int
}

func osLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

func loadSettings(lookup lookupFunc) (settings, error) {
	out := settings{
		HTTPAddr:        envOr(lookup, "MELI_HTTP_ADDR", ":8080"),
		DatabaseDriver:  envOr(lookup, "MELI_DATABASE_DRIVER", "sqlite3"),
		DatabaseURL:     envOr(lookup, "MELI_DATABASE_URL", "file:meli-connect.db?cache=shared&_foreign_keys=on"),
		JWTSecret:       envOr(lookup, "MELI_JWT_SECRET", ""),
		LogLevel:        envOr(lookup, "MELI_LOG_LEVEL", "info"),
		RefreshInterval: 5 * time.Minute,
		CacheTTL:        time.Minute,
		QueueCapacity:   256,
	}
	var err error
	if out.RefreshInterval, err = durationEnv(lookup, "MELI_REFRESH_INTERVAL", out.RefreshInterval); err != nil {
		return settings{}, err
	}
	if out.CacheTTL, err = durationEnv(lookup, "MELI_CACHE_TTL", out.CacheTTL); err != nil {
		return settings{}, err
	}
	if raw := envOr(lookup, "MELI_QUEUE_CAPACITY", ""); raw != "" {
		if out.QueueCapacity, err = strconv.Atoi(raw); err != nil {
			return settings{}, fmt.Errorf("MELI_QUEUE_CAPACITY: %w", err)
		}
	}
	return out, nil
}

// serviceConfigRaw builds the nested raw map consumed by the cfgx provider.
// Unset variables are left out so defaults apply.
func serviceConfigRaw(lookup lookupFunc) (map[string]any, error) {
	raw := map[string]any{}
	for _, entry := range serviceEnv {
		value := envOr(lookup, entry.env, "")
		if value == "" {
			continue
		}
		var parsed any
		switch entry.kind {
		case envInt:
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", entry.env, err)
			}
			parsed = n
		case envDuration:
			d, err := time.ParseDuration(value)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", entry.env, err)
			}
			parsed = d
		case envList:
			var items []string
			for _, item := range strings.Split(value, ",") {
				if item = strings.ToUpper(strings.TrimSpace(item)); item != "" {
					items = append(items, item)
				}
			}
			parsed = items
		default:
			parsed = value
		}
		setPath(raw, entry.path, parsed)
	}
	return raw, nil
}

func setPath(target map[string]any, path string, value any) {
	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		target[head] = value
		return
	}
	child, ok := target[head].(map[string]any)
	if !ok {
		child = map[string]any{}
		target[head] = child
	}
	setPath(child, rest, value)
}

func envOr(lookup lookupFunc, key string, fallback string) string {
	if value, ok := lookup(key); ok {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return fallback
}

func durationEnv(lookup lookupFunc, key string, fallback time.Duration) (time.Duration, error) {
	raw := envOr(lookup, key, "")
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
