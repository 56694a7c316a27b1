package core

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultStateTTL             = time.Hour
	MinStateSignatureLength     = 10
	MaxStateSignatureLength     = 64
	DefaultStateSignatureLength = MaxStateSignatureLength
	DefaultTokenExpiresIn       = 21600
	DefaultOAuthRequestTimeout  = 30 * time.Second
	DefaultRefreshSweepWindow   = 30 * time.Minute
	DefaultRefreshSweepLimit    = 100
)

type StateConfig struct {
	Secret          string        `koanf:"secret" mapstructure:"secret"`
	TTL             time.Duration `koanf:"ttl" mapstructure:"ttl"`
	SignatureLength int           `koanf:"signature_length" mapstructure:"signature_length"`
}

type SecurityConfig struct {
	EncryptionKey string `koanf:"encryption_key" mapstructure:"encryption_key"`
	KeyID         string `koanf:"key_id" mapstructure:"key_id"`
	KeyVersion    int    `koanf:"key_version" mapstructure:"key_version"`
}

type OAuthConfig struct {
	APIBaseURL       string        `koanf:"api_base_url" mapstructure:"api_base_url"`
	RequestTimeout   time.Duration `koanf:"request_timeout" mapstructure:"request_timeout"`
	DefaultExpiresIn int           `koanf:"default_expires_in" mapstructure:"default_expires_in"`
}

type RefreshConfig struct {
	Leeway      time.Duration `koanf:"leeway" mapstructure:"leeway"`
	SweepWindow time.Duration `koanf:"sweep_window" mapstructure:"sweep_window"`
	SweepLimit  int           `koanf:"sweep_limit" mapstructure:"sweep_limit"`
}

type Config struct {
	ServiceName  string         `koanf:"service_name" mapstructure:"service_name"`
	AppBaseURL   string         `koanf:"app_base_url" mapstructure:"app_base_url"`
	CallbackPath string         `koanf:"callback_path" mapstructure:"callback_path"`
	FrontendURL  string         `koanf:"frontend_url" mapstructure:"frontend_url"`
	EnabledSites []string       `koanf:"enabled_sites" mapstructure:"enabled_sites"`
	State        StateConfig    `koanf:"state" mapstructure:"state"`
	Security     SecurityConfig `koanf:"security" mapstructure:"security"`
	OAuth        OAuthConfig    `koanf:"oauth" mapstructure:"oauth"`
	Refresh      RefreshConfig  `koanf:"refresh" mapstructure:"refresh"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:  "meli-connect",
		AppBaseURL:   "http://localhost:8080",
		CallbackPath: "/api/ml/callback",
		State: StateConfig{
			TTL:             DefaultStateTTL,
			SignatureLength: DefaultStateSignatureLength,
		},
		Security: SecurityConfig{
			KeyID:      "meli-app-key",
			KeyVersion: 1,
		},
		OAuth: OAuthConfig{
			APIBaseURL:       "https://api.mercadolibre.com",
			RequestTimeout:   DefaultOAuthRequestTimeout,
			DefaultExpiresIn: DefaultTokenExpiresIn,
		},
		Refresh: RefreshConfig{
			SweepWindow: DefaultRefreshSweepWindow,
			SweepLimit:  DefaultRefreshSweepLimit,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("%w: service_name is required", ErrValidation)
	}
	if strings.TrimSpace(c.AppBaseURL) == "" {
		return fmt.Errorf("%w: app_base_url is required", ErrValidation)
	}
	if parsed, err := url.Parse(c.AppBaseURL); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%w: app_base_url must be an absolute url", ErrValidation)
	}
	if !strings.HasPrefix(strings.TrimSpace(c.CallbackPath), "/") {
		return fmt.Errorf("%w: callback_path must start with /", ErrValidation)
	}
	if c.State.TTL < 0 {
		return fmt.Errorf("%w: state.ttl must be positive", ErrValidation)
	}
	if length := c.State.SignatureLength; length != 0 && (length < MinStateSignatureLength || length > MaxStateSignatureLength) {
		return fmt.Errorf("%w: state.signature_length must be between %d and %d", ErrValidation, MinStateSignatureLength, MaxStateSignatureLength)
	}
	if c.Refresh.Leeway < 0 {
		return fmt.Errorf("%w: refresh.leeway cannot be negative", ErrValidation)
	}
	for _, site := range c.EnabledSites {
		if _, ok := LookupSite(site); !ok {
			return fmt.Errorf("%w: %q", ErrUnsupportedSite, site)
		}
	}
	return nil
}

// CallbackURL returns the absolute callback endpoint for a single attempt.
func (c Config) CallbackURL(callbackID string) string {
	base := strings.TrimRight(strings.TrimSpace(c.AppBaseURL), "/")
	path := "/" + strings.Trim(strings.TrimSpace(c.CallbackPath), "/")
	return base + path + "/" + url.PathEscape(callbackID)
}

func (c Config) siteEnabled(site SiteID) bool {
	if len(c.EnabledSites) == 0 {
		return true
	}
	for _, enabled := range c.EnabledSites {
		if strings.EqualFold(strings.TrimSpace(enabled), string(site)) {
			return true
		}
	}
	return false
}

func (c Config) stateTTL() time.Duration {
	if c.State.TTL <= 0 {
		return DefaultStateTTL
	}
	return c.State.TTL
}

func (c Config) stateSignatureLength() int {
	if c.State.SignatureLength <= 0 {
		return DefaultStateSignatureLength
	}
	return c.State.SignatureLength
}

func (c Config) defaultExpiresIn() int {
	if c.OAuth.DefaultExpiresIn <= 0 {
		return DefaultTokenExpiresIn
	}
	return c.OAuth.DefaultExpiresIn
}
