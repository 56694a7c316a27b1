// Package mercadolibre talks to the MercadoLibre OAuth, identity and orders
// endpoints on behalf of a single connection.
package mercadolibre

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/goliatone/go-meli-connect/core"
)

const (
	DefaultAPIBaseURL        = "https://api.mercadolibre.com"
	DefaultAuthURLFormat     = "https://auth.mercadolibre.%s/authorization"
	defaultRequestTimeout    = core.DefaultOAuthRequestTimeout
	maxResponseBodyBytes     = 1 << 20 // 1 MiB
	tokenPath                = "/oauth/token"
	userInfoPath             = "/users/me"
	orderSearchPath          = "/orders/search"
	grantAuthorizationCode   = "authorization_code"
	grantRefreshToken        = "refresh_token"
	defaultTokenType         = "bearer"
	formContentType          = "application/x-www-form-urlencoded"
	jsonAcceptHeader         = "application/json"
	unknownProviderErrorText = "unknown error"
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Config struct {
	APIBaseURL string
	// AuthURLFormat receives the site domain, e.g. "com.co".
	AuthURLFormat  string
	RequestTimeout time.Duration
	HTTPClient     HTTPDoer
}

// Client implements core.OAuthClient and core.MarketplaceClient.
type Client struct {
	cfg        Config
	httpClient HTTPDoer
}

func NewClient(cfg Config) *Client {
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if strings.TrimSpace(cfg.AuthURLFormat) == "" {
		cfg.AuthURLFormat = DefaultAuthURLFormat
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &Client{cfg: cfg, httpClient: httpClient}
}

// NewClientFromConfig builds a client from the oauth section of the service
// configuration.
func NewClientFromConfig(cfg core.Config, httpClient HTTPDoer) *Client {
	return NewClient(Config{
		APIBaseURL:     cfg.OAuth.APIBaseURL,
		RequestTimeout: cfg.OAuth.RequestTimeout,
		HTTPClient:     httpClient,
	})
}

func (c *Client) BuildAuthorizationURL(site core.SiteID, clientID string, redirectURI string, state string) (string, error) {
	if c == nil {
		return "", fmt.Errorf("mercadolibre: client is nil")
	}
	entry, ok := core.LookupSite(string(site))
	if !ok {
		return "", fmt.Errorf("%w: %q", core.ErrUnsupportedSite, site)
	}
	oauthCfg := c.oauthConfig(entry, clientID, redirectURI)
	return oauthCfg.AuthCodeURL(state), nil
}

func (c *Client) ExchangeCode(ctx context.Context, req core.ExchangeCodeRequest) (core.TokenSet, error) {
	if c == nil {
		return core.TokenSet{}, fmt.Errorf("mercadolibre: client is nil")
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return core.TokenSet{}, fmt.Errorf("%w: authorization code is required", core.ErrValidation)
	}

	form := url.Values{}
	form.Set("grant_type", grantAuthorizationCode)
	form.Set("client_id", strings.TrimSpace(req.ClientID))
	form.Set("client_secret", req.ClientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", strings.TrimSpace(req.RedirectURI))

	payload, err := c.fetchToken(ctx, form, core.ErrOAuthExchange)
	if err != nil {
		return core.TokenSet{}, err
	}
	if payload.RefreshToken == "" {
		return core.TokenSet{}, fmt.Errorf("%w: token response missing refresh_token", core.ErrOAuthProtocol)
	}
	return payload.tokenSet(), nil
}

func (c *Client) RefreshToken(ctx context.Context, req core.RefreshTokenRequest) (core.TokenSet, error) {
	if c == nil {
		return core.TokenSet{}, fmt.Errorf("mercadolibre: client is nil")
	}
	refreshToken := strings.TrimSpace(req.RefreshToken)
	if refreshToken == "" {
		return core.TokenSet{}, core.ErrMissingRefreshToken
	}

	form := url.Values{}
	form.Set("grant_type", grantRefreshToken)
	form.Set("client_id", strings.TrimSpace(req.ClientID))
	form.Set("client_secret", req.ClientSecret)
	form.Set("refresh_token", refreshToken)

	payload, err := c.fetchToken(ctx, form, core.ErrOAuthRefresh)
	if err != nil {
		return core.TokenSet{}, err
	}
	return payload.tokenSet(), nil
}

// oauthConfig carries the site endpoints. The token exchange itself stays a
// plain form POST so provider error bodies can be surfaced as-is.
func (c *Client) oauthConfig(site core.Site, clientID, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    strings.TrimSpace(clientID),
		RedirectURL: strings.TrimSpace(redirectURI),
		Endpoint: oauth2.Endpoint{
			AuthURL:   fmt.Sprintf(c.cfg.AuthURLFormat, site.Domain),
			TokenURL:  c.cfg.APIBaseURL + tokenPath,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (c *Client) fetchToken(ctx context.Context, form url.Values, failure error) (tokenPayload, error) {
	body, status, err := c.do(ctx, http.MethodPost, c.cfg.APIBaseURL+tokenPath, strings.NewReader(form.Encode()), func(req *http.Request) {
		req.Header.Set("Content-Type", formContentType)
	})
	if err != nil {
		return tokenPayload{}, classifyTransportError(err, failure)
	}

	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return tokenPayload{}, fmt.Errorf("%w (%d): %s", failure, status, describeProviderError(body))
	}
	payload, err := parseTokenPayload(body)
	if err != nil {
		return tokenPayload{}, fmt.Errorf("%w: decode token response: %v", core.ErrOAuthProtocol, err)
	}
	if payload.AccessToken == "" {
		return tokenPayload{}, fmt.Errorf("%w: token response missing access_token", core.ErrOAuthProtocol)
	}
	return payload, nil
}

func (c *Client) do(
	ctx context.Context,
	method string,
	endpoint string,
	body io.Reader,
	decorate func(*http.Request),
) ([]byte, int, error) {
	if c.httpClient == nil {
		return nil, 0, fmt.Errorf("mercadolibre: http client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	requestCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, method, endpoint, body)
	if err != nil {
		return nil, 0, err
	}
	httpReq.Header.Set("Accept", jsonAcceptHeader)
	if decorate != nil {
		decorate(httpReq)
	}

	response, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBodyBytes+1))
	if err != nil {
		return nil, response.StatusCode, err
	}
	if int64(len(payload)) > maxResponseBodyBytes {
		return nil, response.StatusCode, fmt.Errorf("%w: response exceeds %d bytes", core.ErrOAuthProtocol, maxResponseBodyBytes)
	}
	return payload, response.StatusCode, nil
}

// classifyTransportError maps deadline expiries to ErrOAuthTimeout and any
// other transport failure to the operation's failure sentinel.
func classifyTransportError(err error, failure error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, core.ErrOAuthProtocol) || errors.Is(err, core.ErrValidation) {
		return err
	}
	if isTimeout(err) {
		return fmt.Errorf("%w: %v", core.ErrOAuthTimeout, err)
	}
	return fmt.Errorf("%w: %v", failure, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func bearerToken(accessToken string) *oauth2.Token {
	return &oauth2.Token{AccessToken: strings.TrimSpace(accessToken), TokenType: "Bearer"}
}

var (
	_ core.OAuthClient       = (*Client)(nil)
	_ core.MarketplaceClient = (*Client)(nil)
)
