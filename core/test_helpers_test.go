package core

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

type testCipher struct{}

func (testCipher) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	return []byte("enc:" + base64.StdEncoding.EncodeToString(plaintext)), nil
}

func (testCipher) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	value := string(ciphertext)
	if !strings.HasPrefix(value, "enc:") {
		return nil, fmt.Errorf("test cipher: invalid ciphertext")
	}
	return base64.StdEncoding.DecodeString(strings.TrimPrefix(value, "enc:"))
}

type fakeOAuthClient struct {
	mu sync.Mutex

	exchangeTokens TokenSet
	exchangeErr    error
	refreshTokens  []TokenSet
	refreshErr     error
	user           UserInfo
	userErr        error
	orders         OrderPage
	ordersErrs     []error

	exchangeCalls []ExchangeCodeRequest
	refreshCalls  []RefreshTokenRequest
	userCalls     []string
	orderTokens   []string
	refreshGate   chan struct{}
	// refreshStarted receives a signal when a refresh call begins waiting.
	refreshStarted chan struct{}
}

func newFakeOAuthClient() *fakeOAuthClient {
	return &fakeOAuthClient{
		exchangeTokens: TokenSet{AccessToken: "APP_USR-access-1", RefreshToken: "TG-refresh-1", ExpiresIn: 21600},
		user:           UserInfo{ID: 123456789, Nickname: "TESTSELLER"},
	}
}

func (c *fakeOAuthClient) BuildAuthorizationURL(site SiteID, clientID string, redirectURI string, state string) (string, error) {
	entry, ok := LookupSite(string(site))
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedSite, site)
	}
	query := url.Values{}
	query.Set("response_type", "code")
	query.Set("client_id", clientID)
	query.Set("redirect_uri", redirectURI)
	query.Set("state", state)
	return "https://auth.mercadolibre." + entry.Domain + "/authorization?" + query.Encode(), nil
}

func (c *fakeOAuthClient) ExchangeCode(_ context.Context, req ExchangeCodeRequest) (TokenSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exchangeCalls = append(c.exchangeCalls, req)
	if c.exchangeErr != nil {
		return TokenSet{}, c.exchangeErr
	}
	return c.exchangeTokens, nil
}

func (c *fakeOAuthClient) RefreshToken(ctx context.Context, req RefreshTokenRequest) (TokenSet, error) {
	if c.refreshStarted != nil {
		select {
		case c.refreshStarted <- struct{}{}:
		default:
		}
	}
	if c.refreshGate != nil {
		select {
		case <-c.refreshGate:
		case <-ctx.Done():
			return TokenSet{}, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshCalls = append(c.refreshCalls, req)
	if c.refreshErr != nil {
		return TokenSet{}, c.refreshErr
	}
	if len(c.refreshTokens) == 0 {
		return TokenSet{AccessToken: fmt.Sprintf("APP_USR-refreshed-%d", len(c.refreshCalls)), ExpiresIn: 21600}, nil
	}
	next := c.refreshTokens[0]
	if len(c.refreshTokens) > 1 {
		c.refreshTokens = c.refreshTokens[1:]
	}
	return next, nil
}

func (c *fakeOAuthClient) GetUserInfo(_ context.Context, accessToken string) (UserInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userCalls = append(c.userCalls, accessToken)
	if c.userErr != nil {
		return UserInfo{}, c.userErr
	}
	return c.user, nil
}

func (c *fakeOAuthClient) SearchOrders(_ context.Context, accessToken string, search OrderSearch) (OrderPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orderTokens = append(c.orderTokens, accessToken)
	if len(c.ordersErrs) > 0 {
		err := c.ordersErrs[0]
		c.ordersErrs = c.ordersErrs[1:]
		if err != nil {
			return OrderPage{}, err
		}
	}
	page := c.orders
	page.Offset = search.Offset
	page.Limit = search.Limit
	return page, nil
}

func (c *fakeOAuthClient) refreshCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.refreshCalls)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type serviceFixture struct {
	service *Service
	store   *MemoryConnectionStore
	oauth   *fakeOAuthClient
	clock   *testClock
}

func newServiceFixture(t *testing.T, opts ...Option) serviceFixture {
	t.Helper()
	store := NewMemoryConnectionStore()
	oauth := newFakeOAuthClient()
	clock := newTestClock()
	store.now = clock.Now

	cfg := DefaultConfig()
	cfg.AppBaseURL = "https://app.example.com"
	cfg.State.Secret = "test-state-secret"

	base := []Option{
		WithConnectionStore(store),
		WithOAuthClient(oauth),
		WithCipher(testCipher{}),
		WithClock(clock.Now),
	}
	svc, err := NewService(cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return serviceFixture{service: svc, store: store, oauth: oauth, clock: clock}
}

func validConnectRequest() ConnectRequest {
	return ConnectRequest{
		OwnerID:      "7",
		TenantID:     "3",
		SiteID:       "MCO",
		AppID:        "1234567890",
		AppSecret:    "abcdefghijklmnopqrstuvwx",
		FriendlyName: "Tienda Bogota",
	}
}

func callbackIDFromRedirect(t *testing.T, redirectURI string) string {
	t.Helper()
	index := strings.LastIndex(redirectURI, "/")
	if index < 0 || index == len(redirectURI)-1 {
		t.Fatalf("redirect uri has no callback id: %q", redirectURI)
	}
	return redirectURI[index+1:]
}

func connectAndAuthorize(t *testing.T, fixture serviceFixture) ConnectResult {
	t.Helper()
	ctx := context.Background()
	connected, err := fixture.service.Connect(ctx, validConnectRequest())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := fixture.service.HandleCallback(ctx, CallbackRequest{
		CallbackID: callbackIDFromRedirect(t, connected.RedirectURI),
		Code:       "TG-code-1",
		State:      connected.StateToken,
	}); err != nil {
		t.Fatalf("handle callback: %v", err)
	}
	return connected
}

func storedConnection(t *testing.T, store ConnectionStore, id string) Connection {
	t.Helper()
	connection, found, err := store.Find(context.Background(), ConnectionFilter{ID: id})
	if err != nil {
		t.Fatalf("find connection: %v", err)
	}
	if !found {
		t.Fatalf("expected connection %s to exist", id)
	}
	return connection
}
