package core

import (
	"context"
	"errors"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

type fixedConfigProvider struct {
	cfg Config
}

func (p *fixedConfigProvider) Load(context.Context, Config) (Config, error) {
	return p.cfg, nil
}

type fixedOptionsResolver struct {
	cfg Config
}

func (r *fixedOptionsResolver) Resolve(Config, Config, Config) (Config, error) {
	return r.cfg, nil
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	return l.values, nil
}

type stubStoreFactory struct {
	store ConnectionStore
	calls int
	seen  any
}

func (f *stubStoreFactory) BuildStores(client any) (StoreProvider, error) {
	f.calls++
	f.seen = client
	return f, nil
}

func (f *stubStoreFactory) ConnectionStore() ConnectionStore {
	return f.store
}

func TestNewService_DefaultDependencies(t *testing.T) {
	svc, err := NewService(Config{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	deps := svc.Dependencies()
	if deps.Logger == nil || deps.LoggerProvider == nil {
		t.Fatalf("expected default logger and provider")
	}
	if deps.ErrorMapper == nil {
		t.Fatalf("expected default error mapper")
	}
	if deps.ConnectionStore == nil {
		t.Fatalf("expected in-memory connection store by default")
	}
	if deps.StateCodec == nil {
		t.Fatalf("expected default state codec")
	}
	cfg := svc.Config()
	if cfg.ServiceName != "meli-connect" {
		t.Fatalf("expected default service_name, got %q", cfg.ServiceName)
	}
	if cfg.State.TTL != DefaultStateTTL || cfg.OAuth.DefaultExpiresIn != DefaultTokenExpiresIn {
		t.Fatalf("expected defaults for state ttl and expires_in, got %+v", cfg)
	}

	_, err = svc.Connect(context.Background(), validConnectRequest())
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Code == 0 {
		t.Fatalf("expected missing cipher to fail with an error envelope, got %v", err)
	}
}

func TestNewService_WithXOverrides(t *testing.T) {
	customLogger := glog.Nop()
	customProvider := stubLoggerProvider{logger: customLogger}
	sentinel := errors.New("sentinel")
	customMapper := func(error) *goerrors.Error {
		return goerrors.Wrap(sentinel, goerrors.CategoryOperation, "mapped")
	}
	store := NewMemoryConnectionStore()
	factory := &stubStoreFactory{store: store}
	client := &struct{ Name string }{Name: "persistence"}
	oauth := newFakeOAuthClient()

	svc, err := NewService(Config{ServiceName: "runtime"},
		WithLogger(customLogger),
		WithLoggerProvider(customProvider),
		WithErrorMapper(customMapper),
		WithPersistenceClient(client),
		WithRepositoryFactory(factory),
		WithConfigProvider(&fixedConfigProvider{cfg: DefaultConfig()}),
		WithOptionsResolver(&fixedOptionsResolver{cfg: Config{ServiceName: "resolved", AppBaseURL: "https://x.example", CallbackPath: "/cb"}}),
		WithCipher(testCipher{}),
		WithOAuthClient(oauth),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	deps := svc.Dependencies()
	if deps.ConnectionStore != store || factory.calls != 1 || factory.seen != client {
		t.Fatalf("expected connection store built from repository factory")
	}
	if deps.MarketplaceClient == nil {
		t.Fatalf("expected oauth client to double as marketplace client")
	}
	if svc.Config().ServiceName != "resolved" {
		t.Fatalf("expected options resolver output config, got %q", svc.Config().ServiceName)
	}

	_, err = svc.EnsureValidAccessToken(context.Background(), "", "7")
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Message != "mapped" {
		t.Fatalf("expected custom error mapper to be used, got %v", err)
	}
}

func TestNewService_ConfigLayeringPrecedence(t *testing.T) {
	provider := NewCfgxConfigProvider(mapRawLoader{values: map[string]any{
		"service_name":  "from-config",
		"app_base_url":  "https://config.example.com",
		"enabled_sites": []string{"MLA", "MCO"},
		"refresh": map[string]any{
			"leeway": 2 * time.Minute,
		},
	}})

	svc, err := NewService(Config{ServiceName: "from-runtime"}, WithConfigProvider(provider))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	cfg := svc.Config()
	if cfg.ServiceName != "from-runtime" {
		t.Fatalf("expected runtime value to override config/default, got %q", cfg.ServiceName)
	}
	if cfg.AppBaseURL != "https://config.example.com" {
		t.Fatalf("expected config layer app_base_url, got %q", cfg.AppBaseURL)
	}
	if len(cfg.EnabledSites) != 2 {
		t.Fatalf("expected config layer enabled sites, got %#v", cfg.EnabledSites)
	}
	if cfg.Refresh.Leeway != 2*time.Minute {
		t.Fatalf("expected config layer leeway, got %v", cfg.Refresh.Leeway)
	}
	if cfg.CallbackPath != "/api/ml/callback" {
		t.Fatalf("expected default callback path, got %q", cfg.CallbackPath)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate: %v", err)
	}
	bad := DefaultConfig()
	bad.EnabledSites = []string{"ZZZ"}
	if err := bad.Validate(); !errors.Is(err, ErrUnsupportedSite) {
		t.Fatalf("expected unsupported site, got %v", err)
	}
	bad = DefaultConfig()
	bad.State.SignatureLength = 4
	if err := bad.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected signature length validation, got %v", err)
	}
	bad = DefaultConfig()
	bad.AppBaseURL = "not a url"
	if err := bad.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected app_base_url validation, got %v", err)
	}
}

func TestConfigCallbackURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AppBaseURL = "https://app.example.com/"
	if got := cfg.CallbackURL("abc123"); got != "https://app.example.com/api/ml/callback/abc123" {
		t.Fatalf("unexpected callback url %q", got)
	}
}
