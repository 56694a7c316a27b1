package core

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"golang.org/x/sync/singleflight"
)

// Service drives the marketplace connection lifecycle: registering app
// credentials, completing the authorization-code flow and keeping access
// tokens fresh.
type Service struct {
	config              Config
	logger              Logger
	loggerProvider      LoggerProvider
	metricsRecorder     MetricsRecorder
	errorMapper         ErrorMapper
	connectionStore     ConnectionStore
	cipher              SecretCipher
	stateCodec          StateCodec
	oauthClient         OAuthClient
	marketplaceClient   MarketplaceClient
	credentialValidator *CredentialValidator
	now                 Clock
	refreshGroup        singleflight.Group
}

type ServiceDependencies struct {
	Logger            Logger
	LoggerProvider    LoggerProvider
	MetricsRecorder   MetricsRecorder
	ErrorMapper       ErrorMapper
	ConnectionStore   ConnectionStore
	Cipher            SecretCipher
	StateCodec        StateCodec
	OAuthClient       OAuthClient
	MarketplaceClient MarketplaceClient
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("meli-connect", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("meli-connect"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.clock == nil {
		builder.clock = func() time.Time { return time.Now().UTC() }
	}
	if builder.credentialValidator == nil {
		builder.credentialValidator = NewCredentialValidator()
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.connectionStore == nil && builder.repositoryFactory != nil {
		if storeFactory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			stores, buildErr := storeFactory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			if stores != nil {
				builder.connectionStore = stores.ConnectionStore()
			}
		} else if stores, ok := builder.repositoryFactory.(StoreProvider); ok {
			builder.connectionStore = stores.ConnectionStore()
		}
	}
	if builder.connectionStore == nil {
		builder.connectionStore = NewMemoryConnectionStore()
	}
	if builder.stateCodec == nil {
		codec, codecErr := NewHMACStateCodec(
			finalConfig.State.Secret,
			WithStateTTL(finalConfig.stateTTL()),
			WithStateSignatureLength(finalConfig.stateSignatureLength()),
			WithStateClock(builder.clock),
		)
		if codecErr != nil {
			return nil, mapBuildError(builder.errorMapper, codecErr)
		}
		builder.stateCodec = codec
	}
	if builder.marketplaceClient == nil {
		if client, ok := builder.oauthClient.(MarketplaceClient); ok {
			builder.marketplaceClient = client
		}
	}

	return &Service{
		config:              finalConfig,
		logger:              logger,
		loggerProvider:      provider,
		metricsRecorder:     builder.metricsRecorder,
		errorMapper:         builder.errorMapper,
		connectionStore:     builder.connectionStore,
		cipher:              builder.cipher,
		stateCodec:          builder.stateCodec,
		oauthClient:         builder.oauthClient,
		marketplaceClient:   builder.marketplaceClient,
		credentialValidator: builder.credentialValidator,
		now:                 builder.clock,
	}, nil
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:            s.logger,
		LoggerProvider:    s.loggerProvider,
		MetricsRecorder:   s.metricsRecorder,
		ErrorMapper:       s.errorMapper,
		ConnectionStore:   s.connectionStore,
		Cipher:            s.cipher,
		StateCodec:        s.stateCodec,
		OAuthClient:       s.oauthClient,
		MarketplaceClient: s.marketplaceClient,
	}
}

// SupportedSites lists the marketplace sites this service accepts.
func (s *Service) SupportedSites() []Site {
	sites := SupportedSites()
	if s == nil || len(s.config.EnabledSites) == 0 {
		return sites
	}
	enabled := make([]Site, 0, len(sites))
	for _, site := range sites {
		if s.config.siteEnabled(site.ID) {
			enabled = append(enabled, site)
		}
	}
	return enabled
}

func (s *Service) Connect(ctx context.Context, req ConnectRequest) (result ConnectResult, err error) {
	startedAt := time.Now()
	fields := map[string]any{
		"owner_id":  req.OwnerID,
		"tenant_id": req.TenantID,
		"site_id":   req.SiteID,
		"app_id":    req.AppID,
	}
	defer func() {
		if result.ConnectionID != "" {
			fields["connection_id"] = result.ConnectionID
		}
		s.observeOperation(ctx, startedAt, "connect", err, fields)
	}()

	result, err = s.connect(ctx, req)
	if err != nil {
		err = s.mapError(err)
		return ConnectResult{}, err
	}
	return result, nil
}

func (s *Service) connect(ctx context.Context, req ConnectRequest) (ConnectResult, error) {
	if err := s.requireDependencies(); err != nil {
		return ConnectResult{}, err
	}
	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" {
		return ConnectResult{}, fmt.Errorf("%w: owner id is required", ErrValidation)
	}
	site, ok := LookupSite(req.SiteID)
	if !ok || !s.config.siteEnabled(site.ID) {
		return ConnectResult{}, fmt.Errorf("%w: %q", ErrUnsupportedSite, req.SiteID)
	}
	appID := strings.TrimSpace(req.AppID)
	if err := s.credentialValidator.Check(appID, req.AppSecret); err != nil {
		return ConnectResult{}, err
	}

	callbackID, err := s.newCallbackID(ownerID, site.ID, appID)
	if err != nil {
		return ConnectResult{}, err
	}
	redirectURI := s.config.CallbackURL(callbackID)

	encryptedSecret, err := s.encrypt(ctx, req.AppSecret)
	if err != nil {
		return ConnectResult{}, err
	}
	state, err := s.stateCodec.Generate(ownerID)
	if err != nil {
		return ConnectResult{}, err
	}

	friendlyName := strings.TrimSpace(req.FriendlyName)
	if friendlyName == "" {
		friendlyName = "MercadoLibre " + site.Country
	}
	connection, err := s.connectionStore.Upsert(ctx,
		ConnectionKey{OwnerID: ownerID, SiteID: site.ID, AppID: appID},
		UpsertConnectionInput{
			TenantID:           strings.TrimSpace(req.TenantID),
			AppSecretEncrypted: encryptedSecret,
			FriendlyName:       friendlyName,
			RedirectURI:        redirectURI,
			StateToken:         state,
		},
	)
	if err != nil {
		return ConnectResult{}, err
	}

	authURL, err := s.oauthClient.BuildAuthorizationURL(site.ID, appID, redirectURI, state)
	if err != nil {
		return ConnectResult{}, err
	}
	return ConnectResult{
		ConnectionID:     connection.ID,
		AuthorizationURL: authURL,
		RedirectURI:      redirectURI,
		StateToken:       state,
		Site:             site,
	}, nil
}

func (s *Service) HandleCallback(ctx context.Context, req CallbackRequest) (result CallbackResult, err error) {
	startedAt := time.Now()
	fields := map[string]any{
		"callback_id": req.CallbackID,
	}
	defer func() {
		if result.ConnectionID != "" {
			fields["connection_id"] = result.ConnectionID
			fields["owner_id"] = result.OwnerID
			fields["site_id"] = string(result.SiteID)
		}
		s.observeOperation(ctx, startedAt, "handle_callback", err, fields)
	}()

	result, err = s.handleCallback(ctx, req)
	if err != nil {
		err = s.mapError(err)
		return result, err
	}
	return result, nil
}

func (s *Service) handleCallback(ctx context.Context, req CallbackRequest) (CallbackResult, error) {
	if providerErr := strings.TrimSpace(req.Error); providerErr != "" {
		if description := strings.TrimSpace(req.ErrorDescription); description != "" {
			return CallbackResult{}, fmt.Errorf("%w: %s: %s", ErrAuthorizationDenied, providerErr, description)
		}
		return CallbackResult{}, fmt.Errorf("%w: %s", ErrAuthorizationDenied, providerErr)
	}
	if err := s.requireDependencies(); err != nil {
		return CallbackResult{}, err
	}
	state := strings.TrimSpace(req.State)
	if state == "" {
		return CallbackResult{}, ErrUnknownOrExpiredAttempt
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return CallbackResult{}, fmt.Errorf("%w: authorization code is required", ErrValidation)
	}

	connection, found, err := s.connectionStore.Find(ctx, ConnectionFilter{
		StateToken: state,
		Status:     ConnectionStatusPending,
	})
	if err != nil {
		return CallbackResult{}, err
	}
	if !found || !callbackMatches(connection.RedirectURI, req.CallbackID) {
		return CallbackResult{}, ErrUnknownOrExpiredAttempt
	}
	result := CallbackResult{
		ConnectionID: connection.ID,
		OwnerID:      connection.OwnerID,
		SiteID:       connection.SiteID,
	}
	if !s.stateCodec.Validate(state, connection.OwnerID) {
		return result, ErrCsrfValidationFailed
	}

	appSecret, err := s.decrypt(ctx, connection.AppSecretEncrypted)
	if err != nil {
		return result, err
	}
	tokens, err := s.oauthClient.ExchangeCode(ctx, ExchangeCodeRequest{
		ClientID:     connection.AppID,
		ClientSecret: appSecret,
		Code:         code,
		RedirectURI:  connection.RedirectURI,
	})
	if err != nil {
		return result, err
	}
	user, err := s.oauthClient.GetUserInfo(ctx, tokens.AccessToken)
	if err != nil {
		return result, err
	}

	encryptedAccess, err := s.encrypt(ctx, tokens.AccessToken)
	if err != nil {
		return result, err
	}
	encryptedRefresh, err := s.encrypt(ctx, tokens.RefreshToken)
	if err != nil {
		return result, err
	}

	now := s.now()
	expiresAt := now.Add(time.Duration(s.expiresIn(tokens)) * time.Second)
	updated, err := s.connectionStore.Update(ctx, connection.ID, func(record *Connection) error {
		if err := record.TransitionTo(ConnectionStatusConnected, now); err != nil {
			return err
		}
		record.AccessTokenEncrypted = encryptedAccess
		record.RefreshTokenEncrypted = encryptedRefresh
		record.TokenExpiresAt = timePtr(expiresAt)
		record.TokenRefreshedAt = timePtr(now)
		record.StateToken = ""
		record.MarketplaceUserID = user.ID
		record.MarketplaceNickname = strings.TrimSpace(user.Nickname)
		if record.MarketplaceNickname == "" {
			record.MarketplaceNickname = record.FriendlyName
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	result.MarketplaceUserID = updated.MarketplaceUserID
	result.MarketplaceNickname = updated.MarketplaceNickname
	return result, nil
}

// callbackMatches binds a callback path segment to the attempt's redirect
// URI. An empty callback id skips the check.
func callbackMatches(redirectURI string, callbackID string) bool {
	callbackID = strings.Trim(strings.TrimSpace(callbackID), "/")
	if callbackID == "" {
		return true
	}
	return strings.HasSuffix(strings.TrimRight(redirectURI, "/"), "/"+callbackID)
}

func (s *Service) newCallbackID(ownerID string, site SiteID, appID string) (string, error) {
	nonce := make([]byte, 8)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("core: generate callback id: %w", err)
	}
	sum := sha256.Sum256([]byte(strings.Join([]string{
		ownerID,
		string(site),
		appID,
		strconv.FormatInt(s.now().UnixNano(), 10),
		hex.EncodeToString(nonce),
	}, "|")))
	return hex.EncodeToString(sum[:8]), nil
}

func (s *Service) expiresIn(tokens TokenSet) int {
	if tokens.ExpiresIn > 0 {
		return tokens.ExpiresIn
	}
	return s.config.defaultExpiresIn()
}

func (s *Service) encrypt(ctx context.Context, plaintext string) (string, error) {
	ciphertext, err := s.cipher.Encrypt(ctx, []byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("core: encrypt secret: %w", err)
	}
	return string(ciphertext), nil
}

func (s *Service) decrypt(ctx context.Context, ciphertext string) (string, error) {
	plaintext, err := s.cipher.Decrypt(ctx, []byte(ciphertext))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return string(plaintext), nil
}

func (s *Service) requireDependencies() error {
	if s == nil {
		return fmt.Errorf("core: service is nil")
	}
	if s.connectionStore == nil {
		return fmt.Errorf("core: connection store is required")
	}
	if s.cipher == nil {
		return fmt.Errorf("core: secret cipher is required")
	}
	if s.oauthClient == nil {
		return fmt.Errorf("core: oauth client is required")
	}
	if s.stateCodec == nil {
		return fmt.Errorf("core: state codec is required")
	}
	return nil
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}
