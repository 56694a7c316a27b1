// Package meliconnect manages the lifecycle of MercadoLibre seller connections:
// app credential registration, the OAuth authorization-code flow, token
// storage at rest and on-demand refresh.
package meliconnect

import "github.com/goliatone/go-meli-connect/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type ConnectRequest = core.ConnectRequest
type ConnectResult = core.ConnectResult
type CallbackRequest = core.CallbackRequest
type CallbackResult = core.CallbackResult
type RefreshResult = core.RefreshResult
type ConnectionSummary = core.ConnectionSummary
type OrderSearch = core.OrderSearch
type OrderPage = core.OrderPage
type Site = core.Site

var (
	WithLogger              = core.WithLogger
	WithLoggerProvider      = core.WithLoggerProvider
	WithMetricsRecorder     = core.WithMetricsRecorder
	WithErrorMapper         = core.WithErrorMapper
	WithConfigProvider      = core.WithConfigProvider
	WithOptionsResolver     = core.WithOptionsResolver
	WithPersistenceClient   = core.WithPersistenceClient
	WithRepositoryFactory   = core.WithRepositoryFactory
	WithConnectionStore     = core.WithConnectionStore
	WithCipher              = core.WithCipher
	WithStateCodec          = core.WithStateCodec
	WithOAuthClient         = core.WithOAuthClient
	WithMarketplaceClient   = core.WithMarketplaceClient
	WithCredentialValidator = core.WithCredentialValidator
	WithClock               = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}
