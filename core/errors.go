package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

var (
	ErrValidation               = errors.New("core: invalid input")
	ErrUnsupportedSite          = errors.New("core: unsupported site")
	ErrInvalidCredentialsFormat = errors.New("core: invalid app credentials format")
	ErrAuthorizationDenied      = errors.New("core: authorization denied by provider")
	ErrCsrfValidationFailed     = errors.New("core: oauth state validation failed")
	ErrUnknownOrExpiredAttempt  = errors.New("core: unknown or expired authorization attempt")
	ErrOAuthTimeout             = errors.New("core: oauth request timed out")
	ErrOAuthExchange            = errors.New("core: oauth code exchange failed")
	ErrOAuthRefresh             = errors.New("core: oauth token refresh failed")
	ErrOAuthProtocol            = errors.New("core: unexpected oauth response")
	ErrOAuthUnauthorized        = errors.New("core: access token rejected")
	ErrMarketplaceRequest       = errors.New("core: marketplace request failed")
	ErrConnectionNotFound       = errors.New("core: connection not found")
	ErrNotConnected             = errors.New("core: connection is not connected")
	ErrMissingRefreshToken      = errors.New("core: connection has no refresh token")
	ErrDecryption               = errors.New("core: decryption failed")
)

const (
	ServiceErrorBadInput                 = "SERVICE_BAD_INPUT"
	ServiceErrorUnsupportedSite          = "SERVICE_UNSUPPORTED_SITE"
	ServiceErrorInvalidCredentialsFormat = "SERVICE_INVALID_CREDENTIALS_FORMAT"
	ServiceErrorAuthorizationDenied      = "SERVICE_AUTHORIZATION_DENIED"
	ServiceErrorCsrfValidationFailed     = "SERVICE_CSRF_VALIDATION_FAILED"
	ServiceErrorUnknownOrExpiredAttempt  = "SERVICE_UNKNOWN_OR_EXPIRED_ATTEMPT"
	ServiceErrorOAuthTimeout             = "SERVICE_OAUTH_TIMEOUT"
	ServiceErrorOAuthExchangeFailed      = "SERVICE_OAUTH_EXCHANGE_FAILED"
	ServiceErrorOAuthRefreshFailed       = "SERVICE_OAUTH_REFRESH_FAILED"
	ServiceErrorOAuthProtocol            = "SERVICE_OAUTH_PROTOCOL_ERROR"
	ServiceErrorOAuthUnauthorized        = "SERVICE_OAUTH_UNAUTHORIZED"
	ServiceErrorMarketplaceRequestFailed = "SERVICE_MARKETPLACE_REQUEST_FAILED"
	ServiceErrorConnectionNotFound       = "SERVICE_CONNECTION_NOT_FOUND"
	ServiceErrorNotConnected             = "SERVICE_NOT_CONNECTED"
	ServiceErrorMissingRefreshToken      = "SERVICE_MISSING_REFRESH_TOKEN"
	ServiceErrorDecryptionFailed         = "SERVICE_DECRYPTION_FAILED"
	ServiceErrorInternal                 = "SERVICE_INTERNAL_ERROR"
)

type sentinelMapping struct {
	sentinel error
	category goerrors.Category
	textCode string
	status   int
}

// Order matters: the more specific sentinels come before ErrValidation.
var sentinelMappings = []sentinelMapping{
	{ErrUnsupportedSite, goerrors.CategoryValidation, ServiceErrorUnsupportedSite, http.StatusBadRequest},
	{ErrInvalidCredentialsFormat, goerrors.CategoryValidation, ServiceErrorInvalidCredentialsFormat, http.StatusBadRequest},
	{ErrAuthorizationDenied, goerrors.CategoryBadInput, ServiceErrorAuthorizationDenied, http.StatusBadRequest},
	{ErrCsrfValidationFailed, goerrors.CategoryAuthz, ServiceErrorCsrfValidationFailed, http.StatusForbidden},
	{ErrUnknownOrExpiredAttempt, goerrors.CategoryNotFound, ServiceErrorUnknownOrExpiredAttempt, http.StatusNotFound},
	{ErrOAuthTimeout, goerrors.CategoryExternal, ServiceErrorOAuthTimeout, http.StatusGatewayTimeout},
	{ErrOAuthExchange, goerrors.CategoryExternal, ServiceErrorOAuthExchangeFailed, http.StatusBadGateway},
	{ErrOAuthRefresh, goerrors.CategoryExternal, ServiceErrorOAuthRefreshFailed, http.StatusBadGateway},
	{ErrOAuthProtocol, goerrors.CategoryExternal, ServiceErrorOAuthProtocol, http.StatusBadGateway},
	{ErrOAuthUnauthorized, goerrors.CategoryAuth, ServiceErrorOAuthUnauthorized, http.StatusUnauthorized},
	{ErrMarketplaceRequest, goerrors.CategoryExternal, ServiceErrorMarketplaceRequestFailed, http.StatusBadGateway},
	{ErrConnectionNotFound, goerrors.CategoryNotFound, ServiceErrorConnectionNotFound, http.StatusNotFound},
	{ErrNotConnected, goerrors.CategoryConflict, ServiceErrorNotConnected, http.StatusConflict},
	{ErrMissingRefreshToken, goerrors.CategoryBadInput, ServiceErrorMissingRefreshToken, http.StatusBadRequest},
	{ErrDecryption, goerrors.CategoryInternal, ServiceErrorDecryptionFailed, http.StatusInternalServerError},
	{ErrInvalidConnectionStatusTransition, goerrors.CategoryConflict, ServiceErrorBadInput, http.StatusConflict},
	{ErrValidation, goerrors.CategoryValidation, ServiceErrorBadInput, http.StatusBadRequest},
}

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	for _, mapping := range sentinelMappings {
		if errors.Is(err, mapping.sentinel) {
			mapped := goerrors.Wrap(err, mapping.category, err.Error()).
				WithTextCode(mapping.textCode).
				WithCode(mapping.status)
			return ensureServiceErrorEnvelope(mapped)
		}
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ServiceErrorBadInput
	case goerrors.CategoryNotFound:
		return ServiceErrorConnectionNotFound
	case goerrors.CategoryAuth:
		return ServiceErrorOAuthUnauthorized
	case goerrors.CategoryAuthz:
		return ServiceErrorCsrfValidationFailed
	case goerrors.CategoryExternal:
		return ServiceErrorMarketplaceRequestFailed
	default:
		return ServiceErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// HasTextCode reports whether err carries the given service text code.
func HasTextCode(err error, textCode string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr == nil {
		return false
	}
	return richErr.TextCode == textCode
}

// MapError converts any error into the service envelope: rich errors keep
// their fields, sentinels get their text code and HTTP status.
func MapError(err error) *goerrors.Error {
	return serviceErrorMapper(err)
}
