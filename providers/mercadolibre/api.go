package mercadolibre

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goliatone/go-meli-connect/core"
)

const maxOrderSearchLimit = 50

func (c *Client) GetUserInfo(ctx context.Context, accessToken string) (core.UserInfo, error) {
	if c == nil {
		return core.UserInfo{}, fmt.Errorf("mercadolibre: client is nil")
	}
	body, status, err := c.authorizedGet(ctx, c.cfg.APIBaseURL+userInfoPath, accessToken)
	if err != nil {
		return core.UserInfo{}, classifyTransportError(err, core.ErrOAuthUnauthorized)
	}
	if status != http.StatusOK {
		return core.UserInfo{}, fmt.Errorf("%w (%d): %s", core.ErrOAuthUnauthorized, status, describeProviderError(body))
	}
	info, err := parseUserInfo(body)
	if err != nil {
		return core.UserInfo{}, fmt.Errorf("%w: decode user info: %v", core.ErrOAuthProtocol, err)
	}
	return info, nil
}

func (c *Client) SearchOrders(ctx context.Context, accessToken string, search core.OrderSearch) (core.OrderPage, error) {
	if c == nil {
		return core.OrderPage{}, fmt.Errorf("mercadolibre: client is nil")
	}
	if search.SellerID <= 0 {
		return core.OrderPage{}, fmt.Errorf("%w: seller id is required", core.ErrValidation)
	}

	query := url.Values{}
	query.Set("seller", strconv.FormatInt(search.SellerID, 10))
	query.Set("offset", strconv.Itoa(max(search.Offset, 0)))
	query.Set("limit", strconv.Itoa(clampLimit(search.Limit)))
	query.Set("sort", "date_desc")
	if status := strings.TrimSpace(search.Status); status != "" {
		query.Set("order.status", status)
	}

	body, status, err := c.authorizedGet(ctx, c.cfg.APIBaseURL+orderSearchPath+"?"+query.Encode(), accessToken)
	if err != nil {
		return core.OrderPage{}, classifyTransportError(err, core.ErrMarketplaceRequest)
	}
	switch {
	case status == http.StatusUnauthorized:
		return core.OrderPage{}, fmt.Errorf("%w: %s", core.ErrOAuthUnauthorized, describeProviderError(body))
	case status < http.StatusOK || status >= http.StatusMultipleChoices:
		return core.OrderPage{}, fmt.Errorf("%w (%d): %s", core.ErrMarketplaceRequest, status, describeProviderError(body))
	}
	page, err := parseOrderPage(body)
	if err != nil {
		return core.OrderPage{}, fmt.Errorf("%w: decode orders: %v", core.ErrOAuthProtocol, err)
	}
	return page, nil
}

func (c *Client) authorizedGet(ctx context.Context, endpoint string, accessToken string) ([]byte, int, error) {
	token := bearerToken(accessToken)
	if token.AccessToken == "" {
		return nil, 0, fmt.Errorf("%w: access token is required", core.ErrValidation)
	}
	return c.do(ctx, http.MethodGet, endpoint, nil, token.SetAuthHeader)
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxOrderSearchLimit {
		return maxOrderSearchLimit
	}
	return limit
}
