package mercadolibre

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-meli-connect/core"
)

type tokenPayload struct {
	AccessToken  string
	TokenType    string
	RefreshToken string
	Scope        string
	ExpiresIn    int64
	UserID       int64
}

func (p tokenPayload) tokenSet() core.TokenSet {
	return core.TokenSet{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    p.TokenType,
		Scope:        p.Scope,
		ExpiresIn:    int(p.ExpiresIn),
		UserID:       p.UserID,
	}
}

func parseTokenPayload(body []byte) (tokenPayload, error) {
	decoded, err := decodeObject(body)
	if err != nil {
		return tokenPayload{}, err
	}
	tokenType := strings.ToLower(readAnyString(decoded["token_type"]))
	if tokenType == "" {
		tokenType = defaultTokenType
	}
	return tokenPayload{
		AccessToken:  readAnyString(decoded["access_token"]),
		TokenType:    tokenType,
		RefreshToken: readAnyString(decoded["refresh_token"]),
		Scope:        readAnyString(decoded["scope"]),
		ExpiresIn:    readAnyInt64(decoded["expires_in"]),
		UserID:       readAnyInt64(decoded["user_id"]),
	}, nil
}

// describeProviderError extracts the human readable message from an error
// body. MercadoLibre uses message/error, generic OAuth servers use
// error_description/error.
func describeProviderError(body []byte) string {
	decoded, err := decodeObject(body)
	if err != nil {
		text := strings.TrimSpace(string(body))
		if text == "" || len(text) > 256 {
			return unknownProviderErrorText
		}
		return text
	}
	for _, key := range []string{"message", "error_description", "error"} {
		if value := readAnyString(decoded[key]); value != "" {
			return value
		}
	}
	return unknownProviderErrorText
}

type userPayload struct {
	ID       json.Number `json:"id"`
	Nickname string      `json:"nickname"`
	SiteID   string      `json:"site_id"`
	Email    string      `json:"email"`
}

func parseUserInfo(body []byte) (core.UserInfo, error) {
	var payload userPayload
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		return core.UserInfo{}, err
	}
	id, err := payload.ID.Int64()
	if err != nil || id <= 0 {
		return core.UserInfo{}, fmt.Errorf("user payload missing numeric id")
	}
	return core.UserInfo{
		ID:       id,
		Nickname: strings.TrimSpace(payload.Nickname),
		SiteID:   strings.TrimSpace(payload.SiteID),
		Email:    strings.TrimSpace(payload.Email),
	}, nil
}

type orderSearchPayload struct {
	Results []orderPayload `json:"results"`
	Paging  *struct {
		Total  int `json:"total"`
		Offset int `json:"offset"`
		Limit  int `json:"limit"`
	} `json:"paging"`
}

type orderPayload struct {
	ID          int64   `json:"id"`
	Status      string  `json:"status"`
	DateCreated string  `json:"date_created"`
	TotalAmount float64 `json:"total_amount"`
	CurrencyID  string  `json:"currency_id"`
	Buyer       struct {
		ID       int64  `json:"id"`
		Nickname string `json:"nickname"`
	} `json:"buyer"`
}

func parseOrderPage(body []byte) (core.OrderPage, error) {
	var payload orderSearchPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return core.OrderPage{}, err
	}
	if payload.Paging == nil {
		return core.OrderPage{}, fmt.Errorf("order search payload missing paging")
	}
	orders := make([]core.Order, 0, len(payload.Results))
	for _, item := range payload.Results {
		orders = append(orders, core.Order{
			ID:            item.ID,
			Status:        strings.TrimSpace(item.Status),
			DateCreated:   parseTimestamp(item.DateCreated),
			TotalAmount:   item.TotalAmount,
			CurrencyID:    strings.TrimSpace(item.CurrencyID),
			BuyerID:       item.Buyer.ID,
			BuyerNickname: strings.TrimSpace(item.Buyer.Nickname),
		})
	}
	return core.OrderPage{
		Orders: orders,
		Total:  payload.Paging.Total,
		Offset: payload.Paging.Offset,
		Limit:  payload.Paging.Limit,
	}, nil
}

func parseTimestamp(value string) time.Time {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000-0700"} {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}

func decodeObject(body []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	var decoded map[string]any
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(&decoded); err != nil {
		return nil, err
	}
	if decoded == nil {
		return nil, fmt.Errorf("payload is not an object")
	}
	return decoded, nil
}

func readAnyString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return strings.TrimSpace(typed.String())
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

func readAnyInt64(value any) int64 {
	switch typed := value.(type) {
	case int64:
		return typed
	case float64:
		return int64(typed)
	case json.Number:
		if parsed, err := typed.Int64(); err == nil {
			return parsed
		}
		if parsed, err := typed.Float64(); err == nil {
			return int64(parsed)
		}
	case string:
		if parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}
