package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	gocmd "github.com/goliatone/go-command"

	meliCommand "github.com/goliatone/go-meli-connect/command"
	"github.com/goliatone/go-meli-connect/core"
	meliQuery "github.com/goliatone/go-meli-connect/query"
	"github.com/goliatone/go-meli-connect/webhooks"
)

const (
	maxBodyBytes        = 16 << 10
	maxNotificationBody = 64 << 10
)

type connectStoreRequest struct {
	SiteID    string `json:"site_id" validate:"required,len=3"`
	AppID     string `json:"app_id" validate:"required,numeric,min=10,max=20"`
	AppSecret string `json:"app_secret" validate:"required,min=20,max=256"`
	StoreName string `json:"store_name" validate:"max=120"`
}

type connectStoreResponse struct {
	StoreID      string   `json:"store_id"`
	AuthURL      string   `json:"auth_url"`
	RedirectURI  string   `json:"redirect_uri"`
	SiteID       string   `json:"site_id"`
	Message      string   `json:"message"`
	Instructions []string `json:"instructions"`
}

type siteResponse struct {
	SiteID   string `json:"site_id"`
	Country  string `json:"country"`
	Domain   string `json:"domain"`
	Currency string `json:"currency"`
}

type storeResponse struct {
	core.ConnectionSummary
	SiteName    string `json:"site_name"`
	IsConnected bool   `json:"is_connected"`
}

type refreshResponse struct {
	StoreID   string    `json:"store_id"`
	ExpiresIn int       `json:"expires_in"`
	ExpiresAt time.Time `json:"expires_at"`
}

type orderResponse struct {
	ID            int64     `json:"id"`
	Status        string    `json:"status"`
	DateCreated   time.Time `json:"date_created"`
	TotalAmount   float64   `json:"total_amount"`
	CurrencyID    string    `json:"currency_id"`
	BuyerID       int64     `json:"buyer_id,omitempty"`
	BuyerNickname string    `json:"buyer_nickname,omitempty"`
}

type ordersResponse struct {
	StoreID string          `json:"store_id"`
	Orders  []orderResponse `json:"orders"`
	Total   int             `json:"total"`
	Offset  int             `json:"offset"`
	Limit   int             `json:"limit"`
}

func (s *Server) handleSites(w http.ResponseWriter, r *http.Request) {
	sites, err := s.facade.Queries().SupportedSites.Query(r.Context(), meliQuery.SupportedSitesMessage{})
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]siteResponse, 0, len(sites))
	for _, site := range sites {
		out = append(out, siteResponse{
			SiteID:   string(site.ID),
			Country:  site.Country,
			Domain:   "mercadolibre." + site.Domain,
			Currency: site.Currency,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sites": out, "total": len(out)})
}

func (s *Server) handleConnectStore(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	var body connectStoreRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, badRequest("invalid request body"))
		return
	}
	if err := s.validate.Struct(body); err != nil {
		writeError(w, requestValidationError(err))
		return
	}

	collector := gocmd.NewResult[core.ConnectResult]()
	ctx := gocmd.ContextWithResult(r.Context(), collector)
	err := s.facade.Commands().Connect.Execute(ctx, meliCommand.ConnectMessage{Request: core.ConnectRequest{
		OwnerID:      principal.OwnerID,
		TenantID:     principal.TenantID,
		SiteID:       strings.ToUpper(strings.TrimSpace(body.SiteID)),
		AppID:        strings.TrimSpace(body.AppID),
		AppSecret:    body.AppSecret,
		FriendlyName: strings.TrimSpace(body.StoreName),
	}})
	if err != nil {
		writeError(w, err)
		return
	}
	result, _ := collector.Load()
	writeJSON(w, http.StatusCreated, connectStoreResponse{
		StoreID:     result.ConnectionID,
		AuthURL:     result.AuthorizationURL,
		RedirectURI: result.RedirectURI,
		SiteID:      string(result.Site.ID),
		Message:     "Open auth_url to authorize the store on MercadoLibre " + result.Site.Country,
		Instructions: []string{
			"Register redirect_uri in the MercadoLibre developer console for this app",
			"Open auth_url and approve the requested permissions",
			"You will be sent back to the dashboard when the store is connected",
		},
	})
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	collector := gocmd.NewResult[core.CallbackResult]()
	ctx := gocmd.ContextWithResult(r.Context(), collector)
	err := s.facade.Commands().Callback.Execute(ctx, meliCommand.CallbackMessage{Request: core.CallbackRequest{
		CallbackID:       chi.URLParam(r, "callbackID"),
		Code:             query.Get("code"),
		State:            query.Get("state"),
		Error:            query.Get("error"),
		ErrorDescription: query.Get("error_description"),
	}})
	if err != nil {
		if s.frontendURL != "" {
			rich := core.MapError(err)
			s.redirectToDashboard(w, r, url.Values{"connection": {"error"}, "code": {rich.TextCode}})
			return
		}
		writeError(w, err)
		return
	}

	result, _ := collector.Load()
	if s.frontendURL != "" {
		s.redirectToDashboard(w, r, url.Values{"connection": {"success"}, "store_id": {result.ConnectionID}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"store_id":     result.ConnectionID,
		"site_id":      result.SiteID,
		"nickname":     result.MarketplaceNickname,
		"ml_user_id":   result.MarketplaceUserID,
		"is_connected": true,
	})
}

func (s *Server) redirectToDashboard(w http.ResponseWriter, r *http.Request, values url.Values) {
	http.Redirect(w, r, s.frontendURL+"/dashboard?"+values.Encode(), http.StatusSeeOther)
}

func (s *Server) handleMyStores(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	summaries, err := s.facade.Queries().ListConnections.Query(r.Context(), meliQuery.ListConnectionsMessage{
		OwnerID: principal.OwnerID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]storeResponse, 0, len(summaries))
	for _, summary := range summaries {
		out = append(out, newStoreResponse(summary))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetStore(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	summary, err := s.facade.Queries().GetConnection.Query(r.Context(), meliQuery.GetConnectionMessage{
		ConnectionID: chi.URLParam(r, "connectionID"),
		OwnerID:      principal.OwnerID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStoreResponse(summary))
}

func (s *Server) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	collector := gocmd.NewResult[core.RefreshResult]()
	ctx := gocmd.ContextWithResult(r.Context(), collector)
	err := s.facade.Commands().Refresh.Execute(ctx, meliCommand.RefreshMessage{
		ConnectionID: chi.URLParam(r, "connectionID"),
		OwnerID:      principal.OwnerID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	result, _ := collector.Load()
	writeJSON(w, http.StatusOK, refreshResponse{
		StoreID:   result.ConnectionID,
		ExpiresIn: result.ExpiresIn,
		ExpiresAt: result.ExpiresAt,
	})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	connectionID := chi.URLParam(r, "connectionID")
	err := s.facade.Commands().Disconnect.Execute(r.Context(), meliCommand.DisconnectMessage{
		ConnectionID: connectionID,
		OwnerID:      principal.OwnerID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"store_id": connectionID, "status": core.ConnectionStatusDisconnected})
}

func (s *Server) handleDeleteStore(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	err := s.facade.Commands().Delete.Execute(r.Context(), meliCommand.DeleteMessage{
		ConnectionID: chi.URLParam(r, "connectionID"),
		OwnerID:      principal.OwnerID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStoreOrders(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	search, err := parseOrderSearch(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}
	connectionID := chi.URLParam(r, "connectionID")
	page, err := s.facade.Queries().SearchOrders.Query(r.Context(), meliQuery.SearchOrdersMessage{
		ConnectionID: connectionID,
		OwnerID:      principal.OwnerID,
		Search:       search,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	orders := make([]orderResponse, 0, len(page.Orders))
	for _, order := range page.Orders {
		orders = append(orders, orderResponse{
			ID:            order.ID,
			Status:        order.Status,
			DateCreated:   order.DateCreated,
			TotalAmount:   order.TotalAmount,
			CurrencyID:    order.CurrencyID,
			BuyerID:       order.BuyerID,
			BuyerNickname: order.BuyerNickname,
		})
	}
	writeJSON(w, http.StatusOK, ordersResponse{
		StoreID: connectionID,
		Orders:  orders,
		Total:   page.Total,
		Offset:  page.Offset,
		Limit:   page.Limit,
	})
}

func parseOrderSearch(values url.Values) (core.OrderSearch, error) {
	search := core.OrderSearch{Status: strings.TrimSpace(values.Get("status"))}
	for _, param := range []struct {
		name string
		dest *int
	}{
		{name: "offset", dest: &search.Offset},
		{name: "limit", dest: &search.Limit},
	} {
		raw := strings.TrimSpace(values.Get(param.name))
		if raw == "" {
			continue
		}
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			return core.OrderSearch{}, badRequest(param.name + " must be a non-negative integer")
		}
		*param.dest = value
	}
	return search, nil
}

func newStoreResponse(summary core.ConnectionSummary) storeResponse {
	siteName := string(summary.SiteID)
	if site, ok := core.LookupSite(string(summary.SiteID)); ok {
		siteName = site.Country
	}
	return storeResponse{
		ConnectionSummary: summary,
		SiteName:          siteName,
		IsConnected:       summary.Status == string(core.ConnectionStatusConnected),
	}
}

// handleNotification always acknowledges with 200 so the marketplace stops
// retrying; the outcome is reported in the body.
func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	if s.notifications == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "outcome": "ignored"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBody))
	if err != nil {
		s.logger.Warn("read notification body failed", "error", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "error", "outcome": webhooks.OutcomeRejected})
		return
	}
	result, err := s.notifications.ProcessBody(r.Context(), body)
	status := "ok"
	if err != nil {
		status = "error"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status, "outcome": result.Outcome})
}
