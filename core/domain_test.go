package core

import (
	"errors"
	"testing"
	"time"
)

func TestConnectionTransitions(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		from    ConnectionStatus
		to      ConnectionStatus
		allowed bool
	}{
		{ConnectionStatusPending, ConnectionStatusConnected, true},
		{ConnectionStatusPending, ConnectionStatusDisconnected, true},
		{ConnectionStatusPending, ConnectionStatusPending, true},
		{ConnectionStatusConnected, ConnectionStatusConnected, true},
		{ConnectionStatusConnected, ConnectionStatusDisconnected, true},
		{ConnectionStatusConnected, ConnectionStatusPending, true},
		{ConnectionStatusDisconnected, ConnectionStatusPending, true},
		{ConnectionStatusDisconnected, ConnectionStatusConnected, false},
	}
	for _, tc := range cases {
		connection := Connection{Status: tc.from}
		err := connection.TransitionTo(tc.to, now)
		if tc.allowed && err != nil {
			t.Fatalf("%s -> %s: unexpected error %v", tc.from, tc.to, err)
		}
		if !tc.allowed && !errors.Is(err, ErrInvalidConnectionStatusTransition) {
			t.Fatalf("%s -> %s: expected invalid transition, got %v", tc.from, tc.to, err)
		}
	}
}

func TestConnectionTransitionClearsTokens(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	expires := now.Add(time.Hour)
	connection := Connection{
		Status:                ConnectionStatusConnected,
		AccessTokenEncrypted:  "enc:a",
		RefreshTokenEncrypted: "enc:r",
		TokenExpiresAt:        &expires,
	}
	if err := connection.TransitionTo(ConnectionStatusDisconnected, now); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if connection.HasTokens() || connection.RefreshTokenEncrypted != "" || connection.TokenExpiresAt != nil {
		t.Fatalf("expected tokens cleared on disconnect")
	}
	if connection.DisconnectedAt == nil || !connection.DisconnectedAt.Equal(now) {
		t.Fatalf("expected disconnected_at stamped")
	}
	if err := connection.TransitionTo("archived", now); !errors.Is(err, ErrInvalidConnectionStatusTransition) {
		t.Fatalf("expected unknown status to be rejected, got %v", err)
	}
}

func TestConnectionTokenDue(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	expires := now.Add(10 * time.Minute)
	connection := Connection{TokenExpiresAt: &expires}

	if connection.TokenDue(now, 0) {
		t.Fatalf("expected token valid before expiry")
	}
	if !connection.TokenDue(now, 10*time.Minute) {
		t.Fatalf("expected token due inside leeway")
	}
	if !connection.TokenDue(expires, 0) {
		t.Fatalf("expected token due exactly at expiry")
	}
	if !(Connection{}).TokenDue(now, 0) {
		t.Fatalf("expected missing expiry to count as due")
	}
}

func TestConnectionSummaryOmitsSecrets(t *testing.T) {
	summary := Connection{
		ID:                    "conn_1",
		AppSecretEncrypted:    "enc:secret",
		AccessTokenEncrypted:  "enc:access",
		RefreshTokenEncrypted: "enc:refresh",
		StateToken:            "state",
		Status:                ConnectionStatusConnected,
	}.Summary()
	if summary.ID != "conn_1" || summary.Status != string(ConnectionStatusConnected) {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestSiteCatalog(t *testing.T) {
	sites := SupportedSites()
	if len(sites) != 13 {
		t.Fatalf("expected 13 sites, got %d", len(sites))
	}
	for i := 1; i < len(sites); i++ {
		if sites[i-1].ID >= sites[i].ID {
			t.Fatalf("expected sites ordered by id")
		}
	}
	site, ok := LookupSite(" mco ")
	if !ok || site.Domain != "com.co" || site.Currency != "COP" {
		t.Fatalf("unexpected MCO entry %+v", site)
	}
	if _, ok := LookupSite("XXX"); ok {
		t.Fatalf("expected unknown site lookup to fail")
	}
}
