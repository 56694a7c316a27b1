package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-meli-connect/core"
	meliMigrations "github.com/goliatone/go-meli-connect/migrations"
	sqlstore "github.com/goliatone/go-meli-connect/store/sql"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "meli-connect-tests"
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	var tableName string
	if err := client.DB().NewRaw(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		"marketplace_connections",
	).Scan(context.Background(), &tableName); err != nil {
		t.Fatalf("query sqlite master: %v", err)
	}
	if tableName != "marketplace_connections" {
		t.Fatalf("expected marketplace_connections table, got %q", tableName)
	}
}

func TestConnectionStore_UpsertConvergesOnTuple(t *testing.T) {
	ctx := context.Background()
	store := newConnectionStore(t)

	key := core.ConnectionKey{OwnerID: "7", SiteID: "MCO", AppID: "1234567890"}
	first, err := store.Upsert(ctx, key, core.UpsertConnectionInput{
		TenantID:           "3",
		AppSecretEncrypted: "enc:first",
		FriendlyName:       "Tienda",
		RedirectURI:        "https://app.example.com/cb/aaaa",
		StateToken:         "state-1",
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if first.ID == "" || first.Status != core.ConnectionStatusPending {
		t.Fatalf("unexpected first upsert %+v", first)
	}

	second, err := store.Upsert(ctx, key, core.UpsertConnectionInput{
		TenantID:           "3",
		AppSecretEncrypted: "enc:second",
		FriendlyName:       "Tienda 2",
		RedirectURI:        "https://app.example.com/cb/bbbb",
		StateToken:         "state-2",
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected upsert to reuse row %s, got %s", first.ID, second.ID)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("expected created_at to be preserved")
	}

	if _, ok, err := store.Find(ctx, core.ConnectionFilter{StateToken: "state-1"}); err != nil || ok {
		t.Fatalf("expected stale state token to be gone, ok=%v err=%v", ok, err)
	}
	found, ok, err := store.Find(ctx, core.ConnectionFilter{StateToken: "state-2", Status: core.ConnectionStatusPending})
	if err != nil || !ok {
		t.Fatalf("expected lookup by fresh state, ok=%v err=%v", ok, err)
	}
	if found.AppSecretEncrypted != "enc:second" || found.RedirectURI != "https://app.example.com/cb/bbbb" {
		t.Fatalf("expected overwritten fields, got %+v", found)
	}

	all, err := store.List(ctx, core.ConnectionFilter{OwnerID: "7"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected one row for the tuple, got %d", len(all))
	}
}

func TestConnectionStore_ConcurrentUpsertsConverge(t *testing.T) {
	ctx := context.Background()
	store := newConnectionStore(t)
	key := core.ConnectionKey{OwnerID: "9", SiteID: "MLA", AppID: "1234567890"}

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Upsert(ctx, key, core.UpsertConnectionInput{
				AppSecretEncrypted: fmt.Sprintf("enc:%d", i),
				StateToken:         fmt.Sprintf("state-%d", i),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent upsert: %v", err)
		}
	}
	all, err := store.List(ctx, core.ConnectionFilter{OwnerID: "9"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected concurrent upserts to converge on one row, got %d", len(all))
	}
}

func TestConnectionStore_UpdateAppliesMutation(t *testing.T) {
	ctx := context.Background()
	store := newConnectionStore(t)
	created, err := store.Upsert(ctx, core.ConnectionKey{OwnerID: "7", SiteID: "MCO", AppID: "1234567890"}, core.UpsertConnectionInput{
		AppSecretEncrypted: "enc:secret",
		StateToken:         "state-1",
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	expires := now.Add(6 * time.Hour)
	updated, err := store.Update(ctx, created.ID, func(connection *core.Connection) error {
		if err := connection.TransitionTo(core.ConnectionStatusConnected, now); err != nil {
			return err
		}
		connection.AccessTokenEncrypted = "enc:T1"
		connection.RefreshTokenEncrypted = "enc:R1"
		connection.TokenExpiresAt = &expires
		connection.StateToken = ""
		connection.MarketplaceUserID = 99
		connection.MarketplaceNickname = "N"
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != core.ConnectionStatusConnected || updated.MarketplaceUserID != 99 {
		t.Fatalf("unexpected updated record %+v", updated)
	}

	reloaded, ok, err := store.Find(ctx, core.ConnectionFilter{ID: created.ID})
	if err != nil || !ok {
		t.Fatalf("reload: ok=%v err=%v", ok, err)
	}
	if reloaded.AccessTokenEncrypted != "enc:T1" || reloaded.StateToken != "" {
		t.Fatalf("expected persisted token fields, got %+v", reloaded)
	}
	if reloaded.TokenExpiresAt == nil || !reloaded.TokenExpiresAt.Equal(expires) {
		t.Fatalf("expected expiry %v, got %v", expires, reloaded.TokenExpiresAt)
	}
	if reloaded.ConnectedAt == nil || !reloaded.ConnectedAt.Equal(now) {
		t.Fatalf("expected connected_at %v, got %v", now, reloaded.ConnectedAt)
	}

	rejected := errors.New("rejected")
	if _, err := store.Update(ctx, created.ID, func(*core.Connection) error { return rejected }); !errors.Is(err, rejected) {
		t.Fatalf("expected mutation error to abort update, got %v", err)
	}
	if _, err := store.Update(ctx, "00000000-0000-0000-0000-000000000001", nil); !errors.Is(err, core.ErrConnectionNotFound) {
		t.Fatalf("expected not found for missing id, got %v", err)
	}
	if _, err := store.Update(ctx, "not-a-uuid", nil); !errors.Is(err, core.ErrConnectionNotFound) {
		t.Fatalf("expected not found for malformed id, got %v", err)
	}
}

func TestConnectionStore_ListRefreshDueAndDelete(t *testing.T) {
	ctx := context.Background()
	store := newConnectionStore(t)
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	ids := make([]string, 0, 3)
	for i, offset := range []time.Duration{10 * time.Minute, 2 * time.Hour, 20 * time.Minute} {
		created, err := store.Upsert(ctx, core.ConnectionKey{OwnerID: "7", SiteID: "MCO", AppID: fmt.Sprintf("12345678%02d", i)}, core.UpsertConnectionInput{
			AppSecretEncrypted: "enc:secret",
		})
		if err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
		expires := base.Add(offset)
		if _, err := store.Update(ctx, created.ID, func(connection *core.Connection) error {
			if err := connection.TransitionTo(core.ConnectionStatusConnected, base); err != nil {
				return err
			}
			connection.RefreshTokenEncrypted = "enc:R"
			connection.TokenExpiresAt = &expires
			connection.MarketplaceUserID = 9000 + int64(i)
			return nil
		}); err != nil {
			t.Fatalf("connect %d: %v", i, err)
		}
		ids = append(ids, created.ID)
	}

	cutoff := base.Add(30 * time.Minute)
	due, err := store.List(ctx, core.ConnectionFilter{Status: core.ConnectionStatusConnected, ExpiresBefore: &cutoff})
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected two connections due before cutoff, got %d", len(due))
	}
	limited, err := store.List(ctx, core.ConnectionFilter{Status: core.ConnectionStatusConnected, ExpiresBefore: &cutoff, Limit: 1})
	if err != nil || len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d (%v)", len(limited), err)
	}

	seller, err := store.List(ctx, core.ConnectionFilter{MarketplaceUserID: 9001})
	if err != nil || len(seller) != 1 || seller[0].ID != ids[1] {
		t.Fatalf("expected seller filter to match one row, got %d (%v)", len(seller), err)
	}

	if err := store.Delete(ctx, ids[0]); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, ids[0]); !errors.Is(err, core.ErrConnectionNotFound) {
		t.Fatalf("expected second delete to report not found, got %v", err)
	}
	if _, ok, err := store.Find(ctx, core.ConnectionFilter{ID: ids[0]}); err != nil || ok {
		t.Fatalf("expected deleted row to be gone, ok=%v err=%v", ok, err)
	}
}

func TestService_EndToEndOnSQLiteStore(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	oauth := &stubOAuthClient{}
	svc, err := core.NewService(core.Config{
		AppBaseURL: "https://app.example.com",
		State:      core.StateConfig{Secret: "state-secret"},
	},
		core.WithPersistenceClient(client),
		core.WithRepositoryFactory(sqlstore.NewRepositoryFactory()),
		core.WithCipher(plainCipher{}),
		core.WithOAuthClient(oauth),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	connected, err := svc.Connect(ctx, core.ConnectRequest{
		OwnerID:   "7",
		SiteID:    "MCO",
		AppID:     "1234567890",
		AppSecret: "abcdefghijklmnopqrstuvwx",
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	result, err := svc.HandleCallback(ctx, core.CallbackRequest{Code: "abc", State: connected.StateToken})
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if result.ConnectionID != connected.ConnectionID {
		t.Fatalf("expected callback to complete %s, got %s", connected.ConnectionID, result.ConnectionID)
	}
	token, err := svc.EnsureValidAccessToken(ctx, connected.ConnectionID, "7")
	if err != nil || token != "T1" {
		t.Fatalf("expected stored access token, got %q (%v)", token, err)
	}
}

func newConnectionStore(t *testing.T) *sqlstore.ConnectionStore {
	t.Helper()
	client, cleanup := newSQLiteClient(t)
	t.Cleanup(cleanup)
	store, err := sqlstore.NewConnectionStore(client.DB())
	if err != nil {
		t.Fatalf("new connection store: %v", err)
	}
	return store
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:meli-connect-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = meliMigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != meliMigrations.DialectSQLite {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, meliMigrations.WithValidationTargets(meliMigrations.DialectSQLite))
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}

type plainCipher struct{}

func (plainCipher) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	return append([]byte("enc:"), plaintext...), nil
}

func (plainCipher) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 4 || string(ciphertext[:4]) != "enc:" {
		return nil, core.ErrDecryption
	}
	return ciphertext[4:], nil
}

type stubOAuthClient struct{}

func (*stubOAuthClient) BuildAuthorizationURL(site core.SiteID, clientID, redirectURI, state string) (string, error) {
	return "https://auth.example.com/authorization?client_id=" + clientID + "&state=" + state, nil
}

func (*stubOAuthClient) ExchangeCode(context.Context, core.ExchangeCodeRequest) (core.TokenSet, error) {
	return core.TokenSet{AccessToken: "T1", RefreshToken: "R1", ExpiresIn: 21600}, nil
}

func (*stubOAuthClient) RefreshToken(context.Context, core.RefreshTokenRequest) (core.TokenSet, error) {
	return core.TokenSet{AccessToken: "T2", ExpiresIn: 21600}, nil
}

func (*stubOAuthClient) GetUserInfo(context.Context, string) (core.UserInfo, error) {
	return core.UserInfo{ID: 99, Nickname: "N"}, nil
}
