package server

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/walletledger/internal/auth"
	"github.com/congo-pay/walletledger/internal/config"
	"github.com/congo-pay/walletledger/internal/logging"
)

const secret = "test-secret"

func testConfig() config.Config {
	return config.Config{
		AppName:         "WalletLedgerTest",
		AppEnv:          "test",
		Port:            "0",
		JWTSecret:       secret,
		IdempotencyTTL:  time.Minute,
		BalanceCacheTTL: time.Minute,
		DefaultCurrency: "BTC",
		RateLimitPerMin: 100,
	}
}

func newTestServer(t *testing.T) *fiber.App {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	srv, err := New(testConfig(), nil, cache, nil, logging.Discard())
	require.NoError(t, err)
	return srv.App()
}

func bearer(t *testing.T, ownerID int64) string {
	t.Helper()
	token, err := auth.NewVerifier(secret).Issue(ownerID, time.Minute)
	require.NoError(t, err)
	return "Bearer " + token
}

func do(t *testing.T, app *fiber.App, method, path, token, idemKey, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, token)
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return resp.StatusCode, payload
}

func TestEndToEndWalletFlow(t *testing.T) {
	app := newTestServer(t)
	token := bearer(t, 7)

	status, payload := do(t, app, fiber.MethodPost, "/api/v1/crypto/deposit", token, "dep-key", `{"currency":"BTC","amount":"2"}`)
	require.Equal(t, fiber.StatusCreated, status)
	first := payload["transaction"].(map[string]any)["id"]

	// The same Idempotency-Key replays the stored response.
	status, payload = do(t, app, fiber.MethodPost, "/api/v1/crypto/deposit", token, "dep-key", `{"currency":"BTC","amount":"2"}`)
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, first, payload["transaction"].(map[string]any)["id"])

	status, payload = do(t, app, fiber.MethodPost, "/api/v1/crypto/withdraw/pending", token, "", `{"currency":"BTC","amount":"0.5"}`)
	require.Equal(t, fiber.StatusCreated, status)
	pendingID := payload["transaction"].(map[string]any)["id"].(float64)

	status, payload = do(t, app, fiber.MethodGet, "/api/v1/crypto/balance", token, "", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "2.00000000", payload["balance"])
	assert.Equal(t, "0.50000000", payload["locked_balance"])
	assert.Equal(t, "1.50000000", payload["available_balance"])

	body := `{"transaction_id":` + jsonNumber(pendingID) + `}`
	status, _ = do(t, app, fiber.MethodPost, "/api/v1/crypto/withdraw/confirm", bearer(t, 8), "", body)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, payload = do(t, app, fiber.MethodPost, "/api/v1/crypto/withdraw/confirm", token, "", body)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "1.50000000", payload["transaction"].(map[string]any)["balance_after"])

	status, payload = do(t, app, fiber.MethodGet, "/api/v1/crypto/balance?currency=btc", token, "", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "1.50000000", payload["balance"])
	assert.Equal(t, "0.00000000", payload["locked_balance"])

	status, payload = do(t, app, fiber.MethodGet, "/api/v1/crypto/transactions", token, "", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, payload["transactions"], 2)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	app := newTestServer(t)

	status, payload := do(t, app, fiber.MethodGet, "/api/v1/crypto/balance", "", "", "")
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, false, payload["success"])
}

func TestHealthAndPing(t *testing.T) {
	app := newTestServer(t)

	status, payload := do(t, app, fiber.MethodGet, "/healthz", "", "", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, map[string]any{"postgres": "disabled", "redis": "ok"}, payload["status"])

	status, payload = do(t, app, fiber.MethodGet, "/api/v1/ping", "", "", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ok", payload["status"])
	assert.NotEmpty(t, payload["request_id"])
}

func TestNewRequiresStoresOutsideDev(t *testing.T) {
	cfg := testConfig()
	cfg.AppEnv = "production"

	_, err := New(cfg, nil, nil, nil, logging.Discard())
	assert.Error(t, err)
}

func jsonNumber(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}
