package middleware

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/walletledger/internal/logging"
)

type testApp struct {
	app   *fiber.App
	calls *atomic.Int32
}

// setupTestApp mounts Idempotency behind a stand-in auth step that reads the
// owner id from the X-Owner header.
func setupTestApp(t *testing.T, status int) (*testApp, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	app := fiber.New()
	logger := logging.Discard()
	calls := &atomic.Int32{}

	app.Use(func(c *fiber.Ctx) error {
		if owner := c.Get("X-Owner"); owner != "" {
			c.Locals(ownerIDLocal, int64(len(owner)))
		}
		return c.Next()
	})
	app.Use(Idempotency(cache, time.Minute, logger))
	app.Post("/resource", func(c *fiber.Ctx) error {
		n := calls.Add(1)
		return c.Status(status).JSON(fiber.Map{"call": n})
	})

	cleanup := func() {
		cache.Close()
		mr.Close()
	}

	return &testApp{app: app, calls: calls}, cleanup
}

func (a *testApp) post(t *testing.T, key, owner string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/resource", strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	if owner != "" {
		req.Header.Set("X-Owner", owner)
	}
	resp, err := a.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func TestIdempotencyWithoutHeaderPassesThrough(t *testing.T) {
	a, cleanup := setupTestApp(t, fiber.StatusCreated)
	defer cleanup()

	for i := 0; i < 2; i++ {
		status, _ := a.post(t, "", "a")
		if status != fiber.StatusCreated {
			t.Fatalf("expected %d got %d", fiber.StatusCreated, status)
		}
	}
	if got := a.calls.Load(); got != 2 {
		t.Fatalf("expected handler to run twice, ran %d times", got)
	}
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	a, cleanup := setupTestApp(t, fiber.StatusCreated)
	defer cleanup()

	status, payload := a.post(t, "abc123", "a")
	if status != fiber.StatusCreated {
		t.Fatalf("expected status %d got %d", fiber.StatusCreated, status)
	}

	// Second request should return the cached response without invoking handler again.
	status, cachedPayload := a.post(t, "abc123", "a")
	if status != fiber.StatusCreated {
		t.Fatalf("expected cached status %d got %d", fiber.StatusCreated, status)
	}
	if cachedPayload != payload {
		t.Fatalf("expected cached payload %s got %s", payload, cachedPayload)
	}
	if got := a.calls.Load(); got != 1 {
		t.Fatalf("expected handler to run once, ran %d times", got)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(cachedPayload), &decoded); err != nil {
		t.Fatalf("cached payload invalid json: %v", err)
	}
}

func TestIdempotencyKeysScopedPerOwner(t *testing.T) {
	a, cleanup := setupTestApp(t, fiber.StatusCreated)
	defer cleanup()

	a.post(t, "shared", "a")
	a.post(t, "shared", "bb")

	if got := a.calls.Load(); got != 2 {
		t.Fatalf("expected one handler run per owner, got %d", got)
	}
}

func TestIdempotencyDoesNotStoreServerErrors(t *testing.T) {
	a, cleanup := setupTestApp(t, fiber.StatusServiceUnavailable)
	defer cleanup()

	a.post(t, "retry-me", "a")
	status, _ := a.post(t, "retry-me", "a")

	if status != fiber.StatusServiceUnavailable {
		t.Fatalf("expected %d got %d", fiber.StatusServiceUnavailable, status)
	}
	if got := a.calls.Load(); got != 2 {
		t.Fatalf("expected retry to reach the handler, ran %d times", got)
	}
}

func TestIdempotencyDoesNotStoreReturnedErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	calls := &atomic.Int32{}
	app := fiber.New()
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/resource", func(c *fiber.Ctx) error {
		calls.Add(1)
		return fiber.NewError(fiber.StatusUnprocessableEntity, "insufficient funds")
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(fiber.MethodPost, "/resource", nil)
		req.Header.Set(idempotencyKeyHeader, "funds")
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		if resp.StatusCode != fiber.StatusUnprocessableEntity {
			t.Fatalf("expected %d got %d", fiber.StatusUnprocessableEntity, resp.StatusCode)
		}
		if resp.Header.Get(replayedHeader) != "" {
			t.Fatalf("error response must not be replayed")
		}
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected both requests to reach the handler, ran %d times", got)
	}
	if mr.Exists(idempotencyPrefix + "0:funds") {
		t.Fatalf("expected key to be released")
	}
}

func TestIdempotencyWithoutCacheIsNoop(t *testing.T) {
	app := fiber.New()
	app.Use(Idempotency(nil, time.Minute, logging.Discard()))
	app.Post("/resource", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	req := httptest.NewRequest(fiber.MethodPost, "/resource", nil)
	req.Header.Set(idempotencyKeyHeader, "k")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected %d got %d", fiber.StatusNoContent, resp.StatusCode)
	}
}
