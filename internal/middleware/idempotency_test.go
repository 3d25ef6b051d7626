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

	"github.com/microbank/corebank/internal/domain"
	"github.com/microbank/corebank/internal/logging"
)

func setupTestApp(t *testing.T, calls *int64) (*fiber.App, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	app := fiber.New()
	logger := logging.Discard()
	app.Use(func(c *fiber.Ctx) error {
		if emp := c.Get("X-Test-Employee"); emp != "" {
			c.Locals(actorLocalsKey, domain.Actor{Role: domain.RoleAgent, EmployeeID: emp})
		}
		return c.Next()
	})
	app.Use(Idempotency(cache, time.Minute, logger))
	app.Post("/transactions", func(c *fiber.Ctx) error {
		n := atomic.AddInt64(calls, 1)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"posting": n})
	})

	cleanup := func() {
		cache.Close()
		mr.Close()
	}

	return app, cleanup
}

func postWithKey(t *testing.T, app *fiber.App, key, employee string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/transactions", strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	if employee != "" {
		req.Header.Set("X-Test-Employee", employee)
	}
	resp, err := app.Test(req)
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

func TestIdempotencyRequiresHeader(t *testing.T) {
	var calls int64
	app, cleanup := setupTestApp(t, &calls)
	defer cleanup()

	status, _ := postWithKey(t, app, "", "")
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected %d got %d", fiber.StatusBadRequest, status)
	}
	if calls != 0 {
		t.Fatalf("handler must not run without key, ran %d times", calls)
	}
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	var calls int64
	app, cleanup := setupTestApp(t, &calls)
	defer cleanup()

	status, payload := postWithKey(t, app, "abc123", "EMP1")
	if status != fiber.StatusCreated {
		t.Fatalf("expected status %d got %d", fiber.StatusCreated, status)
	}

	// a retried posting must be replayed, not posted twice
	status2, cachedPayload := postWithKey(t, app, "abc123", "EMP1")
	if status2 != fiber.StatusCreated {
		t.Fatalf("expected cached status %d got %d", fiber.StatusCreated, status2)
	}
	if cachedPayload != payload {
		t.Fatalf("expected cached payload %s got %s", payload, cachedPayload)
	}
	if calls != 1 {
		t.Fatalf("expected handler to run once, ran %d times", calls)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(cachedPayload), &decoded); err != nil {
		t.Fatalf("cached payload invalid json: %v", err)
	}
}

func TestIdempotencyKeysAreScopedPerEmployee(t *testing.T) {
	var calls int64
	app, cleanup := setupTestApp(t, &calls)
	defer cleanup()

	if status, _ := postWithKey(t, app, "same", "EMP1"); status != fiber.StatusCreated {
		t.Fatalf("first employee: unexpected status %d", status)
	}
	if status, _ := postWithKey(t, app, "same", "EMP2"); status != fiber.StatusCreated {
		t.Fatalf("second employee: unexpected status %d", status)
	}
	if calls != 2 {
		t.Fatalf("expected two independent postings, got %d", calls)
	}
}
