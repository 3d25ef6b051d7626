package routes

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/microbank/corebank/internal/clock"
	"github.com/microbank/corebank/internal/config"
	"github.com/microbank/corebank/internal/logging"
	"github.com/microbank/corebank/internal/middleware"
)

const testSecret = "test-secret"

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	logger := logging.Discard()
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(logger)})
	_, err := Setup(app, Deps{
		Cfg: config.Config{
			AppEnv:                  "development",
			JWTSecret:               testSecret,
			SavingsInterestSchedule: "10 0 * * *",
			DepositInterestSchedule: "1 0 * * *",
			MaturitySchedule:        "5 0 * * *",
			SchedulerLocation:       time.UTC,
			AccrualWorkers:          2,
			AccrualMaxRetries:       1,
			AccrualRetryBaseDelay:   time.Millisecond,
			TriggerRateLimitPerMin:  10,
		},
		Logger: logger,
		Clock:  clock.NewManual(time.Date(2024, 1, 31, 0, 10, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	return app
}

func token(t *testing.T, role, employee, branch string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"role":        role,
		"employee_id": employee,
		"branch_id":   branch,
		"exp":         time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func call(t *testing.T, app *fiber.App, method, path, bearer, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if bearer != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+bearer)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp.StatusCode, out
}

func TestAccountLifecycleOverHTTP(t *testing.T) {
	app := newTestApp(t)
	admin := token(t, "admin", "ADM1", "")
	agent := token(t, "agent", "EMP1", "BR001")

	if status, body := call(t, app, http.MethodPost, "/api/v1/savings-plans", admin, `{"id":"classic","name":"Classic","annual_rate":"12%","min_balance":"500.00"}`); status != http.StatusCreated {
		t.Fatalf("create plan: %d %v", status, body)
	}
	if status, _ := call(t, app, http.MethodPost, "/api/v1/savings-plans", agent, `{"id":"x","annual_rate":"1","min_balance":"0"}`); status != http.StatusForbidden {
		t.Fatalf("agent plan create: expected 403, got %d", status)
	}

	status, body := call(t, app, http.MethodPost, "/api/v1/accounts", agent, `{"plan_id":"classic","customer_ids":["C1","C2"],"initial_deposit":"1000.00"}`)
	if status != http.StatusCreated {
		t.Fatalf("open account: %d %v", status, body)
	}
	if body["joint"] != true || body["balance"] != "1000.00" {
		t.Fatalf("unexpected account %v", body)
	}

	status, body = call(t, app, http.MethodPost, "/api/v1/transactions", agent, `{"account_id":1,"kind":"withdrawal","amount":"500.01"}`)
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("withdrawal below minimum: expected 422, got %d %v", status, body)
	}
	status, body = call(t, app, http.MethodPost, "/api/v1/transactions", agent, `{"account_id":1,"kind":"withdrawal","amount":"500.00"}`)
	if status != http.StatusCreated || body["amount"] != "500.00" {
		t.Fatalf("withdrawal: %d %v", status, body)
	}
	if status, _ := call(t, app, http.MethodPost, "/api/v1/transactions", agent, `{"account_id":1,"kind":"interest","amount":"1.00"}`); status != http.StatusBadRequest {
		t.Fatalf("manual interest: expected 400, got %d", status)
	}

	status, body = call(t, app, http.MethodGet, "/api/v1/accounts/1/balance", agent, "")
	if status != http.StatusOK || body["balance"] != "500.00" {
		t.Fatalf("balance: %d %v", status, body)
	}
	if body["timestamp"] != "2024-01-31T00:10:00Z" {
		t.Fatalf("balance timestamp should come from the service clock, got %v", body["timestamp"])
	}
	if status, _ := call(t, app, http.MethodGet, "/api/v1/accounts/1/balance", "", ""); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", status)
	}
	if status, _ := call(t, app, http.MethodGet, "/api/v1/accounts/1/balance", token(t, "agent", "EMP9", "BR002"), ""); status != http.StatusForbidden {
		t.Fatalf("expected 403 for another agent, got %d", status)
	}

	// both holders see the same history
	_, first := call(t, app, http.MethodGet, "/api/v1/holders/1/transactions", agent, "")
	_, second := call(t, app, http.MethodGet, "/api/v1/holders/2/transactions", agent, "")
	if len(first["transactions"].([]any)) != 2 || len(second["transactions"].([]any)) != 2 {
		t.Fatalf("expected shared history, got %v / %v", first, second)
	}
}

func TestAccrualEndpoints(t *testing.T) {
	app := newTestApp(t)
	admin := token(t, "admin", "ADM1", "")
	agent := token(t, "agent", "EMP1", "BR001")

	call(t, app, http.MethodPost, "/api/v1/savings-plans", admin, `{"id":"classic","name":"Classic","annual_rate":"12","min_balance":"500"}`)
	call(t, app, http.MethodPost, "/api/v1/accounts", agent, `{"plan_id":"classic","customer_ids":["C1"],"initial_deposit":"1000.00"}`)

	if status, _ := call(t, app, http.MethodPost, "/api/v1/accrual/savings-interest", agent, ""); status != http.StatusForbidden {
		t.Fatalf("agent trigger: expected 403, got %d", status)
	}
	if status, _ := call(t, app, http.MethodPost, "/api/v1/accrual/bonus", admin, ""); status != http.StatusNotFound {
		t.Fatalf("unknown pass: expected 404, got %d", status)
	}
	status, body := call(t, app, http.MethodPost, "/api/v1/accrual/savings-interest", admin, "")
	if status != http.StatusOK || body["processed"] != float64(1) || body["total"] != "10.00" {
		t.Fatalf("trigger: %d %v", status, body)
	}
	status, body = call(t, app, http.MethodPost, "/api/v1/accrual/savings-interest", admin, "")
	if status != http.StatusOK || body["processed"] != float64(0) || body["skipped"] != float64(1) {
		t.Fatalf("second trigger should skip: %d %v", status, body)
	}

	manager := token(t, "branch_manager", "MGR1", "BR001")
	if status, body := call(t, app, http.MethodGet, "/api/v1/accrual/status", manager, ""); status != http.StatusOK || body["running"] != false {
		t.Fatalf("manager status: %d %v", status, body)
	}
	if status, _ := call(t, app, http.MethodGet, "/api/v1/accrual/status", agent, ""); status != http.StatusForbidden {
		t.Fatalf("agent status: expected 403, got %d", status)
	}
	if status, _ := call(t, app, http.MethodPost, "/api/v1/accrual/scheduler/start", manager, ""); status != http.StatusForbidden {
		t.Fatalf("manager start: expected 403, got %d", status)
	}

	status, body = call(t, app, http.MethodPost, "/api/v1/accrual/scheduler/start", admin, "")
	if status != http.StatusOK || body["running"] != true {
		t.Fatalf("start: %d %v", status, body)
	}
	status, body = call(t, app, http.MethodPost, "/api/v1/accrual/scheduler/stop", admin, "")
	if status != http.StatusOK || body["running"] != false {
		t.Fatalf("stop: %d %v", status, body)
	}
}
