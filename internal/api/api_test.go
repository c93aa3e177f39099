package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/predaja/internal/auth"
	"github.com/erazemk/predaja/internal/db"
	"github.com/erazemk/predaja/internal/model"
	"github.com/erazemk/predaja/internal/store"
)

const (
	testJWTSecret = "test-secret"
	testPassword  = "password123"
)

type testServer struct {
	*httptest.Server
	t *testing.T
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	if opts.DB == nil {
		opts.DB = db.NewTestDB(t)
	}
	opts.Issuer = auth.NewIssuer(testJWTSecret, time.Hour)
	if opts.LoginRate == 0 {
		opts.LoginRate, opts.LoginBurst = 1000, 1000
	}
	server := httptest.NewServer(NewRouter(opts))
	t.Cleanup(server.Close)
	return &testServer{Server: server, t: t}
}

// fixtures seeds the database behind a test server.
type fixtures struct {
	DB *sql.DB
}

func setupTestServer(t *testing.T) (*testServer, *fixtures) {
	t.Helper()
	database := db.NewTestDB(t)
	return newTestServer(t, Options{DB: database}), &fixtures{DB: database}
}

// createUser adds a user directly through the store and returns it.
func (d *fixtures) createUser(t *testing.T, email, role string) *model.User {
	t.Helper()
	hash, err := auth.HashPassword(testPassword)
	require.NoError(t, err)
	u, err := store.CreateUser(context.Background(), d.DB, email, email, hash, role)
	require.NoError(t, err)
	return u
}

func (s *testServer) login(email, password string) *http.Response {
	s.t.Helper()
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	resp, err := http.Post(s.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	require.NoError(s.t, err)
	return resp
}

func (s *testServer) token(email string) string {
	s.t.Helper()
	resp := s.login(email, testPassword)
	defer resp.Body.Close()
	require.Equal(s.t, http.StatusOK, resp.StatusCode)

	var lr loginResponse
	require.NoError(s.t, json.NewDecoder(resp.Body).Decode(&lr))
	require.NotEmpty(s.t, lr.Token)
	return lr.Token
}

// do sends an authenticated request and decodes the response into out when
// out is non-nil.
func (s *testServer) do(method, path, token string, body, out any) int {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(s.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(s.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestLoginEndpoint(t *testing.T) {
	server, d := setupTestServer(t)
	d.createUser(t, "admin@example.com", model.RoleAdmin)

	resp := server.login("admin@example.com", "wrong-password")
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = server.login("nobody@example.com", testPassword)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Emails are matched case-insensitively.
	resp = server.login("Admin@Example.com", testPassword)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoginValidation(t *testing.T) {
	server, _ := setupTestServer(t)

	var body struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	status := server.do("POST", "/api/auth/login", "", map[string]string{"email": "not-an-email"}, &body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation failed", body.Error)
	assert.Equal(t, "email", body.Fields["Email"])
	assert.Equal(t, "required", body.Fields["Password"])
}

func TestLoginRateLimit(t *testing.T) {
	server := newTestServer(t, Options{LoginRate: 0.001, LoginBurst: 2})

	for i := 0; i < 2; i++ {
		resp := server.login("admin@example.com", "wrong-password")
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	resp := server.login("admin@example.com", "wrong-password")
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestUnauthenticatedAccess(t *testing.T) {
	server, _ := setupTestServer(t)

	for _, path := range []string{"/api/products", "/api/handovers", "/api/auth/me"} {
		status := server.do("GET", path, "", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, status, path)
	}
	status := server.do("GET", "/api/products", "garbage", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestLogoutRevokesToken(t *testing.T) {
	server, d := setupTestServer(t)
	d.createUser(t, "admin@example.com", model.RoleAdmin)
	token := server.token("admin@example.com")

	require.Equal(t, http.StatusOK, server.do("GET", "/api/auth/me", token, nil, nil))
	require.Equal(t, http.StatusOK, server.do("POST", "/api/auth/logout", token, nil, nil))
	assert.Equal(t, http.StatusUnauthorized, server.do("GET", "/api/auth/me", token, nil, nil))
}

func TestDeactivatedUserLosesAccess(t *testing.T) {
	server, d := setupTestServer(t)
	d.createUser(t, "admin@example.com", model.RoleAdmin)
	emp := d.createUser(t, "emp@example.com", model.RoleEmployee)
	adminToken := server.token("admin@example.com")
	empToken := server.token("emp@example.com")

	status := server.do("PUT", fmt.Sprintf("/api/users/%d", emp.ID), adminToken, map[string]any{"active": false}, nil)
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, http.StatusUnauthorized, server.do("GET", "/api/products", empToken, nil, nil))
	resp := server.login("emp@example.com", testPassword)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMe(t *testing.T) {
	server, d := setupTestServer(t)
	d.createUser(t, "manager@example.com", model.RoleManager)
	token := server.token("manager@example.com")

	var body struct {
		User         model.User          `json:"user"`
		Capabilities model.CapabilitySet `json:"capabilities"`
	}
	require.Equal(t, http.StatusOK, server.do("GET", "/api/auth/me", token, nil, &body))
	assert.Equal(t, "manager@example.com", body.User.Email)
	assert.Equal(t, model.DeriveCapabilities(model.RoleManager), body.Capabilities)
}

func TestRoleBasedAccess(t *testing.T) {
	server, d := setupTestServer(t)
	d.createUser(t, "emp@example.com", model.RoleEmployee)
	d.createUser(t, "manager@example.com", model.RoleManager)
	empToken := server.token("emp@example.com")
	managerToken := server.token("manager@example.com")

	status := server.do("POST", "/api/products", empToken, map[string]any{"name": "Drill", "quantity": 1}, nil)
	assert.Equal(t, http.StatusForbidden, status)

	assert.Equal(t, http.StatusForbidden, server.do("GET", "/api/users", empToken, nil, nil))
	assert.Equal(t, http.StatusForbidden, server.do("GET", "/api/users", managerToken, nil, nil))

	var p model.Product
	status = server.do("POST", "/api/products", managerToken, map[string]any{"name": "Drill", "quantity": 1}, &p)
	require.Equal(t, http.StatusCreated, status)

	// Managers can edit but not delete.
	var body map[string]string
	status = server.do("DELETE", "/api/products/"+p.ID, managerToken, nil, &body)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", body["kind"])
}

func TestProductsAPIFlow(t *testing.T) {
	server, d := setupTestServer(t)
	d.createUser(t, "admin@example.com", model.RoleAdmin)
	token := server.token("admin@example.com")

	var drill, saw model.Product
	require.Equal(t, http.StatusCreated, server.do("POST", "/api/products", token,
		map[string]any{"name": "Drill", "quantity": 5, "min_stock": 2}, &drill))
	require.Equal(t, http.StatusCreated, server.do("POST", "/api/products", token,
		map[string]any{"name": "Saw", "quantity": 1, "min_stock": 2}, &saw))
	assert.Equal(t, int64(1), drill.Seq)
	assert.Equal(t, int64(2), saw.Seq)

	// Products resolve by sequence number as well as handle.
	var got model.Product
	require.Equal(t, http.StatusOK, server.do("GET", "/api/products/2", token, nil, &got))
	assert.Equal(t, saw.ID, got.ID)

	var page model.Page[model.Product]
	require.Equal(t, http.StatusOK, server.do("GET", "/api/products?low_stock=true", token, nil, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Saw", page.Items[0].Name)

	require.Equal(t, http.StatusOK, server.do("GET", "/api/products?search=dri", token, nil, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Drill", page.Items[0].Name)

	var adjusted model.Product
	require.Equal(t, http.StatusOK, server.do("POST", "/api/products/1/stock", token,
		map[string]any{"delta": -3, "notes": "broken"}, &adjusted))
	assert.Equal(t, 2, adjusted.Stock.Quantity)

	var body map[string]string
	status := server.do("POST", "/api/products/1/stock", token, map[string]any{"delta": -10}, &body)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "insufficient_stock", body["kind"])

	var updated model.Product
	require.Equal(t, http.StatusOK, server.do("PUT", "/api/products/"+drill.ID, token,
		map[string]any{"name": "Cordless drill", "quantity": 99, "min_stock": 1}, &updated))
	assert.Equal(t, "Cordless drill", updated.Name)
	assert.Equal(t, 2, updated.Stock.Quantity, "quantity only changes through the stock endpoint")

	// Deleting the first product renumbers the rest.
	require.Equal(t, http.StatusOK, server.do("DELETE", "/api/products/1", token, nil, nil))
	require.Equal(t, http.StatusOK, server.do("GET", "/api/products/1", token, nil, &got))
	assert.Equal(t, saw.ID, got.ID)
	assert.Equal(t, http.StatusNotFound, server.do("GET", "/api/products/"+drill.ID, token, nil, nil))
}

func TestProductValidation(t *testing.T) {
	server, d := setupTestServer(t)
	d.createUser(t, "admin@example.com", model.RoleAdmin)
	token := server.token("admin@example.com")

	var body struct {
		Fields map[string]string `json:"fields"`
	}
	status := server.do("POST", "/api/products", token, map[string]any{"quantity": -1}, &body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "required", body.Fields["Name"])
	assert.Equal(t, "gte", body.Fields["Quantity"])
}

func TestHandoverAPIFlow(t *testing.T) {
	server, d := setupTestServer(t)
	d.createUser(t, "manager@example.com", model.RoleManager)
	emp := d.createUser(t, "emp@example.com", model.RoleEmployee)
	managerToken := server.token("manager@example.com")
	empToken := server.token("emp@example.com")

	var p model.Product
	require.Equal(t, http.StatusCreated, server.do("POST", "/api/products", managerToken,
		map[string]any{"name": "Laptop", "quantity": 3}, &p))

	// Direct issue commits stock at once.
	var issued model.HandOver
	require.Equal(t, http.StatusCreated, server.do("POST", "/api/handovers", managerToken,
		map[string]any{"product_id": p.ID, "employee_id": emp.ID, "quantity": 2}, &issued))
	assert.Equal(t, model.StatusHandedOver, issued.Status)
	assert.Equal(t, "emp@example.com", issued.EmployeeEmail)

	var got model.Product
	require.Equal(t, http.StatusOK, server.do("GET", "/api/products/"+p.ID, managerToken, nil, &got))
	assert.Equal(t, 1, got.Stock.Quantity)

	// A request for more than is left is accepted but cannot be approved.
	var req model.HandOver
	require.Equal(t, http.StatusCreated, server.do("POST", "/api/handovers/requests", empToken,
		map[string]any{"product_id": "1", "quantity": 2, "purpose": "travel"}, &req))
	assert.Equal(t, model.StatusPending, req.Status)
	assert.Equal(t, emp.ID, req.EmployeeID)

	var body map[string]string
	status := server.do("POST", fmt.Sprintf("/api/handovers/%d/approve", req.ID), managerToken, nil, &body)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "insufficient_stock", body["kind"])

	// Employees cannot approve their own requests.
	status = server.do("POST", fmt.Sprintf("/api/handovers/%d/approve", req.ID), empToken, nil, nil)
	assert.Equal(t, http.StatusForbidden, status)

	// A partial return frees stock, then the approval goes through.
	var returned model.HandOver
	require.Equal(t, http.StatusOK, server.do("POST", fmt.Sprintf("/api/handovers/%d/return", issued.ID), empToken,
		map[string]any{"quantity": 1, "notes": "done with one"}, &returned))
	assert.Equal(t, model.StatusHandedOver, returned.Status)
	assert.Equal(t, 1, returned.ReturnedQuantity)

	var approved model.HandOver
	require.Equal(t, http.StatusOK, server.do("POST", fmt.Sprintf("/api/handovers/%d/approve", req.ID), managerToken,
		map[string]any{"notes": "ok"}, &approved))
	assert.Equal(t, model.StatusHandedOver, approved.Status)

	require.Equal(t, http.StatusOK, server.do("GET", "/api/products/"+p.ID, managerToken, nil, &got))
	assert.Equal(t, 0, got.Stock.Quantity)

	// Approving twice is an invalid transition.
	status = server.do("POST", fmt.Sprintf("/api/handovers/%d/approve", req.ID), managerToken, nil, &body)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "invalid_transition", body["kind"])

	var closed model.HandOver
	require.Equal(t, http.StatusOK, server.do("POST", fmt.Sprintf("/api/handovers/%d/mark-returned", issued.ID), managerToken,
		nil, &closed))
	assert.Equal(t, model.StatusReturned, closed.Status)
	assert.Equal(t, 2, closed.ReturnedQuantity)

	require.Equal(t, http.StatusOK, server.do("GET", "/api/products/"+p.ID, managerToken, nil, &got))
	assert.Equal(t, 1, got.Stock.Quantity)

	var stats model.HandoverStats
	require.Equal(t, http.StatusOK, server.do("GET", "/api/handovers/stats", managerToken, nil, &stats))
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[model.StatusReturned])
	assert.Equal(t, 1, stats.ByStatus[model.StatusHandedOver])

	var page model.Page[model.HandOver]
	require.Equal(t, http.StatusOK, server.do("GET", "/api/handovers?status=handed_over", managerToken, nil, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, req.ID, page.Items[0].ID)
}

func TestHandoverRejectRequiresReason(t *testing.T) {
	server, d := setupTestServer(t)
	d.createUser(t, "admin@example.com", model.RoleAdmin)
	d.createUser(t, "emp@example.com", model.RoleEmployee)
	adminToken := server.token("admin@example.com")
	empToken := server.token("emp@example.com")

	var p model.Product
	require.Equal(t, http.StatusCreated, server.do("POST", "/api/products", adminToken,
		map[string]any{"name": "Ladder", "quantity": 1}, &p))

	var req model.HandOver
	require.Equal(t, http.StatusCreated, server.do("POST", "/api/handovers/requests", empToken,
		map[string]any{"product_id": p.ID, "quantity": 1}, &req))

	path := fmt.Sprintf("/api/handovers/%d/reject", req.ID)
	assert.Equal(t, http.StatusBadRequest, server.do("POST", path, adminToken, map[string]any{}, nil))

	var rejected model.HandOver
	require.Equal(t, http.StatusOK, server.do("POST", path, adminToken, map[string]any{"reason": "out for repair"}, &rejected))
	assert.Equal(t, model.StatusRejected, rejected.Status)
	assert.Equal(t, "out for repair", rejected.RejectionReason)
}

func TestEmployeeSeesOnlyOwnHandovers(t *testing.T) {
	server, d := setupTestServer(t)
	d.createUser(t, "admin@example.com", model.RoleAdmin)
	alice := d.createUser(t, "alice@example.com", model.RoleEmployee)
	bob := d.createUser(t, "bob@example.com", model.RoleEmployee)
	adminToken := server.token("admin@example.com")
	aliceToken := server.token("alice@example.com")

	var p model.Product
	require.Equal(t, http.StatusCreated, server.do("POST", "/api/products", adminToken,
		map[string]any{"name": "Camera", "quantity": 5}, &p))

	var forAlice, forBob model.HandOver
	require.Equal(t, http.StatusCreated, server.do("POST", "/api/handovers", adminToken,
		map[string]any{"product_id": p.ID, "employee_id": alice.ID, "quantity": 1}, &forAlice))
	require.Equal(t, http.StatusCreated, server.do("POST", "/api/handovers", adminToken,
		map[string]any{"product_id": p.ID, "employee_id": bob.ID, "quantity": 1}, &forBob))

	var page model.Page[model.HandOver]
	require.Equal(t, http.StatusOK, server.do("GET", fmt.Sprintf("/api/handovers?employee_id=%d", bob.ID), aliceToken, nil, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, forAlice.ID, page.Items[0].ID)

	assert.Equal(t, http.StatusForbidden, server.do("GET", fmt.Sprintf("/api/handovers/%d", forBob.ID), aliceToken, nil, nil))
	assert.Equal(t, http.StatusForbidden, server.do("POST", fmt.Sprintf("/api/handovers/%d/return", forBob.ID), aliceToken,
		map[string]any{"quantity": 1}, nil))
	assert.Equal(t, http.StatusForbidden, server.do("DELETE", fmt.Sprintf("/api/handovers/%d", forAlice.ID), aliceToken, nil, nil))

	// Requests on behalf of someone else are refused.
	assert.Equal(t, http.StatusForbidden, server.do("POST", "/api/handovers/requests", aliceToken,
		map[string]any{"product_id": p.ID, "employee_id": bob.ID, "quantity": 1}, nil))
}

func TestDeleteHandoverRestoresStock(t *testing.T) {
	server, d := setupTestServer(t)
	d.createUser(t, "admin@example.com", model.RoleAdmin)
	emp := d.createUser(t, "emp@example.com", model.RoleEmployee)
	token := server.token("admin@example.com")

	var p model.Product
	require.Equal(t, http.StatusCreated, server.do("POST", "/api/products", token,
		map[string]any{"name": "Projector", "quantity": 2}, &p))

	var h model.HandOver
	require.Equal(t, http.StatusCreated, server.do("POST", "/api/handovers", token,
		map[string]any{"product_id": p.ID, "employee_id": emp.ID, "quantity": 2}, &h))

	// The product cannot go while units are out.
	assert.Equal(t, http.StatusConflict, server.do("DELETE", "/api/products/"+p.ID, token, nil, nil))

	require.Equal(t, http.StatusOK, server.do("DELETE", fmt.Sprintf("/api/handovers/%d", h.ID), token, nil, nil))
	assert.Equal(t, http.StatusNotFound, server.do("GET", fmt.Sprintf("/api/handovers/%d", h.ID), token, nil, nil))

	var got model.Product
	require.Equal(t, http.StatusOK, server.do("GET", "/api/products/"+p.ID, token, nil, &got))
	assert.Equal(t, 2, got.Stock.Quantity)
}

func TestFailsafeAccountProtected(t *testing.T) {
	server, d := setupTestServer(t)
	hash, err := auth.HashPassword(testPassword)
	require.NoError(t, err)
	fs, err := store.CreateFailsafeUser(context.Background(), d.DB, "root@example.com", hash)
	require.NoError(t, err)
	d.createUser(t, "admin@example.com", model.RoleAdmin)
	token := server.token("admin@example.com")

	path := fmt.Sprintf("/api/users/%d", fs.ID)
	assert.Equal(t, http.StatusForbidden, server.do("DELETE", path, token, nil, nil))
	assert.Equal(t, http.StatusForbidden, server.do("PUT", path, token, map[string]any{"role": "employee"}, nil))
	assert.Equal(t, http.StatusForbidden, server.do("PUT", path, token, map[string]any{"active": false}, nil))
	assert.Equal(t, http.StatusForbidden, server.do("PUT", path+"/password", token,
		map[string]any{"password": "another-password"}, nil))
}

func TestUsersAPIFlow(t *testing.T) {
	server, d := setupTestServer(t)
	d.createUser(t, "admin@example.com", model.RoleAdmin)
	token := server.token("admin@example.com")

	var u model.User
	require.Equal(t, http.StatusCreated, server.do("POST", "/api/users", token, map[string]any{
		"email": "New@Example.com", "name": "New", "password": testPassword, "role": "employee",
	}, &u))
	assert.Equal(t, "new@example.com", u.Email)

	assert.Equal(t, http.StatusConflict, server.do("POST", "/api/users", token, map[string]any{
		"email": "new@example.com", "password": testPassword, "role": "employee",
	}, nil))
	assert.Equal(t, http.StatusBadRequest, server.do("POST", "/api/users", token, map[string]any{
		"email": "x@example.com", "password": "short", "role": "employee",
	}, nil))
	assert.Equal(t, http.StatusBadRequest, server.do("POST", "/api/users", token, map[string]any{
		"email": "y@example.com", "password": testPassword, "role": "superuser",
	}, nil))

	var users []model.User
	require.Equal(t, http.StatusOK, server.do("GET", "/api/users?role=employee", token, nil, &users))
	require.Len(t, users, 1)
	assert.Equal(t, u.ID, users[0].ID)

	require.Equal(t, http.StatusOK, server.do("DELETE", fmt.Sprintf("/api/users/%d", u.ID), token, nil, nil))
	resp := server.login("new@example.com", testPassword)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestChangeOwnPassword(t *testing.T) {
	server, d := setupTestServer(t)
	d.createUser(t, "emp@example.com", model.RoleEmployee)
	token := server.token("emp@example.com")

	assert.Equal(t, http.StatusUnauthorized, server.do("PUT", "/api/auth/password", token,
		map[string]string{"current_password": "wrong", "new_password": "brand-new-pass"}, nil))
	require.Equal(t, http.StatusOK, server.do("PUT", "/api/auth/password", token,
		map[string]string{"current_password": testPassword, "new_password": "brand-new-pass"}, nil))

	resp := server.login("emp@example.com", "brand-new-pass")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	server, _ := setupTestServer(t)

	var health map[string]any
	require.Equal(t, http.StatusOK, server.do("GET", "/api/health", "", nil, &health))
	assert.Equal(t, "ok", health["status"])

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `http_requests_total{method="GET",path="GET /api/health",status="200"}`)
}

func TestRequestIDAndCORS(t *testing.T) {
	server := newTestServer(t, Options{CORSOrigins: []string{"https://app.example.com"}})

	req, err := http.NewRequest(http.MethodOptions, server.URL+"/api/products", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	req, err = http.NewRequest(http.MethodGet, server.URL+"/api/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("X-Request-ID", "01ARZ3NDEKTSV4RRFFQ69G5FAV")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "01ARZ3NDEKTSV4RRFFQ69G5FAV", resp.Header.Get("X-Request-ID"))
}

func TestBodyTooLarge(t *testing.T) {
	server, d := setupTestServer(t)
	d.createUser(t, "admin@example.com", model.RoleAdmin)
	token := server.token("admin@example.com")

	big := strings.Repeat("x", maxBodyBytes+1)
	status := server.do("POST", "/api/products", token, map[string]any{"name": big}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestApproveWithEmptyChunkedBody(t *testing.T) {
	server, d := setupTestServer(t)
	d.createUser(t, "manager@example.com", model.RoleManager)
	d.createUser(t, "emp@example.com", model.RoleEmployee)
	managerToken := server.token("manager@example.com")
	empToken := server.token("emp@example.com")

	var p model.Product
	require.Equal(t, http.StatusCreated, server.do("POST", "/api/products", managerToken,
		map[string]any{"name": "Tripod", "quantity": 1}, &p))
	var h model.HandOver
	require.Equal(t, http.StatusCreated, server.do("POST", "/api/handovers/requests", empToken,
		map[string]any{"product_id": p.ID, "quantity": 1}, &h))

	// An unsized reader makes the client send the body chunked.
	req, err := http.NewRequest("POST", fmt.Sprintf("%s/api/handovers/%d/approve", server.URL, h.ID), io.MultiReader())
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+managerToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var approved model.HandOver
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&approved))
	assert.Equal(t, model.StatusHandedOver, approved.Status)
}

func TestHandoverCreateChecksRoleBeforeProduct(t *testing.T) {
	server, d := setupTestServer(t)
	d.createUser(t, "manager@example.com", model.RoleManager)
	emp := d.createUser(t, "emp@example.com", model.RoleEmployee)
	managerToken := server.token("manager@example.com")
	empToken := server.token("emp@example.com")

	// Unknown sequence numbers must not reveal anything to callers lacking the role.
	var body map[string]string
	status := server.do("POST", "/api/handovers", empToken,
		map[string]any{"product_id": "42", "employee_id": emp.ID, "quantity": 1}, &body)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", body["kind"])

	status = server.do("POST", "/api/handovers/requests", managerToken,
		map[string]any{"product_id": "42", "quantity": 1}, &body)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", body["kind"])

	// With the right role the missing product is reported as such.
	status = server.do("POST", "/api/handovers", managerToken,
		map[string]any{"product_id": "42", "employee_id": emp.ID, "quantity": 1}, &body)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["kind"])
}
