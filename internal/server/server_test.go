package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"deepsentinel/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:         "0",
		Env:          "development",
		LogLevel:     "error",
		Timezone:     "UTC",
		RateLimitRPS: 1000,
	}
}

// newTestServer creates a server with in-memory storage
func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/live", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/ready", nil)
	s.router.ServeHTTP(w, req)

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestEntitlementRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	entitlementRoutes := map[string]bool{
		"GET:/v1/tiers":                             false,
		"GET:/v1/tiers/:tier":                       false,
		"GET:/v1/users/:userID/entitlement":         false,
		"GET:/v1/users/:userID/features/:feature":   false,
		"GET:/v1/users/:userID/limit":               false,
		"POST:/v1/users/:userID/usage":              false,
		"GET:/v1/users/:userID/api-access":          false,
		"GET:/v1/users/:userID/upgrades":            false,
		"POST:/v1/users/:userID/upgrades/recommend": false,
		"POST:/v1/admin/users/:userID/tier":         false,
		"POST:/v1/admin/users/:userID/deactivate":   false,
	}

	for _, route := range routes {
		key := route.Method + ":" + route.Path
		if _, ok := entitlementRoutes[key]; ok {
			entitlementRoutes[key] = true
		}
	}

	for route, found := range entitlementRoutes {
		if !found {
			t.Errorf("Entitlement route %s not registered", route)
		}
	}
}

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"GET:/ws",
		"POST:/v1/users",
		"POST:/v1/founder/auth",
		"GET:/v1/admin/dashboard/overview",
		"GET:/v1/admin/dashboard/layers/:tier",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// Service info test
// ---------------------------------------------------------------------------

func TestInfoEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for info, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["name"] != "DeepSentinel" {
		t.Errorf("Expected name 'DeepSentinel', got %v", resp["name"])
	}
}

// ---------------------------------------------------------------------------
// Signup tests
// ---------------------------------------------------------------------------

func TestUserSignup(t *testing.T) {
	s := newTestServer(t)

	body := `{"userId":"signup-user-1"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/users", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if resp["apiKey"] == nil || resp["apiKey"] == "" {
		t.Error("Expected apiKey in signup response")
	}

	ent, ok := resp["entitlement"].(map[string]interface{})
	if !ok {
		t.Fatal("Expected entitlement in signup response")
	}
	if ent["tier"] != "layer1" {
		t.Errorf("Expected signup tier layer1, got %v", ent["tier"])
	}
}

func TestUserSignup_DuplicateRejected(t *testing.T) {
	s := newTestServer(t)

	body := `{"userId":"dup-user"}`
	for i, want := range []int{http.StatusCreated, http.StatusConflict} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/v1/users", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		s.router.ServeHTTP(w, req)
		if w.Code != want {
			t.Errorf("Signup attempt %d: expected %d, got %d", i+1, want, w.Code)
		}
	}
}

func TestUserSignup_InvalidUserID(t *testing.T) {
	s := newTestServer(t)

	body := `{"userId":"has spaces"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/users", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// End-to-end flow: signup, then authenticated check
// ---------------------------------------------------------------------------

func TestSignupThenQuotaCheck(t *testing.T) {
	s := newTestServer(t)

	// Sign up
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/users", strings.NewReader(`{"userId":"flow-user"}`))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("Signup failed: %d %s", w.Code, w.Body.String())
	}

	var signup map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &signup); err != nil {
		t.Fatalf("Failed to parse signup response: %v", err)
	}
	apiKey, _ := signup["apiKey"].(string)
	if apiKey == "" {
		t.Fatal("No apiKey in signup response")
	}

	// Check the daily limit with the issued key
	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/v1/users/flow-user/limit", nil)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Limit check failed: %d %s", w.Code, w.Body.String())
	}

	var limit map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &limit); err != nil {
		t.Fatalf("Failed to parse limit response: %v", err)
	}
	if limit["allowed"] != true {
		t.Errorf("Expected fresh signup to be allowed, got %v", limit["allowed"])
	}
	if limit["remaining"] != float64(10) {
		t.Errorf("Expected layer1 remaining 10, got %v", limit["remaining"])
	}
}

func TestProtectedRouteRejectsWrongUser(t *testing.T) {
	s := newTestServer(t)

	// Sign up two users
	var keys []string
	for _, id := range []string{"owner-a", "owner-b"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/v1/users", strings.NewReader(`{"userId":"`+id+`"}`))
		req.Header.Set("Content-Type", "application/json")
		s.router.ServeHTTP(w, req)
		var resp map[string]interface{}
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
		keys = append(keys, resp["apiKey"].(string))
	}

	// owner-b's key must not read owner-a's entitlement
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/users/owner-a/entitlement", nil)
	req.Header.Set("Authorization", "Bearer "+keys[1])
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for cross-user access, got %d", w.Code)
	}
}

func TestProtectedRouteRequiresAuth(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/users/anyone/entitlement", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without API key, got %d", w.Code)
	}
}

func TestInvalidUserIDParamRejected(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/users/bad;id/entitlement", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed userID, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Founder auth tests
// ---------------------------------------------------------------------------

func TestFounderAuth_LockedWithoutDigests(t *testing.T) {
	s := newTestServer(t)

	body := `{"secret":"anything"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/founder/auth", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 with no digests configured, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// 404 test
// ---------------------------------------------------------------------------

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/nonexistent", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
