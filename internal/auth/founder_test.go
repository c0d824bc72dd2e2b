package auth

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func digestOf(secret string) string {
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:])
}

func TestHashedSecretVerifier_Match(t *testing.T) {
	v, err := NewHashedSecretVerifier([]string{digestOf("correct horse"), digestOf("battery staple")})
	if err != nil {
		t.Fatalf("NewHashedSecretVerifier: %v", err)
	}

	tests := []struct {
		secret string
		want   bool
	}{
		{"correct horse", true},
		{"battery staple", true},
		{"wrong", false},
		{"", false},
		{"Correct horse", false},
	}

	for _, tt := range tests {
		ok, err := v.Verify(context.Background(), tt.secret)
		if err != nil {
			t.Fatalf("Verify(%q): %v", tt.secret, err)
		}
		if ok != tt.want {
			t.Errorf("Verify(%q) = %v, want %v", tt.secret, ok, tt.want)
		}
	}
}

func TestHashedSecretVerifier_EmptySetLocked(t *testing.T) {
	v, err := NewHashedSecretVerifier(nil)
	if err != nil {
		t.Fatalf("NewHashedSecretVerifier: %v", err)
	}

	if _, err := v.Verify(context.Background(), "anything"); err != ErrFounderLocked {
		t.Errorf("Verify = %v, want ErrFounderLocked", err)
	}
}

func TestHashedSecretVerifier_RejectsBadDigest(t *testing.T) {
	if _, err := NewHashedSecretVerifier([]string{"not-hex"}); err == nil {
		t.Error("Expected error for invalid digest")
	}
	if _, err := NewHashedSecretVerifier([]string{"abcd"}); err == nil {
		t.Error("Expected error for short digest")
	}
}

func setupFounderRouter(t *testing.T, secrets ...string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	digests := make([]string, len(secrets))
	for i, s := range secrets {
		digests[i] = digestOf(s)
	}
	v, err := NewHashedSecretVerifier(digests)
	if err != nil {
		t.Fatalf("NewHashedSecretVerifier: %v", err)
	}

	r := gin.New()
	r.POST("/v1/founder/auth", NewFounderHandler(v).Authenticate)
	return r
}

func postFounderAuth(r *gin.Engine, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(body)
	req := httptest.NewRequest("POST", "/v1/founder/auth", &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestFounderHandler_Granted(t *testing.T) {
	r := setupFounderRouter(t, "founder-pass-1")

	w := postFounderAuth(r, map[string]string{"secret": "founder-pass-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Authenticated bool   `json:"authenticated"`
		AccessLevel   string `json:"accessLevel"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Authenticated || resp.AccessLevel != "founder" {
		t.Errorf("Unexpected response: %+v", resp)
	}
}

func TestFounderHandler_Denied(t *testing.T) {
	r := setupFounderRouter(t, "founder-pass-1")

	w := postFounderAuth(r, map[string]string{"secret": "guess"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401, got %d", w.Code)
	}
}

func TestFounderHandler_MissingSecret(t *testing.T) {
	r := setupFounderRouter(t, "founder-pass-1")

	w := postFounderAuth(r, map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}
}

func TestFounderHandler_Locked(t *testing.T) {
	r := setupFounderRouter(t)

	w := postFounderAuth(r, map[string]string{"secret": "anything"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("Expected 403, got %d", w.Code)
	}
}
