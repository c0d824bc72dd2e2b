package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"deepsentinel/internal/metrics"
)

// ErrFounderLocked is returned when founder access is disabled entirely.
var ErrFounderLocked = errors.New("founder access is disabled")

// FounderVerifier checks a founder credential. Implementations decide what a
// credential is; callers only learn pass or fail.
type FounderVerifier interface {
	Verify(ctx context.Context, secret string) (bool, error)
}

// HashedSecretVerifier verifies a credential against a set of sha256 digests.
// Secrets are never held in plain text and comparison is constant time.
type HashedSecretVerifier struct {
	digests [][]byte
}

// NewHashedSecretVerifier builds a verifier from hex-encoded sha256 digests.
// An empty digest set yields a verifier that rejects everything.
func NewHashedSecretVerifier(hexDigests []string) (*HashedSecretVerifier, error) {
	v := &HashedSecretVerifier{}
	for _, d := range hexDigests {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		raw, err := hex.DecodeString(d)
		if err != nil || len(raw) != sha256.Size {
			return nil, fmt.Errorf("auth: invalid founder digest %q", d)
		}
		v.digests = append(v.digests, raw)
	}
	return v, nil
}

// Verify hashes the candidate secret and compares it against every digest.
// All digests are always checked so timing does not reveal which one matched.
func (v *HashedSecretVerifier) Verify(_ context.Context, secret string) (bool, error) {
	if len(v.digests) == 0 {
		return false, ErrFounderLocked
	}

	h := sha256.Sum256([]byte(secret))
	matched := 0
	for _, d := range v.digests {
		matched |= subtle.ConstantTimeCompare(h[:], d)
	}
	return matched == 1, nil
}

// FounderHandler provides the founder authentication endpoint.
type FounderHandler struct {
	verifier FounderVerifier
}

// NewFounderHandler creates a founder auth handler.
func NewFounderHandler(v FounderVerifier) *FounderHandler {
	return &FounderHandler{verifier: v}
}

// Authenticate handles POST /v1/founder/auth
func (h *FounderHandler) Authenticate(c *gin.Context) {
	var req struct {
		Secret string `json:"secret"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Secret == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Secret is required",
		})
		return
	}

	ok, err := h.verifier.Verify(c.Request.Context(), req.Secret)
	if err != nil {
		if errors.Is(err, ErrFounderLocked) {
			metrics.FounderAuthTotal.WithLabelValues("locked").Inc()
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "founder_locked",
				"message": "Founder access is disabled",
			})
			return
		}
		metrics.FounderAuthTotal.WithLabelValues("error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Verification failed",
		})
		return
	}

	if !ok {
		metrics.FounderAuthTotal.WithLabelValues("denied").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "invalid_credentials",
			"message": "Founder verification failed",
		})
		return
	}

	metrics.FounderAuthTotal.WithLabelValues("granted").Inc()
	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"accessLevel":   "founder",
	})
}
