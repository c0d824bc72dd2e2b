// Package entitlement implements per-user security-layer assignments for
// DeepSentinel.
//
// An entitlement binds a user to a tier from the catalog. Permissions and
// restrictions are always derived live from the tier definition, never
// copied onto the entitlement, so a tier change can never leave stale
// grants behind.
package entitlement

import (
	"context"
	"errors"
	"time"

	"deepsentinel/internal/tier"
)

// Errors
var (
	ErrUserNotFound = errors.New("entitlement: user not found")
)

// Window selects the API rate window for access validation.
type Window string

const (
	WindowHourly Window = "hourly"
	WindowDaily  Window = "daily"
)

// ParseWindow validates a window name from the API boundary.
func ParseWindow(s string) (Window, bool) {
	switch Window(s) {
	case WindowHourly, WindowDaily:
		return Window(s), true
	}
	return "", false
}

// UserEntitlement is the association of a user to a tier.
//
// A grant fully replaces the previous entitlement; there is no merging.
// Inactive or expired entitlements are treated as "no access" by every
// check. Entitlements are never hard-deleted, only deactivated.
type UserEntitlement struct {
	UserID    string     `json:"userId"`
	Tier      tier.ID    `json:"tier"`
	GrantedAt time.Time  `json:"grantedAt"`
	GrantedBy string     `json:"grantedBy,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Active    bool       `json:"active"`
}

// EffectiveAt reports whether the entitlement grants access at the given
// instant: it must be active and not past its expiry.
func (e *UserEntitlement) EffectiveAt(now time.Time) bool {
	if !e.Active {
		return false
	}
	if e.ExpiresAt != nil && !now.Before(*e.ExpiresAt) {
		return false
	}
	return true
}

// LimitStatus is the result of a daily quota check.
// Remaining is tier.Unlimited (-1) for uncapped tiers; the sentinel is
// preserved distinctly from 0 all the way to the API boundary.
type LimitStatus struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
}

// APIAccessStatus is the result of an API window check. Windows are fixed
// calendar windows (clock hour, calendar day) in the service time zone, not
// rolling windows; ResetTime is the start of the next window.
type APIAccessStatus struct {
	Allowed   bool      `json:"allowed"`
	Remaining int64     `json:"remaining"`
	ResetTime time.Time `json:"resetTime"`
}

// LayerUser is one active user in a per-layer dashboard.
type LayerUser struct {
	UserID         string     `json:"userId"`
	GrantedAt      time.Time  `json:"grantedAt"`
	GrantedBy      string     `json:"grantedBy,omitempty"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	AnalysesToday  int64      `json:"analysesToday"`
	RemainingToday int        `json:"remainingToday"`
}

// LayerMetrics aggregates activity for one layer. All averages are zero
// when the layer has no active users.
type LayerMetrics struct {
	UserCount            int     `json:"userCount"`
	AnalysesToday        int64   `json:"analysesToday"`
	AvgAnalysesPerUser   float64 `json:"avgAnalysesPerUser"`
	AverageSecurityScore float64 `json:"averageSecurityScore"`
}

// LayerDashboard is the per-layer dashboard aggregate.
type LayerDashboard struct {
	Config  tier.Definition `json:"config"`
	Users   []LayerUser     `json:"users"`
	Metrics LayerMetrics    `json:"metrics"`
}

// OverviewMetrics aggregates activity across all layers.
type OverviewMetrics struct {
	AnalysesToday        int64   `json:"analysesToday"`
	APIRequestsToday     int64   `json:"apiRequestsToday"`
	AverageSecurityScore float64 `json:"averageSecurityScore"`
}

// Overview is the all-layers dashboard aggregate.
type Overview struct {
	TotalUsers        int             `json:"totalUsers"`
	TotalRevenueCents int64           `json:"totalRevenueCents"`
	Distribution      map[tier.ID]int `json:"distribution"`
	Metrics           OverviewMetrics `json:"metrics"`
}

// Store persists user entitlements.
type Store interface {
	// Get returns the entitlement for a user, or ErrUserNotFound.
	Get(ctx context.Context, userID string) (*UserEntitlement, error)
	// Upsert writes the entitlement, replacing any previous one for the user.
	Upsert(ctx context.Context, e *UserEntitlement) error
	// ListByTier returns all entitlements (active or not) at the given tier.
	ListByTier(ctx context.Context, id tier.ID) ([]*UserEntitlement, error)
	// CountActiveByTier returns the number of entitlements per tier that
	// are active and not expired as of now.
	CountActiveByTier(ctx context.Context, now time.Time) (map[tier.ID]int, error)
}

// EventSink receives entitlement lifecycle events for live dashboards.
type EventSink interface {
	Publish(eventType string, data any)
}

// Event types published to the sink.
const (
	EventTierGranted   = "tier_granted"
	EventDeactivated   = "entitlement_deactivated"
	EventUsageRecorded = "usage_recorded"
	EventQuotaDenied   = "quota_denied"
)

type noopSink struct{}

func (noopSink) Publish(string, any) {}
