// Package tier provides the security-layer catalog for DeepSentinel.
//
// A tier ("security layer" in the product UI) bundles an access level,
// a feature set, daily analysis quotas, API limits, retention policy,
// and pricing. The catalog is built once at startup and is immutable
// afterwards; all lookup and comparison functions are pure.
package tier

import "errors"

// ErrUnknownTier is returned when a tier ID is not in the catalog.
var ErrUnknownTier = errors.New("tier: unknown tier")

// Unlimited is the sentinel for quotas and API limits with no cap.
// It is distinct from 0, which means "none allowed".
const Unlimited = -1

// ID identifies a tier.
type ID string

// The reference catalog ships four layers. The catalog itself supports
// any ordered set of tiers.
const (
	Layer1 ID = "layer1"
	Layer2 ID = "layer2"
	Layer3 ID = "layer3"
	Layer4 ID = "layer4"
)

// APILimits configures per-window API request limits and upload size.
// Each value is a positive limit or Unlimited.
type APILimits struct {
	RequestsPerHour int64 `json:"requestsPerHour"`
	RequestsPerDay  int64 `json:"requestsPerDay"`
	MaxUploadBytes  int64 `json:"maxUploadBytes"`
}

// Retention configures how long artifacts are kept, in days. Retention is
// informational here; enforcement belongs to the storage cleanup job.
type Retention struct {
	AnalysisDays int `json:"analysisDays"`
	ReportDays   int `json:"reportDays"`
	LogDays      int `json:"logDays"`
}

// Definition is an immutable tier definition.
type Definition struct {
	ID          ID     `json:"id"`
	Name        string `json:"name"`
	AccessLevel int    `json:"accessLevel"`

	// MaxAnalysisPerDay is the daily deepfake-analysis quota, or Unlimited.
	MaxAnalysisPerDay int `json:"maxAnalysisPerDay"`

	// Features are the capability tokens granted by this tier. Matching is
	// exact and case-sensitive; callers must use the catalog strings verbatim.
	Features []string `json:"features"`

	// Restrictions are human-readable constraints shown in the dashboard.
	// They are not machine-enforced beyond the quota and feature checks.
	Restrictions []string `json:"restrictions,omitempty"`

	APILimits APILimits `json:"apiLimits"`
	Retention Retention `json:"retention"`

	// Pricing is informational; it never participates in access decisions.
	MonthlyPriceCents int64 `json:"monthlyPriceCents"`
	AnnualPriceCents  int64 `json:"annualPriceCents"`

	// BaseSecurityScore feeds dashboard aggregates for users at this tier.
	BaseSecurityScore float64 `json:"baseSecurityScore"`
}

// Upgrade describes one tier strictly above a user's current tier.
type Upgrade struct {
	Tier            Definition `json:"tier"`
	NewFeatures     []string   `json:"newFeatures"`
	PriceDeltaCents int64      `json:"priceDeltaCents"`
}
