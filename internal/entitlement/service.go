package entitlement

import (
	"context"
	"fmt"
	"time"

	"deepsentinel/internal/metrics"
	"deepsentinel/internal/syncutil"
	"deepsentinel/internal/tier"
	"deepsentinel/internal/traces"
	"deepsentinel/internal/usage"
)

// Clock supplies the current time. Injected so day-boundary behavior is
// deterministic in tests.
type Clock func() time.Time

// Service provides entitlement business logic. Construct one instance at
// process start and hand it to the request layer; there is no package-level
// singleton.
type Service struct {
	catalog *tier.Catalog
	store   Store
	usage   usage.Store
	clock   Clock
	loc     *time.Location
	events  EventSink

	// Per-user lock serializing read-modify-write cycles. Reads of the
	// catalog need no synchronization; it is immutable after startup.
	locks syncutil.ContextShardedMutex
}

// Option configures the service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithLocation sets the time zone for quota day/hour boundaries.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

// WithEvents sets the sink for entitlement lifecycle events.
func WithEvents(sink EventSink) Option {
	return func(s *Service) { s.events = sink }
}

// NewService creates a new entitlement service.
func NewService(catalog *tier.Catalog, store Store, usageStore usage.Store, opts ...Option) *Service {
	s := &Service{
		catalog: catalog,
		store:   store,
		usage:   usageStore,
		clock:   time.Now,
		loc:     time.UTC,
		events:  noopSink{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog returns the service's tier catalog.
func (s *Service) Catalog() *tier.Catalog {
	return s.catalog
}

// GetEntitlement returns a user's entitlement, active or not.
// Returns ErrUserNotFound when the user has never been granted a tier.
func (s *Service) GetEntitlement(ctx context.Context, userID string) (*UserEntitlement, error) {
	return s.store.Get(ctx, userID)
}

// GrantTier assigns a tier to a user, fully replacing any prior entitlement.
// GrantedAt is set to the current time; permissions and restrictions are
// derived fresh from the catalog on every later check, never carried over.
// An unknown tier fails the grant with the catalog's error, unmodified.
func (s *Service) GrantTier(ctx context.Context, userID string, id tier.ID, grantedBy string, expiresAt *time.Time) (*UserEntitlement, error) {
	ctx, span := traces.StartSpan(ctx, "entitlement.GrantTier",
		traces.UserID(userID), traces.TierID(string(id)))
	defer span.End()

	if _, err := s.catalog.Get(id); err != nil {
		return nil, err
	}

	unlock, err := s.locks.LockContext(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	e := &UserEntitlement{
		UserID:    userID,
		Tier:      id,
		GrantedAt: s.clock(),
		GrantedBy: grantedBy,
		ExpiresAt: expiresAt,
		Active:    true,
	}
	if err := s.store.Upsert(ctx, e); err != nil {
		return nil, fmt.Errorf("grant tier: %w", err)
	}

	metrics.TierGrantsTotal.WithLabelValues(string(id)).Inc()
	s.events.Publish(EventTierGranted, e)
	return e, nil
}

// Deactivate marks a user's entitlement inactive. The record is kept for
// audit; there is no hard delete.
func (s *Service) Deactivate(ctx context.Context, userID string) (*UserEntitlement, error) {
	unlock, err := s.locks.LockContext(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	e, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	e.Active = false
	if err := s.store.Upsert(ctx, e); err != nil {
		return nil, fmt.Errorf("deactivate: %w", err)
	}

	s.events.Publish(EventDeactivated, map[string]string{"userId": userID})
	return e, nil
}

// effective returns the user's entitlement when it currently grants access,
// or nil when the user has none, it is inactive, or it has expired.
// Store errors other than absence are returned to the caller.
func (s *Service) effective(ctx context.Context, userID string) (*UserEntitlement, error) {
	e, err := s.store.Get(ctx, userID)
	if err == ErrUserNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !e.EffectiveAt(s.clock()) {
		return nil, nil
	}
	return e, nil
}

// CheckFeature reports whether the user's current tier grants the feature.
// Authorization checks fail closed: a missing, inactive, or expired
// entitlement yields false, not an error.
func (s *Service) CheckFeature(ctx context.Context, userID, feature string) (bool, error) {
	e, err := s.effective(ctx, userID)
	if err != nil {
		return false, err
	}
	if e == nil {
		metrics.FeatureChecksTotal.WithLabelValues("denied").Inc()
		return false, nil
	}

	has, err := s.catalog.HasFeature(e.Tier, feature)
	if err != nil {
		return false, err
	}
	if has {
		metrics.FeatureChecksTotal.WithLabelValues("allowed").Inc()
	} else {
		metrics.FeatureChecksTotal.WithLabelValues("denied").Inc()
	}
	return has, nil
}

// CheckDailyLimit reports whether the user may run another analysis today
// and how many remain. Remaining is tier.Unlimited for uncapped tiers.
// Users without an effective entitlement get {false, 0}.
func (s *Service) CheckDailyLimit(ctx context.Context, userID string) (LimitStatus, error) {
	e, err := s.effective(ctx, userID)
	if err != nil {
		return LimitStatus{}, err
	}
	if e == nil {
		return LimitStatus{Allowed: false, Remaining: 0}, nil
	}

	now := s.clock()
	used, err := s.usage.Get(ctx, userID, usage.KindAnalysis, usage.DayKey(now, s.loc))
	if err != nil {
		return LimitStatus{}, fmt.Errorf("read usage: %w", err)
	}

	remaining, err := s.catalog.RemainingQuota(e.Tier, int(used))
	if err != nil {
		return LimitStatus{}, err
	}

	allowed := remaining == tier.Unlimited || remaining > 0
	if !allowed {
		metrics.QuotaDenialsTotal.Inc()
		s.events.Publish(EventQuotaDenied, map[string]any{"userId": userID, "tier": e.Tier})
	}
	return LimitStatus{Allowed: allowed, Remaining: remaining}, nil
}

// RecordUsage increments today's analysis counter for the user and returns
// the new count for the day.
//
// It does NOT enforce the daily limit: callers are expected to call
// CheckDailyLimit first and decide their own policy (hard deny, allow with
// warning). The check and the commit are deliberately separate operations.
// Recording is not idempotent; calling twice counts twice.
func (s *Service) RecordUsage(ctx context.Context, userID string) (int64, error) {
	ctx, span := traces.StartSpan(ctx, "entitlement.RecordUsage", traces.UserID(userID))
	defer span.End()

	unlock, err := s.locks.LockContext(ctx, userID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	now := s.clock()
	day := usage.DayKey(now, s.loc)
	count, err := s.usage.Increment(ctx, userID, usage.KindAnalysis, day)
	if err != nil {
		return 0, fmt.Errorf("record usage: %w", err)
	}

	metrics.UsageRecordedTotal.Inc()
	s.events.Publish(EventUsageRecorded, map[string]any{"userId": userID, "day": day, "count": count})
	return count, nil
}

// RecordAPIRequest increments the user's API request counters for the
// current hour and day windows.
func (s *Service) RecordAPIRequest(ctx context.Context, userID string) error {
	unlock, err := s.locks.LockContext(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()

	now := s.clock()
	if _, err := s.usage.Increment(ctx, userID, usage.KindAPI, usage.HourKey(now, s.loc)); err != nil {
		return fmt.Errorf("record api request (hour): %w", err)
	}
	if _, err := s.usage.Increment(ctx, userID, usage.KindAPI, usage.DayKey(now, s.loc)); err != nil {
		return fmt.Errorf("record api request (day): %w", err)
	}
	return nil
}

// ValidateAPIAccess checks the user's API allowance for the given window.
// Windows are anchored to the clock hour / calendar day in the service time
// zone; ResetTime is the next window boundary. Users without an effective
// entitlement are denied with zero remaining.
func (s *Service) ValidateAPIAccess(ctx context.Context, userID string, w Window) (APIAccessStatus, error) {
	ctx, span := traces.StartSpan(ctx, "entitlement.ValidateAPIAccess",
		traces.UserID(userID), traces.Window(string(w)))
	defer span.End()

	now := s.clock()

	var reset time.Time
	switch w {
	case WindowHourly:
		reset = usage.NextHourStart(now, s.loc)
	case WindowDaily:
		reset = usage.NextDayStart(now, s.loc)
	default:
		return APIAccessStatus{}, fmt.Errorf("entitlement: invalid window %q", w)
	}

	e, err := s.effective(ctx, userID)
	if err != nil {
		return APIAccessStatus{}, err
	}
	if e == nil {
		return APIAccessStatus{Allowed: false, Remaining: 0, ResetTime: reset}, nil
	}

	def, err := s.catalog.Get(e.Tier)
	if err != nil {
		return APIAccessStatus{}, err
	}

	var limit int64
	var period string
	switch w {
	case WindowHourly:
		limit = def.APILimits.RequestsPerHour
		period = usage.HourKey(now, s.loc)
	case WindowDaily:
		limit = def.APILimits.RequestsPerDay
		period = usage.DayKey(now, s.loc)
	}

	if limit == tier.Unlimited {
		return APIAccessStatus{Allowed: true, Remaining: tier.Unlimited, ResetTime: reset}, nil
	}

	used, err := s.usage.Get(ctx, userID, usage.KindAPI, period)
	if err != nil {
		return APIAccessStatus{}, fmt.Errorf("read api usage: %w", err)
	}

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return APIAccessStatus{Allowed: remaining > 0, Remaining: remaining, ResetTime: reset}, nil
}

// ListUpgrades returns the upgrade options above the user's current tier.
// Unlike the boolean checks, this fails explicitly with ErrUserNotFound
// rather than assuming a default tier.
func (s *Service) ListUpgrades(ctx context.Context, userID string) ([]tier.Upgrade, error) {
	e, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.catalog.ListUpgradesAbove(e.Tier)
}

// RecommendUpgrade returns the lowest tier above the user's current one
// that grants any of the requested features the user is missing, or nil.
func (s *Service) RecommendUpgrade(ctx context.Context, userID string, features []string) (*tier.Definition, error) {
	e, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.catalog.RecommendUpgrade(e.Tier, features)
}

// LayerDashboard aggregates all active users at exactly the given tier.
// Every average is zero when the layer is empty.
func (s *Service) LayerDashboard(ctx context.Context, id tier.ID) (*LayerDashboard, error) {
	def, err := s.catalog.Get(id)
	if err != nil {
		return nil, err
	}

	all, err := s.store.ListByTier(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list layer users: %w", err)
	}

	now := s.clock()
	day := usage.DayKey(now, s.loc)

	users := make([]LayerUser, 0, len(all))
	var analysesToday int64
	for _, e := range all {
		if !e.EffectiveAt(now) {
			continue
		}
		used, err := s.usage.Get(ctx, e.UserID, usage.KindAnalysis, day)
		if err != nil {
			return nil, fmt.Errorf("read usage: %w", err)
		}
		remaining, err := s.catalog.RemainingQuota(id, int(used))
		if err != nil {
			return nil, err
		}
		users = append(users, LayerUser{
			UserID:         e.UserID,
			GrantedAt:      e.GrantedAt,
			GrantedBy:      e.GrantedBy,
			ExpiresAt:      e.ExpiresAt,
			AnalysesToday:  used,
			RemainingToday: remaining,
		})
		analysesToday += used
	}

	m := LayerMetrics{UserCount: len(users), AnalysesToday: analysesToday}
	if len(users) > 0 {
		m.AvgAnalysesPerUser = float64(analysesToday) / float64(len(users))
		m.AverageSecurityScore = def.BaseSecurityScore
	}

	return &LayerDashboard{Config: def, Users: users, Metrics: m}, nil
}

// Overview aggregates active entitlements across every layer.
// TotalRevenueCents is the sum over tiers of count × monthly price.
func (s *Service) Overview(ctx context.Context) (*Overview, error) {
	now := s.clock()
	counts, err := s.store.CountActiveByTier(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("count by tier: %w", err)
	}
	day := usage.DayKey(now, s.loc)

	ov := &Overview{Distribution: make(map[tier.ID]int)}
	var weightedScore float64
	for _, def := range s.catalog.List() {
		n := counts[def.ID]
		ov.Distribution[def.ID] = n
		ov.TotalUsers += n
		ov.TotalRevenueCents += int64(n) * def.MonthlyPriceCents
		weightedScore += float64(n) * def.BaseSecurityScore
	}
	if ov.TotalUsers > 0 {
		ov.Metrics.AverageSecurityScore = weightedScore / float64(ov.TotalUsers)
	}

	if ov.Metrics.AnalysesToday, err = s.usage.TotalForPeriod(ctx, usage.KindAnalysis, day); err != nil {
		return nil, fmt.Errorf("total analyses: %w", err)
	}
	if ov.Metrics.APIRequestsToday, err = s.usage.TotalForPeriod(ctx, usage.KindAPI, day); err != nil {
		return nil, fmt.Errorf("total api requests: %w", err)
	}

	return ov, nil
}
