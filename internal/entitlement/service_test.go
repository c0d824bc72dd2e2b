package entitlement

import (
	"context"
	"sync"
	"testing"
	"time"

	"deepsentinel/internal/tier"
	"deepsentinel/internal/usage"
)

// ---------------------------------------------------------------------------
// Test fixtures
// ---------------------------------------------------------------------------

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingSink) Publish(eventType string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
}

func (r *recordingSink) has(eventType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == eventType {
			return true
		}
	}
	return false
}

func newTestService() (*Service, *fakeClock, *recordingSink) {
	clock := &fakeClock{now: time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)}
	sink := &recordingSink{}
	svc := NewService(
		tier.DefaultCatalog(),
		NewMemoryStore(),
		usage.NewMemoryStore(),
		WithClock(clock.Now),
		WithEvents(sink),
	)
	return svc, clock, sink
}

func mustGrant(t *testing.T, svc *Service, userID string, id tier.ID) *UserEntitlement {
	t.Helper()
	e, err := svc.GrantTier(context.Background(), userID, id, "admin", nil)
	if err != nil {
		t.Fatalf("GrantTier(%s, %s): %v", userID, id, err)
	}
	return e
}

// ---------------------------------------------------------------------------
// Grants
// ---------------------------------------------------------------------------

func TestService_GrantTier(t *testing.T) {
	svc, clock, sink := newTestService()

	e := mustGrant(t, svc, "user-1", tier.Layer2)

	if e.Tier != tier.Layer2 {
		t.Errorf("Tier = %s, want %s", e.Tier, tier.Layer2)
	}
	if !e.Active {
		t.Error("expected new grant to be active")
	}
	if !e.GrantedAt.Equal(clock.Now()) {
		t.Errorf("GrantedAt = %v, want %v", e.GrantedAt, clock.Now())
	}
	if !sink.has(EventTierGranted) {
		t.Error("expected tier_granted event")
	}

	got, err := svc.GetEntitlement(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetEntitlement: %v", err)
	}
	if got.Tier != tier.Layer2 {
		t.Errorf("stored Tier = %s, want %s", got.Tier, tier.Layer2)
	}
}

func TestService_GrantTier_UnknownTier(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.GrantTier(context.Background(), "user-1", "layer9", "admin", nil)
	if err == nil {
		t.Fatal("expected error for unknown tier")
	}

	// The failed grant must leave no record behind.
	if _, err := svc.GetEntitlement(context.Background(), "user-1"); err != ErrUserNotFound {
		t.Errorf("GetEntitlement after failed grant = %v, want ErrUserNotFound", err)
	}
}

func TestService_GrantTier_ReplacesExisting(t *testing.T) {
	svc, clock, _ := newTestService()

	first := mustGrant(t, svc, "user-1", tier.Layer1)
	clock.Advance(time.Hour)
	second := mustGrant(t, svc, "user-1", tier.Layer3)

	if second.Tier != tier.Layer3 {
		t.Errorf("Tier = %s, want %s", second.Tier, tier.Layer3)
	}
	if !second.GrantedAt.After(first.GrantedAt) {
		t.Error("expected replacement grant to carry a fresh GrantedAt")
	}

	// Permissions come from the new tier immediately.
	has, err := svc.CheckFeature(context.Background(), "user-1", "Real-time monitoring")
	if err != nil {
		t.Fatalf("CheckFeature: %v", err)
	}
	if !has {
		t.Error("expected layer3 feature after upgrade")
	}
}

func TestService_GrantTier_DowngradeDropsFeatures(t *testing.T) {
	svc, _, _ := newTestService()

	mustGrant(t, svc, "user-1", tier.Layer4)
	mustGrant(t, svc, "user-1", tier.Layer1)

	has, err := svc.CheckFeature(context.Background(), "user-1", "Quantum-resistant scanning")
	if err != nil {
		t.Fatalf("CheckFeature: %v", err)
	}
	if has {
		t.Error("expected layer4 feature to be gone after downgrade")
	}
}

func TestService_Deactivate(t *testing.T) {
	svc, _, sink := newTestService()

	mustGrant(t, svc, "user-1", tier.Layer2)
	e, err := svc.Deactivate(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if e.Active {
		t.Error("expected inactive entitlement")
	}
	if !sink.has(EventDeactivated) {
		t.Error("expected entitlement_deactivated event")
	}

	has, err := svc.CheckFeature(context.Background(), "user-1", "Image analysis")
	if err != nil {
		t.Fatalf("CheckFeature: %v", err)
	}
	if has {
		t.Error("expected feature check to fail closed after deactivation")
	}
}

func TestService_Deactivate_Unknown(t *testing.T) {
	svc, _, _ := newTestService()

	if _, err := svc.Deactivate(context.Background(), "ghost"); err != ErrUserNotFound {
		t.Errorf("Deactivate = %v, want ErrUserNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// Expiry
// ---------------------------------------------------------------------------

func TestService_ExpiredEntitlementDenied(t *testing.T) {
	svc, clock, _ := newTestService()

	expires := clock.Now().Add(24 * time.Hour)
	if _, err := svc.GrantTier(context.Background(), "user-1", tier.Layer3, "admin", &expires); err != nil {
		t.Fatalf("GrantTier: %v", err)
	}

	has, err := svc.CheckFeature(context.Background(), "user-1", "API access")
	if err != nil || !has {
		t.Fatalf("CheckFeature before expiry = (%v, %v), want (true, nil)", has, err)
	}

	clock.Advance(25 * time.Hour)

	has, err = svc.CheckFeature(context.Background(), "user-1", "API access")
	if err != nil {
		t.Fatalf("CheckFeature: %v", err)
	}
	if has {
		t.Error("expected feature denial after expiry")
	}

	status, err := svc.CheckDailyLimit(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("CheckDailyLimit: %v", err)
	}
	if status.Allowed || status.Remaining != 0 {
		t.Errorf("CheckDailyLimit after expiry = %+v, want denied with 0 remaining", status)
	}

	// The record itself is still readable.
	if _, err := svc.GetEntitlement(context.Background(), "user-1"); err != nil {
		t.Errorf("GetEntitlement after expiry: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Feature checks
// ---------------------------------------------------------------------------

func TestService_CheckFeature_NoEntitlement(t *testing.T) {
	svc, _, _ := newTestService()

	has, err := svc.CheckFeature(context.Background(), "ghost", "Image analysis")
	if err != nil {
		t.Fatalf("CheckFeature: %v", err)
	}
	if has {
		t.Error("expected fail-closed false for unknown user")
	}
}

func TestService_CheckFeature_CaseSensitive(t *testing.T) {
	svc, _, _ := newTestService()
	mustGrant(t, svc, "user-1", tier.Layer1)

	has, err := svc.CheckFeature(context.Background(), "user-1", "image analysis")
	if err != nil {
		t.Fatalf("CheckFeature: %v", err)
	}
	if has {
		t.Error("feature match must be exact, not case-folded")
	}
}

// ---------------------------------------------------------------------------
// Daily quota
// ---------------------------------------------------------------------------

func TestService_DailyLimit_ExhaustLayer1(t *testing.T) {
	svc, _, sink := newTestService()
	ctx := context.Background()
	mustGrant(t, svc, "user-1", tier.Layer1)

	// layer1 allows 10 analyses per day.
	for i := 0; i < 10; i++ {
		status, err := svc.CheckDailyLimit(ctx, "user-1")
		if err != nil {
			t.Fatalf("CheckDailyLimit #%d: %v", i, err)
		}
		if !status.Allowed {
			t.Fatalf("CheckDailyLimit #%d denied, want allowed", i)
		}
		if status.Remaining != 10-i {
			t.Errorf("Remaining #%d = %d, want %d", i, status.Remaining, 10-i)
		}
		if _, err := svc.RecordUsage(ctx, "user-1"); err != nil {
			t.Fatalf("RecordUsage #%d: %v", i, err)
		}
	}

	status, err := svc.CheckDailyLimit(ctx, "user-1")
	if err != nil {
		t.Fatalf("CheckDailyLimit: %v", err)
	}
	if status.Allowed || status.Remaining != 0 {
		t.Errorf("after 10 uses = %+v, want denied with 0 remaining", status)
	}
	if !sink.has(EventQuotaDenied) {
		t.Error("expected quota_denied event")
	}
}

func TestService_DailyLimit_ResetsAtMidnight(t *testing.T) {
	svc, clock, _ := newTestService()
	ctx := context.Background()
	mustGrant(t, svc, "user-1", tier.Layer1)

	for i := 0; i < 10; i++ {
		if _, err := svc.RecordUsage(ctx, "user-1"); err != nil {
			t.Fatalf("RecordUsage: %v", err)
		}
	}

	status, _ := svc.CheckDailyLimit(ctx, "user-1")
	if status.Allowed {
		t.Fatal("expected exhausted quota")
	}

	// 10:30 plus 14h crosses midnight into the next day.
	clock.Advance(14 * time.Hour)

	status, err := svc.CheckDailyLimit(ctx, "user-1")
	if err != nil {
		t.Fatalf("CheckDailyLimit: %v", err)
	}
	if !status.Allowed || status.Remaining != 10 {
		t.Errorf("after midnight = %+v, want full quota", status)
	}
}

func TestService_DailyLimit_UnlimitedLayer4(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	mustGrant(t, svc, "user-1", tier.Layer4)

	for i := 0; i < 500; i++ {
		if _, err := svc.RecordUsage(ctx, "user-1"); err != nil {
			t.Fatalf("RecordUsage: %v", err)
		}
	}

	status, err := svc.CheckDailyLimit(ctx, "user-1")
	if err != nil {
		t.Fatalf("CheckDailyLimit: %v", err)
	}
	if !status.Allowed {
		t.Error("unlimited tier must always be allowed")
	}
	if status.Remaining != tier.Unlimited {
		t.Errorf("Remaining = %d, want unlimited sentinel", status.Remaining)
	}
}

func TestService_DailyLimit_NoEntitlement(t *testing.T) {
	svc, _, _ := newTestService()

	status, err := svc.CheckDailyLimit(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("CheckDailyLimit: %v", err)
	}
	if status.Allowed || status.Remaining != 0 {
		t.Errorf("status = %+v, want denied with 0 remaining", status)
	}
}

func TestService_RecordUsage_NotIdempotent(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	mustGrant(t, svc, "user-1", tier.Layer1)

	c1, err := svc.RecordUsage(ctx, "user-1")
	if err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	c2, err := svc.RecordUsage(ctx, "user-1")
	if err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if c1 != 1 || c2 != 2 {
		t.Errorf("counts = %d, %d, want 1, 2", c1, c2)
	}
}

func TestService_RecordUsage_AllowedPastLimit(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	mustGrant(t, svc, "user-1", tier.Layer1)

	// Recording does not enforce the limit; the caller decides.
	for i := 0; i < 12; i++ {
		if _, err := svc.RecordUsage(ctx, "user-1"); err != nil {
			t.Fatalf("RecordUsage #%d: %v", i, err)
		}
	}
}

// ---------------------------------------------------------------------------
// API access windows
// ---------------------------------------------------------------------------

func TestService_ValidateAPIAccess_HourlyWindow(t *testing.T) {
	svc, clock, _ := newTestService()
	ctx := context.Background()
	mustGrant(t, svc, "user-1", tier.Layer1)

	// layer1 allows 10 requests per hour.
	for i := 0; i < 10; i++ {
		status, err := svc.ValidateAPIAccess(ctx, "user-1", WindowHourly)
		if err != nil {
			t.Fatalf("ValidateAPIAccess #%d: %v", i, err)
		}
		if !status.Allowed {
			t.Fatalf("request #%d denied, want allowed", i)
		}
		if err := svc.RecordAPIRequest(ctx, "user-1"); err != nil {
			t.Fatalf("RecordAPIRequest: %v", err)
		}
	}

	status, err := svc.ValidateAPIAccess(ctx, "user-1", WindowHourly)
	if err != nil {
		t.Fatalf("ValidateAPIAccess: %v", err)
	}
	if status.Allowed || status.Remaining != 0 {
		t.Errorf("after 10 requests = %+v, want denied", status)
	}

	wantReset := time.Date(2026, 3, 15, 11, 0, 0, 0, time.UTC)
	if !status.ResetTime.Equal(wantReset) {
		t.Errorf("ResetTime = %v, want %v", status.ResetTime, wantReset)
	}

	// Next hour opens a fresh window.
	clock.Advance(30 * time.Minute)
	status, err = svc.ValidateAPIAccess(ctx, "user-1", WindowHourly)
	if err != nil {
		t.Fatalf("ValidateAPIAccess: %v", err)
	}
	if !status.Allowed || status.Remaining != 10 {
		t.Errorf("next hour = %+v, want fresh quota", status)
	}
}

func TestService_ValidateAPIAccess_DailyWindow(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	mustGrant(t, svc, "user-1", tier.Layer2)

	if err := svc.RecordAPIRequest(ctx, "user-1"); err != nil {
		t.Fatalf("RecordAPIRequest: %v", err)
	}

	status, err := svc.ValidateAPIAccess(ctx, "user-1", WindowDaily)
	if err != nil {
		t.Fatalf("ValidateAPIAccess: %v", err)
	}
	// layer2 allows 1000 requests per day.
	if !status.Allowed || status.Remaining != 999 {
		t.Errorf("status = %+v, want allowed with 999 remaining", status)
	}

	wantReset := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)
	if !status.ResetTime.Equal(wantReset) {
		t.Errorf("ResetTime = %v, want %v", status.ResetTime, wantReset)
	}
}

func TestService_ValidateAPIAccess_Unlimited(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	mustGrant(t, svc, "user-1", tier.Layer4)

	for _, w := range []Window{WindowHourly, WindowDaily} {
		status, err := svc.ValidateAPIAccess(ctx, "user-1", w)
		if err != nil {
			t.Fatalf("ValidateAPIAccess(%s): %v", w, err)
		}
		if !status.Allowed || status.Remaining != tier.Unlimited {
			t.Errorf("window %s = %+v, want unlimited", w, status)
		}
	}
}

func TestService_ValidateAPIAccess_NoEntitlement(t *testing.T) {
	svc, _, _ := newTestService()

	status, err := svc.ValidateAPIAccess(context.Background(), "ghost", WindowHourly)
	if err != nil {
		t.Fatalf("ValidateAPIAccess: %v", err)
	}
	if status.Allowed || status.Remaining != 0 {
		t.Errorf("status = %+v, want denied", status)
	}
	if status.ResetTime.IsZero() {
		t.Error("expected ResetTime even when denied")
	}
}

func TestService_ValidateAPIAccess_InvalidWindow(t *testing.T) {
	svc, _, _ := newTestService()

	if _, err := svc.ValidateAPIAccess(context.Background(), "user-1", Window("weekly")); err == nil {
		t.Error("expected error for invalid window")
	}
}

// ---------------------------------------------------------------------------
// Upgrades
// ---------------------------------------------------------------------------

func TestService_ListUpgrades(t *testing.T) {
	svc, _, _ := newTestService()
	mustGrant(t, svc, "user-1", tier.Layer2)

	upgrades, err := svc.ListUpgrades(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListUpgrades: %v", err)
	}
	if len(upgrades) != 2 {
		t.Fatalf("len = %d, want 2", len(upgrades))
	}
	if upgrades[0].Tier.ID != tier.Layer3 || upgrades[1].Tier.ID != tier.Layer4 {
		t.Errorf("order = %s, %s, want layer3, layer4", upgrades[0].Tier.ID, upgrades[1].Tier.ID)
	}
}

func TestService_ListUpgrades_NoEntitlement(t *testing.T) {
	svc, _, _ := newTestService()

	if _, err := svc.ListUpgrades(context.Background(), "ghost"); err != ErrUserNotFound {
		t.Errorf("ListUpgrades = %v, want ErrUserNotFound", err)
	}
}

func TestService_RecommendUpgrade(t *testing.T) {
	svc, _, _ := newTestService()
	mustGrant(t, svc, "user-1", tier.Layer1)

	def, err := svc.RecommendUpgrade(context.Background(), "user-1", []string{"Real-time monitoring"})
	if err != nil {
		t.Fatalf("RecommendUpgrade: %v", err)
	}
	if def == nil || def.ID != tier.Layer3 {
		t.Errorf("recommendation = %v, want layer3", def)
	}
}

func TestService_RecommendUpgrade_AlreadyCovered(t *testing.T) {
	svc, _, _ := newTestService()
	mustGrant(t, svc, "user-1", tier.Layer4)

	def, err := svc.RecommendUpgrade(context.Background(), "user-1", []string{"Neural forensics"})
	if err != nil {
		t.Fatalf("RecommendUpgrade: %v", err)
	}
	if def != nil {
		t.Errorf("recommendation = %v, want nil", def)
	}
}

// ---------------------------------------------------------------------------
// Dashboards
// ---------------------------------------------------------------------------

func TestService_LayerDashboard(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	mustGrant(t, svc, "user-1", tier.Layer2)
	mustGrant(t, svc, "user-2", tier.Layer2)
	mustGrant(t, svc, "user-3", tier.Layer1)

	for i := 0; i < 3; i++ {
		if _, err := svc.RecordUsage(ctx, "user-1"); err != nil {
			t.Fatalf("RecordUsage: %v", err)
		}
	}
	if _, err := svc.RecordUsage(ctx, "user-2"); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}

	d, err := svc.LayerDashboard(ctx, tier.Layer2)
	if err != nil {
		t.Fatalf("LayerDashboard: %v", err)
	}

	if d.Config.ID != tier.Layer2 {
		t.Errorf("Config.ID = %s, want layer2", d.Config.ID)
	}
	if d.Metrics.UserCount != 2 {
		t.Errorf("UserCount = %d, want 2", d.Metrics.UserCount)
	}
	if d.Metrics.AnalysesToday != 4 {
		t.Errorf("AnalysesToday = %d, want 4", d.Metrics.AnalysesToday)
	}
	if d.Metrics.AvgAnalysesPerUser != 2.0 {
		t.Errorf("AvgAnalysesPerUser = %f, want 2.0", d.Metrics.AvgAnalysesPerUser)
	}

	for _, u := range d.Users {
		if u.UserID == "user-1" && u.RemainingToday != 97 {
			t.Errorf("user-1 RemainingToday = %d, want 97", u.RemainingToday)
		}
	}
}

func TestService_LayerDashboard_Empty(t *testing.T) {
	svc, _, _ := newTestService()

	d, err := svc.LayerDashboard(context.Background(), tier.Layer4)
	if err != nil {
		t.Fatalf("LayerDashboard: %v", err)
	}
	if d.Metrics.UserCount != 0 {
		t.Errorf("UserCount = %d, want 0", d.Metrics.UserCount)
	}
	if d.Metrics.AvgAnalysesPerUser != 0 || d.Metrics.AverageSecurityScore != 0 {
		t.Errorf("averages = %+v, want zeros for empty layer", d.Metrics)
	}
	if len(d.Users) != 0 {
		t.Errorf("Users = %v, want empty", d.Users)
	}
}

func TestService_LayerDashboard_UnknownTier(t *testing.T) {
	svc, _, _ := newTestService()

	if _, err := svc.LayerDashboard(context.Background(), "layer9"); err == nil {
		t.Error("expected error for unknown tier")
	}
}

func TestService_LayerDashboard_ExcludesExpired(t *testing.T) {
	svc, clock, _ := newTestService()
	ctx := context.Background()

	expires := clock.Now().Add(time.Hour)
	if _, err := svc.GrantTier(ctx, "user-1", tier.Layer3, "admin", &expires); err != nil {
		t.Fatalf("GrantTier: %v", err)
	}
	mustGrant(t, svc, "user-2", tier.Layer3)

	clock.Advance(2 * time.Hour)

	d, err := svc.LayerDashboard(ctx, tier.Layer3)
	if err != nil {
		t.Fatalf("LayerDashboard: %v", err)
	}
	if d.Metrics.UserCount != 1 {
		t.Errorf("UserCount = %d, want 1 (expired user excluded)", d.Metrics.UserCount)
	}
}

func TestService_Overview(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	mustGrant(t, svc, "user-1", tier.Layer1)
	mustGrant(t, svc, "user-2", tier.Layer2)
	mustGrant(t, svc, "user-3", tier.Layer2)
	mustGrant(t, svc, "user-4", tier.Layer4)

	if _, err := svc.RecordUsage(ctx, "user-2"); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if err := svc.RecordAPIRequest(ctx, "user-4"); err != nil {
		t.Fatalf("RecordAPIRequest: %v", err)
	}

	ov, err := svc.Overview(ctx)
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}

	if ov.TotalUsers != 4 {
		t.Errorf("TotalUsers = %d, want 4", ov.TotalUsers)
	}
	// layer1 free, two layer2 at 2900, one layer4 at 49900.
	want := int64(2*2900 + 49900)
	if ov.TotalRevenueCents != want {
		t.Errorf("TotalRevenueCents = %d, want %d", ov.TotalRevenueCents, want)
	}
	if ov.Distribution[tier.Layer2] != 2 {
		t.Errorf("Distribution[layer2] = %d, want 2", ov.Distribution[tier.Layer2])
	}
	if ov.Distribution[tier.Layer3] != 0 {
		t.Errorf("Distribution[layer3] = %d, want 0", ov.Distribution[tier.Layer3])
	}
	if ov.Metrics.AnalysesToday != 1 {
		t.Errorf("AnalysesToday = %d, want 1", ov.Metrics.AnalysesToday)
	}
	if ov.Metrics.APIRequestsToday == 0 {
		t.Error("expected APIRequestsToday > 0")
	}
	if ov.Metrics.AverageSecurityScore <= 0 {
		t.Errorf("AverageSecurityScore = %f, want > 0", ov.Metrics.AverageSecurityScore)
	}
}

func TestService_Overview_Empty(t *testing.T) {
	svc, _, _ := newTestService()

	ov, err := svc.Overview(context.Background())
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if ov.TotalUsers != 0 || ov.TotalRevenueCents != 0 {
		t.Errorf("overview = %+v, want zeros", ov)
	}
	if ov.Metrics.AverageSecurityScore != 0 {
		t.Errorf("AverageSecurityScore = %f, want 0", ov.Metrics.AverageSecurityScore)
	}
}

// ---------------------------------------------------------------------------
// Concurrency
// ---------------------------------------------------------------------------

func TestService_ConcurrentRecordUsage(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	mustGrant(t, svc, "user-1", tier.Layer4)

	const workers = 20
	const perWorker = 25

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if _, err := svc.RecordUsage(ctx, "user-1"); err != nil {
					t.Errorf("RecordUsage: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	d, err := svc.LayerDashboard(ctx, tier.Layer4)
	if err != nil {
		t.Fatalf("LayerDashboard: %v", err)
	}
	if d.Metrics.AnalysesToday != workers*perWorker {
		t.Errorf("AnalysesToday = %d, want %d", d.Metrics.AnalysesToday, workers*perWorker)
	}
}

func TestService_ConcurrentGrantAndCheck(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := tier.Layer1
			if n%2 == 0 {
				id = tier.Layer3
			}
			if _, err := svc.GrantTier(ctx, "user-1", id, "admin", nil); err != nil {
				t.Errorf("GrantTier: %v", err)
			}
			if _, err := svc.CheckFeature(ctx, "user-1", "Image analysis"); err != nil {
				t.Errorf("CheckFeature: %v", err)
			}
		}(i)
	}
	wg.Wait()

	// Whichever grant won, the record must be internally consistent.
	e, err := svc.GetEntitlement(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetEntitlement: %v", err)
	}
	if e.Tier != tier.Layer1 && e.Tier != tier.Layer3 {
		t.Errorf("Tier = %s, want layer1 or layer3", e.Tier)
	}
	if !e.Active {
		t.Error("expected active entitlement")
	}
}
