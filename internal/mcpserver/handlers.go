package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *DeepSentinelClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *DeepSentinelClient) *Handlers {
	return &Handlers{client: client}
}

// HandleGetTier returns one tier definition, or the whole catalog.
func (h *Handlers) HandleGetTier(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tierID := req.GetString("tier", "")

	if tierID == "" {
		raw, err := h.client.ListTiers(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list tiers: %v", err)), nil
		}
		text, err := formatTierList(raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to parse tiers: %v", err)), nil
		}
		return mcp.NewToolResultText(text), nil
	}

	raw, err := h.client.GetTier(ctx, tierID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get tier: %v", err)), nil
	}

	text, err := formatTier(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse tier: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetEntitlement returns the configured user's entitlement.
func (h *Handlers) HandleGetEntitlement(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetEntitlement(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get entitlement: %v", err)), nil
	}

	text, err := formatEntitlement(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse entitlement: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleCheckFeature checks one feature token against the user's tier.
func (h *Handlers) HandleCheckFeature(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	feature := req.GetString("feature", "")
	if feature == "" {
		return mcp.NewToolResultError("feature is required"), nil
	}

	raw, err := h.client.CheckFeature(ctx, feature)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check feature: %v", err)), nil
	}

	var resp struct {
		Feature string `json:"feature"`
		Allowed bool   `json:"allowed"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse feature check: %v", err)), nil
	}

	if resp.Allowed {
		return mcp.NewToolResultText(fmt.Sprintf("Feature '%s' is available on your current tier.", feature)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Feature '%s' is NOT available on your current tier.\n"+
			"Use recommend_upgrade to find the cheapest tier that includes it.", feature)), nil
}

// HandleCheckQuota reports remaining analysis or API quota.
func (h *Handlers) HandleCheckQuota(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	window := req.GetString("window", "analysis")

	switch window {
	case "analysis":
		raw, err := h.client.CheckDailyLimit(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to check quota: %v", err)), nil
		}
		text, err := formatDailyLimit(raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to parse quota: %v", err)), nil
		}
		return mcp.NewToolResultText(text), nil

	case "hourly", "daily":
		raw, err := h.client.ValidateAPIAccess(ctx, window)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to check API quota: %v", err)), nil
		}
		text, err := formatAPIAccess(raw, window)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to parse API quota: %v", err)), nil
		}
		return mcp.NewToolResultText(text), nil

	default:
		return mcp.NewToolResultError("window must be 'analysis', 'hourly', or 'daily'"), nil
	}
}

// HandleListUpgrades lists the tiers above the user's current one.
func (h *Handlers) HandleListUpgrades(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListUpgrades(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list upgrades: %v", err)), nil
	}

	text, err := formatUpgradeList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse upgrades: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleRecommendUpgrade finds the cheapest tier covering the desired features.
func (h *Handlers) HandleRecommendUpgrade(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	featureArg := req.GetString("features", "")
	features := splitFeatures(featureArg)
	if len(features) == 0 {
		return mcp.NewToolResultError("features is required (comma-separated feature tokens)"), nil
	}

	raw, err := h.client.RecommendUpgrade(ctx, features)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get recommendation: %v", err)), nil
	}

	text, err := formatRecommendation(raw, features)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse recommendation: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleLayersOverview returns the admin all-layers overview.
func (h *Handlers) HandleLayersOverview(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetOverview(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get overview: %v", err)), nil
	}

	text, err := formatOverview(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse overview: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// --- Formatting helpers ---

func splitFeatures(s string) []string {
	var features []string
	for _, part := range strings.Split(s, ",") {
		if f := strings.TrimSpace(part); f != "" {
			features = append(features, f)
		}
	}
	return features
}

func formatTierList(raw json.RawMessage) (string, error) {
	var resp struct {
		Tiers []map[string]any `json:"tiers"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected tiers response format")
	}
	if len(resp.Tiers) == 0 {
		return "No tiers found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "DeepSentinel tiers (%d):\n\n", len(resp.Tiers))
	for i, t := range resp.Tiers {
		writeTierSummary(&sb, t)
		if i < len(resp.Tiers)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

func formatTier(raw json.RawMessage) (string, error) {
	var resp struct {
		Tier map[string]any `json:"tier"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Tier == nil {
		return "", fmt.Errorf("unexpected tier response format")
	}

	t := resp.Tier
	var sb strings.Builder
	writeTierSummary(&sb, t)

	if limits, ok := t["apiLimits"].(map[string]any); ok {
		if v, ok := getFloat(limits, "requestsPerHour"); ok {
			fmt.Fprintf(&sb, "   API: %s req/hour, ", formatQuota(int64(v)))
		}
		if v, ok := getFloat(limits, "requestsPerDay"); ok {
			fmt.Fprintf(&sb, "%s req/day\n", formatQuota(int64(v)))
		}
	}
	if retention, ok := t["retention"].(map[string]any); ok {
		if v, ok := getFloat(retention, "analysisDays"); ok {
			fmt.Fprintf(&sb, "   Retention: analyses kept %d days\n", int(v))
		}
	}
	if restrictions, ok := t["restrictions"].([]any); ok && len(restrictions) > 0 {
		sb.WriteString("   Restrictions:\n")
		for _, r := range restrictions {
			if s, ok := r.(string); ok {
				fmt.Fprintf(&sb, "   - %s\n", s)
			}
		}
	}
	return sb.String(), nil
}

func writeTierSummary(sb *strings.Builder, t map[string]any) {
	fmt.Fprintf(sb, "%s (%s)\n", getString(t, "name"), getString(t, "id"))

	if v, ok := getFloat(t, "maxAnalysisPerDay"); ok {
		fmt.Fprintf(sb, "   Analyses/day: %s\n", formatQuota(int64(v)))
	}
	if v, ok := getFloat(t, "monthlyPriceCents"); ok {
		if v == 0 {
			sb.WriteString("   Price: free\n")
		} else {
			fmt.Fprintf(sb, "   Price: $%.2f/month\n", v/100)
		}
	}
	if features, ok := t["features"].([]any); ok && len(features) > 0 {
		names := make([]string, 0, len(features))
		for _, f := range features {
			if s, ok := f.(string); ok {
				names = append(names, s)
			}
		}
		fmt.Fprintf(sb, "   Features: %s\n", strings.Join(names, ", "))
	}
}

func formatEntitlement(raw json.RawMessage) (string, error) {
	var resp struct {
		Entitlement map[string]any `json:"entitlement"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Entitlement == nil {
		return "", fmt.Errorf("unexpected entitlement response format")
	}

	e := resp.Entitlement
	var sb strings.Builder
	sb.WriteString("Your entitlement:\n")
	fmt.Fprintf(&sb, "  Tier: %s\n", getString(e, "tier"))
	if v := getString(e, "grantedAt"); v != "" {
		fmt.Fprintf(&sb, "  Granted: %s\n", v)
	}
	if v := getString(e, "grantedBy"); v != "" {
		fmt.Fprintf(&sb, "  Granted by: %s\n", v)
	}
	if v := getString(e, "expiresAt"); v != "" {
		fmt.Fprintf(&sb, "  Expires: %s\n", v)
	} else {
		sb.WriteString("  Expires: never\n")
	}
	return sb.String(), nil
}

func formatDailyLimit(raw json.RawMessage) (string, error) {
	var resp struct {
		Allowed   bool `json:"allowed"`
		Remaining int  `json:"remaining"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	if !resp.Allowed {
		return "Daily analysis quota exhausted. Quota resets at the start of the next day " +
			"(platform time zone). Use list_upgrades to see tiers with a higher quota.", nil
	}
	if resp.Remaining < 0 {
		return "Analysis quota: unlimited.", nil
	}
	return fmt.Sprintf("Analysis quota: %d remaining today.", resp.Remaining), nil
}

func formatAPIAccess(raw json.RawMessage, window string) (string, error) {
	var resp struct {
		Allowed   bool   `json:"allowed"`
		Remaining int64  `json:"remaining"`
		ResetTime string `json:"resetTime"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	if !resp.Allowed {
		return fmt.Sprintf("API request budget for the %s window is exhausted. Resets at %s.",
			window, resp.ResetTime), nil
	}
	if resp.Remaining < 0 {
		return fmt.Sprintf("API requests (%s window): unlimited.", window), nil
	}
	return fmt.Sprintf("API requests (%s window): %d remaining. Window resets at %s.",
		window, resp.Remaining, resp.ResetTime), nil
}

func formatUpgradeList(raw json.RawMessage) (string, error) {
	var resp struct {
		Upgrades []map[string]any `json:"upgrades"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected upgrades response format")
	}
	if len(resp.Upgrades) == 0 {
		return "You are already on the highest tier.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Available upgrades (%d):\n\n", len(resp.Upgrades))
	for i, u := range resp.Upgrades {
		t, _ := u["tier"].(map[string]any)
		if t == nil {
			continue
		}
		fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, getString(t, "name"), getString(t, "id"))
		if v, ok := getFloat(u, "priceDeltaCents"); ok {
			fmt.Fprintf(&sb, "   +$%.2f/month\n", v/100)
		}
		if added, ok := u["newFeatures"].([]any); ok && len(added) > 0 {
			names := make([]string, 0, len(added))
			for _, f := range added {
				if s, ok := f.(string); ok {
					names = append(names, s)
				}
			}
			fmt.Fprintf(&sb, "   Adds: %s\n", strings.Join(names, ", "))
		}
	}
	return sb.String(), nil
}

func formatRecommendation(raw json.RawMessage, features []string) (string, error) {
	var resp struct {
		Recommendation map[string]any `json:"recommendation"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected recommendation response format")
	}

	if resp.Recommendation == nil {
		return fmt.Sprintf(
			"No upgrade needed or possible for: %s.\n"+
				"Either your current tier already covers these features, or no tier covers them all.",
			strings.Join(features, ", ")), nil
	}

	t := resp.Recommendation
	var sb strings.Builder
	fmt.Fprintf(&sb, "Recommended upgrade: %s (%s)\n", getString(t, "name"), getString(t, "id"))
	if v, ok := getFloat(t, "monthlyPriceCents"); ok {
		fmt.Fprintf(&sb, "  Price: $%.2f/month\n", v/100)
	}
	if v, ok := getFloat(t, "maxAnalysisPerDay"); ok {
		fmt.Fprintf(&sb, "  Analyses/day: %s\n", formatQuota(int64(v)))
	}
	fmt.Fprintf(&sb, "  Covers: %s\n", strings.Join(features, ", "))
	return sb.String(), nil
}

func formatOverview(raw json.RawMessage) (string, error) {
	var resp struct {
		TotalUsers        int            `json:"totalUsers"`
		TotalRevenueCents int64          `json:"totalRevenueCents"`
		Distribution      map[string]int `json:"distribution"`
		Metrics           struct {
			AnalysesToday        int64   `json:"analysesToday"`
			APIRequestsToday     int64   `json:"apiRequestsToday"`
			AverageSecurityScore float64 `json:"averageSecurityScore"`
		} `json:"metrics"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("DeepSentinel platform overview:\n")
	fmt.Fprintf(&sb, "  Active users: %d\n", resp.TotalUsers)
	fmt.Fprintf(&sb, "  Monthly revenue: $%.2f\n", float64(resp.TotalRevenueCents)/100)
	fmt.Fprintf(&sb, "  Analyses today: %d\n", resp.Metrics.AnalysesToday)
	fmt.Fprintf(&sb, "  API requests today: %d\n", resp.Metrics.APIRequestsToday)
	fmt.Fprintf(&sb, "  Average security score: %.1f\n", resp.Metrics.AverageSecurityScore)

	if len(resp.Distribution) > 0 {
		sb.WriteString("  Layer distribution:\n")
		for _, id := range []string{"layer1", "layer2", "layer3", "layer4"} {
			if n, ok := resp.Distribution[id]; ok {
				fmt.Fprintf(&sb, "    %s: %d\n", id, n)
			}
		}
	}
	return sb.String(), nil
}

// formatQuota renders a quota value, treating negatives as unlimited.
func formatQuota(v int64) string {
	if v < 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d", v)
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
