package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the DeepSentinel MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolGetTier = mcp.NewTool("get_tier",
	mcp.WithDescription(
		"Look up DeepSentinel security tier definitions. "+
			"Returns access level, daily analysis quota, features, API limits, retention, and pricing. "+
			"Omit the tier argument to list the whole catalog."),
	mcp.WithString("tier",
		mcp.Description("Tier to look up. Omit to list every tier."),
		mcp.Enum("layer1", "layer2", "layer3", "layer4")),
)

var ToolGetEntitlement = mcp.NewTool("get_entitlement",
	mcp.WithDescription(
		"Get your current DeepSentinel entitlement: which security layer you are on, "+
			"when it was granted, and whether it expires."),
)

var ToolCheckFeature = mcp.NewTool("check_feature",
	mcp.WithDescription(
		"Check whether your current DeepSentinel tier grants a specific feature. "+
			"Feature tokens are exact and case-sensitive (e.g. 'api_access', 'advanced_analysis', "+
			"'realtime_monitoring'). Use this before attempting a gated operation."),
	mcp.WithString("feature",
		mcp.Required(),
		mcp.Description("Feature token to check (e.g. 'api_access')")),
)

var ToolCheckQuota = mcp.NewTool("check_quota",
	mcp.WithDescription(
		"Check your remaining DeepSentinel quota. "+
			"The default 'analysis' window reports how many deepfake analyses you can still run today. "+
			"'hourly' and 'daily' report remaining API requests in the current window, with the reset time."),
	mcp.WithString("window",
		mcp.Description("Quota window: 'analysis' (daily analysis quota, default), 'hourly', or 'daily' (API request budget)"),
		mcp.Enum("analysis", "hourly", "daily")),
)

var ToolListUpgrades = mcp.NewTool("list_upgrades",
	mcp.WithDescription(
		"List the DeepSentinel tiers above your current one, with the features each "+
			"upgrade adds and the monthly price difference."),
)

var ToolRecommendUpgrade = mcp.NewTool("recommend_upgrade",
	mcp.WithDescription(
		"Recommend the cheapest DeepSentinel tier upgrade that covers a set of desired features. "+
			"Returns no recommendation if your current tier already covers them, "+
			"or if no tier covers them all."),
	mcp.WithString("features",
		mcp.Required(),
		mcp.Description("Comma-separated feature tokens you need (e.g. 'api_access,advanced_analysis')")),
)

var ToolLayersOverview = mcp.NewTool("layers_overview",
	mcp.WithDescription(
		"Get the platform-wide DeepSentinel overview: total users, revenue, "+
			"user distribution across security layers, and today's activity. "+
			"Admin scope; requires the server to be configured with an admin secret."),
)
