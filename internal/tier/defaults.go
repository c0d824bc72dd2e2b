package tier

const (
	mb = 1 << 20
)

// DefaultDefinitions returns the reference four-layer catalog used by the
// DeepSentinel platform. Feature strings here ARE the API contract: callers
// checking access must pass the identical string.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			ID:                Layer1,
			Name:              "Scout",
			AccessLevel:       1,
			MaxAnalysisPerDay: 10,
			Features: []string{
				"Basic deepfake detection",
				"Image analysis",
				"Community support",
			},
			Restrictions: []string{
				"Watermarked reports",
				"No API access",
			},
			APILimits: APILimits{
				RequestsPerHour: 10,
				RequestsPerDay:  50,
				MaxUploadBytes:  10 * mb,
			},
			Retention:         Retention{AnalysisDays: 7, ReportDays: 7, LogDays: 3},
			MonthlyPriceCents: 0,
			AnnualPriceCents:  0,
			BaseSecurityScore: 45,
		},
		{
			ID:                Layer2,
			Name:              "Analyst",
			AccessLevel:       2,
			MaxAnalysisPerDay: 100,
			Features: []string{
				"Basic deepfake detection",
				"Image analysis",
				"Community support",
				"Advanced threat analysis",
				"Video analysis",
				"Batch scanning",
				"Email support",
			},
			Restrictions: []string{
				"No real-time monitoring",
			},
			APILimits: APILimits{
				RequestsPerHour: 100,
				RequestsPerDay:  1000,
				MaxUploadBytes:  100 * mb,
			},
			Retention:         Retention{AnalysisDays: 30, ReportDays: 30, LogDays: 14},
			MonthlyPriceCents: 2900,
			AnnualPriceCents:  29000,
			BaseSecurityScore: 65,
		},
		{
			ID:                Layer3,
			Name:              "Sentinel",
			AccessLevel:       3,
			MaxAnalysisPerDay: 1000,
			Features: []string{
				"Basic deepfake detection",
				"Image analysis",
				"Community support",
				"Advanced threat analysis",
				"Video analysis",
				"Batch scanning",
				"Email support",
				"Real-time monitoring",
				"Threat map access",
				"API access",
				"Priority support",
			},
			Restrictions: []string{
				"Shared detection infrastructure",
			},
			APILimits: APILimits{
				RequestsPerHour: 1000,
				RequestsPerDay:  10000,
				MaxUploadBytes:  500 * mb,
			},
			Retention:         Retention{AnalysisDays: 90, ReportDays: 90, LogDays: 30},
			MonthlyPriceCents: 9900,
			AnnualPriceCents:  99000,
			BaseSecurityScore: 82,
		},
		{
			ID:                Layer4,
			Name:              "Fortress",
			AccessLevel:       4,
			MaxAnalysisPerDay: Unlimited,
			Features: []string{
				"Basic deepfake detection",
				"Image analysis",
				"Community support",
				"Advanced threat analysis",
				"Video analysis",
				"Batch scanning",
				"Email support",
				"Real-time monitoring",
				"Threat map access",
				"API access",
				"Priority support",
				"Quantum-resistant scanning",
				"Neural forensics",
				"Custom integrations",
				"Dedicated support",
			},
			APILimits: APILimits{
				RequestsPerHour: Unlimited,
				RequestsPerDay:  Unlimited,
				MaxUploadBytes:  Unlimited,
			},
			Retention:         Retention{AnalysisDays: 365, ReportDays: 365, LogDays: 90},
			MonthlyPriceCents: 49900,
			AnnualPriceCents:  499000,
			BaseSecurityScore: 96,
		},
	}
}

// DefaultCatalog builds the reference catalog. It panics on a validation
// failure, which can only happen if the definitions above are edited into
// an inconsistent state.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultDefinitions())
	if err != nil {
		panic("tier: invalid default catalog: " + err.Error())
	}
	return c
}
