package results

import "time"

// Outbound renders a result as the camelCase document-store record sent to
// createResult. Normalizing the output yields an equivalent Result.
func Outbound(res Result) map[string]any {
	b := res.StructuredData.ScoringBreakdown
	out := map[string]any{
		"id":             res.ID,
		"companyName":    res.CompanyName,
		"score":          res.Score,
		"recommendation": string(res.Recommendation),
		"sector":         res.Sector,
		"documentCount":  res.DocumentCount,
		"fileTypes":      append([]string{}, res.FileTypes...),
		"confidence":     res.Confidence,
		"structuredData": map[string]any{
			"scoringBreakdown": map[string]any{
				"marketOpportunity":   b.MarketOpportunity,
				"teamQuality":         b.TeamQuality,
				"productInnovation":   b.ProductInnovation,
				"financialPotential":  b.FinancialPotential,
				"executionCapability": b.ExecutionCapability,
			},
			"keyStrengths":     append([]string{}, res.StructuredData.KeyStrengths...),
			"mainConcerns":     append([]string{}, res.StructuredData.MainConcerns...),
			"executiveSummary": res.StructuredData.ExecutiveSummary,
		},
	}
	if !res.CreatedAt.IsZero() {
		out["createdAt"] = res.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if res.AnalysisText != "" {
		out["analysisText"] = res.AnalysisText
	}
	metrics := map[string]any{}
	if res.Metrics.Revenue != nil {
		metrics["revenue"] = *res.Metrics.Revenue
	}
	if res.Metrics.GrowthRate != nil {
		metrics["growthRate"] = *res.Metrics.GrowthRate
	}
	if res.Metrics.Funding != nil {
		metrics["funding"] = *res.Metrics.Funding
	}
	if len(metrics) > 0 {
		out["extractedMetrics"] = metrics
	}
	return out
}
