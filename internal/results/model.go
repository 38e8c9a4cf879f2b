package results

import (
	"strings"
	"time"
)

// Recommendation is the investment verdict attached to a result.
type Recommendation string

const (
	RecommendationInvest        Recommendation = "INVEST"
	RecommendationHold          Recommendation = "HOLD"
	RecommendationDoNotInvest   Recommendation = "DO_NOT_INVEST"
	RecommendationDueDiligence  Recommendation = "FURTHER_DUE_DILIGENCE_REQUIRED"
	defaultRecommendation                      = RecommendationDueDiligence
	defaultCompanyName                         = "Unknown Company"
	defaultSector                              = "Unknown"
	defaultConfidence                          = 0.8
	idPrefix                                   = "analysis"
	categoryWeight                             = 0.2
)

// Schema identifies which backend record shape a result was decoded from.
type Schema string

const (
	// SchemaWarehouse is the snake_case analytics archive row.
	SchemaWarehouse Schema = "warehouse"
	// SchemaDocument is the camelCase document-store record.
	SchemaDocument Schema = "document"
	// SchemaUnknown is anything else; every field is defaulted.
	SchemaUnknown Schema = "unknown"
)

// ScoringBreakdown splits the overall score over five fixed categories.
type ScoringBreakdown struct {
	MarketOpportunity   float64 `json:"marketOpportunity"`
	TeamQuality         float64 `json:"teamQuality"`
	ProductInnovation   float64 `json:"productInnovation"`
	FinancialPotential  float64 `json:"financialPotential"`
	ExecutionCapability float64 `json:"executionCapability"`
}

// StructuredData is the nested analysis detail. Each field defaults
// independently.
type StructuredData struct {
	ScoringBreakdown ScoringBreakdown `json:"scoringBreakdown"`
	KeyStrengths     []string         `json:"keyStrengths"`
	MainConcerns     []string         `json:"mainConcerns"`
	ExecutiveSummary string           `json:"executiveSummary"`
}

// Metrics are financial figures extracted from the documents, when known.
type Metrics struct {
	Revenue    *float64 `json:"revenue,omitempty"`
	GrowthRate *float64 `json:"growthRate,omitempty"`
	Funding    *float64 `json:"funding,omitempty"`
}

// Result is the canonical analysis record every view reads.
type Result struct {
	ID             string         `json:"id"`
	CompanyName    string         `json:"companyName"`
	Score          int            `json:"score"`
	Recommendation Recommendation `json:"recommendation"`
	Sector         string         `json:"sector"`
	StructuredData StructuredData `json:"structuredData"`
	DocumentCount  int            `json:"documentCount"`
	FileTypes      []string       `json:"fileTypes"`
	CreatedAt      time.Time      `json:"createdAt"`
	Confidence     float64        `json:"confidence"`
	Metrics        Metrics        `json:"metrics"`
	AnalysisText   string         `json:"analysisText,omitempty"`
	Schema         Schema         `json:"schema"`
	Origin         string         `json:"origin,omitempty"`
}

// ParseRecommendation maps free-form verdicts such as "INVEST - Strong
// fundamentals" or "pass" onto the four known values.
func ParseRecommendation(raw string) Recommendation {
	s := strings.ToUpper(strings.TrimSpace(raw))
	for _, sep := range []string{" - ", ":", "(", ",", "."} {
		if i := strings.Index(s, sep); i > 0 {
			s = s[:i]
		}
	}
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(strings.TrimSpace(s))
	s = strings.Trim(s, "_")

	switch s {
	case "INVEST", "STRONG_INVEST", "BUY", "STRONG_BUY":
		return RecommendationInvest
	case "HOLD", "MONITOR", "WATCH":
		return RecommendationHold
	case "DO_NOT_INVEST", "DONT_INVEST", "PASS", "REJECT", "NO_INVEST":
		return RecommendationDoNotInvest
	default:
		return defaultRecommendation
	}
}

// synthesizeBreakdown spreads score evenly over the five categories.
func synthesizeBreakdown(score int) ScoringBreakdown {
	v := round2(float64(score) * categoryWeight)
	return ScoringBreakdown{
		MarketOpportunity:   v,
		TeamQuality:         v,
		ProductInnovation:   v,
		FinancialPotential:  v,
		ExecutionCapability: v,
	}
}

func (b ScoringBreakdown) empty() bool {
	return b.MarketOpportunity <= 0 &&
		b.TeamQuality <= 0 &&
		b.ProductInnovation <= 0 &&
		b.FinancialPotential <= 0 &&
		b.ExecutionCapability <= 0
}
