package results

import (
	"encoding/json"
	"fmt"
	"math"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"startup-analyst/internal/shared/metrics"
	"startup-analyst/internal/shared/telemetry"
)

// Normalizer converts raw backend records into Results. The zero value is
// not usable; call NewNormalizer.
type Normalizer struct {
	Now    func() time.Time
	Suffix func() string
}

// NewNormalizer returns a normalizer using the wall clock and random
// uuid-derived id suffixes.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		Now:    time.Now,
		Suffix: func() string { return uuid.NewString()[:8] },
	}
}

var defaultNormalizer = NewNormalizer()

// Normalize converts raw with the default normalizer.
func Normalize(raw map[string]any) Result { return defaultNormalizer.Normalize(raw) }

// NormalizeJSON converts a serialized record with the default normalizer.
func NormalizeJSON(data []byte) Result { return defaultNormalizer.NormalizeJSON(data) }

// DetectSchema picks the decoder for a raw record.
func DetectSchema(raw map[string]any) Schema {
	r := newReader(raw)
	switch {
	case r.has("analysis_id", "company_name", "analysis_timestamp", "confidence_score"):
		return SchemaWarehouse
	case r.has("companyName", "structuredData", "documentCount", "createdAt"):
		return SchemaDocument
	default:
		return SchemaUnknown
	}
}

// Normalize never fails: fields that cannot be interpreted are defaulted
// and logged.
func (n *Normalizer) Normalize(raw map[string]any) Result {
	schema := DetectSchema(raw)
	r := newReader(raw)

	var res Result
	switch schema {
	case SchemaWarehouse:
		res = decodeWarehouse(r)
	case SchemaDocument:
		res = decodeDocument(r)
	default:
		if nested := r.sub("analysis", "result", "data"); len(nested.m) > 0 {
			merged := make(map[string]any, len(nested.m)+len(raw))
			for k, v := range nested.m {
				merged[k] = v
			}
			for k, v := range raw {
				if _, ok := merged[k]; !ok {
					merged[k] = v
				}
			}
			if DetectSchema(merged) != SchemaUnknown {
				return n.Normalize(merged)
			}
		}
		res = decodeFallback(r)
	}
	res.Schema = schema
	n.finish(&res, r)
	return res
}

// NormalizeJSON decodes data and normalizes it. A payload that is not a JSON
// object still yields a defaulted result with a generated id.
func (n *Normalizer) NormalizeJSON(data []byte) Result {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		metrics.IncNormalizeDefaults()
		telemetry.Warn("results.unparseable_record", map[string]any{
			"error": err,
			"bytes": len(data),
		})
		raw = nil
	}
	return n.Normalize(raw)
}

// NormalizeAll normalizes every record and tags it with origin.
func (n *Normalizer) NormalizeAll(raws []map[string]any, origin string) []Result {
	out := make([]Result, 0, len(raws))
	for _, raw := range raws {
		res := n.Normalize(raw)
		res.Origin = origin
		out = append(out, res)
	}
	return out
}

// GenerateID returns analysis-<unix millis>-<suffix>.
func (n *Normalizer) GenerateID() string {
	return fmt.Sprintf("%s-%d-%s", idPrefix, n.Now().UnixMilli(), n.Suffix())
}

func (n *Normalizer) finish(res *Result, r *reader) {
	if res.ID == "" {
		res.ID = n.GenerateID()
	}
	if strings.TrimSpace(res.CompanyName) == "" {
		res.CompanyName = defaultCompanyName
	}
	if strings.TrimSpace(res.Sector) == "" {
		res.Sector = defaultSector
	}
	if res.Recommendation == "" {
		res.Recommendation = defaultRecommendation
	}
	res.Score = clampInt(res.Score, 0, 100)
	if res.DocumentCount < 0 {
		res.DocumentCount = 0
	}
	res.Confidence = clampConfidence(res.Confidence)
	if res.StructuredData.ScoringBreakdown.empty() {
		res.StructuredData.ScoringBreakdown = synthesizeBreakdown(res.Score)
	}
	if res.StructuredData.KeyStrengths == nil {
		res.StructuredData.KeyStrengths = []string{}
	}
	if res.StructuredData.MainConcerns == nil {
		res.StructuredData.MainConcerns = []string{}
	}
	res.FileTypes = normalizeFileTypes(res.FileTypes)

	if len(r.issues) > 0 {
		telemetry.Warn("results.fields_defaulted", map[string]any{
			"result_id": res.ID,
			"schema":    string(res.Schema),
			"fields":    r.issues,
		})
	}
}

func decodeWarehouse(r *reader) Result {
	structured := r.sub("structured_data")
	breakdown := r.sub("scoring_breakdown")
	if len(breakdown.m) == 0 {
		breakdown = structured.sub("scoring_breakdown")
	}
	extracted := r.sub("extracted_metrics")

	res := Result{
		ID:             r.str("analysis_id", "id", "document_id"),
		CompanyName:    r.str("company_name", "companyName"),
		Score:          score(r, "score", "overall_score"),
		Recommendation: ParseRecommendation(r.str("recommendation")),
		Sector:         r.str("sector"),
		DocumentCount:  count(r, "document_count"),
		FileTypes:      r.list("file_types"),
		Confidence:     confidence(r, "confidence_score", "confidence"),
		AnalysisText:   r.str("analysis_text"),
		StructuredData: StructuredData{
			ScoringBreakdown: ScoringBreakdown{
				MarketOpportunity:   category(r, breakdown, "market_opportunity_score", "market_opportunity"),
				TeamQuality:         category(r, breakdown, "team_quality_score", "team_quality"),
				ProductInnovation:   category(r, breakdown, "product_innovation_score", "product_innovation"),
				FinancialPotential:  category(r, breakdown, "financial_potential_score", "financial_potential"),
				ExecutionCapability: category(r, breakdown, "execution_capability_score", "execution_capability"),
			},
			KeyStrengths:     firstList(r.list("key_strengths"), structured.list("key_strengths")),
			MainConcerns:     firstList(r.list("main_concerns"), structured.list("main_concerns")),
			ExecutiveSummary: firstNonEmpty(r.str("executive_summary"), structured.str("executive_summary")),
		},
		Metrics: Metrics{
			Revenue:    optional(r, extracted, "revenue"),
			GrowthRate: optional(r, extracted, "growth_rate"),
			Funding:    optional(r, extracted, "funding"),
		},
	}
	if ts, ok := r.timestamp("analysis_timestamp", "created_at", "timestamp"); ok {
		res.CreatedAt = ts
	}
	return res
}

func decodeDocument(r *reader) Result {
	structured := r.sub("structuredData", "structured_data")
	breakdown := structured.sub("scoringBreakdown", "scoring_breakdown")
	extracted := r.sub("extractedMetrics", "metrics", "extracted_metrics")

	res := Result{
		ID:             r.str("id", "analysisId", "documentId"),
		CompanyName:    r.str("companyName", "company"),
		Score:          score(r, "score", "overallScore"),
		Recommendation: ParseRecommendation(r.str("recommendation", "investmentRecommendation")),
		Sector:         r.str("sector"),
		DocumentCount:  count(r, "documentCount"),
		FileTypes:      r.list("fileTypes"),
		Confidence:     confidence(r, "confidence", "confidenceScore"),
		AnalysisText:   r.str("analysisText", "analysis"),
		StructuredData: StructuredData{
			ScoringBreakdown: ScoringBreakdown{
				MarketOpportunity:   category(breakdown, nil, "marketOpportunity", "market_opportunity"),
				TeamQuality:         category(breakdown, nil, "teamQuality", "team_quality"),
				ProductInnovation:   category(breakdown, nil, "productInnovation", "product_innovation"),
				FinancialPotential:  category(breakdown, nil, "financialPotential", "financial_potential"),
				ExecutionCapability: category(breakdown, nil, "executionCapability", "execution_capability"),
			},
			KeyStrengths:     structured.list("keyStrengths", "key_strengths"),
			MainConcerns:     structured.list("mainConcerns", "main_concerns"),
			ExecutiveSummary: structured.str("executiveSummary", "executive_summary"),
		},
		Metrics: Metrics{
			Revenue:    optional(extracted, nil, "revenue"),
			GrowthRate: optional(extracted, nil, "growthRate", "growth_rate"),
			Funding:    optional(extracted, nil, "funding"),
		},
	}
	if ts, ok := r.timestamp("createdAt", "timestamp", "updatedAt"); ok {
		res.CreatedAt = ts
	}
	return res
}

// decodeFallback reads only the most common loose field names.
func decodeFallback(r *reader) Result {
	res := Result{
		ID:             r.str("id"),
		CompanyName:    r.str("name", "company", "title"),
		Score:          score(r, "score"),
		Recommendation: ParseRecommendation(r.str("recommendation")),
		Sector:         r.str("sector", "industry"),
		Confidence:     confidence(r, "confidence"),
		FileTypes:      r.list("files", "types"),
	}
	if ts, ok := r.timestamp("timestamp", "date"); ok {
		res.CreatedAt = ts
	}
	return res
}

func score(r *reader, keys ...string) int {
	v, ok := r.num(keys...)
	if !ok {
		return 0
	}
	return clampInt(int(math.Round(v)), 0, 100)
}

func count(r *reader, keys ...string) int {
	v, ok := r.num(keys...)
	if !ok || v < 0 {
		return 0
	}
	return int(v)
}

// confidence returns the default when the field is absent. Values above 1
// are read as percentages.
func confidence(r *reader, keys ...string) float64 {
	v, ok := r.num(keys...)
	if !ok {
		return defaultConfidence
	}
	if v > 1 && v <= 100 {
		v = v / 100
	}
	return v
}

func clampConfidence(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// category prefers a flat column from primary and falls back to the nested
// breakdown object.
func category(primary, nested *reader, flatKey, nestedKey string) float64 {
	if v, ok := primary.num(flatKey); ok && v > 0 {
		return round2(v)
	}
	if nested != nil {
		if v, ok := nested.num(nestedKey); ok {
			return round2(v)
		}
	} else if v, ok := primary.num(nestedKey); ok {
		return round2(v)
	}
	return 0
}

func optional(primary, nested *reader, keys ...string) *float64 {
	if v, ok := primary.num(keys...); ok {
		return &v
	}
	if nested != nil {
		if v, ok := nested.num(keys...); ok {
			return &v
		}
	}
	return nil
}

func firstList(lists ...[]string) []string {
	for _, l := range lists {
		if len(l) > 0 {
			return l
		}
	}
	return []string{}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var mimeTags = map[string]string{
	"application/pdf":    "pdf",
	"application/msword": "doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   "docx",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": "pptx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         "xlsx",
}

// normalizeFileTypes reduces mime types, file names and extensions to short
// lower-case tags without duplicates.
func normalizeFileTypes(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, raw := range in {
		tag := strings.ToLower(strings.TrimSpace(raw))
		if mapped, ok := mimeTags[tag]; ok {
			tag = mapped
		} else if i := strings.LastIndex(tag, "/"); i >= 0 && strings.Count(tag, "/") == 1 && !strings.Contains(tag, ".") {
			tag = tag[i+1:]
		} else if ext := path.Ext(tag); ext != "" {
			tag = ext
		}
		tag = strings.TrimPrefix(tag, ".")
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
