// Package warehouse archives normalized results in Postgres and answers
// sector benchmark queries over the archive.
package warehouse

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"startup-analyst/internal/remote"
	"startup-analyst/internal/results"
)

const maxAnalysisText = 10000

const columns = `analysis_id, company_name, sector, score, recommendation, analysis_text,
    revenue, growth_rate, funding, document_count, file_types, analysis_timestamp,
    confidence_score, key_strengths, main_concerns, executive_summary,
    market_opportunity_score, team_quality_score, product_innovation_score,
    financial_potential_score, execution_capability_score`

// Repo implements remote.Backend on the analysis_results table.
type Repo struct {
	DB  *sql.DB
	Now func() time.Time
}

// ListResults returns every archived row as a snake_case record, oldest first.
func (r *Repo) ListResults(ctx context.Context) ([]map[string]any, error) {
	query := `SELECT ` + columns + ` FROM analysis_results ORDER BY analysis_timestamp ASC`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: query analysis_results: %v", remote.ErrUnavailable, err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		rec, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read analysis_results: %v", remote.ErrUnavailable, err)
	}
	if out == nil {
		out = []map[string]any{}
	}
	return out, nil
}

type row struct {
	id, company                                 string
	sector, recommendation, text                sql.NullString
	score, docCount                             sql.NullInt64
	revenue, growth, funding, confidence        sql.NullFloat64
	fileTypes, strengths, concerns, summary     sql.NullString
	ts                                          time.Time
	market, team, product, financial, execution sql.NullFloat64
}

func scanRow(rows *sql.Rows) (map[string]any, error) {
	var w row
	err := rows.Scan(
		&w.id, &w.company, &w.sector, &w.score, &w.recommendation, &w.text,
		&w.revenue, &w.growth, &w.funding, &w.docCount, &w.fileTypes, &w.ts,
		&w.confidence, &w.strengths, &w.concerns, &w.summary,
		&w.market, &w.team, &w.product, &w.financial, &w.execution,
	)
	if err != nil {
		return nil, fmt.Errorf("scan analysis_results: %w", err)
	}

	rec := map[string]any{
		"analysis_id":        w.id,
		"company_name":       w.company,
		"analysis_timestamp": w.ts,
	}
	setString(rec, "sector", w.sector)
	setString(rec, "recommendation", w.recommendation)
	setString(rec, "analysis_text", w.text)
	setString(rec, "file_types", w.fileTypes)
	setString(rec, "key_strengths", w.strengths)
	setString(rec, "main_concerns", w.concerns)
	setString(rec, "executive_summary", w.summary)
	setInt(rec, "score", w.score)
	setInt(rec, "document_count", w.docCount)
	setFloat(rec, "revenue", w.revenue)
	setFloat(rec, "growth_rate", w.growth)
	setFloat(rec, "funding", w.funding)
	setFloat(rec, "confidence_score", w.confidence)
	setFloat(rec, "market_opportunity_score", w.market)
	setFloat(rec, "team_quality_score", w.team)
	setFloat(rec, "product_innovation_score", w.product)
	setFloat(rec, "financial_potential_score", w.financial)
	setFloat(rec, "execution_capability_score", w.execution)
	return rec, nil
}

// CreateResult normalizes record and inserts it. Inserting an id that is
// already archived is a no-op.
func (r *Repo) CreateResult(ctx context.Context, record map[string]any) (string, error) {
	res := results.Normalize(record)
	ts := res.CreatedAt
	if ts.IsZero() {
		ts = r.now()
	}
	b := res.StructuredData.ScoringBreakdown

	fileTypes, err := jsonList(res.FileTypes)
	if err != nil {
		return "", err
	}
	strengths, err := jsonList(res.StructuredData.KeyStrengths)
	if err != nil {
		return "", err
	}
	concerns, err := jsonList(res.StructuredData.MainConcerns)
	if err != nil {
		return "", err
	}

	query := `
INSERT INTO analysis_results (` + columns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
ON CONFLICT (analysis_id) DO NOTHING`

	_, err = r.DB.ExecContext(ctx, query,
		res.ID,
		res.CompanyName,
		res.Sector,
		res.Score,
		string(res.Recommendation),
		truncate(res.AnalysisText, maxAnalysisText),
		nullFloat(res.Metrics.Revenue),
		nullFloat(res.Metrics.GrowthRate),
		nullFloat(res.Metrics.Funding),
		res.DocumentCount,
		fileTypes,
		ts.UTC(),
		res.Confidence,
		strengths,
		concerns,
		res.StructuredData.ExecutiveSummary,
		b.MarketOpportunity,
		b.TeamQuality,
		b.ProductInnovation,
		b.FinancialPotential,
		b.ExecutionCapability,
	)
	if err != nil {
		return "", fmt.Errorf("%w: insert analysis_results: %v", remote.ErrUnavailable, err)
	}
	return res.ID, nil
}

// DeleteResult removes an archived row.
func (r *Repo) DeleteResult(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM analysis_results WHERE analysis_id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: delete analysis_results: %v", remote.ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("result %s: %w", id, remote.ErrNotFound)
	}
	return nil
}

func (r *Repo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func jsonList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(data), nil
}

// truncate cuts s to at most n bytes without leaving a partial rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func setString(m map[string]any, key string, v sql.NullString) {
	if v.Valid {
		m[key] = v.String
	}
}

func setInt(m map[string]any, key string, v sql.NullInt64) {
	if v.Valid {
		m[key] = float64(v.Int64)
	}
}

func setFloat(m map[string]any, key string, v sql.NullFloat64) {
	if v.Valid {
		m[key] = v.Float64
	}
}

var _ remote.Backend = (*Repo)(nil)
