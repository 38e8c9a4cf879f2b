package warehouse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"startup-analyst/internal/remote"
	"startup-analyst/internal/results"
)

var fixedNow = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) (*Repo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &Repo{DB: db, Now: func() time.Time { return fixedNow }}, mock
}

var rowColumns = []string{
	"analysis_id", "company_name", "sector", "score", "recommendation", "analysis_text",
	"revenue", "growth_rate", "funding", "document_count", "file_types", "analysis_timestamp",
	"confidence_score", "key_strengths", "main_concerns", "executive_summary",
	"market_opportunity_score", "team_quality_score", "product_innovation_score",
	"financial_potential_score", "execution_capability_score",
}

func TestListResultsNormalizesRows(t *testing.T) {
	repo, mock := newRepo(t)
	ts := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT .+ FROM analysis_results ORDER BY analysis_timestamp").
		WillReturnRows(sqlmock.NewRows(rowColumns).
			AddRow("a1", "Acme", "FinTech", 72, "INVEST", nil,
				1200000.0, nil, nil, 2, `["pdf","docx"]`, ts,
				0.9, `["team"]`, `["burn"]`, "Solid",
				15.0, 14.0, 13.0, 12.0, 11.0).
			AddRow("a2", "Beta", nil, nil, nil, nil,
				nil, nil, nil, nil, "not json", ts,
				nil, nil, nil, nil,
				nil, nil, nil, nil, nil))

	rows, err := repo.ListResults(context.Background())
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	first := results.Normalize(rows[0])
	if first.Schema != results.SchemaWarehouse || first.ID != "a1" || first.Score != 72 {
		t.Fatalf("unexpected first result %+v", first)
	}
	if len(first.FileTypes) != 2 || first.Metrics.Revenue == nil || *first.Metrics.Revenue != 1200000 {
		t.Fatalf("unexpected file types or revenue %+v", first)
	}
	if !first.CreatedAt.Equal(ts) || first.StructuredData.ScoringBreakdown.MarketOpportunity != 15 {
		t.Fatalf("unexpected timestamp or breakdown %+v", first)
	}

	second := results.Normalize(rows[1])
	if second.CompanyName != "Beta" || len(second.FileTypes) != 0 || second.Sector != "Unknown" {
		t.Fatalf("unexpected defaulted result %+v", second)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestCreateResultInsertsNormalizedRow(t *testing.T) {
	repo, mock := newRepo(t)
	revenue := 2500000.0
	res := results.Result{
		ID:             "r1",
		CompanyName:    "Acme",
		Score:          60,
		Recommendation: results.RecommendationHold,
		Sector:         "FinTech",
		DocumentCount:  1,
		FileTypes:      []string{"pdf"},
		CreatedAt:      time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		Confidence:     0.75,
		Metrics:        results.Metrics{Revenue: &revenue},
	}

	mock.ExpectExec("INSERT INTO analysis_results").
		WithArgs(
			"r1", "Acme", "FinTech", 60, "HOLD", "",
			revenue, nil, nil, 1, `["pdf"]`, res.CreatedAt,
			0.75, `[]`, `[]`, "",
			12.0, 12.0, 12.0, 12.0, 12.0,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := repo.CreateResult(context.Background(), results.Outbound(res))
	if err != nil {
		t.Fatalf("CreateResult: %v", err)
	}
	if id != "r1" {
		t.Fatalf("unexpected id %q", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestCreateResultWrapsDatabaseErrors(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectExec("INSERT INTO analysis_results").WillReturnError(errors.New("conn reset"))

	_, err := repo.CreateResult(context.Background(), map[string]any{"companyName": "Acme"})
	if !errors.Is(err, remote.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestDeleteResult(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectExec("DELETE FROM analysis_results").WithArgs("r1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM analysis_results").WithArgs("r2").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.DeleteResult(context.Background(), "r1"); err != nil {
		t.Fatalf("DeleteResult: %v", err)
	}
	if err := repo.DeleteResult(context.Background(), "r2"); !errors.Is(err, remote.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestSectorBenchmark(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectQuery("FROM analysis_results").
		WithArgs("FinTech", fixedNow.Add(-benchmarkWindow)).
		WillReturnRows(sqlmock.NewRows([]string{"avg", "rev", "growth", "n", "invest", "hold", "reject"}).
			AddRow(70.5, 1000000.0, nil, 4, 1, 2, 1))

	b, err := repo.SectorBenchmark(context.Background(), "FinTech")
	if err != nil {
		t.Fatalf("SectorBenchmark: %v", err)
	}
	if b.AvgScore != 70.5 || b.AvgGrowth != 0 || b.SampleSize != 4 || b.InvestmentRate != 25 {
		t.Fatalf("unexpected benchmark %+v", b)
	}
}

func TestSectorBenchmarkEmptySectorIsNeutral(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectQuery("FROM analysis_results").
		WillReturnRows(sqlmock.NewRows([]string{"avg", "rev", "growth", "n", "invest", "hold", "reject"}).
			AddRow(nil, nil, nil, 0, 0, 0, 0))

	b, err := repo.SectorBenchmark(context.Background(), "AgTech")
	if err != nil {
		t.Fatalf("SectorBenchmark: %v", err)
	}
	if b.AvgScore != neutralScore || b.SampleSize != 0 || b.InvestmentRate != 0 {
		t.Fatalf("unexpected benchmark %+v", b)
	}
}

func TestTrendingSectors(t *testing.T) {
	repo, mock := newRepo(t)
	mock.ExpectQuery("GROUP BY sector").
		WithArgs(fixedNow.Add(-trendWindow), trendMinCount, trendLimit).
		WillReturnRows(sqlmock.NewRows([]string{"sector", "analysis_count", "avg_score", "invest_count"}).
			AddRow("AI/ML", 12, 75.0, 6).
			AddRow("EdTech", 4, 63.0, 1))

	trends, err := repo.TrendingSectors(context.Background())
	if err != nil {
		t.Fatalf("TrendingSectors: %v", err)
	}
	if len(trends) != 2 || trends[0].Trend != "hot" || trends[1].Trend != "warm" {
		t.Fatalf("unexpected trends %+v", trends)
	}
	if trends[0].InvestRate != 50 || trends[1].InvestRate != 25 {
		t.Fatalf("unexpected invest rates %+v", trends)
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	if got := truncate("héllo", 2); got != "h" {
		t.Fatalf("unexpected truncation %q", got)
	}
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("unexpected truncation %q", got)
	}
}
