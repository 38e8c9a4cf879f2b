package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"startup-analyst/internal/remote"
)

const (
	benchmarkWindow = 12 * 30 * 24 * time.Hour
	trendWindow     = 3 * 30 * 24 * time.Hour
	trendMinCount   = 3
	trendLimit      = 10
	hotThreshold    = 10
	neutralScore    = 50
)

// SectorBenchmark aggregates archived results for one sector.
type SectorBenchmark struct {
	Sector         string    `json:"sector"`
	AvgScore       float64   `json:"avgScore"`
	AvgRevenue     float64   `json:"avgRevenue"`
	AvgGrowth      float64   `json:"avgGrowth"`
	SampleSize     int       `json:"sampleSize"`
	InvestmentRate float64   `json:"investmentRate"`
	HoldCount      int       `json:"holdCount"`
	RejectCount    int       `json:"rejectCount"`
	ComputedAt     time.Time `json:"computedAt"`
}

// SectorTrend is one entry of the trending sectors list.
type SectorTrend struct {
	Sector        string  `json:"sector"`
	AnalysisCount int     `json:"analysisCount"`
	AvgScore      float64 `json:"avgScore"`
	InvestRate    float64 `json:"investRate"`
	Trend         string  `json:"trend"`
}

// SectorBenchmark covers the last twelve months. A sector with no rows
// reports a neutral average score and zero sample size.
func (r *Repo) SectorBenchmark(ctx context.Context, sector string) (SectorBenchmark, error) {
	now := r.now().UTC()
	const query = `
SELECT
    AVG(score),
    AVG(revenue),
    AVG(growth_rate),
    COUNT(*),
    COUNT(*) FILTER (WHERE recommendation = 'INVEST'),
    COUNT(*) FILTER (WHERE recommendation = 'HOLD'),
    COUNT(*) FILTER (WHERE recommendation = 'DO_NOT_INVEST')
FROM analysis_results
WHERE sector = $1 AND analysis_timestamp >= $2`

	var (
		avgScore, avgRevenue, avgGrowth sql.NullFloat64
		sample, invest, hold, reject    int
	)
	err := r.DB.QueryRowContext(ctx, query, sector, now.Add(-benchmarkWindow)).
		Scan(&avgScore, &avgRevenue, &avgGrowth, &sample, &invest, &hold, &reject)
	if err != nil {
		return SectorBenchmark{}, fmt.Errorf("%w: sector benchmark: %v", remote.ErrUnavailable, err)
	}

	b := SectorBenchmark{
		Sector:      sector,
		AvgScore:    neutralScore,
		SampleSize:  sample,
		HoldCount:   hold,
		RejectCount: reject,
		ComputedAt:  now,
	}
	if avgScore.Valid {
		b.AvgScore = avgScore.Float64
	}
	if avgRevenue.Valid {
		b.AvgRevenue = avgRevenue.Float64
	}
	if avgGrowth.Valid {
		b.AvgGrowth = avgGrowth.Float64
	}
	if sample > 0 {
		b.InvestmentRate = float64(invest) / float64(sample) * 100
	}
	return b, nil
}

// TrendingSectors ranks sectors by analysis volume over the last three
// months. Sectors with fewer than three analyses are left out.
func (r *Repo) TrendingSectors(ctx context.Context) ([]SectorTrend, error) {
	const query = `
SELECT
    sector,
    COUNT(*) AS analysis_count,
    AVG(score) AS avg_score,
    COUNT(*) FILTER (WHERE recommendation = 'INVEST') AS invest_count
FROM analysis_results
WHERE analysis_timestamp >= $1 AND sector IS NOT NULL
GROUP BY sector
HAVING COUNT(*) >= $2
ORDER BY analysis_count DESC, avg_score DESC
LIMIT $3`

	rows, err := r.DB.QueryContext(ctx, query, r.now().UTC().Add(-trendWindow), trendMinCount, trendLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: trending sectors: %v", remote.ErrUnavailable, err)
	}
	defer rows.Close()

	trends := []SectorTrend{}
	for rows.Next() {
		var (
			t        SectorTrend
			avg      sql.NullFloat64
			invested int
		)
		if err := rows.Scan(&t.Sector, &t.AnalysisCount, &avg, &invested); err != nil {
			return nil, fmt.Errorf("scan trending sectors: %w", err)
		}
		t.AvgScore = avg.Float64
		if t.AnalysisCount > 0 {
			t.InvestRate = float64(invested) / float64(t.AnalysisCount) * 100
		}
		t.Trend = "warm"
		if t.AnalysisCount > hotThreshold {
			t.Trend = "hot"
		}
		trends = append(trends, t)
	}
	return trends, rows.Err()
}
