// Package report renders benchmark results as Markdown and JSON
// reports and computes the per-query summary statistics persisted to
// summary.json.
package report

import (
	"math"
	"sort"
	"time"

	"github.com/whhaicheng/benchforge/internal/domain/workload"
)

// QueryStats aggregates all measured runs of one query on one system.
// Failed runs count toward Failures and are excluded from the timing
// statistics.
type QueryStats struct {
	Query    string  `json:"query"`
	Runs     int     `json:"runs"`
	Failures int     `json:"failures"`
	MinMS    float64 `json:"min_ms"`
	MaxMS    float64 `json:"max_ms"`
	MeanMS   float64 `json:"mean_ms"`
	MedianMS float64 `json:"median_ms"`
}

// SystemSummary aggregates one system's workload.
type SystemSummary struct {
	System       string       `json:"system"`
	TotalRuns    int          `json:"total_runs"`
	Failures     int          `json:"failures"`
	TotalTimeMS  float64      `json:"total_time_ms"`
	GeomeanMS    float64      `json:"geomean_ms"`
	QueryResults []QueryStats `json:"queries"`
}

// Summary is the persisted summary.json model.
type Summary struct {
	RunID       string          `json:"run_id"`
	GeneratedAt time.Time       `json:"generated_at"`
	ScaleFactor int             `json:"scale_factor,omitempty"`
	Systems     []SystemSummary `json:"systems"`
}

// Summarize computes per-system, per-query statistics from raw result
// rows. Systems and queries are sorted by name for stable output.
func Summarize(runID string, scaleFactor int, results []workload.QueryResult) *Summary {
	type key struct{ system, query string }
	grouped := map[key][]workload.QueryResult{}
	systems := map[string]bool{}
	for _, r := range results {
		grouped[key{r.System, r.Query}] = append(grouped[key{r.System, r.Query}], r)
		systems[r.System] = true
	}

	summary := &Summary{
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
		ScaleFactor: scaleFactor,
		Systems:     []SystemSummary{},
	}

	systemNames := make([]string, 0, len(systems))
	for name := range systems {
		systemNames = append(systemNames, name)
	}
	sort.Strings(systemNames)

	for _, systemName := range systemNames {
		sys := SystemSummary{System: systemName, QueryResults: []QueryStats{}}

		queryNames := []string{}
		for k := range grouped {
			if k.system == systemName {
				queryNames = append(queryNames, k.query)
			}
		}
		sort.Strings(queryNames)

		geoSum := 0.0
		geoCount := 0
		for _, queryName := range queryNames {
			stats := summarizeQuery(queryName, grouped[key{systemName, queryName}])
			sys.TotalRuns += stats.Runs
			sys.Failures += stats.Failures
			sys.TotalTimeMS += stats.MeanMS * float64(stats.Runs-stats.Failures)
			if stats.MeanMS > 0 {
				geoSum += math.Log(stats.MeanMS)
				geoCount++
			}
			sys.QueryResults = append(sys.QueryResults, stats)
		}
		if geoCount > 0 {
			sys.GeomeanMS = math.Exp(geoSum / float64(geoCount))
		}
		summary.Systems = append(summary.Systems, sys)
	}
	return summary
}

// summarizeQuery computes stats over one query's runs.
func summarizeQuery(name string, runs []workload.QueryResult) QueryStats {
	stats := QueryStats{Query: name, Runs: len(runs)}

	elapsed := []float64{}
	for _, r := range runs {
		if !r.Success {
			stats.Failures++
			continue
		}
		elapsed = append(elapsed, r.ElapsedMS)
	}
	if len(elapsed) == 0 {
		return stats
	}

	sort.Float64s(elapsed)
	stats.MinMS = elapsed[0]
	stats.MaxMS = elapsed[len(elapsed)-1]

	sum := 0.0
	for _, e := range elapsed {
		sum += e
	}
	stats.MeanMS = sum / float64(len(elapsed))

	mid := len(elapsed) / 2
	if len(elapsed)%2 == 1 {
		stats.MedianMS = elapsed[mid]
	} else {
		stats.MedianMS = (elapsed[mid-1] + elapsed[mid]) / 2
	}
	return stats
}
