package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	dto "github.com/prometheus/client_model/go"

	"github.com/queuelab/queuelab/agent/internal/config"
)

type promScraper struct {
	src    config.Source
	client *http.Client
}

// Scrape fetches the source's /metrics endpoint and reads the arrivals counter
// and the service-time distribution named in the source config.
func (s *promScraper) Scrape(ctx context.Context) (*ScrapeResult, error) {
	res := newResult(s.src)

	mfs, err := fetchMetrics(ctx, s.client, s.src.Endpoint)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Err = fmt.Errorf("scrape %q: %w", s.src.ID, err)
		slog.Warn("scraper: fetch failed", "source", s.src.ID, "err", err)
		return res, nil
	}

	arrivals, ok := mfs[s.src.ArrivalsMetric]
	if !ok {
		res.Err = fmt.Errorf("scrape %q: arrivals metric %q not found", s.src.ID, s.src.ArrivalsMetric)
		slog.Warn("scraper: arrivals metric missing", "source", s.src.ID, "metric", s.src.ArrivalsMetric)
		return res, nil
	}
	res.Arrivals = sumFamily(arrivals)

	sum, count, ok := serviceTotals(mfs, s.src.ServiceMetric)
	if !ok {
		res.Err = fmt.Errorf("scrape %q: service metric %q not found", s.src.ID, s.src.ServiceMetric)
		slog.Warn("scraper: service metric missing", "source", s.src.ID, "metric", s.src.ServiceMetric)
		return res, nil
	}
	res.ServiceSum = sum
	res.ServiceCount = count

	return res, nil
}

// serviceTotals reads name as a histogram or summary, falling back to
// separate <name>_sum and <name>_count families when the exposition carries
// no TYPE line for name.
func serviceTotals(mfs map[string]*dto.MetricFamily, name string) (sum, count float64, ok bool) {
	if sum, count, ok := sumDistribution(mfs[name]); ok {
		return sum, count, true
	}
	sumMF, hasSum := mfs[name+"_sum"]
	countMF, hasCount := mfs[name+"_count"]
	if !hasSum || !hasCount {
		return 0, 0, false
	}
	return sumFamily(sumMF), sumFamily(countMF), true
}
