package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/queuelab/queuelab/agent/internal/config"
	"github.com/queuelab/queuelab/agent/internal/security"
)

const defaultScrapeTimeout = 10 * time.Second

// ScrapeResult is the raw output of one scrape of a single source.
// Counter fields hold totals, not rates. The compute engine keeps the previous
// result and derives interarrival and service times from the delta.
type ScrapeResult struct {
	SourceID  string
	Endpoint  string
	Servers   int
	ScrapedAt time.Time

	// Arrivals is the summed value of the arrivals counter family.
	Arrivals float64

	// ServiceSum and ServiceCount are the summed _sum (seconds) and _count of
	// the service-time histogram or summary.
	ServiceSum   float64
	ServiceCount float64

	// Err is non-nil if the scrape itself failed (connectivity, auth, parse,
	// missing metric). The compute engine reports such a source as unknown.
	Err error
}

// Scraper is implemented by every source scraper.
type Scraper interface {
	// Scrape always returns a result; scrape failures are carried in
	// ScrapeResult.Err. The error return is non-nil only when ctx is done.
	Scrape(ctx context.Context) (*ScrapeResult, error)
}

// New returns a Scraper for the given source configuration.
// It builds the HTTP client once and reuses it across scrape calls.
func New(src config.Source) (Scraper, error) {
	client, err := security.NewClient(src.Auth, src.TLS, defaultScrapeTimeout)
	if err != nil {
		return nil, fmt.Errorf("scraper %q: build http client: %w", src.ID, err)
	}
	return &promScraper{src: src, client: client}, nil
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition from r into metric families.
// A partial result with a non-fatal parse warning is still returned successfully.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// sumFamily adds up all counter, gauge, or untyped values in a MetricFamily.
// Returns 0 if mf is nil (metric not present in the scrape).
func sumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		}
	}
	return total
}

// sumDistribution adds up the sample sum and count of every histogram or
// summary series in mf.
func sumDistribution(mf *dto.MetricFamily) (sum, count float64, ok bool) {
	if mf == nil {
		return 0, 0, false
	}
	for _, m := range mf.GetMetric() {
		switch {
		case m.Histogram != nil:
			sum += m.Histogram.GetSampleSum()
			count += float64(m.Histogram.GetSampleCount())
			ok = true
		case m.Summary != nil:
			sum += m.Summary.GetSampleSum()
			count += float64(m.Summary.GetSampleCount())
			ok = true
		}
	}
	return sum, count, ok
}

// newResult initialises an empty ScrapeResult for src.
func newResult(src config.Source) *ScrapeResult {
	return &ScrapeResult{
		SourceID:  src.ID,
		Endpoint:  src.Endpoint,
		Servers:   src.Servers,
		ScrapedAt: time.Now().UTC(),
	}
}
