// Package scraper polls a service's Prometheus metrics endpoint and returns a
// ScrapeResult holding the raw arrivals counter and the service-time sum and
// count. The compute engine turns consecutive results into M/M/c inputs.
//
// The service-time metric may be a histogram, a summary, or a plain pair of
// <name>_sum / <name>_count counters. Values are summed across label sets.
//
// Authentication (mTLS, API key, bearer token, basic) is handled by the
// client from security.NewClient; New builds it once per source.
package scraper
