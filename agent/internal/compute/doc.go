// Package compute turns raw scraper output into evaluated observations.
//
// The Engine keeps one baseline per source. For each later scrape it takes the
// deltas of the arrivals counter and the service-time sum and count, then
//
//	interarrival = elapsed minutes / Δarrivals
//	service      = (Δsum / Δcount) / 60     (seconds to minutes)
//
// and evaluates the M/M/c model with the source's server count. ρ below 0.8 is
// stable, up to 1 saturating, and an InstabilityError is unstable with ρ still
// reported. A first scrape, a window without traffic, or a failed scrape is
// unknown with the reason in Observation.Message. Failed scrapes do not move
// the baseline. A counter that goes backwards (process restart) counts as
// zero for that window.
//
// Engine.Process accepts an injectable time.Time so tests are deterministic.
package compute
