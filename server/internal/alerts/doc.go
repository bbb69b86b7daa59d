// Package alerts evaluates threshold rules against source observations and
// notifies Slack, Teams or generic HTTP webhooks when a rule fires or
// resolves.
//
// A rule condition is "field op value". Numeric fields are rho, pw, lq, wq,
// w, l, p0, interarrival_time and service_time; the queue metrics are only
// present while the source has a steady state. The state field compares with
// == or != against stable, saturating, unstable or unknown.
package alerts
