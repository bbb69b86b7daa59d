// Package api implements the queuelab REST API on a gorilla/mux router.
//
// Endpoints:
//
//	GET  /api/v1/evaluate      evaluate query parameters (format=prometheus for text)
//	POST /api/v1/evaluate      evaluate a JSON or url-encoded body
//	POST /api/v1/observations  agent ingest, API key protected
//	GET  /api/v1/sources       all live sources with diagnostic hints
//	GET  /api/v1/sources/{id}  one live source
//	GET  /api/v1/health        state counts and the worst utilization
//	GET  /api/v1/alerts        firing and recently resolved alerts
//	GET  /api/v1/snapshot      sources and health in one document
//
// Validation errors answer 400, instability 422 with the offending ρ. Every
// response body is JSON except the Prometheus text format.
package api
