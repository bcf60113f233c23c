// Package api hosts the HTTP server and middleware of the contact-form
// service. Routes:
//   - GET|POST|OPTIONS /contact_form_jwt issues IP-bound bearer tokens.
//   - PUT|POST|OPTIONS /contact_form_put runs a submission through the pipeline.
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//
// Both public routes answer with CORS headers that echo the caller's Origin.
package api
