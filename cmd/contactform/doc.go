// Package main hosts the contact-form service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes the token endpoint (/contact_form_jwt), the submission endpoint
//     (/contact_form_put), health probes and /metrics. Both public endpoints answer with CORS headers echoing Origin.
//   - Tokens: internal/auth signs HS256 JWTs carrying the caller IP. A submission may omit the token; a token that is
//     present must verify and match the caller IP.
//   - Pipeline: internal/pipeline validates the token, extracts the fifteen contact fields, enriches the submission
//     with ipstack geolocation when an API key is set, appends it to the snapshot, publishes an event and mails the
//     operator. Every step is synchronous within the request.
//   - Persistence: internal/store downloads the SQLite snapshot from the configured BlobStore (memory/local/GCS/S3),
//     inserts one row and uploads it conditioned on the version it downloaded. A concurrent writer yields 409.
//   - Configuration & plumbing: Viper populates config from YAML, CONTACTFORM_* env vars and the legacy variable names
//     (JWT_SECRET, IP_STACK_API_KEY, GCS_BUCKET, GCS_PATH_PREFIX, SMTP_*); zap provides structured logging;
//     Prometheus counters track requests, submissions, enrichment, notifications and snapshot conflicts.
//
// Quick checklist:
//   - Configure env vars: CONTACTFORM_AUTH_JWT_SECRET (or JWT_SECRET), GCS_BUCKET/GCS_PATH_PREFIX (the gcs backend is
//     the default; set CONTACTFORM_STORAGE_BACKEND=memory for local runs), SMTP_* for operator mail, IP_STACK_API_KEY
//     for geolocation.
//   - Run locally: go run ./cmd/contactform serve --config config.yaml
//   - Inspect stored rows: go run ./cmd/contactform contacts list --limit 5
//   - Cloud Run: the server listens on PORT, keeps no state between requests and drains on SIGTERM.
package main
