// Package geo enriches submissions with the location of their IP address
// using an ipstack-compatible lookup API.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/contact-form/internal/contact"
	"github.com/JakeFAU/contact-form/internal/metrics"
)

// Enrichment results reported to metrics.
const (
	ResultDisabled = "disabled"
	ResultSkipped  = "skipped"
	ResultOK       = "ok"
	ResultFailed   = "failed"
)

const maxResponseBytes = 1 << 20

// Config controls the lookup. An empty APIKey disables enrichment.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Enricher looks up submitter locations.
type Enricher struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds an Enricher. A nil client gets one with cfg.Timeout.
func New(cfg Config, client *http.Client, logger *zap.Logger) *Enricher {
	metrics.Init()
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Enricher{cfg: cfg, client: client, logger: logger}
}

// Enabled reports whether lookups will be attempted.
func (e *Enricher) Enabled() bool {
	return e.cfg.APIKey != ""
}

// response is the subset of the ipstack payload we read. Success is only
// present (and false) on API-level errors.
type response struct {
	Success       *bool  `json:"success"`
	ContinentName string `json:"continent_name"`
	CountryName   string `json:"country_name"`
	CountryCode   string `json:"country_code"`
	RegionName    string `json:"region_name"`
	City          string `json:"city"`
	Error         *struct {
		Code int    `json:"code"`
		Type string `json:"type"`
		Info string `json:"info"`
	} `json:"error"`
}

// Enrich returns sub with location fields filled in. It never fails: when
// enrichment is disabled, the IP is unknown, or the lookup fails, sub is
// returned unchanged and the failure is logged.
func (e *Enricher) Enrich(ctx context.Context, sub contact.Submission) contact.Submission {
	if !e.Enabled() {
		metrics.ObserveEnrichment(ResultDisabled)
		return sub
	}
	if !sub.IPAddress.Valid {
		metrics.ObserveEnrichment(ResultSkipped)
		return sub
	}

	geo, err := e.lookup(ctx, sub.IPAddress.String)
	if err != nil {
		metrics.ObserveEnrichment(ResultFailed)
		e.logger.Warn("geolocation lookup failed",
			zap.String("ip_address", sub.IPAddress.String),
			zap.Error(err),
		)
		return sub
	}
	metrics.ObserveEnrichment(ResultOK)
	return sub.WithGeo(geo)
}

func (e *Enricher) lookup(ctx context.Context, ip string) (contact.Geo, error) {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	endpoint := fmt.Sprintf("%s/%s?%s", e.cfg.BaseURL, url.PathEscape(ip), url.Values{"access_key": {e.cfg.APIKey}}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return contact.Geo{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		// The URL carries the access key; drop it from the error.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return contact.Geo{}, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // body fully consumed below

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return contact.Geo{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return contact.Geo{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var payload response
	if err := json.Unmarshal(body, &payload); err != nil {
		return contact.Geo{}, fmt.Errorf("decode response: %w", err)
	}
	if payload.Success != nil && !*payload.Success {
		if payload.Error != nil {
			return contact.Geo{}, fmt.Errorf("api error %d (%s): %s", payload.Error.Code, payload.Error.Type, payload.Error.Info)
		}
		return contact.Geo{}, fmt.Errorf("api reported failure")
	}

	return contact.Geo{
		Continent:   payload.ContinentName,
		Country:     payload.CountryName,
		CountryCode: payload.CountryCode,
		RegionName:  payload.RegionName,
		City:        payload.City,
	}, nil
}
