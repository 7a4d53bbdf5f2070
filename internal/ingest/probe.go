package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

const (
	// DefaultProducerURL is the producer's HTTP root
	DefaultProducerURL = "http://localhost:8000"
	// ProbeTimeout bounds a single probe request
	ProbeTimeout = 5 * time.Second
)

// ProducerStatus is the body of the producer's root endpoint.
type ProducerStatus struct {
	Status  string `json:"status"`
	Signals int    `json:"signals"`
}

// Prober performs diagnostic status checks against the producer's HTTP API.
// It never touches client state.
type Prober struct {
	baseURL string
	client  *retryablehttp.Client
	log     zerolog.Logger
}

// NewProber creates a Prober for baseURL.
func NewProber(baseURL string, logger zerolog.Logger) *Prober {
	if baseURL == "" {
		baseURL = DefaultProducerURL
	}

	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 3 * time.Second
	c.HTTPClient.Timeout = ProbeTimeout
	c.Logger = nil

	return &Prober{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  c,
		log:     logger,
	}
}

// Probe fetches the producer status.
func (p *Prober) Probe(ctx context.Context) (ProducerStatus, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/", nil)
	if err != nil {
		return ProducerStatus{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return ProducerStatus{}, fmt.Errorf("failed to reach producer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ProducerStatus{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var status ProducerStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return ProducerStatus{}, fmt.Errorf("failed to decode producer status: %w", err)
	}

	return status, nil
}

// LogStatus probes once and logs the outcome. Failures are only logged.
func (p *Prober) LogStatus(ctx context.Context) (ProducerStatus, bool) {
	status, err := p.Probe(ctx)
	if err != nil {
		p.log.Warn().Err(err).Str("url", p.baseURL).Msg("producer_probe_failed")
		return ProducerStatus{}, false
	}
	p.log.Info().
		Str("url", p.baseURL).
		Str("status", status.Status).
		Int("signals", status.Signals).
		Msg("producer_online")
	return status, true
}
