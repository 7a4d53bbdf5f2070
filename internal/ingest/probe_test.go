package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeReadsStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"APEX Online","signals":3}`))
	}))
	defer server.Close()

	p := NewProber(server.URL+"/", zerolog.Nop())
	status, err := p.Probe(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "APEX Online", status.Status)
	assert.Equal(t, 3, status.Signals)
}

func TestProbeRetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p := NewProber(server.URL, zerolog.Nop())
	p.client.RetryMax = 1
	p.client.RetryWaitMin = 0
	p.client.RetryWaitMax = 0

	_, err := p.Probe(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestProbeBadBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer server.Close()

	p := NewProber(server.URL, zerolog.Nop())
	_, err := p.Probe(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")

	// LogStatus swallows the failure
	_, ok := p.LogStatus(context.Background())
	assert.False(t, ok)
}

func TestNewProberDefaultURL(t *testing.T) {
	p := NewProber("", zerolog.Nop())
	assert.Equal(t, DefaultProducerURL, p.baseURL)
}
