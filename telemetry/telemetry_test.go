package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/maxpert/termlog/cfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticProvider struct {
	stats []PublicationStats
}

func (s *staticProvider) PublicationStats() []PublicationStats {
	return s.stats
}

func scrape(t *testing.T) string {
	t.Helper()
	handler := GetMetricsHandler()
	require.NotNil(t, handler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestNoopWhenDisabled(t *testing.T) {
	assert.Nil(t, registry)
	assert.Nil(t, GetMetricsHandler())

	// Nothing registered; all calls are no-ops
	OffersTotal.With("ok").Inc()
	PublicationPosition.With("ipc", "1").Set(10)
	PublicationPosition.Reset()
	OfferResults.Inc(ResultBackPressured)
	ClaimResults.Inc(-1)
	EndOfTermPadding.Inc()
	assert.Equal(t, NoopStat{}, NewCounter("unused_total", "unused"))
}

func TestMetricsExposed(t *testing.T) {
	original := *cfg.Config
	cfg.Config.ClientName = "metrics-test"
	cfg.Config.Prometheus.Enabled = true
	t.Cleanup(func() {
		*cfg.Config = original
		registry = nil
	})

	InitializeTelemetry()
	InitMetrics()

	OfferResults.Inc(ResultOK)
	OfferResults.Inc(ResultOK)
	OffersTotal.With("ok").Inc()
	ClaimResults.Inc(ResultBackPressured)
	ClaimResults.Inc(resultCount + 5)
	EndOfTermPadding.Inc()
	TermRotationsTotal.Inc()
	MessageLengthBytes.Observe(100)

	provider := &staticProvider{stats: []PublicationStats{
		{Channel: "ipc:orders", StreamID: 7, Position: 4096, Limit: 8192, Connected: true},
	}}
	collector := NewMetricsCollector(provider, time.Hour)
	collector.Start()
	collector.Stop()

	body := scrape(t)
	assert.Contains(t, body, `termlog_client_offers_total{client="metrics-test",result="ok"} 3`)
	assert.Contains(t, body, `termlog_client_claims_total{client="metrics-test",result="back_pressured"} 1`)
	assert.Contains(t, body, `termlog_client_term_rotations_total{client="metrics-test"} 1`)
	assert.Contains(t, body, `termlog_client_claims_total{client="metrics-test",result="unknown"} 1`)
	assert.Contains(t, body, `termlog_client_claims_total{client="metrics-test",result="ok"} 0`)
	assert.Contains(t, body, `termlog_client_padding_frames_total{client="metrics-test",reason="end_of_term"} 1`)
	assert.Contains(t, body, `termlog_client_publication_position{channel="ipc:orders",client="metrics-test",stream_id="7"} 4096`)
	assert.Contains(t, body, `termlog_client_publication_connected{channel="ipc:orders",client="metrics-test",stream_id="7"} 1`)
	assert.Contains(t, body, `termlog_client_active_publications{client="metrics-test"} 1`)

	// A released stream disappears on the next collection
	provider.stats = nil
	collector.collect()
	body = scrape(t)
	assert.NotContains(t, body, `stream_id="7"`)
	assert.Contains(t, body, `termlog_client_active_publications{client="metrics-test"} 0`)
}
