package remote

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/prometheus/common/expfmt"
)

// remoteMetrics holds the counters this package maintains for materialization.
type remoteMetrics struct {
	downloadErrorCounter prometheus.Counter
}

func newRemoteMetrics() *remoteMetrics {
	// Note: this is created per Client, but doesn't reset the counter on
	// the aggregation gateway.
	downloadErrorCounter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "output_download_error",
		Help: "Number of output downloads that failed during materialization",
	})

	return &remoteMetrics{
		downloadErrorCounter: downloadErrorCounter,
	}
}

// downloadErrorCounterInc does nothing unless a gateway URL is configured;
// when one is, it bumps the failure counter and pushes it immediately rather
// than waiting for a scrape.
func (c *Client) downloadErrorCounterInc() {
	if c.Config.PrometheusGatewayURL == "" {
		log.Debug("no Prometheus pushgateway URL configured, skipping push")
		return
	}
	c.metrics.downloadErrorCounter.Inc()
	if err := push.New(
		c.Config.PrometheusGatewayURL, "output_download_error",
	).Collector(c.metrics.downloadErrorCounter).Format(expfmt.FmtText).Push(); err != nil {
		log.Warning("error pushing to Prometheus pushgateway: %s", err)
	}
}
