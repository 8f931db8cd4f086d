package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveProcess("SWAP", "DONE")
		c.ObserveStep("swap", "DONE")
		c.ObserveRoute("done")
		c.RouteStarted()
		c.RouteStopped()
		c.ObserveWait("ReceiverTransactionPrepared", "ok", time.Second)
		c.ObserveChainSwitch("immediate", "ok")
		c.ObserveQuote("nxtp", "ok")
	})
}

func TestCollectorCounts(t *testing.T) {
	c := NewCollector("xroute")

	c.ObserveProcess("SWAP", "DONE")
	c.ObserveProcess("SWAP", "DONE")
	c.ObserveQuote("nxtp", "stale")
	c.RouteStarted()
	c.RouteStarted()
	c.RouteStopped()

	assert.Equal(t, float64(2), testutil.ToFloat64(c.processTransitions.WithLabelValues("SWAP", "DONE")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.quotes.WithLabelValues("nxtp", "stale")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.activeRoutes))
}

func TestHandlerServesMetrics(t *testing.T) {
	c := NewCollector("xroute")
	c.ObserveRoute("done")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `xroute_routes_total{result="done"} 1`)
}
