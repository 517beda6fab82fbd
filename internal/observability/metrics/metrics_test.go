package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ajna-keeper/keeperbot/internal/observability/metrics"
)

func TestKeeperIsASingleton(t *testing.T) {
	require.Same(t, metrics.Keeper(), metrics.Keeper())
}

func TestRecordErrorAndAlertDoNotPanic(t *testing.T) {
	r := metrics.Keeper()
	r.RecordAlert("critical")
	r.RecordError("wbtc-usdc", "kick")
	stop := r.Timer("take", "wbtc-usdc")
	stop()
}

func TestNilRegistryMethodsAreNoops(t *testing.T) {
	var r *metrics.Registry
	r.RecordAlert("info")
	r.RecordError("pool", "component")
	stop := r.Timer("settlement", "pool")
	stop()
}

func TestServerExposesMetricsEndpoint(t *testing.T) {
	metrics.Keeper().RecordAlert("info")

	srv := httptest.NewServer(metrics.Server())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
