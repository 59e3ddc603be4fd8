package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// New registers against the global Prometheus registerer, so this package
// constructs it exactly once across the whole test binary run.
func TestMetricsLifecycle(t *testing.T) {
	m := New()
	require.NotNil(t, m)

	RegisterStorageRPCCode(1)

	m.ObserveStorageLatency("t1", 1, 0.01)  // registered code: recorded
	m.ObserveStorageLatency("t1", 99, 0.01) // unregistered code: silently dropped

	assert.True(t, isStorageRPCCode(1))
	assert.False(t, isStorageRPCCode(99))

	m.SetPrivateLogBytes("t1", "1.0", 4096)
	m.IncThrottleDelay("t1", "1.0", "read")
	m.IncThrottleReject("t1", "1.0", "write")
	m.IncDupDisabledWrite("t1", "1.0")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "partikv_replica_storage_request_latency_seconds")
	assert.Contains(t, body, "partikv_replica_private_log_bytes")
	assert.Contains(t, body, "partikv_replica_throttle_delay_total")
	assert.Contains(t, body, "partikv_replica_throttle_reject_total")
	assert.Contains(t, body, "partikv_replica_duplication_disabled_write_total")
}
