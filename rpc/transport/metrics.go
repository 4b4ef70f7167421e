package transport

import (
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// ObserveRequest records a handled server request of the named transport
func ObserveRequest(name string, shardId uint64, start time.Time, reqBytes, respBytes int) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`tkv_rpc_requests_total{transport=%q,shard="%d"}`, name, shardId)).Inc()
	metrics.GetOrCreateCounter(fmt.Sprintf(`tkv_rpc_received_bytes_total{transport=%q}`, name)).Add(reqBytes)
	metrics.GetOrCreateCounter(fmt.Sprintf(`tkv_rpc_sent_bytes_total{transport=%q}`, name)).Add(respBytes)
	metrics.GetOrCreateHistogram(fmt.Sprintf(`tkv_rpc_request_duration_seconds{transport=%q}`, name)).UpdateDuration(start)
}

// ObserveError counts a failed request or connection of the named transport
func ObserveError(name, reason string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`tkv_rpc_errors_total{transport=%q,reason=%q}`, name, reason)).Inc()
}

// ObserveRetry counts a client side retry of the named transport
func ObserveRetry(name string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`tkv_rpc_client_retries_total{transport=%q}`, name)).Inc()
}
