package messaging

import (
	"fmt"
	"time"
)

// HealthStatus is embedded in /readyz responses.
type HealthStatus struct {
	Connected bool          `json:"connected"`
	Latency   time.Duration `json:"latency_ms"`
	Error     string        `json:"error,omitempty"`
}

// CheckClientHealth probes conn. A nil connection is reported unhealthy.
func CheckClientHealth(conn Connection) HealthStatus {
	status := HealthStatus{}
	if conn == nil {
		status.Error = "client is nil"
		return status
	}

	status.Connected = conn.IsConnected()
	if !status.Connected {
		status.Error = "not connected to message broker"
		return status
	}

	rtt, err := conn.RTT()
	if err != nil {
		status.Error = fmt.Sprintf("health check failed: %v", err)
		return status
	}
	status.Latency = rtt / time.Millisecond
	return status
}
