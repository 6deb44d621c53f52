package sterbox

import "time"

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is polling and publishing normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge runs with a problem, see Reason.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting indicates the bridge is waiting for its first login.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is the retained report published on <name>/health.
type HealthMessage struct {
	// Bridge is the device name, also the topic root.
	Bridge string `json:"bridge"`

	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	// Reason explains a degraded status.
	Reason string `json:"reason,omitempty"`

	Device     DeviceStatus `json:"device"`
	Statistics Stats        `json:"statistics"`

	// SuppressedVariables lists variables past their fault retry window.
	SuppressedVariables []string `json:"suppressed_variables,omitempty"`
}

// DeviceStatus describes the device session.
type DeviceStatus struct {
	URL               string `json:"url"`
	Authenticated     bool   `json:"authenticated"`
	ConnectionRetries int    `json:"connection_retries"`
	SessionResets     uint64 `json:"session_resets"`
}

// NewHealthMessage creates a health report stamped with the current time.
func NewHealthMessage(bridge, version string, status HealthStatus, device DeviceStatus, stats Stats, suppressed []string, startTime time.Time) HealthMessage {
	return HealthMessage{
		Bridge:              bridge,
		Timestamp:           time.Now().UTC(),
		Status:              status,
		Version:             version,
		UptimeSeconds:       int64(time.Since(startTime).Seconds()),
		Device:              device,
		Statistics:          stats,
		SuppressedVariables: suppressed,
	}
}
