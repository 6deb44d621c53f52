package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// readingsMeasurement is the measurement every published mapping is stored under.
const readingsMeasurement = "sterbox"

// WriteReadings writes one published mapping as a single point.
//
// The point is tagged with the device name and the MQTT topic the mapping
// was published on, and carries one field per variable. Integer readings
// should be passed as int64 so the field type stays stable across writes.
//
// Example:
//
//	client.WriteReadings("sterbox", "sterbox/temp",
//	    map[string]any{"t1": 21.3, "pulses": int64(12)})
func (c *Client) WriteReadings(device, topic string, fields map[string]any) {
	if len(fields) == 0 {
		return
	}
	c.WritePointWithTime(readingsMeasurement, map[string]string{
		"device": device,
		"topic":  topic,
	}, fields, time.Now())
}

// WritePointWithTime writes a point with explicit tags, fields and timestamp.
// Dropped silently when the client is closed.
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Indexed key-value pairs (device, topic)
//   - fields: One value per variable; float64 or int64
//   - timestamp: When the readings were decoded
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
