package sterbox

import (
	"context"
	"time"
)

// historyTimeout bounds one history insert so a slow disk cannot stall polling.
const historyTimeout = 2 * time.Second

// Publisher sends payloads to the message bus.
// *mqtt.Client implements it.
type Publisher interface {
	// PublishData publishes with the configured data QoS and retain flag.
	PublishData(topic string, payload []byte) error

	// Publish publishes with explicit QoS and retain flag.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	IsConnected() bool
}

// TopicLayout names the topics the bridge publishes on.
// mqtt.Topics implements it.
type TopicLayout interface {
	Data() string
	Section(name string) string
	Health() string
}

// HistoryStore keeps a local record of published payloads.
// *history.Repository implements it.
type HistoryStore interface {
	Record(ctx context.Context, topic string, payload []byte) error
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// MetricsWriter mirrors published readings into a time-series store.
// *influxdb.Client implements it.
type MetricsWriter interface {
	WriteReadings(device, topic string, fields map[string]any)
}

// sink delivers one decoded mapping to every configured destination.
//
// MQTT is the primary destination. History and metrics are optional and
// their failures never affect the publish result.
type sink struct {
	device    string
	publisher Publisher
	history   HistoryStore
	metrics   MetricsWriter
	logger    Logger
	stats     *counters
}

// publish sends values on topic. Empty mappings are never published.
func (s *sink) publish(ctx context.Context, topic string, values Values) {
	if len(values) == 0 {
		return
	}

	payload, err := values.JSON()
	if err != nil {
		s.logger.Error("encoding readings failed", "topic", topic, "error", err)
		return
	}

	if err := s.publisher.PublishData(topic, payload); err != nil {
		s.stats.publishErrors.Add(1)
		s.logger.Warn("publishing readings failed", "topic", topic, "error", err)
	} else {
		s.stats.publishes.Add(1)
		s.logger.Debug("published readings", "topic", topic, "payload", string(payload))
	}

	if s.history != nil {
		recordCtx, cancel := context.WithTimeout(ctx, historyTimeout)
		if err := s.history.Record(recordCtx, topic, payload); err != nil && ctx.Err() == nil {
			s.logger.Warn("recording reading history failed", "topic", topic, "error", err)
		}
		cancel()
	}

	if s.metrics != nil {
		s.metrics.WriteReadings(s.device, topic, values.Fields())
	}
}
