// Package mqtt provides the MQTT publish sink for the Sterbox bridge.
//
// This package manages:
//   - Connection to the broker with autonomous auto-reconnect
//   - Message publishing with QoS and retain settings from config
//   - Last Will and Testament (LWT) on the status topic
//   - Connection health monitoring
//
// # Topics
//
// All topics hang off sterbox.name:
//
//	<name>            combined readings (interleaved and batch cadences)
//	<name>/<section>  per-section readings (per_section cadence)
//	<name>/status     retained online/offline, LWT
//	<name>/health     retained health report
//
// # Delivery
//
// Delivery semantics are the broker's business. Publish waits for the
// client token with a bounded timeout and returns an error the caller
// logs; nothing is buffered or retried by the bridge.
//
// # Usage
//
//	topics := mqtt.NewTopics(cfg.Sterbox.Name)
//	client, err := mqtt.Connect(cfg.MQTT, topics)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.PublishData(topics.Data(), []byte(`{"t1":21.3}`))
package mqtt
