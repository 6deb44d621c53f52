// Package influxdb mirrors published Sterbox readings into InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Every mapping the
// bridge publishes on MQTT can also be written here as one point of the
// "sterbox" measurement, tagged with the device name and topic.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteReadings("sterbox", "sterbox", map[string]any{"t1": 21.3})
//
// # Error Handling
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Write failures are delivered to the SetOnError callback;
// connection and health check errors are returned directly.
package influxdb
