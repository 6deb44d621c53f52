// Package sterbox bridges a Sterbox controller to MQTT.
//
// The controller is polled over authenticated HTTP. Each configured section
// is fetched with one request whose answer is a back-tick delimited list of
// values, decoded positionally against the section's variables. Decoded
// readings are published as a flat JSON object of variable name to number.
//
// Architecture:
//
//	┌──────────┐  GET q…   ┌─────────┐  Values  ┌──────────────┐  JSON  ┌──────┐
//	│ Sterbox  │◄──────────│ Session │─────────►│ PublishPolicy│───────►│ MQTT │
//	│ device   │──────────►│ Poller  │          │ (cadence)    │        └──────┘
//	└──────────┘  `v1`v2`  │ Decoder │          └──────┬───────┘
//	                       └─────────┘                 ├──► SQLite history (optional)
//	                                                   └──► InfluxDB mirror (optional)
//
// Recovery:
//   - A transport error runs a bounded connection check that replaces the
//     HTTP transport and logs in again; when that fails the poller waits
//     for authentication indefinitely.
//   - A non-200 answer to a data query sends the poller back to login.
//   - A value of "er" or a malformed number counts against that variable.
//     After MaxRetries consecutive faults the variable is skipped quietly
//     until it decodes again.
//
// Cadences:
//   - interleaved: poll continuously, publish the combined mapping once per interval
//   - batch: poll every section, publish once per round
//   - per_section: publish each section on <name>/<section> as it is decoded
package sterbox
