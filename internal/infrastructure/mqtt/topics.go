package mqtt

import "strings"

// Topic suffixes below the configured root (sterbox.name).
const (
	topicStatus = "status"
	topicHealth = "health"
)

// Topics builds the bridge's MQTT topics from the configured root.
//
//	topics := mqtt.NewTopics("sterbox")
//	topics.Data()          // "sterbox"
//	topics.Section("temp") // "sterbox/temp"
//	topics.Status()        // "sterbox/status"
type Topics struct {
	root string
}

// NewTopics returns the topic layout rooted at root. Trailing slashes are dropped.
func NewTopics(root string) Topics {
	return Topics{root: strings.TrimRight(root, "/")}
}

// Data returns the topic for combined reading payloads.
func (t Topics) Data() string {
	return t.root
}

// Section returns the topic for one section's readings (per-section cadence).
func (t Topics) Section(section string) string {
	return t.root + "/" + section
}

// Status returns the retained online/offline topic (also used for LWT).
func (t Topics) Status() string {
	return t.root + "/" + topicStatus
}

// Health returns the retained periodic health report topic.
func (t Topics) Health() string {
	return t.root + "/" + topicHealth
}
