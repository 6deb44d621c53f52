package sterbox

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// publishedMessage is one captured publish.
type publishedMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// mockPublisher records publishes instead of sending them.
type mockPublisher struct {
	mu        sync.Mutex
	connected bool
	err       error
	messages  []publishedMessage
}

func newMockPublisher() *mockPublisher {
	return &mockPublisher{connected: true}
}

func (m *mockPublisher) PublishData(topic string, payload []byte) error {
	return m.Publish(topic, payload, 0, false)
}

func (m *mockPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, publishedMessage{topic: topic, payload: payload, qos: qos, retained: retained})
	return nil
}

func (m *mockPublisher) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockPublisher) setConnected(connected bool) {
	m.mu.Lock()
	m.connected = connected
	m.mu.Unlock()
}

// onTopic returns the messages published on topic, oldest first.
func (m *mockPublisher) onTopic(topic string) []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []publishedMessage
	for _, msg := range m.messages {
		if msg.topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

// testTopics is a TopicLayout rooted at "sterbox".
type testTopics struct{}

func (testTopics) Data() string                { return "sterbox" }
func (testTopics) Section(name string) string { return "sterbox/" + name }
func (testTopics) Health() string              { return "sterbox/health" }

// logEntry is one captured log call.
type logEntry struct {
	level string
	msg   string
	kv    []any
}

func (e logEntry) String() string {
	return fmt.Sprintf("%s %s %v", e.level, e.msg, e.kv)
}

// recordingLogger captures log calls for assertions.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) add(level, msg string, kv []any) {
	l.mu.Lock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, kv: kv})
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, kv ...any) { l.add("debug", msg, kv) }
func (l *recordingLogger) Info(msg string, kv ...any)  { l.add("info", msg, kv) }
func (l *recordingLogger) Warn(msg string, kv ...any)  { l.add("warn", msg, kv) }
func (l *recordingLogger) Error(msg string, kv ...any) { l.add("error", msg, kv) }

// messages returns every captured message containing substr.
func (l *recordingLogger) messages(substr string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.entries {
		if strings.Contains(e.msg, substr) {
			out = append(out, e.msg)
		}
	}
	return out
}

// text returns all captured entries as one string.
func (l *recordingLogger) text() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var b strings.Builder
	for _, e := range l.entries {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// fakeDevice is an httptest stand-in for a Sterbox controller.
type fakeDevice struct {
	*httptest.Server

	mu         sync.Mutex
	password   string
	authStatus int
	rootStatus int
	bodies     map[string]string
	statuses   map[string][]int
	requests   map[string]int
}

func newFakeDevice(t *testing.T, password string) *fakeDevice {
	t.Helper()
	d := &fakeDevice{
		password:   password,
		authStatus: http.StatusOK,
		rootStatus: http.StatusOK,
		bodies:     make(map[string]string),
		statuses:   make(map[string][]int),
		requests:   make(map[string]int),
	}
	d.Server = httptest.NewServer(http.HandlerFunc(d.serve))
	t.Cleanup(d.Close)
	return d
}

func (d *fakeDevice) serve(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")

	d.mu.Lock()
	d.requests[path]++
	status := http.StatusOK
	if queued := d.statuses[path]; len(queued) > 0 {
		status = queued[0]
		d.statuses[path] = queued[1:]
	}
	body, known := d.bodies[path]
	authStatus, rootStatus, password := d.authStatus, d.rootStatus, d.password
	d.mu.Unlock()

	switch {
	case path == authPath:
		if r.URL.Query().Get("q0") != password {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(authStatus)
	case path == "":
		w.WriteHeader(rootStatus)
	case !known:
		w.WriteHeader(http.StatusNotFound)
	default:
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}
}

// respond sets the body served for a query path.
func (d *fakeDevice) respond(path, body string) {
	d.mu.Lock()
	d.bodies[path] = body
	d.mu.Unlock()
}

// queueStatus makes the next requests to path answer with statuses in order.
func (d *fakeDevice) queueStatus(path string, statuses ...int) {
	d.mu.Lock()
	d.statuses[path] = append(d.statuses[path], statuses...)
	d.mu.Unlock()
}

func (d *fakeDevice) setAuthStatus(status int) {
	d.mu.Lock()
	d.authStatus = status
	d.mu.Unlock()
}

func (d *fakeDevice) setRootStatus(status int) {
	d.mu.Lock()
	d.rootStatus = status
	d.mu.Unlock()
}

func (d *fakeDevice) count(path string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests[path]
}

// newTestSession creates a session against url with fast retries and a
// sleep that returns immediately.
func newTestSession(t *testing.T, url, password string, logger Logger) *Session {
	t.Helper()
	s, err := NewSession(SessionConfig{
		URL:                  url,
		Password:             password,
		MaxConnectionRetries: 2,
		RetryBackoff:         time.Millisecond,
		RequestTimeout:       2 * time.Second,
	}, logger)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	s.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return s
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
