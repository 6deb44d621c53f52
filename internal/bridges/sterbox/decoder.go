package sterbox

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const (
	// MaxRetries is how many consecutive faults a variable may report before
	// it is logged as skipped rather than retried.
	MaxRetries = 3

	// errorSentinel is the token the device sends for a failed reading.
	errorSentinel = "er"

	// tokenDelimiter separates values in a device response.
	tokenDelimiter = "`"
)

var (
	errNonFinite = errors.New("value is not finite")
	errHexNumber = errors.New("hexadecimal values are not decimal readings")
)

// ErrorTracker counts consecutive faults per variable.
//
// A count is reset by one good reading. Counts above the retry window keep
// growing, so suppression is stable until the variable recovers.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type ErrorTracker struct {
	mu         sync.Mutex
	maxRetries int
	counts     map[string]int
}

// NewErrorTracker creates a tracker with every named variable at zero.
func NewErrorTracker(maxRetries int, names ...string) *ErrorTracker {
	t := &ErrorTracker{
		maxRetries: maxRetries,
		counts:     make(map[string]int, len(names)),
	}
	for _, name := range names {
		t.counts[name] = 0
	}
	return t
}

// Fail records one fault and returns the new consecutive count.
func (t *ErrorTracker) Fail(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[name]++
	return t.counts[name]
}

// Reset clears the count after a good reading.
func (t *ErrorTracker) Reset(name string) {
	t.mu.Lock()
	t.counts[name] = 0
	t.mu.Unlock()
}

// Count returns the current consecutive fault count.
func (t *ErrorTracker) Count(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[name]
}

// MaxRetries returns the size of the soft retry window.
func (t *ErrorTracker) MaxRetries() int {
	return t.maxRetries
}

// Suppressed returns the sorted names of variables past the retry window.
func (t *ErrorTracker) Suppressed() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var names []string
	for name, count := range t.counts {
		if count > t.maxRetries {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Decoder turns raw device responses into Values.
type Decoder struct {
	tracker *ErrorTracker
	logger  Logger
}

// NewDecoder creates a decoder that records faults in tracker.
func NewDecoder(tracker *ErrorTracker, logger Logger) *Decoder {
	return &Decoder{tracker: tracker, logger: logger}
}

// Tracker returns the decoder's error tracker.
func (d *Decoder) Tracker() *ErrorTracker {
	return d.tracker
}

// ParseResponse decodes a response positionally against variables.
//
// The body is trimmed of whitespace, then of back-ticks at both ends, and
// split on back-ticks; the Nth token belongs to the Nth variable.
//
// Returns:
//   - Values: The decoded variables, nil when none decoded
//   - error: ErrProtocolMismatch when the token count differs from the
//     variable count; nothing is decoded in that case
func (d *Decoder) ParseResponse(raw string, variables []Variable) (Values, error) {
	body := strings.Trim(strings.TrimSpace(raw), tokenDelimiter)
	tokens := strings.Split(body, tokenDelimiter)

	if len(tokens) != len(variables) {
		d.logger.Warn("response does not match section layout",
			"tokens", len(tokens),
			"variables", len(variables),
			"response", raw,
		)
		return nil, fmt.Errorf("%w: got %d values for %d variables", ErrProtocolMismatch, len(tokens), len(variables))
	}

	values := make(Values, len(variables))
	for i, v := range variables {
		value, err := d.ProcessValue(tokens[i], v)
		if err != nil {
			continue
		}
		values[v.Name] = value
	}

	if len(values) == 0 {
		return nil, nil
	}
	return values, nil
}

// ProcessValue decodes one token for variable v and updates its fault count.
//
// Returns:
//   - Value: The decoded reading when err is nil
//   - error: A *ValueFaultError for the error sentinel or a malformed number
func (d *Decoder) ProcessValue(token string, v Variable) (Value, error) {
	token = strings.TrimSpace(token)

	if token == errorSentinel {
		return Value{}, d.fault(v.Name, token, nil)
	}

	// ParseFloat also takes Go's hex float syntax ("0x1p4").
	digits := strings.TrimLeft(token, "+-")
	if strings.HasPrefix(digits, "0x") || strings.HasPrefix(digits, "0X") {
		return Value{}, d.fault(v.Name, token, errHexNumber)
	}

	number, err := strconv.ParseFloat(strings.ReplaceAll(token, ",", "."), 64)
	if err == nil && (math.IsNaN(number) || math.IsInf(number, 0)) {
		err = errNonFinite
	}
	if err != nil {
		return Value{}, d.fault(v.Name, token, err)
	}

	value := Value{Number: number}
	if v.Integer() {
		value = Value{Number: math.Trunc(number), Integer: true}
	}

	d.tracker.Reset(v.Name)
	return value, nil
}

// fault records a failed reading and logs it.
func (d *Decoder) fault(name, token string, cause error) error {
	fault := &ValueFaultError{
		Variable:   name,
		Token:      token,
		Attempt:    d.tracker.Fail(name),
		MaxRetries: d.tracker.MaxRetries(),
		Cause:      cause,
	}

	if fault.Suppressed() {
		d.logger.Debug("skipping variable after repeated faults",
			"variable", name,
			"failures", fault.Attempt,
		)
		return fault
	}

	d.logger.Debug(fmt.Sprintf("value fault, attempt %d of %d", fault.Attempt, fault.MaxRetries),
		"variable", name,
		"value", token,
	)
	return fault
}
