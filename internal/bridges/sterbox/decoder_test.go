package sterbox

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func tempSection() Section {
	return NewSection("temp", []Variable{
		{Name: "t1", Query: "q1"},
		{Name: "t2", Query: "q2@gcd"},
	})
}

func newTestDecoder(sections ...Section) (*Decoder, *recordingLogger) {
	logger := &recordingLogger{}
	return NewDecoder(NewErrorTracker(MaxRetries, variableNames(sections)...), logger), logger
}

func TestNewSection(t *testing.T) {
	s := tempSection()

	if s.Query != "q1q2@gcd" {
		t.Errorf("Query = %q, want q1q2@gcd", s.Query)
	}
	if s.Variables[0].Integer() {
		t.Error("t1 should not be integer")
	}
	if !s.Variables[1].Integer() {
		t.Error("t2 should be integer")
	}
}

func TestParseResponse(t *testing.T) {
	section := NewSection("mixed", []Variable{
		{Name: "a", Query: "qa"},
		{Name: "b", Query: "qb"},
		{Name: "c", Query: "qc@gcd"},
	})

	tests := []struct {
		name    string
		raw     string
		want    Values
		wantErr error
	}{
		{
			name: "wrapped",
			raw:  "`1.5`2`3`",
			want: Values{"a": {Number: 1.5}, "b": {Number: 2}, "c": {Number: 3, Integer: true}},
		},
		{
			name: "unwrapped with whitespace",
			raw:  "  1.5` 2 `3\r\n",
			want: Values{"a": {Number: 1.5}, "b": {Number: 2}, "c": {Number: 3, Integer: true}},
		},
		{
			name: "decimal comma",
			raw:  "`21,5`-0,25`7,9`",
			want: Values{"a": {Number: 21.5}, "b": {Number: -0.25}, "c": {Number: 7, Integer: true}},
		},
		{
			name: "error sentinel omitted",
			raw:  "`er`2`er`",
			want: Values{"b": {Number: 2}},
		},
		{
			name: "malformed omitted",
			raw:  "`abc`2`1..2`",
			want: Values{"b": {Number: 2}},
		},
		{
			name: "all faulted",
			raw:  "`er`er`er`",
			want: nil,
		},
		{
			name:    "too few tokens",
			raw:     "`1`2`",
			wantErr: ErrProtocolMismatch,
		},
		{
			name:    "too many tokens",
			raw:     "`1`2`3`4`",
			wantErr: ErrProtocolMismatch,
		},
		{
			name:    "empty body",
			raw:     "",
			wantErr: ErrProtocolMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoder, _ := newTestDecoder(section)

			got, err := decoder.ParseResponse(tt.raw, section.Variables)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseResponse() error = %v, want %v", err, tt.wantErr)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseResponse() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseResponse_MismatchDecodesNothing(t *testing.T) {
	section := tempSection()
	decoder, logger := newTestDecoder(section)

	got, err := decoder.ParseResponse("`er`", section.Variables)
	if !errors.Is(err, ErrProtocolMismatch) || got != nil {
		t.Fatalf("ParseResponse() = %v, %v; want nil, ErrProtocolMismatch", got, err)
	}
	// No token was processed, so no counter moved.
	if n := decoder.Tracker().Count("t1"); n != 0 {
		t.Errorf("t1 count = %d, want 0", n)
	}
	if len(logger.messages("does not match")) != 1 {
		t.Errorf("expected one mismatch warning, log:\n%s", logger.text())
	}
}

func TestParseResponse_PermutationInvariant(t *testing.T) {
	vars := []Variable{
		{Name: "a", Query: "qa"},
		{Name: "b", Query: "qb@gcd"},
		{Name: "c", Query: "qc"},
	}
	tokens := map[string]string{"a": "1,25", "b": "7.8", "c": "er"}

	orders := [][]int{{0, 1, 2}, {2, 1, 0}, {1, 0, 2}, {1, 2, 0}}

	var first Values
	for _, order := range orders {
		permuted := make([]Variable, len(order))
		parts := make([]string, len(order))
		for i, idx := range order {
			permuted[i] = vars[idx]
			parts[i] = tokens[vars[idx].Name]
		}
		raw := "`" + strings.Join(parts, "`") + "`"

		section := NewSection("s", permuted)
		decoder, _ := newTestDecoder(section)
		got, err := decoder.ParseResponse(raw, section.Variables)
		if err != nil {
			t.Fatalf("ParseResponse(%q) error = %v", raw, err)
		}

		if first == nil {
			first = got
			continue
		}
		if !reflect.DeepEqual(got, first) {
			t.Errorf("order %v gave %v, want %v", order, got, first)
		}
	}

	if _, ok := first["c"]; ok {
		t.Error("error sentinel variable present in mapping")
	}
}

func TestProcessValue_Integer(t *testing.T) {
	decoder, _ := newTestDecoder()
	v := Variable{Name: "pulses", Query: "q9@gcd"}

	tests := []struct {
		token string
		want  float64
	}{
		{"12.7", 12},
		{"12,7", 12},
		{"-3.9", -3},
		{"42", 42},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, err := decoder.ProcessValue(tt.token, v)
			if err != nil {
				t.Fatalf("ProcessValue() error = %v", err)
			}
			if !got.Integer || got.Number != tt.want {
				t.Errorf("ProcessValue(%q) = %+v, want integer %v", tt.token, got, tt.want)
			}
		})
	}

	payload, err := Values{"pulses": {Number: 12, Integer: true}}.JSON()
	if err != nil {
		t.Fatalf("JSON() error = %v", err)
	}
	if string(payload) != `{"pulses":12}` {
		t.Errorf("JSON() = %s, want {\"pulses\":12}", payload)
	}
}

func TestProcessValue_CommaEqualsPoint(t *testing.T) {
	decoder, _ := newTestDecoder()
	v := Variable{Name: "t1", Query: "q1"}

	comma, err := decoder.ProcessValue("21,5", v)
	if err != nil {
		t.Fatalf("ProcessValue(21,5) error = %v", err)
	}
	point, err := decoder.ProcessValue("21.5", v)
	if err != nil {
		t.Fatalf("ProcessValue(21.5) error = %v", err)
	}
	if comma != point {
		t.Errorf("21,5 = %+v, 21.5 = %+v", comma, point)
	}
}

func TestProcessValue_Faults(t *testing.T) {
	tests := []struct {
		token     string
		wantCause bool
	}{
		{"er", false},
		{" er ", false},
		{"", true},
		{"1.2.3", true},
		{"NaN", true},
		{"Inf", true},
		{"-infinity", true},
		{"0x1p4", true},
		{"-0X1p-2", true},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			decoder, _ := newTestDecoder()
			_, err := decoder.ProcessValue(tt.token, Variable{Name: "x", Query: "qx"})

			var fault *ValueFaultError
			if !errors.As(err, &fault) {
				t.Fatalf("ProcessValue(%q) error = %v, want *ValueFaultError", tt.token, err)
			}
			if !errors.Is(err, ErrValueFault) {
				t.Error("fault does not match ErrValueFault")
			}
			if (fault.Cause != nil) != tt.wantCause {
				t.Errorf("Cause = %v, wantCause %v", fault.Cause, tt.wantCause)
			}
			if fault.Attempt != 1 {
				t.Errorf("Attempt = %d, want 1", fault.Attempt)
			}
		})
	}
}

func TestErrorTracker_ResetAfterGoodReading(t *testing.T) {
	decoder, logger := newTestDecoder()
	v := Variable{Name: "t2", Query: "q2"}

	for i := 0; i < 5; i++ {
		if _, err := decoder.ProcessValue("er", v); err == nil {
			t.Fatal("expected fault")
		}
	}
	if _, err := decoder.ProcessValue("19.0", v); err != nil {
		t.Fatalf("good reading error = %v", err)
	}
	if n := decoder.Tracker().Count("t2"); n != 0 {
		t.Errorf("count after good reading = %d, want 0", n)
	}

	_, err := decoder.ProcessValue("er", v)
	var fault *ValueFaultError
	if !errors.As(err, &fault) {
		t.Fatalf("error = %v, want *ValueFaultError", err)
	}
	if fault.Attempt != 1 || fault.Suppressed() {
		t.Errorf("fault after recovery = attempt %d (suppressed %v), want attempt 1", fault.Attempt, fault.Suppressed())
	}

	attempts := logger.messages("attempt 1 of 3")
	if len(attempts) != 2 {
		t.Errorf("\"attempt 1 of 3\" logged %d times, want 2; log:\n%s", len(attempts), logger.text())
	}
	if len(logger.messages("attempt 6")) != 0 {
		t.Error("counter was not reset by the good reading")
	}
}

func TestErrorTracker_SuppressionIsStable(t *testing.T) {
	decoder, logger := newTestDecoder()
	v := Variable{Name: "t2", Query: "q2"}

	for i := 1; i <= 8; i++ {
		_, err := decoder.ProcessValue("er", v)
		var fault *ValueFaultError
		if !errors.As(err, &fault) {
			t.Fatalf("cycle %d: error = %v", i, err)
		}
		if fault.Attempt != i {
			t.Errorf("cycle %d: Attempt = %d", i, fault.Attempt)
		}
		if got, want := fault.Suppressed(), i > MaxRetries; got != want {
			t.Errorf("cycle %d: Suppressed() = %v, want %v", i, got, want)
		}
	}

	if got := decoder.Tracker().Suppressed(); !reflect.DeepEqual(got, []string{"t2"}) {
		t.Errorf("Suppressed() = %v, want [t2]", got)
	}
	if n := len(logger.messages("skipping variable")); n != 5 {
		t.Errorf("skip notices = %d, want 5", n)
	}
	if n := len(logger.messages("attempt 4")); n != 0 {
		t.Error("attempt notice logged past the retry window")
	}
}

// TestTempSectionScenario follows the temp section through repeated faults
// of its integer variable.
func TestTempSectionScenario(t *testing.T) {
	section := tempSection()
	decoder, _ := newTestDecoder(section)
	want := Values{"t1": {Number: 21.3}}

	for cycle := 1; cycle <= 5; cycle++ {
		got, err := decoder.ParseResponse("`21,3`er`", section.Variables)
		if err != nil {
			t.Fatalf("cycle %d: error = %v", cycle, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("cycle %d: got %v, want %v", cycle, got, want)
		}
		if n := decoder.Tracker().Count("t2"); n != cycle {
			t.Errorf("cycle %d: t2 count = %d", cycle, n)
		}

		payload, _ := got.JSON()
		if string(payload) != `{"t1":21.3}` {
			t.Errorf("cycle %d: payload = %s", cycle, payload)
		}
	}

	if got := decoder.Tracker().Suppressed(); !reflect.DeepEqual(got, []string{"t2"}) {
		t.Errorf("Suppressed() = %v, want [t2]", got)
	}

	got, err := decoder.ParseResponse("`21,3`12,7`", section.Variables)
	if err != nil {
		t.Fatalf("recovery cycle error = %v", err)
	}
	payload, _ := got.JSON()
	if string(payload) != `{"t1":21.3,"t2":12}` {
		t.Errorf("recovery payload = %s", payload)
	}
	if len(decoder.Tracker().Suppressed()) != 0 {
		t.Error("t2 still suppressed after a good reading")
	}
}

func TestValuesFields(t *testing.T) {
	fields := Values{
		"t1":     {Number: 21.3},
		"pulses": {Number: 12, Integer: true},
	}.Fields()

	if v, ok := fields["t1"].(float64); !ok || v != 21.3 {
		t.Errorf("t1 field = %#v, want float64 21.3", fields["t1"])
	}
	if v, ok := fields["pulses"].(int64); !ok || v != 12 {
		t.Errorf("pulses field = %#v, want int64 12", fields["pulses"])
	}
}
