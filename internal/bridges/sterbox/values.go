package sterbox

import (
	"encoding/json"
	"strconv"
)

// Value is one decoded measurement.
// Integer is set for variables whose query carries the @gcd marker; Number
// then holds a whole number.
type Value struct {
	Number  float64
	Integer bool
}

// MarshalJSON encodes integer values without a fractional part.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.Integer {
		return strconv.AppendInt(nil, int64(v.Number), 10), nil
	}
	return json.Marshal(v.Number)
}

// Field returns the value in the Go type a time-series field should carry.
func (v Value) Field() any {
	if v.Integer {
		return int64(v.Number)
	}
	return v.Number
}

// Values maps variable names to decoded measurements.
// Variables that could not be decoded are absent; there is no null marker.
type Values map[string]Value

// Merge copies every entry of other into v, overwriting existing names.
func (v Values) Merge(other Values) {
	for name, value := range other {
		v[name] = value
	}
}

// JSON encodes the mapping as a JSON object of name to number.
func (v Values) JSON() ([]byte, error) {
	return json.Marshal(v)
}

// Fields converts the mapping into time-series fields.
func (v Values) Fields() map[string]any {
	fields := make(map[string]any, len(v))
	for name, value := range v {
		fields[name] = value.Field()
	}
	return fields
}
