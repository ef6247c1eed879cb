package jobrun

import (
	"encoding/json"
	"fmt"
	"time"
)

// ValueKind discriminates the serializable kinds a job data value may hold.
type ValueKind int

const (
	KindString ValueKind = iota
	KindNumber
	KindBool
	KindTime
)

// Value is one job parameter: a tagged union over the small closed set of
// kinds the run store can round-trip.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
	t    time.Time
}

func String(s string) Value  { return Value{kind: KindString, str: s} }
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }
func Bool(b bool) Value      { return Value{kind: KindBool, b: b} }
func Time(t time.Time) Value { return Value{kind: KindTime, t: t.UTC()} }

// Kind returns the kind tag of the value.
func (v Value) Kind() ValueKind { return v.kind }

func (v Value) StringVal() string  { return v.str }
func (v Value) NumberVal() float64 { return v.num }
func (v Value) BoolVal() bool      { return v.b }
func (v Value) TimeVal() time.Time { return v.t }

// Text renders the value for display and substring matching.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return fmt.Sprintf("%g", v.num)
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	}
	return ""
}

// timeWrapper keeps time values distinguishable from plain strings in JSON.
type timeWrapper struct {
	Time string `json:"$time"`
}

// MarshalJSON encodes strings, numbers and bools natively and times as
// {"$time": RFC3339Nano}.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindTime:
		return json.Marshal(timeWrapper{Time: v.t.Format(time.RFC3339Nano)})
	}
	return nil, fmt.Errorf("job data: unknown value kind %d", v.kind)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case string:
		*v = String(x)
		return nil
	case float64:
		*v = Number(x)
		return nil
	case bool:
		*v = Bool(x)
		return nil
	case map[string]any:
		s, ok := x["$time"].(string)
		if !ok {
			return fmt.Errorf("job data: object value is not a time wrapper")
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("job data: parse time value: %w", err)
		}
		*v = Time(t)
		return nil
	}
	return fmt.Errorf("job data: unsupported value %s", string(data))
}

// DataMap is the arbitrary key/value parameter bag attached to a job and
// snapshotted into each run record at fire time.
type DataMap map[string]Value

// FromAny converts a loosely typed map (e.g. decoded YAML) into a DataMap.
// Unsupported kinds are rejected rather than coerced.
func FromAny(in map[string]any) (DataMap, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(DataMap, len(in))
	for k, raw := range in {
		switch x := raw.(type) {
		case string:
			out[k] = String(x)
		case bool:
			out[k] = Bool(x)
		case int:
			out[k] = Number(float64(x))
		case int64:
			out[k] = Number(float64(x))
		case float64:
			out[k] = Number(x)
		case time.Time:
			out[k] = Time(x)
		default:
			return nil, fmt.Errorf("job data: key %q has unsupported type %T", k, raw)
		}
	}
	return out, nil
}

// Clone returns a copy that does not alias the receiver.
func (m DataMap) Clone() DataMap {
	if m == nil {
		return nil
	}
	out := make(DataMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Merged returns a copy of m with overlay entries added or replacing.
func (m DataMap) Merged(overlay DataMap) DataMap {
	if len(overlay) == 0 {
		return m.Clone()
	}
	out := make(DataMap, len(m)+len(overlay))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// Text returns the display form of the value at key, or "" when absent.
func (m DataMap) Text(key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	return v.Text()
}
