package metrics

import (
	"errors"
	"fmt"
	"maps"
)

// ErrRecordMismatch is returned when merging records of different metrics.
var ErrRecordMismatch = errors.New("metrics: record mismatch")

// Record is a single metric observation.
type Record struct {
	metrics    Metrics
	value      Value
	cnt        int
	dimensions Dimension
}

// NewRecord builds a record for m. cnt is the number of observations folded
// into value and matters only for averaged policies.
func NewRecord(m Metrics, value Value, cnt int, dimensions Dimension) Record {
	return Record{metrics: m, value: value, cnt: cnt, dimensions: dimensions}
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	return &Record{
		metrics:    r.metrics,
		value:      r.value,
		cnt:        r.cnt,
		dimensions: maps.Clone(r.dimensions),
	}
}

// Metrics returns the metric the record belongs to.
func (r *Record) Metrics() Metrics {
	return r.metrics
}

// Value returns the value according to the policy; averaged policies divide by the count.
func (r *Record) Value() Value {
	switch r.metrics.Policy() {
	case Policy_Avg, Policy_Stopwatch:
		if r.cnt != 0 {
			return r.value / Value(r.cnt)
		}
	}
	return r.value
}

// RawData returns the unprocessed value and count.
func (r *Record) RawData() (Value, int) {
	return r.value, r.cnt
}

// Dimensions returns the record labels.
func (r *Record) Dimensions() Dimension {
	return r.dimensions
}

// Merge folds other into r according to the policy. Both records must
// describe the same metric with the same dimensions.
func (r *Record) Merge(other Record) error {
	if r.metrics.Name() != other.metrics.Name() || r.metrics.Group() != other.metrics.Group() {
		return fmt.Errorf("%w: %s/%s vs %s/%s", ErrRecordMismatch,
			r.metrics.Group(), r.metrics.Name(), other.metrics.Group(), other.metrics.Name())
	}
	if r.metrics.Policy() != other.metrics.Policy() {
		return fmt.Errorf("%w: policy %v vs %v", ErrRecordMismatch, r.metrics.Policy(), other.metrics.Policy())
	}
	if !maps.Equal(r.dimensions, other.dimensions) {
		return fmt.Errorf("%w: dimensions %v vs %v", ErrRecordMismatch, r.dimensions, other.dimensions)
	}

	switch r.metrics.Policy() {
	case Policy_Set:
		r.value = other.value
	case Policy_Sum:
		r.value += other.value
	case Policy_Max:
		r.value = max(r.value, other.value)
	case Policy_Min:
		r.value = min(r.value, other.value)
	case Policy_Stopwatch, Policy_Avg:
		r.value += other.value
		r.cnt += other.cnt
	default:
		return fmt.Errorf("%w: unsupported policy %v", ErrRecordMismatch, r.metrics.Policy())
	}
	return nil
}
