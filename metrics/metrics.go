package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

type metricKey struct {
	name   string
	policy Policy
}

// registry caches metric instances and holds the reporter list.
type registry struct {
	lock    sync.RWMutex
	metrics map[metricKey]*metric
	reps    atomic.Pointer[[]Reporter]
}

func newRegistry() *registry {
	r := &registry{metrics: map[metricKey]*metric{}}
	r.reps.Store(&[]Reporter{})
	return r
}

func (r *registry) reporters() []Reporter {
	return *r.reps.Load()
}

func (r *registry) get(name, group string, policy Policy) *metric {
	key := metricKey{name: name, policy: policy}
	r.lock.RLock()
	m, ok := r.metrics[key]
	r.lock.RUnlock()
	if ok {
		return m
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	if m, ok = r.metrics[key]; ok {
		return m
	}
	m = &metric{name: name, group: group, policy: policy, reg: r}
	r.metrics[key] = m
	return m
}

var _registry = newRegistry()

// SetMetricsReporters replaces the reporters every metric is sent to.
func SetMetricsReporters(reports []Reporter) {
	cp := append([]Reporter(nil), reports...)
	_registry.reps.Store(&cp)
}

// AddReporter appends a reporter.
func AddReporter(rep Reporter) {
	SetMetricsReporters(append(_registry.reporters(), rep))
}

// Reporters returns the current reporter list.
func Reporters() []Reporter {
	return _registry.reporters()
}

// GetCounter returns the cached counter for name.
func GetCounter(name, group string) Counter { return _registry.get(name, group, Policy_Sum) }

// GetGauge returns the cached last-value gauge for name.
func GetGauge(name, group string) Gauge { return _registry.get(name, group, Policy_Set) }

// IncrCounterWithGroup increases a counter.
func IncrCounterWithGroup(key string, group string, value Value) {
	_registry.get(key, group, Policy_Sum).Incr(value)
}

// IncrCounterWithDimGroup increases a counter with dimensions.
func IncrCounterWithDimGroup(key string, group string, value Value, dimensions Dimension) {
	_registry.get(key, group, Policy_Sum).IncrWithDim(value, dimensions)
}

// UpdateGaugeWithGroup sets a gauge.
func UpdateGaugeWithGroup(key string, group string, value Value) {
	_registry.get(key, group, Policy_Set).Update(value)
}

// UpdateGaugeWithDimGroup sets a gauge with dimensions.
func UpdateGaugeWithDimGroup(key string, group string, value Value, dimensions Dimension) {
	_registry.get(key, group, Policy_Set).UpdateWithDim(value, dimensions)
}

// UpdateAvgGaugeWithDimGroup records one observation of an averaged gauge.
func UpdateAvgGaugeWithDimGroup(key string, group string, value Value, dimensions Dimension) {
	_registry.get(key, group, Policy_Avg).UpdateWithDim(value, dimensions)
}

// UpdateMaxGaugeWithDimGroup records one observation of a maximum gauge.
func UpdateMaxGaugeWithDimGroup(key string, group string, value Value, dimensions Dimension) {
	_registry.get(key, group, Policy_Max).UpdateWithDim(value, dimensions)
}

// RecordStopwatchWithGroup records the time since startTime.
func RecordStopwatchWithGroup(key string, group string, startTime time.Time) time.Duration {
	return _registry.get(key, group, Policy_Stopwatch).RecordWithDim(nil, startTime)
}

// RecordStopwatchWithDimGroup records the time since startTime with dimensions.
func RecordStopwatchWithDimGroup(key string, group string, startTime time.Time, dimensions Dimension) time.Duration {
	return _registry.get(key, group, Policy_Stopwatch).RecordWithDim(dimensions, startTime)
}
