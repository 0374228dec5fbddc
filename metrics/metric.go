package metrics

import "time"

// Metrics is the base interface for all metric types.
type Metrics interface {
	Name() string
	Group() string
	Policy() Policy
}

// Counter accumulates values over time.
type Counter interface {
	Metrics
	Incr(delta Value)
	IncrWithDim(delta Value, dimensions Dimension)
}

// Gauge is a point-in-time value; its policy decides whether the last,
// the average or the extreme observation is kept.
type Gauge interface {
	Metrics
	Update(value Value)
	UpdateWithDim(value Value, dimensions Dimension)
}

// StopWatch measures elapsed time in milliseconds.
type StopWatch interface {
	Metrics
	RecordWithDim(dimensions Dimension, startTime time.Time) time.Duration
}

// metric implements every metric kind; the policy drives aggregation.
type metric struct {
	name   string
	group  string
	policy Policy
	reg    *registry
}

func (m *metric) Name() string   { return m.name }
func (m *metric) Group() string  { return m.group }
func (m *metric) Policy() Policy { return m.policy }

func (m *metric) report(v Value, cnt int, dimensions Dimension) {
	r := Record{metrics: m, value: v, cnt: cnt, dimensions: dimensions}
	for _, reporter := range m.reg.reporters() {
		reporter.Report(r)
	}
}

func (m *metric) Incr(v Value) { m.report(v, 0, nil) }

func (m *metric) IncrWithDim(v Value, dimensions Dimension) { m.report(v, 0, dimensions) }

func (m *metric) Update(v Value) { m.UpdateWithDim(v, nil) }

func (m *metric) UpdateWithDim(v Value, dimensions Dimension) {
	cnt := 0
	if m.policy == Policy_Avg {
		cnt = 1
	}
	m.report(v, cnt, dimensions)
}

func (m *metric) RecordWithDim(dimensions Dimension, startTime time.Time) time.Duration {
	d := time.Since(startTime)
	m.report(Value(float64(d.Microseconds())/1000), 1, dimensions)
	return d
}
