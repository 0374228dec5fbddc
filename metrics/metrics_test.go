package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReporter struct {
	mu      sync.Mutex
	records []Record
}

func (mr *mockReporter) Report(r Record) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.records = append(mr.records, *r.Clone())
}

func (mr *mockReporter) all() []Record {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	return append([]Record(nil), mr.records...)
}

func withMock(t *testing.T) *mockReporter {
	t.Helper()
	mock := &mockReporter{}
	prev := Reporters()
	SetMetricsReporters([]Reporter{mock})
	t.Cleanup(func() { SetMetricsReporters(prev) })
	return mock
}

func TestCounter(t *testing.T) {
	mock := withMock(t)

	IncrCounterWithGroup("accepts", GroupConduit, 2)
	IncrCounterWithDimGroup("accepts", GroupConduit, 3, Dimension{DimScheme: "net.tcp"})

	recs := mock.all()
	require.Len(t, recs, 2)
	assert.Equal(t, Value(2), recs[0].Value())
	assert.Equal(t, Policy_Sum, recs[0].Metrics().Policy())
	assert.Equal(t, "accepts", recs[1].Metrics().Name())
	assert.Equal(t, GroupConduit, recs[1].Metrics().Group())
	assert.Equal(t, "net.tcp", recs[1].Dimensions()[DimScheme])

	assert.Same(t, GetCounter("accepts", GroupConduit), GetCounter("accepts", GroupConduit))
}

func TestGauges(t *testing.T) {
	mock := withMock(t)

	UpdateGaugeWithGroup("pending", GroupConduit, 7)
	UpdateAvgGaugeWithDimGroup("size", GroupConduit, 4, nil)
	UpdateMaxGaugeWithDimGroup("size", GroupConduit, 9, nil)

	recs := mock.all()
	require.Len(t, recs, 3)
	assert.Equal(t, Policy_Set, recs[0].Metrics().Policy())
	assert.Equal(t, Policy_Avg, recs[1].Metrics().Policy())
	v, cnt := recs[1].RawData()
	assert.Equal(t, Value(4), v)
	assert.Equal(t, 1, cnt)
	assert.Equal(t, Policy_Max, recs[2].Metrics().Policy())
}

func TestStopwatch(t *testing.T) {
	mock := withMock(t)

	start := time.Now().Add(-20 * time.Millisecond)
	d := RecordStopwatchWithDimGroup("wait", GroupConduit, start, Dimension{DimShape: "reply"})
	assert.GreaterOrEqual(t, d, 20*time.Millisecond)

	recs := mock.all()
	require.Len(t, recs, 1)
	assert.GreaterOrEqual(t, float64(recs[0].Value()), 20.0)
	assert.Equal(t, Policy_Stopwatch, recs[0].Metrics().Policy())
}

func TestRecordMerge(t *testing.T) {
	reg := newRegistry()
	sum := reg.get("a", "g", Policy_Sum)
	avg := reg.get("b", "g", Policy_Avg)
	mx := reg.get("c", "g", Policy_Max)

	t.Run("Sum", func(t *testing.T) {
		r := NewRecord(sum, 1, 0, nil)
		require.NoError(t, r.Merge(NewRecord(sum, 2, 0, nil)))
		assert.Equal(t, Value(3), r.Value())
	})
	t.Run("Avg", func(t *testing.T) {
		r := NewRecord(avg, 2, 1, nil)
		require.NoError(t, r.Merge(NewRecord(avg, 4, 1, nil)))
		assert.Equal(t, Value(3), r.Value())
	})
	t.Run("Max", func(t *testing.T) {
		r := NewRecord(mx, 5, 0, nil)
		require.NoError(t, r.Merge(NewRecord(mx, 2, 0, nil)))
		assert.Equal(t, Value(5), r.Value())
	})
	t.Run("Mismatch", func(t *testing.T) {
		r := NewRecord(sum, 1, 0, Dimension{"k": "v"})
		assert.ErrorIs(t, r.Merge(NewRecord(sum, 1, 0, nil)), ErrRecordMismatch)
		assert.ErrorIs(t, r.Merge(NewRecord(avg, 1, 0, nil)), ErrRecordMismatch)
	})
	t.Run("CloneIsDeep", func(t *testing.T) {
		r := NewRecord(sum, 1, 0, Dimension{"k": "v"})
		cp := r.Clone()
		cp.Dimensions()["k"] = "changed"
		assert.Equal(t, "v", r.Dimensions()["k"])
	})
}

func TestConcurrentReport(t *testing.T) {
	mock := withMock(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				IncrCounterWithGroup("concurrent", GroupConduit, 1)
			}
		}()
	}
	wg.Wait()
	assert.Len(t, mock.all(), 400)
}
