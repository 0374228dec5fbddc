package metrics

// Reporter receives every metric record. Implementations forward them to a
// backend such as Prometheus.
type Reporter interface {
	Report(r Record)
}
