// Package prometheus exposes conduit metrics in Prometheus format over HTTP
// and, optionally, pushes them to a push gateway.
package prometheus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linchenxuan/conduit/log"
	"github.com/linchenxuan/conduit/metrics"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	_metricsChanSize     = 1 << 16
	_serviceName         = "conduit"
	_healthCheckInterval = 30 * time.Second
)

// ReporterConfig configures the Prometheus reporter.
type ReporterConfig struct {
	Tag               string            `mapstructure:"tag"`
	ListenAddr        string            `mapstructure:"listenAddr"`
	MetricPath        string            `mapstructure:"metricPath"`
	UsePush           bool              `mapstructure:"usePush"`
	PushAddr          string            `mapstructure:"pushAddr"`
	PushIntervalSec   int               `mapstructure:"pushIntervalSec"`
	PushJobName       string            `mapstructure:"pushJobName"`
	ExtLabels         map[string]string `mapstructure:"extLabels"`
	EnableHealthCheck bool              `mapstructure:"enableHealthCheck"`
	HealthCheckPath   string            `mapstructure:"healthCheckPath"`
}

// DefaultReporterConfig listens on an ephemeral loopback port.
func DefaultReporterConfig() *ReporterConfig {
	return &ReporterConfig{
		ListenAddr:      "127.0.0.1:0",
		MetricPath:      "/metrics",
		PushIntervalSec: 15,
		PushJobName:     _serviceName,
		HealthCheckPath: "/health",
	}
}

// Validate checks the configuration.
func (c *ReporterConfig) Validate() error {
	if c.MetricPath == "" || !strings.HasPrefix(c.MetricPath, "/") {
		return fmt.Errorf("prometheus: metric path %q must start with /", c.MetricPath)
	}
	if c.UsePush {
		if c.PushAddr == "" {
			return errors.New("prometheus: push enabled without pushAddr")
		}
		if c.PushIntervalSec <= 0 {
			return fmt.Errorf("prometheus: push interval must be positive, got %d", c.PushIntervalSec)
		}
	}
	return nil
}

// gauge keeps the running sum and count needed for averaged policies.
type gauge struct {
	prom.Gauge
	value float64
	cnt   int
}

func (g *gauge) merge(rc *metrics.Record) error {
	switch rc.Metrics().Policy() {
	case metrics.Policy_Set, metrics.Policy_Max, metrics.Policy_Min:
		g.Set(float64(rc.Value()))
	case metrics.Policy_Avg, metrics.Policy_Stopwatch:
		v, c := rc.RawData()
		g.value += float64(v)
		g.cnt += c
		if g.cnt <= 0 {
			return fmt.Errorf("metrics(%s) count invalid", rc.Metrics().Name())
		}
		g.Set(g.value / float64(g.cnt))
	default:
		return fmt.Errorf("metrics(%s) policy %v invalid for gauge", rc.Metrics().Name(), rc.Metrics().Policy())
	}
	return nil
}

// Reporter converts metric records into Prometheus collectors.
type Reporter struct {
	cfg         *ReporterConfig
	registry    *prom.Registry
	factory     promauto.Factory
	promSvr     *http.Server
	addr        net.Addr
	metricsChan chan metrics.Record
	counters    map[string]prom.Counter
	gauges      map[string]*gauge
	lock        sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	healthy     atomic.Bool
	started     atomic.Bool
	lastDrain   atomic.Int64
}

// NewReporter creates a reporter; Start must be called before it serves.
func NewReporter(cfg *ReporterConfig) *Reporter {
	if cfg == nil {
		cfg = DefaultReporterConfig()
	}
	reg := prom.NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reporter{
		cfg:         cfg,
		registry:    reg,
		factory:     promauto.With(reg),
		metricsChan: make(chan metrics.Record, _metricsChanSize),
		counters:    map[string]prom.Counter{},
		gauges:      map[string]*gauge{},
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	r.healthy.Store(true)
	return r
}

// FactoryName implements plugin.Plugin.
func (x *Reporter) FactoryName() string {
	return _factoryName
}

// Report queues a record; records are dropped when the queue is full.
func (x *Reporter) Report(r metrics.Record) {
	select {
	case x.metricsChan <- r:
	default:
		log.Error().Msg("metrics chan full")
	}
}

// Addr returns the HTTP listen address once started.
func (x *Reporter) Addr() net.Addr {
	return x.addr
}

// Gatherer exposes the underlying registry.
func (x *Reporter) Gatherer() prom.Gatherer {
	return x.registry
}

// Start launches the aggregation loop, the HTTP endpoint and the optional pusher.
func (x *Reporter) Start() error {
	if err := x.cfg.Validate(); err != nil {
		return err
	}
	if err := x.startHTTPSvr(); err != nil {
		return err
	}
	x.started.Store(true)
	go x.aggregate()
	if x.cfg.UsePush {
		go x.pushLoop()
	}
	return nil
}

// Stop terminates every goroutine and closes the HTTP server.
func (x *Reporter) Stop() {
	x.cancel()
	if x.promSvr != nil {
		if err := x.promSvr.Close(); err != nil {
			log.Error().Err(err).Msg("stop prometheus http server")
		}
	}
	if x.started.Load() {
		<-x.done
	}
}

// Flush blocks until every queued record has been folded in.
func (x *Reporter) Flush() {
	for len(x.metricsChan) > 0 {
		time.Sleep(time.Millisecond)
	}
	x.lock.Lock()
	defer x.lock.Unlock()
}

func (x *Reporter) startHTTPSvr() error {
	l, err := net.Listen("tcp", x.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("prometheus listen %s: %w", x.cfg.ListenAddr, err)
	}
	x.addr = l.Addr()

	mux := http.NewServeMux()
	mux.Handle(x.cfg.MetricPath, promhttp.HandlerFor(x.registry, promhttp.HandlerOpts{}))
	if x.cfg.EnableHealthCheck {
		mux.HandleFunc(x.cfg.HealthCheckPath, x.healthCheckHandler)
	}

	x.promSvr = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := x.promSvr.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("prometheus http serve")
		}
	}()
	log.Info().Str("addr", l.Addr().String()).Str("path", x.cfg.MetricPath).Msg("prometheus http start listen on")
	return nil
}

func (x *Reporter) aggregate() {
	defer close(x.done)
	ticker := time.NewTicker(_healthCheckInterval)
	defer ticker.Stop()
	x.lastDrain.Store(time.Now().UnixNano())
	for {
		select {
		case rc := <-x.metricsChan:
			x.lock.Lock()
			x.merge(&rc)
			x.lock.Unlock()
			x.lastDrain.Store(time.Now().UnixNano())
		case <-ticker.C:
			x.performHealthCheck()
		case <-x.ctx.Done():
			return
		}
	}
}

func (x *Reporter) pushLoop() {
	pusher := push.New(x.cfg.PushAddr, x.cfg.PushJobName).Gatherer(x.registry)
	t := time.NewTicker(time.Duration(x.cfg.PushIntervalSec) * time.Second)
	defer t.Stop()
	for {
		select {
		case <-x.ctx.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(x.ctx, 5*time.Second)
			if err := pusher.PushContext(ctx); err != nil {
				log.Warn().Err(err).Str("addr", x.cfg.PushAddr).Msg("prometheus push")
			}
			cancel()
		}
	}
}

func (x *Reporter) performHealthCheck() {
	usage := float64(len(x.metricsChan)) / float64(cap(x.metricsChan))
	x.healthy.Store(usage <= 0.9)
	if usage > 0.9 {
		log.Warn().Float64("chan_usage", usage).Msg("metrics reporter backlog")
	}
}

func (x *Reporter) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	status, code := "healthy", http.StatusOK
	if !x.healthy.Load() {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":     status,
		"service":    _serviceName,
		"last_drain": time.Unix(0, x.lastDrain.Load()).Format(time.RFC3339),
	})
}

func (x *Reporter) labels(rc *metrics.Record) prom.Labels {
	labels := make(prom.Labels, len(rc.Dimensions())+len(x.cfg.ExtLabels))
	for k, v := range x.cfg.ExtLabels {
		labels[k] = strings.ReplaceAll(v, ".", "_")
	}
	for k, v := range rc.Dimensions() {
		labels[k] = strings.ReplaceAll(v, ".", "_")
	}
	return labels
}

// merge folds a record into its collector, creating it on first sight.
// Caller holds x.lock.
func (x *Reporter) merge(rc *metrics.Record) {
	key := fullName(rc)
	subsystem := strings.ReplaceAll(rc.Metrics().Group(), ".", "_")
	name := strings.ReplaceAll(rc.Metrics().Name(), ".", "_")

	if rc.Metrics().Policy() == metrics.Policy_Sum {
		c, ok := x.counters[key]
		if !ok {
			c = x.factory.NewCounter(prom.CounterOpts{Subsystem: subsystem, Name: name, ConstLabels: x.labels(rc)})
			x.counters[key] = c
		}
		c.Add(float64(rc.Value()))
		return
	}

	g, ok := x.gauges[key]
	if !ok {
		g = &gauge{Gauge: x.factory.NewGauge(prom.GaugeOpts{Subsystem: subsystem, Name: name, ConstLabels: x.labels(rc)})}
		x.gauges[key] = g
	}
	if err := g.merge(rc); err != nil {
		log.Error().Err(err).Msg("prometheus merge")
	}
}

// fullName identifies a collector by group, name and sorted dimensions.
func fullName(rc *metrics.Record) string {
	var sb strings.Builder
	sb.WriteString(rc.Metrics().Group())
	sb.WriteString("*")
	sb.WriteString(rc.Metrics().Name())
	sb.WriteString("*")
	keys := make([]string, 0, len(rc.Dimensions()))
	for k := range rc.Dimensions() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(":")
		sb.WriteString(rc.Dimensions()[k])
		sb.WriteString(",")
	}
	return sb.String()
}
