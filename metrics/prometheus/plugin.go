package prometheus

import (
	"fmt"

	"github.com/linchenxuan/conduit/metrics"
	"github.com/linchenxuan/conduit/plugin"
)

const _factoryName = "prometheus"

// Factory registers the Prometheus reporter with a plugin.Manager.
type Factory struct{}

// Type returns the plugin type.
func (f *Factory) Type() plugin.Type {
	return plugin.Metrics
}

// Name returns the name of the plugin implementation.
func (f *Factory) Name() string {
	return _factoryName
}

// ConfigType returns the configuration populated by the manager.
func (f *Factory) ConfigType() any {
	return DefaultReporterConfig()
}

// Setup starts a reporter and attaches it to the metrics fan-out.
func (f *Factory) Setup(cfgAny any) (plugin.Plugin, error) {
	cfg, ok := cfgAny.(*ReporterConfig)
	if !ok {
		return nil, fmt.Errorf("prometheus: unexpected config type %T", cfgAny)
	}

	r := NewReporter(cfg)
	if err := r.Start(); err != nil {
		return nil, err
	}
	metrics.AddReporter(r)
	return r, nil
}

// Destroy detaches and stops the reporter.
func (f *Factory) Destroy(p plugin.Plugin) {
	r, ok := p.(*Reporter)
	if !ok {
		return
	}
	kept := make([]metrics.Reporter, 0, len(metrics.Reporters()))
	for _, rep := range metrics.Reporters() {
		if rep != metrics.Reporter(r) {
			kept = append(kept, rep)
		}
	}
	metrics.SetMetricsReporters(kept)
	r.Stop()
}
