package prometheus

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/linchenxuan/conduit/metrics"
	"github.com/linchenxuan/conduit/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReporterServesMetrics(t *testing.T) {
	r := NewReporter(nil)
	require.NoError(t, r.Start())
	defer r.Stop()

	prev := metrics.Reporters()
	metrics.SetMetricsReporters([]metrics.Reporter{r})
	defer metrics.SetMetricsReporters(prev)

	metrics.IncrCounterWithDimGroup(metrics.NameConnAcceptTotal, metrics.GroupConduit, 2,
		metrics.Dimension{metrics.DimScheme: "net.tcp"})
	metrics.IncrCounterWithDimGroup(metrics.NameConnAcceptTotal, metrics.GroupConduit, 1,
		metrics.Dimension{metrics.DimScheme: "net.tcp"})
	metrics.UpdateAvgGaugeWithDimGroup(metrics.NameMsgSizeAvgKB, metrics.GroupConduit, 2, nil)
	metrics.UpdateAvgGaugeWithDimGroup(metrics.NameMsgSizeAvgKB, metrics.GroupConduit, 4, nil)

	require.Eventually(t, func() bool {
		r.Flush()
		families, err := r.Gatherer().Gather()
		return err == nil && len(families) == 2
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + r.Addr().String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `conduit_transport_conn_accept_total{scheme="net_tcp"} 3`)
	assert.Contains(t, string(body), `conduit_channel_msg_size_avg_KB 3`)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultReporterConfig()
	assert.NoError(t, cfg.Validate())

	cfg.UsePush = true
	assert.Error(t, cfg.Validate())
	cfg.PushAddr = "http://127.0.0.1:9091"
	assert.NoError(t, cfg.Validate())

	cfg.MetricPath = "metrics"
	assert.Error(t, cfg.Validate())
}

func TestFactorySetupAndDestroy(t *testing.T) {
	m := plugin.NewManager()
	f := &Factory{}
	m.RegisterFactory(f)

	err := m.SetupPlugins(map[string]any{
		plugin.Metrics: map[string]any{
			"prometheus": map[string]any{
				"listenAddr": "127.0.0.1:0",
				"metricPath": "/m",
			},
		},
	})
	require.NoError(t, err)

	p, err := m.GetPlugin(plugin.Metrics, "prometheus")
	require.NoError(t, err)
	r, ok := p.(*Reporter)
	require.True(t, ok)
	assert.Equal(t, "/m", r.cfg.MetricPath)
	assert.Contains(t, metrics.Reporters(), metrics.Reporter(r))

	m.DestroyPlugins()
	assert.NotContains(t, metrics.Reporters(), metrics.Reporter(r))
}
