package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linchenxuan/conduit/lifecycle"
	"github.com/linchenxuan/conduit/log"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conduit.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadServiceConfigSample(t *testing.T) {
	cfg, err := loadServiceConfig("conduit.toml")
	require.NoError(t, err)

	assert.False(t, cfg.Duplex)
	assert.Equal(t, "net.tcp://127.0.0.1:9700/echo", cfg.Listen.String())
	assert.Equal(t, "tcp", cfg.Binding.Name)
	require.Len(t, cfg.Binding.Elements, 4)
	assert.Equal(t, "throttle", cfg.Binding.Elements[0]["name"])
	assert.Equal(t, "net.tcp", cfg.Binding.Elements[3]["name"])
	assert.Equal(t, 30*time.Second, cfg.Binding.Timeouts.Send)
	assert.Equal(t, log.InfoLevel, cfg.Log.LogLevel)
	require.Contains(t, cfg.Plugin, "metrics")
	metrics, ok := cfg.Plugin["metrics"].(map[string]any)
	require.True(t, ok)
	prom, ok := metrics["prometheus"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1:9701", prom["listenAddr"])
}

func TestLoadServiceConfigPluginKeysPassThrough(t *testing.T) {
	cfg, err := loadServiceConfig(writeConfig(t, `
listen = "net.tcp://127.0.0.1:1/x"

[plugin.metrics.prometheus]
anything = "left to the factory"
`))
	require.NoError(t, err)
	assert.Contains(t, cfg.Plugin, "metrics")

	_, err = loadServiceConfig(writeConfig(t, `
listen = "net.tcp://127.0.0.1:1/x"

[plugin.metrics.prometheus]
tag = "default"

[logs]
level = "info"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logs")
}

func TestLoadServiceConfigDefaults(t *testing.T) {
	cfg, err := loadServiceConfig(writeConfig(t, `
shape = "duplex"
address = "net.unix:///tmp/conduit.sock"
`))
	require.NoError(t, err)
	assert.True(t, cfg.Duplex)
	assert.True(t, cfg.Listen.IsZero())
	assert.Equal(t, "default", cfg.Binding.Name)
	assert.Equal(t, lifecycle.DefaultTimeouts(), cfg.Binding.Timeouts)
	assert.Equal(t, *log.DefaultLogCfg(), cfg.Log)
}

func TestLoadServiceConfigErrors(t *testing.T) {
	for name, body := range map[string]string{
		"unknown key":  "listen = \"net.tcp://127.0.0.1:1/x\"\nbogus = 1\n",
		"bad shape":    "listen = \"net.tcp://127.0.0.1:1/x\"\nshape = \"simplex\"\n",
		"no endpoint":  "shape = \"reply\"\n",
		"relative uri": "listen = \"127.0.0.1:1\"\n",
		"empty binding": `listen = "net.tcp://127.0.0.1:1/x"
[binding]
name = "empty"
`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := loadServiceConfig(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}
