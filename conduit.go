// Package conduit wires the channel stack together: the logger, the plugin
// manager with every binding element factory registered, and the bindings
// loaded from configuration.
package conduit

import (
	"fmt"
	"sync"

	"github.com/linchenxuan/conduit/log"
	"github.com/linchenxuan/conduit/metrics/prometheus"
	"github.com/linchenxuan/conduit/network/binding"
	"github.com/linchenxuan/conduit/network/transport/tcp"
	"github.com/linchenxuan/conduit/network/transport/unix"
	"github.com/linchenxuan/conduit/plugin"
)

// Conduit is the application root holding the shared registries.
type Conduit struct {
	Logger        *log.Logger
	PluginManager *plugin.Manager

	lock     sync.RWMutex
	bindings map[string]*binding.Binding
}

// New creates the application with logCfg, or the default console logger
// when logCfg is nil. The logger becomes the package default.
func New(logCfg *log.LogCfg) (*Conduit, error) {
	logger, err := log.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("conduit: logger: %w", err)
	}
	log.SetDefaultLogger(logger)

	m := plugin.NewManager()
	for _, f := range binding.Factories() {
		m.RegisterFactory(f)
	}
	m.RegisterFactory(tcp.NewFactory())
	m.RegisterFactory(unix.NewFactory())
	m.RegisterFactory(&prometheus.Factory{})

	c := &Conduit{
		Logger:        logger,
		PluginManager: m,
		bindings:      make(map[string]*binding.Binding),
	}
	logger.Info().Strs("elements", m.FactoryNames(plugin.BindingElement)).Msg("conduit initialized")
	return c, nil
}

// SetupPlugins starts the plugins of the `[plugin]` configuration table,
// such as metric reporters.
func (c *Conduit) SetupPlugins(conf map[string]any) error {
	return c.PluginManager.SetupPlugins(conf)
}

// LoadBinding builds the binding described by cfg and registers it under
// its name.
func (c *Conduit) LoadBinding(cfg binding.Config) (*binding.Binding, error) {
	b, err := binding.Load(c.PluginManager, cfg)
	if err != nil {
		return nil, err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	if _, ok := c.bindings[cfg.Name]; ok {
		return nil, fmt.Errorf("conduit: binding %q loaded twice", cfg.Name)
	}
	c.bindings[cfg.Name] = b
	log.Info().Str("binding", cfg.Name).Str("scheme", b.Scheme()).Msg("binding loaded")
	return b, nil
}

// Binding returns a loaded binding by name.
func (c *Conduit) Binding(name string) (*binding.Binding, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	b, ok := c.bindings[name]
	return b, ok
}

// Stop destroys the plugins and flushes the logger.
func (c *Conduit) Stop() {
	c.Logger.Info().Msg("conduit shutting down")
	c.PluginManager.DestroyPlugins()
	c.Logger.Refresh()
}
