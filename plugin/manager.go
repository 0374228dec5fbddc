package plugin

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"
)

const (
	// DefaultInsName is the tag for the default plugin instance.
	DefaultInsName = "default"

	// ElementNameKey selects the factory of one entry in an element list.
	ElementNameKey = "name"
)

var (
	ErrPluginNotFound      = errors.New("plugin: not found")
	ErrDuplicatePlugin     = errors.New("plugin: duplicate")
	ErrInvalidConfigFormat = errors.New("plugin: invalid config format")
	ErrConfigDecode        = errors.New("plugin: config decode")
	ErrFactorySetup        = errors.New("plugin: factory setup")
)

type instance struct {
	plugin  Plugin
	factory Factory
}

// Manager owns plugin factories and the instances they create. It is passed
// explicitly to whatever needs it; there is no process-wide manager.
type Manager struct {
	factories map[Type]map[string]Factory
	plugins   map[Type]map[string]instance
	lock      sync.RWMutex
}

// NewManager creates and returns a new Manager instance.
func NewManager() *Manager {
	return &Manager{
		factories: make(map[Type]map[string]Factory),
		plugins:   make(map[Type]map[string]instance),
	}
}

// RegisterFactory registers a plugin factory with the manager.
func (m *Manager) RegisterFactory(f Factory) {
	m.lock.Lock()
	defer m.lock.Unlock()

	factories, ok := m.factories[f.Type()]
	if !ok {
		factories = make(map[string]Factory)
		m.factories[f.Type()] = factories
	}
	factories[f.Name()] = f
}

// Factory looks up a registered factory.
func (m *Manager) Factory(typ Type, name string) (Factory, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	f, ok := m.factories[typ][name]
	if !ok {
		return nil, fmt.Errorf("%w: factory '%s':'%s'", ErrPluginNotFound, typ, name)
	}
	return f, nil
}

// FactoryNames lists the factories registered for typ, sorted.
func (m *Manager) FactoryNames(typ Type) []string {
	m.lock.RLock()
	defer m.lock.RUnlock()
	names := make([]string, 0, len(m.factories[typ]))
	for name := range m.factories[typ] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func decodeConfig(f Factory, raw map[string]any, strict bool) (any, error) {
	target := f.ConfigType()
	if target == nil {
		return nil, fmt.Errorf("%w: factory '%s':'%s' did not provide a configuration type",
			ErrInvalidConfigFormat, f.Type(), f.Name())
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  mapstructure.StringToTimeDurationHookFunc(),
		ErrorUnused: strict,
		Result:      target,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create decoder for '%s':'%s': %v", ErrConfigDecode, f.Type(), f.Name(), err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("%w: decode config for '%s':'%s': %v", ErrConfigDecode, f.Type(), f.Name(), err)
	}
	return target, nil
}

// SetupPlugins sets up and initializes all plugins from the `[plugin]`
// table of the configuration, keyed by type then factory name.
func (m *Manager) SetupPlugins(pluginConf map[string]any) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	for typeName, plugins := range pluginConf {
		pluginType := Type(typeName)
		factories, ok := m.factories[pluginType]
		if !ok {
			continue
		}

		pluginsMap, ok := plugins.(map[string]any)
		if !ok {
			return fmt.Errorf("%w for plugin type '%s'", ErrInvalidConfigFormat, pluginType)
		}

		for name, config := range pluginsMap {
			factory, ok := factories[name]
			if !ok {
				return fmt.Errorf("%w: plugin factory not found for type '%s' and name '%s'", ErrPluginNotFound, pluginType, name)
			}

			configMap, ok := config.(map[string]any)
			if !ok {
				return fmt.Errorf("%w for plugin '%s':'%s'", ErrInvalidConfigFormat, pluginType, name)
			}

			cfg, err := decodeConfig(factory, configMap, false)
			if err != nil {
				return err
			}

			key := name
			if tag, ok := configMap["tag"].(string); ok && tag != "" {
				key = tag
			}
			if _, exists := m.plugins[pluginType][key]; exists {
				return fmt.Errorf("%w: plugin tag/name '%s' for type '%s'", ErrDuplicatePlugin, key, pluginType)
			}

			ins, err := factory.Setup(cfg)
			if err != nil {
				return fmt.Errorf("%w: '%s':'%s': %v", ErrFactorySetup, pluginType, name, err)
			}

			if _, ok := m.plugins[pluginType]; !ok {
				m.plugins[pluginType] = make(map[string]instance)
			}
			m.plugins[pluginType][key] = instance{plugin: ins, factory: factory}
		}
	}
	return nil
}

// SetupElements builds an ordered list of plugins of one type. Each entry
// names its factory under ElementNameKey; the remaining keys are decoded
// strictly into the factory's configuration. The results are not retained
// by the manager, so the same factory may appear more than once.
func (m *Manager) SetupElements(typ Type, specs []map[string]any) ([]Plugin, error) {
	m.lock.RLock()
	factories := m.factories[typ]
	m.lock.RUnlock()

	out := make([]Plugin, 0, len(specs))
	for i, spec := range specs {
		name, ok := spec[ElementNameKey].(string)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: entry %d of '%s' has no %q", ErrInvalidConfigFormat, i, typ, ElementNameKey)
		}
		factory, ok := factories[name]
		if !ok {
			return nil, fmt.Errorf("%w: factory '%s':'%s' (entry %d)", ErrPluginNotFound, typ, name, i)
		}

		raw := make(map[string]any, len(spec))
		for k, v := range spec {
			if k != ElementNameKey {
				raw[k] = v
			}
		}
		cfg, err := decodeConfig(factory, raw, true)
		if err != nil {
			return nil, err
		}
		p, err := factory.Setup(cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: '%s':'%s' (entry %d): %v", ErrFactorySetup, typ, name, i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// GetPlugin gets an initialized plugin instance from the manager.
// `name` can be the name of the plugin or its tag.
func (m *Manager) GetPlugin(typ Type, name string) (Plugin, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	plugins, ok := m.plugins[typ]
	if !ok {
		return nil, fmt.Errorf("%w: no plugins found for type '%s'", ErrPluginNotFound, typ)
	}
	ins, ok := plugins[name]
	if !ok {
		return nil, fmt.Errorf("%w: plugin '%s' not found for type '%s'", ErrPluginNotFound, name, typ)
	}
	return ins.plugin, nil
}

// GetDefaultPlugin gets the default plugin instance of the specified type from the manager.
func (m *Manager) GetDefaultPlugin(typ Type) (Plugin, error) {
	return m.GetPlugin(typ, DefaultInsName)
}

// DestroyPlugins hands every instance back to its factory and forgets it.
func (m *Manager) DestroyPlugins() {
	m.lock.Lock()
	plugins := m.plugins
	m.plugins = make(map[Type]map[string]instance)
	m.lock.Unlock()

	for _, byName := range plugins {
		for _, ins := range byName {
			ins.factory.Destroy(ins.plugin)
		}
	}
}
