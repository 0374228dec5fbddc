// Package plugin is the explicit factory registry. Reporters and binding
// elements are produced by registered factories from decoded configuration.
package plugin

// Type is the type of plugin supported by the system.
type Type string

const (
	// Metrics plugins report metric records.
	Metrics = "metrics"
	// BindingElement plugins are layers of a channel stack.
	BindingElement = "binding"
)

// Factory is the interface for plugin factories.
type Factory interface {
	// Type returns the plugin type.
	Type() Type
	// Name returns the name of the plugin implementation.
	Name() string
	// ConfigType returns a pointer to a zero (or defaulted) configuration
	// struct, populated by the manager using mapstructure.
	ConfigType() any
	// Setup initializes a plugin instance based on the configuration.
	Setup(any) (Plugin, error)
	// Destroy releases an instance created by Setup.
	Destroy(Plugin)
}

// Plugin is an instance produced by a Factory.
type Plugin interface {
	FactoryName() string
}
