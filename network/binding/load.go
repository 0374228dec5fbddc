package binding

import (
	"errors"
	"fmt"

	"github.com/linchenxuan/conduit/lifecycle"
	"github.com/linchenxuan/conduit/plugin"
)

// Config describes a binding in configuration files:
//
//	[[binding]]
//	name = "tcp"
//	[[binding.element]]
//	name = "binaryEncoding"
//	[[binding.element]]
//	name = "net.tcp"
//	transferMode = "buffered"
type Config struct {
	Name     string             `mapstructure:"name" toml:"name"`
	Elements []map[string]any   `mapstructure:"element" toml:"element"`
	Timeouts lifecycle.Timeouts `mapstructure:"timeouts" toml:"timeouts"`
}

// Validate checks the shape of the configuration. Element options are
// checked by their factories.
func (c *Config) Validate() error {
	if c.Name == "" {
		return errors.New("binding: name is required")
	}
	if len(c.Elements) == 0 {
		return fmt.Errorf("binding %q: %w", c.Name, ErrNoTransport)
	}
	return c.Timeouts.Validate()
}

// Load builds a binding from cfg using the element factories registered
// with m.
func Load(m *plugin.Manager, cfg Config) (*Binding, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	plugins, err := m.SetupElements(plugin.BindingElement, cfg.Elements)
	if err != nil {
		return nil, fmt.Errorf("binding %q: %w", cfg.Name, err)
	}
	elements := make([]Element, 0, len(plugins))
	for i, p := range plugins {
		e, ok := p.(Element)
		if !ok {
			return nil, fmt.Errorf("binding %q: entry %d (%s) is not a binding element", cfg.Name, i, p.FactoryName())
		}
		elements = append(elements, e)
	}
	return New(cfg.Name, cfg.Timeouts, elements...), nil
}
