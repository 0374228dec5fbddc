package unix

import (
	"github.com/linchenxuan/conduit/network/binding"
	"github.com/linchenxuan/conduit/plugin"
)

// NewFactory creates the plugin factory of the net.unix binding element.
func NewFactory() plugin.Factory {
	return binding.NewElementFactory(ElementName, DefaultConfig, func(c *Config) (binding.Element, error) {
		return NewElement(*c), nil
	})
}
