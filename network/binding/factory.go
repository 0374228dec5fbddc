package binding

import (
	"fmt"

	"github.com/linchenxuan/conduit/plugin"
)

// Validator is implemented by element configurations.
type Validator interface {
	Validate() error
}

// ElementFactory adapts an element constructor to plugin.Factory. C is the
// configuration struct the manager decodes each element entry into.
type ElementFactory[C any] struct {
	name     string
	defaults func() *C
	build    func(*C) (Element, error)
}

// NewElementFactory returns a factory registering build under name.
func NewElementFactory[C any](name string, defaults func() *C, build func(*C) (Element, error)) *ElementFactory[C] {
	return &ElementFactory[C]{name: name, defaults: defaults, build: build}
}

func (f *ElementFactory[C]) Type() plugin.Type { return plugin.BindingElement }
func (f *ElementFactory[C]) Name() string      { return f.name }
func (f *ElementFactory[C]) ConfigType() any   { return f.defaults() }

func (f *ElementFactory[C]) Setup(v any) (plugin.Plugin, error) {
	cfg, ok := v.(*C)
	if !ok {
		return nil, fmt.Errorf("binding: %s: invalid config type %T", f.name, v)
	}
	if val, ok := any(cfg).(Validator); ok {
		if err := val.Validate(); err != nil {
			return nil, err
		}
	}
	return f.build(cfg)
}

func (f *ElementFactory[C]) Destroy(plugin.Plugin) {}

// Factories returns the plugin factories of the elements in this package.
// Transport packages provide their own.
func Factories() []plugin.Factory {
	return []plugin.Factory{
		NewElementFactory(BinaryEncodingName, DefaultBinaryEncodingConfig, func(c *BinaryEncodingConfig) (Element, error) {
			return NewBinaryEncoding(*c), nil
		}),
		NewElementFactory(JSONEncodingName, DefaultJSONEncodingConfig, func(c *JSONEncodingConfig) (Element, error) {
			return NewJSONEncoding(*c), nil
		}),
		NewElementFactory(CompressionName, DefaultCompressionConfig, func(c *CompressionConfig) (Element, error) {
			return NewCompression(*c), nil
		}),
		NewElementFactory(ThrottleName, DefaultThrottleConfig, func(c *ThrottleConfig) (Element, error) {
			return NewThrottleElement(*c), nil
		}),
		NewElementFactory(DuplexRequestName, DefaultDuplexRequestConfig, func(*DuplexRequestConfig) (Element, error) {
			return NewDuplexRequestElement(), nil
		}),
	}
}
