package binding

import (
	"errors"
	"reflect"

	"github.com/linchenxuan/conduit/network/channel"
	"github.com/linchenxuan/conduit/network/codec"
)

const (
	BinaryEncodingName = "binaryEncoding"
	JSONEncodingName   = "jsonEncoding"
	CompressionName    = "compression"
)

// DefaultMaxSizeOfHeaders bounds decoded message headers.
const DefaultMaxSizeOfHeaders = 64 << 10

// BinaryEncodingConfig configures the binary encoding element.
type BinaryEncodingConfig struct {
	MaxSizeOfHeaders int  `mapstructure:"maxSizeOfHeaders"`
	Session          bool `mapstructure:"session"`
}

// DefaultBinaryEncodingConfig uses the session dictionary.
func DefaultBinaryEncodingConfig() *BinaryEncodingConfig {
	return &BinaryEncodingConfig{MaxSizeOfHeaders: DefaultMaxSizeOfHeaders, Session: true}
}

func (c *BinaryEncodingConfig) Validate() error {
	if c.MaxSizeOfHeaders <= 0 {
		return errors.New("binding: maxSizeOfHeaders must be positive")
	}
	return nil
}

// JSONEncodingConfig configures the JSON encoding element.
type JSONEncodingConfig struct {
	MaxSizeOfHeaders int `mapstructure:"maxSizeOfHeaders"`
}

func DefaultJSONEncodingConfig() *JSONEncodingConfig {
	return &JSONEncodingConfig{MaxSizeOfHeaders: DefaultMaxSizeOfHeaders}
}

func (c *JSONEncodingConfig) Validate() error {
	if c.MaxSizeOfHeaders <= 0 {
		return errors.New("binding: maxSizeOfHeaders must be positive")
	}
	return nil
}

// EncodingElement selects the message encoder of the stack. It is a pure
// pass-through that fills in Params.Encoder.
type EncodingElement struct {
	name             string
	factory          codec.Factory
	maxSizeOfHeaders int
}

// NewBinaryEncoding returns the binary encoding element.
func NewBinaryEncoding(cfg BinaryEncodingConfig) *EncodingElement {
	return &EncodingElement{
		name:             BinaryEncodingName,
		factory:          codec.NewBinaryFactory(cfg.Session),
		maxSizeOfHeaders: cfg.MaxSizeOfHeaders,
	}
}

// NewJSONEncoding returns the JSON encoding element.
func NewJSONEncoding(cfg JSONEncodingConfig) *EncodingElement {
	return &EncodingElement{
		name:             JSONEncodingName,
		factory:          codec.JSONFactory{},
		maxSizeOfHeaders: cfg.MaxSizeOfHeaders,
	}
}

func (e *EncodingElement) FactoryName() string { return e.name }

// Encoder returns the encoder factory the element installs.
func (e *EncodingElement) Encoder() codec.Factory { return e.factory }

func (e *EncodingElement) apply(ctx *BuildContext) {
	ctx.Params.Encoder = e.factory
	ctx.Params.MaxSizeOfHeaders = e.maxSizeOfHeaders
}

func (e *EncodingElement) CanBuildFactory(shape channel.Shape, ctx *BuildContext) bool {
	trial := ctx.Clone()
	e.apply(trial)
	return trial.CanBuildInnerFactory(shape)
}

func (e *EncodingElement) BuildFactory(shape channel.Shape, ctx *BuildContext) (channel.Factory, error) {
	e.apply(ctx)
	return ctx.BuildInnerFactory(shape)
}

func (e *EncodingElement) CanBuildListener(shape channel.Shape, ctx *BuildContext) bool {
	trial := ctx.Clone()
	e.apply(trial)
	return trial.CanBuildInnerListener(shape)
}

func (e *EncodingElement) BuildListener(shape channel.Shape, ctx *BuildContext) (channel.Listener, error) {
	e.apply(ctx)
	return ctx.BuildInnerListener(shape)
}

func (e *EncodingElement) Clone() Element {
	c := *e
	return &c
}

func (e *EncodingElement) Property(t reflect.Type, ctx *BuildContext) (any, bool) {
	if t == reflect.TypeFor[codec.Factory]() {
		return e.factory, true
	}
	return ctx.InnerProperty(t)
}

// CompressionConfig configures the compression element.
type CompressionConfig struct {
	MaxDecodedSize int `mapstructure:"maxDecodedSize"`
}

func DefaultCompressionConfig() *CompressionConfig {
	return &CompressionConfig{MaxDecodedSize: codec.DefaultMaxDecodedSize}
}

func (c *CompressionConfig) Validate() error {
	if c.MaxDecodedSize <= 0 {
		return errors.New("binding: maxDecodedSize must be positive")
	}
	return nil
}

// CompressionElement wraps the encoder chosen by the preceding encoding
// element with snappy compression. It must follow an encoding element.
type CompressionElement struct {
	cfg CompressionConfig
}

func NewCompression(cfg CompressionConfig) *CompressionElement {
	return &CompressionElement{cfg: cfg}
}

func (e *CompressionElement) FactoryName() string { return CompressionName }

func (e *CompressionElement) apply(ctx *BuildContext) bool {
	if ctx.Params.Encoder == nil {
		return false
	}
	ctx.Params.Encoder = codec.NewSnappyFactory(ctx.Params.Encoder, e.cfg.MaxDecodedSize)
	return true
}

func (e *CompressionElement) CanBuildFactory(shape channel.Shape, ctx *BuildContext) bool {
	trial := ctx.Clone()
	return e.apply(trial) && trial.CanBuildInnerFactory(shape)
}

func (e *CompressionElement) BuildFactory(shape channel.Shape, ctx *BuildContext) (channel.Factory, error) {
	if !e.apply(ctx) {
		return nil, CannotBuild(CompressionName+" without a preceding encoding", shape, "factory")
	}
	return ctx.BuildInnerFactory(shape)
}

func (e *CompressionElement) CanBuildListener(shape channel.Shape, ctx *BuildContext) bool {
	trial := ctx.Clone()
	return e.apply(trial) && trial.CanBuildInnerListener(shape)
}

func (e *CompressionElement) BuildListener(shape channel.Shape, ctx *BuildContext) (channel.Listener, error) {
	if !e.apply(ctx) {
		return nil, CannotBuild(CompressionName+" without a preceding encoding", shape, "listener")
	}
	return ctx.BuildInnerListener(shape)
}

func (e *CompressionElement) Clone() Element {
	c := *e
	return &c
}

func (e *CompressionElement) Property(t reflect.Type, ctx *BuildContext) (any, bool) {
	return ctx.InnerProperty(t)
}
