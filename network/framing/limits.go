package framing

import "errors"

// Limits bounds what a peer may send.
type Limits struct {
	MaxReceivedMessageSize int `mapstructure:"maxReceivedMessageSize" toml:"maxReceivedMessageSize"`
	MaxViaLength           int `mapstructure:"maxViaLength" toml:"maxViaLength"`
	MaxContentTypeLength   int `mapstructure:"maxContentTypeLength" toml:"maxContentTypeLength"`
	MaxFaultLength         int `mapstructure:"maxFaultLength" toml:"maxFaultLength"`
	MaxDictionaryStrings   int `mapstructure:"maxDictionaryStrings" toml:"maxDictionaryStrings"`
}

// DefaultLimits returns a 64 KiB message limit and the standard record limits.
func DefaultLimits() Limits {
	return Limits{
		MaxReceivedMessageSize: 64 << 10,
		MaxViaLength:           2048,
		MaxContentTypeLength:   256,
		MaxFaultLength:         256,
		MaxDictionaryStrings:   4096,
	}
}

// Validate checks that every limit is positive.
func (l Limits) Validate() error {
	switch {
	case l.MaxReceivedMessageSize <= 0 || l.MaxReceivedMessageSize > MaxVarint:
		return errors.New("framing: maxReceivedMessageSize must be in (0, 2^31)")
	case l.MaxViaLength <= 0:
		return errors.New("framing: maxViaLength must be positive")
	case l.MaxContentTypeLength <= 0:
		return errors.New("framing: maxContentTypeLength must be positive")
	case l.MaxFaultLength <= 0:
		return errors.New("framing: maxFaultLength must be positive")
	case l.MaxDictionaryStrings <= 0:
		return errors.New("framing: maxDictionaryStrings must be positive")
	}
	return nil
}
