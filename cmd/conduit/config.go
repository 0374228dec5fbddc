package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/linchenxuan/conduit/lifecycle"
	"github.com/linchenxuan/conduit/log"
	"github.com/linchenxuan/conduit/network/binding"
	"github.com/linchenxuan/conduit/network/channel"
)

type fileConfig struct {
	Shape    string             `toml:"shape"`
	Listen   string             `toml:"listen"`
	Address  string             `toml:"address"`
	Log      log.LogCfg         `toml:"log"`
	Timeouts lifecycle.Timeouts `toml:"timeouts"`
	Binding  binding.Config     `toml:"binding"`
	Plugin   map[string]any     `toml:"plugin"`
}

// serviceConfig is the resolved configuration of both subcommands.
type serviceConfig struct {
	// Duplex selects duplex sessions instead of request/reply exchanges.
	Duplex  bool
	Listen  channel.EndpointAddress
	Address channel.EndpointAddress
	Log     log.LogCfg
	Binding binding.Config
	Plugin  map[string]any
}

func defaultServiceConfig() serviceConfig {
	return serviceConfig{
		Log: *log.DefaultLogCfg(),
		Binding: binding.Config{
			Name: "default",
			Elements: []map[string]any{
				{"name": binding.BinaryEncodingName},
				{"name": "net.tcp"},
			},
			Timeouts: lifecycle.DefaultTimeouts(),
		},
	}
}

func loadServiceConfig(path string) (serviceConfig, error) {
	cfg := defaultServiceConfig()

	raw := fileConfig{Log: cfg.Log}
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return serviceConfig{}, fmt.Errorf("load conduit config: %w", err)
	}
	if unknown := unknownKeys(meta); len(unknown) > 0 {
		return serviceConfig{}, fmt.Errorf("load conduit config: unknown keys %v", unknown)
	}

	if meta.IsDefined("shape") {
		switch strings.TrimSpace(raw.Shape) {
		case "reply", "request":
		case "duplex":
			cfg.Duplex = true
		default:
			return serviceConfig{}, fmt.Errorf("shape %q: want reply or duplex", raw.Shape)
		}
	}
	if meta.IsDefined("listen") {
		if cfg.Listen, err = channel.ParseAddress(strings.TrimSpace(raw.Listen)); err != nil {
			return serviceConfig{}, err
		}
	}
	if meta.IsDefined("address") {
		if cfg.Address, err = channel.ParseAddress(strings.TrimSpace(raw.Address)); err != nil {
			return serviceConfig{}, err
		}
	}
	if meta.IsDefined("log") {
		cfg.Log = raw.Log
	}
	if meta.IsDefined("timeouts") {
		cfg.Binding.Timeouts = raw.Timeouts.Merge(cfg.Binding.Timeouts)
	}
	if meta.IsDefined("binding") {
		t := cfg.Binding.Timeouts
		cfg.Binding = raw.Binding
		cfg.Binding.Timeouts = raw.Binding.Timeouts.Merge(t)
		if cfg.Binding.Name == "" {
			cfg.Binding.Name = "default"
		}
	}
	if meta.IsDefined("plugin") {
		cfg.Plugin = raw.Plugin
	}

	if err := cfg.Log.Validate(); err != nil {
		return serviceConfig{}, fmt.Errorf("log: %w", err)
	}
	if err := cfg.Binding.Validate(); err != nil {
		return serviceConfig{}, err
	}
	if cfg.Listen.IsZero() && cfg.Address.IsZero() {
		return serviceConfig{}, errors.New("one of listen or address is required")
	}
	return cfg, nil
}

// unknownKeys reports undecoded keys outside the plugin table. Plugin
// sections are decoded later by each plugin factory.
func unknownKeys(meta toml.MetaData) []toml.Key {
	var unknown []toml.Key
	for _, k := range meta.Undecoded() {
		if len(k) > 0 && k[0] == "plugin" {
			continue
		}
		unknown = append(unknown, k)
	}
	return unknown
}
