// nocord - A terminal Matrix client.
// Copyright (C) 2026 The nocord authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/rs/zerolog"
	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

const (
	DefaultHistoryLimit  = 50
	DefaultMaxBodyLength = 100
)

type Config struct {
	Homeserver        string `yaml:"homeserver"`
	DeviceDisplayName string `yaml:"device_display_name"`

	Database     string `yaml:"database"`
	HistoryLimit int    `yaml:"history_limit"`

	Notifications NotificationConfig `yaml:"notifications"`
	Crypto        CryptoConfig       `yaml:"crypto"`
	Logging       LoggingConfig      `yaml:"logging"`

	// dir is where the config file was loaded from, for resolving paths.
	dir string
}

type NotificationConfig struct {
	Enabled       bool   `yaml:"enabled"`
	MaxBodyLength int    `yaml:"max_body_length"`
	TitleTemplate string `yaml:"title_template"`
	titleTemplate *template.Template
}

type CryptoConfig struct {
	Enabled   bool   `yaml:"enabled"`
	PickleKey string `yaml:"pickle_key"`
	Database  string `yaml:"database"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	level zerolog.Level
}

func (c *LoggingConfig) ZerologLevel() zerolog.Level {
	return c.level
}

type umConfig Config

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	err := node.Decode((*umConfig)(c))
	if err != nil {
		return err
	}
	return c.PostProcess()
}

func (c *Config) PostProcess() error {
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	if c.Notifications.MaxBodyLength <= 0 {
		c.Notifications.MaxBodyLength = DefaultMaxBodyLength
	}
	if c.DeviceDisplayName == "" {
		c.DeviceDisplayName = "nocord"
	}
	var err error
	c.Notifications.titleTemplate, err = template.New("title").Parse(c.Notifications.TitleTemplate)
	if err != nil {
		return fmt.Errorf("invalid notifications.title_template: %w", err)
	}
	if c.Logging.Level == "" {
		c.Logging.level = zerolog.InfoLevel
	} else if c.Logging.level, err = zerolog.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level: %w", err)
	}
	return nil
}

// Default returns the example config.
func Default() (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(ExampleConfig), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse example config: %w", err)
	}
	return &cfg, nil
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "homeserver")
	helper.Copy(up.Str, "device_display_name")
	helper.Copy(up.Str, "database")
	helper.Copy(up.Int, "history_limit")
	helper.Copy(up.Bool, "notifications", "enabled")
	helper.Copy(up.Int, "notifications", "max_body_length")
	helper.Copy(up.Str, "notifications", "title_template")
	helper.Copy(up.Bool, "crypto", "enabled")
	helper.Copy(up.Str, "crypto", "pickle_key")
	helper.Copy(up.Str, "crypto", "database")
	helper.Copy(up.Str, "logging", "level")
}

var upgrader = &up.StructUpgrader{
	SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
	Blocks: [][]string{
		{"database"},
		{"notifications"},
		{"crypto"},
		{"logging"},
	},
	Base: ExampleConfig,
}

// Load reads the config at path merged over the example config. A missing
// file is not an error.
func Load(path string) (*Config, error) {
	data, _, err := up.Do(path, false, upgrader)
	if errors.Is(err, os.ErrNotExist) {
		cfg, err := Default()
		if err != nil {
			return nil, err
		}
		cfg.dir = filepath.Dir(path)
		return cfg, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.dir = filepath.Dir(path)
	return &cfg, nil
}

// Upgrade rewrites the config at path with every option of the example
// config, keeping the values already set.
func Upgrade(path string) error {
	if _, _, err := up.Do(path, true, upgrader); err != nil {
		return fmt.Errorf("failed to upgrade config %s: %w", path, err)
	}
	return nil
}

// ResolvePath resolves p against the config file's directory.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || c.dir == "" {
		return p
	}
	return filepath.Join(c.dir, p)
}

type TitleParams struct {
	Sender   string
	RoomName string
}

func (c *Config) FormatNotificationTitle(sender, roomName string) string {
	fallback := fmt.Sprintf("%s in %s", sender, roomName)
	if c.Notifications.titleTemplate == nil {
		return fallback
	}
	var buf strings.Builder
	err := c.Notifications.titleTemplate.Execute(&buf, &TitleParams{Sender: sender, RoomName: roomName})
	if err != nil {
		return fallback
	}
	title := strings.TrimSpace(buf.String())
	if title == "" {
		return fallback
	}
	return title
}
