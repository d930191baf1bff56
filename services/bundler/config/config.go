// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the bundler project file (aleutianpack.yaml).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianPack/services/bundler/resolve"
	"github.com/AleutianAI/AleutianPack/services/bundler/transform"
)

// FileName is the project file looked up in the working directory.
const FileName = "aleutianpack.yaml"

// Modes.
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the project configuration.
type Config struct {
	// Root is the project root. Relative roots are resolved against the
	// directory of the config file.
	Root string `yaml:"root"`

	// Entries are module paths relative to Root.
	Entries []string `yaml:"entries" validate:"required,min=1,dive,required"`

	Mode string `yaml:"mode" validate:"oneof=development production"`

	Watch bool `yaml:"watch"`

	// Workers sizes the build pool. Zero uses the CPU count.
	Workers int `yaml:"workers" validate:"gte=0,lte=256"`

	TreeShaking bool `yaml:"tree_shaking"`
	Concatenate bool `yaml:"concatenate"`

	Externals map[string]resolve.External `yaml:"externals" validate:"dive"`
	Alias     map[string]string           `yaml:"alias" validate:"dive,required"`

	// Ignores are regular expressions matched against raw specifiers.
	Ignores []string `yaml:"ignores" validate:"dive,regexp"`

	// Define maps dotted globals to JavaScript expressions.
	Define map[string]string `yaml:"define" validate:"dive,required"`

	Provide map[string]transform.Provided `yaml:"provide" validate:"dive"`

	DynamicImportToRequire bool `yaml:"dynamic_import_to_require"`

	// SideEffectsDefault is the verdict for files whose package does not
	// declare "sideEffects".
	SideEffectsDefault bool `yaml:"side_effects_default"`

	Cache CacheConfig `yaml:"cache"`
	Log   LogConfig   `yaml:"log"`
}

// CacheConfig configures the compiler cache.
type CacheConfig struct {
	// Dir enables the persistent tier. Relative to Root.
	Dir string `yaml:"dir"`

	MemoryEntries int `yaml:"memory_entries" validate:"gte=0"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used for fields a file leaves out.
func Default() Config {
	return Config{
		Mode:               ModeProduction,
		TreeShaking:        true,
		Concatenate:        true,
		SideEffectsDefault: true,
		Cache: CacheConfig{
			MemoryEntries: 2048,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("regexp", func(fl validator.FieldLevel) bool {
		_, err := regexp.Compile(fl.Field().String())
		return err == nil
	})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Load reads and validates a config file.
//
// # Inputs
//
//   - path: The YAML file.
//
// # Outputs
//
//   - *Config: Defaults overlaid with the file, Root made absolute.
//   - error: Read and decode errors, or ErrInvalidConfig.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path %s: %w", path, err)
	}
	cfg, err := Parse(data, filepath.Dir(abs))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default and validates the result. Unknown keys
// are rejected. baseDir anchors a relative Root.
func Parse(data []byte, baseDir string) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	switch {
	case cfg.Root == "":
		cfg.Root = baseDir
	case !filepath.IsAbs(cfg.Root):
		cfg.Root = filepath.Join(baseDir, cfg.Root)
	}
	cfg.Root = filepath.Clean(cfg.Root)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

// IsProduction reports production mode.
func (c *Config) IsProduction() bool {
	return c.Mode == ModeProduction
}

// EntryPaths returns the entries as absolute paths.
func (c *Config) EntryPaths() []string {
	out := make([]string, 0, len(c.Entries))
	for _, e := range c.Entries {
		if filepath.IsAbs(e) {
			out = append(out, filepath.Clean(e))
			continue
		}
		out = append(out, filepath.Join(c.Root, e))
	}
	return out
}

// CompiledIgnores compiles Ignores.
func (c *Config) CompiledIgnores() ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(c.Ignores))
	for _, pattern := range c.Ignores {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: ignores: %w", ErrInvalidConfig, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Defines returns Define with process.env.NODE_ENV set from Mode unless
// the file sets it.
func (c *Config) Defines() map[string]string {
	out := make(map[string]string, len(c.Define)+1)
	for k, v := range c.Define {
		out[k] = v
	}
	if _, ok := out["process.env.NODE_ENV"]; !ok {
		out["process.env.NODE_ENV"] = strconv.Quote(c.Mode)
	}
	return out
}

// CacheDir returns the persistent cache directory, or "" when disabled.
func (c *Config) CacheDir() string {
	if c.Cache.Dir == "" || filepath.IsAbs(c.Cache.Dir) {
		return c.Cache.Dir
	}
	return filepath.Join(c.Root, c.Cache.Dir)
}
