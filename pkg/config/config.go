// Package config loads the conversion settings from YAML or Starlark files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/geneweb/templconv/pkg/bridge"
	"github.com/geneweb/templconv/pkg/format"
	"github.com/geneweb/templconv/pkg/jinjagen"
	"github.com/geneweb/templconv/pkg/template"
	"github.com/geneweb/templconv/pkg/validator"
	"gopkg.in/yaml.v3"
)

// Parser kinds.
const (
	ParserNative  = "native"
	ParserJSON    = "json"
	ParserCommand = "command"
)

var parserKinds = []string{ParserNative, ParserJSON, ParserCommand}

type Config struct {
	InputDir  string `yaml:"input_dir"`
	OutputDir string `yaml:"output_dir"`
	SourceExt string `yaml:"source_ext"`
	OutputExt string `yaml:"output_ext"`
	GraphExt  string `yaml:"graph_ext"`

	ParserKind    string   `yaml:"parser"`
	BridgeLibrary string   `yaml:"bridge_library"`
	ParserCommand []string `yaml:"parser_command"`
	JSONSuffix    string   `yaml:"json_suffix"`

	// Workers bounds the per-template concurrency; 0 means one per CPU.
	Workers      int `yaml:"workers"`
	MaxDepth     int `yaml:"max_depth"`
	TraceWindow  int `yaml:"trace_window"`
	ContextLines int `yaml:"context_lines"`

	Formatter   []string      `yaml:"formatter"`
	Linter      []string      `yaml:"linter"`
	LintTimeout time.Duration `yaml:"lint_timeout"`
	LintReport  string        `yaml:"lint_report"`

	Rules template.Rules `yaml:"rules"`
}

// Default returns the settings used for the geneweb corpus.
func Default() *Config {
	return &Config{
		InputDir:      "hd/etc",
		OutputDir:     "generated_templates",
		SourceExt:     ".txt",
		OutputExt:     "html.j2",
		GraphExt:      "dot",
		ParserKind:    ParserNative,
		BridgeLibrary: "bridge.so",
		JSONSuffix:    ".json",
		MaxDepth:      jinjagen.DefaultMaxDepth,
		TraceWindow:   1,
		ContextLines:  5,
		LintTimeout:   format.DefaultLintTimeout,
		LintReport:    "lint_report.txt",
		Rules:         template.DefaultRules(),
	}
}

// Load reads path according to its extension: .yaml and .yml as YAML, .star
// as Starlark. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(path)
	case ".star":
		return LoadStarlark(path)
	}
	return nil, fmt.Errorf("config: unsupported config file type %q", path)
}

// LoadYAML reads a YAML file over the defaults. Unknown keys are rejected.
func LoadYAML(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer fh.Close()

	cfg := Default()
	dec := yaml.NewDecoder(fh)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	return validator.All(
		validator.NotEmpty(c.InputDir, "input_dir"),
		validator.NotEmpty(c.OutputDir, "output_dir"),
		validator.NotEmpty(c.SourceExt, "source_ext"),
		validator.NotEmpty(c.OutputExt, "output_ext"),
		validator.NotEmpty(c.GraphExt, "graph_ext"),
		validator.MatchesAllowed(c.ParserKind, parserKinds, "parser"),
		c.validateParser(),
		validator.NonNegative(c.Workers, "workers"),
		validator.NonNegative(c.MaxDepth, "max_depth"),
		validator.NonNegative(c.TraceWindow, "trace_window"),
		validator.NonNegative(c.ContextLines, "context_lines"),
		validator.NonNegative(c.LintTimeout, "lint_timeout"),
		validator.Map(c.Rules.AssetExtensions, func(ext, desc string) error {
			return validator.NotEmpty(ext, desc)
		}, "rules.asset_extensions"),
		validator.NoDuplicates(c.Rules.AssetExtensions, "rules.asset_extensions"),
		validator.MapDict(c.Rules.URLPrefixes, func(_ string, p template.URLPrefix, desc string) error {
			return validator.All(
				validator.NotEmpty(p.Category, desc+".category"),
				validator.HasNoJinja(p.Prefix, desc+".prefix"),
			)
		}, "rules.url_prefixes"),
	)
}

func (c *Config) validateParser() error {
	switch c.ParserKind {
	case ParserNative:
		return validator.NotEmpty(c.BridgeLibrary, "bridge_library")
	case ParserCommand:
		return validator.NotEmptySlice(c.ParserCommand, "parser_command")
	case ParserJSON:
		return validator.NotEmpty(c.JSONSuffix, "json_suffix")
	}
	return nil
}

// OpenParser returns the parser selected by the configuration. The caller
// closes it with bridge.Close.
func (c *Config) OpenParser() (bridge.Parser, error) {
	switch c.ParserKind {
	case ParserNative:
		n, err := bridge.NewNative(c.BridgeLibrary)
		if err != nil {
			return nil, fmt.Errorf("config: open native parser: %w", err)
		}
		return n, nil
	case ParserJSON:
		return bridge.JSONFile{Suffix: c.JSONSuffix}, nil
	case ParserCommand:
		return bridge.Command{Argv: c.ParserCommand}, nil
	}
	return nil, fmt.Errorf("config: unknown parser %q", c.ParserKind)
}

// GeneratorOptions returns the generator settings of the configuration.
func (c *Config) GeneratorOptions() []jinjagen.Option {
	return []jinjagen.Option{
		jinjagen.WithMaxDepth(c.MaxDepth),
		jinjagen.WithTraceWindow(c.TraceWindow),
		jinjagen.WithContextLines(c.ContextLines),
		jinjagen.WithIncludeSuffix("." + strings.TrimPrefix(c.OutputExt, ".")),
	}
}
