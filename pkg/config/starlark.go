package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"

	"go.starlark.net/starlark"
	"gopkg.in/yaml.v3"
)

// LoadStarlark executes a Starlark file and reads the configuration from its
// module globals, using the same keys as the YAML format. Globals starting
// with an underscore and functions are private to the script.
//
// The script sees the predeclared env(name, default="") builtin.
func LoadStarlark(path string) (*Config, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := evalStarlark(path, src)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func evalStarlark(filename string, src []byte) (*Config, error) {
	thread := &starlark.Thread{
		Name: "templconv-config",
		Print: func(_ *starlark.Thread, msg string) {
			slog.Info("config script", "file", filename, "msg", msg)
		},
	}
	globals, err := starlark.ExecFile(thread, filename, src, builtins())
	if err != nil {
		return nil, fmt.Errorf("starlark execution error: %w", err)
	}

	settings := make(map[string]any, len(globals))
	for _, name := range globals.Keys() {
		if !isExportable(name, globals[name]) {
			continue
		}
		v, err := fromStarlark(globals[name])
		if err != nil {
			return nil, fmt.Errorf("global %s: %w", name, err)
		}
		settings[name] = v
	}

	// Round-trip through YAML so both formats share field names and
	// decoding rules.
	data, err := yaml.Marshal(settings)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode globals: %w", err)
	}
	return cfg, nil
}

func builtins() starlark.StringDict {
	return starlark.StringDict{
		"env": starlark.NewBuiltin("env", func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name, def string
			if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "default?", &def); err != nil {
				return nil, err
			}
			if v, ok := os.LookupEnv(name); ok {
				return starlark.String(v), nil
			}
			return starlark.String(def), nil
		}),
	}
}

func isExportable(name string, v starlark.Value) bool {
	if name == "" || name[0] == '_' {
		return false
	}
	switch v.(type) {
	case *starlark.Function, *starlark.Builtin:
		return false
	}
	return true
}

// fromStarlark converts a Starlark value into plain Go values.
func fromStarlark(val starlark.Value) (any, error) {
	switch v := val.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.String:
		return string(v), nil
	case starlark.Bool:
		return bool(v), nil
	case starlark.Int:
		i, ok := v.Int64()
		if !ok {
			return nil, fmt.Errorf("integer %s out of range", v)
		}
		return i, nil
	case starlark.Float:
		return float64(v), nil
	case *starlark.List:
		return fromIterable(v, v.Len())
	case starlark.Tuple:
		return fromIterable(v, v.Len())
	case *starlark.Dict:
		out := make(map[string]any, v.Len())
		for _, item := range v.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key %s is not a string", item[0])
			}
			value, err := fromStarlark(item[1])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			out[string(key)] = value
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported value of type %s", val.Type())
}

func fromIterable(it starlark.Iterable, n int) ([]any, error) {
	out := make([]any, 0, n)
	iter := it.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		v, err := fromStarlark(x)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", len(out), err)
		}
		out = append(out, v)
	}
	return out, nil
}
