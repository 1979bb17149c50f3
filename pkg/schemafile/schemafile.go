// Package schemafile builds cfg schemas from YAML documents.
//
// A schema file lists options the way Go code would declare them:
//
//	options:
//	  - name: port
//	    kind: int
//	    default: 8080
//	  - name: server
//	    kind: section
//	    flags: [multi, title]
//	    options:
//	      - name: hosts
//	        kind: string
//	        flags: [list]
//	  - name: include
//	    kind: func
//	    builtin: include
//
// Coercion and function callbacks can be written in Starlark. A coerce
// script defines coerce(raw) returning the converted value; a call script
// defines call(args). Both can report diagnostics with report(msg), read
// options of the current section with get(name) and store them with
// set(name, value). A script rejects its input by calling fail(msg).
package schemafile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/cfgtree/pkg/cfg"
)

// DefaultTimeout bounds a single Starlark callback invocation.
const DefaultTimeout = 5 * time.Second

// LoadOption configures Load.
type LoadOption func(*Loader)

// WithTimeout bounds each Starlark callback. Zero selects DefaultTimeout.
func WithTimeout(d time.Duration) LoadOption {
	return func(l *Loader) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithFunc registers fn under name for options declaring builtin: name.
func WithFunc(name string, fn cfg.FuncCallback) LoadOption {
	return func(l *Loader) {
		l.funcs[name] = fn
	}
}

// Loader turns schema definitions into cfg schemas.
type Loader struct {
	timeout   time.Duration
	funcs     map[string]cfg.FuncCallback
	validator *validator.Validate
}

// NewLoader creates a Loader. The include builtin is always registered.
func NewLoader(opts ...LoadOption) *Loader {
	l := &Loader{
		timeout:   DefaultTimeout,
		funcs:     map[string]cfg.FuncCallback{"include": cfg.Include},
		validator: validator.New(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads a YAML schema document from r.
func Load(r io.Reader, opts ...LoadOption) (cfg.Schema, error) {
	return NewLoader(opts...).Load(r)
}

// LoadFile reads a YAML schema document from path.
func LoadFile(path string, opts ...LoadOption) (cfg.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	schema, err := NewLoader(opts...).Load(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return schema, nil
}

// Load reads a YAML schema document from r.
func (l *Loader) Load(r io.Reader) (cfg.Schema, error) {
	var def Definition
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg.Schema{}, nil
		}
		return nil, fmt.Errorf("failed to parse schema YAML: %w", err)
	}
	return l.Build(&def)
}

// Build converts a decoded definition and validates the result.
func (l *Loader) Build(def *Definition) (cfg.Schema, error) {
	if err := l.validator.Struct(def); err != nil {
		return nil, fmt.Errorf("invalid schema definition: %w", err)
	}
	schema, err := l.build(def.Options, "")
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return schema, nil
}

func (l *Loader) build(defs []OptionDef, path string) (cfg.Schema, error) {
	schema := make(cfg.Schema, 0, len(defs))
	for i := range defs {
		opt, err := l.option(&defs[i], path)
		if err != nil {
			return nil, err
		}
		schema = append(schema, opt)
	}
	return schema, nil
}

func (l *Loader) option(d *OptionDef, path string) (cfg.Option, error) {
	where := path + d.Name
	if d.Name == "" {
		where = path + "*"
	}

	kind, err := parseKind(d.Kind)
	if err != nil {
		return cfg.Option{}, fmt.Errorf("option %s: %w", where, err)
	}
	flags, err := parseFlags(d.Flags)
	if err != nil {
		return cfg.Option{}, fmt.Errorf("option %s: %w", where, err)
	}
	opt := cfg.Option{Name: d.Name, Kind: kind, Flags: flags}

	switch kind {
	case cfg.KindSection:
		if d.Default != nil || d.Coerce != "" {
			return cfg.Option{}, fmt.Errorf("option %s: sections take no default or coerce script", where)
		}
		opt.Schema, err = l.build(d.Options, where+".")
		if err != nil {
			return cfg.Option{}, err
		}
		if opt.Schema == nil {
			opt.Schema = cfg.Schema{}
		}
	case cfg.KindFunc:
		if d.Default != nil || d.Coerce != "" || len(d.Options) > 0 {
			return cfg.Option{}, fmt.Errorf("option %s: function options take no default, options or coerce script", where)
		}
		opt.Func, err = l.funcCallback(d, where)
		if err != nil {
			return cfg.Option{}, err
		}
	default:
		if len(d.Options) > 0 {
			return cfg.Option{}, fmt.Errorf("option %s: only sections have nested options", where)
		}
		opt.Defaults, err = defaults(kind, flags.Has(cfg.FlagList), d.Default)
		if err != nil {
			return cfg.Option{}, fmt.Errorf("option %s: %w", where, err)
		}
		if d.Coerce != "" {
			script, err := compile(where, d.Coerce, "coerce", l.timeout)
			if err != nil {
				return cfg.Option{}, err
			}
			opt.Coerce = script.coerce(kind)
		}
	}

	return opt, nil
}

func (l *Loader) funcCallback(d *OptionDef, where string) (cfg.FuncCallback, error) {
	if d.Builtin != "" {
		fn, ok := l.funcs[d.Builtin]
		if !ok {
			return nil, fmt.Errorf("option %s: unknown builtin %q", where, d.Builtin)
		}
		return fn, nil
	}
	if d.Call == "" {
		return nil, fmt.Errorf("option %s: function options need a call script or builtin", where)
	}
	script, err := compile(where, d.Call, "call", l.timeout)
	if err != nil {
		return nil, err
	}
	return script.call, nil
}

func parseKind(s string) (cfg.Kind, error) {
	switch s {
	case "int":
		return cfg.KindInt, nil
	case "float":
		return cfg.KindFloat, nil
	case "string":
		return cfg.KindString, nil
	case "bool":
		return cfg.KindBool, nil
	case "section":
		return cfg.KindSection, nil
	case "func":
		return cfg.KindFunc, nil
	}
	return cfg.KindNone, fmt.Errorf("unknown kind %q", s)
}

func parseFlags(names []string) (cfg.Flag, error) {
	var flags cfg.Flag
	for _, name := range names {
		switch strings.ToLower(name) {
		case "multi":
			flags |= cfg.FlagMulti
		case "list":
			flags |= cfg.FlagList
		case "nocase":
			flags |= cfg.FlagNoCase
		case "title":
			flags |= cfg.FlagTitle
		case "reset":
			flags |= cfg.FlagReset
		default:
			return 0, fmt.Errorf("unknown flag %q", name)
		}
	}
	return flags, nil
}

// defaults converts a decoded YAML default into values of kind.
func defaults(kind cfg.Kind, list bool, raw any) ([]cfg.Value, error) {
	if raw == nil {
		return nil, nil
	}
	items, isSeq := raw.([]any)
	if isSeq && !list {
		return nil, errors.New("sequence default on a non-list option")
	}
	if !isSeq {
		items = []any{raw}
	}

	out := make([]cfg.Value, 0, len(items))
	for _, item := range items {
		v, err := scalar(kind, item)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func scalar(kind cfg.Kind, raw any) (cfg.Value, error) {
	switch kind {
	case cfg.KindInt:
		switch n := raw.(type) {
		case int:
			return cfg.IntValue(int64(n)), nil
		case int64:
			return cfg.IntValue(n), nil
		case uint64:
			if n > math.MaxInt64 {
				return cfg.Value{}, fmt.Errorf("default %d out of range", n)
			}
			return cfg.IntValue(int64(n)), nil
		}
	case cfg.KindFloat:
		switch n := raw.(type) {
		case float64:
			return cfg.FloatValue(n), nil
		case int:
			return cfg.FloatValue(float64(n)), nil
		case int64:
			return cfg.FloatValue(float64(n)), nil
		}
	case cfg.KindString:
		if s, ok := raw.(string); ok {
			return cfg.StringValue(s), nil
		}
	case cfg.KindBool:
		if b, ok := raw.(bool); ok {
			return cfg.BoolValue(b), nil
		}
	}
	return cfg.Value{}, fmt.Errorf("default %v is not a valid %s", raw, kind)
}
