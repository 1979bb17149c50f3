package schemafile

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/cfgtree/pkg/cfg"
)

const ctxKey = "cfg.context"

// script is a compiled Starlark callback. Its globals are frozen, so one
// script may run on several threads at once.
type script struct {
	name    string
	fn      starlark.Callable
	timeout time.Duration
}

// compile executes src and returns its entry function.
func compile(name, src, entry string, timeout time.Duration) (*script, error) {
	thread := &starlark.Thread{
		Name:  name,
		Print: func(_ *starlark.Thread, msg string) {},
	}
	globals, err := starlark.ExecFile(thread, name+".star", src, predeclared())
	if err != nil {
		return nil, fmt.Errorf("option %s: starlark execution failed: %w", name, err)
	}
	globals.Freeze()

	fn, ok := globals[entry].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("option %s: script does not define %s()", name, entry)
	}
	return &script{name: name, fn: fn, timeout: timeout}, nil
}

func predeclared() starlark.StringDict {
	return starlark.StringDict{
		"struct": starlarkstruct.Default,
		"report": starlark.NewBuiltin("report", builtinReport),
		"get":    starlark.NewBuiltin("get", builtinGet),
		"set":    starlark.NewBuiltin("set", builtinSet),
	}
}

// run calls the entry function with args under the script timeout.
func (s *script) run(ctx *cfg.Context, args ...starlark.Value) (starlark.Value, error) {
	thread := &starlark.Thread{
		Name:  s.name,
		Print: func(_ *starlark.Thread, msg string) {},
	}
	thread.SetLocal(ctxKey, ctx)

	timer := time.AfterFunc(s.timeout, func() {
		thread.Cancel(fmt.Sprintf("execution timeout after %v", s.timeout))
	})
	defer timer.Stop()

	result, err := starlark.Call(thread, s.fn, starlark.Tuple(args), nil)
	if err != nil {
		ctx.Errorf("%s", failure(err))
		return nil, err
	}
	return result, nil
}

// coerce adapts the script to a cfg.CoerceFunc for options of kind.
func (s *script) coerce(kind cfg.Kind) cfg.CoerceFunc {
	return func(ctx *cfg.Context, raw string) (cfg.Value, error) {
		result, err := s.run(ctx, starlark.String(raw))
		if err != nil {
			return cfg.Value{}, err
		}
		v, err := toValue(result)
		if err != nil {
			ctx.Errorf("coerce for option '%s' returned %s", ctx.Name, result.Type())
			return cfg.Value{}, err
		}
		if kind == cfg.KindFloat && v.Kind() == cfg.KindInt {
			v = cfg.FloatValue(float64(v.Int()))
		}
		return v, nil
	}
}

// call is the cfg.FuncCallback form of the script.
func (s *script) call(ctx *cfg.Context, args []string) error {
	list := make([]starlark.Value, len(args))
	for i, a := range args {
		list[i] = starlark.String(a)
	}
	_, err := s.run(ctx, starlark.NewList(list))
	return err
}

// failure extracts the message of a Starlark error, without the fail()
// prefix and backtrace.
func failure(err error) string {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return strings.TrimPrefix(evalErr.Msg, "fail: ")
	}
	return err.Error()
}

func parseContext(thread *starlark.Thread, b *starlark.Builtin) (*cfg.Context, error) {
	ctx, ok := thread.Local(ctxKey).(*cfg.Context)
	if !ok || ctx == nil {
		return nil, fmt.Errorf("%s: only available while parsing", b.Name())
	}
	return ctx, nil
}

// builtinReport implements report(msg).
func builtinReport(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var msg string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &msg); err != nil {
		return nil, err
	}
	ctx, err := parseContext(thread, b)
	if err != nil {
		return nil, err
	}
	ctx.Errorf("%s", msg)
	return starlark.None, nil
}

// builtinGet implements get(name), returning the current value of an option
// in the section being parsed. Lists and repeatable options yield a list.
func builtinGet(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	ctx, err := parseContext(thread, b)
	if err != nil {
		return nil, err
	}
	ov := ctx.Section.Opt(name)
	if ov == nil {
		return nil, fmt.Errorf("%s: no such option '%s'", b.Name(), name)
	}
	values := ov.Values()
	if ov.Spec().Flags.Has(cfg.FlagList) || ov.Spec().Flags.Has(cfg.FlagMulti) {
		list := make([]starlark.Value, 0, len(values))
		for _, v := range values {
			sv, err := toStarlarkValue(v.Interface())
			if err != nil {
				return nil, err
			}
			list = append(list, sv)
		}
		return starlark.NewList(list), nil
	}
	if len(values) == 0 {
		return starlark.None, nil
	}
	return toStarlarkValue(values[0].Interface())
}

// builtinSet implements set(name, value). A list value replaces all values
// of a list option.
func builtinSet(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var value starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &name, &value); err != nil {
		return nil, err
	}
	ctx, err := parseContext(thread, b)
	if err != nil {
		return nil, err
	}

	if list, ok := value.(*starlark.List); ok {
		values := make([]cfg.Value, 0, list.Len())
		for i := 0; i < list.Len(); i++ {
			v, err := toValue(list.Index(i))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", b.Name(), err)
			}
			values = append(values, v)
		}
		err = ctx.Section.SetList(name, values)
	} else {
		var v cfg.Value
		if v, err = toValue(value); err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		err = setScalar(ctx.Section, name, v)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.None, nil
}

func setScalar(sec *cfg.Section, name string, v cfg.Value) error {
	switch v.Kind() {
	case cfg.KindInt:
		if ov := sec.Opt(name); ov != nil && ov.Spec().Kind == cfg.KindFloat {
			return sec.SetFloat(name, float64(v.Int()))
		}
		return sec.SetInt(name, v.Int())
	case cfg.KindFloat:
		return sec.SetFloat(name, v.Float())
	case cfg.KindString:
		return sec.SetStr(name, v.Str())
	case cfg.KindBool:
		return sec.SetBool(name, v.Bool())
	}
	return fmt.Errorf("cannot store %s", v.Kind())
}

// toValue converts a scalar Starlark value to a cfg.Value.
func toValue(v starlark.Value) (cfg.Value, error) {
	goVal, err := fromStarlarkValue(v)
	if err != nil {
		return cfg.Value{}, err
	}
	switch val := goVal.(type) {
	case int64:
		return cfg.IntValue(val), nil
	case float64:
		return cfg.FloatValue(val), nil
	case string:
		return cfg.StringValue(val), nil
	case bool:
		return cfg.BoolValue(val), nil
	}
	return cfg.Value{}, fmt.Errorf("unsupported value type %s", v.Type())
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			starlarkVal, err := toStarlarkValue(v)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a scalar Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
