package cfg

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Schema is an ordered list of option declarations. It is supplied by the
// caller and must not be modified while a parse that uses it is running.
type Schema []Option

var validate = validator.New()

// Validate checks the schema and every nested section schema.
func (s Schema) Validate() error {
	return s.validate("root")
}

func (s Schema) validate(path string) error {
	var errs []error
	seen := make(map[string]bool, len(s))
	anonymous := 0

	for i := range s {
		opt := &s[i]
		where := fmt.Sprintf("%s.%s", path, opt.Name)
		if opt.Name == "" {
			where = fmt.Sprintf("%s[%d]", path, i)
			anonymous++
		}

		if err := validate.Struct(opt); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", where, err))
			continue
		}
		if strings.ContainsAny(opt.Name, " \t\r\n\"'") {
			errs = append(errs, fmt.Errorf("%s: name contains whitespace or quotes", where))
		}

		if opt.Name != "" && seen[opt.Name] {
			errs = append(errs, fmt.Errorf("%s: declared twice", where))
		}
		seen[opt.Name] = true

		if err := opt.check(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", where, err))
		}

		if opt.Kind == KindSection {
			if err := opt.Schema.validate(where); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if anonymous > 1 {
		errs = append(errs, fmt.Errorf("%s: more than one catch-all option", path))
	}

	return errors.Join(errs...)
}

// check enforces the per-kind rules that struct tags cannot express.
func (o *Option) check() error {
	switch o.Kind {
	case KindSection:
		if o.Coerce != nil || o.Func != nil || o.Bind != nil {
			return errors.New("section options take no callbacks or binding")
		}
		if o.Flags.Has(FlagList) {
			return errors.New("section options cannot be lists")
		}
		if len(o.Defaults) > 0 {
			return errors.New("section options have no default")
		}
		if o.Name == "" {
			return errors.New("section options must be named")
		}
	case KindFunc:
		if o.Func == nil {
			return errors.New("function option without callback")
		}
		if o.Name == "" {
			return errors.New("function options must be named")
		}
		if o.Flags != FlagNone || o.Bind != nil || o.Coerce != nil {
			return errors.New("function options take no flags, binding or coercion")
		}
	default:
		if o.Schema != nil {
			return errors.New("only sections have a nested schema")
		}
		if o.Func != nil {
			return errors.New("only function options have a function callback")
		}
		if o.Flags.Has(FlagTitle) {
			return errors.New("only sections can be titled")
		}
		for _, d := range o.Defaults {
			if d.Kind() != o.Kind {
				return fmt.Errorf("default %s is not of kind %s", d, o.Kind)
			}
		}
		if len(o.Defaults) > 1 && !o.Flags.Has(FlagList) {
			return errors.New("multiple defaults on a non-list option")
		}
	}

	if o.Bind != nil {
		if o.Flags.Has(FlagList) || o.Flags.Has(FlagMulti) {
			return errors.New("bound options cannot be lists or repeatable")
		}
		if o.Bind.Kind() != o.Kind {
			return fmt.Errorf("binding accepts %s, option is %s", o.Bind.Kind(), o.Kind)
		}
		if o.Name == "" {
			return errors.New("bound options must be named")
		}
	}

	return nil
}

// Lookup finds the option declared for name. When nocase is true, or the
// option carries FlagNoCase, names compare without regard to case. The
// catch-all option, if any, is returned only when nothing else matches.
func (s Schema) Lookup(name string, nocase bool) *Option {
	var fallback *Option
	for i := range s {
		opt := &s[i]
		if opt.Name == "" {
			fallback = opt
			continue
		}
		if opt.Name == name {
			return opt
		}
		if (nocase || opt.Flags.Has(FlagNoCase)) && strings.EqualFold(opt.Name, name) {
			return opt
		}
	}
	return fallback
}
