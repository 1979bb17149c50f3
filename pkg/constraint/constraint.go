// Package constraint validates parsed configuration trees with CUE.
//
// A constraint is a CUE source unified with the tree's plain value view
// (cfg.Section.Map). When the source defines a #Config definition, the
// tree is unified with that definition, which closes it: options the
// definition does not mention are rejected. Otherwise the whole source is
// used. Every error of the unified value becomes one finding.
//
//	#Config: {
//	    port:  int & >=1024 & <=65535
//	    hosts: [...string] & [_, ...]
//	}
package constraint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/rs/zerolog"

	"github.com/openfroyo/cfgtree/pkg/cfg"
	"github.com/openfroyo/cfgtree/pkg/loader"
)

// definition is the name of the definition a constraint file may use to
// describe the root section.
const definition = "#Config"

// Checker manages named CUE constraints. It implements loader.Checker.
// A cue.Context is not safe for concurrent use, so every operation holds
// mu.
type Checker struct {
	ctx         *cue.Context
	constraints map[string]cue.Value
	mu          sync.Mutex
	logger      zerolog.Logger
}

// New creates a Checker without constraints.
func New(logger zerolog.Logger) *Checker {
	return &Checker{
		ctx:         cuecontext.New(),
		constraints: make(map[string]cue.Value),
		logger:      logger.With().Str("component", "constraint").Logger(),
	}
}

// Register compiles src and stores it under name, replacing any constraint
// of the same name.
func (c *Checker) Register(name, src string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	val := c.ctx.CompileString(src, cue.Filename(name))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile constraint %s: %w", name, err)
	}
	if def := val.LookupPath(cue.ParsePath(definition)); def.Exists() {
		val = def
	}

	c.constraints[name] = val
	return nil
}

// LoadPaths registers every .cue file found in paths. Directories are
// walked recursively. Constraints are named after their file without the
// extension.
func (c *Checker) LoadPaths(paths []string) error {
	for _, path := range paths {
		files, err := cueFiles(path)
		if err != nil {
			return err
		}
		for _, file := range files {
			src, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read constraint: %w", err)
			}
			name := strings.TrimSuffix(filepath.Base(file), ".cue")
			if err := c.Register(name, string(src)); err != nil {
				return err
			}
			c.logger.Debug().Str("path", file).Str("constraint", name).Msg("Constraint loaded")
		}
	}
	return nil
}

func cueFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(p, ".cue") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}
	return files, nil
}

// Names returns the registered constraint names, sorted.
func (c *Checker) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.constraints))
	for name := range c.constraints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Name implements loader.Checker.
func (c *Checker) Name() string { return "constraint" }

// Check unifies tree with every constraint, in name order.
func (c *Checker) Check(_ context.Context, tree *cfg.Section) ([]loader.Finding, error) {
	var findings []loader.Finding
	for _, name := range c.Names() {
		err := c.Validate(name, tree.Map())
		if err == nil {
			continue
		}
		var verr *validationError
		if !errors.As(err, &verr) {
			return nil, err
		}
		for _, e := range cueerrors.Errors(verr.err) {
			format, args := e.Msg()
			findings = append(findings, loader.Finding{
				Checker:  "constraint",
				Rule:     name,
				Path:     strings.Join(e.Path(), "."),
				Severity: loader.SeverityError,
				Message:  fmt.Sprintf(format, args...),
			})
		}
	}
	return findings, nil
}

// validationError marks errors produced by unification rather than by a
// missing constraint or unencodable data.
type validationError struct{ err error }

func (e *validationError) Error() string { return "validation failed: " + e.err.Error() }
func (e *validationError) Unwrap() error { return e.err }

// Validate checks data against the named constraint. All values must be
// concrete after unification.
func (c *Checker) Validate(name string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	constraint, ok := c.constraints[name]
	if !ok {
		return fmt.Errorf("constraint %s not found", name)
	}

	dataVal := c.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := constraint.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &validationError{err: err}
	}
	return nil
}
