// Package source provides character sources for cfg parses and includes.
//
// Resolvers turn the argument of an include directive into an open
// cfg.Source. Relative names resolve against the directory of the source
// containing the directive.
package source

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/openfroyo/cfgtree/pkg/cfg"
)

// ExpandTilde replaces a leading "~" or "~/" with the home directory of the
// current user. Other names are returned unchanged.
func ExpandTilde(name string) (string, error) {
	if name != "~" && !strings.HasPrefix(name, "~/") {
		return name, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", name, err)
	}
	return filepath.Join(home, strings.TrimPrefix(name, "~")), nil
}

// Files resolves names on the local filesystem.
type Files struct {
	// Dir anchors relative names that have no includer, typically the
	// working directory. Empty means the process working directory.
	Dir string
}

// Resolve opens name. Relative names are taken relative to the directory of
// from when from is a local file.
func (f Files) Resolve(name, from string) (*cfg.Source, error) {
	path, err := ExpandTilde(name)
	if err != nil {
		return nil, err
	}
	if !filepath.IsAbs(path) {
		switch {
		case from != "" && !strings.Contains(from, "://"):
			path = filepath.Join(filepath.Dir(from), path)
		case f.Dir != "":
			path = filepath.Join(f.Dir, path)
		}
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &cfg.Source{Name: path, ReadCloser: file}, nil
}

// Open opens a local file as the top-level source of a parse.
func Open(name string) (*cfg.Source, error) {
	return Files{}.Resolve(name, "")
}

// Memory serves sources from a map of name to content. Names are matched
// exactly.
type Memory map[string]string

// Resolve returns the content stored under name.
func (m Memory) Resolve(name, _ string) (*cfg.Source, error) {
	text, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, os.ErrNotExist)
	}
	return &cfg.Source{Name: name, ReadCloser: io.NopCloser(strings.NewReader(text))}, nil
}

// Mux dispatches on the URL scheme of a name. Names without a scheme use
// the scheme of the includer, so relative includes stay on the same
// backend; names with neither go to Default.
type Mux struct {
	Default cfg.Resolver
	schemes map[string]cfg.Resolver
}

// NewMux returns a Mux falling back to def.
func NewMux(def cfg.Resolver) *Mux {
	return &Mux{Default: def, schemes: make(map[string]cfg.Resolver)}
}

// Handle registers r for names starting with scheme "://".
func (m *Mux) Handle(scheme string, r cfg.Resolver) {
	m.schemes[strings.ToLower(scheme)] = r
}

// Schemes lists the registered schemes in order.
func (m *Mux) Schemes() []string {
	out := make([]string, 0, len(m.schemes))
	for s := range m.schemes {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Resolve implements cfg.Resolver.
func (m *Mux) Resolve(name, from string) (*cfg.Source, error) {
	scheme := Scheme(name)
	if scheme == "" {
		scheme = Scheme(from)
	}
	if scheme == "" {
		if m.Default == nil {
			return nil, fmt.Errorf("no resolver for %s", name)
		}
		return m.Default.Resolve(name, from)
	}
	r, ok := m.schemes[scheme]
	if !ok {
		return nil, fmt.Errorf("unsupported scheme %q in %s", scheme, name)
	}
	return r.Resolve(name, from)
}

// Scheme returns the lowercase URL scheme of name, or "".
func Scheme(name string) string {
	scheme, _, ok := strings.Cut(name, "://")
	if !ok || scheme == "" || strings.ContainsAny(scheme, "/\\") {
		return ""
	}
	return strings.ToLower(scheme)
}
