// Package env composes the environment handed to launched entries.
package env

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

type Env struct {
	base map[string]string // inherited OS environment
	vars map[string]string
}

// New returns an empty environment. With inheritOS the launcher's own
// environment is the base that configured variables override.
func New(inheritOS bool) *Env {
	e := &Env{base: map[string]string{}, vars: map[string]string{}}
	if inheritOS {
		for _, kv := range os.Environ() {
			if k, v, ok := split(kv); ok {
				e.base[k] = v
			}
		}
	}
	return e
}

func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	e.vars[k] = v
}

// SetPairs applies KEY=VALUE entries; malformed ones are skipped.
func (e *Env) SetPairs(pairs []string) {
	for _, kv := range pairs {
		if k, v, ok := split(kv); ok {
			e.Set(k, v)
		}
	}
}

// LoadFile applies a .env file in dotenv syntax: '#' comments, optional
// "export " prefix, single or double quotes. A malformed line fails the
// whole file.
func (e *Env) LoadFile(path string) error {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("open env file: %w", err)
	}
	defer f.Close()
	vars, err := godotenv.Parse(f)
	if err != nil {
		return fmt.Errorf("parse env file %s: %w", path, err)
	}
	for k, v := range vars {
		e.Set(k, v)
	}
	return nil
}

// List returns the composed environment as sorted KEY=VALUE entries, or
// nil when nothing is set so the child inherits the launcher's
// environment unchanged. ${VAR} references are expanded one level
// against the composed map.
func (e *Env) List() []string {
	if e == nil || len(e.vars) == 0 {
		return nil
	}
	m := make(map[string]string, len(e.base)+len(e.vars))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.vars {
		m[k] = v
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+os.Expand(v, func(name string) string { return m[name] }))
	}
	sort.Strings(out)
	return out
}

func split(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}
