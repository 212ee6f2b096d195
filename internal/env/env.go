// Package env composes the environment passed to the remote application.
package env

import (
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/loykin/sshapp/internal/shell"
)

type Var map[string]string

// Env is safe for concurrent use.
type Env struct {
	mu   sync.RWMutex
	vars Var // global variables (K->V)
	env  Var // optional base from the local OS environment
}

func New() *Env {
	return &Env{
		vars: make(Var),
	}
}

// FromOS uses the current process environment as the base. Off by default:
// the local environment rarely makes sense on a remote host.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			v := kv[i+1:]
			if k == "" {
				continue
			}
			base[k] = v
		}
	}
	e.mu.Lock()
	e.env = base
	e.mu.Unlock()
}

// Set sets a global variable K=V.
func (e *Env) Set(k, v string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.vars == nil {
		e.vars = make(Var)
	}
	e.vars[k] = v
}

// WithSet returns e after setting K=V, for chaining.
func (e *Env) WithSet(k, v string) *Env {
	e.Set(k, v)
	return e
}

// SetPairs applies "K=V" entries; malformed entries are skipped.
func (e *Env) SetPairs(kvs []string) {
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			e.Set(kv[:i], kv[i+1:])
		}
	}
}

// Unset removes a global variable.
func (e *Env) Unset(k string) {
	e.mu.Lock()
	delete(e.vars, k)
	e.mu.Unlock()
}

// Merge composes the final environment list applying order:
// base (OS env when FromOS was called), then global variables,
// then perService ("K=V") overrides.
// ${VAR} references are expanded against the composed map (no recursion).
// The result is sorted by key.
func (e *Env) Merge(perService []string) []string {
	m := make(Var)
	e.mu.RLock()
	for k, v := range e.env {
		m[k] = v
	}
	for k, v := range e.vars {
		if k == "" {
			continue
		}
		m[k] = v
	}
	e.mu.RUnlock()
	for _, kv := range perService {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			v := kv[i+1:]
			if k == "" { // skip malformed entries with empty key
				continue
			}
			m[k] = v
		}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+expand(m[k], m))
	}
	return out
}

// Prefix renders Merge(perService) as shell assignments to put in front of a
// command, e.g. "A=1 B='x y' ". Keys that are not valid shell names are dropped.
func (e *Env) Prefix(perService []string) string {
	var b strings.Builder
	for _, kv := range e.Merge(perService) {
		i := strings.IndexByte(kv, '=')
		if !validName(kv[:i]) {
			continue
		}
		b.WriteString(kv[:i])
		b.WriteByte('=')
		b.WriteString(shell.Quote(kv[i+1:]))
		b.WriteByte(' ')
	}
	return b.String()
}

func validName(k string) bool {
	if k == "" {
		return false
	}
	for i, r := range k {
		if r == '_' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (i > 0 && r >= '0' && r <= '9') {
			continue
		}
		return false
	}
	return true
}

// expand replaces ${VAR} references to known keys in one pass; values are
// not expanded again and unknown references are kept as written.
func expand(s string, m Var) string {
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			break
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			break
		}
		ref := s[i : i+3+j]
		b.WriteString(s[:i])
		if v, ok := m[ref[2:len(ref)-1]]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(ref)
		}
		s = s[i+3+j:]
	}
	b.WriteString(s)
	return b.String()
}
