// Package env composes the environment handed to server processes.
package env

import (
	"os"
	"sort"
	"strings"
)

// Env layers KEY=VALUE assignments over an optional snapshot of the
// daemon's own environment. Later assignments win.
type Env struct {
	base map[string]string
	vars map[string]string
}

// New returns an empty Env. With inheritOS the current process
// environment is the base layer and appears in Merge output.
func New(inheritOS bool) *Env {
	e := &Env{vars: make(map[string]string)}
	if inheritOS {
		e.base = make(map[string]string)
		for _, kv := range os.Environ() {
			if k, v, ok := split(kv); ok {
				e.base[k] = v
			}
		}
	}
	return e
}

// Set assigns k=v. Empty keys are ignored.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	e.vars[k] = v
}

// SetPairs assigns every "K=V" entry; malformed entries are skipped.
func (e *Env) SetPairs(pairs []string) {
	for _, kv := range pairs {
		if k, v, ok := split(kv); ok {
			e.vars[k] = v
		}
	}
}

// Merge returns the composed environment as sorted "K=V" pairs, with
// extra applied last. ${VAR} references are expanded once against the
// composed map; unknown references are left untouched.
func (e *Env) Merge(extra []string) []string {
	m := make(map[string]string, len(e.base)+len(e.vars)+len(extra))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.vars {
		m[k] = v
	}
	for _, kv := range extra {
		if k, v, ok := split(kv); ok {
			m[k] = v
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

func split(kv string) (string, string, bool) {
	k, v, ok := strings.Cut(kv, "=")
	if !ok || k == "" {
		return "", "", false
	}
	return k, v, true
}

// expand replaces ${NAME} with m[NAME] in a single left-to-right pass.
// Bare $NAME is not expanded so values like passwords keep their dollars.
func expand(s string, m map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			b.WriteString(s)
			return b.String()
		}
		name := s[i+2 : i+2+j]
		b.WriteString(s[:i])
		if v, ok := m[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
}
