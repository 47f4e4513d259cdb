package env

import (
	"sort"
	"strings"
	"testing"
)

func TestMerge_LayersAndExpansion(t *testing.T) {
	e := New(false)
	e.SetPairs([]string{"JAVA_HOME=/opt/jdk", "MEM=2G", "=skipped", "noequals"})
	e.Set("JAVA_OPTS", "-Xmx${MEM} -Dhome=${JAVA_HOME}")
	e.Set("", "ignored")
	out := e.Merge([]string{"MEM=4G", "SECRET=pa$$word", "KEEP=${UNKNOWN}"})

	want := []string{
		"JAVA_HOME=/opt/jdk",
		"JAVA_OPTS=-Xmx4G -Dhome=/opt/jdk",
		"KEEP=${UNKNOWN}",
		"MEM=4G",
		"SECRET=pa$$word",
	}
	if strings.Join(out, "\n") != strings.Join(want, "\n") {
		t.Fatalf("got %v\nwant %v", out, want)
	}
}

func TestNew_InheritOS(t *testing.T) {
	t.Setenv("MCMANAGER_ENV_TEST", "from-os")
	e := New(true)
	e.Set("DERIVED", "${MCMANAGER_ENV_TEST}-x")
	found := map[string]bool{}
	for _, kv := range e.Merge(nil) {
		switch kv {
		case "MCMANAGER_ENV_TEST=from-os", "DERIVED=from-os-x":
			found[kv] = true
		}
	}
	if len(found) != 2 {
		t.Fatalf("os base not applied: %v", found)
	}

	for _, kv := range New(false).Merge(nil) {
		t.Fatalf("unexpected inherited var %q", kv)
	}
}

func TestExpand_Unterminated(t *testing.T) {
	m := map[string]string{"A": "1"}
	if got := expand("x${A", m); got != "x${A" {
		t.Fatalf("got %q", got)
	}
	if got := expand("${A}${A}", m); got != "11" {
		t.Fatalf("got %q", got)
	}
}

// FuzzExpandMerge checks that Merge never panics, keeps keys non-empty and
// sorted, and leaves no placeholders when the input has no dollars.
func FuzzExpandMerge(f *testing.F) {
	f.Add([]byte("A=1\nB=${A}-x"), []byte("C=${B}-y"))
	f.Add([]byte("FOO=bar"), []byte("FOO=${FOO}"))
	f.Add([]byte("X=$Y"), []byte("Y=${X}"))
	f.Add([]byte("P=${"), []byte("Q=}${P}"))

	f.Fuzz(func(t *testing.T, globalB []byte, perB []byte) {
		global := splitNZ(string(globalB))
		per := splitNZ(string(perB))
		if len(global) > 20 {
			global = global[:20]
		}
		if len(per) > 20 {
			per = per[:20]
		}

		e := New(false)
		e.SetPairs(global)
		out := e.Merge(per)
		if !sort.StringsAreSorted(out) {
			t.Fatalf("output not sorted: %v", out)
		}
		for _, kv := range out {
			if !strings.Contains(kv, "=") || strings.HasPrefix(kv, "=") {
				t.Fatalf("bad pair: %q", kv)
			}
		}
		containsDollar := false
		for _, s := range append(append([]string{}, global...), per...) {
			if strings.ContainsRune(s, '$') {
				containsDollar = true
				break
			}
		}
		if !containsDollar {
			for _, kv := range out {
				if strings.Contains(kv, "${") {
					t.Fatalf("unexpected placeholder remains: %q", kv)
				}
			}
		}
	})
}

// splitNZ splits s by newlines and returns non-empty trimmed lines.
func splitNZ(s string) []string {
	var out []string
	for _, ln := range strings.Split(s, "\n") {
		ln = strings.TrimSpace(ln)
		if ln != "" {
			out = append(out, ln)
		}
	}
	return out
}
