package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loykin/mcmanager/internal/paths"
)

// FuzzServerNameRoute drives arbitrary names through the per-server routes.
// A name is only ever served when it is a safe directory name.
func FuzzServerNameRoute(f *testing.F) {
	for _, s := range []string{"survival", "", ".", "..", ".hidden", "a..b", "a/b", `a\b`, "name\x00null", "unicode한글", "with space"} {
		f.Add(s)
	}
	h := NewRouter(testDeps(f), "/api").Handler()

	f.Fuzz(func(t *testing.T, name string) {
		if len(name) > 200 {
			t.Skip("name too long")
		}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.URL.Path = "/api/servers/" + name + "/status"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code >= http.StatusInternalServerError {
			t.Fatalf("name %q: status %d: %s", name, rec.Code, rec.Body.String())
		}
		if rec.Code == http.StatusOK && (!isSafeName(name) || paths.ValidateName(name) != nil) {
			t.Fatalf("unsafe name %q was served", name)
		}
	})
}

func FuzzSanitizeBase(f *testing.F) {
	for _, s := range []string{"", "/", "api", "/api/", " /v1/api// ", "//"} {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, in string) {
		out := sanitizeBase(in)
		if out == "" {
			return
		}
		if !strings.HasPrefix(out, "/") || strings.HasSuffix(out, "/") {
			t.Fatalf("sanitizeBase(%q) = %q", in, out)
		}
		if again := sanitizeBase(out); again != out {
			t.Fatalf("not idempotent: %q -> %q -> %q", in, out, again)
		}
	})
}
