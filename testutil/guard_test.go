package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestImportPredicates(t *testing.T) {
	cases := []struct {
		name string
		fn   func(string) bool
		in   string
		want bool
	}{
		{"domain", DomainImportForbidden, "contribledger/pkg/domain", true},
		{"domain versioned", DomainImportForbidden, "example.com/mod/pkg/domain@v1", true},
		{"domain lookalike", DomainImportForbidden, "contribledger/pkg/notdomain", false},
		{"internal", InternalImportForbidden, "contribledger/internal/core", true},
		{"public", InternalImportForbidden, "contribledger/pkg/domain", false},
		{"infra driver", InfraImportForbidden, "contribledger/internal/infra/blob/s3", true},
		{"blob facade", InfraImportForbidden, "contribledger/internal/blob", false},
	}
	for _, c := range cases {
		if got := c.fn(c.in); got != c.want {
			t.Fatalf("%s: predicate(%q)=%v want %v", c.name, c.in, got, c.want)
		}
	}
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"ok.go":       "package tmp\nimport \"fmt\"\nfunc X(){fmt.Println(1)}\n",
		"bad.go":      "package tmp\nimport _ \"contribledger/internal/infra/blob/s3\"\n",
		"bad_test.go": "package tmp\nimport _ \"contribledger/internal/infra/blob/memory\"\n",
	}
	for name, src := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	viols, err := directImportViolations(dir, InfraImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || !strings.Contains(viols[0], "bad.go") {
		t.Fatalf("expected one violation from bad.go, got %v", viols)
	}
	AssertNoDirectImports(t, dir, func(string) bool { return false }, "none")
}

func TestDirectImportViolationsMissingDir(t *testing.T) {
	if _, err := directImportViolations(filepath.Join(t.TempDir(), "absent"), InternalImportForbidden); err == nil {
		t.Fatalf("expected error for missing directory")
	}
}

type recordingFatal struct{ msg string }

func (r *recordingFatal) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func TestFailIfViolations(t *testing.T) {
	var rec recordingFatal
	failIfViolations(&rec, "headline", "reason", nil)
	if rec.msg != "" {
		t.Fatalf("no violations should not fail")
	}
	failIfViolations(&rec, "headline", "reason", []string{"a", "b"})
	if !strings.Contains(rec.msg, "headline (reason)") || !strings.Contains(rec.msg, "a\nb") {
		t.Fatalf("unexpected message %q", rec.msg)
	}
}

func TestPersistentStoreImplementersAreSanctioned(t *testing.T) {
	AssertPersistentStoreImplementers(t)
}

func TestTransitiveDependencyWalk(t *testing.T) {
	deps, err := transitiveDependencies(ModulePath + "/pkg/domain")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var sawSelf bool
	for _, d := range deps {
		if d == ModulePath+"/pkg/domain" {
			sawSelf = true
		}
		if InternalImportForbidden(d) {
			t.Fatalf("domain reaches internal package %s", d)
		}
	}
	if !sawSelf {
		t.Fatalf("expected the root package in its dependency walk, got %v", deps)
	}
}
