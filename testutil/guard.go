// Package testutil holds architecture guards shared by package tests: import
// boundaries and the set of packages allowed to implement domain.PersistentStore.
package testutil

import (
	"go/parser"
	"go/token"
	"go/types"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// ModulePath is the import path prefix of this repository.
const ModulePath = "contribledger"

// PersistentStorePackages are the only packages that may provide a
// domain.PersistentStore implementation.
var PersistentStorePackages = []string{
	ModulePath + "/internal/infra/persistence/memory",
	ModulePath + "/internal/infra/persistence/sqlite",
	ModulePath + "/internal/infra/persistence/postgres",
}

// AssertNoDirectImports scans the non-test .go files in dir and fails if any
// import path satisfies forbidden. Build tags are not evaluated.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	failIfViolations(t, "forbidden direct imports detected", reason, viols)
}

// AssertNoTransitiveDependency loads pattern with its full import graph and
// fails if any reachable package path satisfies forbidden.
func AssertNoTransitiveDependency(t testing.TB, pattern string, forbidden func(path string) bool, reason string) {
	t.Helper()
	deps, err := transitiveDependencies(pattern)
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	var viols []string
	for _, dep := range deps {
		if forbidden(dep) {
			viols = append(viols, dep)
		}
	}
	failIfViolations(t, "forbidden transitive dependency detected", reason, viols)
}

// AssertPersistentStoreImplementers fails when a named type outside
// PersistentStorePackages implements domain.PersistentStore.
func AssertPersistentStoreImplementers(t testing.TB) {
	t.Helper()
	found, err := persistentStoreImplementers(ModulePath + "/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	allowed := make(map[string]struct{}, len(PersistentStorePackages))
	for _, p := range PersistentStorePackages {
		allowed[p] = struct{}{}
	}
	var viols []string
	for _, impl := range found {
		pkg := impl[:strings.LastIndex(impl, ".")]
		if _, ok := allowed[pkg]; !ok {
			viols = append(viols, impl)
		}
	}
	failIfViolations(t, "unexpected PersistentStore implementations", "add new backends under internal/infra/persistence", viols)
}

// DomainImportForbidden matches import paths of the domain package.
func DomainImportForbidden(path string) bool {
	return strings.HasSuffix(path, "/pkg/domain") || strings.Contains(path, "/pkg/domain@")
}

// InternalImportForbidden matches any path containing /internal/.
func InternalImportForbidden(path string) bool {
	return strings.Contains(path, "/internal/")
}

// InfraImportForbidden matches the concrete infrastructure drivers.
func InfraImportForbidden(path string) bool {
	return strings.Contains(path, "/internal/infra/") || strings.HasSuffix(path, "/internal/infra")
}

func transitiveDependencies(pattern string) ([]string, error) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports | packages.NeedDeps}
	pkgs, err := packages.Load(cfg, pattern)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	packages.Visit(pkgs, func(p *packages.Package) bool {
		seen[p.PkgPath] = struct{}{}
		return true
	}, nil)
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func persistentStoreImplementers(pattern string) ([]string, error) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedTypes}
	pkgs, err := packages.Load(cfg, pattern)
	if err != nil {
		return nil, err
	}
	var iface *types.Interface
	for _, p := range pkgs {
		if p.PkgPath != ModulePath+"/pkg/domain" || p.Types == nil {
			continue
		}
		if obj := p.Types.Scope().Lookup("PersistentStore"); obj != nil {
			iface, _ = obj.Type().Underlying().(*types.Interface)
		}
	}
	if iface == nil {
		return nil, errMissingInterface
	}
	var out []string
	for _, p := range pkgs {
		if p.Types == nil {
			continue
		}
		scope := p.Types.Scope()
		for _, name := range scope.Names() {
			named, ok := scope.Lookup(name).Type().(*types.Named)
			if !ok {
				continue
			}
			if _, isIface := named.Underlying().(*types.Interface); isIface {
				continue
			}
			if types.Implements(types.NewPointer(named), iface) {
				out = append(out, p.PkgPath+"."+name)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

type guardError string

func (e guardError) Error() string { return string(e) }

const errMissingInterface = guardError("domain.PersistentStore not found")

func directImportViolations(dir string, forbidden func(importPath string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		fileAst, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range fileAst.Imports {
			ip := strings.Trim(imp.Path.Value, "\"")
			if forbidden(ip) {
				viols = append(viols, ip+" (in "+name+")")
			}
		}
	}
	return viols, nil
}

type fatalLogger interface {
	Fatalf(format string, args ...any)
}

func failIfViolations(t fatalLogger, headline, reason string, viols []string) {
	if len(viols) > 0 {
		t.Fatalf("%s (%s):\n%s", headline, reason, strings.Join(viols, "\n"))
	}
}
