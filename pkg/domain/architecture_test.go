package domain

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// allowedThirdParty lists the non-standard imports the domain package may use.
var allowedThirdParty = map[string]bool{
	"github.com/google/uuid": true,
	"github.com/zeebo/errs":  true,
}

// TestDomainImportsStayNarrow keeps the shared contracts free of engine and
// backend packages, so any backend can implement them.
func TestDomainImportsStayNarrow(t *testing.T) {
	files, err := filepath.Glob("*.go")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	fset := token.NewFileSet()
	for _, name := range files {
		if strings.HasSuffix(name, "_test.go") {
			continue
		}
		// #nosec G304 -- names come from a glob of this package directory
		src, err := os.ReadFile(name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		f, err := parser.ParseFile(fset, name, src, parser.ImportsOnly)
		if err != nil {
			t.Fatalf("parse %s: %v", name, err)
		}
		for _, imp := range f.Imports {
			path, _ := strconv.Unquote(imp.Path.Value)
			if strings.HasPrefix(path, "idmcore/") {
				t.Errorf("%s imports module package %s", name, path)
				continue
			}
			if strings.Contains(strings.SplitN(path, "/", 2)[0], ".") && !allowedThirdParty[path] {
				t.Errorf("%s imports unapproved dependency %s", name, path)
			}
		}
	}
}
