package blob

import (
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// layerRule forbids importing infra packages under prefix from anywhere
// outside the allowed owners.
type layerRule struct {
	prefix  string
	allowed []string
}

var layerRules = []layerRule{
	{prefix: "medipay/internal/infra/blob", allowed: []string{"medipay/internal/blob"}},
	{prefix: "medipay/internal/infra/persistence", allowed: []string{"medipay/internal/core"}},
}

// TestInfraPackagesStayBehindFacades loads every package in the module and
// checks that infra implementations are only imported through their facade:
// blob backends via internal/blob and persistence stores via internal/core.
func TestInfraPackagesStayBehindFacades(t *testing.T) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "medipay/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	seen := make(map[string]struct{})
	for _, pkg := range pkgs {
		path := strings.TrimSuffix(pkg.PkgPath, "_test")
		for _, rule := range layerRules {
			if hasPathPrefix(path, rule.prefix) || ownedBy(path, rule.allowed) {
				continue
			}
			for importPath := range pkg.Imports {
				if hasPathPrefix(importPath, rule.prefix) {
					seen[filepath.Join(pkg.PkgPath, "...")+": "+importPath] = struct{}{}
				}
			}
		}
	}

	if len(seen) > 0 {
		violations := make([]string, 0, len(seen))
		for v := range seen {
			violations = append(violations, v)
		}
		sort.Strings(violations)
		for _, v := range violations {
			t.Errorf("forbidden infra import: %s", v)
		}
		t.Fatalf("found %d forbidden infra imports", len(violations))
	}
}

func ownedBy(path string, owners []string) bool {
	for _, owner := range owners {
		if hasPathPrefix(path, owner) {
			return true
		}
	}
	return false
}

func hasPathPrefix(importPath, prefix string) bool {
	return importPath == prefix || strings.HasPrefix(importPath, prefix+"/")
}
