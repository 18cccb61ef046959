package main

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// tenant_guard parses the Go sources under a root (default "internal") and
// reports SQL literals that read or modify a tenant-owned table without a
// tenant_id predicate.
// Exit code 0 = ok, 1 = violation, 2 = other error.
func main() {
	root := "internal"
	if len(os.Args) > 1 {
		root = os.Args[1]
	}
	violations, err := scan(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tenant_guard error: %v\n", err)
		os.Exit(2)
	}
	if len(violations) > 0 {
		for _, v := range violations {
			fmt.Fprintf(os.Stderr, "VIOLATION: %s\n", v)
		}
		os.Exit(1)
	}
	fmt.Println("tenant_guard: OK")
}

var (
	reStatement = regexp.MustCompile(`(?i)^\s*(select|update|delete)\b`)
	reTable     = regexp.MustCompile(`(?i)\b(from|update|join)\s+(documents|line_items|price_rules|products)\b`)
	reTenant    = regexp.MustCompile(`(?i)tenant_id\s*=\s*\$[0-9]+`)
)

func scan(dir string) ([]string, error) {
	var violations []string
	fset := token.NewFileSet()
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".go" || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		found, err := checkFile(fset, path)
		if err != nil {
			return err
		}
		violations = append(violations, found...)
		return nil
	})
	return violations, err
}

func checkFile(fset *token.FileSet, path string) ([]string, error) {
	file, err := parser.ParseFile(fset, path, nil, parser.SkipObjectResolution)
	if err != nil {
		return nil, err
	}
	var violations []string
	ast.Inspect(file, func(n ast.Node) bool {
		switch expr := n.(type) {
		case *ast.BinaryExpr, *ast.BasicLit:
			sql, ok := flatten(expr.(ast.Expr))
			if !ok {
				return true
			}
			if offends(sql) {
				violations = append(violations, fset.Position(n.Pos()).String())
			}
			return false
		}
		return true
	})
	return violations, nil
}

// flatten concatenates the string literals of a + chain. Non-literal
// operands such as column lists become a placeholder.
func flatten(expr ast.Expr) (string, bool) {
	switch e := expr.(type) {
	case *ast.BasicLit:
		if e.Kind != token.STRING {
			return "", false
		}
		s, err := strconv.Unquote(e.Value)
		if err != nil {
			return "", false
		}
		return s, true
	case *ast.BinaryExpr:
		if e.Op != token.ADD {
			return "", false
		}
		left, lok := flatten(e.X)
		right, rok := flatten(e.Y)
		if !lok && !rok {
			return "", false
		}
		if !lok {
			left = " _ "
		}
		if !rok {
			right = " _ "
		}
		return left + right, true
	case *ast.ParenExpr:
		return flatten(e.X)
	}
	return "", false
}

func offends(sql string) bool {
	if !reStatement.MatchString(sql) || !reTable.MatchString(sql) {
		return false
	}
	return !reTenant.MatchString(sql)
}
