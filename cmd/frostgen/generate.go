package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/tools/go/packages"
)

type options struct {
	output string
	tags   []string
	dryRun bool
}

func generate(patterns []string, opts options) error {
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedFiles | packages.NeedCompiledGoFiles |
			packages.NeedTypes | packages.NeedTypesInfo | packages.NeedTypesSizes |
			packages.NeedSyntax,
	}
	if len(opts.tags) > 0 {
		cfg.BuildFlags = []string{"-tags=" + strings.Join(opts.tags, ",")}
	}
	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return fmt.Errorf("loading packages: %w", err)
	}
	if n := packages.PrintErrors(pkgs); n > 0 {
		return fmt.Errorf("%d packages had load errors", n)
	}
	if len(pkgs) == 0 {
		return fmt.Errorf("no packages matched %s", strings.Join(patterns, " "))
	}

	var stdout sync.Mutex
	var group errgroup.Group
	for _, pkg := range pkgs {
		pkg := pkg
		group.Go(func() error {
			t, ok := targetOf(pkg)
			if !ok {
				slog.Debug("skipping package without Go files", "package", pkg.ID)
				return nil
			}
			regs := scan(t, opts.output)
			if regs.empty() {
				slog.Debug("no registrations", "package", t.path)
				return nil
			}
			src, err := emit(t, regs, opts.tags)
			if err != nil {
				return err
			}

			path := filepath.Join(t.dir, opts.output)
			slog.Info("generated registrations",
				"package", t.path,
				"funcs", len(regs.funcs),
				"closures", len(regs.closures),
				"methods", len(regs.methods),
				"path", path)
			if opts.dryRun {
				stdout.Lock()
				defer stdout.Unlock()
				fmt.Printf("// %s\n%s\n", path, src)
				return nil
			}
			if err := os.WriteFile(path, src, 0644); err != nil {
				return fmt.Errorf("writing %s: %w", path, err)
			}
			return nil
		})
	}
	return group.Wait()
}

func targetOf(pkg *packages.Package) (*target, bool) {
	if len(pkg.GoFiles) == 0 || pkg.Types == nil || pkg.TypesInfo == nil {
		return nil, false
	}
	sym := pkg.PkgPath
	if pkg.Name == "main" {
		sym = "main"
	}
	return &target{
		fset:  pkg.Fset,
		name:  pkg.Name,
		path:  pkg.PkgPath,
		sym:   sym,
		dir:   filepath.Dir(pkg.GoFiles[0]),
		types: pkg.Types,
		info:  pkg.TypesInfo,
		sizes: pkg.TypesSizes,
		files: pkg.Syntax,
	}, true
}
