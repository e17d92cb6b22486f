package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/astaric/orangeremote/proxygen"
)

type genOptions struct {
	out     string
	pkgName string
	include []string
	proxies string
}

func newGenCommand() *cobra.Command {
	var opts genOptions
	cmd := &cobra.Command{
		Use:   "gen <import-path>",
		Short: "Generate catalog bindings and typed proxies for a Go package",
		Long: `Introspect the exported struct types of a Go package and write a package
whose Register function adds them to a catalog. With --proxies, also write
typed client proxies for the same types.

Usage examples:

	orange gen strings --include Builder,Reader --out ./orange_strings
	orange gen github.com/acme/geo --out ./bindings --proxies ./geoproxy
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGen(cmd, args[0], opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.out, "out", ".", "directory for the bindings package")
	flags.StringVar(&opts.pkgName, "package", "", "bindings package name (default orange_<last path element>)")
	flags.StringSliceVar(&opts.include, "include", nil, "type names to include (default all)")
	flags.StringVar(&opts.proxies, "proxies", "", "directory for the typed proxy package")
	return cmd
}

func runGen(cmd *cobra.Command, importPath string, opts genOptions) error {
	var include map[string]bool
	if len(opts.include) > 0 {
		include = make(map[string]bool, len(opts.include))
		for _, name := range opts.include {
			include[name] = true
		}
	}

	model, err := proxygen.Introspect(importPath, include)
	if err != nil {
		return err
	}
	if len(model.Types) == 0 {
		return fmt.Errorf("no exported struct types found in %s", importPath)
	}

	pkgName := opts.pkgName
	if pkgName == "" {
		pkgName = proxygen.PackageName(importPath)
	}
	bindings, err := proxygen.GenerateBindings(model, pkgName)
	if err != nil {
		return err
	}
	path, err := writeGenerated(opts.out, "bindings.go", bindings.Code)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d types)\n", path, len(model.Types))
	reportSkipped(bindings.Skipped)

	if opts.proxies != "" {
		proxies, err := proxygen.GenerateProxies(model, filepath.Base(opts.proxies))
		if err != nil {
			return err
		}
		path, err := writeGenerated(opts.proxies, "proxies.go", proxies.Code)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	}
	return nil
}

func writeGenerated(dir, name, code string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func reportSkipped(skipped []proxygen.Skipped) {
	for _, s := range skipped {
		log.Warningf("skipped %s: %s", s.Name, s.Reason)
	}
}
