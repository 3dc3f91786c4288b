// frostgen scans Go packages and generates the registrations their
// callables need to be frozen and thawed.
//
// For every package it loads, frostgen finds the top-level functions
// and methods, the function literals together with their captured
// variables, and the method values taken without being called. It
// writes one file per package containing the mirror struct for each
// closure's memory layout and a single init function with the
// matching fn.RegisterFunc, fn.RegisterClosure and fn.RegisterMethod
// calls.
//
// Usage:
//
//	frostgen [flags] [packages]
//
// Packages default to ./... and accept the usual go list patterns.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("frostgen", pflag.ContinueOnError)
	output := flags.String("output", "zz_generated_frost.go", "name of the generated file, relative to each package directory")
	tags := flags.StringSlice("tags", nil, "build tags applied while loading packages and stamped on the generated files")
	dryRun := flags.Bool("dry-run", false, "print generated files to stdout instead of writing them")
	verbose := flags.BoolP("verbose", "v", false, "enable debug logging")
	if err := flags.Parse(args); err != nil {
		return err
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	patterns := flags.Args()
	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}

	return generate(patterns, options{
		output: *output,
		tags:   *tags,
		dryRun: *dryRun,
	})
}
