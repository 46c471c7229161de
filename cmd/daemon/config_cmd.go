// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ManuGH/ytrelay/internal/config"
	"github.com/ManuGH/ytrelay/internal/version"
	"gopkg.in/yaml.v3"
)

func runConfigCLI(args []string) int {
	return configCLI(args, os.Stdout, os.Stderr)
}

func configCLI(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printConfigUsage(stderr)
		return 0
	}

	switch args[0] {
	case "validate":
		return runConfigValidate(args[1:], stdout, stderr)
	case "dump":
		return runConfigDump(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown subcommand: %s\n\n", args[0])
		printConfigUsage(stderr)
		return 2
	}
}

func printConfigUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  ytrelay config validate --file|-f config.yaml")
	fmt.Fprintln(w, "  ytrelay config dump [--file|-f config.yaml]")
}

// parseFileFlag parses -f/--file for a config subcommand.
func parseFileFlag(name string, args []string, stderr io.Writer) (string, bool) {
	fs := flag.NewFlagSet("ytrelay config "+name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	var file string
	fs.StringVar(&file, "file", "", "path to YAML configuration file")
	fs.StringVar(&file, "f", "", "path to YAML configuration file (shorthand)")
	if err := fs.Parse(args); err != nil {
		return "", false
	}
	return strings.TrimSpace(file), true
}

func runConfigValidate(args []string, stdout, stderr io.Writer) int {
	path, ok := parseFileFlag("validate", args, stderr)
	if !ok {
		return 2
	}
	if path == "" {
		fmt.Fprintln(stderr, "Error: --file is required")
		return 2
	}
	if _, err := config.NewLoader(path, version.Version).Load(); err != nil {
		fmt.Fprintf(stderr, "Configuration error in %s:\n  %v\n", path, err)
		return 1
	}
	fmt.Fprintf(stdout, "%s is valid\n", path)
	return 0
}

// runConfigDump prints the effective configuration (defaults, then file,
// then environment) with secrets masked.
func runConfigDump(args []string, stdout, stderr io.Writer) int {
	path, ok := parseFileFlag("dump", args, stderr)
	if !ok {
		return 2
	}
	cfg, err := config.NewLoader(path, version.Version).Load()
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error in %s:\n  %v\n", path, err)
		return 1
	}

	enc := yaml.NewEncoder(stdout)
	enc.SetIndent(2)
	defer func() { _ = enc.Close() }()
	if err := enc.Encode(config.Redacted(cfg)); err != nil {
		fmt.Fprintf(stderr, "Failed to encode YAML: %v\n", err)
		return 1
	}
	return 0
}
