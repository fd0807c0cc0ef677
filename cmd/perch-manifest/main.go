// ABOUTME: Generates the committed tool manifest from the live registry entries.
// ABOUTME: --check verifies the committed copy instead of rewriting it, for CI.

package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/perchworks/perch-gateway/internal/registry"
	"github.com/perchworks/perch-gateway/internal/tools"
)

func main() {
	path := "manifest.toml"
	check := false

	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--check":
			check = true
		case "--out", "-o":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "Error: --out requires a value")
				os.Exit(1)
			}
			path = args[i+1]
			i++
		default:
			fmt.Fprintf(os.Stderr, "Usage: perch-manifest [--check] [--out FILE]\n")
			os.Exit(1)
		}
	}

	if err := run(path, check); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(path string, check bool) error {
	entries := tools.AllEntries()

	if check {
		committed, err := registry.ReadManifest(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		drift := registry.Diff(committed, entries)
		if len(drift) > 0 {
			red := color.New(color.FgRed)
			red.Fprintf(os.Stderr, "manifest drift detected in %s:\n", path)
			for _, line := range drift {
				fmt.Fprintf(os.Stderr, "  - %s\n", line)
			}
			return fmt.Errorf("%d divergence(s); regenerate with perch-manifest", len(drift))
		}
		color.New(color.FgGreen).Printf("✓ %s matches the registry (%d tools)\n", path, len(entries))
		return nil
	}

	var buf bytes.Buffer
	if err := registry.WriteManifest(&buf, entries); err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	color.New(color.FgGreen).Printf("✓ Wrote %s (%d tools)\n", path, len(entries))
	return nil
}
