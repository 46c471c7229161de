// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fsutil keeps file names derived from configuration inside their
// directory.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrEscapesRoot is returned when a name resolves outside its root.
var ErrEscapesRoot = errors.New("path escapes root")

// Confine joins root and the relative name and returns the resolved path,
// failing when the result (after symlink resolution) is not under root.
// A missing root is fine; it is created by the first write.
func Confine(root, name string) (string, error) {
	if strings.Contains(name, "\\") {
		return "", fmt.Errorf("%w: backslash in %q", ErrEscapesRoot, name)
	}
	clean := filepath.Clean(name)
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("%w: %q is absolute", ErrEscapesRoot, name)
	}
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrEscapesRoot, name)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid root path: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		realRoot = absRoot
	}
	return resolveWithin(realRoot, filepath.Join(realRoot, clean))
}

// resolveWithin resolves symlinks of full (or of its parent when full does
// not exist yet) and checks the result against realRoot.
func resolveWithin(realRoot, full string) (string, error) {
	realPath := full
	if _, err := os.Lstat(full); err == nil {
		rp, err := filepath.EvalSymlinks(full)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", full, err)
		}
		realPath = rp
	} else if rp, err := filepath.EvalSymlinks(filepath.Dir(full)); err == nil {
		realPath = filepath.Join(rp, filepath.Base(full))
	}

	rel, err := filepath.Rel(realRoot, realPath)
	if err != nil {
		return "", fmt.Errorf("rel computation failed: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w via symlink: %s", ErrEscapesRoot, realPath)
	}
	return realPath, nil
}
