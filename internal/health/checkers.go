// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ManuGH/ytrelay/internal/pool"
)

// SnapshotSource lists the current pool snapshots. *pool.Set implements it.
type SnapshotSource interface {
	Snapshots() []pool.Snapshot
}

// PoolChecker reports empty pools as unhealthy and pools running on their
// built-in seed list as degraded.
type PoolChecker struct {
	pools SnapshotSource
}

// NewPoolChecker creates a checker over pools.
func NewPoolChecker(pools SnapshotSource) *PoolChecker {
	return &PoolChecker{pools: pools}
}

func (c *PoolChecker) Name() string { return "pools" }

func (c *PoolChecker) Check(_ context.Context) CheckResult {
	var empty, seeded []string
	for _, snap := range c.pools.Snapshots() {
		switch {
		case snap.Size() == 0:
			empty = append(empty, snap.Name)
		case snap.Source == pool.SourceSeed:
			seeded = append(seeded, snap.Name)
		}
	}
	if len(empty) > 0 {
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  "pools without endpoints: " + strings.Join(empty, ", "),
		}
	}
	if len(seeded) > 0 {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "pools on seed list: " + strings.Join(seeded, ", "),
		}
	}
	return CheckResult{Status: StatusHealthy, Message: "all pools populated"}
}

// FuncChecker adapts a ping style function. A failing optional dependency
// degrades instead of failing readiness.
type FuncChecker struct {
	name     string
	check    func(ctx context.Context) error
	optional bool
}

// NewFuncChecker creates a checker calling check.
func NewFuncChecker(name string, optional bool, check func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, check: check, optional: optional}
}

func (c *FuncChecker) Name() string { return c.name }

func (c *FuncChecker) Check(ctx context.Context) CheckResult {
	if err := c.check(ctx); err != nil {
		status := StatusUnhealthy
		if c.optional {
			status = StatusDegraded
		}
		return CheckResult{Status: status, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// CheckWritableDir verifies that path is a writable directory, creating it
// if needed. An empty path is accepted.
func CheckWritableDir(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)
	return nil
}
