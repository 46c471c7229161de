// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the ytrelay configuration.
//
// Precedence is ENV (YTRELAY_*) > YAML file > Defaults. The YAML file is
// parsed strictly; unknown keys are rejected. ConfigHolder reloads the file
// on change and hands validated configurations to its listeners.
package config
