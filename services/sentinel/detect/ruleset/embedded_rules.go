// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
This file bridges the build system and the runtime logic. It uses the Go
embed package to bake default_rules.yaml directly into the compiled
binary so a deployment with no rule file on disk still detects with the
stock thresholds.
*/

package ruleset

import (
	_ "embed"
)

// DefaultRules holds the raw byte content of the 'default_rules.yaml' file.
//
// Populated at compile time by the Go 'embed' directive. Deployments that
// want different thresholds point detection.rules_path at their own file;
// these bytes are only the fallback and the reference schema.
//
// Usage:
//
//	// Pass these bytes directly to detect.ParseRules
//	rules, err := detect.ParseRules(ruleset.DefaultRules)
//
//go:embed default_rules.yaml
var DefaultRules []byte
