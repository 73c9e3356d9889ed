// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

package profile

import (
	"fmt"
	"regexp"
	"strings"
)

// namePattern matches valid profile names: lowercase identifiers with
// hyphens, the shape request parameters and filenames share.
var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// classPattern matches a fully qualified dotted class name. At least
// one package segment is required: the injector writes the unit file
// under the package path, and a bare class name would land in the
// unit root itself.
var classPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*(\.[A-Za-z_$][A-Za-z0-9_$]*)+$`)

// Validate checks a Profile for structural issues. Returns a list of
// human-readable issue descriptions. An empty list means the profile
// is valid.
func Validate(p *Profile) []string {
	var issues []string

	if p.Name == "" {
		issues = append(issues, "name is required")
	} else if !namePattern.MatchString(p.Name) {
		issues = append(issues, fmt.Sprintf("name %q must match %s", p.Name, namePattern))
	}

	if p.EntryClass == "" {
		issues = append(issues, "entry_class is required")
	} else if !classPattern.MatchString(p.EntryClass) {
		issues = append(issues, fmt.Sprintf("entry_class %q is not a package-qualified class name", p.EntryClass))
	}

	switch p.Strategy {
	case StrategyClass:
		if p.UnitFile == "" {
			issues = append(issues, "unit_file is required for the class strategy")
		}
	case StrategyCall:
		if p.TargetMethod == "" {
			issues = append(issues, "target_method is required for the call strategy")
		}
		if !strings.HasPrefix(p.CallInstruction, "invoke-") {
			issues = append(issues, fmt.Sprintf("call_instruction %q is not an invoke instruction", p.CallInstruction))
		}
	default:
		issues = append(issues, fmt.Sprintf("strategy %q must be %q or %q", p.Strategy, StrategyClass, StrategyCall))
	}

	return issues
}
