// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

package smalipatch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

// PrimaryRootName is the unit root holding the first compiled-code
// unit. Only the roots after it carry an index suffix.
const PrimaryRootName = "smali"

// ErrNoUnitRoots reports a decoded package with no unit trees at
// all: nothing to inject into, nothing to re-assemble.
var ErrNoUnitRoots = errors.New("smalipatch: decoded package has no unit roots")

// suffixedRoot matches the indexed unit roots after the first
// (smali_classes2, smali_classes3, ...).
var suffixedRoot = regexp.MustCompile(`^smali_classes(\d+)$`)

// dexName matches compiled-code unit filenames (classes.dex,
// classes2.dex, ...).
var dexName = regexp.MustCompile(`^classes(\d*)\.dex$`)

// RootName returns the unit root name for a 1-based unit index.
func RootName(index int) string {
	if index <= 1 {
		return PrimaryRootName
	}
	return fmt.Sprintf("smali_classes%d", index)
}

// DexName returns the compiled-code unit filename for a 1-based unit
// index.
func DexName(index int) string {
	if index <= 1 {
		return "classes.dex"
	}
	return fmt.Sprintf("classes%d.dex", index)
}

// ParseDexName returns the 1-based unit index of a compiled-code
// unit filename, or false when the name is not one.
func ParseDexName(name string) (int, bool) {
	match := dexName.FindStringSubmatch(name)
	if match == nil {
		return 0, false
	}
	if match[1] == "" {
		return 1, true
	}
	index, err := strconv.Atoi(match[1])
	if err != nil || index < 2 {
		return 0, false
	}
	return index, true
}

// UnitRoots returns the absolute paths of all unit roots under the
// decoded package at workspace, ordered by unit index. The index
// ordering is numeric: smali_classes10 sorts after smali_classes2,
// not before it.
//
// Returns ErrNoUnitRoots when the package has no unit trees.
func UnitRoots(workspace string) ([]string, error) {
	entries, err := os.ReadDir(workspace)
	if err != nil {
		return nil, fmt.Errorf("smalipatch: reading decoded package: %w", err)
	}

	type root struct {
		index int
		path  string
	}
	var roots []root
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name == PrimaryRootName {
			roots = append(roots, root{1, filepath.Join(workspace, name)})
			continue
		}
		if match := suffixedRoot.FindStringSubmatch(name); match != nil {
			index, err := strconv.Atoi(match[1])
			if err != nil || index < 2 {
				continue
			}
			roots = append(roots, root{index, filepath.Join(workspace, name)})
		}
	}

	if len(roots) == 0 {
		return nil, ErrNoUnitRoots
	}

	sort.Slice(roots, func(i, j int) bool { return roots[i].index < roots[j].index })

	paths := make([]string, len(roots))
	for i, r := range roots {
		paths[i] = r.path
	}
	return paths, nil
}

// PrimaryRoot returns the lowest-index unit root under workspace.
// That is where new classes are injected: the runtime loads the
// first unit's classes before any other.
func PrimaryRoot(workspace string) (string, error) {
	roots, err := UnitRoots(workspace)
	if err != nil {
		return "", err
	}
	return roots[0], nil
}
