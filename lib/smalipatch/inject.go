// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

package smalipatch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrMethodNotFound reports that the instruction injector found no
// method matching the target name in the unit file.
var ErrMethodNotFound = errors.New("smalipatch: target method not found")

// Markers in disassembled unit files. A method body runs from its
// open marker to its close marker; the prologue marker, when present,
// separates register setup from the first real instruction.
const (
	methodOpenMarker  = ".method"
	methodCloseMarker = ".end method"
	prologueMarker    = ".prologue"
	superInvokePrefix = "invoke-super"
)

// bodyIndent is the indentation disassemblers use for instructions
// inside a method body.
const bodyIndent = "    "

// InjectClass writes payload as the unit file for class under
// rootDir, creating package directories as needed. After writing,
// the destination is stat-checked: a unit file that silently fails
// to materialize would otherwise surface much later as a missing
// class at runtime.
func InjectClass(rootDir, class string, payload []byte) error {
	rel, err := ClassPath(class)
	if err != nil {
		return err
	}
	dest := filepath.Join(rootDir, rel)

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("smalipatch: creating package directories for %s: %w", class, err)
	}
	if err := os.WriteFile(dest, payload, 0o644); err != nil {
		return fmt.Errorf("smalipatch: writing unit file for %s: %w", class, err)
	}
	if _, err := os.Stat(dest); err != nil {
		return fmt.Errorf("smalipatch: unit file for %s missing after write: %w", class, err)
	}
	return nil
}

// scanState tracks the instruction injector's position in the unit
// file. The scan is a small state machine over line events rather
// than a bundle of loop flags: each line either keeps the state,
// enters the target method, or closes it and ends the scan.
type scanState int

const (
	// stateScanning is the search for the target method's open
	// marker.
	stateScanning scanState = iota

	// stateInMethod is inside the matched method's marker range,
	// collecting candidate insertion sites.
	stateInMethod

	// stateClosed is after the matched method's close marker;
	// nothing past it is considered.
	stateClosed
)

// methodRange holds the line positions the scan collected for the
// matched method. Indices are -1 when the event never occurred.
type methodRange struct {
	open     int
	prologue int
	super    int
	close    int
}

// InjectCall inserts callLine into the body of the first method in
// unitFile whose name matches method. The insertion point is chosen
// by priority, always inside the matched method's marker range:
//
//  1. directly after the prologue marker,
//  2. directly after the first superclass invocation of the same
//     method,
//  3. immediately before the method close marker.
//
// Exactly one line is inserted per call. A file without a matching
// method fails with ErrMethodNotFound.
func InjectCall(unitFile, method, callLine string) error {
	data, err := os.ReadFile(unitFile)
	if err != nil {
		return fmt.Errorf("smalipatch: reading unit file: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	r, err := scanMethod(lines, method)
	if err != nil {
		return fmt.Errorf("%w: %q in %s", err, method, filepath.Base(unitFile))
	}

	insertAt := r.close
	switch {
	case r.prologue >= 0:
		insertAt = r.prologue + 1
	case r.super >= 0:
		insertAt = r.super + 1
	}

	patched := make([]string, 0, len(lines)+1)
	patched = append(patched, lines[:insertAt]...)
	patched = append(patched, bodyIndent+callLine)
	patched = append(patched, lines[insertAt:]...)

	if err := os.WriteFile(unitFile, []byte(strings.Join(patched, "\n")), 0o644); err != nil {
		return fmt.Errorf("smalipatch: writing unit file: %w", err)
	}
	return nil
}

// scanMethod runs the line scanner and returns the matched method's
// range. The method matches when its open marker line contains the
// method name immediately followed by its parameter list opener;
// a bare substring match would also hit longer names sharing the
// prefix (onCreate matching onCreateView).
func scanMethod(lines []string, method string) (methodRange, error) {
	needle := method + "("
	r := methodRange{open: -1, prologue: -1, super: -1, close: -1}
	state := stateScanning

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		switch state {
		case stateScanning:
			if strings.HasPrefix(trimmed, methodOpenMarker) && strings.Contains(trimmed, needle) {
				r.open = i
				state = stateInMethod
			}

		case stateInMethod:
			switch {
			case trimmed == methodCloseMarker:
				r.close = i
				state = stateClosed
			case r.prologue < 0 && trimmed == prologueMarker:
				r.prologue = i
			case r.super < 0 && strings.HasPrefix(trimmed, superInvokePrefix) && strings.Contains(trimmed, needle):
				r.super = i
			}
		}

		if state == stateClosed {
			break
		}
	}

	if r.open < 0 {
		return r, ErrMethodNotFound
	}
	if r.close < 0 {
		return r, fmt.Errorf("smalipatch: method has no close marker")
	}
	return r, nil
}
