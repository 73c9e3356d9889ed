// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

// Package smalipatch edits disassembled unit trees: it resolves unit
// roots inside a decoded package, converts between class-name forms,
// injects new unit files, and inserts bootstrap invocations into
// existing methods.
package smalipatch

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// UnitSuffix is the file extension of a disassembled unit file.
const UnitSuffix = ".smali"

// classSegment matches one package or class segment of a Java-style
// class name.
var classSegment = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// ClassPath converts a class name to the unit file path relative to
// a unit root. Dotted and pre-slashed inputs are accepted, as is an
// accidental trailing unit suffix:
//
//	com.example.app.Hook   -> com/example/app/Hook.smali
//	com/example/app/Hook   -> com/example/app/Hook.smali
//	com.example.Hook.smali -> com/example/Hook.smali
//
// ClassPath and [ClassName] are inverses for valid dotted names.
func ClassPath(name string) (string, error) {
	cleaned := strings.TrimSuffix(strings.TrimSpace(name), UnitSuffix)
	cleaned = strings.ReplaceAll(cleaned, ".", "/")
	if cleaned == "" {
		return "", errors.New("smalipatch: empty class name")
	}

	for _, segment := range strings.Split(cleaned, "/") {
		if !classSegment.MatchString(segment) {
			return "", fmt.Errorf("smalipatch: invalid class name segment %q in %q", segment, name)
		}
	}

	return cleaned + UnitSuffix, nil
}

// ClassName converts a unit file path relative to a unit root back to
// the dotted class name.
func ClassName(path string) string {
	cleaned := strings.TrimSuffix(path, UnitSuffix)
	return strings.ReplaceAll(cleaned, "/", ".")
}

// DeclaredClass extracts the dotted class name a unit file payload
// declares. Used to cross-check a profile's entry class against its
// payload before anything is written into the unit tree.
func DeclaredClass(payload []byte) (string, error) {
	for _, line := range strings.Split(string(payload), "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, ".class") {
			continue
		}
		for _, field := range strings.Fields(trimmed)[1:] {
			if strings.HasPrefix(field, "L") && strings.HasSuffix(field, ";") {
				inner := field[1 : len(field)-1]
				return strings.ReplaceAll(inner, "/", "."), nil
			}
		}
		return "", fmt.Errorf("smalipatch: class directive %q names no type descriptor", trimmed)
	}
	return "", errors.New("smalipatch: payload has no class directive")
}
