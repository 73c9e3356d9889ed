// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

// Package smali provides typed access to the baksmali and smali jars
// for per-unit operations: disassembling one compiled-code unit into
// a unit tree and assembling a unit tree back into a compiled-code
// unit. The whole-package paths go through lib/apktool instead; these
// wrappers serve the raw disassembly and assembly endpoints.
package smali

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Baksmali invokes the baksmali jar to disassemble compiled-code
// units.
type Baksmali struct {
	java    string
	jar     string
	timeout time.Duration
}

// NewBaksmali returns a Baksmali running jar under the java binary
// with the given per-invocation timeout.
func NewBaksmali(java, jar string, timeout time.Duration) *Baksmali {
	return &Baksmali{java: java, jar: jar, timeout: timeout}
}

// Disassemble translates the compiled-code unit at dexPath into a
// unit tree at outDir.
func (b *Baksmali) Disassemble(ctx context.Context, dexPath, outDir string) error {
	return run(ctx, b.java, b.timeout, "baksmali d", "-jar", b.jar, "d", dexPath, "-o", outDir)
}

// Assembler invokes the smali jar to assemble unit trees.
type Assembler struct {
	java    string
	jar     string
	timeout time.Duration
}

// NewAssembler returns an Assembler running jar under the java
// binary with the given per-invocation timeout.
func NewAssembler(java, jar string, timeout time.Duration) *Assembler {
	return &Assembler{java: java, jar: jar, timeout: timeout}
}

// Assemble translates the unit tree at dir into a compiled-code unit
// at outPath.
func (a *Assembler) Assemble(ctx context.Context, dir, outPath string) error {
	return run(ctx, a.java, a.timeout, "smali a", "-jar", a.jar, "a", dir, "-o", outPath)
}

// run executes one jar invocation with a bounded timeout. Stderr is
// captured and included in error messages; a timeout is named as
// such rather than surfacing as an opaque kill.
func run(ctx context.Context, java string, timeout time.Duration, tool string, args ...string) error {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(runCtx, java, args...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s timed out after %s: %w (stderr: %s)",
				tool, timeout, err, strings.TrimSpace(stderr.String()))
		}
		return fmt.Errorf("%s: %w (stderr: %s)",
			tool, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
