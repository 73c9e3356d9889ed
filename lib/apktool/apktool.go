// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

// Package apktool provides typed access to the apktool jar for
// whole-package operations: decoding an APK into a patchable tree
// and re-assembling the tree into an APK. The jar runs under the
// configured JVM with a bounded timeout, and failures carry the
// tool's stderr so the pipeline can classify re-assembly faults.
package apktool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Tool invokes the apktool jar under a JVM. All invocations share
// the same jar, JVM binary, and per-invocation timeout.
type Tool struct {
	java    string
	jar     string
	timeout time.Duration
}

// New returns a Tool running jar under the java binary with the
// given per-invocation timeout.
func New(java, jar string, timeout time.Duration) *Tool {
	return &Tool{java: java, jar: jar, timeout: timeout}
}

// ToolError is a failed jar invocation. Stderr holds the tool's
// diagnostics; the pipeline inspects it to decide whether a
// re-assembly failure is remediable.
type ToolError struct {
	// Tool names the jar operation, e.g. "apktool d".
	Tool string

	// Args is the full jar argument list.
	Args []string

	// Stderr is the captured diagnostic output, trimmed.
	Stderr string

	// TimedOut is set when the invocation exceeded its timeout.
	TimedOut bool

	// Err is the underlying exec error.
	Err error
}

func (e *ToolError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("%s timed out: %v (stderr: %s)", e.Tool, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s: %v (stderr: %s)", e.Tool, e.Err, e.Stderr)
}

func (e *ToolError) Unwrap() error { return e.Err }

// remediableSignatures are the descriptor-fault diagnostics the
// pipeline knows how to repair before retrying a re-assembly. The
// two shapes the sanitizer and patcher can introduce are a namespace
// prefix the re-assembler cannot resolve and a doubled attribute.
var remediableSignatures = []string{
	"unbound prefix",
	"unbound namespace prefix",
	"duplicate attribute",
}

// Remediable reports whether err is a jar failure whose diagnostics
// match a known repairable descriptor fault. Timeouts are never
// remediable.
func Remediable(err error) bool {
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		return false
	}
	if toolErr.TimedOut {
		return false
	}
	stderr := strings.ToLower(toolErr.Stderr)
	for _, signature := range remediableSignatures {
		if strings.Contains(stderr, signature) {
			return true
		}
	}
	return false
}

// Decode decodes the package at apkPath into outDir, overwriting a
// pre-existing tree.
func (t *Tool) Decode(ctx context.Context, apkPath, outDir string) error {
	return t.run(ctx, "apktool d", "d", apkPath, "-o", outDir, "-f")
}

// Build re-assembles the decoded tree at dir into a package at
// outPath.
func (t *Tool) Build(ctx context.Context, dir, outPath string) error {
	return t.run(ctx, "apktool b", "b", dir, "-o", outPath)
}

// Version returns the jar's version banner.
func (t *Tool) Version(ctx context.Context) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(runCtx, t.java, "-jar", t.jar, "--version")
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return "", fmt.Errorf("apktool --version: %w (stderr: %s)",
			err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// run executes one jar invocation with the tool's timeout, capturing
// stderr for diagnostics.
func (t *Tool) run(ctx context.Context, tool string, args ...string) error {
	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	fullArgs := append([]string{"-jar", t.jar}, args...)
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(runCtx, t.java, fullArgs...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return &ToolError{
			Tool:     tool,
			Args:     fullArgs,
			Stderr:   strings.TrimSpace(stderr.String()),
			TimedOut: errors.Is(runCtx.Err(), context.DeadlineExceeded),
			Err:      err,
		}
	}
	return nil
}
