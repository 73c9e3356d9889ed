// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

package smalipatch

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const bootstrapCall = "invoke-static {}, Lcom/abnsafita/protection/Protection;->init()V"

const appUnitFile = `.class public Lcom/example/app/App;
.super Landroid/app/Application;
.source "App.java"


# virtual methods
.method public onCreate()V
    .locals 1

    .prologue
    .line 20
    invoke-super {p0}, Landroid/app/Application;->onCreate()V

    .line 21
    return-void
.end method

.method public onTerminate()V
    .locals 0

    .prologue
    .line 30
    invoke-super {p0}, Landroid/app/Application;->onTerminate()V

    return-void
.end method
`

// writeUnitFile drops content into a temp unit file and returns its
// path.
func writeUnitFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "App.smali")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// lineAfter returns the trimmed line following the first line for
// which match returns true, or "" when no line matches.
func lineAfter(t *testing.T, path string, match func(string) bool) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		if match(strings.TrimSpace(line)) && i+1 < len(lines) {
			return strings.TrimSpace(lines[i+1])
		}
	}
	return ""
}

func TestInjectCall_AfterPrologue(t *testing.T) {
	t.Parallel()

	path := writeUnitFile(t, appUnitFile)
	if err := InjectCall(path, "onCreate", bootstrapCall); err != nil {
		t.Fatalf("InjectCall: %v", err)
	}

	got := lineAfter(t, path, func(line string) bool { return line == ".prologue" })
	if got != bootstrapCall {
		t.Errorf("line after prologue = %q, want the bootstrap call", got)
	}
}

func TestInjectCall_FallsBackToSuperCall(t *testing.T) {
	t.Parallel()

	withoutPrologue := strings.ReplaceAll(appUnitFile, "    .prologue\n", "")
	path := writeUnitFile(t, withoutPrologue)
	if err := InjectCall(path, "onCreate", bootstrapCall); err != nil {
		t.Fatalf("InjectCall: %v", err)
	}

	got := lineAfter(t, path, func(line string) bool {
		return strings.HasPrefix(line, "invoke-super") && strings.Contains(line, "onCreate(")
	})
	if got != bootstrapCall {
		t.Errorf("line after super call = %q, want the bootstrap call", got)
	}
}

func TestInjectCall_FallsBackToMethodTail(t *testing.T) {
	t.Parallel()

	bare := `.class public Lcom/example/app/App;
.super Landroid/app/Application;

.method public onCreate()V
    .locals 0

    return-void
.end method
`
	path := writeUnitFile(t, bare)
	if err := InjectCall(path, "onCreate", bootstrapCall); err != nil {
		t.Fatalf("InjectCall: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(string(data), "\n")
	closeAt := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == ".end method" {
			closeAt = i
			break
		}
	}
	if closeAt < 1 {
		t.Fatal("patched file lost its method close marker")
	}
	if got := strings.TrimSpace(lines[closeAt-1]); got != bootstrapCall {
		t.Errorf("line before close marker = %q, want the bootstrap call", got)
	}
}

func TestInjectCall_MethodNotFound(t *testing.T) {
	t.Parallel()

	path := writeUnitFile(t, appUnitFile)
	err := InjectCall(path, "attachBaseContext", bootstrapCall)
	if !errors.Is(err, ErrMethodNotFound) {
		t.Fatalf("InjectCall = %v, want ErrMethodNotFound", err)
	}
}

func TestInjectCall_DoesNotMatchLongerMethodNames(t *testing.T) {
	t.Parallel()

	fragment := `.class public Lcom/example/app/Frag;
.super Landroid/app/Fragment;

.method public onCreateView()V
    .locals 0

    .prologue
    return-void
.end method
`
	path := writeUnitFile(t, fragment)
	err := InjectCall(path, "onCreate", bootstrapCall)
	if !errors.Is(err, ErrMethodNotFound) {
		t.Fatalf("InjectCall matched onCreateView for target onCreate: %v", err)
	}
}

func TestInjectCall_ScopedToMatchedMethod(t *testing.T) {
	t.Parallel()

	// The target method has no prologue, but a later method does.
	// The injection must not escape the matched method's range.
	content := `.class public Lcom/example/app/App;
.super Landroid/app/Application;

.method public onCreate()V
    .locals 0

    return-void
.end method

.method public onLowMemory()V
    .locals 0

    .prologue
    return-void
.end method
`
	path := writeUnitFile(t, content)
	if err := InjectCall(path, "onCreate", bootstrapCall); err != nil {
		t.Fatalf("InjectCall: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)

	onCreate := text[strings.Index(text, "onCreate()V"):strings.Index(text, "onLowMemory")]
	if !strings.Contains(onCreate, bootstrapCall) {
		t.Error("bootstrap call missing from the target method")
	}
	onLowMemory := text[strings.Index(text, "onLowMemory"):]
	if strings.Contains(onLowMemory, bootstrapCall) {
		t.Error("bootstrap call leaked into a later method")
	}
}

func TestInjectCall_SingleInsertion(t *testing.T) {
	t.Parallel()

	path := writeUnitFile(t, appUnitFile)
	if err := InjectCall(path, "onCreate", bootstrapCall); err != nil {
		t.Fatalf("InjectCall: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(string(data), bootstrapCall); got != 1 {
		t.Errorf("bootstrap call appears %d times, want 1", got)
	}

	// The untouched method stays untouched.
	if strings.Contains(string(data)[strings.Index(string(data), "onTerminate"):], bootstrapCall) {
		t.Error("bootstrap call leaked into onTerminate")
	}
}

func TestInjectCall_MissingFile(t *testing.T) {
	t.Parallel()

	err := InjectCall(filepath.Join(t.TempDir(), "Gone.smali"), "onCreate", bootstrapCall)
	if err == nil {
		t.Fatal("InjectCall on a missing unit file did not error")
	}
}

func TestInjectClass(t *testing.T) {
	t.Parallel()

	rootDir := t.TempDir()
	payload := []byte(".class public Lcom/abnsafita/protection/MyApp;\n")

	if err := InjectClass(rootDir, "com.abnsafita.protection.MyApp", payload); err != nil {
		t.Fatalf("InjectClass: %v", err)
	}

	dest := filepath.Join(rootDir, "com", "abnsafita", "protection", "MyApp.smali")
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("injected unit file missing: %v", err)
	}
	if string(data) != string(payload) {
		t.Error("injected unit file does not match the payload")
	}

	// Re-injection over an existing file is safe.
	if err := InjectClass(rootDir, "com.abnsafita.protection.MyApp", payload); err != nil {
		t.Fatalf("second InjectClass: %v", err)
	}
}

func TestInjectClass_InvalidName(t *testing.T) {
	t.Parallel()

	err := InjectClass(t.TempDir(), "com..Bad", []byte("x"))
	if err == nil {
		t.Fatal("InjectClass accepted an invalid class name")
	}
}
