// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/beevik/etree"
)

const basicManifest = `<?xml version="1.0" encoding="utf-8" standalone="no"?>
<manifest xmlns:android="http://schemas.android.com/apk/res/android" package="com.example.app">
    <application android:name="com.example.app.App" android:label="Example">
        <activity android:name="com.example.app.MainActivity"/>
    </application>
</manifest>
`

// writeManifest drops content into a fresh descriptor file and
// returns its path.
func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DescriptorName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// parseManifest re-reads a descriptor for assertions.
func parseManifest(t *testing.T, path string) *etree.Element {
	t.Helper()
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		t.Fatalf("patched descriptor does not parse: %v", err)
	}
	root := doc.Root()
	if root == nil {
		t.Fatal("patched descriptor has no root")
	}
	return root
}

func TestPatch_SetsEntryClass(t *testing.T) {
	t.Parallel()

	path := writeManifest(t, basicManifest)
	if err := Patch(path, "com.abnsafita.protection.MyApp"); err != nil {
		t.Fatalf("Patch: %v", err)
	}

	root := parseManifest(t, path)
	app := findApplication(root)
	if app == nil {
		t.Fatal("application element missing after patch")
	}
	if got := app.SelectAttrValue("android:name", ""); got != "com.abnsafita.protection.MyApp" {
		t.Errorf("android:name = %q, want com.abnsafita.protection.MyApp", got)
	}

	// The pre-mutation backup must hold the original bytes.
	backup, err := os.ReadFile(path + BackupSuffix)
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if string(backup) != basicManifest {
		t.Error("backup does not match the original descriptor")
	}

	// Other application attributes survive.
	if got := app.SelectAttrValue("android:label", ""); got != "Example" {
		t.Errorf("android:label = %q, want Example", got)
	}
}

func TestPatch_Idempotent(t *testing.T) {
	t.Parallel()

	path := writeManifest(t, basicManifest)
	if err := Patch(path, "com.abnsafita.protection.MyApp"); err != nil {
		t.Fatalf("first Patch: %v", err)
	}
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := Patch(path, "com.abnsafita.protection.MyApp"); err != nil {
		t.Fatalf("second Patch: %v", err)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(first, second) {
		t.Error("second Patch changed the descriptor")
	}

	// Exactly one tooling namespace binding.
	root := parseManifest(t, path)
	bindings := 0
	for _, attr := range root.Attr {
		if attr.Space == "xmlns" && attr.Value == ToolsNamespaceURI {
			bindings++
		}
	}
	if bindings != 1 {
		t.Errorf("tooling namespace bound %d times, want 1", bindings)
	}
}

func TestPatch_MissingDescriptor(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	err := Patch(filepath.Join(dir, DescriptorName), "com.example.Hook")
	if err == nil {
		t.Fatal("Patch on a missing descriptor did not error")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("error %v does not wrap fs.ErrNotExist", err)
	}

	// No backup may exist for a failed patch.
	if _, statErr := os.Stat(filepath.Join(dir, DescriptorName+BackupSuffix)); statErr == nil {
		t.Error("backup created for a missing descriptor")
	}
}

func TestPatch_FabricatesApplication(t *testing.T) {
	t.Parallel()

	path := writeManifest(t, `<?xml version="1.0" encoding="utf-8"?>
<manifest xmlns:android="http://schemas.android.com/apk/res/android" package="com.example.app">
    <uses-permission android:name="android.permission.INTERNET"/>
</manifest>
`)
	if err := Patch(path, "com.example.Hook"); err != nil {
		t.Fatalf("Patch: %v", err)
	}

	root := parseManifest(t, path)
	app := findApplication(root)
	if app == nil {
		t.Fatal("application element was not fabricated")
	}
	if got := app.SelectAttrValue("android:name", ""); got != "com.example.Hook" {
		t.Errorf("android:name = %q, want com.example.Hook", got)
	}
}

func TestPatch_BindsMissingNamespaces(t *testing.T) {
	t.Parallel()

	// No namespace declarations at all: both must be bound.
	path := writeManifest(t, `<manifest package="com.example.app"><application/></manifest>`)
	if err := Patch(path, "com.example.Hook"); err != nil {
		t.Fatalf("Patch: %v", err)
	}

	root := parseManifest(t, path)
	if prefix, ok := declaredPrefix(root, AndroidNamespaceURI); !ok || prefix != "android" {
		t.Errorf("platform namespace binding = %q/%v, want android/true", prefix, ok)
	}
	if prefix, ok := declaredPrefix(root, ToolsNamespaceURI); !ok || prefix != "tools" {
		t.Errorf("tooling namespace binding = %q/%v, want tools/true", prefix, ok)
	}

	app := findApplication(root)
	if got := app.SelectAttrValue("tools:ignore", ""); got != ignoredLint {
		t.Errorf("tools:ignore = %q, want %q", got, ignoredLint)
	}
}

func TestPatch_AddsDeclarationWhenMissing(t *testing.T) {
	t.Parallel()

	path := writeManifest(t, `<manifest xmlns:android="http://schemas.android.com/apk/res/android"><application/></manifest>`)
	if err := Patch(path, "com.example.Hook"); err != nil {
		t.Fatalf("Patch: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "<?xml") {
		t.Errorf("patched descriptor does not start with an XML declaration: %q", data[:20])
	}
}

func TestPatch_ForeignToolsPrefixLeftAlone(t *testing.T) {
	t.Parallel()

	path := writeManifest(t, `<?xml version="1.0" encoding="utf-8"?>
<manifest xmlns:android="http://schemas.android.com/apk/res/android" xmlns:tools="http://example.com/not-tools">
    <application/>
</manifest>
`)
	if err := Patch(path, "com.example.Hook"); err != nil {
		t.Fatalf("Patch: %v", err)
	}

	root := parseManifest(t, path)
	if _, ok := declaredPrefix(root, ToolsNamespaceURI); ok {
		t.Error("tooling namespace bound despite a foreign claim on the prefix")
	}
	app := findApplication(root)
	if attr := app.SelectAttr("tools:ignore"); attr != nil {
		t.Error("tools:ignore set without a usable namespace binding")
	}
	// The entry class is still patched.
	if got := app.SelectAttrValue("android:name", ""); got != "com.example.Hook" {
		t.Errorf("android:name = %q, want com.example.Hook", got)
	}
}

func TestFindApplication_QualifiedAndNested(t *testing.T) {
	t.Parallel()

	qualified := `<?xml version="1.0"?>
<manifest xmlns:android="http://schemas.android.com/apk/res/android">
    <android:application android:label="Q"/>
</manifest>`
	doc := etree.NewDocument()
	if err := doc.ReadFromString(qualified); err != nil {
		t.Fatal(err)
	}
	if app := findApplication(doc.Root()); app == nil || app.Space != "android" {
		t.Error("platform-qualified application not found")
	}

	nested := `<?xml version="1.0"?>
<manifest xmlns:android="http://schemas.android.com/apk/res/android">
    <queries><application android:label="N"/></queries>
</manifest>`
	doc = etree.NewDocument()
	if err := doc.ReadFromString(nested); err != nil {
		t.Fatal(err)
	}
	if app := findApplication(doc.Root()); app == nil || app.SelectAttrValue("android:label", "") != "N" {
		t.Error("nested application not found by whole-tree scan")
	}
}

func TestStripDuplicateToolsDecl(t *testing.T) {
	t.Parallel()

	path := writeManifest(t, `<?xml version="1.0" encoding="utf-8"?>
<manifest xmlns:android="http://schemas.android.com/apk/res/android" xmlns:tools="http://schemas.android.com/tools" xmlns:tools2="http://schemas.android.com/tools">
    <application/>
</manifest>
`)
	if err := StripDuplicateToolsDecl(path); err != nil {
		t.Fatalf("StripDuplicateToolsDecl: %v", err)
	}

	root := parseManifest(t, path)
	bindings := 0
	for _, attr := range root.Attr {
		if attr.Space == "xmlns" && attr.Value == ToolsNamespaceURI {
			bindings++
		}
	}
	if bindings != 1 {
		t.Errorf("tooling namespace bound %d times after strip, want 1", bindings)
	}

	// A single binding is left untouched.
	if err := StripDuplicateToolsDecl(path); err != nil {
		t.Fatalf("StripDuplicateToolsDecl on clean descriptor: %v", err)
	}
}

func TestEntryClass(t *testing.T) {
	t.Parallel()

	path := writeManifest(t, basicManifest)
	got, err := EntryClass(path)
	if err != nil {
		t.Fatalf("EntryClass: %v", err)
	}
	if got != "com.example.app.App" {
		t.Errorf("EntryClass = %q, want com.example.app.App", got)
	}

	bare := writeManifest(t, `<manifest xmlns:android="http://schemas.android.com/apk/res/android"/>`)
	got, err = EntryClass(bare)
	if err != nil {
		t.Fatalf("EntryClass on bare manifest: %v", err)
	}
	if got != "" {
		t.Errorf("EntryClass = %q, want empty for a manifest without application", got)
	}
}
