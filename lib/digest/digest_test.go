// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

package digest

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPackageDeterministic(t *testing.T) {
	t.Parallel()

	data := []byte("not really an apk")
	first, err := Package(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Package: %v", err)
	}
	second, err := Package(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Package: %v", err)
	}
	if first != second {
		t.Fatalf("same input hashed differently: %s vs %s", Format(first), Format(second))
	}
}

func TestPackageAndBundleDomainsDiffer(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "blob")
	if err := os.WriteFile(path, []byte("identical bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	asPackage, err := PackageFile(path)
	if err != nil {
		t.Fatalf("PackageFile: %v", err)
	}
	asBundle, err := BundleFile(path)
	if err != nil {
		t.Fatalf("BundleFile: %v", err)
	}
	if asPackage == asBundle {
		t.Fatal("package and bundle domains produced the same digest for the same bytes")
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	t.Parallel()

	d, err := Package(strings.NewReader("round trip"))
	if err != nil {
		t.Fatalf("Package: %v", err)
	}
	formatted := Format(d)
	if len(formatted) != 64 {
		t.Fatalf("Format length = %d, want 64", len(formatted))
	}
	parsed, err := Parse(formatted)
	if err != nil {
		t.Fatalf("Parse(%q): %v", formatted, err)
	}
	if parsed != d {
		t.Fatalf("Parse(Format(d)) = %s, want %s", Format(parsed), formatted)
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	t.Parallel()

	if _, err := Parse("zz"); err == nil {
		t.Fatal("Parse accepted non-hex input")
	}
	if _, err := Parse("abcd"); err == nil {
		t.Fatal("Parse accepted short input")
	}
}

func TestFormatRef(t *testing.T) {
	t.Parallel()

	d, err := Package(strings.NewReader("ref"))
	if err != nil {
		t.Fatalf("Package: %v", err)
	}
	ref := FormatRef(d)
	if !strings.HasPrefix(ref, "dex-") {
		t.Fatalf("FormatRef = %q, want dex- prefix", ref)
	}
	if len(ref) != len("dex-")+12 {
		t.Fatalf("FormatRef length = %d, want %d", len(ref), len("dex-")+12)
	}
}

func TestPackageFileMissing(t *testing.T) {
	t.Parallel()

	if _, err := PackageFile(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("PackageFile on a missing file did not error")
	}
}
