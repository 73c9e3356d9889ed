// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/abnsafita97/dex-api/lib/digest"
)

const protectDescriptor = `<?xml version="1.0" encoding="utf-8"?>
<manifest xmlns:android="http://schemas.android.com/apk/res/android" package="com.example.app">
    <application android:name="com.example.LegacyApp" android:label="app">
        <activity android:name="com.example.MainActivity"/>
    </application>
</manifest>
`

const protectUnit = `.class public Lcom/example/LegacyApp;
.super Landroid/app/Application;
`

// protectScript builds a java stub whose apktool decode copies the
// fixture tree and whose build drops in a prebuilt package.
func protectScript(fixtureDir, rebuiltPath string) string {
	return fmt.Sprintf(`case "$3" in
d) mkdir -p "$6" && cp -R %q/. "$6" ;;
b) cp %q "$6" ;;
esac`, fixtureDir, rebuiltPath)
}

// postProtect sends a multipart package upload to /protect.
func postProtect(t *testing.T, server *Server, apk []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	body, contentType := multipartBody(t,
		[]filePart{{field: "file", filename: "app.apk", body: apk}},
		fields)
	request := httptest.NewRequest(http.MethodPost, "/protect", body)
	request.Header.Set("Content-Type", contentType)
	return do(t, server, request)
}

func TestProtect(t *testing.T) {
	t.Parallel()

	fixture := writeTree(t, map[string]string{
		"AndroidManifest.xml":               protectDescriptor,
		"smali/com/example/LegacyApp.smali": protectUnit,
	})
	rebuilt := buildZip(t, "rebuilt.apk", []zipEntry{
		{"AndroidManifest.xml", "binary descriptor"},
		{"res/values/strings.xml", "strings"},
		{"classes.dex", "unit one"},
	})
	server, manager := newTestServer(t, protectScript(fixture, rebuilt))

	recorder := postProtect(t, server, []byte("upload bytes"), map[string]string{"profile": "default"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("POST /protect = %d, body %s", recorder.Code, recorder.Body.String())
	}
	if got, want := recorder.Header().Get("Content-Type"), "application/zip"; got != want {
		t.Errorf("Content-Type = %q, want %q", got, want)
	}
	if got, want := recorder.Header().Get("Content-Disposition"), `attachment; filename="protected.zip"`; got != want {
		t.Errorf("Content-Disposition = %q, want %q", got, want)
	}

	// The bundle keeps only the units and the descriptor, descriptor
	// last.
	names := readZipNames(t, recorder.Body.Bytes())
	want := []string{"classes.dex", "AndroidManifest.xml"}
	if !slices.Equal(names, want) {
		t.Errorf("bundle entries = %v, want %v", names, want)
	}

	// The digest header matches the served bytes.
	bundlePath := filepath.Join(t.TempDir(), "bundle.zip")
	if err := os.WriteFile(bundlePath, recorder.Body.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	sum, err := digest.BundleFile(bundlePath)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := recorder.Header().Get("X-Bundle-Digest"), digest.Format(sum); got != want {
		t.Errorf("X-Bundle-Digest = %q, want %q", got, want)
	}

	// The workspace survives the response and is queued for release.
	infos, err := manager.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 {
		t.Fatalf("List returned %d workspaces, want 1", len(infos))
	}
	if got, want := infos[0].Stage, "done"; got != want {
		t.Errorf("stage = %q, want %q", got, want)
	}
	if !infos[0].PendingRelease {
		t.Error("PendingRelease = false, want true")
	}
}

func TestProtectDefaultsProfile(t *testing.T) {
	t.Parallel()

	fixture := writeTree(t, map[string]string{
		"AndroidManifest.xml":               protectDescriptor,
		"smali/com/example/LegacyApp.smali": protectUnit,
	})
	rebuilt := buildZip(t, "rebuilt.apk", []zipEntry{
		{"classes.dex", "unit one"},
		{"AndroidManifest.xml", "binary descriptor"},
	})
	server, _ := newTestServer(t, protectScript(fixture, rebuilt))

	// No profile field at all.
	recorder := postProtect(t, server, []byte("upload bytes"), nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("POST /protect = %d, body %s", recorder.Code, recorder.Body.String())
	}
}

func TestProtectNoPackagePart(t *testing.T) {
	t.Parallel()

	server, manager := newTestServer(t, "exit 0")

	body, contentType := multipartBody(t, nil, map[string]string{"profile": "default"})
	request := httptest.NewRequest(http.MethodPost, "/protect", body)
	request.Header.Set("Content-Type", contentType)

	recorder := do(t, server, request)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("POST /protect = %d, want %d", recorder.Code, http.StatusBadRequest)
	}
	envelope := decodeError(t, recorder)
	if !strings.Contains(envelope.Error, "no .apk file") {
		t.Errorf("error = %q, want it to name the missing package", envelope.Error)
	}

	// The half-built workspace is gone.
	infos, err := manager.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 0 {
		t.Errorf("List returned %d workspaces, want 0", len(infos))
	}
}

func TestProtectUnknownProfile(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, "exit 0")
	recorder := postProtect(t, server, []byte("upload bytes"), map[string]string{"profile": "missing"})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("POST /protect = %d, want %d", recorder.Code, http.StatusBadRequest)
	}
	envelope := decodeError(t, recorder)
	if !strings.Contains(envelope.Error, "missing") {
		t.Errorf("error = %q, want it to name the profile", envelope.Error)
	}
}

func TestProtectNoUnitRoots(t *testing.T) {
	t.Parallel()

	// Decode produces a tree without a single unit root.
	fixture := writeTree(t, map[string]string{
		"AndroidManifest.xml": protectDescriptor,
		"res/values/":         "",
	})
	server, _ := newTestServer(t, protectScript(fixture, "/nonexistent"))

	recorder := postProtect(t, server, []byte("upload bytes"), nil)
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("POST /protect = %d, want %d", recorder.Code, http.StatusUnprocessableEntity)
	}
	envelope := decodeError(t, recorder)
	if got, want := envelope.Kind, "no_units_found"; got != want {
		t.Errorf("kind = %q, want %q", got, want)
	}
}

func TestProtectDecodeFailure(t *testing.T) {
	t.Parallel()

	server, manager := newTestServer(t, `echo "AndrolibException: bad package" >&2; exit 1`)

	recorder := postProtect(t, server, []byte("upload bytes"), nil)
	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("POST /protect = %d, want %d", recorder.Code, http.StatusBadGateway)
	}
	envelope := decodeError(t, recorder)
	if got, want := envelope.Kind, "tool_error"; got != want {
		t.Errorf("kind = %q, want %q", got, want)
	}
	if !strings.Contains(envelope.Error, "AndrolibException") {
		t.Errorf("error = %q, want the tool stderr in it", envelope.Error)
	}

	infos, err := manager.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 0 {
		t.Errorf("List returned %d workspaces after failure, want 0", len(infos))
	}
}

func TestProtectBodyTooLarge(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, "exit 0")
	server.maxUploadBytes = 64

	recorder := postProtect(t, server, make([]byte, 4096), nil)
	if recorder.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("POST /protect = %d, want %d", recorder.Code, http.StatusRequestEntityTooLarge)
	}
	envelope := decodeError(t, recorder)
	if !strings.Contains(envelope.Error, "64 byte limit") {
		t.Errorf("error = %q, want the limit named", envelope.Error)
	}
}
