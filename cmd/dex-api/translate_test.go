// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"archive/zip"
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

// postFile sends one multipart file part to the given path.
func postFile(t *testing.T, server *Server, path, field, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()

	body, contentType := multipartBody(t,
		[]filePart{{field: field, filename: filename, body: content}},
		nil)
	request := httptest.NewRequest(http.MethodPost, path, body)
	request.Header.Set("Content-Type", contentType)
	return do(t, server, request)
}

func readFileBytes(t *testing.T, path string) []byte {
	t.Helper()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return content
}

func TestDisassemble(t *testing.T) {
	t.Parallel()

	apk := readFileBytes(t, buildZip(t, "app.apk", []zipEntry{
		{"classes.dex", "unit one"},
		{"classes2.dex", "unit two"},
		{"res/layout/main.xml", "layout"},
		{"assets/classes.dex", "not a unit"},
	}))

	// Each baksmali run drops one stub source into its output root.
	server, manager := newTestServer(t, `case "$3" in
d) mkdir -p "$6" && printf '.class LStub;\n' > "$6/Stub.smali" ;;
esac`)

	recorder := postFile(t, server, "/upload", "file", "app.apk", apk)
	if recorder.Code != http.StatusOK {
		t.Fatalf("POST /upload = %d, body %s", recorder.Code, recorder.Body.String())
	}
	if got, want := recorder.Header().Get("Content-Disposition"), `attachment; filename="smali_out.zip"`; got != want {
		t.Errorf("Content-Disposition = %q, want %q", got, want)
	}

	reader, err := zip.NewReader(bytes.NewReader(recorder.Body.Bytes()), int64(recorder.Body.Len()))
	if err != nil {
		t.Fatalf("response is not a zip: %v", err)
	}
	var names []string
	for _, entry := range reader.File {
		names = append(names, entry.Name)
		if entry.Method != zip.Store {
			t.Errorf("entry %s method = %d, want Store", entry.Name, entry.Method)
		}
	}
	want := []string{"smali/Stub.smali", "smali_classes2/Stub.smali"}
	if !slices.Equal(names, want) {
		t.Errorf("archive entries = %v, want %v", names, want)
	}

	infos, err := manager.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 || !infos[0].PendingRelease {
		t.Errorf("List = %+v, want one workspace pending release", infos)
	}
}

func TestDisassembleNoUnits(t *testing.T) {
	t.Parallel()

	apk := readFileBytes(t, buildZip(t, "app.apk", []zipEntry{
		{"res/layout/main.xml", "layout"},
	}))
	server, _ := newTestServer(t, "exit 0")

	recorder := postFile(t, server, "/upload", "file", "app.apk", apk)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("POST /upload = %d, want %d", recorder.Code, http.StatusBadRequest)
	}
	envelope := decodeError(t, recorder)
	if !strings.Contains(envelope.Error, "classes") {
		t.Errorf("error = %q, want it to name the missing units", envelope.Error)
	}
}

func TestDisassembleRejectsNonArchive(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t, "exit 0")
	recorder := postFile(t, server, "/upload", "file", "app.apk", []byte("not a zip"))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("POST /upload = %d, want %d", recorder.Code, http.StatusBadRequest)
	}
}

func TestDisassembleToolFailure(t *testing.T) {
	t.Parallel()

	apk := readFileBytes(t, buildZip(t, "app.apk", []zipEntry{
		{"classes.dex", "unit one"},
	}))
	server, manager := newTestServer(t, `echo "baksmali: bad dex" >&2; exit 1`)

	recorder := postFile(t, server, "/upload", "file", "app.apk", apk)
	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("POST /upload = %d, want %d", recorder.Code, http.StatusBadGateway)
	}
	envelope := decodeError(t, recorder)
	if got, want := envelope.Kind, "tool_error"; got != want {
		t.Errorf("kind = %q, want %q", got, want)
	}

	infos, err := manager.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 0 {
		t.Errorf("List returned %d workspaces after failure, want 0", len(infos))
	}
}

func TestAssemble(t *testing.T) {
	t.Parallel()

	// The archive wraps the tree in a single smali directory, the way
	// a zipped disassembly folder arrives.
	tree := readFileBytes(t, buildZip(t, "smali.zip", []zipEntry{
		{"smali/com/example/A.smali", ".class public Lcom/example/A;\n"},
		{"smali/com/example/B.smali", ".class public Lcom/example/B;\n"},
	}))

	rootFile := filepath.Join(t.TempDir(), "root")
	server, _ := newTestServer(t, fmt.Sprintf(`case "$3" in
a) printf '%%s' "$4" > %q && printf 'dex bytes' > "$6" ;;
esac`, rootFile))

	recorder := postFile(t, server, "/assemble", "smali", "smali.zip", tree)
	if recorder.Code != http.StatusOK {
		t.Fatalf("POST /assemble = %d, body %s", recorder.Code, recorder.Body.String())
	}
	if got, want := recorder.Body.String(), "dex bytes"; got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
	if got, want := recorder.Header().Get("Content-Type"), "application/octet-stream"; got != want {
		t.Errorf("Content-Type = %q, want %q", got, want)
	}
	if got, want := recorder.Header().Get("Content-Disposition"), `attachment; filename="classes.dex"`; got != want {
		t.Errorf("Content-Disposition = %q, want %q", got, want)
	}

	// The assembler ran on the unwrapped tree.
	root := string(readFileBytes(t, rootFile))
	if got, want := filepath.Base(root), "smali"; got != want {
		t.Errorf("assembler root = %q, want base %q", root, want)
	}
}

func TestAssembleRequiresSmaliField(t *testing.T) {
	t.Parallel()

	tree := readFileBytes(t, buildZip(t, "smali.zip", []zipEntry{
		{"com/example/A.smali", ".class public Lcom/example/A;\n"},
	}))
	server, _ := newTestServer(t, "exit 0")

	recorder := postFile(t, server, "/assemble", "file", "smali.zip", tree)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("POST /assemble = %d, want %d", recorder.Code, http.StatusBadRequest)
	}
	envelope := decodeError(t, recorder)
	if !strings.Contains(envelope.Error, `"smali"`) {
		t.Errorf("error = %q, want it to name the field", envelope.Error)
	}
}

func TestAssembleRejectsEscapingEntry(t *testing.T) {
	t.Parallel()

	tree := readFileBytes(t, buildZip(t, "smali.zip", []zipEntry{
		{"../evil.smali", ".class public Levil;\n"},
	}))
	server, manager := newTestServer(t, "exit 0")

	recorder := postFile(t, server, "/assemble", "smali", "smali.zip", tree)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("POST /assemble = %d, want %d", recorder.Code, http.StatusBadRequest)
	}
	envelope := decodeError(t, recorder)
	if !strings.Contains(envelope.Error, "escapes the extraction root") {
		t.Errorf("error = %q, want the escape named", envelope.Error)
	}

	infos, err := manager.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 0 {
		t.Errorf("List returned %d workspaces after rejection, want 0", len(infos))
	}
}
