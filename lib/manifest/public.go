// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/beevik/etree"
)

// publicTablePath is where the decoder leaves the public symbol
// table, relative to the decoded package root.
var publicTablePath = filepath.Join("res", "values", "public.xml")

// generatedNamePrefix marks symbol entries the decoder fabricated for
// resources it could not resolve to a source name.
const generatedNamePrefix = "APKTOOL_DUMMY_"

// missingDefaultLint is the lint rule suppressed on fabricated
// entries that survive sanitization.
const missingDefaultLint = "MissingDefaultResource"

// SanitizePublic repairs the decoded public symbol table under
// workspace so re-assembly does not trip over it. Internal-only
// symbol entries (type prefixed with "^") are dropped entirely;
// fabricated entries are marked ignorable when the tooling namespace
// is declared on the resources root.
//
// Sanitization is best-effort by contract: every failure degrades to
// a cruder fix and is logged, never returned. The ladder is full fix,
// then stripping only the attributes a previous run added, then
// deleting the file so the re-assembler regenerates it.
func SanitizePublic(workspace string, logger *slog.Logger) {
	path := filepath.Join(workspace, publicTablePath)
	if _, err := os.Stat(path); err != nil {
		return
	}

	err := sanitizeTable(path)
	if err == nil {
		return
	}
	logger.Warn("public table fix failed, stripping added attributes",
		"path", path, "error", err)

	err = stripAddedAttributes(path)
	if err == nil {
		return
	}
	logger.Warn("public table strip failed, deleting file",
		"path", path, "error", err)

	if err := os.Remove(path); err != nil {
		logger.Warn("public table delete failed", "path", path, "error", err)
	}
}

// sanitizeTable applies the full repair to the symbol table.
func sanitizeTable(path string) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return err
	}
	root := doc.Root()
	if root == nil {
		return ErrSelfCheckFailed
	}

	toolsPrefix, toolsOK := declaredPrefix(root, ToolsNamespaceURI)

	var internal []*etree.Element
	for _, entry := range root.ChildElements() {
		if entry.Tag != "public" {
			continue
		}
		symbolType := entry.SelectAttrValue("type", "")
		name := entry.SelectAttrValue("name", "")

		if strings.HasPrefix(symbolType, "^") {
			internal = append(internal, entry)
			continue
		}
		if toolsOK && strings.HasPrefix(name, generatedNamePrefix) {
			entry.CreateAttr(toolsPrefix+":ignore", missingDefaultLint)
		}
	}
	for _, entry := range internal {
		root.RemoveChild(entry)
	}

	ensureDeclaration(doc)
	return doc.WriteToFile(path)
}

// stripAddedAttributes removes only the lint-suppression attributes a
// previous sanitization pass added, leaving the table otherwise as
// the decoder wrote it.
func stripAddedAttributes(path string) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return err
	}
	root := doc.Root()
	if root == nil {
		return ErrSelfCheckFailed
	}

	toolsPrefix, toolsOK := declaredPrefix(root, ToolsNamespaceURI)
	if !toolsOK {
		return nil
	}
	for _, entry := range root.ChildElements() {
		if entry.Tag == "public" {
			entry.RemoveAttr(toolsPrefix + ":ignore")
		}
	}
	return doc.WriteToFile(path)
}

// RemovePublicTable deletes the public symbol table under workspace
// if present. The pipeline uses this during encode remediation: a
// table the re-assembler rejects is better regenerated than argued
// with. Returns true when a file was removed.
func RemovePublicTable(workspace string) (bool, error) {
	path := filepath.Join(workspace, publicTablePath)
	if _, err := os.Stat(path); err != nil {
		return false, nil
	}
	if err := os.Remove(path); err != nil {
		return false, err
	}
	return true, nil
}
