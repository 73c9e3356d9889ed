// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest patches decoded Android descriptors. The two
// entry points mirror the pipeline stages that use them: Patch
// rewrites AndroidManifest.xml to install the protection entry
// class, and SanitizePublic repairs the public symbol table that
// the decoder emits in a shape the re-assembler sometimes rejects.
//
// All XML editing happens on an explicit document tree; namespace
// bindings are plain root attributes, consulted and written through
// one authority (declaredPrefix), never through process-global
// state.
package manifest

import (
	"errors"
	"fmt"
	"os"

	"github.com/beevik/etree"
)

// DescriptorName is the canonical descriptor filename inside a
// decoded package and the output bundle.
const DescriptorName = "AndroidManifest.xml"

// BackupSuffix is appended to the descriptor path for the
// pre-mutation backup.
const BackupSuffix = ".bak"

// ignoredLint is the lint rule suppressed on the application
// element: the injected entry class is not present in the decoded
// sources, which trips a false-positive missing-class warning on
// re-assembly tooling.
const ignoredLint = "MissingClass"

// ErrSelfCheckFailed reports that the patched descriptor could not
// be re-parsed even after dropping the optional attributes, and the
// backup could not be restored.
var ErrSelfCheckFailed = errors.New("manifest: patched descriptor failed self-check")

// Patch rewrites the descriptor at path so its application entry
// class is entryClass.
//
// The original bytes are copied to path+BackupSuffix before any
// mutation. The platform namespace is bound if the descriptor lost
// it; the tooling namespace is used only when already bound or
// freshly bindable without conflict. A missing application element
// is fabricated rather than treated as an error. After writing,
// the result is re-parsed; a failure strips the optional tooling
// attribute and retries, then restores the backup.
//
// Patch is idempotent: running it twice yields a byte-identical
// descriptor.
func Patch(path, entryClass string) error {
	original, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("manifest: reading descriptor: %w", err)
	}

	if err := os.WriteFile(path+BackupSuffix, original, 0o644); err != nil {
		return fmt.Errorf("manifest: writing descriptor backup: %w", err)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(original); err != nil {
		return fmt.Errorf("manifest: parsing %s: %w", path, err)
	}
	root := doc.Root()
	if root == nil {
		return fmt.Errorf("manifest: %s has no root element", path)
	}

	androidPrefix, ok := ensureDeclared(root, "android", AndroidNamespaceURI)
	if !ok {
		// The conventional prefix is bound to something else. The
		// descriptor is too damaged to patch attributes into.
		return fmt.Errorf("manifest: %s binds the android prefix to a foreign namespace", path)
	}
	toolsPrefix, toolsOK := ensureDeclared(root, "tools", ToolsNamespaceURI)

	app := findApplication(root)
	if app == nil {
		app = root.CreateElement("application")
	}

	app.CreateAttr(androidPrefix+":name", entryClass)
	if toolsOK {
		app.CreateAttr(toolsPrefix+":ignore", ignoredLint)
	}

	ensureDeclaration(doc)

	if err := doc.WriteToFile(path); err != nil {
		return fmt.Errorf("manifest: writing %s: %w", path, err)
	}

	if reparse(path) == nil {
		return nil
	}

	// First fallback: the optional tooling attribute is the only
	// cosmetic mutation; drop it and rewrite.
	if toolsOK {
		app.RemoveAttr(toolsPrefix + ":ignore")
		if err := doc.WriteToFile(path); err == nil && reparse(path) == nil {
			return nil
		}
	}

	// Last resort: put the original bytes back.
	if err := os.WriteFile(path, original, 0o644); err != nil {
		return fmt.Errorf("%w: restoring backup: %v", ErrSelfCheckFailed, err)
	}
	return ErrSelfCheckFailed
}

// EntryClass returns the application entry class currently recorded
// in the descriptor at path, or the empty string when the descriptor
// has no application element or no name attribute.
func EntryClass(path string) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return "", fmt.Errorf("manifest: parsing %s: %w", path, err)
	}
	root := doc.Root()
	if root == nil {
		return "", fmt.Errorf("manifest: %s has no root element", path)
	}
	app := findApplication(root)
	if app == nil {
		return "", nil
	}
	prefix, ok := declaredPrefix(root, AndroidNamespaceURI)
	if !ok {
		prefix = "android"
	}
	if attr := app.SelectAttr(prefix + ":name"); attr != nil {
		return attr.Value, nil
	}
	return "", nil
}

// StripDuplicateToolsDecl removes surplus root-level bindings of the
// tooling namespace, keeping the first. Duplicate bindings are one of
// the two descriptor shapes the re-assembler rejects; the pipeline
// calls this during encode remediation.
func StripDuplicateToolsDecl(path string) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return fmt.Errorf("manifest: parsing %s: %w", path, err)
	}
	root := doc.Root()
	if root == nil {
		return fmt.Errorf("manifest: %s has no root element", path)
	}

	seen := false
	var surplus []string
	for _, attr := range root.Attr {
		if attr.Space != "xmlns" || attr.Value != ToolsNamespaceURI {
			continue
		}
		if seen {
			surplus = append(surplus, attr.Key)
			continue
		}
		seen = true
	}
	if len(surplus) == 0 {
		return nil
	}

	for _, prefix := range surplus {
		root.RemoveAttr("xmlns:" + prefix)
	}
	if err := doc.WriteToFile(path); err != nil {
		return fmt.Errorf("manifest: writing %s: %w", path, err)
	}
	return nil
}

// findApplication locates the application element. Decoded
// descriptors normally carry it as a direct unqualified child of the
// root; damaged ones have been seen with a platform-qualified tag or
// with the element nested deeper, so the lookup degrades through
// those shapes before giving up.
func findApplication(root *etree.Element) *etree.Element {
	for _, child := range root.ChildElements() {
		if child.Space == "" && child.Tag == "application" {
			return child
		}
	}

	if prefix, ok := declaredPrefix(root, AndroidNamespaceURI); ok {
		for _, child := range root.ChildElements() {
			if child.Space == prefix && child.Tag == "application" {
				return child
			}
		}
	}

	return findByLocalTag(root, "application")
}

// findByLocalTag walks the whole tree under el and returns the first
// element whose local tag matches, ignoring namespace prefixes.
func findByLocalTag(el *etree.Element, tag string) *etree.Element {
	for _, child := range el.ChildElements() {
		if child.Tag == tag {
			return child
		}
		if found := findByLocalTag(child, tag); found != nil {
			return found
		}
	}
	return nil
}

// ensureDeclaration guarantees the serialized document starts with an
// XML declaration, matching what the re-assembler expects. Documents
// that already carry one are left untouched.
func ensureDeclaration(doc *etree.Document) {
	for _, token := range doc.Child {
		if pi, ok := token.(*etree.ProcInst); ok && pi.Target == "xml" {
			return
		}
	}
	doc.InsertChildAt(0, &etree.ProcInst{
		Target: "xml",
		Inst:   `version="1.0" encoding="utf-8" standalone="no"`,
	})
}

// reparse checks that the file at path is well-formed XML.
func reparse(path string) error {
	return etree.NewDocument().ReadFromFile(path)
}
