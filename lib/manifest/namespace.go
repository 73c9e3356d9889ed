// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import "github.com/beevik/etree"

// Namespace URIs used by decoded descriptors.
const (
	// AndroidNamespaceURI is the platform namespace every descriptor
	// attribute lives under.
	AndroidNamespaceURI = "http://schemas.android.com/apk/res/android"

	// ToolsNamespaceURI is the build-tooling namespace used for
	// lint-suppression attributes.
	ToolsNamespaceURI = "http://schemas.android.com/tools"
)

// declaredPrefix reports whether any xmlns declaration on el binds
// uri, and if so under which prefix. This is the single authority for
// namespace state: historically the binding could live in a parser
// registry or as a raw root attribute and the two views drifted, so
// every read and write in this package goes through the element's
// attributes via this function.
func declaredPrefix(el *etree.Element, uri string) (string, bool) {
	for _, attr := range el.Attr {
		if attr.Space == "xmlns" && attr.Value == uri {
			return attr.Key, true
		}
	}
	return "", false
}

// prefixClaimed reports whether the given xmlns prefix is already
// bound on el, to any URI.
func prefixClaimed(el *etree.Element, prefix string) bool {
	for _, attr := range el.Attr {
		if attr.Space == "xmlns" && attr.Key == prefix {
			return true
		}
	}
	return false
}

// ensureDeclared binds uri under wantPrefix on el unless some prefix
// already binds it. Returns the effective prefix and whether the
// namespace is usable: a foreign claim on wantPrefix leaves the
// namespace undeclared rather than risking a conflicting binding.
func ensureDeclared(el *etree.Element, wantPrefix, uri string) (string, bool) {
	if prefix, ok := declaredPrefix(el, uri); ok {
		return prefix, true
	}
	if prefixClaimed(el, wantPrefix) {
		return "", false
	}
	el.CreateAttr("xmlns:"+wantPrefix, uri)
	return wantPrefix, true
}
