// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

// Package profile provides parsing, validation, and loading for
// protection profiles. A profile tells the patch pipeline how a
// package gets its bootstrap hook: which entry class the descriptor
// should point at, whether a new class is injected or a call is
// inserted into an existing one, and the exact bootstrap instruction.
//
// Profiles are authored as JSONC files (JSON extended with comments
// and trailing commas). A built-in default profile is embedded at
// compile time; operators extend or override it with files in the
// configured profile directory.
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
)

// Strategy selects how the bootstrap hook is installed.
type Strategy string

const (
	// StrategyClass injects the profile's unit file as a new class
	// and points the descriptor's entry class at it.
	StrategyClass Strategy = "class"

	// StrategyCall points the descriptor at an entry class the
	// package already ships and inserts the bootstrap invocation
	// into that class's target method.
	StrategyCall Strategy = "call"
)

// embeddedPrefix marks unit files resolved from the compiled-in
// payload set instead of the filesystem.
const embeddedPrefix = "embedded:"

// Profile describes one way of installing the bootstrap hook.
type Profile struct {
	// Name identifies the profile in requests and logs. Derived from
	// the filename when absent.
	Name string `json:"name"`

	// EntryClass is the fully qualified class the descriptor's
	// application entry is pointed at, in dotted form.
	EntryClass string `json:"entry_class"`

	// Strategy selects class injection or call insertion. Defaults
	// to "class".
	Strategy Strategy `json:"strategy"`

	// UnitFile is the smali payload for the class strategy. Either a
	// filesystem path (relative paths resolve against the profile's
	// own directory) or an "embedded:" reference to a compiled-in
	// payload.
	UnitFile string `json:"unit_file,omitempty"`

	// TargetMethod is the method the call strategy patches.
	// Defaults to "onCreate".
	TargetMethod string `json:"target_method,omitempty"`

	// CallInstruction is the bootstrap invocation the call strategy
	// inserts. Defaults to the protection runtime's init call.
	CallInstruction string `json:"call_instruction,omitempty"`

	// dir is the directory the profile was loaded from, for
	// resolving relative unit file paths. Empty for embedded
	// profiles.
	dir string
}

// DefaultCallInstruction is the bootstrap invocation inserted when a
// profile does not override it.
const DefaultCallInstruction = "invoke-static {}, Lcom/abnsafita/protection/Protection;->init()V"

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals the result into a Profile and applies defaults. The
// input format is plain JSON extended with // line comments,
// /* block comments */, and trailing commas.
func Parse(data []byte) (*Profile, error) {
	stripped := jsonc.ToJSON(data)

	var p Profile
	if err := json.Unmarshal(stripped, &p); err != nil {
		return nil, fmt.Errorf("parsing profile: %w", err)
	}

	p.applyDefaults()
	return &p, nil
}

// ReadFile reads a JSONC profile file from disk and parses it. The
// profile name defaults to the filename without extension, and
// relative unit file paths resolve against the file's directory.
func ReadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if p.Name == "" {
		p.Name = NameFromPath(path)
	}
	p.dir = filepath.Dir(path)

	return p, nil
}

// NameFromPath extracts a profile name from a file path by stripping
// the directory prefix and the file extension. For example,
// "/etc/dex-api/profiles/hardened.jsonc" returns "hardened".
func NameFromPath(path string) string {
	base := filepath.Base(path)
	extension := filepath.Ext(base)
	return strings.TrimSuffix(base, extension)
}

// Payload returns the smali payload bytes for the class strategy.
// Embedded references resolve from the compiled-in payload set;
// everything else is read from disk.
func (p *Profile) Payload() ([]byte, error) {
	if p.UnitFile == "" {
		return nil, fmt.Errorf("profile %s has no unit file", p.Name)
	}

	if name, ok := strings.CutPrefix(p.UnitFile, embeddedPrefix); ok {
		data, err := payloadFiles.ReadFile("payload/" + name)
		if err != nil {
			return nil, fmt.Errorf("profile %s: no embedded payload %q", p.Name, name)
		}
		return data, nil
	}

	path := p.UnitFile
	if !filepath.IsAbs(path) && p.dir != "" {
		path = filepath.Join(p.dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("profile %s: reading unit file: %w", p.Name, err)
	}
	return data, nil
}

// applyDefaults fills the optional fields a profile may omit.
func (p *Profile) applyDefaults() {
	if p.Strategy == "" {
		p.Strategy = StrategyClass
	}
	if p.TargetMethod == "" {
		p.TargetMethod = "onCreate"
	}
	if p.CallInstruction == "" {
		p.CallInstruction = DefaultCallInstruction
	}
}
