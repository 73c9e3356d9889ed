// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

package profile

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed profiles/*.jsonc
var builtinFiles embed.FS

//go:embed payload/*.smali
var payloadFiles embed.FS

// Set is a named collection of validated profiles: the embedded
// built-ins plus whatever the operator placed in the profile
// directory. Disk profiles shadow built-ins with the same name.
type Set struct {
	profiles map[string]*Profile
}

// Load builds a Set from the embedded built-ins and the *.jsonc files
// in dir. An empty dir loads built-ins only. Any unparseable or
// invalid profile fails the load; a bad profile directory should
// surface at startup, not at request time.
func Load(dir string) (*Set, error) {
	set := &Set{profiles: make(map[string]*Profile)}

	entries, err := builtinFiles.ReadDir("profiles")
	if err != nil {
		return nil, fmt.Errorf("reading embedded profiles: %w", err)
	}
	for _, entry := range entries {
		data, err := builtinFiles.ReadFile("profiles/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading embedded profile %s: %w", entry.Name(), err)
		}
		p, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("embedded profile %s: %w", entry.Name(), err)
		}
		if p.Name == "" {
			p.Name = NameFromPath(entry.Name())
		}
		if issues := Validate(p); len(issues) > 0 {
			return nil, fmt.Errorf("embedded profile %s: %s", entry.Name(), strings.Join(issues, "; "))
		}
		set.profiles[p.Name] = p
	}

	if dir == "" {
		return set, nil
	}

	diskEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading profile directory %s: %w", dir, err)
	}
	for _, entry := range diskEntries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonc" {
			continue
		}
		p, err := ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if issues := Validate(p); len(issues) > 0 {
			return nil, fmt.Errorf("profile %s: %s", entry.Name(), strings.Join(issues, "; "))
		}
		set.profiles[p.Name] = p
	}

	return set, nil
}

// Get returns the named profile, or an error listing what is
// available.
func (s *Set) Get(name string) (*Profile, error) {
	p, ok := s.profiles[name]
	if !ok {
		return nil, fmt.Errorf("no profile %q (available: %s)", name, strings.Join(s.Names(), ", "))
	}
	return p, nil
}

// Names returns the sorted profile names.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
