// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/klauspost/compress/flate"

	"github.com/abnsafita97/dex-api/lib/manifest"
	"github.com/abnsafita97/dex-api/lib/smalipatch"
)

// errIncompleteOutput marks a rebuilt package that cannot yield a
// valid bundle: unreadable as an archive, or missing its compiled-code
// units or descriptor.
var errIncompleteOutput = errors.New("pipeline: rebuilt package is incomplete")

// writeBundle extracts the compiled-code units and the descriptor from
// the rebuilt package into a fresh bundle archive at bundlePath. Units
// keep their original names and are written in index order with the
// descriptor last, so consumers can stream the archive in a known
// layout.
func writeBundle(rebuiltPath, bundlePath string) error {
	reader, err := zip.OpenReader(rebuiltPath)
	if err != nil {
		return fmt.Errorf("%w: %v", errIncompleteOutput, err)
	}
	defer reader.Close()

	type unit struct {
		index int
		entry *zip.File
	}
	var units []unit
	var descriptor *zip.File
	for _, entry := range reader.File {
		if strings.ContainsRune(entry.Name, '/') {
			continue
		}
		if entry.Name == manifest.DescriptorName {
			descriptor = entry
			continue
		}
		if index, ok := smalipatch.ParseDexName(entry.Name); ok {
			units = append(units, unit{index: index, entry: entry})
		}
	}
	if len(units) == 0 {
		return fmt.Errorf("%w: no compiled-code units", errIncompleteOutput)
	}
	if descriptor == nil {
		return fmt.Errorf("%w: no %s", errIncompleteOutput, manifest.DescriptorName)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].index < units[j].index })

	out, err := os.Create(bundlePath)
	if err != nil {
		return fmt.Errorf("creating bundle: %w", err)
	}
	writer := zip.NewWriter(out)
	writer.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.DefaultCompression)
	})
	for _, u := range units {
		if err := copyEntry(writer, u.entry); err != nil {
			out.Close()
			return err
		}
	}
	if err := copyEntry(writer, descriptor); err != nil {
		out.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		out.Close()
		return fmt.Errorf("finalizing bundle: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing bundle: %w", err)
	}
	return nil
}

func copyEntry(writer *zip.Writer, entry *zip.File) error {
	source, err := entry.Open()
	if err != nil {
		return fmt.Errorf("reading %s from rebuilt package: %w", entry.Name, err)
	}
	defer source.Close()

	destination, err := writer.Create(entry.Name)
	if err != nil {
		return fmt.Errorf("adding %s to bundle: %w", entry.Name, err)
	}
	if _, err := io.Copy(destination, source); err != nil {
		return fmt.Errorf("copying %s into bundle: %w", entry.Name, err)
	}
	return nil
}
