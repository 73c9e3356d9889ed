// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/abnsafita97/dex-api/lib/pipeline"
	"github.com/abnsafita97/dex-api/lib/smalipatch"
	"github.com/abnsafita97/dex-api/lib/workspace"
)

// handleDisassemble extracts every compiled-code unit from an
// uploaded package and streams back a zip of their disassembled
// trees, laid out like a decoded package: smali for the first unit,
// smali_classesN for the rest.
func (s *Server) handleDisassemble(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	ws, err := s.manager.Create(workspace.KindDisassemble)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "", err)
		return
	}

	apkPath := ws.Path("upload.apk")
	saved, _, err := saveMultipartFile(r, apkPath, isPackagePart)
	if err != nil {
		s.destroy(ws)
		s.uploadError(w, err)
		return
	}
	if !saved {
		s.destroy(ws)
		s.writeError(w, http.StatusBadRequest, "", errors.New("no .apk file in upload"))
		return
	}

	units, err := extractDexUnits(apkPath, ws.Path("dex"))
	if err != nil {
		s.destroy(ws)
		s.writeError(w, http.StatusBadRequest, "", err)
		return
	}
	if len(units) == 0 {
		s.destroy(ws)
		s.writeError(w, http.StatusBadRequest, "", errors.New("package has no classes*.dex entries"))
		return
	}

	s.manager.SetStage(ws.ID, "disassembling")

	// One JVM per unit, bounded by core count. The units are
	// independent so order does not matter.
	outRoot := ws.Path("smali_out")
	group, groupCtx := errgroup.WithContext(r.Context())
	group.SetLimit(runtime.GOMAXPROCS(0))
	for index, dexPath := range units {
		group.Go(func() error {
			return s.baksmali.Disassemble(groupCtx, dexPath, filepath.Join(outRoot, smalipatch.RootName(index)))
		})
	}
	if err := group.Wait(); err != nil {
		s.destroy(ws)
		s.writeError(w, http.StatusBadGateway, pipeline.KindToolError, err)
		return
	}

	zipPath := ws.Path("smali_out.zip")
	if err := packTreeStored(outRoot, zipPath); err != nil {
		s.destroy(ws)
		s.writeError(w, http.StatusInternalServerError, "", err)
		return
	}

	s.manager.SetStage(ws.ID, "done")
	s.streamFile(w, zipPath, "application/zip")
	s.manager.ScheduleRelease(ws.ID)
}

// handleAssemble rebuilds one classes.dex from an uploaded zip of a
// disassembled tree. The zip rides in a multipart field that must be
// named "smali".
func (s *Server) handleAssemble(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	ws, err := s.manager.Create(workspace.KindAssemble)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "", err)
		return
	}

	zipPath := ws.Path("smali.zip")
	saved, _, err := saveMultipartFile(r, zipPath, func(field, _ string) bool {
		return field == "smali"
	})
	if err != nil {
		s.destroy(ws)
		s.uploadError(w, err)
		return
	}
	if !saved {
		s.destroy(ws)
		s.writeError(w, http.StatusBadRequest, "", errors.New(`no "smali" zip in upload`))
		return
	}

	treeDir := ws.Path("tree")
	if err := unpackTree(zipPath, treeDir); err != nil {
		s.destroy(ws)
		s.writeError(w, http.StatusBadRequest, "", err)
		return
	}
	root, err := assembleRoot(treeDir)
	if err != nil {
		s.destroy(ws)
		s.writeError(w, http.StatusInternalServerError, "", err)
		return
	}

	s.manager.SetStage(ws.ID, "assembling")

	dexPath := ws.Path("classes.dex")
	if err := s.assembler.Assemble(r.Context(), root, dexPath); err != nil {
		s.destroy(ws)
		s.writeError(w, http.StatusBadGateway, pipeline.KindToolError, err)
		return
	}

	s.manager.SetStage(ws.ID, "done")
	s.streamFile(w, dexPath, "application/octet-stream")
	s.manager.ScheduleRelease(ws.ID)
}

// extractDexUnits copies the package's top-level classes*.dex entries
// into dir, keyed by 1-based unit index.
func extractDexUnits(apkPath, dir string) (map[int]string, error) {
	reader, err := zip.OpenReader(apkPath)
	if err != nil {
		return nil, fmt.Errorf("reading package: %w", err)
	}
	defer reader.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	units := make(map[int]string)
	for _, entry := range reader.File {
		if strings.ContainsRune(entry.Name, '/') {
			continue
		}
		index, ok := smalipatch.ParseDexName(entry.Name)
		if !ok {
			continue
		}
		path := filepath.Join(dir, entry.Name)
		if err := extractZipEntry(entry, path); err != nil {
			return nil, err
		}
		units[index] = path
	}
	return units, nil
}

func extractZipEntry(entry *zip.File, path string) error {
	source, err := entry.Open()
	if err != nil {
		return fmt.Errorf("reading %s: %w", entry.Name, err)
	}
	defer source.Close()

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, source); err != nil {
		out.Close()
		return fmt.Errorf("extracting %s: %w", entry.Name, err)
	}
	return out.Close()
}

// unpackTree extracts a zip into dir, rejecting entries that would
// land outside it.
func unpackTree(zipPath, dir string) error {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("reading archive: %w", err)
	}
	defer reader.Close()

	for _, entry := range reader.File {
		relative := filepath.FromSlash(entry.Name)
		if !filepath.IsLocal(relative) {
			return fmt.Errorf("archive entry %q escapes the extraction root", entry.Name)
		}
		path := filepath.Join(dir, relative)
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(path, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := extractZipEntry(entry, path); err != nil {
			return err
		}
	}
	return nil
}

// assembleRoot picks the tree the assembler runs on: the extraction
// root itself, or its single top-level directory when the archive
// wrapped the tree in one (a zip of the smali folder rather than of
// its contents).
func assembleRoot(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), nil
	}
	return dir, nil
}

// packTreeStored zips the tree at dir without compression, matching
// the layout consumers of the disassembly endpoint expect: entry
// names relative to dir, forward slashes, files only.
func packTreeStored(dir, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	writer := zip.NewWriter(out)

	walkErr := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		relative, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		dest, err := writer.CreateHeader(&zip.FileHeader{
			Name:   filepath.ToSlash(relative),
			Method: zip.Store,
		})
		if err != nil {
			return err
		}
		source, err := os.Open(path)
		if err != nil {
			return err
		}
		defer source.Close()
		_, err = io.Copy(dest, source)
		return err
	})
	if walkErr != nil {
		writer.Close()
		out.Close()
		return fmt.Errorf("packing %s: %w", dir, walkErr)
	}
	if err := writer.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
