// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"net/http"
	"strings"

	"github.com/abnsafita97/dex-api/lib/digest"
	"github.com/abnsafita97/dex-api/lib/pipeline"
	"github.com/abnsafita97/dex-api/lib/workspace"
)

// handleProtect runs the full patch pipeline on an uploaded package
// and streams the protected bundle back. The input is the first
// multipart file part whose filename ends in .apk, under any field
// name; an optional "profile" form value selects the injection
// profile.
func (s *Server) handleProtect(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	ws, err := s.manager.Create(workspace.KindProtect)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "", err)
		return
	}

	apkPath := ws.Path("upload.apk")
	saved, fields, err := saveMultipartFile(r, apkPath, isPackagePart)
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

	name := fields["profile"]
	if name == "" {
		name = s.defaultProfile
	}
	prof, err := s.profiles.Get(name)
	if err != nil {
		s.destroy(ws)
		s.writeError(w, http.StatusBadRequest, "", err)
		return
	}

	result, err := s.engine.Run(r.Context(), pipeline.Request{
		Workspace: ws,
		APKPath:   apkPath,
		Profile:   prof,
	})
	if err != nil {
		// The engine destroyed the workspace already.
		kind := pipeline.KindOf(err)
		s.writeError(w, statusForKind(kind), kind, err)
		return
	}

	w.Header().Set("X-Bundle-Digest", digest.Format(result.BundleDigest))
	s.streamFile(w, result.BundlePath, "application/zip")
	s.manager.ScheduleRelease(ws.ID)
}

// isPackagePart accepts the first part carrying an Android package,
// by filename rather than field name.
func isPackagePart(_, filename string) bool {
	return strings.HasSuffix(strings.ToLower(filename), ".apk")
}
