// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/abnsafita97/dex-api/lib/sysinfo"
	"github.com/abnsafita97/dex-api/lib/version"
	"github.com/abnsafita97/dex-api/lib/workspace"
)

type healthResponse struct {
	Status        string  `json:"status"`
	ServerTime    string  `json:"server_time"`
	Version       string  `json:"version"`
	Apktool       string  `json:"apktool,omitempty"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

type javaCheckResponse struct {
	Available bool   `json:"available"`
	Output    string `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
}

type tempFilesResponse struct {
	Count      int              `json:"count"`
	Workspaces []workspace.Info `json:"workspaces"`
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "dex-api server is running")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	now := time.Now()
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:        "OK",
		ServerTime:    now.UTC().Format(time.RFC3339),
		Version:       version.Info(),
		Apktool:       s.apktoolVersion,
		UptimeSeconds: now.Sub(s.startedAt).Seconds(),
	})
}

// handleJavaCheck probes the JVM the toolchain runs on. The banner
// lands on stderr, so the combined output is what gets reported.
func (s *Server) handleJavaCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.javaCheckTimeout)
	defer cancel()

	output, err := exec.CommandContext(ctx, s.javaPath, "-version").CombinedOutput()
	if err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, javaCheckResponse{
			Available: false,
			Output:    strings.TrimSpace(string(output)),
			Error:     err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, javaCheckResponse{
		Available: true,
		Output:    strings.TrimSpace(string(output)),
	})
}

// handleResources reports host memory and the workspace filesystem's
// capacity, the two resources big patch jobs actually exhaust.
func (s *Server) handleResources(w http.ResponseWriter, _ *http.Request) {
	snapshot, err := sysinfo.Probe(s.manager.Root())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "", err)
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleTempFiles(w http.ResponseWriter, _ *http.Request) {
	infos, err := s.manager.List()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "", err)
		return
	}
	if infos == nil {
		// An empty root renders as an empty list, not null.
		infos = []workspace.Info{}
	}
	s.writeJSON(w, http.StatusOK, tempFilesResponse{
		Count:      len(infos),
		Workspaces: infos,
	})
}
