// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/abnsafita97/dex-api/lib/pipeline"
	"github.com/abnsafita97/dex-api/lib/profile"
	"github.com/abnsafita97/dex-api/lib/smali"
	"github.com/abnsafita97/dex-api/lib/workspace"
)

// maxFieldBytes caps a single plain form value in a multipart body.
// Profile names and strategy selectors fit in a fraction of this.
const maxFieldBytes = 4096

// Server routes HTTP requests to the patch pipeline and the per-dex
// translation tools.
type Server struct {
	logger    *slog.Logger
	engine    *pipeline.Engine
	manager   *workspace.Manager
	profiles  *profile.Set
	baksmali  *smali.Baksmali
	assembler *smali.Assembler

	javaPath         string
	javaCheckTimeout time.Duration
	maxUploadBytes   int64
	defaultProfile   string
	apktoolVersion   string
	startedAt        time.Time
}

// serverConfig wires a Server.
type serverConfig struct {
	Logger    *slog.Logger
	Engine    *pipeline.Engine
	Manager   *workspace.Manager
	Profiles  *profile.Set
	Baksmali  *smali.Baksmali
	Assembler *smali.Assembler

	// JavaPath is the JVM binary the /javacheck probe runs.
	JavaPath string

	// JavaCheckTimeout bounds the /javacheck probe.
	JavaCheckTimeout time.Duration

	// MaxUploadBytes caps request bodies on the upload endpoints.
	MaxUploadBytes int64

	// DefaultProfile is used when /protect does not select one.
	DefaultProfile string

	// ApktoolVersion is the banner probed at startup, empty when the
	// probe failed.
	ApktoolVersion string
}

func newServer(config serverConfig) *Server {
	return &Server{
		logger:           config.Logger,
		engine:           config.Engine,
		manager:          config.Manager,
		profiles:         config.Profiles,
		baksmali:         config.Baksmali,
		assembler:        config.Assembler,
		javaPath:         config.JavaPath,
		javaCheckTimeout: config.JavaCheckTimeout,
		maxUploadBytes:   config.MaxUploadBytes,
		defaultProfile:   config.DefaultProfile,
		apktoolVersion:   config.ApktoolVersion,
		startedAt:        time.Now(),
	}
}

// routes builds the request mux wrapped in the logging middleware.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("POST /protect", s.handleProtect)
	mux.HandleFunc("POST /upload", s.handleDisassemble)
	mux.HandleFunc("POST /assemble", s.handleAssemble)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /javacheck", s.handleJavaCheck)
	mux.HandleFunc("GET /resources", s.handleResources)
	mux.HandleFunc("GET /tempfiles", s.handleTempFiles)
	return s.requestLog(mux)
}

// statusRecorder captures the response status for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration", time.Since(start).Round(time.Millisecond),
			"remote", r.RemoteAddr)
	})
}

// errorResponse is the uniform JSON error envelope. Kind carries the
// pipeline failure classification when one applies.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("response encoding", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, kind pipeline.Kind, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error(), Kind: string(kind)})
}

// statusForKind maps pipeline failure classifications to response
// codes: problems in the uploaded package are 422, toolchain faults
// are 502, anything unclassified is a plain 500.
func statusForKind(kind pipeline.Kind) int {
	switch kind {
	case pipeline.KindNotFound, pipeline.KindParseError,
		pipeline.KindInjectionFailed, pipeline.KindNoUnitsFound:
		return http.StatusUnprocessableEntity
	case pipeline.KindToolError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// uploadError renders a failure while reading the request body. A
// tripped size cap gets its own status; everything else is the
// client's malformed upload.
func (s *Server) uploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.writeError(w, http.StatusRequestEntityTooLarge, "",
			fmt.Errorf("upload exceeds the %d byte limit", tooLarge.Limit))
		return
	}
	s.writeError(w, http.StatusBadRequest, "", err)
}

// destroy removes a job workspace, logging instead of failing when
// the removal does.
func (s *Server) destroy(ws *workspace.Workspace) {
	if err := s.manager.Destroy(ws.ID); err != nil {
		s.logger.Warn("workspace cleanup", "job", ws.ID, "error", err)
	}
}

// streamFile sends a produced artifact as a download. The workspace
// holding it must stay alive until the copy finishes; callers
// schedule its release afterwards.
func (s *Server) streamFile(w http.ResponseWriter, path, contentType string) {
	file, err := os.Open(path)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "", err)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "", err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	w.Header().Set("Cache-Control", "no-store")
	if _, err := io.Copy(w, file); err != nil {
		s.logger.Warn("download aborted", "file", filepath.Base(path), "error", err)
	}
}

// saveMultipartFile streams the first file part matching accept into
// destination, collecting the plain form values seen along the way.
// The body is scanned to the end either way so form values trailing
// the file part are not lost.
func saveMultipartFile(r *http.Request, destination string, accept func(field, filename string) bool) (bool, map[string]string, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return false, nil, err
	}

	fields := make(map[string]string)
	saved := false
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return saved, fields, nil
		}
		if err != nil {
			return saved, fields, err
		}

		if part.FileName() == "" {
			value, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
			if err != nil {
				return saved, fields, err
			}
			fields[part.FormName()] = string(value)
			continue
		}

		if saved || !accept(part.FormName(), part.FileName()) {
			continue
		}
		out, err := os.Create(destination)
		if err != nil {
			return false, fields, err
		}
		if _, err := io.Copy(out, part); err != nil {
			out.Close()
			return false, fields, err
		}
		if err := out.Close(); err != nil {
			return false, fields, err
		}
		saved = true
	}
}
