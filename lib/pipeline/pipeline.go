// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline turns an uploaded package into a protected bundle.
//
// The engine drives one job through a fixed sequence of stages:
// decode, resource sanitize, descriptor patch, hook injection,
// re-assembly with one bounded remediation retry, and bundle
// packaging. Stage transitions are written to the job's workspace
// record, and failures are classified by Kind so transport layers can
// map them to responses without matching on error strings.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/abnsafita97/dex-api/lib/apktool"
	"github.com/abnsafita97/dex-api/lib/digest"
	"github.com/abnsafita97/dex-api/lib/manifest"
	"github.com/abnsafita97/dex-api/lib/profile"
	"github.com/abnsafita97/dex-api/lib/smalipatch"
	"github.com/abnsafita97/dex-api/lib/workspace"
)

// State names a job's last completed stage as recorded in its
// workspace record. States only advance; a job that stopped
// progressing shows where it stopped.
type State string

const (
	StateCreated            State = "created"
	StateDecoded            State = "decoded"
	StateResourcesSanitized State = "resources_sanitized"
	StateDescriptorPatched  State = "descriptor_patched"
	StateClassInjected      State = "class_injected"
	StateEncoded            State = "encoded"
	StatePackaged           State = "packaged"
	StateDone               State = "done"
	StateFailed             State = "failed"
)

// Workspace entry names. The decoded tree, the re-assembled package,
// and the final bundle all live directly under the job directory.
const (
	decodedDirName = "app"
	rebuiltName    = "patched.apk"
	bundleName     = "protected.zip"
)

// Engine runs patch jobs. Safe for concurrent use: each Run touches
// only its own workspace.
type Engine struct {
	tool    *apktool.Tool
	manager *workspace.Manager
	logger  *slog.Logger
}

// Options configures an Engine. All fields are required.
type Options struct {
	// Tool decodes and re-assembles packages.
	Tool *apktool.Tool

	// Manager owns the job directories the engine runs in.
	Manager *workspace.Manager

	// Logger receives stage transitions and remediation notices.
	Logger *slog.Logger
}

// New builds an Engine. Panics if a required option is missing.
func New(options Options) *Engine {
	if options.Tool == nil {
		panic("pipeline: Options.Tool is required")
	}
	if options.Manager == nil {
		panic("pipeline: Options.Manager is required")
	}
	if options.Logger == nil {
		panic("pipeline: Options.Logger is required")
	}
	return &Engine{
		tool:    options.Tool,
		manager: options.Manager,
		logger:  options.Logger,
	}
}

// Request describes one patch job. The caller creates the workspace
// and places the uploaded package in it before calling Run.
type Request struct {
	// Workspace is the job directory everything runs in.
	Workspace *workspace.Workspace

	// APKPath is the uploaded package on disk.
	APKPath string

	// Profile selects the injection strategy and its inputs. The
	// caller validates it; see profile.Profile.Validate.
	Profile *profile.Profile
}

// Result reports a completed job. The bundle lives inside the
// workspace, so the caller must copy or stream it before releasing.
type Result struct {
	Workspace *workspace.Workspace

	// BundlePath is the protected bundle inside the workspace.
	BundlePath string

	// InputDigest and BundleDigest identify the uploaded package and
	// the produced bundle.
	InputDigest  digest.Digest
	BundleDigest digest.Digest

	// EntryClass is the descriptor's application entry after
	// patching. PreviousEntryClass is what it pointed at before,
	// empty when the descriptor declared none.
	EntryClass         string
	PreviousEntryClass string

	// UnitRoots counts the decoded package's compiled-code roots.
	UnitRoots int

	// EncodeRetried reports whether re-assembly needed the
	// remediation retry.
	EncodeRetried bool
}

// Run executes one patch job. On failure the workspace is destroyed
// before the error returns; on success it survives, bundle included,
// until the caller releases it.
func (e *Engine) Run(ctx context.Context, request Request) (_ *Result, err error) {
	ws := request.Workspace
	logger := e.logger.With("job", ws.ID)
	defer func() {
		if err == nil {
			return
		}
		e.manager.SetStage(ws.ID, string(StateFailed))
		if destroyErr := e.manager.Destroy(ws.ID); destroyErr != nil {
			logger.Warn("workspace cleanup after failure", "error", destroyErr)
		}
	}()

	inputDigest, err := digest.PackageFile(request.APKPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, failure(KindNotFound, "start", err)
		}
		return nil, fmt.Errorf("reading input package: %w", err)
	}
	e.manager.SetInput(ws.ID, filepath.Base(request.APKPath), digest.FormatRef(inputDigest))
	logger.Info("pipeline start",
		"package", filepath.Base(request.APKPath),
		"input", digest.FormatRef(inputDigest),
		"profile", request.Profile.Name,
		"strategy", request.Profile.Strategy)

	appDir := ws.Path(decodedDirName)
	start := time.Now()
	if err := e.tool.Decode(ctx, request.APKPath, appDir); err != nil {
		return nil, failure(KindToolError, "decode", err)
	}
	e.advance(logger, ws.ID, StateDecoded, start)

	// The root scan runs before any mutation so that a package with
	// no compiled code is rejected with its descriptor untouched.
	roots, err := smalipatch.UnitRoots(appDir)
	if err != nil {
		if errors.Is(err, smalipatch.ErrNoUnitRoots) {
			return nil, failure(KindNoUnitsFound, "scan", err)
		}
		return nil, fmt.Errorf("scanning unit roots: %w", err)
	}

	start = time.Now()
	manifest.SanitizePublic(appDir, logger)
	e.advance(logger, ws.ID, StateResourcesSanitized, start)

	descriptorPath := filepath.Join(appDir, manifest.DescriptorName)
	// Best effort. A missing or malformed descriptor surfaces from
	// Patch below.
	previousEntry, _ := manifest.EntryClass(descriptorPath)

	start = time.Now()
	if err := manifest.Patch(descriptorPath, request.Profile.EntryClass); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, failure(KindNotFound, "patch", err)
		}
		return nil, failure(KindParseError, "patch", err)
	}
	e.advance(logger, ws.ID, StateDescriptorPatched, start)

	primary := roots[0]
	start = time.Now()
	switch request.Profile.Strategy {
	case profile.StrategyCall:
		err = e.injectCall(primary, request.Profile)
	case profile.StrategyClass, "":
		err = e.injectClass(primary, request.Profile)
	default:
		err = fmt.Errorf("unknown strategy %q", request.Profile.Strategy)
	}
	if err != nil {
		return nil, failure(KindInjectionFailed, "inject", err)
	}
	e.advance(logger, ws.ID, StateClassInjected, start)

	rebuiltPath := ws.Path(rebuiltName)
	retried := false
	start = time.Now()
	buildErr := e.tool.Build(ctx, appDir, rebuiltPath)
	if buildErr != nil && apktool.Remediable(buildErr) {
		e.remediate(logger, appDir, descriptorPath, buildErr)
		retried = true
		buildErr = e.tool.Build(ctx, appDir, rebuiltPath)
	}
	if buildErr != nil {
		return nil, failure(KindToolError, "encode", buildErr)
	}
	e.advance(logger, ws.ID, StateEncoded, start)

	bundlePath := ws.Path(bundleName)
	start = time.Now()
	if err := writeBundle(rebuiltPath, bundlePath); err != nil {
		if errors.Is(err, errIncompleteOutput) {
			return nil, failure(KindOutputValidationFailed, "package", err)
		}
		return nil, fmt.Errorf("writing bundle: %w", err)
	}
	e.advance(logger, ws.ID, StatePackaged, start)

	bundleDigest, err := digest.BundleFile(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("hashing bundle: %w", err)
	}

	e.manager.SetStage(ws.ID, string(StateDone))
	logger.Info("pipeline done",
		"bundle", digest.FormatRef(bundleDigest),
		"unit_roots", len(roots),
		"encode_retried", retried)

	return &Result{
		Workspace:          ws,
		BundlePath:         bundlePath,
		InputDigest:        inputDigest,
		BundleDigest:       bundleDigest,
		EntryClass:         request.Profile.EntryClass,
		PreviousEntryClass: previousEntry,
		UnitRoots:          len(roots),
		EncodeRetried:      retried,
	}, nil
}

// advance records a completed stage and logs how long it took.
func (e *Engine) advance(logger *slog.Logger, id string, state State, start time.Time) {
	e.manager.SetStage(id, string(state))
	logger.Info("stage complete",
		"state", state,
		"duration", time.Since(start).Round(time.Millisecond))
}

// injectClass installs the profile's unit file as a new class in the
// primary root. The payload's declared class must match the entry
// class the descriptor was just pointed at, otherwise the package
// would reference a class that does not exist.
func (e *Engine) injectClass(primaryRoot string, prof *profile.Profile) error {
	payload, err := prof.Payload()
	if err != nil {
		return err
	}
	declared, err := smalipatch.DeclaredClass(payload)
	if err != nil {
		return err
	}
	if declared != prof.EntryClass {
		return fmt.Errorf("unit file declares %s, profile entry class is %s", declared, prof.EntryClass)
	}
	return smalipatch.InjectClass(primaryRoot, prof.EntryClass, payload)
}

// injectCall inserts the bootstrap invocation into a class the
// package already ships. The entry class must resolve to a unit file
// in the primary root.
func (e *Engine) injectCall(primaryRoot string, prof *profile.Profile) error {
	relative, err := smalipatch.ClassPath(prof.EntryClass)
	if err != nil {
		return err
	}
	unitFile := filepath.Join(primaryRoot, relative)
	if _, err := os.Stat(unitFile); err != nil {
		return fmt.Errorf("entry class %s has no unit in the primary root: %w", prof.EntryClass, err)
	}
	return smalipatch.InjectCall(unitFile, prof.TargetMethod, prof.CallInstruction)
}

// remediate clears the two descriptor faults re-assembly is known to
// recover from: a stale public symbol table and a duplicated lint
// suppression attribute. Remediation is best effort; the retry's own
// result decides whether the job fails.
func (e *Engine) remediate(logger *slog.Logger, appDir, descriptorPath string, cause error) {
	logger.Warn("re-assembly hit a remediable descriptor fault, retrying once", "error", cause)

	removed, err := manifest.RemovePublicTable(appDir)
	switch {
	case err != nil:
		logger.Warn("public symbol table removal", "error", err)
	case removed:
		logger.Info("removed public symbol table before retry")
	}

	if err := manifest.StripDuplicateToolsDecl(descriptorPath); err != nil {
		logger.Warn("duplicate declaration strip", "error", err)
	}
}
