// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

// Package workspace manages the per-request job directories under the
// service's workspace root. Every request gets its own directory,
// named <kind>_<uuid>, holding the uploaded package, the decoded
// tree, and the build output. Directories are released on a delay
// after the response is sent so that operators can inspect the
// residue of a failed request, and a periodic sweep ages out
// directories orphaned by crashed requests.
package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/abnsafita97/dex-api/lib/clock"
)

// Kind names a job family. The kind is the directory name prefix, so
// an operator listing the workspace root can tell protection runs
// from raw disassembly and assembly jobs at a glance.
type Kind string

const (
	// KindProtect is a full protection pipeline run.
	KindProtect Kind = "protectjob"

	// KindDisassemble is a raw per-unit disassembly job.
	KindDisassemble Kind = "apkjob"

	// KindAssemble is a raw unit tree assembly job.
	KindAssemble Kind = "assemblejob"
)

func validKind(kind Kind) bool {
	switch kind {
	case KindProtect, KindDisassemble, KindAssemble:
		return true
	}
	return false
}

// Workspace is one live job directory.
type Workspace struct {
	// ID is the directory name, <kind>_<uuid>.
	ID string

	// Kind is the job family the directory belongs to.
	Kind Kind

	// Dir is the absolute directory path.
	Dir string
}

// Path joins elem onto the workspace directory.
func (w *Workspace) Path(elem ...string) string {
	return filepath.Join(append([]string{w.Dir}, elem...)...)
}

// Options configures a Manager.
type Options struct {
	// Root is the directory all job directories live under. Created
	// if it does not exist.
	Root string

	// CleanupGrace is how long a released workspace survives before
	// deletion.
	CleanupGrace time.Duration

	// SweepInterval is how often Run scans for orphaned directories.
	SweepInterval time.Duration

	// MaxAge is the age past which the sweep deletes a directory
	// regardless of its release state.
	MaxAge time.Duration

	// Clock supplies time. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives lifecycle events. Required.
	Logger *slog.Logger
}

// Manager creates, tracks, and deletes job directories.
type Manager struct {
	root          string
	grace         time.Duration
	sweepInterval time.Duration
	maxAge        time.Duration
	clock         clock.Clock
	logger        *slog.Logger

	mu     sync.Mutex
	timers map[string]*clock.Timer
}

// NewManager returns a Manager rooted at options.Root, creating the
// root directory if needed.
func NewManager(options Options) (*Manager, error) {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if err := os.MkdirAll(options.Root, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace root %s: %w", options.Root, err)
	}
	return &Manager{
		root:          options.Root,
		grace:         options.CleanupGrace,
		sweepInterval: options.SweepInterval,
		maxAge:        options.MaxAge,
		clock:         options.Clock,
		logger:        options.Logger,
		timers:        make(map[string]*clock.Timer),
	}, nil
}

// Root returns the workspace root directory.
func (m *Manager) Root() string { return m.root }

// Create makes a fresh job directory for the given kind and writes
// its initial record.
func (m *Manager) Create(kind Kind) (*Workspace, error) {
	if !validKind(kind) {
		return nil, fmt.Errorf("unknown workspace kind %q", kind)
	}

	id := string(kind) + "_" + uuid.NewString()
	dir := filepath.Join(m.root, id)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating job directory %s: %w", id, err)
	}

	now := m.clock.Now()
	record := Record{
		ID:      id,
		Kind:    kind,
		Created: now,
		Updated: now,
		Stage:   "created",
	}
	if err := writeRecord(dir, record); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	m.logger.Debug("workspace created", "id", id, "kind", kind)
	return &Workspace{ID: id, Kind: kind, Dir: dir}, nil
}

// SetStage records a stage transition in the job record. Failures
// are logged, not returned: the record is diagnostic state and must
// never fail a request that is otherwise progressing.
func (m *Manager) SetStage(id, stage string) {
	m.updateRecord(id, func(record *Record) {
		record.Stage = stage
	})
}

// SetInput records the original filename and digest reference of the
// uploaded package.
func (m *Manager) SetInput(id, name, ref string) {
	m.updateRecord(id, func(record *Record) {
		record.Input = name
		record.InputRef = ref
	})
}

func (m *Manager) updateRecord(id string, mutate func(*Record)) {
	dir, err := m.dir(id)
	if err != nil {
		m.logger.Warn("job record update rejected", "id", id, "error", err)
		return
	}
	record, err := readRecord(dir)
	if err != nil {
		m.logger.Warn("job record unreadable", "id", id, "error", err)
		return
	}
	mutate(&record)
	record.Updated = m.clock.Now()
	if err := writeRecord(dir, record); err != nil {
		m.logger.Warn("job record update failed", "id", id, "error", err)
	}
}

// Destroy deletes a job directory immediately and cancels any pending
// release timer. Idempotent: destroying an already-deleted workspace
// returns nil.
func (m *Manager) Destroy(id string) error {
	dir, err := m.dir(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if timer, ok := m.timers[id]; ok {
		timer.Stop()
		delete(m.timers, id)
	}
	m.mu.Unlock()

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing job directory %s: %w", id, err)
	}
	m.logger.Debug("workspace destroyed", "id", id)
	return nil
}

// ScheduleRelease arranges for the job directory to be deleted after
// the cleanup grace period. Scheduling an already-scheduled workspace
// restarts the countdown. The grace keeps the directory inspectable
// while the response that references it is still in flight.
func (m *Manager) ScheduleRelease(id string) {
	m.mu.Lock()
	if timer, ok := m.timers[id]; ok {
		timer.Stop()
	}
	m.timers[id] = m.clock.AfterFunc(m.grace, func() {
		m.expire(id)
	})
	m.mu.Unlock()

	m.logger.Debug("workspace release scheduled", "id", id, "grace", m.grace)
}

func (m *Manager) expire(id string) {
	m.mu.Lock()
	delete(m.timers, id)
	m.mu.Unlock()

	dir, err := m.dir(id)
	if err != nil {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		m.logger.Warn("workspace release failed", "id", id, "error", err)
		return
	}
	m.logger.Debug("workspace released", "id", id)
}

// Info describes one job directory for the listing endpoint.
type Info struct {
	ID             string    `json:"id"`
	Kind           Kind      `json:"kind"`
	Created        time.Time `json:"created"`
	Stage          string    `json:"stage"`
	SizeBytes      int64     `json:"size_bytes"`
	PendingRelease bool      `json:"pending_release"`
}

// List returns every job directory under the root, oldest first.
// Directories whose record is missing or unreadable are still listed,
// with the directory modification time standing in for Created.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("reading workspace root: %w", err)
	}

	m.mu.Lock()
	pending := make(map[string]bool, len(m.timers))
	for id := range m.timers {
		pending[id] = true
	}
	m.mu.Unlock()

	var infos []Info
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		dir := filepath.Join(m.root, id)

		info := Info{
			ID:             id,
			Kind:           kindFromID(id),
			SizeBytes:      directorySize(dir),
			PendingRelease: pending[id],
		}
		if record, err := readRecord(dir); err == nil {
			info.Created = record.Created
			info.Stage = record.Stage
		} else if stat, statErr := entry.Info(); statErr == nil {
			info.Created = stat.ModTime()
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Created.Before(infos[j].Created)
	})
	return infos, nil
}

// Sweep deletes every job directory older than the configured max
// age and returns how many were removed. Age is measured from the
// record's Created time, falling back to the directory modification
// time when the record is unreadable.
func (m *Manager) Sweep() (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0, fmt.Errorf("reading workspace root: %w", err)
	}

	threshold := m.clock.Now().Add(-m.maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		dir := filepath.Join(m.root, id)

		created := time.Time{}
		if record, err := readRecord(dir); err == nil {
			created = record.Created
		} else if stat, statErr := entry.Info(); statErr == nil {
			created = stat.ModTime()
		}
		if created.IsZero() || created.After(threshold) {
			continue
		}

		if err := m.Destroy(id); err != nil {
			m.logger.Warn("sweep failed to remove workspace", "id", id, "error", err)
			continue
		}
		m.logger.Info("sweep removed stale workspace", "id", id, "created", created)
		removed++
	}
	return removed, nil
}

// Run sweeps on the configured interval until ctx is cancelled. A
// manager with no sweep interval has no periodic work and just waits
// for cancellation.
func (m *Manager) Run(ctx context.Context) {
	if m.sweepInterval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := m.clock.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := m.Sweep(); err != nil {
				m.logger.Warn("workspace sweep failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// dir maps a job id to its directory, rejecting ids that would
// escape the root.
func (m *Manager) dir(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("invalid workspace id %q", id)
	}
	return filepath.Join(m.root, id), nil
}

func kindFromID(id string) Kind {
	prefix, _, found := strings.Cut(id, "_")
	if !found {
		return ""
	}
	kind := Kind(prefix)
	if !validKind(kind) {
		return ""
	}
	return kind
}

// directorySize walks dir summing regular file sizes. Unreadable
// entries count as zero; the size is advisory.
func directorySize(dir string) int64 {
	var total int64
	filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if entry.Type().IsRegular() {
			if info, err := entry.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}
