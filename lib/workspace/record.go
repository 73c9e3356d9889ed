// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// RecordName is the metadata file kept at the root of every job
// directory. It survives process restarts, so the sweeper can age out
// directories left behind by a crashed request.
const RecordName = "record.cbor"

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer
// encoding, no indefinite-length items. Timestamps are encoded as
// RFC 3339 strings so they round-trip without precision loss.
var encMode cbor.EncMode

func init() {
	options := cbor.CoreDetEncOptions()
	options.Time = cbor.TimeRFC3339Nano
	mode, err := options.EncMode()
	if err != nil {
		panic("workspace: CBOR encoder initialization failed: " + err.Error())
	}
	encMode = mode
}

// Record describes one job directory. Written when the directory is
// created and rewritten on every stage transition.
type Record struct {
	// ID is the directory name, <kind>_<uuid>.
	ID string `cbor:"id"`

	// Kind names the job family that owns the directory.
	Kind Kind `cbor:"kind"`

	// Created is when the directory was created.
	Created time.Time `cbor:"created"`

	// Updated is when the record was last rewritten.
	Updated time.Time `cbor:"updated"`

	// Stage is the most recently recorded processing stage.
	Stage string `cbor:"stage"`

	// Input is the original filename of the uploaded package, when
	// one has been received.
	Input string `cbor:"input,omitempty"`

	// InputRef is the short digest reference of the uploaded package.
	InputRef string `cbor:"input_ref,omitempty"`
}

// writeRecord atomically writes the record into dir. The record is
// written to a temporary file in the same directory and renamed into
// place, so a reader never sees a partial record.
func writeRecord(dir string, record Record) error {
	data, err := encMode.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling job record: %w", err)
	}

	file, err := os.CreateTemp(dir, "record-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary record file: %w", err)
	}
	temporaryPath := file.Name()

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing job record: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing job record: %w", err)
	}

	if err := os.Rename(temporaryPath, filepath.Join(dir, RecordName)); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming job record into place: %w", err)
	}
	return nil
}

// readRecord reads and parses the record in dir. When the file does
// not exist, the returned error wraps os.ErrNotExist.
func readRecord(dir string) (Record, error) {
	data, err := os.ReadFile(filepath.Join(dir, RecordName))
	if err != nil {
		return Record{}, err
	}

	var record Record
	if err := cbor.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("parsing job record in %s: %w", dir, err)
	}
	return record, nil
}
