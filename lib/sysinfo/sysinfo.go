// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

// Package sysinfo probes host memory and disk capacity for the
// resources endpoint. Patching a large package decodes tens of
// thousands of files into the workspace root, so operators watch
// these numbers to know when a box is about to fall over.
package sysinfo

// Memory is the system memory reading, in bytes. Used is what the
// kernel cannot reclaim (total minus available), not total minus
// free; page cache does not count against the service.
type Memory struct {
	Total     uint64  `json:"total"`
	Available uint64  `json:"available"`
	Used      uint64  `json:"used"`
	Percent   float64 `json:"percent"`
}

// Disk is the filesystem capacity reading for the workspace root, in
// bytes. Free is the space available to the service (unprivileged),
// which on ext4 excludes the reserved blocks; Percent is used
// relative to used+free so it reflects what the service can actually
// consume.
type Disk struct {
	Total   uint64  `json:"total"`
	Used    uint64  `json:"used"`
	Free    uint64  `json:"free"`
	Percent float64 `json:"percent"`
}

// Snapshot bundles one probe of both readings.
type Snapshot struct {
	Memory Memory `json:"memory"`
	Disk   Disk   `json:"disk"`
}
