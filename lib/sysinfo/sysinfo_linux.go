// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

package sysinfo

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Probe reads system memory from /proc/meminfo and disk capacity for
// the filesystem holding diskPath.
func Probe(diskPath string) (Snapshot, error) {
	return probeFrom("/proc", diskPath)
}

// probeFrom is the testable implementation of Probe. It accepts the
// /proc root so tests can point at a synthetic filesystem.
func probeFrom(procRoot, diskPath string) (Snapshot, error) {
	memory, err := readMemory(filepath.Join(procRoot, "meminfo"))
	if err != nil {
		return Snapshot{}, err
	}
	disk, err := readDisk(diskPath)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Memory: memory, Disk: disk}, nil
}

// readMemory parses the MemTotal and MemAvailable lines of a
// meminfo-format file. Values are reported in kB there.
func readMemory(path string) (Memory, error) {
	file, err := os.Open(path)
	if err != nil {
		return Memory{}, fmt.Errorf("opening meminfo: %w", err)
	}
	defer file.Close()

	var total, available uint64
	var haveTotal, haveAvailable bool

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		value, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = value * 1024
			haveTotal = true
		case "MemAvailable:":
			available = value * 1024
			haveAvailable = true
		}
		if haveTotal && haveAvailable {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return Memory{}, fmt.Errorf("reading meminfo: %w", err)
	}
	if !haveTotal || !haveAvailable {
		return Memory{}, fmt.Errorf("meminfo at %s is missing MemTotal or MemAvailable", path)
	}

	used := total - available
	return Memory{
		Total:     total,
		Available: available,
		Used:      used,
		Percent:   percent(used, total),
	}, nil
}

// readDisk runs statfs on path.
func readDisk(path string) (Disk, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Disk{}, fmt.Errorf("statfs %s: %w", path, err)
	}

	// f_frsize is the fragment size the block counts are expressed
	// in; older filesystems report it as zero, in which case f_bsize
	// applies.
	blockSize := uint64(stat.Frsize)
	if blockSize == 0 {
		blockSize = uint64(stat.Bsize)
	}

	total := stat.Blocks * blockSize
	free := stat.Bavail * blockSize
	used := (stat.Blocks - stat.Bfree) * blockSize
	return Disk{
		Total:   total,
		Used:    used,
		Free:    free,
		Percent: percent(used, used+free),
	}, nil
}

// percent returns part/whole as a percentage rounded to one decimal.
func percent(part, whole uint64) float64 {
	if whole == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(whole)*1000) / 10
}
