// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for dex-api
// binaries. It centralizes the raw stderr reporting that happens
// before the structured logger exists or after it is gone: errors
// surfacing from run() in main().
package process
