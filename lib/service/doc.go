// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the shared runtime pieces of the dex-api
// binaries: structured logger construction and a graceful HTTP
// server. Request handling itself lives with the binaries; this
// package only owns lifecycle.
package service
