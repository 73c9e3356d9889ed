// Copyright 2026 The Dex API Authors
// SPDX-License-Identifier: Apache-2.0

// Dex-api is the HTTP front-end for the APK protection pipeline.
// Android packages come in as multipart uploads, get decoded,
// patched with the protection bootstrap hook, re-assembled, and go
// back out as a minimal protected bundle of compiled-code units plus
// the descriptor.
//
// # Endpoints
//
//   - POST /protect: run the full patch pipeline on an uploaded
//     package, selecting an injection profile by name, and stream
//     protected.zip back
//   - POST /upload: disassemble every classes*.dex in an uploaded
//     package into per-unit smali trees and stream them as a zip
//   - POST /assemble: rebuild one classes.dex from an uploaded zip
//     of a smali tree
//   - GET /health, /javacheck, /resources, /tempfiles: operational
//     probes for liveness, the JVM toolchain, host capacity, and
//     live job workspaces
//
// # Configuration
//
// Configuration comes from a YAML file named by --config or the
// DEXAPI_CONFIG environment variable: listen address, toolchain jar
// locations, workspace root and retention, and the protection
// profile directory. See lib/config.
//
// Each job runs in its own workspace directory. Successful jobs
// linger for a cleanup grace period so the response can be streamed
// from disk; failures are removed immediately; a background sweep
// reaps anything orphaned by a crash.
package main
