// Package cmd implements the command-line interface for the keybox embedded
// key-value store. Every command opens the configured database, runs and closes
// it again, so the snapshot on disk is the state shared between invocations.
//
// The package is organized into several subpackages:
//
//   - kv: One-shot key-value operations (add, get, update, del, list, save, info, metrics, perf)
//   - shell: Interactive shell with transaction support
//   - lock: Commands for locking operations (acquire, release)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Configuration is read from flags, from environment variables with the prefix
// KEYBOX_ (e.g. KEYBOX_DATA_PATH) and from .env and .env.local files.
//
// See keybox -help for a list of all commands.
package cmd
