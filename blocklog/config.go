// Copyright © 2026 ANTDBlockLog Contributors
// Licensed under the MIT License (MIT). See LICENSE in the repository root
// for more information.

package blocklog

import "github.com/prometheus/client_golang/prometheus"

// Config configures a LogStore. DefaultVersion falls back to
// DefaultVersion() when zero, kept as a package-level setting only for
// test-harness compatibility with callers that never migrated off a
// global default.
type Config struct {
	DataDir          string
	ArchiveDir       string
	Stride           uint32
	MaxRetainedFiles int
	DefaultVersion   uint32

	// MetadataCacheDir, if set, points a pebble instance used to remember
	// which rotated segments were already validated. Leave empty to run
	// without the accelerator; catalog semantics are unaffected either
	// way.
	MetadataCacheDir string

	// Registerer receives this store's prometheus metrics. Defaults to a
	// fresh, private prometheus.Registry when nil, so opening more than one
	// LogStore in the same process never collides on metric names.
	Registerer prometheus.Registerer
}

func (c *Config) versionOrDefault() uint32 {
	if c.DefaultVersion != 0 {
		return c.DefaultVersion
	}
	return DefaultVersion()
}
