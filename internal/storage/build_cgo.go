//go:build sqlite_vec && !purego

package storage

// Chip stores opened by this build use mattn/go-sqlite3 with the sqlite-vec
// extension loaded, so SearchCandidates ranks chips inside SQLite with
// vec_distance_cosine.
//
//	CGO_ENABLED=1 go build -tags sqlite_vec ./cmd/chiprank

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the database/sql driver registered by this build
	DriverName = "sqlite3"

	// VectorExtensionAvailable reports whether vec_distance_cosine can be used
	VectorExtensionAvailable = true

	// BuildMode is reported by get_status and chiprank --version
	BuildMode = "cgo"
)
