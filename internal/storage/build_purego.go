//go:build purego || !sqlite_vec

package storage

// The default build uses modernc.org/sqlite and needs no C toolchain.
// Without sqlite-vec, SearchCandidates loads every vector of the query's
// dimension and ranks chips in Go.
//
//	CGO_ENABLED=0 go build ./cmd/chiprank

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the database/sql driver registered by this build
	DriverName = "sqlite"

	// VectorExtensionAvailable reports whether vec_distance_cosine can be used
	VectorExtensionAvailable = false

	// BuildMode is reported by get_status and chiprank --version
	BuildMode = "purego"
)
