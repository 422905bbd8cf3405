// Package storage provides SQLite-based persistence for chips, their
// embeddings and the query log.
//
// # Database Schema
//
// Tables:
//   - chips: chip text, category, signal tags (JSON), provenance and a
//     SHA-256 content hash
//   - chip_embeddings: one vector per chip, deleted with its chip
//   - query_log: audit entries of ranked retrievals (schema 1.1.0)
//   - schema_version: applied migrations
//
// Migrations are ordered by semantic version. ApplyMigrations runs whatever
// is newer than the highest applied version; RollbackMigration undoes the
// newest one.
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStorage("~/.chiprank/chiprank.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	rec := storage.NewChipRecord(&chip)
//	if err := store.UpsertChip(ctx, rec); err != nil {
//	    return err
//	}
//
// # Transactions
//
// Use transactions for atomic batch writes. Every operation on a Tx runs on
// the transaction itself:
//
//	tx, err := store.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	_ = tx.UpsertChip(ctx, rec)
//	_ = tx.UpsertEmbedding(ctx, emb)
//
//	return tx.Commit()
//
// # Candidate Search
//
// SearchCandidates returns the k chips nearest to a query vector with their
// similarity clamped into [0, 1], ordered by similarity and then chip ID.
// It satisfies the retrieval engine's candidate index:
//
//	chips, err := store.SearchCandidates(ctx, queryVec, 30)
//
// # Build Modes
//
// The default build uses modernc.org/sqlite and computes cosine similarity
// in Go. Building with the sqlite_vec tag switches to mattn/go-sqlite3 and
// pushes the distance computation into SQL via vec_distance_cosine:
//
//	CGO_ENABLED=1 go build -tags sqlite_vec ./...
package storage
