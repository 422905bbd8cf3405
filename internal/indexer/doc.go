// Package indexer loads chip corpora and writes chips and their embeddings
// to storage.
//
// # Pipeline
//
// IndexChips runs validate -> embed -> store:
//
//  1. Validate: each chip is checked with Chip.Validate; invalid chips and
//     repeated IDs are counted as failed and reported in
//     Statistics.ErrorMessages.
//  2. Change detection: a chip whose content hash, provenance and embedding
//     model all match the stored row is skipped.
//  3. Embed: the remaining chips of a batch go to the embedder in a single
//     GenerateBatch call.
//  4. Store: each batch is written in one transaction.
//
// Batches run concurrently on an errgroup bounded by Config.Workers. A failed
// embedding call fails its batch only; storage errors and cancellation abort
// the run.
//
// # Corpus Files
//
// LoadCorpus reads YAML (or JSON) of the form:
//
//	chips:
//	  - id: calm-1
//	    text: "It's okay to feel behind."
//	    category: emotional_support
//	    signals: [supportive, validating]
//	    source: handbook.md
//	    position: 4
//
// # Usage
//
//	idx := indexer.New(store, emb,
//	    indexer.WithLogger(logger),
//	    indexer.WithSink(memIndex),
//	)
//	stats, err := idx.IndexFile(ctx, "chips.yaml", &indexer.Config{BatchSize: 32})
//
// Only one run may be active per Indexer; a concurrent call returns
// ErrIndexingInProgress.
package indexer
