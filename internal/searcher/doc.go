// Package searcher caches candidate pools in front of a candidate index.
//
// Ranking the same turn twice embeds the same query and asks the index for
// the same K nearest chips. The Searcher keys an LRU cache on the query
// vector and K so repeated turns skip the vector search:
//
//	s, err := searcher.New(store, 1000, searcher.WithTTL(time.Hour))
//	engine := retrieval.NewEngine(r, emb, s, cfg)
//
// # Invalidation
//
// Every Add purges the cache. Wire the Searcher as the indexer's sink so that
// newly indexed chips are visible to the next query; WithSink forwards the
// chip to the in-memory index first when that backend is in use:
//
//	s, _ := searcher.New(mem, 1000, searcher.WithSink(mem))
//	idx := indexer.New(store, emb, indexer.WithSink(s))
//
// Add only sees chips indexed in this process. WithRevision polls a store
// revision (at most once per interval, from SearchCandidates) so chips
// written by another process, such as a separate "chiprank index" run, purge
// the cache and trigger WithReload for backends that hold their own copy:
//
//	s, _ := searcher.New(mem, 1000,
//		searcher.WithRevision(store.Revision, 5*time.Second),
//		searcher.WithReload(reloadFromStore))
//	_ = s.SyncRevision(ctx)
//
// WithoutCache keeps the revision checks but serves every query from the
// backend.
//
// Returned pools are deep copies; callers may modify them freely.
package searcher
