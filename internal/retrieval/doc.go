// Package retrieval implements the retrieval fusion orchestrator.
//
// The package has two layers. Pipeline is the pure ranking core: given a
// candidate pool, an intent category and a mode it filters, scores,
// reranks, diversifies and truncates, and builds a trace for every result.
// Engine wraps it with the per-query work that needs collaborators: intent
// classification and mode resolution, weight blending, one embedding call,
// one candidate search, metrics and the query log.
//
// # Usage
//
//	engine := retrieval.NewEngine(rules.MustDefault(), emb, store, retrieval.DefaultConfig(),
//	    retrieval.WithLogger(logger),
//	    retrieval.WithRecorder(store),
//	)
//	resp, err := engine.RetrieveRanked(ctx, retrieval.Request{
//	    Query:     "I'm feeling overwhelmed by all of this",
//	    Archetype: types.ArchetypeHighAchiever,
//	    Stage:     types.StageExecution,
//	})
//
// # Determinism
//
// For a fixed pool, query, archetype and stage, results and traces are
// identical across runs. Candidate evaluation fans out over a bounded
// errgroup but every goroutine writes its own slot, and the final order is
// a total order on (mode metric, score, chip ID). The query ID generated for
// logging never enters the response.
//
// # Errors
//
// Contract violations from pkg/types abort the query. ErrFetchFailed wraps
// embedding or search failures. An empty pool after filtering is a normal
// response whose FilterStats explain the removals.
package retrieval
