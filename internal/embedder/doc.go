// Package embedder generates vector embeddings for chips and queries.
//
// Three providers implement the Embedder interface: Jina AI and OpenAI,
// which share one OpenAI-compatible HTTP client, and an offline local
// provider that hashes words into a fixed-size vector.
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.Config{Provider: "local", CacheSize: 10000}, logger)
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	result, err := emb.GenerateEmbedding(ctx, embedder.EmbeddingRequest{
//	    Text: "I'm feeling overwhelmed by all of this",
//	})
//
// # Provider Selection
//
// With an empty Config.Provider the factory checks, in order:
//
//  1. CHIPRANK_EMBEDDING_PROVIDER (jina, openai, local)
//  2. JINA_API_KEY
//  3. OPENAI_API_KEY
//  4. the local provider
//
// Chips and queries must be embedded by the same provider and model.
// Storage records both with every vector.
//
// # Caching
//
// Providers consult an LRU Cache keyed by the SHA-256 of the text. Get
// returns a copy, so callers may modify the vector freely.
//
// # Error Handling
//
// Remote calls retry with exponential backoff on network errors, 429 and
// 5xx responses. Other 4xx responses fail at once. Exhausted retries are
// reported as ErrProviderFailed:
//
//	if errors.Is(err, embedder.ErrProviderFailed) {
//	    // upstream unavailable; the ranking engine does not retry
//	}
package embedder
