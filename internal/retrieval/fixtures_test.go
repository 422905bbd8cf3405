package retrieval

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dshills/chiprank/internal/embedder"
	"github.com/dshills/chiprank/pkg/types"
)

// pool is a small candidate pool that exercises every gate.
func pool() []types.Chip {
	return []types.Chip{
		{
			ID: "calm", Category: types.CategoryEmotionalSupport, Similarity: 0.7,
			Text:    "You're not alone. It's okay to pause this week.",
			Signals: []string{"supportive", "validating"},
		},
		{
			ID: "gpa", Category: types.CategoryAcademics, Similarity: 0.9,
			Text:    "Start by listing your GPA and 3 target schools.",
			Signals: []string{"tactical", "specific"},
		},
		{
			ID: "formal", Category: types.CategoryGeneral, Similarity: 0.6,
			Text:    "Furthermore, we are pleased to assist you.",
			Signals: []string{"supportive"},
		},
		{
			ID: "bland", Category: types.CategoryNarrative, Similarity: 0.5,
			Text: "Build a framework for your essays.",
		},
		{
			ID: "ranking", Category: types.CategoryAcademics, Similarity: 0.5,
			Text:    "Start by ranking your classes.",
			Signals: []string{"tactical", "straight"},
		},
		{
			ID: "story", Category: types.CategoryNarrative, Similarity: 0.4,
			Text:    "What if your essay's hook is the night you almost quit?",
			Signals: []string{"reflective", "guiding"},
		},
	}
}

type fakeEmbedder struct {
	calls atomic.Int32
	err   error
}

func (f *fakeEmbedder) GenerateEmbedding(_ context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &embedder.Embedding{Vector: []float32{1, 0, 0}, Dimension: 3, Hash: embedder.ComputeHash(req.Text)}, nil
}

type fakeIndex struct {
	chips []types.Chip
	err   error
	k     atomic.Int32
}

func (f *fakeIndex) SearchCandidates(_ context.Context, _ []float32, k int) ([]types.Chip, error) {
	f.k.Store(int32(k))
	if f.err != nil {
		return nil, f.err
	}
	out := make([]types.Chip, len(f.chips))
	copy(out, f.chips)
	return out, nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []types.QueryRecord
	err     error
}

func (f *fakeRecorder) RecordQuery(_ context.Context, rec types.QueryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return f.err
}

var errUpstream = errors.New("upstream unavailable")

func resultIDs(results []types.RankedResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}
