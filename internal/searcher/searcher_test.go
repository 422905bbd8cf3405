package searcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dshills/chiprank/internal/memindex"
	"github.com/dshills/chiprank/pkg/types"
)

// mockIndex counts backend calls
type mockIndex struct {
	mu    sync.Mutex
	calls int
	chips []types.Chip
	err   error
}

func (m *mockIndex) SearchCandidates(ctx context.Context, vector []float32, k int) ([]types.Chip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if k < len(m.chips) {
		return append([]types.Chip(nil), m.chips[:k]...), nil
	}
	return append([]types.Chip(nil), m.chips...), nil
}

func (m *mockIndex) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockSink struct {
	added []string
	err   error
}

func (m *mockSink) Add(ctx context.Context, chip types.Chip, vector []float32) error {
	m.added = append(m.added, chip.ID)
	return m.err
}

func testChips() []types.Chip {
	return []types.Chip{
		{ID: "calm-1", Text: "It's okay.", Category: types.CategoryEmotionalSupport, Signals: []string{"supportive"}, Similarity: 0.9},
		{ID: "gpa-1", Text: "GPA in context.", Category: types.CategoryAcademics, Similarity: 0.7},
	}
}

func newTestSearcher(t *testing.T, idx CandidateIndex, opts ...Option) *Searcher {
	t.Helper()
	s, err := New(idx, 10, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func TestNewDefaults(t *testing.T) {
	s, err := New(&mockIndex{}, 0)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if s.ttl != DefaultCacheTTL {
		t.Errorf("ttl = %v, want %v", s.ttl, DefaultCacheTTL)
	}

	s = newTestSearcher(t, &mockIndex{}, WithTTL(-time.Second))
	if s.ttl != DefaultCacheTTL {
		t.Errorf("negative TTL should keep default, got %v", s.ttl)
	}
}

func TestSearchCandidatesCachesPools(t *testing.T) {
	idx := &mockIndex{chips: testChips()}
	s := newTestSearcher(t, idx)
	ctx := context.Background()
	vec := []float32{1, 0, 0}

	first, err := s.SearchCandidates(ctx, vec, 5)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	second, err := s.SearchCandidates(ctx, vec, 5)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}

	if idx.callCount() != 1 {
		t.Errorf("backend calls = %d, want 1", idx.callCount())
	}
	if len(second) != 2 || second[0].ID != "calm-1" || second[1].ID != "gpa-1" {
		t.Errorf("unexpected cached pool: %+v", second)
	}

	// Mutating a returned pool must not leak into the cache
	first[0].Signals[0] = "changed"
	second[0].ID = "changed"
	third, _ := s.SearchCandidates(ctx, vec, 5)
	if third[0].ID != "calm-1" || third[0].Signals[0] != "supportive" {
		t.Errorf("cache was mutated through a returned slice: %+v", third[0])
	}

	stats := s.Stats()
	if stats.Hits != 2 || stats.Misses != 1 || stats.Entries != 1 {
		t.Errorf("stats = %+v, want 2 hits, 1 miss, 1 entry", stats)
	}
}

func TestSearchCandidatesKeyedByVectorAndK(t *testing.T) {
	idx := &mockIndex{chips: testChips()}
	s := newTestSearcher(t, idx)
	ctx := context.Background()

	tests := []struct {
		vec []float32
		k   int
	}{
		{[]float32{1, 0}, 5},
		{[]float32{1, 0}, 1},
		{[]float32{0, 1}, 5},
		{[]float32{1, 0, 0}, 5},
	}
	for _, tt := range tests {
		if _, err := s.SearchCandidates(ctx, tt.vec, tt.k); err != nil {
			t.Fatalf("search failed: %v", err)
		}
	}
	if idx.callCount() != len(tests) {
		t.Errorf("backend calls = %d, want %d", idx.callCount(), len(tests))
	}

	got, _ := s.SearchCandidates(ctx, []float32{1, 0}, 1)
	if len(got) != 1 {
		t.Errorf("k=1 pool has %d chips", len(got))
	}
}

func TestSearchCandidatesBypassesCacheForDegenerateInput(t *testing.T) {
	idx := &mockIndex{chips: testChips()}
	s := newTestSearcher(t, idx)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _ = s.SearchCandidates(ctx, []float32{1}, 0)
		_, _ = s.SearchCandidates(ctx, nil, 5)
	}
	if idx.callCount() != 4 {
		t.Errorf("backend calls = %d, want 4", idx.callCount())
	}
	if s.Stats().Entries != 0 {
		t.Errorf("degenerate queries were cached")
	}
}

func TestSearchCandidatesErrorsAreNotCached(t *testing.T) {
	idx := &mockIndex{err: errors.New("closed")}
	s := newTestSearcher(t, idx)
	ctx := context.Background()

	if _, err := s.SearchCandidates(ctx, []float32{1}, 3); err == nil {
		t.Fatal("expected error")
	}
	idx.err = nil
	idx.chips = testChips()
	got, err := s.SearchCandidates(ctx, []float32{1}, 3)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d chips, want 2", len(got))
	}
}

func TestCacheExpiry(t *testing.T) {
	idx := &mockIndex{chips: testChips()}
	s := newTestSearcher(t, idx, WithTTL(time.Minute))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = s.SearchCandidates(ctx, []float32{1}, 3)
	now = now.Add(30 * time.Second)
	_, _ = s.SearchCandidates(ctx, []float32{1}, 3)
	if idx.callCount() != 1 {
		t.Errorf("backend calls = %d before expiry, want 1", idx.callCount())
	}

	now = now.Add(time.Minute)
	_, _ = s.SearchCandidates(ctx, []float32{1}, 3)
	if idx.callCount() != 2 {
		t.Errorf("backend calls = %d after expiry, want 2", idx.callCount())
	}
}

func TestAddForwardsAndInvalidates(t *testing.T) {
	idx := &mockIndex{chips: testChips()}
	sink := &mockSink{}
	s := newTestSearcher(t, idx, WithSink(sink))
	ctx := context.Background()

	_, _ = s.SearchCandidates(ctx, []float32{1}, 3)
	if s.Stats().Entries != 1 {
		t.Fatalf("expected one cached pool")
	}

	if err := s.Add(ctx, types.Chip{ID: "new-1"}, []float32{1}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if len(sink.added) != 1 || sink.added[0] != "new-1" {
		t.Errorf("sink received %v", sink.added)
	}
	if s.Stats().Entries != 0 {
		t.Errorf("cache not invalidated after Add")
	}

	// Sink errors are returned, the cache is still dropped
	_, _ = s.SearchCandidates(ctx, []float32{1}, 3)
	sink.err = errors.New("full")
	if err := s.Add(ctx, types.Chip{ID: "new-2"}, []float32{1}); err == nil {
		t.Error("expected sink error")
	}
	if s.Stats().Entries != 0 {
		t.Errorf("cache not invalidated after failed Add")
	}
}

func TestAddWithoutSink(t *testing.T) {
	s := newTestSearcher(t, &mockIndex{chips: testChips()})
	if err := s.Add(context.Background(), types.Chip{ID: "x"}, []float32{1}); err != nil {
		t.Errorf("Add failed: %v", err)
	}
}

// fakeRevision is a store revision another process can bump
type fakeRevision struct {
	mu    sync.Mutex
	rev   int
	calls int
	err   error
}

func (f *fakeRevision) get(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprint(f.rev), nil
}

func (f *fakeRevision) bump() {
	f.mu.Lock()
	f.rev++
	f.mu.Unlock()
}

func TestExternalChangePurgesAndReloads(t *testing.T) {
	idx := &mockIndex{chips: testChips()}
	rev := &fakeRevision{}
	reloads := 0
	s := newTestSearcher(t, idx,
		WithRevision(rev.get, time.Second),
		WithReload(func(ctx context.Context) error { reloads++; return nil }))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()
	vec := []float32{1, 0}

	if err := s.SyncRevision(ctx); err != nil {
		t.Fatalf("SyncRevision failed: %v", err)
	}
	_, _ = s.SearchCandidates(ctx, vec, 3)
	_, _ = s.SearchCandidates(ctx, vec, 3)
	if idx.callCount() != 1 || reloads != 0 {
		t.Fatalf("backend calls = %d, reloads = %d before any change", idx.callCount(), reloads)
	}

	// Another process indexes chips; the change is noticed after the interval
	rev.bump()
	_, _ = s.SearchCandidates(ctx, vec, 3)
	if idx.callCount() != 1 {
		t.Errorf("revision checked before the interval elapsed")
	}

	now = now.Add(2 * time.Second)
	_, _ = s.SearchCandidates(ctx, vec, 3)
	if reloads != 1 {
		t.Errorf("reloads = %d, want 1", reloads)
	}
	if idx.callCount() != 2 {
		t.Errorf("backend calls = %d after change, want 2", idx.callCount())
	}

	// An unchanged revision keeps the cache
	now = now.Add(2 * time.Second)
	_, _ = s.SearchCandidates(ctx, vec, 3)
	if idx.callCount() != 2 || reloads != 1 {
		t.Errorf("unchanged revision purged the cache: calls=%d reloads=%d", idx.callCount(), reloads)
	}
}

func TestRevisionCheckThrottled(t *testing.T) {
	rev := &fakeRevision{}
	s := newTestSearcher(t, &mockIndex{chips: testChips()}, WithRevision(rev.get, time.Minute))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, _ = s.SearchCandidates(ctx, []float32{1}, 3)
	}
	if rev.calls != 1 {
		t.Errorf("revision calls = %d, want 1", rev.calls)
	}
}

func TestRevisionFailuresKeepServing(t *testing.T) {
	idx := &mockIndex{chips: testChips()}
	rev := &fakeRevision{}
	reloadErr := errors.New("store locked")
	reloads := 0
	s := newTestSearcher(t, idx,
		WithRevision(rev.get, time.Second),
		WithReload(func(ctx context.Context) error { reloads++; return reloadErr }))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	if err := s.SyncRevision(ctx); err != nil {
		t.Fatalf("SyncRevision failed: %v", err)
	}
	_, _ = s.SearchCandidates(ctx, []float32{1}, 3)

	rev.mu.Lock()
	rev.err = errors.New("disk I/O error")
	rev.mu.Unlock()
	now = now.Add(2 * time.Second)
	if _, err := s.SearchCandidates(ctx, []float32{1}, 3); err != nil {
		t.Fatalf("failed revision check surfaced: %v", err)
	}
	if idx.callCount() != 1 {
		t.Errorf("failed check purged the cache")
	}

	// A failed reload is retried on the next query
	rev.mu.Lock()
	rev.err = nil
	rev.mu.Unlock()
	rev.bump()
	now = now.Add(2 * time.Second)
	_, _ = s.SearchCandidates(ctx, []float32{1}, 3)
	_, _ = s.SearchCandidates(ctx, []float32{1}, 3)
	if reloads != 2 {
		t.Errorf("reloads = %d, want 2", reloads)
	}

	reloadErr = nil
	_, _ = s.SearchCandidates(ctx, []float32{1}, 3)
	if reloads != 3 {
		t.Errorf("reloads = %d, want 3", reloads)
	}
	if idx.callCount() != 2 {
		t.Errorf("backend calls = %d, want 2 after successful reload", idx.callCount())
	}
}

func TestWithoutCache(t *testing.T) {
	idx := &mockIndex{chips: testChips()}
	rev := &fakeRevision{}
	reloads := 0
	s := newTestSearcher(t, idx, WithoutCache(),
		WithRevision(rev.get, time.Second),
		WithReload(func(ctx context.Context) error { reloads++; return nil }))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = s.SearchCandidates(ctx, []float32{1}, 3)
	}
	if idx.callCount() != 3 {
		t.Errorf("backend calls = %d, want 3", idx.callCount())
	}
	if st := s.Stats(); st.Entries != 0 || st.Hits != 0 {
		t.Errorf("stats = %+v with caching disabled", st)
	}

	rev.bump()
	now = now.Add(2 * time.Second)
	_, _ = s.SearchCandidates(ctx, []float32{1}, 3)
	if reloads != 1 {
		t.Errorf("reloads = %d, want 1", reloads)
	}
	s.InvalidateCache()
}

func TestLRUEviction(t *testing.T) {
	idx := &mockIndex{chips: testChips()}
	s, err := New(idx, 2)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = s.SearchCandidates(ctx, []float32{float32(i)}, 3)
	}
	if s.Stats().Entries != 2 {
		t.Errorf("entries = %d, want 2", s.Stats().Entries)
	}

	// The oldest pool was evicted
	_, _ = s.SearchCandidates(ctx, []float32{0}, 3)
	if idx.callCount() != 4 {
		t.Errorf("backend calls = %d, want 4", idx.callCount())
	}
}

func TestComputeQueryHash(t *testing.T) {
	a := computeQueryHash([]float32{1, 2, 3}, 5)
	if a != computeQueryHash([]float32{1, 2, 3}, 5) {
		t.Error("hash is not deterministic")
	}

	different := []struct {
		vec []float32
		k   int
	}{
		{[]float32{1, 2, 3}, 6},
		{[]float32{1, 2, 4}, 5},
		{[]float32{1, 2}, 5},
		{[]float32{1, 2, 3, 0}, 5},
	}
	for _, tt := range different {
		if a == computeQueryHash(tt.vec, tt.k) {
			t.Errorf("hash collision for %v k=%d", tt.vec, tt.k)
		}
	}
}

// In front of the in-memory index the cache must return exactly what the
// index returns, and see chips added through it.
func TestSearcherOverMemoryIndex(t *testing.T) {
	ctx := context.Background()
	mem, err := memindex.New(nil)
	if err != nil {
		t.Fatalf("memindex.New failed: %v", err)
	}
	s := newTestSearcher(t, mem, WithSink(mem))

	add := func(id string, vec []float32) {
		chip := types.Chip{ID: id, Text: "text " + id, Category: types.CategoryGeneral}
		if err := s.Add(ctx, chip, vec); err != nil {
			t.Fatalf("Add %s failed: %v", id, err)
		}
	}
	add("a", []float32{1, 0})
	add("b", []float32{0, 1})

	query := []float32{1, 0.1}
	want, err := mem.SearchCandidates(ctx, query, 5)
	if err != nil {
		t.Fatalf("index search failed: %v", err)
	}
	got, err := s.SearchCandidates(ctx, query, 5)
	if err != nil {
		t.Fatalf("cached search failed: %v", err)
	}
	if fmt.Sprint(ids(got)) != fmt.Sprint(ids(want)) {
		t.Errorf("cached ids %v, index ids %v", ids(got), ids(want))
	}

	add("c", []float32{1, 0.1})
	got, _ = s.SearchCandidates(ctx, query, 5)
	if len(got) != 3 || got[0].ID != "c" {
		t.Errorf("new chip not visible after Add: %v", ids(got))
	}
}

func ids(chips []types.Chip) []string {
	out := make([]string, len(chips))
	for i := range chips {
		out[i] = chips[i].ID
	}
	return out
}

func BenchmarkSearchCandidatesCached(b *testing.B) {
	chips := make([]types.Chip, 30)
	for i := range chips {
		chips[i] = types.Chip{ID: fmt.Sprintf("chip-%02d", i), Text: "t", Category: types.CategoryGeneral, Signals: []string{"supportive"}}
	}
	s, err := New(&mockIndex{chips: chips}, DefaultCacheSize)
	if err != nil {
		b.Fatal(err)
	}
	vec := make([]float32, 384)
	for i := range vec {
		vec[i] = float32(i) * 0.01
	}
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := s.SearchCandidates(ctx, vec, 30); err != nil {
				b.Fatal(err)
			}
		}
	})
}
