package searcher

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/dshills/chiprank/pkg/types"
)

const (
	// DefaultCacheSize is the default number of cached candidate pools
	DefaultCacheSize = 1000
	// DefaultCacheTTL is the default lifetime of a cached candidate pool
	DefaultCacheTTL = time.Hour
	// DefaultRevisionInterval is the minimum time between revision checks
	DefaultRevisionInterval = 5 * time.Second
)

// CandidateIndex is the backend being cached
type CandidateIndex interface {
	SearchCandidates(ctx context.Context, vector []float32, k int) ([]types.Chip, error)
}

// Sink receives newly indexed chips
type Sink interface {
	Add(ctx context.Context, chip types.Chip, vector []float32) error
}

// RevisionFunc reports the revision of the store behind the index. Any
// change, by this or another process, invalidates cached pools.
type RevisionFunc func(ctx context.Context) (string, error)

// ReloadFunc refreshes the index after the store changed underneath it.
type ReloadFunc func(ctx context.Context) error

// cacheEntry represents a cached candidate pool with expiration time
type cacheEntry struct {
	chips     []types.Chip
	expiresAt time.Time
}

// Stats reports cache effectiveness
type Stats struct {
	Hits    uint64
	Misses  uint64
	Entries int
}

// Searcher serves candidate pools from an LRU cache in front of a
// CandidateIndex. Entries are keyed by query vector and k.
type Searcher struct {
	index   CandidateIndex
	sink    Sink
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger
	noCache bool

	revision RevisionFunc
	reload   ReloadFunc
	interval time.Duration

	revMu     sync.Mutex
	lastRev   string
	lastCheck time.Time
	checked   bool

	cacheMu sync.RWMutex
	cache   *lru.Cache[[32]byte, *cacheEntry] // nil when caching is disabled

	statsMu sync.Mutex
	stats   Stats
}

// Option configures a Searcher
type Option func(*Searcher)

// WithTTL sets the entry lifetime. Non-positive values keep the default.
func WithTTL(ttl time.Duration) Option {
	return func(s *Searcher) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithSink forwards Add calls to sink before the cache is invalidated
func WithSink(sink Sink) Option {
	return func(s *Searcher) { s.sink = sink }
}

// WithoutCache disables pool caching. Revision checks and reloads still run.
func WithoutCache() Option {
	return func(s *Searcher) { s.noCache = true }
}

// WithRevision polls rev at most once per interval from SearchCandidates.
// When the revision changes the reload function runs and the cache is
// purged, so chips indexed by another process become visible. A
// non-positive interval uses DefaultRevisionInterval.
func WithRevision(rev RevisionFunc, interval time.Duration) Option {
	return func(s *Searcher) {
		s.revision = rev
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithReload sets the function run when the store revision changes
func WithReload(reload ReloadFunc) Option {
	return func(s *Searcher) { s.reload = reload }
}

// WithLogger sets the logger for revision check failures
func WithLogger(logger *zap.Logger) Option {
	return func(s *Searcher) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Searcher caching up to size candidate pools
func New(index CandidateIndex, size int, opts ...Option) (*Searcher, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	s := &Searcher{
		index:    index,
		ttl:      DefaultCacheTTL,
		now:      time.Now,
		logger:   zap.NewNop(),
		interval: DefaultRevisionInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.noCache {
		return s, nil
	}

	cache, err := lru.New[[32]byte, *cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	s.cache = cache
	return s, nil
}

// SearchCandidates returns the cached pool for (vector, k) or queries the
// backend. Callers own the returned slice.
func (s *Searcher) SearchCandidates(ctx context.Context, vector []float32, k int) ([]types.Chip, error) {
	s.refresh(ctx)

	if s.cache == nil || k <= 0 || len(vector) == 0 {
		return s.index.SearchCandidates(ctx, vector, k)
	}

	hash := computeQueryHash(vector, k)
	if chips, ok := s.checkCache(hash); ok {
		s.record(true)
		return chips, nil
	}
	s.record(false)

	chips, err := s.index.SearchCandidates(ctx, vector, k)
	if err != nil {
		return nil, err
	}
	s.storeInCache(hash, chips)
	return copyChips(chips), nil
}

// Add forwards a newly indexed chip to the sink and drops every cached
// pool, since any of them may now be missing the chip.
func (s *Searcher) Add(ctx context.Context, chip types.Chip, vector []float32) error {
	var err error
	if s.sink != nil {
		err = s.sink.Add(ctx, chip, vector)
	}
	s.InvalidateCache()
	return err
}

// InvalidateCache removes every cached pool
func (s *Searcher) InvalidateCache() {
	if s.cache == nil {
		return
	}
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// SyncRevision records the current store revision as the baseline without
// reloading. Call it before loading the index from the store.
func (s *Searcher) SyncRevision(ctx context.Context) error {
	if s.revision == nil {
		return nil
	}
	rev, err := s.revision(ctx)
	if err != nil {
		return fmt.Errorf("failed to read index revision: %w", err)
	}
	s.revMu.Lock()
	s.lastRev, s.checked, s.lastCheck = rev, true, s.now()
	s.revMu.Unlock()
	return nil
}

// refresh checks the store revision when the interval has elapsed. A
// failed check is logged and the current contents keep serving.
func (s *Searcher) refresh(ctx context.Context) {
	if s.revision == nil {
		return
	}
	s.revMu.Lock()
	defer s.revMu.Unlock()

	now := s.now()
	if s.checked && now.Sub(s.lastCheck) < s.interval {
		return
	}
	s.lastCheck = now

	rev, err := s.revision(ctx)
	if err != nil {
		s.logger.Warn("index revision check failed", zap.Error(err))
		return
	}
	if !s.checked {
		s.lastRev, s.checked = rev, true
		return
	}
	if rev == s.lastRev {
		return
	}

	if s.reload != nil {
		if err := s.reload(ctx); err != nil {
			// Retry on the next check
			s.logger.Warn("index reload failed", zap.Error(err))
			s.lastCheck = time.Time{}
			return
		}
	}
	s.InvalidateCache()
	s.lastRev = rev
	s.logger.Debug("index changed, cache purged", zap.String("revision", rev))
}

// Stats returns hit and miss counts and the current number of entries
func (s *Searcher) Stats() Stats {
	s.statsMu.Lock()
	st := s.stats
	s.statsMu.Unlock()

	if s.cache != nil {
		s.cacheMu.RLock()
		st.Entries = s.cache.Len()
		s.cacheMu.RUnlock()
	}
	return st
}

func (s *Searcher) record(hit bool) {
	s.statsMu.Lock()
	if hit {
		s.stats.Hits++
	} else {
		s.stats.Misses++
	}
	s.statsMu.Unlock()
}

// checkCache looks up a cached pool
func (s *Searcher) checkCache(hash [32]byte) ([]types.Chip, bool) {
	now := s.now()

	s.cacheMu.RLock()
	entry, found := s.cache.Get(hash)
	if !found {
		s.cacheMu.RUnlock()
		return nil, false
	}

	// Check expiry while holding the read lock
	if now.After(entry.expiresAt) {
		s.cacheMu.RUnlock()

		s.cacheMu.Lock()
		s.cache.Remove(hash)
		s.cacheMu.Unlock()
		return nil, false
	}

	chips := copyChips(entry.chips)
	s.cacheMu.RUnlock()
	return chips, true
}

// storeInCache saves a deep copy of chips
func (s *Searcher) storeInCache(hash [32]byte, chips []types.Chip) {
	entry := &cacheEntry{
		chips:     copyChips(chips),
		expiresAt: s.now().Add(s.ttl),
	}

	s.cacheMu.Lock()
	s.cache.Add(hash, entry)
	s.cacheMu.Unlock()
}

// copyChips creates a deep copy of a candidate pool
func copyChips(src []types.Chip) []types.Chip {
	if src == nil {
		return nil
	}
	dst := make([]types.Chip, len(src))
	copy(dst, src)
	for i := range dst {
		if src[i].Signals != nil {
			dst[i].Signals = append([]string(nil), src[i].Signals...)
		}
	}
	return dst
}

// computeQueryHash hashes the vector bits and k
func computeQueryHash(vector []float32, k int) [32]byte {
	buf := make([]byte, 8+4*len(vector))
	binary.LittleEndian.PutUint64(buf, uint64(k))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[8+4*i:], math.Float32bits(v))
	}
	return sha256.Sum256(buf)
}
