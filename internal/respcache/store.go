package respcache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aideepspeak/pkg/models"
)

const (
	// DefaultDir is where the cache file lives unless Options.Path overrides it.
	DefaultDir = "cache"
	// DefaultFileName is the durable cache file name.
	DefaultFileName = "ai_responses_cache.json"
	// DefaultSeed namespaces cache entries; changing it invalidates every key.
	DefaultSeed = 69
	// DefaultTTL is how long an entry stays servable after it is stored.
	DefaultTTL = 72 * time.Hour
)

// CacheEntry stores one cached model response together with the request that
// produced it, so operators can inspect the cache file directly.
type CacheEntry struct {
	Prompt    string       `json:"prompt"`
	Model     string       `json:"model"`
	Response  string       `json:"response"`
	UsageInfo models.Usage `json:"usage_info"`
	CreatedAt float64      `json:"created_at"`
	ExpiresAt float64      `json:"expires_at"`
}

// Stats reports cache performance counters.
type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// cacheFile is the on-disk layout of the durable cache.
type cacheFile struct {
	CacheSeed int                   `json:"cache_seed"`
	Entries   map[string]CacheEntry `json:"entries"`
}

// CacheIOError wraps a storage failure. The store degrades to in-memory
// operation instead of failing the surrounding run.
type CacheIOError struct {
	Path string
	Err  error
}

func (e *CacheIOError) Error() string {
	return fmt.Sprintf("cache storage error at %s: %v", e.Path, e.Err)
}

func (e *CacheIOError) Unwrap() error {
	return e.Err
}

// Options configures a cache store. Zero values select the defaults above.
type Options struct {
	Path  string        `json:"path"`
	Seed  int           `json:"seed"`
	TTL   time.Duration `json:"ttl"`
	Debug bool          `json:"debug"`
}

// Store is a content-addressed response cache shared by concurrent
// conversation runs. All methods are safe for concurrent use; every mutation
// is written through to the durable file with an atomic replace.
type Store struct {
	mu      sync.Mutex
	path    string
	seed    int
	ttl     time.Duration
	debug   bool
	entries map[string]CacheEntry
	hits    int64
	misses  int64
}

// Open loads the cache file and prunes expired entries. An unreadable or
// corrupt file is reported as a warning and the store starts empty; Open
// never fails the caller.
func Open(opts Options) *Store {
	if opts.Path == "" {
		opts.Path = filepath.Join(DefaultDir, DefaultFileName)
	}
	if opts.Seed == 0 {
		opts.Seed = DefaultSeed
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}

	store := &Store{
		path:    opts.Path,
		seed:    opts.Seed,
		ttl:     opts.TTL,
		debug:   opts.Debug,
		entries: make(map[string]CacheEntry),
	}

	if err := store.load(); err != nil {
		log.Warn().Err(err).Str("path", store.path).Msg("Cache file unreadable, starting with an empty cache")
	}

	if pruned := store.Prune(time.Now()); pruned > 0 {
		log.Debug().Int("pruned", pruned).Str("path", store.path).Msg("Removed expired cache entries")
	}

	return store
}

// Seed returns the seed this store fingerprints requests with.
func (s *Store) Seed() int {
	return s.seed
}

// TTL returns the lifetime applied to new entries when Put is called without
// an explicit ttl.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Path returns the location of the durable cache file.
func (s *Store) Path() string {
	return s.path
}

// Lookup returns the entry for the fingerprint if present and not expired.
// An expired entry counts as a miss and is dropped in place.
func (s *Store) Lookup(fingerprint string) (CacheEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[fingerprint]
	if !ok {
		s.misses++
		if s.debug {
			log.Debug().Str("fingerprint", shortFingerprint(fingerprint)).Msg("Cache miss")
		}
		return CacheEntry{}, false
	}

	if entry.ExpiresAt <= unixSeconds(time.Now()) {
		delete(s.entries, fingerprint)
		s.misses++
		if s.debug {
			log.Debug().Str("fingerprint", shortFingerprint(fingerprint)).Msg("Cache entry expired, treating as miss")
		}
		return CacheEntry{}, false
	}

	s.hits++
	if s.debug {
		log.Debug().Str("fingerprint", shortFingerprint(fingerprint)).Msg("Cache hit")
	}
	return entry, true
}

// Put stores a response under the fingerprint and writes the cache through to
// disk. A non-positive ttl selects the store default. Storing the same
// fingerprint twice is idempotent; the newer entry wins.
func (s *Store) Put(fingerprint, prompt, model, response string, usage models.Usage, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.ttl
	}

	now := time.Now()
	entry := CacheEntry{
		Prompt:    prompt,
		Model:     model,
		Response:  response,
		UsageInfo: usage,
		CreatedAt: unixSeconds(now),
		ExpiresAt: unixSeconds(now.Add(ttl)),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[fingerprint] = entry
	if err := s.persistLocked(); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("Failed to persist cache entry, keeping it in memory")
	}
	if s.debug {
		log.Debug().Str("fingerprint", shortFingerprint(fingerprint)).Str("model", model).Msg("Cached model response")
	}
}

// Prune removes entries that are expired at the given instant and persists
// the cache when anything was removed. It returns the number of entries
// dropped.
func (s *Store) Prune(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := unixSeconds(now)
	pruned := 0
	for fingerprint, entry := range s.entries {
		if entry.ExpiresAt <= cutoff {
			delete(s.entries, fingerprint)
			pruned++
		}
	}

	if pruned > 0 {
		if err := s.persistLocked(); err != nil {
			log.Warn().Err(err).Str("path", s.path).Msg("Failed to persist cache after pruning")
		}
	}
	return pruned
}

// Flush writes the current cache contents to the durable file.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

// Clear drops every entry and removes the durable file.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]CacheEntry)
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return &CacheIOError{Path: s.path, Err: err}
	}
	return nil
}

// Stats returns the current entry count and hit/miss counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Entries: len(s.entries),
		Hits:    s.hits,
		Misses:  s.misses,
	}
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &CacheIOError{Path: s.path, Err: err}
	}

	var file cacheFile
	if err := json.Unmarshal(data, &file); err != nil {
		return &CacheIOError{Path: s.path, Err: err}
	}

	if file.Entries != nil {
		s.entries = file.Entries
	}
	log.Debug().Int("entries", len(s.entries)).Str("path", s.path).Msg("Loaded response cache")
	return nil
}

// persistLocked writes the cache with a write-new-then-replace strategy so a
// crash mid-write cannot corrupt previously stored entries. Callers must hold
// s.mu.
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(cacheFile{CacheSeed: s.seed, Entries: s.entries}, "", "  ")
	if err != nil {
		return &CacheIOError{Path: s.path, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return &CacheIOError{Path: s.path, Err: err}
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return &CacheIOError{Path: s.path, Err: err}
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return &CacheIOError{Path: s.path, Err: err}
	}
	return nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func shortFingerprint(fingerprint string) string {
	if len(fingerprint) <= 8 {
		return fingerprint
	}
	return fingerprint[:8]
}
