// Package registry owns the set of currently open search indices. It
// is the single source of truth for which indices exist, fans queries
// out across them, and replays the location cache at startup.
package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"searchd/internal/cache"
	"searchd/internal/engine"
)

// MetaName is the reserved pseudo-index name. As a query target it
// means "every open index"; it can never be created or removed.
const MetaName = "_all"

// Result is one scored document from a query, tagged with the index
// it came from.
type Result struct {
	Index  string                 `json:"index"`
	ID     string                 `json:"id"`
	Score  float64                `json:"score"`
	Fields map[string]interface{} `json:"fields,omitempty"`
}

// Info describes one open index.
type Info struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Docs     uint64 `json:"docs"`
}

// Registry maps index names to open engine handles. All methods are
// safe for concurrent use: lookups and queries proceed concurrently,
// create and remove take the write lock.
type Registry struct {
	mu      sync.RWMutex
	indices map[string]*engine.Index
	cache   *cache.Cache
	log     *slog.Logger
}

// New creates an empty registry backed by the given location cache.
func New(c *cache.Cache, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		indices: make(map[string]*engine.Index),
		cache:   c,
		log:     log,
	}
}

// Has reports whether name currently has an open handle.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.indices[name]
	return ok
}

// Names returns the names of all open indices, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.indices))
	for name := range r.indices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of open indices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.indices)
}

// Info returns name, location and document count for an open index.
func (r *Registry) Info(name string) (Info, error) {
	r.mu.RLock()
	idx, ok := r.indices[name]
	r.mu.RUnlock()

	if !ok {
		return Info{}, newError(KindNotFound, name, nil)
	}

	docs, err := idx.DocCount()
	if err != nil {
		return Info{}, newError(KindEngineFailure, name, err)
	}
	return Info{Name: name, Location: idx.Location(), Docs: docs}, nil
}

// Create opens the index at location and registers it under name.
//
// Creating a name that is already open succeeds without touching the
// existing handle; the open handle's location stays authoritative even
// when the request names a different one (logged at warn level, see
// DESIGN.md). A location with no openable index fails with
// KindInvalidLocation and leaves the registry unchanged. A cache write
// failure after a successful open is returned as KindStorage but never
// rolls the creation back.
func (r *Registry) Create(name, location string) error {
	if name == MetaName {
		return newError(KindReservedName, name, nil)
	}

	r.mu.Lock()
	if existing, ok := r.indices[name]; ok {
		if existing.Location() != location {
			r.log.Warn("create ignored for already-open index",
				slog.String("index", name),
				slog.String("open_location", existing.Location()),
				slog.String("requested_location", location))
		}
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	// Open outside the lock: Bleve opens hit the disk.
	idx, err := engine.Open(name, location)
	if err != nil {
		return newError(KindInvalidLocation, name, err)
	}

	r.mu.Lock()
	if _, ok := r.indices[name]; ok {
		// Lost a create race for the same name; the first one wins.
		r.mu.Unlock()
		_ = idx.Close()
		return nil
	}
	r.indices[name] = idx
	r.mu.Unlock()

	r.log.Info("index opened",
		slog.String("index", name),
		slog.String("location", location))

	if err := r.cache.Set(name, location); err != nil {
		// The index stays open; it just won't be recovered after a
		// restart. The divergence self-heals on the next create.
		r.log.Error("cache write failed, index not recoverable after restart",
			slog.String("index", name),
			slog.String("error", err.Error()))
		return newError(KindStorage, name, err)
	}

	return nil
}

// Remove closes and deregisters the index under name, and drops its
// cache entry. The name may be reused by a later Create.
func (r *Registry) Remove(name string) error {
	if name == MetaName {
		return newError(KindReservedName, name, nil)
	}

	r.mu.Lock()
	idx, ok := r.indices[name]
	if !ok {
		r.mu.Unlock()
		return newError(KindNotFound, name, nil)
	}
	delete(r.indices, name)
	r.mu.Unlock()

	if err := idx.Close(); err != nil {
		r.log.Warn("failed to close index",
			slog.String("index", name),
			slog.String("error", err.Error()))
	}

	r.log.Info("index removed", slog.String("index", name))

	if err := r.cache.Remove(name); err != nil {
		return newError(KindStorage, name, err)
	}
	return nil
}

// Query runs the expression against one named index and returns the
// engine's result sequence unmodified.
func (r *Registry) Query(ctx context.Context, name, expr, collapseKey string, limit int) ([]Result, error) {
	r.mu.RLock()
	idx, ok := r.indices[name]
	r.mu.RUnlock()

	if !ok {
		return nil, newError(KindNotFound, name, nil)
	}

	hits, err := idx.Search(ctx, expr, collapseKey, limit)
	if err != nil {
		return nil, newError(KindEngineFailure, name, err)
	}
	return toResults(name, hits), nil
}

// QueryAll fans the expression out across every open index and merges
// the per-index sequences into one list ordered by descending score.
// Ties keep index iteration order (sorted by name). The limit applies
// to the merged list, not per index. One failing index aborts the
// whole call; an empty registry yields an empty result.
func (r *Registry) QueryAll(ctx context.Context, expr, collapseKey string, limit int) ([]Result, error) {
	r.mu.RLock()
	names := make([]string, 0, len(r.indices))
	for name := range r.indices {
		names = append(names, name)
	}
	sort.Strings(names)
	handles := make([]*engine.Index, len(names))
	for i, name := range names {
		handles[i] = r.indices[name]
	}
	r.mu.RUnlock()

	if len(handles) == 0 {
		return []Result{}, nil
	}

	perIndex := make([][]Result, len(handles))
	g, gctx := errgroup.WithContext(ctx)
	for i, idx := range handles {
		g.Go(func() error {
			hits, err := idx.Search(gctx, expr, collapseKey, limit)
			if err != nil {
				return newError(KindEngineFailure, names[i], err)
			}
			perIndex[i] = toResults(names[i], hits)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make([]Result, 0)
	for _, results := range perIndex {
		merged = append(merged, results...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// Replay rebuilds the registry from the location cache. Entries whose
// location is no longer openable are purged from the cache; any other
// per-entry failure is logged and skipped. Replay never fails startup
// apart from the cache itself being unreadable.
func (r *Registry) Replay() error {
	entries, err := r.cache.Entries()
	if err != nil {
		return newError(KindStorage, "", err)
	}

	// Sorted for reproducible replay; the order carries no meaning.
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		location := entries[name]
		err := r.Create(name, location)
		if err == nil {
			continue
		}
		if kind, ok := KindOf(err); ok && kind == KindInvalidLocation {
			r.log.Warn("purging stale cache entry",
				slog.String("index", name),
				slog.String("location", location))
			if rerr := r.cache.Remove(name); rerr != nil {
				r.log.Error("failed to purge stale cache entry",
					slog.String("index", name),
					slog.String("error", rerr.Error()))
			}
			continue
		}
		r.log.Error("skipping cache entry",
			slog.String("index", name),
			slog.String("error", err.Error()))
	}

	r.log.Info("replay complete", slog.Int("indices", r.Len()))
	return nil
}

// Close closes every open handle. Used on shutdown.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, idx := range r.indices {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.indices, name)
	}
	return firstErr
}

func toResults(name string, hits []engine.Hit) []Result {
	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = Result{
			Index:  name,
			ID:     h.ID,
			Score:  h.Score,
			Fields: h.Fields,
		}
	}
	return results
}
