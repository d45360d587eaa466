// Package engine wraps Bleve v2 behind the small surface the rest of
// searchd needs: open an index at a location, search it with a query
// expression, collapse duplicates on a field, and close it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

// ErrNoIndex is returned by Open when no openable index exists at the
// requested location.
var ErrNoIndex = errors.New("no index at location")

// collapseOverFetch is the multiplier applied to the requested limit
// when a collapse field is set, so that suppressing duplicates still
// leaves enough distinct hits to fill the response.
const collapseOverFetch = 10

// Document is a single unit of indexable content.
type Document struct {
	ID     string
	Fields map[string]interface{}
}

// Hit is one scored search result.
type Hit struct {
	ID     string
	Score  float64
	Fields map[string]interface{}
}

// Index is an open handle to one named Bleve index on disk.
type Index struct {
	mu       sync.RWMutex
	idx      bleve.Index
	name     string
	location string
	closed   bool
}

// Open opens an existing index at location. It never creates one: a
// missing directory or missing index metadata yields ErrNoIndex.
func Open(name, location string) (*Index, error) {
	if _, err := os.Stat(location); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoIndex, location)
		}
		return nil, fmt.Errorf("stat %s: %w", location, err)
	}

	idx, err := bleve.Open(location)
	if err == bleve.ErrorIndexPathDoesNotExist || err == bleve.ErrorIndexMetaMissing {
		return nil, fmt.Errorf("%w: %s", ErrNoIndex, location)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open index at %s: %w", location, err)
	}

	return &Index{idx: idx, name: name, location: location}, nil
}

// Create builds a new empty index at location and returns an open
// handle to it. Used by the offline ingestion command and by tests;
// the HTTP control plane only ever opens existing indices.
func Create(name, location string) (*Index, error) {
	idx, err := bleve.New(location, buildMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create index at %s: %w", location, err)
	}
	return &Index{idx: idx, name: name, location: location}, nil
}

// buildMapping returns the index mapping used for new indices. The
// default dynamic mapping stores field values, which Search relies on
// for collapse keys and result fields.
func buildMapping() *mapping.IndexMappingImpl {
	return bleve.NewIndexMapping()
}

// Name returns the registry name this handle was opened under.
func (i *Index) Name() string { return i.name }

// Location returns the on-disk location of the index.
func (i *Index) Location() string { return i.location }

// Index adds documents to the index in a single batch.
func (i *Index) Index(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return fmt.Errorf("index %s is closed", i.name)
	}

	batch := i.idx.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, doc.Fields); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
	}

	if err := i.idx.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}

	return nil
}

// Search runs a query-string expression against the index and returns
// up to limit hits ordered by descending score. When collapseKey is
// non-empty, hits sharing the same value for that field are collapsed
// to the highest-scoring one before the limit is applied. Collapse is
// local to this index.
func (i *Index) Search(ctx context.Context, expr, collapseKey string, limit int) ([]Hit, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.closed {
		return nil, fmt.Errorf("index %s is closed", i.name)
	}

	if strings.TrimSpace(expr) == "" || limit <= 0 {
		return []Hit{}, nil
	}

	query := bleve.NewQueryStringQuery(expr)
	req := bleve.NewSearchRequest(query)
	req.Fields = []string{"*"}
	req.Size = limit
	if collapseKey != "" {
		req.Size = limit * collapseOverFetch
	}

	res, err := i.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	seen := make(map[string]struct{})
	for _, h := range res.Hits {
		if collapseKey != "" {
			if v, ok := h.Fields[collapseKey]; ok {
				key := fmt.Sprintf("%v", v)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
			}
		}
		hits = append(hits, Hit{ID: h.ID, Score: h.Score, Fields: h.Fields})
		if len(hits) == limit {
			break
		}
	}

	return hits, nil
}

// DocCount returns the number of documents in the index.
func (i *Index) DocCount() (uint64, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.closed {
		return 0, fmt.Errorf("index %s is closed", i.name)
	}
	return i.idx.DocCount()
}

// Close releases the underlying Bleve index. Safe to call twice.
func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil
	}
	i.closed = true
	return i.idx.Close()
}
