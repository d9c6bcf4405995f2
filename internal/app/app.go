// Package app wires the store, index, and fetcher together and owns the
// swap-safe store cell that the refresh coordinator replaces.
package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/llmdocs/llmdoc/internal/chunker"
	"github.com/llmdocs/llmdoc/internal/config"
	"github.com/llmdocs/llmdoc/internal/fetcher"
	"github.com/llmdocs/llmdoc/internal/index"
	"github.com/llmdocs/llmdoc/internal/store"
)

// Tool-level failures surfaced to the RPC layer.
var (
	// ErrNotFound indicates the requested document URL is not stored.
	ErrNotFound = errors.New("document not found")

	// ErrNoMatch indicates an excerpt query matched no chunks.
	ErrNoMatch = errors.New("no relevant excerpts found")
)

// docCacheSize bounds the hot-document cache. Entries are evicted LRU and
// the whole cache is purged on every store swap.
const docCacheSize = 128

// App holds the application state: configuration, the current read-only
// store handle, the in-memory index, and the fetcher.
//
// The store cell is guarded by a mutex so that the refresh coordinator can
// close and replace the handle during the atomic swap without a reader
// observing a closed connection. Readers take the mutex in shared mode for
// the duration of one store call.
type App struct {
	cfg     *config.Config
	fetcher *fetcher.Fetcher
	index   *index.Index
	logger  *slog.Logger

	mu       sync.RWMutex
	store    *store.Store
	docCache *lru.Cache[string, *store.Document]
}

// New initializes the application: creates the database if missing, builds
// the FTS index when enabled but absent, opens the read-only handle, and
// builds the in-memory index from stored documents.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := os.Stat(cfg.DBPath); os.IsNotExist(err) {
		init, err := store.Open(cfg.DBPath, false)
		if err != nil {
			return nil, fmt.Errorf("initialize database: %w", err)
		}
		if err := init.Close(); err != nil {
			return nil, fmt.Errorf("initialize database: %w", err)
		}
	}

	st, err := store.Open(cfg.DBPath, true)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.EnableFTS {
		hasFTS, err := st.HasFTSIndex()
		if err != nil {
			st.Close()
			return nil, err
		}
		if !hasFTS {
			st.Close()
			writer, err := store.Open(cfg.DBPath, false)
			if err != nil {
				return nil, fmt.Errorf("open database for fts build: %w", err)
			}
			if err := writer.CreateFTSIndex(); err != nil {
				writer.Close()
				return nil, fmt.Errorf("build fts index: %w", err)
			}
			if err := writer.Close(); err != nil {
				return nil, err
			}
			st, err = store.Open(cfg.DBPath, true)
			if err != nil {
				return nil, fmt.Errorf("reopen database: %w", err)
			}
		}
	}

	cache, err := lru.New[string, *store.Document](docCacheSize)
	if err != nil {
		st.Close()
		return nil, err
	}

	ch := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	idx := index.New(ch, st, cfg.EnableFTS)

	a := &App{
		cfg:      cfg,
		fetcher:  fetcher.New(fetcher.DefaultTimeout, cfg.MaxConcurrentFetches),
		index:    idx,
		logger:   logger,
		store:    st,
		docCache: cache,
	}

	if err := a.RebuildIndex(); err != nil {
		st.Close()
		return nil, fmt.Errorf("build index: %w", err)
	}

	logger.Info("app initialized",
		"db_path", cfg.DBPath,
		"sources", len(cfg.Sources),
		"documents", idx.DocumentCount(),
		"chunks", idx.ChunkCount())

	return a, nil
}

// Config returns the application configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Fetcher returns the shared document fetcher.
func (a *App) Fetcher() *fetcher.Fetcher { return a.fetcher }

// Index returns the in-memory search index.
func (a *App) Index() *index.Index { return a.index }

// GetDocument looks up a document by URL, serving repeated lookups from the
// LRU cache. A nil document with nil error means not found.
func (a *App) GetDocument(docURL string) (*store.Document, error) {
	if doc, ok := a.docCache.Get(docURL); ok {
		return doc, nil
	}

	a.mu.RLock()
	doc, err := a.store.GetDocumentByURL(docURL)
	a.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if doc != nil {
		a.docCache.Add(docURL, doc)
	}
	return doc, nil
}

// GetAllDocuments reads every stored document under the swap mutex.
func (a *App) GetAllDocuments() ([]store.Document, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.store.GetAllDocuments()
}

// GetSourceStats reads per-source statistics under the swap mutex.
func (a *App) GetSourceStats() ([]store.SourceStats, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.store.GetSourceStats()
}

// SwapStore atomically replaces the primary database with the shadow file
// and switches the read-only handle over to it. Readers are blocked only
// for the rename and reopen. The old handle is not closed until the
// replacement is open, so a failed rename or reopen leaves readers on the
// pre-swap snapshot.
func (a *App) SwapStore(shadowPath string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.Rename(shadowPath, a.cfg.DBPath); err != nil {
		return fmt.Errorf("swap database: %w", err)
	}

	st, err := store.Open(a.cfg.DBPath, true)
	if err != nil {
		// The old handle still reads the pre-swap inode.
		return fmt.Errorf("reopen store after swap: %w", err)
	}

	old := a.store
	a.store = st
	a.index.SetStore(st)
	a.docCache.Purge()

	if err := old.Close(); err != nil {
		a.logger.Warn("closing replaced store handle", "error", err)
	}
	return nil
}

// RebuildIndex recomputes the in-memory index from the current store and
// backfills persisted chunk ids.
func (a *App) RebuildIndex() error {
	docs, err := a.GetAllDocuments()
	if err != nil {
		return err
	}
	a.index.BuildIndex(docs)
	if err := a.index.SyncChunkIDsFromStore(); err != nil {
		return err
	}
	return nil
}

// SourceInfo is one configured source joined with its stored statistics.
// LastUpdated is zero for sources with no stored documents.
type SourceInfo struct {
	Name        string
	URL         string
	DocCount    int
	LastUpdated time.Time
}

// ListSources joins configured sources with store statistics. Sources with
// no stored documents report a zero count.
func (a *App) ListSources() ([]SourceInfo, error) {
	stats, err := a.GetSourceStats()
	if err != nil {
		return nil, err
	}

	byName := make(map[string]store.SourceStats, len(stats))
	for _, s := range stats {
		byName[s.Name] = s
	}

	out := make([]SourceInfo, 0, len(a.cfg.Sources))
	for _, src := range a.cfg.Sources {
		info := SourceInfo{Name: src.Name, URL: src.URL}
		if s, ok := byName[src.Name]; ok {
			info.DocCount = s.DocCount
			info.LastUpdated = s.LastUpdated
		}
		out = append(out, info)
	}
	return out, nil
}

// DocumentPage is a paginated slice of a document's content. Offsets and
// lengths are in bytes.
type DocumentPage struct {
	Title       string
	Content     string
	URL         string
	Source      string
	SourceURL   string
	Offset      int
	Length      int
	TotalLength int
	HasMore     bool
}

// GetDoc returns a byte slice of a document's content with pagination
// metadata. Returns ErrNotFound when the URL is not stored.
func (a *App) GetDoc(docURL string, offset, limit int) (*DocumentPage, error) {
	doc, err := a.GetDocument(docURL)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, docURL)
	}

	total := len(doc.Content)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	page := doc.Content[offset:end]

	return &DocumentPage{
		Title:       titleOrUntitled(doc.Title),
		Content:     page,
		URL:         doc.DocURL,
		Source:      doc.SourceName,
		SourceURL:   doc.SourceURL,
		Offset:      offset,
		Length:      len(page),
		TotalLength: total,
		HasMore:     offset+len(page) < total,
	}, nil
}

// Excerpt is one relevant window of a document. Positions are rune offsets.
type Excerpt struct {
	Content  string
	StartPos int
	EndPos   int
	Score    float64
}

// DocumentExcerpt is the set of excerpts matching a query within one
// document, in relevance order.
type DocumentExcerpt struct {
	Title       string
	URL         string
	Source      string
	SourceURL   string
	TotalLength int
	Excerpts    []Excerpt
}

// GetDocExcerpt finds the most relevant chunks of a document for a query
// and expands each by contextChars on both sides, clamped to the content.
// Returns ErrNotFound for an unknown URL and ErrNoMatch when no chunk
// scores positively.
func (a *App) GetDocExcerpt(docURL, query string, maxChunks, contextChars int) (*DocumentExcerpt, error) {
	doc, err := a.GetDocument(docURL)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, docURL)
	}

	matches := a.index.SearchWithinDocument(docURL, query, maxChunks)
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w for query: %s", ErrNoMatch, query)
	}

	content := []rune(doc.Content)
	excerpts := make([]Excerpt, 0, len(matches))
	for _, m := range matches {
		start := m.Chunk.StartPos - contextChars
		if start < 0 {
			start = 0
		}
		end := m.Chunk.StartPos + len([]rune(m.Chunk.Content)) + contextChars
		if end > len(content) {
			end = len(content)
		}
		excerpts = append(excerpts, Excerpt{
			Content:  string(content[start:end]),
			StartPos: start,
			EndPos:   end,
			Score:    m.Score,
		})
	}

	return &DocumentExcerpt{
		Title:       titleOrUntitled(doc.Title),
		URL:         doc.DocURL,
		Source:      doc.SourceName,
		SourceURL:   doc.SourceURL,
		TotalLength: len(content),
		Excerpts:    excerpts,
	}, nil
}

// SearchDocs runs the two-stage search. Results with no stored title report
// "Untitled".
func (a *App) SearchDocs(query string, limit int, source string) []index.SearchResult {
	results := a.index.Search(query, limit, source)
	for i := range results {
		results[i].Title = titleOrUntitled(results[i].Title)
	}
	return results
}

// Close releases the store handle.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store.Close()
}

func titleOrUntitled(title string) string {
	if title == "" {
		return "Untitled"
	}
	return title
}
