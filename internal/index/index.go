// Package index holds the in-memory chunked corpus and implements two-stage
// ranked search: FTS candidate generation from the store, then Okapi BM25
// reranking over the in-memory token vectors.
package index

import (
	"sort"
	"sync"

	"github.com/llmdocs/llmdoc/internal/chunker"
	"github.com/llmdocs/llmdoc/internal/store"
)

// FTSCandidateLimit caps the number of chunk ids requested from the FTS
// stage per query.
const FTSCandidateLimit = 100

// snippetLength is the maximum snippet size in runes.
const snippetLength = 200

// CandidateStore is the slice of the document store the index needs for the
// FTS candidate stage and for chunk id synchronization.
type CandidateStore interface {
	GetFTSCandidates(query string, limit int) ([]int64, error)
	GetAllChunks() ([]store.StoredChunk, error)
}

// DocumentChunk is an indexed chunk with its document metadata. ID is the
// persisted chunk id once synced from the store, zero before that.
type DocumentChunk struct {
	ID         int64
	DocID      int64
	DocURL     string
	SourceName string
	SourceURL  string
	Title      string
	Content    string
	StartPos   int
	EndPos     int
}

// SearchResult is one ranked search hit. At most one result per document.
type SearchResult struct {
	DocURL     string
	SourceName string
	SourceURL  string
	Title      string
	Snippet    string
	Score      float64
}

// Index is the in-memory search index. Build and search are guarded by a
// read-write mutex; readers hold the corpus reference they obtained at call
// start.
type Index struct {
	mu sync.RWMutex

	chunker    *chunker.Chunker
	store      CandidateStore
	enableFTS  bool
	chunks     []DocumentChunk
	bm25       *bm25
	chunkIDMap map[int64]int
}

// New creates an empty index. The store may be nil, in which case the FTS
// stage is skipped and every query reranks the full corpus.
func New(ch *chunker.Chunker, st CandidateStore, enableFTS bool) *Index {
	if ch == nil {
		ch = chunker.New(chunker.DefaultChunkSize, chunker.DefaultChunkOverlap)
	}
	return &Index{
		chunker:    ch,
		store:      st,
		enableFTS:  enableFTS,
		chunkIDMap: make(map[int64]int),
	}
}

// SetStore replaces the candidate store, used after the refresh coordinator
// swaps the database handle.
func (idx *Index) SetStore(st CandidateStore) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.store = st
}

// BuildIndex recomputes chunks and BM25 tables from the given documents.
// The swap to the new corpus is atomic from a reader's perspective.
func (idx *Index) BuildIndex(documents []store.Document) {
	var chunks []DocumentChunk
	for i := range documents {
		chunks = append(chunks, idx.chunkDocument(&documents[i])...)
	}

	var scorer *bm25
	if len(chunks) > 0 {
		corpus := make([][]string, len(chunks))
		for i, c := range chunks {
			corpus[i] = store.Tokenize(c.Content)
		}
		scorer = newBM25(corpus)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.chunks = chunks
	idx.bm25 = scorer
	idx.chunkIDMap = make(map[int64]int)
}

func (idx *Index) chunkDocument(doc *store.Document) []DocumentChunk {
	raw := idx.chunker.Split(doc.Content)
	out := make([]DocumentChunk, 0, len(raw))
	for _, c := range raw {
		out = append(out, DocumentChunk{
			DocID:      doc.ID,
			DocURL:     doc.DocURL,
			SourceName: doc.SourceName,
			SourceURL:  doc.SourceURL,
			Title:      doc.Title,
			Content:    c.Content,
			StartPos:   c.StartPos,
			EndPos:     c.EndPos,
		})
	}
	return out
}

// GenerateChunksForDocument produces the chunk records to persist for one
// document during a refresh. Must stay consistent with BuildIndex so that
// SyncChunkIDsFromStore can join positions afterwards.
func (idx *Index) GenerateChunksForDocument(doc *store.Document) []store.ChunkRecord {
	raw := idx.chunker.Split(doc.Content)
	out := make([]store.ChunkRecord, 0, len(raw))
	for _, c := range raw {
		out = append(out, store.ChunkRecord{
			DocID:    doc.ID,
			Content:  c.Content,
			StartPos: c.StartPos,
			EndPos:   c.EndPos,
		})
	}
	return out
}

// SyncChunkIDsFromStore joins persisted chunks onto in-memory chunks by
// (doc_url, start_pos, end_pos) and backfills ids, enabling the FTS stage.
func (idx *Index) SyncChunkIDsFromStore() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.store == nil {
		return nil
	}

	stored, err := idx.store.GetAllChunks()
	if err != nil {
		return err
	}

	type key struct {
		docURL     string
		start, end int
	}
	lookup := make(map[key]int, len(idx.chunks))
	for i, c := range idx.chunks {
		lookup[key{c.DocURL, c.StartPos, c.EndPos}] = i
	}

	idx.chunkIDMap = make(map[int64]int)
	for _, sc := range stored {
		k := key{sc.Document.DocURL, sc.Chunk.StartPos, sc.Chunk.EndPos}
		if i, ok := lookup[k]; ok {
			idx.chunks[i].ID = sc.Chunk.ID
			idx.chunkIDMap[sc.Chunk.ID] = i
		}
	}
	return nil
}

// Search runs two-stage retrieval: FTS candidates (when available) reranked
// by BM25, deduplicated to one result per document, capped at limit.
// An empty or all-stopword query returns no results.
func (idx *Index) Search(query string, limit int, sourceFilter string) []SearchResult {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.bm25 == nil || len(idx.chunks) == 0 {
		return nil
	}

	queryTokens := store.Tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}

	var candidates []int
	if idx.enableFTS && idx.store != nil && len(idx.chunkIDMap) > 0 {
		ids, err := idx.store.GetFTSCandidates(query, FTSCandidateLimit)
		if err == nil {
			for _, id := range ids {
				if pos, ok := idx.chunkIDMap[id]; ok {
					candidates = append(candidates, pos)
				}
			}
		}
	}
	if len(candidates) == 0 {
		candidates = make([]int, len(idx.chunks))
		for i := range idx.chunks {
			candidates[i] = i
		}
	}

	scores := idx.bm25.scores(queryTokens)

	type scored struct {
		pos   int
		score float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, pos := range candidates {
		if scores[pos] > 0 {
			ranked = append(ranked, scored{pos, scores[pos]})
		}
	}

	// Stable sort: equal scores keep insertion order.
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	seen := make(map[string]struct{})
	var results []SearchResult
	for _, r := range ranked {
		chunk := idx.chunks[r.pos]
		if sourceFilter != "" && chunk.SourceName != sourceFilter {
			continue
		}
		if _, dup := seen[chunk.DocURL]; dup {
			continue
		}
		seen[chunk.DocURL] = struct{}{}

		results = append(results, SearchResult{
			DocURL:     chunk.DocURL,
			SourceName: chunk.SourceName,
			SourceURL:  chunk.SourceURL,
			Title:      chunk.Title,
			Snippet:    makeSnippet(chunk.Content),
			Score:      r.score,
		})
		if len(results) >= limit {
			break
		}
	}
	return results
}

// ScoredChunk pairs a chunk with its BM25 score for within-document search.
type ScoredChunk struct {
	Chunk DocumentChunk
	Score float64
}

// SearchWithinDocument reranks only the chunks of one document and returns
// the top k with strictly positive scores, best first.
func (idx *Index) SearchWithinDocument(docURL, query string, topK int) []ScoredChunk {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.bm25 == nil || len(idx.chunks) == 0 {
		return nil
	}

	queryTokens := store.Tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}

	var positions []int
	for i, c := range idx.chunks {
		if c.DocURL == docURL {
			positions = append(positions, i)
		}
	}
	if len(positions) == 0 {
		return nil
	}

	scores := idx.bm25.scores(queryTokens)

	ranked := make([]ScoredChunk, 0, len(positions))
	for _, pos := range positions {
		ranked = append(ranked, ScoredChunk{Chunk: idx.chunks[pos], Score: scores[pos]})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	out := ranked[:0]
	for _, r := range ranked {
		if r.Score > 0 {
			out = append(out, r)
		}
	}
	return out
}

// DocumentCount returns the number of distinct indexed documents.
func (idx *Index) DocumentCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, c := range idx.chunks {
		seen[c.DocURL] = struct{}{}
	}
	return len(seen)
}

// ChunkCount returns the number of indexed chunks.
func (idx *Index) ChunkCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.chunks)
}

// makeSnippet truncates chunk content to the snippet length, appending an
// ellipsis when cut. Counts runes, not grapheme clusters; see DESIGN.md.
func makeSnippet(content string) string {
	runes := []rune(content)
	if len(runes) <= snippetLength {
		return content
	}
	return string(runes[:snippetLength]) + "..."
}
