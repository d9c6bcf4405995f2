package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/llmdocs/llmdoc/internal/app"
	"github.com/llmdocs/llmdoc/internal/refresh"
	"github.com/llmdocs/llmdoc/pkg/version"
)

// Default and boundary values for tool parameters.
const (
	defaultSearchLimit = 5
	maxSearchLimit     = 50

	defaultDocLimit = 50_000
	minDocLimit     = 1_000
	maxDocLimit     = 100_000

	defaultMaxChunks = 5
	maxMaxChunks     = 20

	defaultContextChars = 500
	maxContextChars     = 2_000
)

// sourcesResourceURI identifies the configured-sources resource.
const sourcesResourceURI = "doc://sources"

// Server bridges MCP clients with the documentation search application.
type Server struct {
	mcp       *mcp.Server
	app       *app.App
	refresher *refresh.Coordinator
	logger    *slog.Logger
}

// NewServer creates the MCP server and registers its tools and resources.
func NewServer(a *app.App, refresher *refresh.Coordinator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		app:       a,
		refresher: refresher,
		logger:    logger,
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "llmdoc",
			Version: version.Version,
		},
		nil,
	)

	s.registerTools()
	s.registerResources()

	return s
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// SearchDocsInput defines the input schema for the search_docs tool.
type SearchDocsInput struct {
	Query  string `json:"query" jsonschema:"the search query to find relevant documentation"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum number of results, 1-50, default 5"`
	Source string `json:"source,omitempty" jsonschema:"optional source name to filter results"`
}

// SearchResultItem is a single search result.
type SearchResultItem struct {
	Title     string  `json:"title"`
	Snippet   string  `json:"snippet"`
	URL       string  `json:"url"`
	Source    string  `json:"source"`
	SourceURL string  `json:"source_url"`
	Score     float64 `json:"score"`
}

// SearchDocsOutput defines the output schema for the search_docs tool.
type SearchDocsOutput struct {
	Results []SearchResultItem `json:"results" jsonschema:"list of search results"`
}

// GetDocInput defines the input schema for the get_doc tool.
type GetDocInput struct {
	URL    string `json:"url" jsonschema:"the URL of the document, as returned by search_docs"`
	Offset int    `json:"offset,omitempty" jsonschema:"start position in bytes for pagination, default 0"`
	Limit  int    `json:"limit,omitempty" jsonschema:"max bytes to return, 1000-100000, default 50000"`
}

// GetDocOutput is a paginated slice of document content.
type GetDocOutput struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	URL         string `json:"url"`
	Source      string `json:"source"`
	SourceURL   string `json:"source_url"`
	Offset      int    `json:"offset"`
	Length      int    `json:"length"`
	TotalLength int    `json:"total_length"`
	HasMore     bool   `json:"has_more"`
}

// GetDocExcerptInput defines the input schema for the get_doc_excerpt tool.
type GetDocExcerptInput struct {
	URL          string `json:"url" jsonschema:"the URL of the document"`
	Query        string `json:"query" jsonschema:"query to find relevant sections within the document"`
	MaxChunks    int    `json:"max_chunks,omitempty" jsonschema:"maximum excerpts to return, 1-20, default 5"`
	// Pointer so an explicit 0 (no expansion) is distinguishable from an
	// omitted parameter, which takes the default.
	ContextChars *int `json:"context_chars,omitempty" jsonschema:"extra context characters around each excerpt, 0-2000, default 500"`
}

// ExcerptItem is a single relevant window of a document.
type ExcerptItem struct {
	Content  string  `json:"content"`
	StartPos int     `json:"start_pos"`
	EndPos   int     `json:"end_pos"`
	Score    float64 `json:"score"`
}

// GetDocExcerptOutput is document metadata with relevant excerpts.
type GetDocExcerptOutput struct {
	Title       string        `json:"title"`
	URL         string        `json:"url"`
	Source      string        `json:"source"`
	SourceURL   string        `json:"source_url"`
	TotalLength int           `json:"total_length"`
	Excerpts    []ExcerptItem `json:"excerpts"`
}

// ListSourcesInput defines the (empty) input schema for list_sources.
type ListSourcesInput struct{}

// SourceInfoItem describes one configured source. LastUpdated is null when
// the source has no stored documents.
type SourceInfoItem struct {
	Name        string  `json:"name"`
	URL         string  `json:"url"`
	DocCount    int     `json:"doc_count"`
	LastUpdated *string `json:"last_updated"`
}

// ListSourcesOutput defines the output schema for list_sources.
type ListSourcesOutput struct {
	Sources []SourceInfoItem `json:"sources" jsonschema:"configured documentation sources"`
}

// RefreshSourcesInput defines the (empty) input schema for refresh_sources.
type RefreshSourcesInput struct{}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_docs",
		Description: "Search documentation across configured llms.txt sources and return relevant passages with source URLs. Uses BM25 ranking; optionally filter by source name.",
	}, s.handleSearchDocs)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_doc",
		Description: "Get document content with pagination support for large documents. Use offset/limit to page through content; has_more reports whether more remains.",
	}, s.handleGetDoc)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_doc_excerpt",
		Description: "Get relevant excerpts from a large document matching a query. Use this instead of get_doc when you only need specific sections.",
	}, s.handleGetDocExcerpt)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_sources",
		Description: "List all configured documentation sources with document counts and last update times. Source names can be used to filter search_docs results.",
	}, s.handleListSources)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "refresh_sources",
		Description: "Manually trigger a refresh of all documentation sources. Fetches every configured llms.txt URL and updates the local index.",
	}, s.handleRefreshSources)

	s.logger.Info("MCP tools registered", "count", 5)
}

func (s *Server) registerResources() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "sources",
			URI:         sourcesResourceURI,
			Description: "Configured documentation sources and refresh settings",
			MIMEType:    "application/json",
		},
		s.handleSourcesResource,
	)
}

func (s *Server) handleSearchDocs(ctx context.Context, _ *mcp.CallToolRequest, input SearchDocsInput) (
	*mcp.CallToolResult,
	SearchDocsOutput,
	error,
) {
	start := time.Now()
	requestID := generateRequestID()

	if input.Query == "" {
		return nil, SearchDocsOutput{}, NewInvalidParamsError("query parameter is required")
	}
	limit := clamp(input.Limit, defaultSearchLimit, 1, maxSearchLimit)

	s.logger.Info("search_docs started",
		slog.String("request_id", requestID),
		slog.String("query", input.Query),
		slog.Int("limit", limit))

	results := s.app.SearchDocs(input.Query, limit, input.Source)

	output := SearchDocsOutput{Results: make([]SearchResultItem, 0, len(results))}
	for _, r := range results {
		output.Results = append(output.Results, SearchResultItem{
			Title:     r.Title,
			Snippet:   r.Snippet,
			URL:       r.DocURL,
			Source:    r.SourceName,
			SourceURL: r.SourceURL,
			Score:     roundScore(r.Score),
		})
	}

	s.logger.Info("search_docs completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("result_count", len(output.Results)))

	return nil, output, nil
}

func (s *Server) handleGetDoc(ctx context.Context, _ *mcp.CallToolRequest, input GetDocInput) (
	*mcp.CallToolResult,
	GetDocOutput,
	error,
) {
	if input.URL == "" {
		return nil, GetDocOutput{}, NewInvalidParamsError("url parameter is required")
	}
	if input.Offset < 0 {
		return nil, GetDocOutput{}, NewInvalidParamsError("offset must be non-negative")
	}
	limit := clamp(input.Limit, defaultDocLimit, minDocLimit, maxDocLimit)

	page, err := s.app.GetDoc(input.URL, input.Offset, limit)
	if err != nil {
		return nil, GetDocOutput{}, MapError(err)
	}

	return nil, GetDocOutput{
		Title:       page.Title,
		Content:     page.Content,
		URL:         page.URL,
		Source:      page.Source,
		SourceURL:   page.SourceURL,
		Offset:      page.Offset,
		Length:      page.Length,
		TotalLength: page.TotalLength,
		HasMore:     page.HasMore,
	}, nil
}

func (s *Server) handleGetDocExcerpt(ctx context.Context, _ *mcp.CallToolRequest, input GetDocExcerptInput) (
	*mcp.CallToolResult,
	GetDocExcerptOutput,
	error,
) {
	if input.URL == "" {
		return nil, GetDocExcerptOutput{}, NewInvalidParamsError("url parameter is required")
	}
	if input.Query == "" {
		return nil, GetDocExcerptOutput{}, NewInvalidParamsError("query parameter is required")
	}
	maxChunks := clamp(input.MaxChunks, defaultMaxChunks, 1, maxMaxChunks)
	contextChars := resolveContextChars(input.ContextChars)

	excerpt, err := s.app.GetDocExcerpt(input.URL, input.Query, maxChunks, contextChars)
	if err != nil {
		return nil, GetDocExcerptOutput{}, MapError(err)
	}

	items := make([]ExcerptItem, 0, len(excerpt.Excerpts))
	for _, e := range excerpt.Excerpts {
		items = append(items, ExcerptItem{
			Content:  e.Content,
			StartPos: e.StartPos,
			EndPos:   e.EndPos,
			Score:    roundScore(e.Score),
		})
	}

	return nil, GetDocExcerptOutput{
		Title:       excerpt.Title,
		URL:         excerpt.URL,
		Source:      excerpt.Source,
		SourceURL:   excerpt.SourceURL,
		TotalLength: excerpt.TotalLength,
		Excerpts:    items,
	}, nil
}

func (s *Server) handleListSources(ctx context.Context, _ *mcp.CallToolRequest, _ ListSourcesInput) (
	*mcp.CallToolResult,
	ListSourcesOutput,
	error,
) {
	sources, err := s.app.ListSources()
	if err != nil {
		return nil, ListSourcesOutput{}, MapError(err)
	}

	output := ListSourcesOutput{Sources: make([]SourceInfoItem, 0, len(sources))}
	for _, src := range sources {
		item := SourceInfoItem{
			Name:     src.Name,
			URL:      src.URL,
			DocCount: src.DocCount,
		}
		if !src.LastUpdated.IsZero() {
			ts := src.LastUpdated.Format(time.RFC3339)
			item.LastUpdated = &ts
		}
		output.Sources = append(output.Sources, item)
	}
	return nil, output, nil
}

func (s *Server) handleRefreshSources(ctx context.Context, _ *mcp.CallToolRequest, _ RefreshSourcesInput) (
	*mcp.CallToolResult,
	*refresh.Result,
	error,
) {
	requestID := generateRequestID()
	s.logger.Info("manual refresh started", slog.String("request_id", requestID))

	result, err := s.refresher.Refresh(ctx)
	if err != nil {
		s.logger.Error("manual refresh failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		return nil, nil, MapError(err)
	}

	s.logger.Info("manual refresh completed",
		slog.String("request_id", requestID),
		slog.Int("refreshed", result.RefreshedCount),
		slog.Bool("skipped", result.Skipped))

	return nil, result, nil
}

func (s *Server) handleSourcesResource(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	cfg := s.app.Config()

	type sourceEntry struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	}
	payload := struct {
		Sources              []sourceEntry `json:"sources"`
		RefreshIntervalHours int           `json:"refresh_interval_hours"`
	}{
		Sources:              make([]sourceEntry, 0, len(cfg.Sources)),
		RefreshIntervalHours: cfg.RefreshIntervalHours,
	}
	for _, src := range cfg.Sources {
		payload.Sources = append(payload.Sources, sourceEntry{Name: src.Name, URL: src.URL})
	}

	content, err := json.Marshal(payload)
	if err != nil {
		return nil, MapError(err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      sourcesResourceURI,
				MIMEType: "application/json",
				Text:     string(content),
			},
		},
	}, nil
}

// Serve runs the server over stdio until the context is canceled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting MCP server", "transport", "stdio")

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped gracefully")
	return nil
}

// clamp applies the default when v is zero, then bounds the result.
func clamp(v, def, min, max int) int {
	if v == 0 {
		v = def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// resolveContextChars applies the context_chars default only when the
// parameter was omitted; an explicit 0 means no expansion. Out-of-range
// values clamp to [0, maxContextChars].
func resolveContextChars(v *int) int {
	if v == nil {
		return defaultContextChars
	}
	cc := *v
	if cc < 0 {
		return 0
	}
	if cc > maxContextChars {
		return maxContextChars
	}
	return cc
}

// roundScore rounds relevance scores to 4 decimal places for display.
func roundScore(score float64) float64 {
	return float64(int64(score*10000+0.5)) / 10000
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
