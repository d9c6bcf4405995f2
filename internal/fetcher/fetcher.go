// Package fetcher retrieves llms.txt manifests and their linked documents,
// normalizing everything to markdown.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"golang.org/x/sync/semaphore"
)

// DefaultTimeout is the per-request HTTP timeout.
const DefaultTimeout = 30 * time.Second

// sniffLimit bounds how much of the body the HTML sniff inspects.
const sniffLimit = 4096

// linkPattern matches markdown inline links with an optional trailing
// ": description" up to end of line.
var linkPattern = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)(?:\s*:\s*(.+?))?(?:\n|$)`)

// titlePattern matches the first H1 heading in markdown.
var titlePattern = regexp.MustCompile(`(?m)^#\s+(.+)$`)

// htmlPattern is the body sniff for documents served without a usable
// content type.
var htmlPattern = regexp.MustCompile(`(?i)<(!DOCTYPE|html|head|body)`)

// DocLink is one entry parsed from an llms.txt manifest.
type DocLink struct {
	Title       string
	URL         string
	Description string
}

// FetchedDocument is a retrieved document, normalized to markdown.
// Title is empty when no H1 was found and no link title applied.
type FetchedDocument struct {
	URL     string
	Title   string
	Content string
}

// Fetcher downloads sources over HTTP. Document fetches share a semaphore
// bounding in-flight requests; manifest fetches are not gated.
type Fetcher struct {
	client *http.Client
	sem    *semaphore.Weighted
}

// New creates a Fetcher with the given per-request timeout and concurrency
// cap. Non-positive arguments fall back to defaults.
func New(timeout time.Duration, maxConcurrent int) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// FetchURL retrieves a URL body as a string. Redirects are followed;
// non-2xx responses are errors.
func (f *Fetcher) FetchURL(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(body), nil
}

// ParseLLMsTxt extracts document links from llms.txt content. Relative URLs
// are resolved against the manifest URL; manifest order is preserved.
func ParseLLMsTxt(content, baseURL string) []DocLink {
	base, baseErr := url.Parse(baseURL)

	var links []DocLink
	for _, m := range linkPattern.FindAllStringSubmatch(content, -1) {
		title := strings.TrimSpace(m[1])
		href := strings.TrimSpace(m[2])
		desc := strings.TrimSpace(m[3])

		absolute := href
		if baseErr == nil {
			if ref, err := url.Parse(href); err == nil {
				absolute = base.ResolveReference(ref).String()
			}
		}
		links = append(links, DocLink{Title: title, URL: absolute, Description: desc})
	}
	return links
}

// IsLLMsTxtURL reports whether the URL path names an llms.txt manifest.
func IsLLMsTxtURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(u.Path, "llms.txt")
}

func isPassthroughURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	return strings.HasSuffix(path, ".md") ||
		strings.HasSuffix(path, ".markdown") ||
		strings.HasSuffix(path, ".txt")
}

func looksLikeHTML(content string) bool {
	if len(content) > sniffLimit {
		content = content[:sniffLimit]
	}
	return htmlPattern.MatchString(content)
}

// extractTitle returns the first H1 heading of markdown content, or "".
func extractTitle(content string) string {
	m := titlePattern.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// convertHTML renders HTML as markdown. The domain is used to absolutize
// relative links in the output.
func convertHTML(html, rawURL string) (string, error) {
	var opts []converter.ConvertOptionFunc
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		opts = append(opts, converter.WithDomain(u.Scheme+"://"+u.Host))
	}
	return htmltomarkdown.ConvertString(html, opts...)
}

// FetchDocument retrieves one document and normalizes it to markdown.
// Normalization priority: URL suffix, then content type, then body sniff.
func (f *Fetcher) FetchDocument(ctx context.Context, rawURL string) (FetchedDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return FetchedDocument{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return FetchedDocument{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return FetchedDocument{}, fmt.Errorf("unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return FetchedDocument{}, fmt.Errorf("read body: %w", err)
	}

	content := string(body)
	contentType := resp.Header.Get("Content-Type")

	switch {
	case isPassthroughURL(rawURL):
	case strings.Contains(contentType, "text/markdown"):
	case strings.Contains(contentType, "text/html"):
		content, err = convertHTML(content, rawURL)
	case looksLikeHTML(content):
		content, err = convertHTML(content, rawURL)
	}
	if err != nil {
		return FetchedDocument{}, fmt.Errorf("convert html: %w", err)
	}

	return FetchedDocument{
		URL:     rawURL,
		Title:   extractTitle(content),
		Content: content,
	}, nil
}

// FetchLLMsTxt retrieves and parses a manifest.
func (f *Fetcher) FetchLLMsTxt(ctx context.Context, rawURL string) ([]DocLink, error) {
	content, err := f.FetchURL(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return ParseLLMsTxt(content, rawURL), nil
}

// FetchAllFromSource retrieves every document behind a source URL. Manifest
// URLs fan out to their linked documents, fetched concurrently under the
// semaphore; other URLs are fetched as a single document.
//
// Documents come back in manifest order with failed links absent. Each
// failed link contributes one error string; a manifest-level failure yields
// a single error and no documents.
func (f *Fetcher) FetchAllFromSource(ctx context.Context, sourceURL string) ([]FetchedDocument, []string) {
	if !IsLLMsTxtURL(sourceURL) {
		doc, err := f.FetchDocument(ctx, sourceURL)
		if err != nil {
			return nil, []string{fmt.Sprintf("Failed to fetch source %s: %v", sourceURL, err)}
		}
		return []FetchedDocument{doc}, nil
	}

	links, err := f.FetchLLMsTxt(ctx, sourceURL)
	if err != nil {
		return nil, []string{fmt.Sprintf("Failed to fetch source %s: %v", sourceURL, err)}
	}

	type outcome struct {
		doc FetchedDocument
		err error
	}
	outcomes := make([]outcome, len(links))

	var wg sync.WaitGroup
	for i, link := range links {
		wg.Add(1)
		go func(i int, link DocLink) {
			defer wg.Done()
			if err := f.sem.Acquire(ctx, 1); err != nil {
				outcomes[i].err = err
				return
			}
			defer f.sem.Release(1)
			outcomes[i].doc, outcomes[i].err = f.FetchDocument(ctx, link.URL)
		}(i, link)
	}
	wg.Wait()

	var documents []FetchedDocument
	var errors []string
	for i, link := range links {
		if outcomes[i].err != nil {
			errors = append(errors, fmt.Sprintf("Failed to fetch %s: %v", link.URL, outcomes[i].err))
			continue
		}
		doc := outcomes[i].doc
		if doc.Title == "" {
			doc.Title = link.Title
		}
		documents = append(documents, doc)
	}
	return documents, errors
}
