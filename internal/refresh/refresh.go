// Package refresh orchestrates the shadow-database refresh: fetch all
// sources unlocked, write to a temp copy of the database, atomically rename
// it over the primary, then rebuild the in-memory index.
//
// A non-blocking flock on <db>.lock serializes refresh across processes; an
// in-process mutex inside the App serializes the swap against readers.
package refresh

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/gofrs/flock"

	"github.com/llmdocs/llmdoc/internal/app"
	"github.com/llmdocs/llmdoc/internal/config"
	"github.com/llmdocs/llmdoc/internal/fetcher"
	"github.com/llmdocs/llmdoc/internal/store"
)

// SkipReasonLocked is the reason string reported when another instance
// holds the refresh lock.
const SkipReasonLocked = "Refresh locked by another instance"

// SourceStats summarizes one source's refresh outcome.
type SourceStats struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	DocCount int    `json:"doc_count"`
	Errors   int    `json:"errors"`
}

// Result reports a completed (or skipped) refresh.
type Result struct {
	RefreshedCount   int           `json:"refreshed_count"`
	IndexedDocuments int           `json:"indexed_documents"`
	IndexedChunks    int           `json:"indexed_chunks"`
	Sources          []SourceStats `json:"sources"`
	Errors           []string      `json:"errors,omitempty"`
	Skipped          bool          `json:"skipped,omitempty"`
	Reason           string        `json:"reason,omitempty"`
}

// Coordinator runs refreshes for an App.
type Coordinator struct {
	app    *app.App
	logger *slog.Logger
}

// New creates a Coordinator.
func New(a *app.App, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{app: a, logger: logger}
}

type sourceFetch struct {
	source    config.Source
	documents []fetcher.FetchedDocument
	errors    []string
}

// fetchAllSources runs the unlocked fetch phase over every configured
// source, accumulating per-source errors without aborting.
func (c *Coordinator) fetchAllSources(ctx context.Context) ([]sourceFetch, []string) {
	var fetched []sourceFetch
	var allErrors []string

	for _, source := range c.app.Config().Sources {
		c.logger.Info("fetching source", "name", source.Name, "url", source.URL)
		documents, errs := c.app.Fetcher().FetchAllFromSource(ctx, source.URL)
		fetched = append(fetched, sourceFetch{source: source, documents: documents, errors: errs})
		allErrors = append(allErrors, errs...)
	}
	return fetched, allErrors
}

// writeSource upserts one source's documents into the shadow store and
// reaps documents no longer present.
func (c *Coordinator) writeSource(writer *store.Store, sf sourceFetch) (int, []string) {
	var errors []string
	validURLs := make(map[string]struct{}, len(sf.documents))
	count := 0

	for _, doc := range sf.documents {
		if _, err := writer.UpsertDocument(sf.source.Name, sf.source.URL, doc.URL, doc.Title, doc.Content); err != nil {
			errors = append(errors, fmt.Sprintf("Failed to update store for %s: %v", sf.source.Name, err))
			continue
		}
		validURLs[doc.URL] = struct{}{}
		count++
	}

	deleted, err := writer.DeleteStaleDocuments(sf.source.Name, validURLs)
	if err != nil {
		errors = append(errors, fmt.Sprintf("Failed to update store for %s: %v", sf.source.Name, err))
	} else if deleted > 0 {
		c.logger.Info("removed stale documents", "source", sf.source.Name, "count", deleted)
	}

	return count, errors
}

// writeShadow copies the primary database to the shadow path, writes every
// source into it, regenerates chunk rows, and rebuilds the FTS index. The
// shadow file is removed on any failure.
func (c *Coordinator) writeShadow(fetched []sourceFetch) (totalDocs int, stats []SourceStats, errors []string, err error) {
	cfg := c.app.Config()
	shadowPath := cfg.TempDBPath()

	cleanup := func(e error) (int, []SourceStats, []string, error) {
		os.Remove(shadowPath)
		return 0, nil, nil, e
	}

	if _, statErr := os.Stat(cfg.DBPath); statErr == nil {
		if err := copyFile(cfg.DBPath, shadowPath); err != nil {
			return cleanup(fmt.Errorf("copy database to shadow: %w", err))
		}
	}

	writer, err := store.Open(shadowPath, false)
	if err != nil {
		return cleanup(fmt.Errorf("open shadow database: %w", err))
	}

	for _, sf := range fetched {
		count, writeErrs := c.writeSource(writer, sf)
		totalDocs += count
		errors = append(errors, writeErrs...)
		stats = append(stats, SourceStats{
			Name:     sf.source.Name,
			URL:      sf.source.URL,
			DocCount: len(sf.documents),
			Errors:   len(sf.errors),
		})
	}

	if err := c.rewriteChunks(writer); err != nil {
		writer.Close()
		return cleanup(err)
	}

	if cfg.EnableFTS {
		if err := writer.CreateFTSIndex(); err != nil {
			writer.Close()
			return cleanup(fmt.Errorf("build fts index: %w", err))
		}
	}

	if err := writer.Close(); err != nil {
		return cleanup(fmt.Errorf("close shadow database: %w", err))
	}
	return totalDocs, stats, errors, nil
}

// rewriteChunks regenerates all chunk rows from the documents now in the
// shadow store, keeping persisted positions aligned with the chunker.
func (c *Coordinator) rewriteChunks(writer *store.Store) error {
	docs, err := writer.GetAllDocuments()
	if err != nil {
		return fmt.Errorf("read shadow documents: %w", err)
	}

	var records []store.ChunkRecord
	for i := range docs {
		records = append(records, c.app.Index().GenerateChunksForDocument(&docs[i])...)
	}

	if err := writer.BulkStoreAllChunks(records); err != nil {
		return fmt.Errorf("store chunks: %w", err)
	}
	return nil
}

// Refresh runs one full refresh. When another instance holds the lock file
// it returns a skipped result with current index counts instead of an
// error. Per-source and per-link failures are accumulated in the result.
func (c *Coordinator) Refresh(ctx context.Context) (*Result, error) {
	cfg := c.app.Config()

	fetched, allErrors := c.fetchAllSources(ctx)

	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire refresh lock: %w", err)
	}
	if !locked {
		c.logger.Info("refresh skipped", "reason", SkipReasonLocked)
		return &Result{
			IndexedDocuments: c.app.Index().DocumentCount(),
			IndexedChunks:    c.app.Index().ChunkCount(),
			Skipped:          true,
			Reason:           SkipReasonLocked,
		}, nil
	}
	defer func() { _ = lock.Unlock() }()

	totalDocs, stats, writeErrors, err := c.writeShadow(fetched)
	if err != nil {
		return nil, err
	}
	allErrors = append(allErrors, writeErrors...)

	if err := c.app.SwapStore(cfg.TempDBPath()); err != nil {
		// The shadow file must not outlive a failed refresh.
		os.Remove(cfg.TempDBPath())
		return nil, err
	}

	if err := c.app.RebuildIndex(); err != nil {
		return nil, fmt.Errorf("rebuild index: %w", err)
	}

	c.logger.Info("refresh completed",
		"refreshed", totalDocs,
		"documents", c.app.Index().DocumentCount(),
		"chunks", c.app.Index().ChunkCount(),
		"errors", len(allErrors))

	return &Result{
		RefreshedCount:   totalDocs,
		IndexedDocuments: c.app.Index().DocumentCount(),
		IndexedChunks:    c.app.Index().ChunkCount(),
		Sources:          stats,
		Errors:           allErrors,
	}, nil
}

// StartupNeeded decides whether a refresh should run at startup: yes when
// the store has no sources at all, or when any configured source with
// stored data is older than the refresh interval. Configured sources with
// no stored row do not by themselves force a refresh.
func (c *Coordinator) StartupNeeded() (bool, error) {
	cfg := c.app.Config()
	if cfg.SkipStartupRefresh || len(cfg.Sources) == 0 {
		return false, nil
	}

	stats, err := c.app.GetSourceStats()
	if err != nil {
		return false, err
	}
	if len(stats) == 0 {
		c.logger.Info("no documents in database, startup refresh needed")
		return true, nil
	}

	byName := make(map[string]store.SourceStats, len(stats))
	for _, s := range stats {
		byName[s.Name] = s
	}

	threshold := time.Now().Add(-time.Duration(cfg.RefreshIntervalHours) * time.Hour)
	for _, source := range cfg.Sources {
		s, ok := byName[source.Name]
		if !ok || s.LastUpdated.IsZero() {
			c.logger.Info("source has no stored data", "name", source.Name)
			continue
		}
		if s.LastUpdated.Before(threshold) {
			c.logger.Info("source is stale",
				"name", source.Name,
				"last_updated", s.LastUpdated,
				"threshold", threshold)
			return true, nil
		}
	}
	return false, nil
}

// RunPeriodic refreshes on the configured interval until the context is
// canceled. Individual failures are logged and never stop the ticker.
func (c *Coordinator) RunPeriodic(ctx context.Context) {
	interval := time.Duration(c.app.Config().RefreshIntervalHours) * time.Hour
	c.logger.Info("periodic refresh enabled", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("periodic refresh stopped")
			return
		case <-ticker.C:
			c.logger.Info("starting scheduled refresh")
			result, err := c.Refresh(ctx)
			switch {
			case err != nil:
				c.logger.Error("scheduled refresh failed", "error", err)
			case result.Skipped:
				c.logger.Info("scheduled refresh skipped", "reason", result.Reason)
			default:
				c.logger.Info("scheduled refresh completed", "refreshed", result.RefreshedCount)
			}
		}
	}
}

// copyFile copies src to dst, truncating dst if it exists.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
