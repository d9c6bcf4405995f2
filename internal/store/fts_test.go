package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedChunks(t *testing.T, s *Store) {
	t.Helper()

	doc, err := s.UpsertDocument("demo", "https://host.test/llms.txt", "https://host.test/a.md", "Alpha",
		"Caching improves latency. Gateways route traffic. Caching again.")
	require.NoError(t, err)

	require.NoError(t, s.BulkStoreAllChunks([]ChunkRecord{
		{DocID: doc.ID, Content: "Caching improves latency. Caching again.", StartPos: 0, EndPos: 40},
		{DocID: doc.ID, Content: "Gateways route traffic.", StartPos: 41, EndPos: 64},
		{DocID: doc.ID, Content: "Caching appears once here.", StartPos: 65, EndPos: 91},
	}))
}

func TestHasFTSIndex(t *testing.T) {
	s := openTestStore(t)

	has, err := s.HasFTSIndex()
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, s.CreateFTSIndex())

	has, err = s.HasFTSIndex()
	require.NoError(t, err)
	assert.True(t, has)
}

func TestGetFTSCandidates_RanksByRelevance(t *testing.T) {
	s := openTestStore(t)
	seedChunks(t, s)
	require.NoError(t, s.CreateFTSIndex())

	ids, err := s.GetFTSCandidates("caching", 10)
	require.NoError(t, err)

	// Both caching chunks match; the one with two occurrences ranks first.
	require.Len(t, ids, 2)
	assert.Equal(t, int64(1), ids[0])
	assert.Equal(t, int64(3), ids[1])
}

func TestGetFTSCandidates_RespectsLimit(t *testing.T) {
	s := openTestStore(t)
	seedChunks(t, s)
	require.NoError(t, s.CreateFTSIndex())

	ids, err := s.GetFTSCandidates("caching", 1)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestGetFTSCandidates_StemmedMatch(t *testing.T) {
	s := openTestStore(t)
	seedChunks(t, s)
	require.NoError(t, s.CreateFTSIndex())

	// Porter stemming folds "gateway" and "gateways" together.
	ids, err := s.GetFTSCandidates("gateway", 10)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, int64(2), ids[0])
}

func TestGetFTSCandidates_StopwordOnlyQuery(t *testing.T) {
	s := openTestStore(t)
	seedChunks(t, s)
	require.NoError(t, s.CreateFTSIndex())

	ids, err := s.GetFTSCandidates("the of and", 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestGetFTSCandidates_WithoutIndex(t *testing.T) {
	s := openTestStore(t)
	seedChunks(t, s)

	ids, err := s.GetFTSCandidates("caching", 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCreateFTSIndex_Rebuild(t *testing.T) {
	s := openTestStore(t)
	seedChunks(t, s)
	require.NoError(t, s.CreateFTSIndex())

	// Replacing the chunks and rebuilding drops the old rows.
	doc, err := s.GetDocumentByURL("https://host.test/a.md")
	require.NoError(t, err)
	require.NoError(t, s.BulkStoreAllChunks([]ChunkRecord{
		{DocID: doc.ID, Content: "Entirely new wording now.", StartPos: 0, EndPos: 25},
	}))
	require.NoError(t, s.CreateFTSIndex())

	ids, err := s.GetFTSCandidates("caching", 10)
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = s.GetFTSCandidates("wording", 10)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}
