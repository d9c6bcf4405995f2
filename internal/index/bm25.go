package index

import "math"

// Okapi BM25 parameters. The epsilon floor replaces negative IDF values for
// terms that appear in more than half the corpus, keeping common-but-relevant
// terms from subtracting from the score.
const (
	bm25K1      = 1.5
	bm25B       = 0.75
	bm25Epsilon = 0.25
)

// bm25 scores token vectors against a query with Okapi BM25.
// It is built once per index rebuild and is read-only afterwards.
type bm25 struct {
	termFreqs []map[string]int
	docLens   []int
	avgdl     float64
	idf       map[string]float64
}

// newBM25 precomputes term frequencies and IDF values for the corpus.
func newBM25(corpus [][]string) *bm25 {
	b := &bm25{
		termFreqs: make([]map[string]int, len(corpus)),
		docLens:   make([]int, len(corpus)),
		idf:       make(map[string]float64),
	}

	docFreqs := make(map[string]int)
	totalLen := 0

	for i, doc := range corpus {
		freqs := make(map[string]int, len(doc))
		for _, tok := range doc {
			freqs[tok]++
		}
		b.termFreqs[i] = freqs
		b.docLens[i] = len(doc)
		totalLen += len(doc)

		for tok := range freqs {
			docFreqs[tok]++
		}
	}

	if len(corpus) > 0 {
		b.avgdl = float64(totalLen) / float64(len(corpus))
	}

	// IDF with epsilon floor: terms with negative IDF get epsilon times the
	// average IDF instead.
	n := float64(len(corpus))
	idfSum := 0.0
	var negative []string
	for tok, df := range docFreqs {
		idf := math.Log(n-float64(df)+0.5) - math.Log(float64(df)+0.5)
		b.idf[tok] = idf
		idfSum += idf
		if idf < 0 {
			negative = append(negative, tok)
		}
	}
	if len(docFreqs) > 0 {
		eps := bm25Epsilon * idfSum / float64(len(docFreqs))
		for _, tok := range negative {
			b.idf[tok] = eps
		}
	}

	return b
}

// score computes the BM25 score of document i against the query tokens.
func (b *bm25) score(i int, query []string) float64 {
	freqs := b.termFreqs[i]
	dl := float64(b.docLens[i])

	var score float64
	for _, tok := range query {
		f := float64(freqs[tok])
		if f == 0 {
			continue
		}
		idf, ok := b.idf[tok]
		if !ok {
			continue
		}
		score += idf * (f * (bm25K1 + 1)) / (f + bm25K1*(1-bm25B+bm25B*dl/b.avgdl))
	}
	return score
}

// scores computes BM25 scores for every document in the corpus.
func (b *bm25) scores(query []string) []float64 {
	out := make([]float64, len(b.termFreqs))
	for i := range b.termFreqs {
		out[i] = b.score(i, query)
	}
	return out
}
