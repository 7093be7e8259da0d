// Package bm25 tokenises chunks into Unicode word-boundary terms and
// scores them with BM25, producing the sparse representation the vector
// store upserts alongside each dense embedding.
package bm25

import (
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// defaultStopwords is a small hand-curated English stop-word set,
// standing in for the original's NLTK-backed corpus (out of scope per
// spec.md §1 — "NLTK data download mechanics").
var defaultStopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "he": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "of": {}, "on": {}, "that": {}, "the": {}, "to": {},
	"was": {}, "were": {}, "will": {}, "with": {}, "this": {}, "but": {},
	"or": {}, "not": {}, "can": {}, "we": {}, "you": {}, "i": {}, "they": {},
}

// Tokenize splits text into lowercase Unicode word terms, NFC-normalised,
// at letter/digit boundaries. Stop words are kept unless the caller
// filters them with FilterStopwords.
func Tokenize(text string) []string {
	text = norm.NFC.String(text)
	var terms []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			terms = append(terms, strings.ToLower(b.String()))
			b.Reset()
		}
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return terms
}

// FilterStopwords removes entries in defaultStopwords from terms.
func FilterStopwords(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, stop := defaultStopwords[t]; !stop {
			out = append(out, t)
		}
	}
	return out
}

// IsStopword reports whether term is in the default stop-word set.
func IsStopword(term string) bool {
	_, ok := defaultStopwords[term]
	return ok
}

// Corpus accumulates document-frequency statistics across a collection's
// inserted chunks, needed to weight BM25 terms consistently as more
// documents are added.
type Corpus struct {
	k1, b float64

	docCount   int
	avgDocLen  float64
	totalTerms int
	df         map[string]int
}

const (
	defaultK1 = 1.5
	defaultB  = 0.75
)

func NewCorpus() *Corpus {
	return &Corpus{k1: defaultK1, b: defaultB, df: make(map[string]int)}
}

// Observe folds one document's terms into the corpus statistics. Call it
// once per chunk at insert time, before Encode.
func (c *Corpus) Observe(terms []string) {
	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		seen[t] = struct{}{}
	}
	for t := range seen {
		c.df[t]++
	}
	c.docCount++
	c.totalTerms += len(terms)
	c.avgDocLen = float64(c.totalTerms) / float64(c.docCount)
}

// Encode produces the BM25 sparse weight vector for one document's terms
// against the corpus's current statistics. Call Observe first so the
// document itself contributes to its own idf/avgDocLen — matching the
// original's "fit-then-encode" corpus-level BM25EmbeddingFunction.
func (c *Corpus) Encode(terms []string) map[string]float64 {
	tf := make(map[string]int, len(terms))
	for _, t := range terms {
		tf[t]++
	}

	docLen := float64(len(terms))
	weights := make(map[string]float64, len(tf))
	for term, freq := range tf {
		idf := c.idf(term)
		num := float64(freq) * (c.k1 + 1)
		den := float64(freq) + c.k1*(1-c.b+c.b*(docLen/c.avgDocLenOrOne()))
		weights[term] = idf * (num / den)
	}
	return weights
}

// QueryWeights scores a query's terms the same way Encode scores a
// document, for sparse (BM25) search.
func (c *Corpus) QueryWeights(terms []string) map[string]float64 {
	return c.Encode(terms)
}

func (c *Corpus) idf(term string) float64 {
	df := c.df[term]
	if df == 0 {
		df = 1
	}
	n := float64(c.docCount)
	if n == 0 {
		n = 1
	}
	// Classic Robertson/Spärck Jones BM25 idf with a +1 floor so common
	// terms keep a small positive weight instead of going negative.
	return math.Log((n-float64(df)+0.5)/(float64(df)+0.5) + 1)
}

func (c *Corpus) avgDocLenOrOne() float64 {
	if c.avgDocLen == 0 {
		return 1
	}
	return c.avgDocLen
}
