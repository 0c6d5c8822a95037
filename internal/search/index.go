// Package search ranks catalog listings against a free-text query. It backs
// the optional `q` filter of GET /listings.
//
// Each listing contributes three fields with different weights (title,
// category, summary). Text is lowercased, folded to unaccented letters and
// split on anything that is not a letter or digit. A listing scores
//
//	score = Σ weight(t) over query tokens t found in the listing / (|Q| · TitleWeight)
//
// so a listing whose title contains every query token scores 1. The final
// query token also matches as a prefix (typeahead) at half weight. An Index
// is immutable after construction and safe for concurrent use.
package search

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Field weights.
const (
	TitleWeight    = 3.0
	CategoryWeight = 2.0
	SummaryWeight  = 1.0

	// minPrefixRunes is the shortest final token matched as a prefix.
	minPrefixRunes = 3
)

// Document is one listing as seen by the index.
type Document struct {
	ID       string
	Title    string
	Summary  string
	Category string
}

// Result is a ranked document ID with its score in (0, 1].
type Result struct {
	ID    string
	Score float64
}

// Index ranks documents for a query.
type Index interface {
	TopK(query string, k int) []Result
}

type Option func(*config)

type config struct {
	stopwords map[string]struct{}
	maxDocs   int
}

// WithStopwords drops the given words from both documents and queries.
func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = fold(strings.TrimSpace(w))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		if len(m) > 0 {
			c.stopwords = m
		}
	}
}

// WithMaxDocs caps the number of indexed documents.
func WithMaxDocs(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxDocs = n
		}
	}
}

// DefaultStopwords are words nearly every listing shares.
var DefaultStopwords = []string{"a", "an", "and", "api", "for", "of", "the", "to", "with"}

type doc struct {
	id      string
	weights map[string]float64 // token -> best field weight
	runes   int
}

type index struct {
	cfg  config
	docs []doc
}

// NewIndex builds an Index. Documents without any token are skipped.
func NewIndex(docs []Document, opts ...Option) Index {
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}
	out := make([]doc, 0, len(docs))
	for _, d := range docs {
		w := make(map[string]float64)
		addField(w, d.Summary, SummaryWeight, cfg.stopwords)
		addField(w, d.Category, CategoryWeight, cfg.stopwords)
		addField(w, d.Title, TitleWeight, cfg.stopwords)
		if len(w) == 0 {
			continue
		}
		n := utf8.RuneCountInString(d.Title) + utf8.RuneCountInString(d.Summary)
		out = append(out, doc{id: d.ID, weights: w, runes: n})
		if cfg.maxDocs > 0 && len(out) >= cfg.maxDocs {
			break
		}
	}
	return &index{cfg: cfg, docs: out}
}

func addField(dst map[string]float64, text string, weight float64, stop map[string]struct{}) {
	for _, t := range tokenize(text, stop) {
		if weight > dst[t] {
			dst[t] = weight
		}
	}
}

// TopK returns up to k documents with a positive score, best first. Ties go
// to the shorter listing, then to the smaller ID. k <= 0 means 10.
func (i *index) TopK(q string, k int) []Result {
	if len(i.docs) == 0 {
		return nil
	}
	if k <= 0 {
		k = 10
	}
	terms := tokenize(q, i.cfg.stopwords)
	if len(terms) == 0 {
		return nil
	}
	maxScore := float64(len(terms)) * TitleWeight

	type scored struct {
		id    string
		score float64
		runes int
	}
	buf := make([]scored, 0, len(i.docs))
	for _, d := range i.docs {
		if s := d.score(terms); s > 0 {
			buf = append(buf, scored{id: d.id, score: s / maxScore, runes: d.runes})
		}
	}
	if len(buf) == 0 {
		return nil
	}

	sort.Slice(buf, func(a, b int) bool {
		if buf[a].score != buf[b].score {
			return buf[a].score > buf[b].score
		}
		if buf[a].runes != buf[b].runes {
			return buf[a].runes < buf[b].runes
		}
		return buf[a].id < buf[b].id
	})

	if k > len(buf) {
		k = len(buf)
	}
	out := make([]Result, k)
	for j := range out {
		out[j] = Result{ID: buf[j].id, Score: buf[j].score}
	}
	return out
}

// score sums the weights of matched terms. Only the last term may match as a
// prefix, at half the weight of the field it matched.
func (d doc) score(terms []string) float64 {
	var s float64
	last := len(terms) - 1
	for n, t := range terms {
		if w, ok := d.weights[t]; ok {
			s += w
			continue
		}
		if n == last && utf8.RuneCountInString(t) >= minPrefixRunes {
			s += d.bestPrefix(t) / 2
		}
	}
	return s
}

func (d doc) bestPrefix(p string) float64 {
	var best float64
	for tok, w := range d.weights {
		if w > best && strings.HasPrefix(tok, p) {
			best = w
		}
	}
	return best
}

var wordRE = regexp.MustCompile(`[\p{L}\p{N}]+`)

// tokenize returns the distinct folded words of s in first-seen order.
func tokenize(s string, stop map[string]struct{}) []string {
	words := wordRE.FindAllString(fold(s), -1)
	if len(words) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		if _, skip := stop[w]; skip {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// fold lowercases s and strips combining marks ("Café" -> "cafe").
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}
