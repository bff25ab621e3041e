// Package match decides whether a search-result candidate corresponds to a
// (title, author) query. All functions are pure.
package match

import (
	"strings"

	"github.com/mholgersen/bookgraph/internal/textnorm"
	"github.com/mholgersen/bookgraph/internal/types"
)

// usedWorkMarker flags second-hand listings in the retailer's Work field.
const usedWorkMarker = "brugt"

// DefaultTitleThreshold is the similarity ratio a title pair must exceed.
const DefaultTitleThreshold = 0.85

// Query is the book the caller is looking for.
type Query struct {
	Title  string
	Author string
}

// Matcher evaluates candidates against queries.
type Matcher struct {
	titleThreshold float64
}

// New creates a Matcher with the default title threshold.
func New() *Matcher {
	return &Matcher{titleThreshold: DefaultTitleThreshold}
}

// Match reports whether the candidate is the same book as the query.
//
// With an empty query author the decision falls back to structural signals:
// the candidate must carry a purely numeric catalog id and must not be a
// second-hand listing. Otherwise the normalized titles must exceed the
// similarity threshold and the author token sets must share at least one
// token. Missing expected fields yield false, never a panic.
func (m *Matcher) Match(q Query, c types.Candidate) bool {
	if c.ID == "" {
		return false
	}
	genuine := isNumeric(c.ID) && !strings.Contains(strings.ToLower(c.Work), usedWorkMarker)

	if strings.TrimSpace(q.Author) == "" {
		return genuine
	}
	if !genuine || c.Name == "" {
		return false
	}

	title := Similarity(textnorm.Loose(q.Title), textnorm.Loose(c.Name))
	if title <= m.titleThreshold {
		return false
	}
	return TokensOverlap(
		textnorm.Strict(q.Author),
		textnorm.Strict(strings.Join(c.Authors, ", ")),
	)
}

// MatchLegacy is the ISBN-era rule variant: only the first comma-separated
// author component of the query is compared, and it must appear verbatim in
// the candidate's author list after strict normalization.
func (m *Matcher) MatchLegacy(q Query, c types.Candidate) bool {
	if c.ID == "" {
		return false
	}
	genuine := isNumeric(c.ID) && strings.ToLower(c.Work) != "brugt bog"

	if strings.TrimSpace(q.Author) == "" {
		return genuine
	}
	if !genuine {
		return false
	}

	author := strings.ReplaceAll(strings.ToLower(q.Author), `"`, "")
	if i := strings.Index(author, ","); i >= 0 {
		author = author[:i]
	}
	author = textnorm.Strict(author)

	for _, name := range c.Authors {
		if textnorm.Strict(name) == author {
			return true
		}
	}
	return false
}

// TokensOverlap reports whether the two author strings share at least one
// whitespace-separated token — a first-name or surname overlap. Empty token
// sets never match. Symmetric.
func TokensOverlap(a, b string) bool {
	at := strings.Fields(a)
	bt := strings.Fields(b)
	if len(at) == 0 || len(bt) == 0 {
		return false
	}

	set := make(map[string]struct{}, len(at))
	for _, tok := range at {
		set[tok] = struct{}{}
	}
	for _, tok := range bt {
		if _, ok := set[tok]; ok {
			return true
		}
	}
	return false
}

// Similarity returns a character-level sequence similarity in [0, 1],
// computed as twice the total length of the longest matching blocks over
// the combined length of both strings.
func Similarity(a, b string) float64 {
	ar, br := []rune(a), []rune(b)
	if len(ar) == 0 && len(br) == 0 {
		return 1
	}
	if len(ar) == 0 || len(br) == 0 {
		return 0
	}
	matched := matchingTotal(ar, br)
	return 2 * float64(matched) / float64(len(ar)+len(br))
}

// matchingTotal sums the longest common block and, recursively, the blocks
// on either side of it.
func matchingTotal(a, b []rune) int {
	ai, bi, size := longestBlock(a, b)
	if size == 0 {
		return 0
	}
	return size +
		matchingTotal(a[:ai], b[:bi]) +
		matchingTotal(a[ai+size:], b[bi+size:])
}

// longestBlock finds the longest common contiguous block of a and b.
func longestBlock(a, b []rune) (ai, bi, size int) {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > size {
					size = cur[j]
					ai = i - size
					bi = j - size
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return ai, bi, size
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
