// Package scoring ranks retrieved papers against user keyword sets.
//
// The score is an unweighted sum of four bands: keyword relevance (capped,
// plus a multi-keyword bonus), publication recency, venue impact and paper
// type. Scores are comparable only within one keyword set; they are not
// normalized across sets.
package scoring

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/scholarsift/retrieval-service/internal/domain"
)

// MatchMode controls how a keyword set must match a paper.
type MatchMode string

const (
	// MatchAny scores a paper when at least one keyword matches.
	MatchAny MatchMode = "any"

	// MatchAll zero-scores a paper unless every keyword in the set matches.
	MatchAll MatchMode = "all"
)

// Scoring constants. Title hits outweigh abstract hits; the keyword band is
// capped so that recency/impact/type can still reorder keyword-saturated
// papers.
const (
	titleHitPoints    = 5
	abstractHitPoints = 2
	keywordBandCap    = 70
	keywordMultiplier = 7
	multiKeywordBonus = 5

	// shortKeywordLen is the keyword length at or below which only
	// word-boundary matches count, so "AI" does not match inside "maintain".
	shortKeywordLen = 3

	// minRankScore is the score below which papers are dropped from ranked
	// output.
	minRankScore = 1
)

// Breakdown itemizes the bands contributing to a score. KeywordScore
// includes the multi-keyword bonus.
type Breakdown struct {
	KeywordScore float64 `json:"keyword_score"`
	RecencyScore float64 `json:"recency_score"`
	ImpactScore  float64 `json:"impact_score"`
	TypeScore    float64 `json:"type_score"`
}

// Result is the outcome of scoring one paper against one keyword set.
type Result struct {
	Score           float64   `json:"score"`
	MatchedKeywords []string  `json:"matched_keywords"`
	Breakdown       Breakdown `json:"breakdown"`
}

// Scorer computes relevance scores for papers. It is stateless and safe for
// concurrent use.
type Scorer struct{}

// NewScorer creates a new Scorer.
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score evaluates one paper against a keyword set.
//
// A paper with no matched keywords scores zero with all bands suppressed,
// as does any paper under MatchAll that misses at least one keyword. Papers
// with empty title and abstract score zero without error; absent publication
// dates and impact factors contribute zero to their bands.
func (s *Scorer) Score(paper *domain.PaperRecord, keywords []string, mode MatchMode) Result {
	if paper == nil || len(keywords) == 0 {
		return Result{}
	}

	title := strings.ToLower(paper.Title)
	abstract := strings.ToLower(paper.Abstract)

	var matched []string
	totalPoints := 0
	for _, keyword := range keywords {
		points := keywordPoints(keyword, title, abstract)
		if points > 0 {
			matched = append(matched, keyword)
			totalPoints += points
		}
	}

	if mode == MatchAll && len(matched) < len(keywords) {
		return Result{}
	}
	if len(matched) == 0 {
		return Result{}
	}

	keywordScore := float64(totalPoints * keywordMultiplier)
	if keywordScore > keywordBandCap {
		keywordScore = keywordBandCap
	}
	if len(matched) >= 2 {
		keywordScore += float64((len(matched) - 1) * multiKeywordBonus)
	}

	breakdown := Breakdown{
		KeywordScore: keywordScore,
		RecencyScore: recencyScore(paper, time.Now()),
		ImpactScore:  impactScore(paper.ImpactFactor),
		TypeScore:    typeScore(paper.PaperType),
	}

	return Result{
		Score:           breakdown.KeywordScore + breakdown.RecencyScore + breakdown.ImpactScore + breakdown.TypeScore,
		MatchedKeywords: matched,
		Breakdown:       breakdown,
	}
}

// Rank scores every paper in place, drops papers scoring below the minimum,
// and returns the remainder ordered by descending score. Ties keep input
// order so output is deterministic.
func (s *Scorer) Rank(papers []*domain.PaperRecord, keywords []string, mode MatchMode) []*domain.PaperRecord {
	ranked := make([]*domain.PaperRecord, 0, len(papers))
	for _, paper := range papers {
		result := s.Score(paper, keywords, mode)
		paper.Score = result.Score
		if result.Score >= minRankScore {
			ranked = append(ranked, paper)
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// keywordPoints returns the hit points for one keyword: title hits earn
// more than abstract hits, and both may accrue for the same keyword.
func keywordPoints(keyword, title, abstract string) int {
	variants := keywordVariants(keyword)

	points := 0
	for _, variant := range variants {
		if variantMatches(variant, title) {
			points += titleHitPoints
			break
		}
	}
	for _, variant := range variants {
		if variantMatches(variant, abstract) {
			points += abstractHitPoints
			break
		}
	}
	return points
}

// keywordVariants returns the normalized keyword plus hyphenation variants,
// so "TDP-43" also matches "TDP43" and "TDP 43".
func keywordVariants(keyword string) []string {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	if kw == "" {
		return nil
	}
	if !strings.Contains(kw, "-") {
		return []string{kw}
	}
	return []string{
		kw,
		strings.ReplaceAll(kw, "-", ""),
		strings.ReplaceAll(kw, "-", " "),
	}
}

// variantMatches reports whether the variant occurs in the text. Short
// variants must match on word boundaries; longer ones match as substrings.
func variantMatches(variant, text string) bool {
	if variant == "" || text == "" {
		return false
	}
	if len(variant) <= shortKeywordLen {
		pattern := regexp.MustCompile(`\b` + regexp.QuoteMeta(variant) + `\b`)
		return pattern.MatchString(text)
	}
	return strings.Contains(text, variant)
}

// recencyScore discretizes days since publication into bands, newest first.
func recencyScore(paper *domain.PaperRecord, now time.Time) float64 {
	days := paper.AgeDays(now)
	switch {
	case days < 0:
		return 0
	case days <= 1:
		return 10
	case days <= 3:
		return 8
	case days <= 7:
		return 6
	case days <= 14:
		return 4
	case days <= 30:
		return 2
	default:
		return 0
	}
}

// impactScore discretizes the venue impact factor into bands.
func impactScore(impactFactor float64) float64 {
	switch {
	case impactFactor >= 20:
		return 10
	case impactFactor >= 10:
		return 8
	case impactFactor >= 5:
		return 6
	case impactFactor >= 3:
		return 4
	case impactFactor > 0:
		return 2
	default:
		return 0
	}
}

// typeScore prefers primary research over reviews; unclassified records sit
// between zero and a review.
func typeScore(paperType domain.PaperType) float64 {
	switch paperType {
	case domain.PaperTypeResearch:
		return 10
	case domain.PaperTypeReview:
		return 7
	default:
		return 5
	}
}
