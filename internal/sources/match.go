package sources

import (
	"strings"

	"github.com/scholarsift/retrieval-service/internal/domain"
)

// MatchesKeywords reports whether text contains at least one of the
// keywords. Matching is case-insensitive; terms of three characters or
// fewer must match on word boundaries so that "ai" does not hit "train".
// Hyphenation variants are tried as well, because scientific terms appear
// both ways in titles and abstracts (TDP-43 vs TDP43, gene therapy vs
// gene-therapy).
//
// An empty keyword set matches nothing.
func MatchesKeywords(text string, keywords []string) bool {
	text = strings.ToLower(text)

	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}

		if len(kw) <= 3 {
			if containsWord(text, kw) {
				return true
			}
		} else if strings.Contains(text, kw) {
			return true
		}

		for _, variant := range keywordVariants(kw) {
			if strings.Contains(text, variant) {
				return true
			}
		}
	}

	return false
}

// keywordVariants returns the hyphenation variants checked for a keyword:
// hyphen insertion after the third to fifth character for compact terms
// ("tdp43" becomes "tdp-43"), hyphen removal for hyphenated terms, and
// space-to-hyphen substitution for phrases.
func keywordVariants(kw string) []string {
	var variants []string

	if !strings.Contains(kw, "-") && len(kw) > 3 {
		for _, pos := range []int{3, 4, 5} {
			if pos < len(kw) {
				variants = append(variants, kw[:pos]+"-"+kw[pos:])
			}
		}
	} else if strings.Contains(kw, "-") {
		variants = append(variants, strings.ReplaceAll(kw, "-", ""))
	}

	if hyphenated := strings.ReplaceAll(kw, " ", "-"); hyphenated != kw {
		variants = append(variants, hyphenated)
	}

	return variants
}

// containsWord reports whether word occurs in text delimited by non-word
// characters on both sides.
func containsWord(text, word string) bool {
	if word == "" {
		return false
	}

	for start := 0; ; {
		i := strings.Index(text[start:], word)
		if i < 0 {
			return false
		}
		i += start

		before := i == 0 || !isWordChar(text[i-1])
		after := i+len(word) == len(text) || !isWordChar(text[i+len(word)])
		if before && after {
			return true
		}
		start = i + 1
	}
}

func isWordChar(b byte) bool {
	return b == '_' ||
		('0' <= b && b <= '9') ||
		('a' <= b && b <= 'z') ||
		('A' <= b && b <= 'Z')
}

// reviewMarkers are phrases that identify review articles when they occur
// in a title or abstract.
var reviewMarkers = []string{
	"review", "综述", "perspective", "opinion", "commentary",
	"overview", "summary", "current status", "recent advances",
	"state of the art", "progress and", "future directions",
}

// DetectPaperType classifies text as a review when it carries a common
// review-article marker phrase, defaulting to research.
func DetectPaperType(text string) domain.PaperType {
	text = strings.ToLower(text)
	for _, marker := range reviewMarkers {
		if strings.Contains(text, marker) {
			return domain.PaperTypeReview
		}
	}
	return domain.PaperTypeResearch
}
