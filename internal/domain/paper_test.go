package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordID(t *testing.T) {
	t.Run("doi takes priority over pmid and title", func(t *testing.T) {
		id := RecordID("10.1234/test", "12345678", "Some Title")
		assert.Equal(t, RecordID("10.1234/test", "", ""), id)
		assert.NotEqual(t, RecordID("", "12345678", "Some Title"), id)
	})

	t.Run("pmid used when doi absent", func(t *testing.T) {
		id := RecordID("", "12345678", "Some Title")
		assert.Equal(t, RecordID("", "12345678", "Another Title"), id)
	})

	t.Run("title fallback is case insensitive", func(t *testing.T) {
		a := RecordID("", "", "CRISPR Gene Editing")
		b := RecordID("", "", "  crispr gene editing ")
		assert.Equal(t, a, b)
	})

	t.Run("identical identity yields identical id regardless of source", func(t *testing.T) {
		p1 := PaperRecord{DOI: "10.1/x", Title: "A", Source: SourcePubMed}
		p2 := PaperRecord{DOI: "10.1/x", Title: "B", Source: SourceArXiv}
		p1.ApplyID()
		p2.ApplyID()
		assert.Equal(t, p1.ID, p2.ID)
	})

	t.Run("distinct titles yield distinct ids", func(t *testing.T) {
		assert.NotEqual(t,
			RecordID("", "", "paper one"),
			RecordID("", "", "paper two"),
		)
	})

	t.Run("whitespace-only doi falls back to pmid", func(t *testing.T) {
		assert.Equal(t,
			RecordID("  ", "42", "title"),
			RecordID("", "42", "other title"),
		)
	})
}

func TestSearchKey(t *testing.T) {
	t.Run("independent of keyword order and casing", func(t *testing.T) {
		a := SearchKey([]string{"Cancer", "immunotherapy"}, 7)
		b := SearchKey([]string{"IMMUNOTHERAPY", "cancer"}, 7)
		assert.Equal(t, a, b)
	})

	t.Run("days back distinguishes keys", func(t *testing.T) {
		a := SearchKey([]string{"cancer"}, 7)
		b := SearchKey([]string{"cancer"}, 14)
		assert.NotEqual(t, a, b)
	})

	t.Run("different keyword sets distinguish keys", func(t *testing.T) {
		a := SearchKey([]string{"cancer"}, 7)
		b := SearchKey([]string{"cancer", "immunotherapy"}, 7)
		assert.NotEqual(t, a, b)
	})
}

func TestAnalysisKey(t *testing.T) {
	t.Run("case and whitespace insensitive", func(t *testing.T) {
		a := AnalysisKey("Deep Learning", "An abstract.")
		b := AnalysisKey("  deep learning ", "an abstract.  ")
		assert.Equal(t, a, b)
	})

	t.Run("abstract beyond 500 chars does not change the key", func(t *testing.T) {
		long := make([]byte, 600)
		for i := range long {
			long[i] = 'a'
		}
		a := AnalysisKey("t", string(long))
		b := AnalysisKey("t", string(long[:500]))
		assert.Equal(t, a, b)
	})

	t.Run("title changes the key", func(t *testing.T) {
		assert.NotEqual(t,
			AnalysisKey("title one", "abstract"),
			AnalysisKey("title two", "abstract"),
		)
	})
}

func TestPaperRecord_AgeDays(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	t.Run("returns -1 without publication date", func(t *testing.T) {
		p := PaperRecord{}
		assert.Equal(t, -1, p.AgeDays(now))
	})

	t.Run("returns whole days since publication", func(t *testing.T) {
		pub := now.AddDate(0, 0, -7)
		p := PaperRecord{PublicationDate: &pub}
		assert.Equal(t, 7, p.AgeDays(now))
	})

	t.Run("future dates clamp to zero", func(t *testing.T) {
		pub := now.AddDate(0, 0, 3)
		p := PaperRecord{PublicationDate: &pub}
		assert.Equal(t, 0, p.AgeDays(now))
	})
}

func TestIsValidSourceName(t *testing.T) {
	for _, s := range []SourceName{SourcePubMed, SourceArXiv, SourceBioRxiv, SourceMedRxiv, SourceOpenAlex} {
		assert.True(t, IsValidSourceName(s), "expected %s to be valid", s)
	}
	assert.False(t, IsValidSourceName("scopus"))
	assert.False(t, IsValidSourceName(""))
}

func TestAnalysisResult_ApplyTo(t *testing.T) {
	p := PaperRecord{Title: "T", TranslatedAbstract: "prior translation"}
	res := AnalysisResult{
		MainFindings:     "findings",
		Innovations:      "innovations",
		Limitations:      "limitations",
		FutureDirections: "future",
	}

	res.ApplyTo(&p)

	require.True(t, p.IsAnalyzed)
	assert.Equal(t, "findings", p.MainFindings)
	assert.Equal(t, "innovations", p.Innovations)
	assert.Equal(t, "limitations", p.Limitations)
	assert.Equal(t, "future", p.FutureDirections)
	// An empty translation must not wipe an existing one.
	assert.Equal(t, "prior translation", p.TranslatedAbstract)
}

func TestAnalysisResult_IsEmpty(t *testing.T) {
	assert.True(t, (&AnalysisResult{}).IsEmpty())
	assert.True(t, (&AnalysisResult{MainFindings: "   "}).IsEmpty())
	assert.False(t, (&AnalysisResult{Limitations: "small sample"}).IsEmpty())
}
