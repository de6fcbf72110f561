package domain

import "strings"

// AnalysisResult is the typed shape every analysis provider response is
// normalized into at the provider boundary. No untyped provider payload
// travels past this struct.
type AnalysisResult struct {
	MainFindings       string `json:"main_findings"`
	Innovations        string `json:"innovations"`
	Limitations        string `json:"limitations"`
	FutureDirections   string `json:"future_directions"`
	TranslatedAbstract string `json:"translated_abstract,omitempty"`
}

// IsEmpty returns true when no analysis field carries content.
func (r *AnalysisResult) IsEmpty() bool {
	return strings.TrimSpace(r.MainFindings) == "" &&
		strings.TrimSpace(r.Innovations) == "" &&
		strings.TrimSpace(r.Limitations) == "" &&
		strings.TrimSpace(r.FutureDirections) == "" &&
		strings.TrimSpace(r.TranslatedAbstract) == ""
}

// ApplyTo copies the analysis fields onto a paper record and marks it analyzed.
func (r *AnalysisResult) ApplyTo(p *PaperRecord) {
	p.MainFindings = r.MainFindings
	p.Innovations = r.Innovations
	p.Limitations = r.Limitations
	p.FutureDirections = r.FutureDirections
	if r.TranslatedAbstract != "" {
		p.TranslatedAbstract = r.TranslatedAbstract
	}
	p.IsAnalyzed = true
}
