package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/scholarsift/retrieval-service/internal/domain"
)

// Input truncation bounds for prompt construction. Longer inputs add token
// cost without improving the result.
const (
	maxAnalysisAbstractLen = 1000
	maxTranslationInputLen = 1500

	// maxRawContentLen bounds how much of an unparseable completion is
	// kept as the main findings.
	maxRawContentLen = 500
)

// analysisSystemPrompt is the shared system-level instruction for analysis
// and translation calls.
const analysisSystemPrompt = "You are an expert in scientific research with broad experience reading and assessing scholarly papers."

// languageNames maps ISO 639-1 codes to the language names used in prompts.
var languageNames = map[string]string{
	"zh": "Chinese",
	"en": "English",
	"ja": "Japanese",
	"ko": "Korean",
	"de": "German",
	"fr": "French",
	"es": "Spanish",
	"pt": "Portuguese",
	"ru": "Russian",
}

// languageName resolves a language code to its prompt name, falling back
// to the code itself for languages not in the table.
func languageName(code string) string {
	if name, ok := languageNames[strings.ToLower(strings.TrimSpace(code))]; ok {
		return name
	}
	return code
}

// buildAnalysisPrompt builds the system and user prompts for analyzing a
// paper. The user prompt pins the response to a four-field JSON object so
// the completion can be normalized into a domain.AnalysisResult.
func buildAnalysisPrompt(title, abstract, language string) (systemPrompt, userPrompt string) {
	var sb strings.Builder

	sb.WriteString("Analyze the following scholarly paper and provide a concise assessment, ")
	sb.WriteString("at most 100 words per item.\n\n")
	sb.WriteString("Title: ")
	sb.WriteString(title)
	sb.WriteString("\n\nAbstract: ")
	sb.WriteString(truncate(abstract, maxAnalysisAbstractLen))
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf("Respond in %s and cover:\n", languageName(language)))
	sb.WriteString("1. Main findings: the core conclusions.\n")
	sb.WriteString("2. Innovations: technical or conceptual advances.\n")
	sb.WriteString("3. Limitations: methodological weaknesses.\n")
	sb.WriteString("4. Future directions: suggested follow-up research.\n\n")
	sb.WriteString("You MUST respond with valid JSON in exactly this format:\n")
	sb.WriteString(`{"main_findings": "...", "innovations": "...", "limitations": "...", "future_directions": "..."}`)

	return analysisSystemPrompt, sb.String()
}

// buildTranslationPrompt builds the system and user prompts for translating
// a paper abstract into the target language.
func buildTranslationPrompt(text, language string) (systemPrompt, userPrompt string) {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Translate the following paper abstract into %s, ", languageName(language)))
	sb.WriteString("keeping the academic tone and staying concise.\n\n")
	sb.WriteString(truncate(text, maxTranslationInputLen))
	sb.WriteString("\n\nReturn only the translation, with no explanation.")

	return analysisSystemPrompt, sb.String()
}

// parseAnalysisContent normalizes a provider completion into the typed
// analysis result. Models occasionally wrap the JSON in a markdown fence
// or surround it with prose, so parsing falls back from strict JSON to
// fence extraction to brace slicing. When no JSON can be recovered the
// raw content is kept as the main findings rather than discarded.
func parseAnalysisContent(content string) *domain.AnalysisResult {
	trimmed := strings.TrimSpace(content)

	candidates := []string{trimmed}
	if fenced, ok := extractFencedJSON(trimmed); ok {
		candidates = append(candidates, fenced)
	}
	if braced, ok := extractBracedJSON(trimmed); ok {
		candidates = append(candidates, braced)
	}

	for _, candidate := range candidates {
		var result domain.AnalysisResult
		if err := json.Unmarshal([]byte(candidate), &result); err == nil && !result.IsEmpty() {
			return &result
		}
	}

	return &domain.AnalysisResult{MainFindings: truncate(trimmed, maxRawContentLen)}
}

// extractFencedJSON pulls the body out of the first markdown code fence,
// tolerating an optional "json" language tag.
func extractFencedJSON(content string) (string, bool) {
	start := strings.Index(content, "```")
	if start == -1 {
		return "", false
	}
	rest := strings.TrimPrefix(content[start+3:], "json")
	end := strings.Index(rest, "```")
	if end == -1 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// extractBracedJSON slices from the first opening brace to the last
// closing brace.
func extractBracedJSON(content string) (string, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return "", false
	}
	return content[start : end+1], true
}

// truncate returns s cut to at most n bytes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
