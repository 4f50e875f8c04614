package analysis

import (
	"errors"
	"strings"

	"github.com/drblury/bifrost/internal/ai"
	"github.com/drblury/bifrost/internal/events"
)

// PlaceholderConfidence is reported until a backend returns a real score.
const PlaceholderConfidence = 0.85

// Fallback texts for sections the model did not produce.
const (
	FallbackSummary        = "No summary available"
	FallbackRootCause      = "Root cause analysis pending"
	FallbackRecommendation = "Recommendation pending"
)

var errEmptyResponse = errors.New("analysis: empty ai response")

// ResultParser turns a model response into structured result data.
type ResultParser interface {
	Parse(resp *ai.Response) (events.AnalysisResultData, error)
}

// HeuristicParser scans free text for section headers and severity keywords.
// Structured responses are passed through untouched.
type HeuristicParser struct {
	Confidence float64
}

// NewHeuristicParser uses PlaceholderConfidence.
func NewHeuristicParser() *HeuristicParser {
	return &HeuristicParser{Confidence: PlaceholderConfidence}
}

type section int

const (
	sectionNone section = iota
	sectionSummary
	sectionRootCause
	sectionRecommendation
)

func headerOf(line string) (section, bool) {
	switch {
	case strings.Contains(line, "요약") || strings.Contains(line, "Summary"):
		return sectionSummary, true
	case strings.Contains(line, "주요 이슈") || strings.Contains(line, "이슈") || strings.Contains(line, "Issue"):
		return sectionRootCause, true
	case strings.Contains(line, "제안") || strings.Contains(line, "권장") || strings.Contains(line, "Recommendation"):
		return sectionRecommendation, true
	default:
		return sectionNone, false
	}
}

func (p *HeuristicParser) Parse(resp *ai.Response) (events.AnalysisResultData, error) {
	if resp == nil {
		return events.AnalysisResultData{}, errEmptyResponse
	}
	if resp.Structured != nil {
		data := *resp.Structured
		return data, data.Validate()
	}

	var parts [4][]string
	current := sectionNone
	for _, raw := range strings.Split(strings.TrimSpace(resp.Text), "\n") {
		line := strings.TrimSpace(raw)
		if s, ok := headerOf(line); ok {
			current = s
			continue
		}
		if line == "" || strings.HasPrefix(line, "#") || current == sectionNone {
			continue
		}
		parts[current] = append(parts[current], line)
	}

	data := events.AnalysisResultData{
		Summary:        joinOr(parts[sectionSummary], FallbackSummary),
		RootCause:      joinOr(parts[sectionRootCause], FallbackRootCause),
		Recommendation: joinOr(parts[sectionRecommendation], FallbackRecommendation),
		Severity:       InferSeverity(resp.Text),
		Confidence:     p.Confidence,
	}
	return data, data.Validate()
}

func joinOr(lines []string, fallback string) string {
	if len(lines) == 0 {
		return fallback
	}
	return strings.Join(lines, " ")
}

// InferSeverity grades a response by the most severe keyword it mentions.
func InferSeverity(text string) events.Severity {
	upper := strings.ToUpper(text)
	switch {
	case strings.Contains(upper, "CRITICAL") || strings.Contains(upper, "FATAL"):
		return events.SeverityCritical
	case strings.Contains(upper, "ERROR") || strings.Contains(text, "실패"):
		return events.SeverityHigh
	case strings.Contains(upper, "WARN") || strings.Contains(text, "경고"):
		return events.SeverityMedium
	default:
		return events.SeverityLow
	}
}
