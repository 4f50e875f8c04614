package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/bifrost/internal/ai"
	"github.com/drblury/bifrost/internal/events"
)

func TestHeuristicParserKoreanSections(t *testing.T) {
	text := `## 📊 요약
결제 서비스에서 DB 연결 오류 발생
커넥션 풀 고갈

## 🔍 주요 이슈
- connection refused 반복

## 💡 제안사항
- 풀 크기 증가
`
	data, err := NewHeuristicParser().Parse(&ai.Response{Text: text})
	require.NoError(t, err)

	assert.Equal(t, "결제 서비스에서 DB 연결 오류 발생 커넥션 풀 고갈", data.Summary)
	assert.Equal(t, "- connection refused 반복", data.RootCause)
	assert.Equal(t, "- 풀 크기 증가", data.Recommendation)
	assert.Equal(t, events.SeverityLow, data.Severity)
	assert.InDelta(t, PlaceholderConfidence, data.Confidence, 1e-9)
}

func TestHeuristicParserEnglishSectionsAndFallbacks(t *testing.T) {
	text := "Summary:\nPayment ERROR spike\n# ignored heading\n\nRecommendation:\nRoll back release"
	data, err := NewHeuristicParser().Parse(&ai.Response{Text: text})
	require.NoError(t, err)

	assert.Equal(t, "Payment ERROR spike", data.Summary)
	assert.Equal(t, FallbackRootCause, data.RootCause)
	assert.Equal(t, "Roll back release", data.Recommendation)
	assert.Equal(t, events.SeverityHigh, data.Severity)
}

func TestHeuristicParserIgnoresTextBeforeFirstHeader(t *testing.T) {
	data, err := NewHeuristicParser().Parse(&ai.Response{Text: "preamble\nmore preamble"})
	require.NoError(t, err)
	assert.Equal(t, FallbackSummary, data.Summary)
	assert.Equal(t, FallbackRootCause, data.RootCause)
	assert.Equal(t, FallbackRecommendation, data.Recommendation)
}

func TestInferSeverity(t *testing.T) {
	cases := []struct {
		text string
		want events.Severity
	}{
		{"fatal: out of memory, also an error", events.SeverityCritical},
		{"Critical path broken", events.SeverityCritical},
		{"an Error occurred and a warning", events.SeverityHigh},
		{"배포 실패", events.SeverityHigh},
		{"WARNING disk 80%", events.SeverityMedium},
		{"디스크 경고", events.SeverityMedium},
		{"all healthy", events.SeverityLow},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, InferSeverity(tc.text), tc.text)
	}
}

func TestHeuristicParserStructuredPassthrough(t *testing.T) {
	structured := &events.AnalysisResultData{
		Summary:        "s",
		RootCause:      "r",
		Recommendation: "x",
		Severity:       events.SeverityCritical,
		Confidence:     0.4,
	}
	data, err := NewHeuristicParser().Parse(&ai.Response{Text: "ERROR ignored", Structured: structured})
	require.NoError(t, err)
	assert.Equal(t, *structured, data)

	structured.Confidence = 3
	_, err = NewHeuristicParser().Parse(&ai.Response{Structured: structured})
	assert.Error(t, err)
}

func TestHeuristicParserNilResponse(t *testing.T) {
	_, err := NewHeuristicParser().Parse(nil)
	assert.Error(t, err)
}

func TestRenderPrompt(t *testing.T) {
	prompt, err := RenderPrompt("ERROR <html> & {{ braces }}")
	require.NoError(t, err)
	assert.Contains(t, prompt, "Log:\nERROR <html> & {{ braces }}\n")
	assert.Contains(t, prompt, "요약")
	assert.Contains(t, prompt, "주요 이슈")
	assert.Contains(t, prompt, "제안")
}
