package analysis

import (
	"fmt"
	"strings"
	"text/template"
)

// masterPrompt asks for the three sections the heuristic parser scans for.
const masterPrompt = `You are an experienced MLOps SRE. Analyse the log below and answer in this format:

## 📊 요약 (Summary)
Summarize the essential content of the log in 3-5 lines.

## 🔍 주요 이슈 (Issues)
- Errors or warnings found
- Notable patterns or anomalies

## 💡 제안사항 (Recommendations)
- How to fix the problem
- Directions for improvement

---
Log:
{{.LogContent}}
`

var promptTemplate = template.Must(template.New("master").Parse(masterPrompt))

type promptData struct {
	LogContent string
}

// RenderPrompt fills the analysis prompt with a normalized log body.
func RenderPrompt(logContent string) (string, error) {
	var b strings.Builder
	if err := promptTemplate.Execute(&b, promptData{LogContent: logContent}); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return b.String(), nil
}
