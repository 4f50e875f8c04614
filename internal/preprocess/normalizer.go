// Package preprocess normalizes raw log bodies before they are put into a
// prompt.
package preprocess

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	bytesPerMB = 1024 * 1024
	// keepRatio is the share of lines kept from each end of a large log.
	keepRatio = 0.4
	// minKeep is the smallest head/tail worth splitting around an omission marker.
	minKeep = 10
)

var (
	timestampPatterns = []*regexp.Regexp{
		// ISO-8601
		regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T\s]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:\d{2})?`),
		// Apache
		regexp.MustCompile(`\d{2}/\w{3}/\d{4}:\d{2}:\d{2}:\d{2}`),
		// syslog
		regexp.MustCompile(`\w{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2}`),
	}
	blankRuns = regexp.MustCompile(`\n\s*\n\s*\n+`)
)

// Options configures a Normalizer.
type Options struct {
	MaxSizeMB        int
	Truncate         bool
	RemoveTimestamps bool
}

// Normalizer caps log bodies, strips timestamps when asked and tidies them.
type Normalizer struct {
	maxBytes         int
	truncate         bool
	removeTimestamps bool
}

// New returns a Normalizer. A non-positive MaxSizeMB means 5 MB.
func New(opts Options) *Normalizer {
	size := opts.MaxSizeMB
	if size <= 0 {
		size = 5
	}
	return &Normalizer{
		maxBytes:         size * bytesPerMB,
		truncate:         opts.Truncate,
		removeTimestamps: opts.RemoveTimestamps,
	}
}

// Normalize runs the size cap, timestamp stripping and cleanup in that order.
func (n *Normalizer) Normalize(content string) string {
	if n.truncate && len(content) > n.maxBytes {
		content = truncateLines(content)
	}
	if n.removeTimestamps {
		content = stripTimestamps(content)
	}
	return clean(content)
}

// truncateLines keeps the first and last 40% of the lines. Logs too short to
// split keep their first 80%.
func truncateLines(content string) string {
	lines := strings.Split(content, "\n")
	total := len(lines)
	keep := int(float64(total) * keepRatio)

	if keep < minKeep {
		return strings.Join(lines[:int(float64(total)*2*keepRatio)], "\n")
	}

	var b strings.Builder
	b.WriteString(strings.Join(lines[:keep], "\n"))
	fmt.Fprintf(&b, "\n\n... [%d lines omitted] ...\n\n", total-2*keep)
	b.WriteString(strings.Join(lines[total-keep:], "\n"))
	return b.String()
}

func stripTimestamps(content string) string {
	for _, re := range timestampPatterns {
		content = re.ReplaceAllString(content, "")
	}
	return content
}

// clean composes the text to NFC, collapses blank runs and trims trailing
// whitespace.
func clean(content string) string {
	content = norm.NFC.String(content)
	content = blankRuns.ReplaceAllString(content, "\n\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r\f\v")
	}
	return strings.Join(lines, "\n")
}

// Stats summarizes a log body.
type Stats struct {
	TotalLines    int
	TotalBytes    int
	TotalChars    int
	NonEmptyLines int
}

// ComputeStats counts lines, bytes and runes.
func ComputeStats(content string) Stats {
	lines := strings.Split(content, "\n")
	s := Stats{
		TotalLines: len(lines),
		TotalBytes: len(content),
		TotalChars: len([]rune(content)),
	}
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			s.NonEmptyLines++
		}
	}
	return s
}
