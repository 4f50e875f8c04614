package preprocess

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCleansWhitespace(t *testing.T) {
	n := New(Options{Truncate: true})
	in := "ERROR a   \n\n\n\n  \nWARN b\t\n"
	assert.Equal(t, "ERROR a\n\nWARN b\n", n.Normalize(in))
}

func TestNormalizeComposesHangul(t *testing.T) {
	n := New(Options{})
	// 실패 written as conjoining jamo
	decomposed := "ERROR \u1109\u1175\u11af\u1111\u1162"
	assert.Equal(t, "ERROR 실패", n.Normalize(decomposed))
}

func TestNormalizeLeavesSmallLogsIntact(t *testing.T) {
	n := New(Options{Truncate: true})
	in := "line one\nline two"
	assert.Equal(t, in, n.Normalize(in))
}

func TestNormalizeTruncatesLargeLogKeepingHeadAndTail(t *testing.T) {
	n := New(Options{MaxSizeMB: 1, Truncate: true})

	var lines []string
	line := strings.Repeat("x", 1000)
	for i := 0; i < 2000; i++ {
		lines = append(lines, fmt.Sprintf("%04d %s", i, line))
	}
	out := n.Normalize(strings.Join(lines, "\n"))

	assert.True(t, strings.HasPrefix(out, "0000 "))
	assert.True(t, strings.HasSuffix(out, "1999 "+line))
	assert.Contains(t, out, "... [400 lines omitted] ...")
	assert.NotContains(t, out, "1000 "+line)
	assert.Less(t, len(out), 2000*1005)
}

func TestNormalizeTruncatesShortLogToEightyPercent(t *testing.T) {
	n := New(Options{MaxSizeMB: 1, Truncate: true})
	big := strings.Repeat("y", 300*1024)
	in := strings.Join([]string{"a" + big, "b" + big, "c" + big, "d" + big, "e" + big}, "\n")

	out := n.Normalize(in)
	assert.True(t, strings.HasPrefix(out, "a"))
	assert.Contains(t, out, "\nd")
	assert.NotContains(t, out, "\ne")
	assert.NotContains(t, out, "omitted")
}

func TestNormalizeNoTruncateKeepsEverything(t *testing.T) {
	n := New(Options{MaxSizeMB: 1, Truncate: false})
	in := strings.Repeat("z", 2*1024*1024)
	assert.Len(t, n.Normalize(in), len(in))
}

func TestNormalizeRemovesTimestamps(t *testing.T) {
	n := New(Options{RemoveTimestamps: true})
	in := strings.Join([]string{
		"2024-05-01T10:20:30.123Z ERROR iso",
		"2024-05-01 10:20:30+02:00 WARN iso-space",
		`127.0.0.1 - - [01/May/2024:10:20:30 +0000] "GET /"`,
		"May  1 10:20:30 host sshd: failed",
	}, "\n")

	out := n.Normalize(in)
	require.NotContains(t, out, "10:20:30")
	assert.Contains(t, out, " ERROR iso")
	assert.Contains(t, out, "host sshd: failed")
}

func TestComputeStats(t *testing.T) {
	s := ComputeStats("요약\n\nline")
	assert.Equal(t, Stats{TotalLines: 3, TotalBytes: len("요약\n\nline"), TotalChars: 8, NonEmptyLines: 2}, s)
}
