package common

import (
	"strings"
	"time"
)

// SolrTimeFormat is the date format the search index accepts
const SolrTimeFormat = "2006-01-02T15:04:05Z"

// FormatUTC renders a time in the search index date format
func FormatUTC(t time.Time) string {
	return t.UTC().Format(SolrTimeFormat)
}

// NormalizeText collapses extracted page text into single-spaced phrases.
// Each line is trimmed, runs of two or more spaces split phrases, and the
// surviving phrases are joined with " \n " so chunk boundaries stay visible.
func NormalizeText(s string) string {
	text := strings.ReplaceAll(strings.TrimSpace(s), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var phrases []string
	for _, line := range strings.Split(text, "\n") {
		for _, phrase := range strings.Split(strings.TrimSpace(line), "  ") {
			phrase = strings.TrimSpace(phrase)
			if phrase != "" {
				phrases = append(phrases, phrase)
			}
		}
	}
	return strings.Join(phrases, " \n ")
}
