package parser

import (
	"strings"
	"time"

	"github.com/ternarybob/indago/internal/common"
)

// dateLayouts covers the date formats small personal sites actually emit in
// meta tags and Last-Modified headers. Layouts without a zone are read as
// UTC. Single-digit day variants are listed separately because the padded
// layouts reject them.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	time.RFC850,
	time.ANSIC,
	"2 January 2006",
	"02 Jan 2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2006/01/02",
}

// ParseDateToUTC parses a date string of unknown format and renders it in
// the index date format. The second return is false when no known layout
// matches, so callers can leave the field unset rather than index noise.
func ParseDateToUTC(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return common.FormatUTC(t), true
		}
	}
	return "", false
}
