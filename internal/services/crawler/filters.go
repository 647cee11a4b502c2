package crawler

import (
	"regexp"
	"strings"

	"github.com/ternarybob/indago/internal/models"
)

// ignoredExtensions lists suffixes never worth fetching. rss and xml stay
// fetchable so web feeds and sitemaps can be indexed.
var ignoredExtensions = []string{
	// archives
	"7z", "7zip", "apk", "bz2", "dmg", "iso", "tar", "tar.gz", "rar", "zip", "gz", "jar", "cbr",
	// images
	"cdr", "ico", "mng", "pct", "bmp", "gif", "jpg", "jpeg", "png", "pst", "psp", "tif", "tiff",
	"ai", "drw", "dxf", "eps", "ps", "svg",
	// office
	"pdf", "doc", "docx", "odt", "ods", "odg", "odp", "ppt", "pptx", "xls", "xlsx",
	// audio and video
	"m4a", "m4v", "flv", "mp3", "mp4", "wav", "wma", "ogg", "avi", "mov", "asf", "mpeg", "mpg",
	"webm", "qt", "rm", "swf", "wmv",
	// other binary and styling
	"json", "css", "exe", "bin", "less",
}

// Social share links multiply one page into many URLs with no content of
// their own.
var shareLinkPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\?share=pinterest`),
	regexp.MustCompile(`\?share=tumblr`),
}

var extensionWildcard = regexp.MustCompile(`^\*\.(\w+)$`)

// denyFilters compiles the URL filters one crawl runs with: the fixed
// extension blacklist, the share-link patterns and the site's own path
// exclusions. A `*.ext` exclusion extends the extension blacklist;
// any other value excludes URLs containing it.
func denyFilters(site *models.SiteConfig) []*regexp.Regexp {
	extensions := make([]string, 0, len(ignoredExtensions)+2)
	extensions = append(extensions, ignoredExtensions...)

	filters := make([]*regexp.Regexp, 0, len(shareLinkPatterns)+len(site.Exclusions)+1)
	filters = append(filters, shareLinkPatterns...)

	for _, exclusion := range site.Exclusions {
		if exclusion.Type != models.FilterTypePath {
			continue
		}
		value := strings.TrimSpace(exclusion.Value)
		if value == "" {
			continue
		}
		if m := extensionWildcard.FindStringSubmatch(value); m != nil {
			extensions = append(extensions, m[1])
			continue
		}
		filters = append(filters, regexp.MustCompile(regexp.QuoteMeta(value)))
	}

	quoted := make([]string, len(extensions))
	for i, ext := range extensions {
		quoted[i] = regexp.QuoteMeta(ext)
	}
	return append(filters, regexp.MustCompile(`(?i)\.(?:`+strings.Join(quoted, "|")+`)$`))
}
