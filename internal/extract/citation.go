package extract

import (
	"regexp"
	"strings"
)

// citationDetails holds the fields recoverable from the Persian citation
// sentence when the dedicated DOM blocks are absent.
type citationDetails struct {
	Authors    string
	Collection string
	Year       string
	Keywords   string
	ViewCount  string
	PageCount  string
}

var (
	citAuthors   = regexp.MustCompile(`نوشته شده توسط(.*?)نویسنده مسئول`)
	citComittee  = regexp.MustCompile(`کمیته علمی (.*?) پذیرفته شده است`)
	citYear      = regexp.MustCompile(`در سال (\d{4})`)
	citViewCount = regexp.MustCompile(`تاکنون (\d+) بار`)
	citPageCount = regexp.MustCompile(`با (\d+) صفحه`)
)

const (
	keywordsMarker    = "کلمات کلیدی"
	keywordsEndMarker = "هستند"
)

func parseCitationDetails(text string) citationDetails {
	var d citationDetails
	if text == "" {
		return d
	}
	if m := citAuthors.FindStringSubmatch(text); m != nil {
		d.Authors = strings.TrimSpace(m[1])
	}
	if m := citComittee.FindStringSubmatch(text); m != nil {
		d.Collection = strings.TrimSpace(m[1])
	}
	if m := citYear.FindStringSubmatch(text); m != nil {
		d.Year = m[1]
	}
	if idx := strings.Index(text, keywordsMarker); idx >= 0 {
		part := text[idx+len(keywordsMarker):]
		if end := strings.Index(part, keywordsEndMarker); end >= 0 {
			d.Keywords = strings.TrimSpace(part[:end])
		}
	}
	if m := citViewCount.FindStringSubmatch(text); m != nil {
		d.ViewCount = m[1]
	}
	if m := citPageCount.FindStringSubmatch(text); m != nil {
		d.PageCount = m[1]
	}
	return d
}
