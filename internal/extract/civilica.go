// Package extract implements the site-specific field extraction behind the
// crawler.Extractor interface. All selector knowledge lives here so the
// crawl engine stays markup-agnostic.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/civicrawl/civicrawl/internal/crawler"
)

var ordinalPrefix = regexp.MustCompile(`^\d+\.\s*`)

// Civilica extracts listing references and article fields from civilica.com
// markup. Missing structure degrades to empty fields; it never fails on
// well-formed HTML that simply lacks the expected elements.
type Civilica struct {
	base *url.URL
}

// NewCivilica builds an extractor resolving relative links against baseURL.
func NewCivilica(baseURL string) (*Civilica, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}
	return &Civilica{base: base}, nil
}

// ListingRefs returns the items referenced on one listing page. An empty
// slice signals the end of the collection's pagination.
func (c *Civilica) ListingRefs(content []byte, _ crawler.CollectionID) ([]crawler.ItemRef, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}

	var refs []crawler.ItemRef
	doc.Find("ul#articleLists li").Each(func(_ int, li *goquery.Selection) {
		a := li.Find("h2 a").First()
		href, ok := a.Attr("href")
		if !ok || href == "" {
			return
		}
		title := ordinalPrefix.ReplaceAllString(strings.TrimSpace(a.Text()), "")
		refs = append(refs, crawler.ItemRef{
			Title: title,
			URL:   c.absolute(href),
		})
	})
	return refs, nil
}

// ItemFields extracts the structured record from an article page. DOM
// fields take precedence; gaps are backfilled from the citation text.
func (c *Civilica) ItemFields(content []byte, ref crawler.ItemRef, id crawler.CollectionID) (crawler.ItemRecord, error) {
	record := crawler.ItemRecord{
		CollectionID: id,
		Title:        ref.Title,
		URL:          ref.URL,
		AuthorsMap:   map[string]string{},
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return record, fmt.Errorf("parse article: %w", err)
	}

	record.Abstract = strings.TrimSpace(doc.Find("div.prose.max-w-none.my-6.text-color-black.text-justify > div").First().Text())
	record.Citation = strings.TrimSpace(doc.Find("blockquote.container.mx-auto.mb-8 p").First().Text())

	doc.Find("div.my-2.flex.flex-row.items-center").Each(func(_ int, block *goquery.Selection) {
		name := strings.TrimSpace(block.Find("div.flex.flex-col > a").First().Text())
		if name == "" {
			return
		}
		place := strings.TrimSpace(block.Find("div.flex.flex-col > p").First().Text())
		if _, seen := record.AuthorsMap[name]; !seen {
			record.AuthorNames = append(record.AuthorNames, name)
		}
		record.AuthorsMap[name] = place
	})
	record.Authors = strings.Join(record.AuthorNames, ", ")

	record.ViewCount = extractViewCount(doc)
	record.Keywords = extractKeywords(doc)

	details := parseCitationDetails(record.Citation)
	if record.Authors == "" {
		record.Authors = details.Authors
	}
	if record.Keywords == "" {
		record.Keywords = details.Keywords
	}
	if record.ViewCount == "" || record.ViewCount == "0" {
		if details.ViewCount != "" {
			record.ViewCount = details.ViewCount
		}
	}
	record.CollectionName = details.Collection
	record.Year = details.Year
	record.PageCount = details.PageCount

	return record, nil
}

var digits = regexp.MustCompile(`(\d+)`)

func extractViewCount(doc *goquery.Document) string {
	text := strings.TrimSpace(doc.Find("span.text-color-muted").First().Text())
	if m := digits.FindString(text); m != "" {
		return m
	}
	return "0"
}

// extractKeywords pulls the keyword list from the tag container block; the
// container is identified by its utility-class combination.
func extractKeywords(doc *goquery.Document) string {
	container := doc.Find("div.text-color-base.pt-2.p-4.my-4.bg-white.border.rounded").First()
	if container.Length() == 0 {
		return ""
	}
	var keywords []string
	container.Find("div").Each(func(_ int, kw *goquery.Selection) {
		if text := strings.TrimSpace(kw.Text()); text != "" {
			keywords = append(keywords, text)
		}
	})
	return strings.Join(keywords, ", ")
}

func (c *Civilica) absolute(href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return c.base.ResolveReference(ref).String()
}
