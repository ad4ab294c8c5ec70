package scraper

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"permitwatch/internal/config"
)

// Details holds the fields parsed from one permit detail page.
type Details struct {
	PermitNumber string
	Address      string
	Owner        string
	RawText      string
}

// Link is one collected result anchor. The label doubles as the permit
// number when the detail page yields none.
type Link struct {
	Label string
	Href  string
}

// CollectLinks extracts permit detail links from a results page in DOM order.
// When the configured results selector matches nothing the whole page's
// anchors are considered, which keeps the scrape alive across site redesigns.
// Anchors without a visible label, fragment-only and javascript: hrefs are
// dropped; the rest are resolved against pageURL.
func CollectLinks(doc *goquery.Document, pageURL, resultsSelector string) []Link {
	base, err := url.Parse(pageURL)
	if err != nil {
		base = nil
	}

	anchors := doc.Find(resultsSelector)
	if resultsSelector == "" || anchors.Length() == 0 {
		anchors = doc.Find("a")
	}

	var links []Link
	anchors.Each(func(_ int, sel *goquery.Selection) {
		label := strings.TrimSpace(sel.Text())
		if label == "" {
			return
		}
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return
		}
		if base != nil {
			if ref, err := url.Parse(href); err == nil {
				href = base.ResolveReference(ref).String()
			}
		}
		links = append(links, Link{Label: label, Href: href})
	})
	return links
}

// NextTarget identifies the pagination control to click: either a CSS
// selector or a visible label.
type NextTarget struct {
	Selector string
	Text     string
}

// FindNextTarget locates an enabled next-page control. Candidate selectors
// are tried first, then text labels; a candidate that exists but is disabled
// is skipped in favor of the next one.
func FindNextTarget(doc *goquery.Document, controls, texts []string) (NextTarget, bool) {
	for _, selector := range controls {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 || isDisabled(sel) {
			continue
		}
		return NextTarget{Selector: selector}, true
	}
	for _, text := range texts {
		found := false
		doc.Find("a").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			if !strings.EqualFold(strings.TrimSpace(sel.Text()), text) {
				return true
			}
			if isDisabled(sel) {
				return true
			}
			found = true
			return false
		})
		if found {
			return NextTarget{Text: text}, true
		}
	}
	return NextTarget{}, false
}

func isDisabled(sel *goquery.Selection) bool {
	aria := strings.ToLower(strings.TrimSpace(sel.AttrOr("aria-disabled", "")))
	if aria == "true" || aria == "disabled" {
		return true
	}
	if _, ok := sel.Attr("disabled"); ok {
		return true
	}
	return strings.Contains(sel.AttrOr("class", ""), "disabled")
}

// ParseDetails extracts the permit fields from a detail page using the
// configured selector candidates, first match wins.
func ParseDetails(html string, selectors config.SelectorConfig) (Details, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Details{}, err
	}
	d := Details{
		PermitNumber: firstText(doc, selectors.PermitNumberFields),
		Address:      firstText(doc, selectors.AddressFields),
		Owner:        firstText(doc, selectors.OwnerFields),
	}
	doc.Find("script, style, noscript").Remove()
	d.RawText = collapseSpace(doc.Find("body").Text())
	return d, nil
}

func firstText(doc *goquery.Document, candidates []string) string {
	for _, selector := range candidates {
		if text := strings.TrimSpace(doc.Find(selector).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
