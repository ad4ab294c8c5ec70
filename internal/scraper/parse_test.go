package scraper

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"permitwatch/internal/config"
)

func parseDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestCollectLinksWithResultsSelector(t *testing.T) {
	doc := parseDoc(t, `<html><body>
<table id="ctl00_PlaceHolderMain_dgvPermitList_gdvPermitList">
<tr><td><a href="CapDetail.aspx?capID1=24CAP">2024-LOG-0001</a></td></tr>
<tr><td><a href="/DENVER/Cap/CapDetail.aspx?capID1=25CAP">2024-LOG-0002</a></td></tr>
<tr><td><a href="javascript:__doPostBack('grid','Sort')">Sort</a></td></tr>
<tr><td><a href="#top">Top</a></td></tr>
</table>
<a href="/DENVER/Welcome.aspx">Home</a>
</body></html>`)

	links := CollectLinks(doc,
		"https://aca-prod.accela.com/DENVER/Cap/CapHome.aspx?module=Development",
		"#ctl00_PlaceHolderMain_dgvPermitList_gdvPermitList td a")

	assert.Equal(t, []Link{
		{Label: "2024-LOG-0001", Href: "https://aca-prod.accela.com/DENVER/Cap/CapDetail.aspx?capID1=24CAP"},
		{Label: "2024-LOG-0002", Href: "https://aca-prod.accela.com/DENVER/Cap/CapDetail.aspx?capID1=25CAP"},
	}, links)
}

func TestCollectLinksFallsBackToAllAnchors(t *testing.T) {
	doc := parseDoc(t, `<html><body>
<div class="results">
<a href="/permit/1">One</a>
<a href="/permit/2">Two</a>
<a href="javascript:void(0)">Noise</a>
</div>
</body></html>`)

	links := CollectLinks(doc, "https://permits.test/search", "#no-such-grid td a")

	assert.Equal(t, []Link{
		{Label: "One", Href: "https://permits.test/permit/1"},
		{Label: "Two", Href: "https://permits.test/permit/2"},
	}, links)
}

func TestCollectLinksDropsUnlabeledAnchors(t *testing.T) {
	doc := parseDoc(t, `<html><body>
<a href="/permit/1"><img src="icon.png"/></a>
<a href="/permit/2">  </a>
<a href="/permit/3">P-3</a>
</body></html>`)

	links := CollectLinks(doc, "https://permits.test/", "")

	assert.Equal(t, []Link{
		{Label: "P-3", Href: "https://permits.test/permit/3"},
	}, links)
}

func TestCollectLinksKeepsDOMOrderAndDuplicates(t *testing.T) {
	doc := parseDoc(t, `<html><body>
<a href="/b">B</a>
<a href="/a">A</a>
<a href="/b">B again</a>
</body></html>`)

	links := CollectLinks(doc, "https://permits.test/", "")

	// Cross-page dedupe happens in the scrape loop, not here.
	assert.Equal(t, []Link{
		{Label: "B", Href: "https://permits.test/b"},
		{Label: "A", Href: "https://permits.test/a"},
		{Label: "B again", Href: "https://permits.test/b"},
	}, links)
}

func TestFindNextTargetPrefersSelectors(t *testing.T) {
	doc := parseDoc(t, `<html><body>
<a aria-label="Next" href="#">&raquo;</a>
<a href="#">Next</a>
</body></html>`)

	target, ok := FindNextTarget(doc,
		[]string{`a[aria-label="Next"]`, `a[title="Next"]`},
		[]string{"Next"})
	require.True(t, ok)
	assert.Equal(t, `a[aria-label="Next"]`, target.Selector)
	assert.Empty(t, target.Text)
}

func TestFindNextTargetSkipsDisabledCandidates(t *testing.T) {
	doc := parseDoc(t, `<html><body>
<a aria-label="Next" class="pager disabled" href="#">&raquo;</a>
<a title="Next" href="#">&raquo;</a>
</body></html>`)

	target, ok := FindNextTarget(doc,
		[]string{`a[aria-label="Next"]`, `a[title="Next"]`},
		nil)
	require.True(t, ok)
	assert.Equal(t, `a[title="Next"]`, target.Selector)
}

func TestFindNextTargetFallsBackToText(t *testing.T) {
	doc := parseDoc(t, `<html><body>
<a href="#"> next </a>
</body></html>`)

	target, ok := FindNextTarget(doc, []string{`a[aria-label="Next"]`}, []string{"Next"})
	require.True(t, ok)
	assert.Empty(t, target.Selector)
	assert.Equal(t, "Next", target.Text)
}

func TestFindNextTargetAllDisabled(t *testing.T) {
	doc := parseDoc(t, `<html><body>
<a aria-label="Next" aria-disabled="true" href="#">&raquo;</a>
<a href="#" class="pager-next disabled">Next</a>
</body></html>`)

	_, ok := FindNextTarget(doc,
		[]string{`a[aria-label="Next"]`},
		[]string{"Next"})
	assert.False(t, ok)
}

func TestParseDetails(t *testing.T) {
	selectors := config.SelectorConfig{
		PermitNumberFields: []string{"#ctl00_PlaceHolderMain_lblCapID", "span.permit-number"},
		AddressFields:      []string{"#ctl00_PlaceHolderMain_lblAddress", "div.address"},
		OwnerFields:        []string{"#ctl00_PlaceHolderMain_lblOwner"},
	}

	d, err := ParseDetails(`<html><body>
<script>var tracking = "ignore me";</script>
<span id="ctl00_PlaceHolderMain_lblCapID"> 2024-LOG-0123456 </span>
<span id="ctl00_PlaceHolderMain_lblAddress">1234 N BROADWAY ST, DENVER CO</span>
<span id="ctl00_PlaceHolderMain_lblOwner">ACME HOLDINGS LLC</span>
<p>Status: Issued</p>
</body></html>`, selectors)
	require.NoError(t, err)

	assert.Equal(t, "2024-LOG-0123456", d.PermitNumber)
	assert.Equal(t, "1234 N BROADWAY ST, DENVER CO", d.Address)
	assert.Equal(t, "ACME HOLDINGS LLC", d.Owner)
	assert.Contains(t, d.RawText, "Status: Issued")
	assert.NotContains(t, d.RawText, "ignore me")
}

func TestParseDetailsFallbackSelectors(t *testing.T) {
	selectors := config.SelectorConfig{
		PermitNumberFields: []string{"#ctl00_PlaceHolderMain_lblCapID", "span.permit-number"},
		AddressFields:      []string{"#ctl00_PlaceHolderMain_lblAddress", "div.address"},
	}

	d, err := ParseDetails(`<html><body>
<span class="permit-number">P-42</span>
<div class="address">500 W COLFAX AVE</div>
</body></html>`, selectors)
	require.NoError(t, err)

	assert.Equal(t, "P-42", d.PermitNumber)
	assert.Equal(t, "500 W COLFAX AVE", d.Address)
	assert.Empty(t, d.Owner)
}

func TestParseDetailsMissingEverything(t *testing.T) {
	d, err := ParseDetails(`<html><body><p>Session expired.</p></body></html>`,
		config.SelectorConfig{
			PermitNumberFields: []string{"#ctl00_PlaceHolderMain_lblCapID"},
		})
	require.NoError(t, err)
	assert.Empty(t, d.PermitNumber)
	assert.Contains(t, d.RawText, "Session expired.")
}
