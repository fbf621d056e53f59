package normalizer

import (
	"sort"
	"strings"

	"github.com/EvnyaGH/NewsAICopy/feed"
	"github.com/EvnyaGH/NewsAICopy/types"
)

const pdfMIME = "application/pdf"

var affiliationKeys = []string{"arxiv:affiliation", "affiliation"}

// ExtractAuthors returns the ordered author list and the sorted set of
// distinct affiliations. Author nodes that are not elements are skipped.
func ExtractAuthors(entry feed.Map) ([]types.Author, []string) {
	var authors []types.Author
	seen := map[string]struct{}{}

	for _, node := range feed.EnsureList(entry["author"]) {
		author, ok := node.(feed.Map)
		if !ok {
			continue
		}
		name, _ := feed.Child(author, "name")

		var affiliation *string
		for _, key := range affiliationKeys {
			raw, present := author[key]
			if !present {
				continue
			}
			if aff, ok := feed.AsString(raw); ok && aff != "" {
				affiliation = &aff
				seen[aff] = struct{}{}
			}
			break
		}

		authors = append(authors, types.Author{Name: collapseSpace(name), Affiliation: affiliation})
	}

	affiliations := make([]string, 0, len(seen))
	for aff := range seen {
		affiliations = append(affiliations, aff)
	}
	sort.Strings(affiliations)

	return authors, affiliations
}

// ExtractCategories returns the primary category and every category term in
// document order. The primary is prepended when the list does not already hold it.
func ExtractCategories(entry feed.Map) (string, []string) {
	terms := []string{}
	for _, node := range feed.EnsureList(entry["category"]) {
		if term, ok := feed.Attr(node, "term"); ok {
			terms = append(terms, term)
		}
	}

	primary, _ := feed.Attr(entry["arxiv:primary_category"], "term")
	if primary != "" && !contains(terms, primary) {
		terms = append([]string{primary}, terms...)
	}
	return primary, terms
}

// ExtractLinks returns every link that has an href, the abstract page URL
// (rel=alternate, no type, pointing at arxiv.org/abs/) and the PDF URL
// (rel=related, type application/pdf).
func ExtractLinks(entry feed.Map) (links []types.Link, absURL, pdfURL string) {
	links = []types.Link{}
	for _, node := range feed.EnsureList(entry["link"]) {
		if _, ok := node.(feed.Map); !ok {
			continue
		}
		rel, _ := feed.Attr(node, "rel")
		typ, _ := feed.Attr(node, "type")
		href, _ := feed.Attr(node, "href")

		if href != "" {
			links = append(links, types.Link{Rel: rel, Type: typ, Href: href})
		}
		if rel == "alternate" && typ == "" && href != "" && strings.Contains(href, "arxiv.org/abs/") {
			absURL = href
		}
		if rel == "related" && typ == pdfMIME {
			pdfURL = href
		}
	}
	return links, absURL, pdfURL
}

// FallbackPDFURL returns the href of the first link typed application/pdf.
func FallbackPDFURL(entry feed.Map) string {
	for _, node := range feed.EnsureList(entry["link"]) {
		if typ, _ := feed.Attr(node, "type"); typ == pdfMIME {
			href, _ := feed.Attr(node, "href")
			return href
		}
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
